package web

import (
	"net/http"
	"path/filepath"
)

// DashboardPath is where the dashboard page ships, relative to the working directory
const DashboardPath = "web/dashboard.html"

// ServeDashboard serves the dashboard HTML file with caching disabled
func ServeDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	http.ServeFile(w, r, filepath.FromSlash(DashboardPath))
}
