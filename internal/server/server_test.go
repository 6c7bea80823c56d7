package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brandtone/brandtone/internal/config"
	"github.com/brandtone/brandtone/internal/format"
	"github.com/brandtone/brandtone/internal/logger"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	t.Setenv("BRANDTONE_TEST_API_KEY", "test-key")

	cfg := config.GetDefaults()
	cfg.Upstream.BaseURL = "http://upstream.invalid"
	cfg.Upstream.APIKeyEnv = "BRANDTONE_TEST_API_KEY"
	cfg.Upstream.MaxRetries = 1
	cfg.Upstream.RetryDelay = time.Millisecond
	cfg.Upstream.RateLimit.RequestsPerSecond = 0
	cfg.QA.Enabled = false
	cfg.Cache.Enabled = false
	cfg.Store.Enabled = false
	cfg.Server.RateLimit.Enabled = false
	cfg.Export.OutputDir = filepath.Join(t.TempDir(), "results")
	if mutate != nil {
		mutate(cfg)
	}

	server, err := New(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return server
}

// chatUpstream fakes the upstream chat API with a fixed completion
func chatUpstream(t *testing.T, content string) *httptest.Server {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply, _ := json.Marshal(content)
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%s},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`, reply)
	}))
	t.Cleanup(upstream.Close)
	return upstream
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("Health", func(t *testing.T) {
		rec := doRequest(t, s, "GET", "/health", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}

		var body map[string]string
		decodeBody(t, rec, &body)
		if body["status"] != "healthy" {
			t.Errorf("Expected status healthy, got %q", body["status"])
		}
	})

	t.Run("Info", func(t *testing.T) {
		rec := doRequest(t, s, "GET", "/info", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}

		var body struct {
			Name         string `json:"name"`
			DefaultTone  string `json:"default_tone"`
			RulesCount   int    `json:"rules_count"`
			TonesCount   int    `json:"tones_count"`
			QAEnabled    bool   `json:"qa_enabled"`
			CacheEnabled bool   `json:"cache_enabled"`
			StoreEnabled bool   `json:"store_enabled"`
		}
		decodeBody(t, rec, &body)

		if body.Name != "brandtone" {
			t.Errorf("Expected name brandtone, got %q", body.Name)
		}
		if body.DefaultTone != "casual" {
			t.Errorf("Expected default tone casual, got %q", body.DefaultTone)
		}
		if body.RulesCount != 5 {
			t.Errorf("Expected 5 rules, got %d", body.RulesCount)
		}
		if body.TonesCount != 5 {
			t.Errorf("Expected 5 tones, got %d", body.TonesCount)
		}
		if body.QAEnabled || body.CacheEnabled || body.StoreEnabled {
			t.Errorf("Expected qa/cache/store disabled, got %v/%v/%v",
				body.QAEnabled, body.CacheEnabled, body.StoreEnabled)
		}
	})
}

func TestConvertEndpoint(t *testing.T) {
	upstream := chatUpstream(t, "This is AMAZING!!!")
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Upstream.BaseURL = upstream.URL
	})

	t.Run("ConvertWithFixes", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/convert", map[string]string{
			"text": "We released a new feature.",
			"tone": "formal",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp convertResponse
		decodeBody(t, rec, &resp)

		if resp.TargetTone != "formal" {
			t.Errorf("Expected target tone formal, got %q", resp.TargetTone)
		}
		if resp.OriginalText != "We released a new feature." {
			t.Errorf("Original text not echoed back: %q", resp.OriginalText)
		}
		if resp.ConvertedText != "This is Amazing!" {
			t.Errorf("Expected fixed text %q, got %q", "This is Amazing!", resp.ConvertedText)
		}
		if resp.Cached {
			t.Error("Expected cached=false without a cache backend")
		}
		if resp.Fixes == nil {
			t.Fatal("Expected a fix report")
		}
		if resp.Fixes.ViolationsFound != 2 {
			t.Errorf("Expected 2 violations, got %d", resp.Fixes.ViolationsFound)
		}
		if resp.ToneDescription == "" {
			t.Error("Expected a tone description")
		}
		if resp.RequestID == "" {
			t.Error("Expected a request ID")
		}
	})

	t.Run("SkipFixes", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/convert", map[string]interface{}{
			"text":        "We released a new feature.",
			"tone":        "formal",
			"apply_fixes": false,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}

		var resp convertResponse
		decodeBody(t, rec, &resp)

		if resp.ConvertedText != "This is AMAZING!!!" {
			t.Errorf("Expected raw conversion %q, got %q", "This is AMAZING!!!", resp.ConvertedText)
		}
		if resp.Fixes != nil {
			t.Error("Expected no fix report when fixes are skipped")
		}
	})

	t.Run("DefaultTone", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/convert", map[string]string{
			"text": "We released a new feature.",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}

		var resp convertResponse
		decodeBody(t, rec, &resp)
		if resp.TargetTone != "casual" {
			t.Errorf("Expected default tone casual, got %q", resp.TargetTone)
		}
	})

	t.Run("UnknownTone", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/convert", map[string]string{
			"text": "hello",
			"tone": "robotic",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
	})

	t.Run("EmptyText", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/convert", map[string]string{"text": "   "})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
	})

	t.Run("InvalidBody", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/convert", strings.NewReader("not json"))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
	})
}

func TestConvertQA(t *testing.T) {
	var qaModel string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode upstream request: %v", err)
		}

		isAnalysis := false
		for _, m := range req.Messages {
			if m.Role == "user" && strings.Contains(m.Content, "Analyze the following text") {
				isAnalysis = true
			}
		}

		content := "A fine rewrite."
		if isAnalysis {
			qaModel = req.Model
			content = `{"tone_accuracy": 9, "grammar_correctness": "8/10", "strengths": ["clear"], "improvement_areas": [], "forbidden_elements_found": []}`
		}

		reply, _ := json.Marshal(content)
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%s},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`, reply)
	}))
	t.Cleanup(upstream.Close)

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Upstream.BaseURL = upstream.URL
		cfg.QA.Enabled = true
		cfg.QA.Model = "gpt-4o-mini"
	})

	rec := doRequest(t, s, "POST", "/v1/convert", map[string]string{
		"text": "We released a new feature.",
		"tone": "formal",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		QA *struct {
			ToneAccuracy float64 `json:"tone_accuracy"`
			Grammar      float64 `json:"grammar_correctness"`
			Passed       bool    `json:"passed"`
		} `json:"qa"`
	}
	decodeBody(t, rec, &resp)

	if resp.QA == nil {
		t.Fatal("Expected a QA assessment in the response")
	}
	if resp.QA.ToneAccuracy != 9 {
		t.Errorf("Expected tone accuracy 9, got %v", resp.QA.ToneAccuracy)
	}
	if resp.QA.Grammar != 8 {
		t.Errorf("Expected grammar score 8, got %v", resp.QA.Grammar)
	}
	if !resp.QA.Passed {
		t.Error("Expected the assessment to pass")
	}
	if qaModel != "gpt-4o-mini" {
		t.Errorf("Expected QA calls to use gpt-4o-mini, got %q", qaModel)
	}
}

func TestLintEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("Violations", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/lint", map[string]string{
			"text": "HUGE news!!!",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}

		var resp lintResponse
		decodeBody(t, rec, &resp)

		if resp.TotalViolations != 2 {
			t.Errorf("Expected 2 violations, got %d", resp.TotalViolations)
		}
		if len(resp.Violations["all_caps"]) != 1 {
			t.Errorf("Expected 1 all_caps violation, got %d", len(resp.Violations["all_caps"]))
		}
		if len(resp.Violations["multiple_exclamations"]) != 1 {
			t.Errorf("Expected 1 multiple_exclamations violation, got %d",
				len(resp.Violations["multiple_exclamations"]))
		}
	})

	t.Run("Clean", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/lint", map[string]string{
			"text": "All quiet here.",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}

		var resp lintResponse
		decodeBody(t, rec, &resp)
		if resp.TotalViolations != 0 {
			t.Errorf("Expected no violations, got %d", resp.TotalViolations)
		}
	})

	t.Run("EmptyText", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/lint", map[string]string{"text": ""})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
	})
}

func TestFixEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("Fix", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/fix", map[string]string{
			"text": "This is AMAZING!!!",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}

		var resp fixResponse
		decodeBody(t, rec, &resp)

		if resp.FixedText != "This is Amazing!" {
			t.Errorf("Expected %q, got %q", "This is Amazing!", resp.FixedText)
		}
		if resp.OriginalText != "This is AMAZING!!!" {
			t.Errorf("Original text not echoed back: %q", resp.OriginalText)
		}
		if resp.Report == nil || resp.Report.ViolationsFound != 2 {
			t.Errorf("Expected a report with 2 violations, got %+v", resp.Report)
		}
	})

	t.Run("Bullets", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/fix", map[string]string{
			"text": "- first\n* second",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}

		var resp fixResponse
		decodeBody(t, rec, &resp)
		if resp.FixedText != "• first\n• second" {
			t.Errorf("Expected normalized bullets, got %q", resp.FixedText)
		}
	})

	t.Run("EmptyText", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/fix", map[string]string{"text": ""})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
	})
}

func TestRulesEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("List", func(t *testing.T) {
		rec := doRequest(t, s, "GET", "/v1/rules", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}

		var resp struct {
			Rules []format.RuleInfo `json:"rules"`
			Count int               `json:"count"`
		}
		decodeBody(t, rec, &resp)
		if resp.Count != 5 {
			t.Errorf("Expected 5 rules, got %d", resp.Count)
		}
	})

	t.Run("AddAndApply", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/rules", map[string]string{
			"name":        "no_synergy",
			"pattern":     `\bsynergy\b`,
			"replacement": "teamwork",
			"description": "Avoid corporate buzzwords",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}

		rec = doRequest(t, s, "POST", "/v1/fix", map[string]string{
			"text": "Our synergy wins.",
		})
		var resp fixResponse
		decodeBody(t, rec, &resp)
		if resp.FixedText != "Our teamwork wins." {
			t.Errorf("Expected custom rule applied, got %q", resp.FixedText)
		}
	})

	t.Run("AddInvalidPattern", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/rules", map[string]string{
			"name":        "broken",
			"pattern":     "(",
			"replacement": "x",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
	})

	t.Run("AddMissingFields", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/rules", map[string]string{"name": "lonely"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		rec := doRequest(t, s, "DELETE", "/v1/rules/no_synergy", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", rec.Code)
		}

		rec = doRequest(t, s, "DELETE", "/v1/rules/no_synergy", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected status 404 on second delete, got %d", rec.Code)
		}
	})
}

func TestTonesEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("List", func(t *testing.T) {
		rec := doRequest(t, s, "GET", "/v1/tones", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}

		var resp struct {
			Default string `json:"default"`
			Count   int    `json:"count"`
		}
		decodeBody(t, rec, &resp)
		if resp.Default != "casual" {
			t.Errorf("Expected default casual, got %q", resp.Default)
		}
		if resp.Count != 5 {
			t.Errorf("Expected 5 tones, got %d", resp.Count)
		}
	})

	t.Run("Get", func(t *testing.T) {
		rec := doRequest(t, s, "GET", "/v1/tones/formal", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}

		var resp struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		decodeBody(t, rec, &resp)
		if resp.Name != "formal" {
			t.Errorf("Expected formal profile, got %q", resp.Name)
		}
		if resp.Description == "" {
			t.Error("Expected a profile description")
		}
	})

	t.Run("GetUnknown", func(t *testing.T) {
		rec := doRequest(t, s, "GET", "/v1/tones/robotic", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", rec.Code)
		}
	})

	t.Run("Add", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/tones", map[string]interface{}{
			"name":            "pirate",
			"description":     "Talk like a pirate",
			"characteristics": []string{"Nautical vocabulary", "Arrr"},
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("Expected status 201, got %d", rec.Code)
		}

		rec = doRequest(t, s, "GET", "/v1/tones/pirate", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("Expected the new tone to be retrievable, got %d", rec.Code)
		}
	})

	t.Run("AddDuplicate", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/tones", map[string]string{
			"name":        "casual",
			"description": "Already there",
		})
		if rec.Code != http.StatusConflict {
			t.Errorf("Expected status 409, got %d", rec.Code)
		}
	})

	t.Run("AddMissingFields", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/tones", map[string]string{"name": "nameless"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
	})
}

func TestDisabledBackends(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("History", func(t *testing.T) {
		rec := doRequest(t, s, "GET", "/v1/history", nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", rec.Code)
		}
	})

	t.Run("ClearCache", func(t *testing.T) {
		rec := doRequest(t, s, "DELETE", "/v1/cache", nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", rec.Code)
		}
	})
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	doRequest(t, s, "POST", "/v1/lint", map[string]string{"text": "HUGE news!!!"})

	rec := doRequest(t, s, "GET", "/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var resp statsResponse
	decodeBody(t, rec, &resp)

	if resp.TotalRequests < 1 {
		t.Errorf("Expected at least 1 request counted, got %d", resp.TotalRequests)
	}
	if resp.TotalViolations != 2 {
		t.Errorf("Expected 2 violations counted, got %d", resp.TotalViolations)
	}
	if resp.ActiveRules != 5 {
		t.Errorf("Expected 5 active rules, got %d", resp.ActiveRules)
	}
	if len(resp.Tones) != 5 {
		t.Errorf("Expected 5 tones, got %d", len(resp.Tones))
	}
	if resp.Cache != nil || resp.Store != nil {
		t.Error("Expected no cache or store stats when backends are disabled")
	}
}

func TestExportEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("SaveText", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/export", map[string]string{
			"content": "polished copy",
			"format":  "txt",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp map[string]string
		decodeBody(t, rec, &resp)

		data, err := os.ReadFile(resp["path"])
		if err != nil {
			t.Fatalf("Failed to read exported file: %v", err)
		}
		if string(data) != "polished copy" {
			t.Errorf("Expected exported content %q, got %q", "polished copy", string(data))
		}
		if !strings.HasPrefix(filepath.Base(resp["path"]), "brandtone_result_") {
			t.Errorf("Unexpected export filename: %s", resp["path"])
		}
	})

	t.Run("MissingContent", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/export", map[string]string{"format": "txt"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
	})

	t.Run("UnsupportedFormat", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/export", map[string]string{
			"content": "text",
			"format":  "pdf",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimit.Enabled = true
		cfg.Server.RateLimit.RequestsPerMinute = 2
	})

	for i := 0; i < 2; i++ {
		rec := doRequest(t, s, "GET", "/v1/rules", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected request %d to pass, got %d", i+1, rec.Code)
		}
	}

	rec := doRequest(t, s, "GET", "/v1/rules", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429 after limit, got %d", rec.Code)
	}

	// Health stays outside the rate limited API
	rec = doRequest(t, s, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected health to bypass rate limiting, got %d", rec.Code)
	}
}

func TestReloadEngine(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, "POST", "/v1/rules", map[string]string{
		"name":        "no_synergy",
		"pattern":     `\bsynergy\b`,
		"replacement": "teamwork",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", rec.Code)
	}

	if err := s.ReloadEngine(config.EngineConfig{
		Rules:                []string{"all_caps"},
		LongSentenceMaxWords: 30,
	}); err != nil {
		t.Fatalf("Failed to reload engine: %v", err)
	}

	rules := s.Engine().Rules()
	if len(rules) != 1 {
		t.Fatalf("Expected 1 rule after reload, got %d", len(rules))
	}
	if rules[0].Name != "all_caps" {
		t.Errorf("Expected all_caps rule, got %q", rules[0].Name)
	}
}
