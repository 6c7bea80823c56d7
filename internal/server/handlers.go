package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/brandtone/brandtone/internal/format"
	"github.com/brandtone/brandtone/internal/llm"
	"github.com/brandtone/brandtone/internal/store"
	"github.com/brandtone/brandtone/internal/tone"
	"github.com/brandtone/brandtone/internal/websocket"
	"github.com/gorilla/mux"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

type textRequest struct {
	Text string `json:"text"`
}

type convertRequest struct {
	Text       string `json:"text"`
	Tone       string `json:"tone"`
	ApplyFixes *bool  `json:"apply_fixes,omitempty"`
	RunQA      *bool  `json:"run_qa,omitempty"`
}

type convertResponse struct {
	RequestID       string            `json:"request_id"`
	OriginalText    string            `json:"original_text"`
	ConvertedText   string            `json:"converted_text"`
	TargetTone      string            `json:"target_tone"`
	ToneDescription string            `json:"tone_description,omitempty"`
	Characteristics []string          `json:"characteristics_applied,omitempty"`
	Fixes           *format.FixReport `json:"fixes,omitempty"`
	QA              interface{}       `json:"qa,omitempty"`
	Cached          bool              `json:"cached"`
	ProcessingMS    float64           `json:"processing_ms"`
}

type lintResponse struct {
	RequestID       string                 `json:"request_id"`
	Violations      format.ViolationReport `json:"violations"`
	TotalViolations int                    `json:"total_violations"`
}

type fixResponse struct {
	RequestID    string            `json:"request_id"`
	OriginalText string            `json:"original_text"`
	FixedText    string            `json:"fixed_text"`
	Report       *format.FixReport `json:"report"`
}

type addRuleRequest struct {
	Name        string `json:"name"`
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Description string `json:"description"`
}

type addToneRequest struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Characteristics []string `json:"characteristics"`
	Example         string   `json:"example"`
}

type exportRequest struct {
	Content string `json:"content"`
	Format  string `json:"format"`
}

type statsResponse struct {
	Uptime           string          `json:"uptime"`
	TotalRequests    int64           `json:"total_requests"`
	TotalConversions int64           `json:"total_conversions"`
	TotalViolations  int64           `json:"total_violations"`
	ActiveRules      int             `json:"active_rules"`
	Tones            []string        `json:"tones"`
	WebSocket        wsStats         `json:"websocket"`
	Cache            *llm.CacheStats `json:"cache,omitempty"`
	Store            *store.Stats    `json:"store,omitempty"`
}

type wsStats struct {
	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	TotalBroadcasts   int64 `json:"total_broadcasts"`
}

// writeJSON writes a JSON response with the given status code
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// handleConvert rewrites text into a target tone, then runs the formatting
// cleanup and optional quality analysis over the result
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	toneName := req.Tone
	if toneName == "" {
		toneName = s.config.Tones.Default
	}

	applyFixes := req.ApplyFixes == nil || *req.ApplyFixes
	runQA := s.analyzer != nil && (req.RunQA == nil || *req.RunQA)

	resp := &convertResponse{
		RequestID:    requestID,
		OriginalText: req.Text,
		TargetTone:   toneName,
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(r.Context(), req.Text, toneName, s.client.Model()); ok {
			resp.ConvertedText = cached.ConvertedText
			resp.Cached = true
			if profile, ok := s.registry.Get(toneName); ok {
				resp.ToneDescription = profile.Description
				resp.Characteristics = profile.Characteristics
			}
		}
	}

	if !resp.Cached {
		conversion, err := s.converter.Convert(r.Context(), req.Text, toneName)
		if err != nil {
			if errors.Is(err, tone.ErrUnknownTone) {
				s.writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			log.Error("Conversion failed", zap.Error(err))
			s.writeError(w, http.StatusBadGateway, "conversion failed")
			return
		}

		resp.ConvertedText = conversion.ConvertedText
		resp.ToneDescription = conversion.ToneDescription
		resp.Characteristics = conversion.Characteristics

		if s.cache != nil {
			if err := s.cache.Set(r.Context(), req.Text, &llm.CachedConversion{
				ConvertedText: conversion.ConvertedText,
				TargetTone:    toneName,
				Model:         s.client.Model(),
				CachedAt:      time.Now(),
			}); err != nil {
				log.Warn("Failed to cache conversion", zap.Error(err))
			}
		}
	}

	if applyFixes {
		fixed, report, err := s.Engine().FixViolations(resp.ConvertedText)
		if err != nil {
			log.Error("Fix pass failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "formatting cleanup failed")
			return
		}
		resp.ConvertedText = fixed
		resp.Fixes = report
		atomic.AddInt64(&s.totalViolations, int64(report.ViolationsFound))
	}

	var qaPassed *bool
	var qaAccuracy *float64
	if runQA {
		if profile, ok := s.registry.Get(toneName); ok {
			assessment, err := s.analyzer.Analyze(r.Context(), resp.ConvertedText, profile)
			if err != nil {
				log.Warn("Quality analysis failed", zap.Error(err))
			} else {
				resp.QA = assessment
				if assessment.Raw == "" {
					passed := assessment.Passed
					accuracy := float64(assessment.ToneAccuracy)
					qaPassed = &passed
					qaAccuracy = &accuracy
				}
			}
		}
	}

	atomic.AddInt64(&s.totalConversions, 1)
	resp.ProcessingMS = float64(time.Since(start).Microseconds()) / 1000

	violations, fixesApplied := 0, 0
	var rulesTriggered []string
	if resp.Fixes != nil {
		violations = resp.Fixes.ViolationsFound
		fixesApplied = countFixes(resp.Fixes)
		rulesTriggered = resp.Fixes.RulesTriggered
	}

	if s.store != nil {
		record := &store.Record{
			RequestID:       requestID,
			SourceText:      req.Text,
			ResultText:      resp.ConvertedText,
			Tone:            toneName,
			Model:           s.client.Model(),
			ViolationsFound: violations,
			FixesApplied:    fixesApplied,
			RulesTriggered:  pq.StringArray(rulesTriggered),
			ToneAccuracy:    qaAccuracy,
			QAPassed:        qaPassed,
		}
		if err := s.store.Insert(r.Context(), record); err != nil {
			log.Error("Failed to persist conversion", zap.Error(err))
		}
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeConversion,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data: websocket.ConversionEvent{
			RequestID:       requestID,
			TargetTone:      toneName,
			Model:           s.client.Model(),
			OriginalLength:  len(req.Text),
			ConvertedLength: len(resp.ConvertedText),
			ViolationsFound: violations,
			FixesApplied:    fixesApplied,
			QAPassed:        qaPassed,
			Cached:          resp.Cached,
			ProcessingMS:    resp.ProcessingMS,
		},
	})

	s.writeJSON(w, http.StatusOK, resp)
}

// handleLint reports formatting violations without changing the text
func (s *Server) handleLint(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := getRequestID(r.Context())

	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	report := s.Engine().CheckViolations(req.Text)

	total := 0
	rules := make([]string, 0, len(report))
	for rule, matches := range report {
		total += len(matches)
		rules = append(rules, rule)
	}
	sort.Strings(rules)

	atomic.AddInt64(&s.totalViolations, int64(total))

	if total > 0 {
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeViolationDetection,
			Timestamp: time.Now(),
			RequestID: requestID,
			Data: websocket.ViolationDetectionEvent{
				RequestID:       requestID,
				RulesTriggered:  rules,
				TotalViolations: total,
				Fixed:           false,
				ProcessingMS:    float64(time.Since(start).Microseconds()) / 1000,
			},
		})
	}

	s.writeJSON(w, http.StatusOK, lintResponse{
		RequestID:       requestID,
		Violations:      report,
		TotalViolations: total,
	})
}

// handleFix applies the formatting rules to text and returns the result
func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := getRequestID(r.Context())

	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	fixed, report, err := s.Engine().FixViolations(req.Text)
	if err != nil {
		var fixerErr *format.FixerError
		if errors.As(err, &fixerErr) {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.WithRequestID(requestID).Error("Fix pass failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "fix pass failed")
		return
	}

	atomic.AddInt64(&s.totalViolations, int64(report.ViolationsFound))

	if report.ViolationsFound > 0 {
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeViolationDetection,
			Timestamp: time.Now(),
			RequestID: requestID,
			Data: websocket.ViolationDetectionEvent{
				RequestID:       requestID,
				RulesTriggered:  report.RulesTriggered,
				TotalViolations: report.ViolationsFound,
				Fixed:           true,
				ProcessingMS:    float64(time.Since(start).Microseconds()) / 1000,
			},
		})
	}

	s.writeJSON(w, http.StatusOK, fixResponse{
		RequestID:    requestID,
		OriginalText: req.Text,
		FixedText:    fixed,
		Report:       report,
	})
}

// handleListRules lists the active formatting rules
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules := s.Engine().Rules()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// handleAddRule registers a custom replacement rule
func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var req addRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Pattern == "" {
		s.writeError(w, http.StatusBadRequest, "name and pattern are required")
		return
	}

	err := s.Engine().AddRule(req.Name, req.Pattern, req.Description, format.ReplacementFixer(req.Replacement))
	if err != nil {
		var patternErr *format.InvalidPatternError
		if errors.As(err, &patternErr) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to add rule")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{
		"rule":   req.Name,
		"status": "registered",
	})
}

// handleRemoveRule removes a formatting rule by name
func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if !s.Engine().RemoveRule(name) {
		s.writeError(w, http.StatusNotFound, "unknown rule: "+name)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"rule":   name,
		"status": "removed",
	})
}

// handleListTones lists the registered tone profiles
func (s *Server) handleListTones(w http.ResponseWriter, r *http.Request) {
	profiles := s.registry.List()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tones":   profiles,
		"default": s.config.Tones.Default,
		"count":   len(profiles),
	})
}

// handleAddTone registers a custom tone profile
func (s *Server) handleAddTone(w http.ResponseWriter, r *http.Request) {
	var req addToneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Description == "" {
		s.writeError(w, http.StatusBadRequest, "name and description are required")
		return
	}

	added := s.registry.Add(tone.Profile{
		Name:            req.Name,
		Description:     req.Description,
		Characteristics: req.Characteristics,
		Example:         req.Example,
	})
	if !added {
		s.writeError(w, http.StatusConflict, "tone already exists: "+req.Name)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{
		"tone":   req.Name,
		"status": "registered",
	})
}

// handleGetTone returns a single tone profile
func (s *Server) handleGetTone(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	profile, ok := s.registry.Get(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown tone: "+name)
		return
	}

	s.writeJSON(w, http.StatusOK, profile)
}

// handleHistory returns recent conversions from the history store
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history storage is not enabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	records, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to load history", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": records,
		"count":   len(records),
	})
}

// handleStats returns service, cache, and history statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hubStats := s.wsHub.GetStats()

	resp := statsResponse{
		Uptime:           time.Since(s.startTime).Round(time.Second).String(),
		TotalRequests:    atomic.LoadInt64(&s.totalRequests),
		TotalConversions: atomic.LoadInt64(&s.totalConversions),
		TotalViolations:  atomic.LoadInt64(&s.totalViolations),
		ActiveRules:      len(s.Engine().Rules()),
		Tones:            s.registry.Names(),
		WebSocket: wsStats{
			ActiveConnections: hubStats.ActiveConnections,
			TotalConnections:  hubStats.TotalConnections,
			TotalBroadcasts:   hubStats.TotalBroadcasts,
		},
	}

	if s.cache != nil {
		cacheStats, err := s.cache.Stats(r.Context())
		if err != nil {
			s.logger.Warn("Failed to load cache stats", zap.Error(err))
		} else {
			resp.Cache = cacheStats
		}
	}

	if s.store != nil {
		storeStats, err := s.store.GetStats(r.Context())
		if err != nil {
			s.logger.Warn("Failed to load store stats", zap.Error(err))
		} else {
			resp.Store = storeStats
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleExport writes content to a result file on disk
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		s.writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	path, err := s.exporter.Save(req.Content, req.Format)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

// handleClearCache flushes the conversion cache
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeError(w, http.StatusServiceUnavailable, "conversion cache is not enabled")
		return
	}

	if err := s.cache.Clear(r.Context()); err != nil {
		s.logger.Error("Failed to clear cache", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// countFixes totals the fix entries across all rules in a report
func countFixes(report *format.FixReport) int {
	total := 0
	for _, changes := range report.FixesApplied {
		total += len(changes)
	}
	return total
}
