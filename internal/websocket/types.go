package websocket

import (
	"time"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeConversion represents a completed tone conversion
	EventTypeConversion EventType = "conversion"
	// EventTypeViolationDetection represents formatting violations found in text
	EventTypeViolationDetection EventType = "violation_detection"
	// EventTypeRequestLog represents a request logging event
	EventTypeRequestLog EventType = "request_log"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// ConversionEvent describes a finished tone conversion
type ConversionEvent struct {
	RequestID       string  `json:"request_id"`
	TargetTone      string  `json:"target_tone"`
	Model           string  `json:"model,omitempty"`
	OriginalLength  int     `json:"original_length"`
	ConvertedLength int     `json:"converted_length"`
	ViolationsFound int     `json:"violations_found"`
	FixesApplied    int     `json:"fixes_applied"`
	QAPassed        *bool   `json:"qa_passed,omitempty"`
	Cached          bool    `json:"cached"`
	ProcessingMS    float64 `json:"processing_ms"`
}

// ViolationDetectionEvent describes formatting violations found in a request
type ViolationDetectionEvent struct {
	RequestID       string   `json:"request_id"`
	RulesTriggered  []string `json:"rules_triggered"`
	TotalViolations int      `json:"total_violations"`
	Fixed           bool     `json:"fixed"`
	ProcessingMS    float64  `json:"processing_ms"`
}

// RequestLogEvent represents a request logging event
type RequestLogEvent struct {
	RequestID    string        `json:"request_id"`
	Method       string        `json:"method"`
	Path         string        `json:"path"`
	StatusCode   int           `json:"status_code"`
	ClientIP     string        `json:"client_ip"`
	UserAgent    string        `json:"user_agent,omitempty"`
	Duration     time.Duration `json:"duration"`
	RequestSize  int64         `json:"request_size"`
	ResponseSize int64         `json:"response_size"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalRequests    int64  `json:"total_requests"`
	TotalConversions int64  `json:"total_conversions"`
	TotalViolations  int64  `json:"total_violations"`
	ActiveRules      int    `json:"active_rules"`
	ConnectedClients int    `json:"connected_clients"`
	MemoryUsage      string `json:"memory_usage"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows which events a subscribed client receives
type EventFilter struct {
	Tones []string `json:"tones,omitempty"`
	Rules []string `json:"rules,omitempty"`
}
