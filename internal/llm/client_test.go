package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brandtone/brandtone/internal/config"
	"github.com/brandtone/brandtone/internal/logger"
)

func testUpstreamConfig(t *testing.T, baseURL string) config.UpstreamConfig {
	t.Helper()
	t.Setenv("BRANDTONE_TEST_API_KEY", "test-key")

	return config.UpstreamConfig{
		BaseURL:     baseURL,
		APIKeyEnv:   "BRANDTONE_TEST_API_KEY",
		Model:       "gpt-4o",
		Temperature: 0.7,
		MaxTokens:   1000,
		Timeout:     5 * time.Second,
		MaxRetries:  2,
		RetryDelay:  time.Millisecond,
	}
}

func chatReply(content string) string {
	return `{"choices":[{"message":{"role":"assistant","content":` + jsonQuote(content) + `},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`
}

func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// TestClient tests the upstream chat client
func TestClient(t *testing.T) {
	t.Run("Generate", func(t *testing.T) {
		var gotReq chatRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/chat/completions" {
				t.Errorf("Unexpected path: %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer test-key" {
				t.Errorf("Unexpected auth header: %s", r.Header.Get("Authorization"))
			}
			if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
				t.Errorf("Failed to decode request: %v", err)
			}
			w.Write([]byte(chatReply("  Hey there! Check this out.  ")))
		}))
		defer server.Close()

		client, err := New(testUpstreamConfig(t, server.URL), logger.Nop())
		if err != nil {
			t.Fatalf("Failed to create client: %v", err)
		}

		content, err := client.Generate(context.Background(), "rewrite this")
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if content != "Hey there! Check this out." {
			t.Errorf("Expected trimmed content, got %q", content)
		}

		if gotReq.Model != "gpt-4o" {
			t.Errorf("Expected model gpt-4o, got %s", gotReq.Model)
		}
		if len(gotReq.Messages) != 2 {
			t.Fatalf("Expected 2 messages, got %d", len(gotReq.Messages))
		}
		if gotReq.Messages[0].Role != "system" || !strings.Contains(gotReq.Messages[0].Content, "brand voice") {
			t.Error("First message should be the brand voice system prompt")
		}
		if gotReq.Messages[1].Role != "user" || gotReq.Messages[1].Content != "rewrite this" {
			t.Error("Second message should carry the prompt")
		}
	})

	t.Run("Generate_APIError", func(t *testing.T) {
		requests := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
		}))
		defer server.Close()

		client, _ := New(testUpstreamConfig(t, server.URL), logger.Nop())

		_, err := client.Generate(context.Background(), "prompt")
		if err == nil {
			t.Fatal("Expected error for unauthorized response")
		}
		if !strings.Contains(err.Error(), "Incorrect API key provided") {
			t.Errorf("Error should carry the upstream message, got: %v", err)
		}
		if requests != 1 {
			t.Errorf("Client errors should not be retried, got %d requests", requests)
		}
	})

	t.Run("Generate_RetriesServerErrors", func(t *testing.T) {
		requests := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			if requests < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(chatReply("recovered")))
		}))
		defer server.Close()

		client, _ := New(testUpstreamConfig(t, server.URL), logger.Nop())

		content, err := client.Generate(context.Background(), "prompt")
		if err != nil {
			t.Fatalf("Generate should recover after retries: %v", err)
		}
		if content != "recovered" {
			t.Errorf("Expected 'recovered', got %q", content)
		}
		if requests != 3 {
			t.Errorf("Expected 3 requests, got %d", requests)
		}
	})

	t.Run("Generate_RetriesExhausted", func(t *testing.T) {
		requests := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client, _ := New(testUpstreamConfig(t, server.URL), logger.Nop())

		_, err := client.Generate(context.Background(), "prompt")
		if err == nil {
			t.Fatal("Expected error after exhausting retries")
		}
		if requests != 3 {
			t.Errorf("Expected initial attempt plus 2 retries, got %d requests", requests)
		}
	})

	t.Run("Generate_NoChoices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		}))
		defer server.Close()

		client, _ := New(testUpstreamConfig(t, server.URL), logger.Nop())

		_, err := client.Generate(context.Background(), "prompt")
		if err == nil || !strings.Contains(err.Error(), "no choices") {
			t.Errorf("Expected no choices error, got: %v", err)
		}
	})

	t.Run("Generate_MissingAPIKey", func(t *testing.T) {
		cfg := testUpstreamConfig(t, "http://localhost:0")
		cfg.APIKeyEnv = "BRANDTONE_TEST_EMPTY_KEY"
		t.Setenv("BRANDTONE_TEST_EMPTY_KEY", "")

		client, err := New(cfg, logger.Nop())
		if err != nil {
			t.Fatalf("Missing key should not fail construction: %v", err)
		}

		_, err = client.Generate(context.Background(), "prompt")
		if err == nil || !strings.Contains(err.Error(), "BRANDTONE_TEST_EMPTY_KEY") {
			t.Errorf("Expected missing key error naming the env var, got: %v", err)
		}
	})

	t.Run("WithModel", func(t *testing.T) {
		var gotModel string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req chatRequest
			json.NewDecoder(r.Body).Decode(&req)
			gotModel = req.Model
			w.Write([]byte(chatReply("ok")))
		}))
		defer server.Close()

		client, _ := New(testUpstreamConfig(t, server.URL), logger.Nop())

		qaClient := client.WithModel("gpt-4o-mini")
		if _, err := qaClient.Generate(context.Background(), "prompt"); err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if gotModel != "gpt-4o-mini" {
			t.Errorf("Expected overridden model, got %s", gotModel)
		}
		if client.Model() != "gpt-4o" {
			t.Error("WithModel should not mutate the original client")
		}
	})

	t.Run("New_Validation", func(t *testing.T) {
		cfg := testUpstreamConfig(t, "")
		if _, err := New(cfg, logger.Nop()); err == nil {
			t.Error("Expected error for missing base URL")
		}

		cfg = testUpstreamConfig(t, "http://localhost:0")
		cfg.Model = ""
		if _, err := New(cfg, logger.Nop()); err == nil {
			t.Error("Expected error for missing model")
		}
	})
}
