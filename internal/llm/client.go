package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/brandtone/brandtone/internal/config"
	"github.com/brandtone/brandtone/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// systemPrompt frames every request sent upstream
const systemPrompt = "You are a professional writer specializing in brand voice adaptation."

// Client talks to an OpenAI-compatible chat completion API
type Client struct {
	baseURL     string
	apiKey      string
	apiKeyEnv   string
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
	retryDelay  time.Duration
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *logger.Logger
}

// New creates an upstream LLM client. A missing API key is not an error
// here, so rule-only deployments can start without credentials; Generate
// fails instead.
func New(cfg config.UpstreamConfig, log *logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("upstream base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("upstream model is required")
	}

	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		log.Warn("Upstream API key not set, generation calls will fail",
			zap.String("env", cfg.APIKeyEnv))
	}

	limit := rate.Inf
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RateLimit.RequestsPerSecond)
	}
	burst := cfg.RateLimit.Burst
	if burst < 1 {
		burst = 1
	}

	client := &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:      apiKey,
		apiKeyEnv:   cfg.APIKeyEnv,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(limit, burst),
		logger:      log,
	}

	log.Info("Upstream LLM client initialized",
		zap.String("base_url", client.baseURL),
		zap.String("model", client.model),
		zap.Float64("requests_per_second", cfg.RateLimit.RequestsPerSecond),
	)

	return client, nil
}

// Model returns the model this client sends requests for
func (c *Client) Model() string {
	return c.model
}

// WithModel returns a copy of the client that targets a different model,
// sharing the underlying connection pool and rate limiter.
func (c *Client) WithModel(model string) *Client {
	if model == "" || model == c.model {
		return c
	}
	clone := *c
	clone.model = model
	return &clone
}

// Generate sends a prompt upstream and returns the completion text
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("upstream api key not set: export %s", c.apiKeyEnv)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying upstream call",
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		content, retryable, err := c.doRequest(ctx, body)
		if err == nil {
			return content, nil
		}

		lastErr = err
		if !retryable {
			return "", err
		}
	}

	return "", fmt.Errorf("upstream call failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// doRequest performs one chat completion round trip. The bool reports
// whether a failure is worth retrying.
func (c *Client) doRequest(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("failed to read upstream response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

		var upstreamErr apiError
		if err := json.Unmarshal(respBody, &upstreamErr); err == nil && upstreamErr.Error.Message != "" {
			return "", retryable, fmt.Errorf("upstream api error (%d): %s", resp.StatusCode, upstreamErr.Error.Message)
		}
		return "", retryable, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", false, fmt.Errorf("failed to decode upstream response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", false, fmt.Errorf("upstream response contained no choices")
	}

	c.logger.Debug("Upstream call complete",
		zap.String("model", c.model),
		zap.Int("total_tokens", chatResp.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), false, nil
}
