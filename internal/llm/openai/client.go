// Package openai implements the OpenAI-compatible chat client used for both
// indicator extraction and cross-report integration.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yuancheng-ma/healthfolio/internal/common"
	"github.com/yuancheng-ma/healthfolio/internal/settings"
)

const chatCompletionsPath = "/v1/chat/completions"

// Client talks to one OpenAI-compatible endpoint. Construct one per job;
// credentials are read from the settings registry at construction and are
// never cached across jobs.
type Client struct {
	cfg        settings.LLMConfig
	health     settings.HealthConfig
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg settings.LLMConfig, health settings.HealthConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		health:     health,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

// CanonicalURL appends the chat-completions path unless the configured base
// already carries it.
func CanonicalURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.HasSuffix(base, chatCompletionsPath) || strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + chatCompletionsPath
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Invoke sends one system+user exchange and returns the raw assistant text.
func (c *Client) Invoke(ctx context.Context, system, user string) (string, error) {
	if c.cfg.BaseURL == "" {
		return "", common.NewAppErrorf(common.CodeLLMHTTP, "llm endpoint not configured")
	}
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
		MaxTokens:   c.cfg.MaxTokens,
	}
	return c.post(ctx, req)
}

// InvokeMessages sends a caller-assembled message list (used by the vision
// client, which shares the chat envelope).
func (c *Client) InvokeMessages(ctx context.Context, messages []map[string]any) (string, error) {
	if c.cfg.BaseURL == "" {
		return "", common.NewAppErrorf(common.CodeLLMHTTP, "llm endpoint not configured")
	}
	body := map[string]any{
		"model":       c.cfg.Model,
		"messages":    messages,
		"temperature": 0.1,
	}
	if c.cfg.MaxTokens > 0 {
		body["max_tokens"] = c.cfg.MaxTokens
	}
	return c.post(ctx, body)
}

func (c *Client) post(ctx context.Context, body any) (string, error) {
	rid := uuid.New().String()
	endpoint := CanonicalURL(c.cfg.BaseURL)
	start := time.Now()

	c.log.Info("llm.invoke.start", "req_id", rid, "model", c.cfg.Model, "endpoint", endpoint)

	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return "", classifyTransport(ctx.Err())
		}
		text, err := c.doOnce(ctx, endpoint, body)
		if err == nil {
			c.log.Info("llm.invoke.ok", "req_id", rid, "elapsed_ms", time.Since(start).Milliseconds(), "text_len", len(text))
			return text, nil
		}
		lastErr = err
		if !retryable(err) || attempt == c.cfg.MaxRetries {
			break
		}
		sleep := jitter(backoff)
		c.log.Warn("llm.invoke.retry", "req_id", rid, "attempt", attempt+1, "sleep", sleep.String(), "error", err)
		time.Sleep(sleep)
		backoff *= 2
	}
	c.log.Error("llm.invoke.failed", "req_id", rid, "elapsed_ms", time.Since(start).Milliseconds(), "error", lastErr)
	return "", lastErr
}

func (c *Client) doOnce(ctx context.Context, endpoint string, body any) (string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", common.NewAppError(common.CodeLLMHTTP, "read response body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", common.NewAppErrorf(common.CodeLLMHTTP, "llm status %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", common.NewAppError(common.CodeLLMMalformed, "decode chat response", err)
	}
	if len(cc.Choices) == 0 {
		return "", common.NewAppErrorf(common.CodeLLMEmptyChoices, "no choices in chat response")
	}
	return cc.Choices[0].Message.Content, nil
}

// Health probes GET {base}/v1/models with auth and accepts the configured
// status codes (401 counts: the endpoint is alive even if the key is wrong).
func (c *Client) Health(ctx context.Context) bool {
	base := strings.TrimRight(strings.TrimSpace(c.cfg.BaseURL), "/")
	base = strings.TrimSuffix(base, chatCompletionsPath)
	if base == "" {
		return false
	}
	probe, err := url.JoinPath(base, c.health.LLMPath)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.health.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe, nil)
	if err != nil {
		return false
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	for _, ok := range c.health.OKStatuses {
		if resp.StatusCode == ok {
			return true
		}
	}
	return false
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return common.NewAppError(common.CodeLLMTimeout, "llm request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return common.NewAppError(common.CodeLLMTimeout, "llm request timed out", err)
	}
	return common.NewAppError(common.CodeLLMHTTP, "llm transport error", err)
}

// Retry only transport-level failures; a malformed response would cost a new
// model call with the same prompt.
func retryable(err error) bool {
	switch common.CodeOf(err) {
	case common.CodeLLMTimeout:
		return true
	case common.CodeLLMHTTP:
		var ae *common.AppError
		if errors.As(err, &ae) && ae.Cause != nil {
			return true // transport, not status
		}
		return strings.Contains(err.Error(), "status 429") || strings.Contains(err.Error(), "status 5")
	}
	return false
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if base > 10*time.Second {
		base = 10 * time.Second
	}
	delta := 0.2 * base.Seconds()
	v := base.Seconds() - delta + rand.Float64()*2*delta
	return time.Duration(v * float64(time.Second))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
