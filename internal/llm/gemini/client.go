// Package gemini adapts Google's generateContent API to the same
// text+image contract the OpenAI-compatible clients expose.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/yuancheng-ma/healthfolio/internal/common"
	"github.com/yuancheng-ma/healthfolio/internal/settings"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type Client struct {
	cfg        settings.GeminiConfig
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg settings.GeminiConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Invoke sends a text-only generation request.
func (c *Client) Invoke(ctx context.Context, system, user string) (string, error) {
	return c.generate(ctx, []part{{Text: system + "\n\n" + user}})
}

// InvokeImage sends prompt plus one inline JPEG. The image part comes first,
// matching the documented envelope.
func (c *Client) InvokeImage(ctx context.Context, prompt string, jpegData []byte) (string, error) {
	parts := []part{
		{InlineData: &inlineData{MimeType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(jpegData)}},
		{Text: prompt},
	}
	return c.generate(ctx, parts)
}

func (c *Client) generate(ctx context.Context, parts []part) (string, error) {
	if c.cfg.APIKey == "" {
		return "", common.NewAppErrorf(common.CodeLLMHTTP, "gemini api key not configured")
	}
	reqBody := generateRequest{
		Contents: []content{{Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature:     0.1,
			MaxOutputTokens: c.cfg.MaxTokens,
		},
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	// The API key travels as a query parameter, not a header.
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.cfg.Model, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", common.NewAppError(common.CodeLLMTimeout, "gemini request timed out", err)
		}
		return "", common.NewAppError(common.CodeLLMHTTP, "gemini transport error", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", common.NewAppError(common.CodeLLMHTTP, "read gemini response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", common.NewAppErrorf(common.CodeLLMHTTP, "gemini status %d", resp.StatusCode)
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", common.NewAppError(common.CodeLLMMalformed, "decode gemini response", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", common.NewAppErrorf(common.CodeLLMEmptyChoices, "no candidates in gemini response")
	}

	c.log.Debug("gemini.generate.ok", "model", c.cfg.Model, "elapsed_ms", time.Since(start).Milliseconds())
	return gr.Candidates[0].Content.Parts[0].Text, nil
}

// Health asks for the model listing; 200 or 401 both prove the endpoint is
// reachable.
func (c *Client) Health(ctx context.Context) bool {
	endpoint := fmt.Sprintf("%s/models?key=%s", c.baseURL, c.cfg.APIKey)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized
}
