// Package vision implements the vision-language client. It shares the
// OpenAI chat envelope but sends a two-part content array: text plus a
// base64 data-URL image.
package vision

import (
	"context"
	"encoding/base64"
	"log/slog"

	"github.com/yuancheng-ma/healthfolio/internal/llm/openai"
	"github.com/yuancheng-ma/healthfolio/internal/settings"
)

type Client struct {
	chat *openai.Client
	log  *slog.Logger
}

func NewClient(cfg settings.VLConfig, health settings.HealthConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	chatCfg := settings.LLMConfig{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Provider:  cfg.Provider,
		Timeout:   cfg.Timeout,
	}
	return &Client{
		chat: openai.NewClient(chatCfg, health, log.With("client", "vision")),
		log:  log,
	}
}

// InvokeImage sends the prompt plus one JPEG (already resized by
// PrepareJPEG) and returns the raw assistant text.
func (c *Client) InvokeImage(ctx context.Context, prompt string, jpegData []byte) (string, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegData)
	messages := []map[string]any{
		{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": prompt},
				{
					"type": "image_url",
					"image_url": map[string]any{
						"url":    dataURL,
						"detail": "high",
					},
				},
			},
		},
	}
	return c.chat.InvokeMessages(ctx, messages)
}

func (c *Client) Health(ctx context.Context) bool {
	return c.chat.Health(ctx)
}
