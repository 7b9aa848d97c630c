// Package ocr implements the client for the document-parser service that
// turns PDFs and images into markdown.
package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/yuancheng-ma/healthfolio/internal/common"
	"github.com/yuancheng-ma/healthfolio/internal/settings"
)

// Backend selects the parser engine on the service side.
type Backend string

const (
	BackendPipeline        Backend = "pipeline"
	BackendVLMTransformers Backend = "vlm-transformers"
	BackendVLMMLXEngine    Backend = "vlm-mlx-engine"
)

// Client submits files to the parser and extracts the markdown result.
type Client struct {
	cfg        settings.OCRConfig
	health     settings.HealthConfig
	httpClient *resty.Client
	log        *slog.Logger
}

func NewClient(cfg settings.OCRConfig, health settings.HealthConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)
	return &Client{cfg: cfg, health: health, httpClient: client, log: log}
}

// VLMBackend returns the vision-transformer backend for this host.
func (c *Client) VLMBackend() Backend {
	if c.cfg.MacBackend {
		return BackendVLMMLXEngine
	}
	return BackendVLMTransformers
}

// parseResponse is the service's nested result shape. Older deployments
// return content/text instead of md_content.
type parseResult struct {
	MDContent string `json:"md_content"`
	Content   string `json:"content"`
	Text      string `json:"text"`
}

type parseResponse struct {
	Results map[string]parseResult `json:"results"`
	Content string                 `json:"content"`
	Text    string                 `json:"text"`
}

// ParseFile submits one file and returns the extracted markdown. An HTTP 200
// with no usable text is an OCR_EMPTY failure: some scans contain only image
// references and no recognizable characters.
func (c *Client) ParseFile(ctx context.Context, filePath string, backend Backend) (string, error) {
	if c.cfg.BaseURL == "" {
		return "", common.NewAppErrorf(common.CodeOCRHTTP, "ocr endpoint not configured")
	}

	filename := filepath.Base(filePath)
	c.log.Info("ocr.parse.start", "file", filename, "backend", backend)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFile("files", filePath).
		SetFormData(map[string]string{
			"parse_method":   "auto",
			"lang_list":      "ch",
			"return_md":      "true",
			"formula_enable": "true",
			"table_enable":   "true",
			"backend":        string(backend),
		}).
		Post("/file_parse")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", common.NewAppError(common.CodeOCRTimeout, "ocr request timed out", err)
		}
		return "", common.NewAppError(common.CodeOCRHTTP, "ocr transport error", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", common.NewAppErrorf(common.CodeOCRHTTP, "ocr status %d: %s", resp.StatusCode(), truncate(resp.String(), 512))
	}

	md := extractMarkdown(resp.Body(), filename)
	if strings.TrimSpace(stripImageRefs(md)) == "" {
		return "", common.NewAppErrorf(common.CodeOCREmpty,
			"ocr returned no text for %s: try the vl_model workflow for image-only scans", filename)
	}

	c.log.Info("ocr.parse.ok", "file", filename, "markdown_bytes", len(md))
	return md, nil
}

// extractMarkdown walks the nested response shape with fallbacks. The
// results map is keyed by filename, but some deployments key by the
// server-side name, so any single entry is accepted.
func extractMarkdown(body []byte, filename string) string {
	var pr parseResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return ""
	}
	pick := func(r parseResult) string {
		if r.MDContent != "" {
			return r.MDContent
		}
		if r.Content != "" {
			return r.Content
		}
		return r.Text
	}
	if r, ok := pr.Results[filename]; ok {
		if md := pick(r); md != "" {
			return md
		}
	}
	for _, r := range pr.Results {
		if md := pick(r); md != "" {
			return md
		}
	}
	if pr.Content != "" {
		return pr.Content
	}
	return pr.Text
}

// stripImageRefs removes markdown image references so a page of nothing but
// figures counts as empty.
func stripImageRefs(md string) string {
	var b strings.Builder
	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "![") {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// Health tries the configured probe paths in order and reports the first
// acceptable status.
func (c *Client) Health(ctx context.Context) bool {
	if c.cfg.BaseURL == "" {
		return false
	}
	probe := resty.New().
		SetBaseURL(strings.TrimRight(c.cfg.BaseURL, "/")).
		SetTimeout(c.health.Timeout)
	for _, path := range c.health.OCRPaths {
		resp, err := probe.R().SetContext(ctx).Get(path)
		if err != nil {
			continue
		}
		for _, ok := range c.health.OKStatuses {
			if resp.StatusCode() == ok {
				return true
			}
		}
	}
	return false
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	var t timeout
	return errors.As(err, &t) && t.Timeout()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return fmt.Sprintf("%s...(truncated)", s[:max])
}
