// Package settings is the DB-backed typed configuration store. Admin flows
// write string values; pipeline components read typed bundles with defaults,
// so a missing or malformed key never fails a job.
package settings

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/yuancheng-ma/healthfolio/constants"
	"github.com/yuancheng-ma/healthfolio/internal/entity"
	"github.com/yuancheng-ma/healthfolio/internal/repository"
)

// Recognized setting keys.
const (
	KeyOCRAPIURL      = "mineru_api_url"
	KeyLLMAPIURL      = "llm_api_url"
	KeyLLMAPIKey      = "llm_api_key"
	KeyLLMModelName   = "llm_model_name"
	KeyLLMMaxTokens   = "llm_max_tokens"
	KeyLLMProvider    = "llm_provider"
	KeyVLAPIURL       = "vl_model_api_url"
	KeyVLAPIKey       = "vl_model_api_key"
	KeyVLModelName    = "vl_model_name"
	KeyVLMaxTokens    = "vl_model_max_tokens"
	KeyVLProvider     = "vl_model_provider"
	KeyGeminiAPIKey   = "gemini_api_key"
	KeyGeminiModel    = "gemini_model_name"
	KeyAIModelTimeout = "ai_model_timeout"
	KeyPDFOCRWorkflow = "pdf_ocr_workflow"
	KeyIsMacSystem    = "is_mac_system"
	KeyLLMMaxRetries  = "llm_max_retries"

	KeyOCRHealthPaths    = "ocr_healthcheck_paths"
	KeyLLMHealthPath     = "llm_healthcheck_path"
	KeyHealthOKStatuses  = "healthcheck_ok_statuses"
	KeyHealthTimeoutSecs = "healthcheck_timeout"
)

// Built-in defaults; settings rows override them.
const (
	defaultTimeoutSeconds = 300
	defaultMaxTokens      = 8192
	defaultGeminiModel    = "gemini-2.0-flash"
)

// LLMConfig configures an OpenAI-compatible chat endpoint.
type LLMConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	Provider   string // "openai" or "gemini"
	Timeout    time.Duration
	MaxRetries int
}

// VLConfig configures the vision-language endpoint.
type VLConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Provider  string
	Timeout   time.Duration
}

// OCRConfig configures the document-parser service.
type OCRConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MacBackend  bool // switches vlm backend to vlm-mlx-engine
	PDFWorkflow constants.Workflow
}

// GeminiConfig configures the Google Gemini endpoint.
type GeminiConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// HealthConfig configures service probes.
type HealthConfig struct {
	OCRPaths   []string
	LLMPath    string
	OKStatuses []int
	Timeout    time.Duration
}

// Registry reads and writes settings. Construct one per job so credentials
// are never cached longer than a single pipeline run.
type Registry struct {
	repo repository.SettingRepository
	log  *slog.Logger
}

func NewRegistry(repo repository.SettingRepository, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{repo: repo, log: log}
}

// Get returns the active value for key, or def when the key is missing,
// inactive, or unreadable. Missing keys never error.
func (r *Registry) Get(ctx context.Context, key, def string) string {
	s, err := r.repo.Get(ctx, key)
	if err != nil {
		r.log.Warn("settings read failed, using default", "key", key, "error", err)
		return def
	}
	if s == nil || !s.IsActive || strings.TrimSpace(s.Value) == "" {
		return def
	}
	return s.Value
}

// Set stores key=value with display metadata, reactivating the key.
func (r *Registry) Set(ctx context.Context, key, value, name, description string) error {
	return r.repo.Upsert(ctx, &entity.Setting{
		Key:         key,
		Value:       value,
		Name:        name,
		Description: description,
		IsActive:    true,
	})
}

func (r *Registry) getInt(ctx context.Context, key string, def int) int {
	v := r.Get(ctx, key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.log.Warn("settings value is not an int, using default", "key", key, "value", v)
		return def
	}
	return n
}

func (r *Registry) getBool(ctx context.Context, key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(r.Get(ctx, key, "")))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func (r *Registry) timeout(ctx context.Context) time.Duration {
	secs := r.getInt(ctx, KeyAIModelTimeout, defaultTimeoutSeconds)
	if secs <= 0 {
		secs = defaultTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}

// LLM returns the chat-LLM client configuration.
func (r *Registry) LLM(ctx context.Context) LLMConfig {
	return LLMConfig{
		BaseURL:    r.Get(ctx, KeyLLMAPIURL, ""),
		APIKey:     r.Get(ctx, KeyLLMAPIKey, ""),
		Model:      r.Get(ctx, KeyLLMModelName, ""),
		MaxTokens:  r.getInt(ctx, KeyLLMMaxTokens, defaultMaxTokens),
		Provider:   r.Get(ctx, KeyLLMProvider, "openai"),
		Timeout:    r.timeout(ctx),
		MaxRetries: r.getInt(ctx, KeyLLMMaxRetries, 0),
	}
}

// VL returns the vision model client configuration.
func (r *Registry) VL(ctx context.Context) VLConfig {
	return VLConfig{
		BaseURL:   r.Get(ctx, KeyVLAPIURL, ""),
		APIKey:    r.Get(ctx, KeyVLAPIKey, ""),
		Model:     r.Get(ctx, KeyVLModelName, ""),
		MaxTokens: r.getInt(ctx, KeyVLMaxTokens, defaultMaxTokens),
		Provider:  r.Get(ctx, KeyVLProvider, "openai"),
		Timeout:   r.timeout(ctx),
	}
}

// OCR returns the document-parser client configuration.
func (r *Registry) OCR(ctx context.Context) OCRConfig {
	wf := constants.Workflow(r.Get(ctx, KeyPDFOCRWorkflow, string(constants.WorkflowOCRLLM)))
	if wf != constants.WorkflowOCRLLM && wf != constants.WorkflowVLMTransformers {
		wf = constants.WorkflowOCRLLM
	}
	return OCRConfig{
		BaseURL:     r.Get(ctx, KeyOCRAPIURL, ""),
		Timeout:     r.timeout(ctx),
		MacBackend:  r.getBool(ctx, KeyIsMacSystem, false),
		PDFWorkflow: wf,
	}
}

// Gemini returns the Gemini client configuration.
func (r *Registry) Gemini(ctx context.Context) GeminiConfig {
	return GeminiConfig{
		APIKey:    r.Get(ctx, KeyGeminiAPIKey, ""),
		Model:     r.Get(ctx, KeyGeminiModel, defaultGeminiModel),
		MaxTokens: r.getInt(ctx, KeyLLMMaxTokens, defaultMaxTokens),
		Timeout:   r.timeout(ctx),
	}
}

// Health returns the probe configuration for all external services.
func (r *Registry) Health(ctx context.Context) HealthConfig {
	paths := splitCSV(r.Get(ctx, KeyOCRHealthPaths, "/health,/api/health,/docs,/"))
	var statuses []int
	for _, s := range splitCSV(r.Get(ctx, KeyHealthOKStatuses, "200,401")) {
		if n, err := strconv.Atoi(s); err == nil {
			statuses = append(statuses, n)
		}
	}
	secs := r.getInt(ctx, KeyHealthTimeoutSecs, 10)
	return HealthConfig{
		OCRPaths:   paths,
		LLMPath:    r.Get(ctx, KeyLLMHealthPath, "/v1/models"),
		OKStatuses: statuses,
		Timeout:    time.Duration(secs) * time.Second,
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
