package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/yuancheng-ma/healthfolio/constants"
	"github.com/yuancheng-ma/healthfolio/internal/common"
	"github.com/yuancheng-ma/healthfolio/internal/entity"
	"github.com/yuancheng-ma/healthfolio/internal/llm"
	"github.com/yuancheng-ma/healthfolio/internal/llm/gemini"
	"github.com/yuancheng-ma/healthfolio/internal/llm/openai"
	"github.com/yuancheng-ma/healthfolio/internal/llm/vision"
	"github.com/yuancheng-ma/healthfolio/internal/ocr"
	"github.com/yuancheng-ma/healthfolio/internal/repository"
	"github.com/yuancheng-ma/healthfolio/internal/settings"
)

// Progress milestones per stage. Readers poll these, so each stage writes
// its entry milestone eagerly and its exit milestone when the stage's work
// is durably recorded.
const (
	progressUploading = 10
	progressOCRStart  = 20
	progressOCRDone   = 40
	progressAIStart   = 50
	progressAIDone    = 70
	progressSaving    = 80
	progressSaved     = 95
)

// ClientFactory builds the external clients for one job from the current
// settings. Tests substitute fakes here.
type ClientFactory func(ctx context.Context, reg *settings.Registry, log *slog.Logger) Clients

// DefaultClientFactory reads endpoint settings and wires the real clients.
// The provider setting switches chat and vision between the
// OpenAI-compatible and Gemini envelopes.
func DefaultClientFactory(ctx context.Context, reg *settings.Registry, log *slog.Logger) Clients {
	health := reg.Health(ctx)

	var chat llm.ChatClient
	llmCfg := reg.LLM(ctx)
	if llmCfg.Provider == "gemini" {
		chat = gemini.NewClient(reg.Gemini(ctx), log)
	} else {
		chat = openai.NewClient(llmCfg, health, log)
	}

	var vis llm.VisionClient
	vlCfg := reg.VL(ctx)
	if vlCfg.Provider == "gemini" {
		vis = gemini.NewClient(reg.Gemini(ctx), log)
	} else {
		vis = vision.NewClient(vlCfg, health, log)
	}

	return Clients{
		OCR:    ocr.NewClient(reg.OCR(ctx), health, log),
		Chat:   chat,
		Vision: vis,
	}
}

// Processor drives one document through its workflow, advancing the job
// state machine as it goes.
type Processor struct {
	jobs       repository.ProcessingJobRepository
	indicators repository.IndicatorRepository
	registry   *settings.Registry
	newClients ClientFactory
	runner     Runner
	tempDir    string
	log        *slog.Logger
}

func NewProcessor(
	jobs repository.ProcessingJobRepository,
	indicators repository.IndicatorRepository,
	registry *settings.Registry,
	factory ClientFactory,
	runner Runner,
	tempDir string,
	log *slog.Logger,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if factory == nil {
		factory = DefaultClientFactory
	}
	if runner == nil {
		runner = NewRunner()
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Processor{
		jobs:       jobs,
		indicators: indicators,
		registry:   registry,
		newClients: factory,
		runner:     runner,
		tempDir:    tempDir,
		log:        log,
	}
}

// Process runs the job to a terminal state. The returned error mirrors what
// FinishFailure recorded; callers running in a worker goroutine typically
// only log it.
func (p *Processor) Process(ctx context.Context, userID, jobID uuid.UUID, filePath string) error {
	start := time.Now()
	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	log := p.log.With("job_id", jobID, "report_id", job.ReportID, "workflow", job.Workflow)

	saved, err := p.run(ctx, log, userID, job, filePath)
	if err != nil {
		log.Warn("job.failed", "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		if ferr := p.jobs.FinishFailure(ctx, jobID, err.Error(), time.Since(start)); ferr != nil {
			log.Error("job.finish_failure.write_failed", "error", ferr)
		}
		return err
	}
	if err := p.jobs.FinishSuccess(ctx, jobID, time.Since(start)); err != nil {
		return err
	}
	log.Info("job.completed", "indicators_saved", saved, "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func (p *Processor) run(ctx context.Context, log *slog.Logger, userID uuid.UUID, job *entity.ProcessingJob, filePath string) (int, error) {
	if err := p.jobs.SetStage(ctx, job.ID, constants.JobStatusUploading, progressUploading); err != nil {
		return 0, err
	}
	if _, err := os.Stat(filePath); err != nil {
		return 0, common.NewAppError(common.CodeBadInput, "uploaded file unavailable", err)
	}

	clients := p.newClients(ctx, p.registry, log)
	knownNames := p.knownIndicatorNames(ctx, userID)

	var extracted *llm.ExtractedIndicators
	var err error
	switch job.Workflow {
	case constants.WorkflowOCRLLM:
		extracted, err = p.runOCRWorkflow(ctx, clients, job, filePath, knownNames, ocr.BackendPipeline)
	case constants.WorkflowVLMTransformers:
		extracted, err = p.runOCRWorkflow(ctx, clients, job, filePath, knownNames, clients.OCR.VLMBackend())
	case constants.WorkflowVLModel:
		extracted, err = p.runVisionWorkflow(ctx, clients, job, filePath, knownNames)
	default:
		return 0, common.NewAppErrorf(common.CodeBadInput, "unknown workflow %q", job.Workflow)
	}
	if err != nil {
		return 0, err
	}

	if err := p.jobs.SetStage(ctx, job.ID, constants.JobStatusSavingData, progressSaving); err != nil {
		return 0, err
	}
	rows, skipped := BuildIndicators(job.ReportID, extracted)
	if err := p.indicators.CreateBatch(ctx, rows); err != nil {
		return 0, err
	}
	if skipped > 0 {
		log.Info("indicators.skipped", "count", skipped)
	}
	if err := p.jobs.SetProgress(ctx, job.ID, progressSaved); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// runOCRWorkflow is both text workflows: parse the document to markdown,
// then have the chat model extract indicators from the text.
func (p *Processor) runOCRWorkflow(ctx context.Context, clients Clients, job *entity.ProcessingJob, filePath string, knownNames []string, backend ocr.Backend) (*llm.ExtractedIndicators, error) {
	if err := p.jobs.SetStage(ctx, job.ID, constants.JobStatusOCRProcessing, progressOCRStart); err != nil {
		return nil, err
	}
	text, err := clients.OCR.ParseFile(ctx, filePath, backend)
	if err != nil {
		return nil, err
	}
	if err := p.jobs.SetOCRText(ctx, job.ID, text); err != nil {
		return nil, err
	}
	if err := p.jobs.SetProgress(ctx, job.ID, progressOCRDone); err != nil {
		return nil, err
	}

	if err := p.jobs.SetStage(ctx, job.ID, constants.JobStatusAIProcessing, progressAIStart); err != nil {
		return nil, err
	}
	raw, err := clients.Chat.Invoke(ctx,
		llm.BuildExtractionSystemPrompt(),
		llm.BuildExtractionUserPrompt(text, knownNames))
	if err != nil {
		return nil, err
	}
	if err := p.storeChatRaw(ctx, job.ID, raw); err != nil {
		return nil, err
	}
	if err := p.jobs.SetProgress(ctx, job.ID, progressAIDone); err != nil {
		return nil, err
	}
	return parseExtraction(raw, p.registry.LLM(ctx).MaxTokens)
}

// runVisionWorkflow sends the document straight to the vision model. Images
// go as a single call; PDFs are rasterized page by page and merged.
func (p *Processor) runVisionWorkflow(ctx context.Context, clients Clients, job *entity.ProcessingJob, filePath string, knownNames []string) (*llm.ExtractedIndicators, error) {
	if err := p.jobs.SetStage(ctx, job.ID, constants.JobStatusAIProcessing, progressAIStart); err != nil {
		return nil, err
	}
	prompt := llm.BuildVisionPrompt(knownNames)
	maxTokens := p.registry.VL(ctx).MaxTokens

	if !constants.IsPDF(filepath.Ext(filePath)) {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, common.NewAppError(common.CodeBadInput, "read image", err)
		}
		jpegData, err := vision.PrepareJPEG(data)
		if err != nil {
			return nil, common.NewAppError(common.CodeBadInput, "prepare image", err)
		}
		raw, err := clients.Vision.InvokeImage(ctx, prompt, jpegData)
		if err != nil {
			return nil, err
		}
		if err := p.storeVisionRaw(ctx, job.ID, map[string]any{"raw": raw, "total_pages": 1}); err != nil {
			return nil, err
		}
		if err := p.jobs.SetProgress(ctx, job.ID, progressAIDone); err != nil {
			return nil, err
		}
		return parseExtraction(raw, maxTokens)
	}

	pageCount, err := PageCount(filePath)
	if err != nil {
		return nil, common.NewAppError(common.CodeBadInput, "unreadable pdf", err)
	}
	p.log.Info("vision.pdf.start", "job_id", job.ID, "pages", pageCount)

	pageDir, err := os.MkdirTemp(p.tempDir, "vl-pages-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(pageDir)

	pages, err := RasterizePDF(ctx, p.runner, filePath, pageDir)
	if err != nil {
		return nil, err
	}

	var rawPages []string
	var perPage [][]llm.RawIndicator
	for i, pagePath := range pages {
		data, err := os.ReadFile(pagePath)
		if err != nil {
			return nil, err
		}
		jpegData, err := vision.PrepareJPEG(data)
		if err != nil {
			return nil, common.NewAppErrorf(common.CodeVLMPDFUnsupported, "page %d unreadable: %v", i+1, err)
		}
		raw, err := clients.Vision.InvokeImage(ctx, prompt, jpegData)
		if err != nil {
			return nil, err
		}
		rawPages = append(rawPages, raw)

		pageResult, err := parseExtraction(raw, maxTokens)
		if err != nil {
			return nil, err
		}
		perPage = append(perPage, pageResult.Indicators)

		// Interpolate within the AI band so multi-page progress moves.
		progress := progressAIStart + (progressAIDone-progressAIStart)*(i+1)/len(pages)
		if err := p.jobs.SetProgress(ctx, job.ID, progress); err != nil {
			return nil, err
		}
	}

	if err := p.storeVisionRaw(ctx, job.ID, map[string]any{"pages": rawPages, "total_pages": len(pages)}); err != nil {
		return nil, err
	}
	return &llm.ExtractedIndicators{Indicators: mergePages(perPage)}, nil
}

// storeChatRaw persists the chat model's raw response for post-mortems,
// wrapped so non-JSON output still stores as a valid JSON column value.
func (p *Processor) storeChatRaw(ctx context.Context, jobID uuid.UUID, raw string) error {
	b, err := json.Marshal(map[string]string{"raw": raw})
	if err != nil {
		return err
	}
	return p.jobs.SetLLMResult(ctx, jobID, b)
}

// storeVisionRaw persists the vision result payload, which always carries
// total_pages alongside the raw response(s).
func (p *Processor) storeVisionRaw(ctx context.Context, jobID uuid.UUID, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.jobs.SetVLMResult(ctx, jobID, b)
}

// knownIndicatorNames returns the user's existing indicator names so prompts
// can ask the model to reuse spellings. Failures here degrade the prompt,
// never the job.
func (p *Processor) knownIndicatorNames(ctx context.Context, userID uuid.UUID) []string {
	const maxNames = 200
	existing, err := p.indicators.ListByUser(ctx, userID, nil, nil)
	if err != nil {
		p.log.Warn("known names lookup failed", "user_id", userID, "error", err)
		return nil
	}
	seen := map[string]struct{}{}
	var names []string
	for _, ind := range existing {
		if _, ok := seen[ind.Name]; ok {
			continue
		}
		seen[ind.Name] = struct{}{}
		names = append(names, ind.Name)
		if len(names) >= maxNames {
			break
		}
	}
	return names
}
