// Package ingest accepts uploaded report files, creates the report and job
// rows, and hands pipeline work to the queue.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/yuancheng-ma/healthfolio/constants"
	"github.com/yuancheng-ma/healthfolio/internal/common"
	"github.com/yuancheng-ma/healthfolio/internal/core"
	"github.com/yuancheng-ma/healthfolio/internal/core/async"
	"github.com/yuancheng-ma/healthfolio/internal/entity"
	"github.com/yuancheng-ma/healthfolio/internal/repository"
	"github.com/yuancheng-ma/healthfolio/internal/settings"
)

// UploadRequest is one file plus its report metadata. Workflow is optional;
// when empty it is chosen from the file type and the pdf workflow setting.
type UploadRequest struct {
	UserID      uuid.UUID
	Filename    string
	Data        []byte
	CheckupDate time.Time
	Institution string
	Notes       string
	Workflow    constants.Workflow
}

// UploadResult identifies the created report and its processing job.
type UploadResult struct {
	ReportID uuid.UUID `json:"report_id"`
	JobID    uuid.UUID `json:"processing_id"`
}

// Service wires uploads into the pipeline.
type Service struct {
	reports   repository.ReportRepository
	jobs      repository.ProcessingJobRepository
	batches   repository.BatchRepository
	registry  *settings.Registry
	processor *core.Processor
	queue     *async.Queue
	tempDir   string
	log       *slog.Logger
}

func NewService(
	reports repository.ReportRepository,
	jobs repository.ProcessingJobRepository,
	batches repository.BatchRepository,
	registry *settings.Registry,
	processor *core.Processor,
	queue *async.Queue,
	tempDir string,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Service{
		reports:   reports,
		jobs:      jobs,
		batches:   batches,
		registry:  registry,
		processor: processor,
		queue:     queue,
		tempDir:   tempDir,
		log:       log,
	}
}

// ValidateFile enforces the per-file upload rules.
func ValidateFile(filename string, size int64) error {
	ext := filepath.Ext(filename)
	if !constants.AllowedExt(ext) {
		return common.NewAppErrorf(common.CodeBadInput, "unsupported file type %q", ext)
	}
	if size <= 0 {
		return common.NewAppErrorf(common.CodeBadInput, "file %s is empty", filename)
	}
	if size > constants.MaxFileSizeBytes {
		return common.NewAppErrorf(common.CodeBadInput,
			"file %s exceeds the %d MiB limit", filename, constants.MaxFileSizeBytes>>20)
	}
	return nil
}

// WorkflowFor picks the extraction workflow from the file type: PDFs follow
// the configured pdf workflow, images always go to the vision model.
func (s *Service) WorkflowFor(ctx context.Context, filename string) constants.Workflow {
	if constants.IsPDF(filepath.Ext(filename)) {
		return s.registry.OCR(ctx).PDFWorkflow
	}
	return constants.WorkflowVLModel
}

// UploadAndProcess validates the file, creates the report and job rows, and
// enqueues the pipeline run. It returns as soon as the job is queued.
func (s *Service) UploadAndProcess(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if req.UserID == uuid.Nil {
		return nil, common.NewAppErrorf(common.CodeBadInput, "missing user id")
	}
	if req.CheckupDate.IsZero() {
		return nil, common.NewAppErrorf(common.CodeBadInput, "missing checkup date")
	}
	if err := ValidateFile(req.Filename, int64(len(req.Data))); err != nil {
		return nil, err
	}
	workflow := req.Workflow
	if workflow == "" {
		workflow = s.WorkflowFor(ctx, req.Filename)
	} else if !constants.ValidWorkflow(string(workflow)) {
		return nil, common.NewAppErrorf(common.CodeBadInput, "unknown workflow %q", workflow)
	}

	path, err := s.stageFile(req.Filename, req.Data)
	if err != nil {
		return nil, err
	}

	report, err := s.reports.Create(ctx, &repository.CreateReportRequest{
		UserID:      req.UserID,
		CheckupDate: req.CheckupDate,
		Institution: req.Institution,
		FilePath:    path,
		Notes:       req.Notes,
	})
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	job, err := s.jobs.Start(ctx, report.ID, workflow)
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	userID, jobID := req.UserID, job.ID
	err = s.queue.Submit(func(taskCtx context.Context) {
		defer os.Remove(path)
		_ = s.processor.Process(taskCtx, userID, jobID, path)
	})
	if err != nil {
		os.Remove(path)
		_ = s.jobs.FinishFailure(ctx, job.ID, err.Error(), 0)
		return nil, err
	}

	s.log.Info("upload.accepted", "report_id", report.ID, "job_id", job.ID, "workflow", workflow)
	return &UploadResult{ReportID: report.ID, JobID: job.ID}, nil
}

// stageFile writes upload bytes to the scratch directory, keeping the
// original extension so workflow dispatch still sees the file type.
func (s *Service) stageFile(filename string, data []byte) (string, error) {
	f, err := os.CreateTemp(s.tempDir, "hf-upload-*"+filepath.Ext(filename))
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("stage upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("stage upload: %w", err)
	}
	return f.Name(), nil
}

// GetProcessingStatus returns the job for a report the user owns.
func (s *Service) GetProcessingStatus(ctx context.Context, userID, reportID uuid.UUID) (*entity.ProcessingJob, error) {
	if _, err := s.reports.GetByID(ctx, userID, reportID); err != nil {
		return nil, err
	}
	return s.jobs.GetByReport(ctx, reportID)
}
