package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yuancheng-ma/healthfolio/constants"
	"github.com/yuancheng-ma/healthfolio/internal/common"
	"github.com/yuancheng-ma/healthfolio/internal/entity"
	"github.com/yuancheng-ma/healthfolio/internal/repository"
)

// Scratch dirs outlive batch completion so failed items stay retryable;
// they are swept once the retention window passes.
const scratchRetention = 7 * 24 * time.Hour

// BatchFile is one file within a batch submission.
type BatchFile struct {
	Filename string
	Data     []byte
}

// BatchUploadRequest groups files that share checkup metadata.
type BatchUploadRequest struct {
	UserID      uuid.UUID
	Name        string
	CheckupDate time.Time
	Institution string
	Files       []BatchFile
}

// RejectedFile reports one file that failed submission-time validation.
type RejectedFile struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// BatchUploadResult is the created batch plus the per-file outcome of
// submission-time validation.
type BatchUploadResult struct {
	Batch    *entity.BatchJob `json:"batch"`
	Accepted []string         `json:"accepted_files"`
	Rejected []RejectedFile   `json:"rejected_files"`
}

// BatchUploadAndProcess validates every file up front, creates the batch
// from the valid ones, and runs the items serially on one queue slot.
// Invalid files are reported in the result but do not block the rest of the
// submission; only a batch with no valid files at all is rejected.
func (s *Service) BatchUploadAndProcess(ctx context.Context, req *BatchUploadRequest) (*BatchUploadResult, error) {
	if req.UserID == uuid.Nil {
		return nil, common.NewAppErrorf(common.CodeBadInput, "missing user id")
	}
	if req.CheckupDate.IsZero() {
		return nil, common.NewAppErrorf(common.CodeBadInput, "missing checkup date")
	}
	if len(req.Files) == 0 {
		return nil, common.NewAppErrorf(common.CodeBadInput, "batch contains no files")
	}
	if len(req.Files) > constants.MaxBatchFiles {
		return nil, common.NewAppErrorf(common.CodeBadInput,
			"batch has %d files, limit is %d", len(req.Files), constants.MaxBatchFiles)
	}

	var accepted []BatchFile
	var rejected []RejectedFile
	for _, f := range req.Files {
		if err := ValidateFile(f.Filename, int64(len(f.Data))); err != nil {
			rejected = append(rejected, RejectedFile{Filename: f.Filename, Reason: err.Error()})
			continue
		}
		accepted = append(accepted, f)
	}
	if len(accepted) == 0 {
		return nil, common.NewAppErrorf(common.CodeBadInput, "no valid files in batch")
	}

	s.SweepStaleScratch(scratchRetention)

	scratch, err := os.MkdirTemp(s.tempDir, "hf-batch-*")
	if err != nil {
		return nil, fmt.Errorf("create batch scratch dir: %w", err)
	}

	acceptedNames := make([]string, 0, len(accepted))
	items := make([]*entity.BatchItem, 0, len(accepted))
	for i, f := range accepted {
		path := filepath.Join(scratch, fmt.Sprintf("%03d%s", i, filepath.Ext(f.Filename)))
		if err := os.WriteFile(path, f.Data, 0o600); err != nil {
			os.RemoveAll(scratch)
			return nil, fmt.Errorf("stage batch file: %w", err)
		}
		acceptedNames = append(acceptedNames, f.Filename)
		items = append(items, &entity.BatchItem{
			Position: i,
			Filename: f.Filename,
			TempPath: path,
			Workflow: s.WorkflowFor(ctx, f.Filename),
			Status:   constants.JobStatusPending,
		})
	}

	batch := &entity.BatchJob{
		UserID:      req.UserID,
		Name:        req.Name,
		CheckupDate: req.CheckupDate,
		Institution: req.Institution,
		TotalFiles:  len(items),
		Status:      constants.BatchStatusPending,
		ScratchDir:  scratch,
	}
	if err := s.batches.CreateWithItems(ctx, batch, items); err != nil {
		os.RemoveAll(scratch)
		return nil, err
	}

	userID, batchID := req.UserID, batch.ID
	err = s.queue.Submit(func(taskCtx context.Context) {
		s.runBatch(taskCtx, userID, batchID)
	})
	if err != nil {
		os.RemoveAll(scratch)
		_ = s.batches.SetStatus(ctx, batch.ID, constants.BatchStatusFailed)
		return nil, err
	}

	s.log.Info("batch.accepted", "batch_id", batch.ID, "files", len(items), "rejected", len(rejected))
	return &BatchUploadResult{Batch: batch, Accepted: acceptedNames, Rejected: rejected}, nil
}

// runBatch processes items one at a time. Item failures are recorded and the
// batch moves on; counters are recomputed after every item so status polling
// sees monotonic progress. Staged files are kept after completion so failed
// items can be retried; the retention sweep removes them later.
func (s *Service) runBatch(ctx context.Context, userID, batchID uuid.UUID) {
	if err := s.batches.SetStatus(ctx, batchID, constants.BatchStatusProcessing); err != nil {
		s.log.Error("batch.start.write_failed", "batch_id", batchID, "error", err)
		_ = s.batches.SetStatus(ctx, batchID, constants.BatchStatusFailed)
		return
	}
	items, err := s.batches.ListItems(ctx, batchID)
	if err != nil {
		s.log.Error("batch.items.read_failed", "batch_id", batchID, "error", err)
		_ = s.batches.SetStatus(ctx, batchID, constants.BatchStatusFailed)
		return
	}

	for _, item := range items {
		s.runBatchItem(ctx, userID, batchID, item)
		if _, err := s.batches.RecomputeCounters(ctx, batchID); err != nil {
			s.log.Error("batch.counters.write_failed", "batch_id", batchID, "error", err)
		}
	}
	s.log.Info("batch.finished", "batch_id", batchID)
}

func (s *Service) runBatchItem(ctx context.Context, userID, batchID uuid.UUID, item *entity.BatchItem) {
	batch, err := s.batches.GetByID(ctx, userID, batchID)
	if err != nil {
		s.failItem(ctx, item.ID, err)
		return
	}

	report, err := s.reports.Create(ctx, &repository.CreateReportRequest{
		UserID:      userID,
		CheckupDate: batch.CheckupDate,
		Institution: batch.Institution,
		FilePath:    item.TempPath,
		Notes:       item.Filename,
	})
	if err != nil {
		s.failItem(ctx, item.ID, err)
		return
	}
	job, err := s.jobs.Start(ctx, report.ID, item.Workflow)
	if err != nil {
		s.failItem(ctx, item.ID, err)
		return
	}
	if err := s.batches.SetItemRefs(ctx, item.ID, report.ID, job.ID); err != nil {
		s.failItem(ctx, item.ID, err)
		return
	}

	if err := s.processor.Process(ctx, userID, job.ID, item.TempPath); err != nil {
		_ = s.batches.SetItemState(ctx, item.ID, constants.JobStatusFailed, err.Error())
		return
	}
	_ = s.batches.SetItemState(ctx, item.ID, constants.JobStatusCompleted, "")
}

func (s *Service) failItem(ctx context.Context, itemID uuid.UUID, cause error) {
	if err := s.batches.SetItemState(ctx, itemID, constants.JobStatusFailed, cause.Error()); err != nil {
		s.log.Error("batch.item.write_failed", "item_id", itemID, "error", err)
	}
}

// RetryBatchItem reruns one failed item on a fresh processing job. The
// report row survives from the first attempt; only the job is replaced.
func (s *Service) RetryBatchItem(ctx context.Context, userID, batchID, itemID uuid.UUID) (*entity.BatchItem, error) {
	batch, err := s.batches.GetByID(ctx, userID, batchID)
	if err != nil {
		return nil, err
	}
	item, err := s.batches.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.BatchID != batch.ID {
		return nil, common.ErrNotFound
	}
	if item.Status != constants.JobStatusFailed {
		return nil, common.NewAppErrorf(common.CodeBadInput, "item is %s, only failed items can be retried", item.Status)
	}
	if item.TempPath == "" {
		return nil, common.NewAppErrorf(common.CodeBadInput, "source file for item %s no longer staged", item.ID)
	}
	if _, err := os.Stat(item.TempPath); err != nil {
		return nil, common.NewAppErrorf(common.CodeBadInput, "source file for item %s no longer staged", item.ID)
	}

	var reportID uuid.UUID
	if item.ReportID != nil {
		reportID = *item.ReportID
		if item.JobID != nil {
			if err := s.jobs.Delete(ctx, *item.JobID); err != nil {
				return nil, err
			}
		}
	} else {
		report, err := s.reports.Create(ctx, &repository.CreateReportRequest{
			UserID:      userID,
			CheckupDate: batch.CheckupDate,
			Institution: batch.Institution,
			FilePath:    item.TempPath,
			Notes:       item.Filename,
		})
		if err != nil {
			return nil, err
		}
		reportID = report.ID
	}

	job, err := s.jobs.Start(ctx, reportID, item.Workflow)
	if err != nil {
		return nil, err
	}
	if err := s.batches.SetItemRefs(ctx, item.ID, reportID, job.ID); err != nil {
		return nil, err
	}
	if err := s.batches.SetItemState(ctx, item.ID, constants.JobStatusPending, ""); err != nil {
		return nil, err
	}

	path := item.TempPath
	err = s.queue.Submit(func(taskCtx context.Context) {
		if perr := s.processor.Process(taskCtx, userID, job.ID, path); perr != nil {
			_ = s.batches.SetItemState(taskCtx, itemID, constants.JobStatusFailed, perr.Error())
		} else {
			_ = s.batches.SetItemState(taskCtx, itemID, constants.JobStatusCompleted, "")
		}
		if _, rerr := s.batches.RecomputeCounters(taskCtx, batchID); rerr != nil {
			s.log.Error("batch.counters.write_failed", "batch_id", batchID, "error", rerr)
		}
	})
	if err != nil {
		_ = s.batches.SetItemState(ctx, item.ID, constants.JobStatusFailed, err.Error())
		return nil, err
	}

	return s.batches.GetItem(ctx, item.ID)
}

// GetBatchStatus returns the batch with its items for the owning user.
func (s *Service) GetBatchStatus(ctx context.Context, userID, batchID uuid.UUID) (*entity.BatchJob, error) {
	return s.batches.GetByID(ctx, userID, batchID)
}

// SweepStaleScratch removes batch scratch directories older than the given
// window and returns how many were removed. Items of a swept batch can no
// longer be retried. Runs on every batch submission; a crash orphans at most
// the dirs the next submission sweeps.
func (s *Service) SweepStaleScratch(olderThan time.Duration) int {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		s.log.Warn("scratch sweep failed", "error", err)
		return 0
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "hf-batch-") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.tempDir, e.Name())); err != nil {
			s.log.Warn("scratch sweep remove failed", "dir", e.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("batch.scratch.swept", "removed", removed)
	}
	return removed
}
