package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yuancheng-ma/healthfolio/constants"
	"github.com/yuancheng-ma/healthfolio/internal/common"
	"github.com/yuancheng-ma/healthfolio/internal/entity"
)

// ProcessingJobRepository persists the per-document extraction lifecycle.
// State transitions are written eagerly so status readers observe progress.
type ProcessingJobRepository interface {
	Start(ctx context.Context, reportID uuid.UUID, workflow constants.Workflow) (*entity.ProcessingJob, error)
	GetByID(ctx context.Context, jobID uuid.UUID) (*entity.ProcessingJob, error)
	GetByReport(ctx context.Context, reportID uuid.UUID) (*entity.ProcessingJob, error)
	SetStage(ctx context.Context, jobID uuid.UUID, status constants.JobStatus, progress int) error
	SetProgress(ctx context.Context, jobID uuid.UUID, progress int) error
	SetOCRText(ctx context.Context, jobID uuid.UUID, text string) error
	SetLLMResult(ctx context.Context, jobID uuid.UUID, raw []byte) error
	SetVLMResult(ctx context.Context, jobID uuid.UUID, raw []byte) error
	FinishSuccess(ctx context.Context, jobID uuid.UUID, duration time.Duration) error
	FinishFailure(ctx context.Context, jobID uuid.UUID, message string, duration time.Duration) error
	Delete(ctx context.Context, jobID uuid.UUID) error
}

type processingJobRepo struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewProcessingJobRepository(db *gorm.DB, log *slog.Logger) ProcessingJobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &processingJobRepo{db: db, log: log}
}

func (r *processingJobRepo) Start(ctx context.Context, reportID uuid.UUID, workflow constants.Workflow) (*entity.ProcessingJob, error) {
	now := time.Now()
	job := &entity.ProcessingJob{
		ReportID:  reportID,
		Workflow:  workflow,
		Status:    constants.JobStatusPending,
		Progress:  0,
		StartedAt: &now,
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		r.log.Error("processing_job start failed", "report_id", reportID, "error", err)
		return nil, err
	}
	r.log.Info("processing_job started", "job_id", job.ID, "report_id", reportID, "workflow", workflow)
	return job, nil
}

func (r *processingJobRepo) GetByID(ctx context.Context, jobID uuid.UUID) (*entity.ProcessingJob, error) {
	var job entity.ProcessingJob
	err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *processingJobRepo) GetByReport(ctx context.Context, reportID uuid.UUID) (*entity.ProcessingJob, error) {
	var job entity.ProcessingJob
	err := r.db.WithContext(ctx).Where("report_id = ?", reportID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// SetStage advances the state machine and clears the error message; failures
// are recorded only through FinishFailure.
func (r *processingJobRepo) SetStage(ctx context.Context, jobID uuid.UUID, status constants.JobStatus, progress int) error {
	err := r.db.WithContext(ctx).Model(&entity.ProcessingJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":        status,
			"progress":      progress,
			"error_message": "",
		}).Error
	if err != nil {
		r.log.Error("processing_job stage update failed", "job_id", jobID, "status", status, "error", err)
	}
	return err
}

func (r *processingJobRepo) SetProgress(ctx context.Context, jobID uuid.UUID, progress int) error {
	return r.db.WithContext(ctx).Model(&entity.ProcessingJob{}).
		Where("id = ?", jobID).
		Update("progress", progress).Error
}

func (r *processingJobRepo) SetOCRText(ctx context.Context, jobID uuid.UUID, text string) error {
	return r.db.WithContext(ctx).Model(&entity.ProcessingJob{}).
		Where("id = ?", jobID).
		Update("ocr_text", text).Error
}

func (r *processingJobRepo) SetLLMResult(ctx context.Context, jobID uuid.UUID, raw []byte) error {
	return r.db.WithContext(ctx).Model(&entity.ProcessingJob{}).
		Where("id = ?", jobID).
		Update("llm_result", datatypes.JSON(raw)).Error
}

func (r *processingJobRepo) SetVLMResult(ctx context.Context, jobID uuid.UUID, raw []byte) error {
	return r.db.WithContext(ctx).Model(&entity.ProcessingJob{}).
		Where("id = ?", jobID).
		Update("vlm_result", datatypes.JSON(raw)).Error
}

func (r *processingJobRepo) FinishSuccess(ctx context.Context, jobID uuid.UUID, duration time.Duration) error {
	now := time.Now()
	ms := duration.Milliseconds()
	err := r.db.WithContext(ctx).Model(&entity.ProcessingJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":        constants.JobStatusCompleted,
			"progress":      100,
			"error_message": "",
			"duration_ms":   ms,
			"finished_at":   now,
		}).Error
	if err != nil {
		r.log.Error("processing_job finish(completed) failed", "job_id", jobID, "error", err)
		return err
	}
	r.log.Info("processing_job finished (completed)", "job_id", jobID, "duration_ms", ms)
	return nil
}

func (r *processingJobRepo) FinishFailure(ctx context.Context, jobID uuid.UUID, message string, duration time.Duration) error {
	now := time.Now()
	ms := duration.Milliseconds()
	err := r.db.WithContext(ctx).Model(&entity.ProcessingJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":        constants.JobStatusFailed,
			"error_message": message,
			"duration_ms":   ms,
			"finished_at":   now,
		}).Error
	if err != nil {
		r.log.Error("processing_job finish(failed) failed", "job_id", jobID, "error", err)
		return err
	}
	r.log.Warn("processing_job finished (failed)", "job_id", jobID, "error", message)
	return nil
}

func (r *processingJobRepo) Delete(ctx context.Context, jobID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", jobID).Delete(&entity.ProcessingJob{}).Error
}
