package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yuancheng-ma/healthfolio/constants"
	"github.com/yuancheng-ma/healthfolio/internal/common"
	"github.com/yuancheng-ma/healthfolio/internal/entity"
)

type BatchRepository interface {
	CreateWithItems(ctx context.Context, batch *entity.BatchJob, items []*entity.BatchItem) error
	GetByID(ctx context.Context, userID, batchID uuid.UUID) (*entity.BatchJob, error)
	GetItem(ctx context.Context, itemID uuid.UUID) (*entity.BatchItem, error)
	ListItems(ctx context.Context, batchID uuid.UUID) ([]*entity.BatchItem, error)
	SetStatus(ctx context.Context, batchID uuid.UUID, status constants.BatchStatus) error
	SetItemRefs(ctx context.Context, itemID uuid.UUID, reportID, jobID uuid.UUID) error
	SetItemState(ctx context.Context, itemID uuid.UUID, status constants.JobStatus, errMsg string) error
	// RecomputeCounters re-derives completed/failed counters and the aggregate
	// state from item rows in one transaction.
	RecomputeCounters(ctx context.Context, batchID uuid.UUID) (*entity.BatchJob, error)
}

type batchRepo struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewBatchRepository(db *gorm.DB, log *slog.Logger) BatchRepository {
	if log == nil {
		log = slog.Default()
	}
	return &batchRepo{db: db, log: log}
}

func (r *batchRepo) CreateWithItems(ctx context.Context, batch *entity.BatchJob, items []*entity.BatchItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batch).Error; err != nil {
			return err
		}
		for _, it := range items {
			it.BatchID = batch.ID
		}
		if len(items) > 0 {
			if err := tx.Create(items).Error; err != nil {
				return err
			}
		}
		r.log.Info("batch created", "batch_id", batch.ID, "user_id", batch.UserID, "total_files", batch.TotalFiles)
		return nil
	})
}

func (r *batchRepo) GetByID(ctx context.Context, userID, batchID uuid.UUID) (*entity.BatchJob, error) {
	var batch entity.BatchJob
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("id = ? AND user_id = ?", batchID, userID).
		First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *batchRepo) GetItem(ctx context.Context, itemID uuid.UUID) (*entity.BatchItem, error) {
	var item entity.BatchItem
	err := r.db.WithContext(ctx).Where("id = ?", itemID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *batchRepo) ListItems(ctx context.Context, batchID uuid.UUID) ([]*entity.BatchItem, error) {
	var items []*entity.BatchItem
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("position").
		Find(&items).Error
	return items, err
}

func (r *batchRepo) SetStatus(ctx context.Context, batchID uuid.UUID, status constants.BatchStatus) error {
	return r.db.WithContext(ctx).Model(&entity.BatchJob{}).
		Where("id = ?", batchID).
		Update("status", status).Error
}

func (r *batchRepo) SetItemRefs(ctx context.Context, itemID uuid.UUID, reportID, jobID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&entity.BatchItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{"report_id": reportID, "job_id": jobID}).Error
}

func (r *batchRepo) SetItemState(ctx context.Context, itemID uuid.UUID, status constants.JobStatus, errMsg string) error {
	return r.db.WithContext(ctx).Model(&entity.BatchItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{"status": status, "error_message": errMsg}).Error
}

func (r *batchRepo) RecomputeCounters(ctx context.Context, batchID uuid.UUID) (*entity.BatchJob, error) {
	var batch entity.BatchJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", batchID).First(&batch).Error; err != nil {
			return err
		}
		var completed, failed int64
		if err := tx.Model(&entity.BatchItem{}).
			Where("batch_id = ? AND status = ?", batchID, constants.JobStatusCompleted).
			Count(&completed).Error; err != nil {
			return err
		}
		if err := tx.Model(&entity.BatchItem{}).
			Where("batch_id = ? AND status = ?", batchID, constants.JobStatusFailed).
			Count(&failed).Error; err != nil {
			return err
		}
		batch.CompletedFiles = int(completed)
		batch.FailedFiles = int(failed)
		if batch.IsComplete() {
			batch.Status = constants.BatchStatusCompleted
		} else {
			batch.Status = constants.BatchStatusProcessing
		}
		return tx.Model(&entity.BatchJob{}).Where("id = ?", batchID).
			Updates(map[string]any{
				"completed_files": batch.CompletedFiles,
				"failed_files":    batch.FailedFiles,
				"status":          batch.Status,
			}).Error
	})
	if err != nil {
		r.log.Error("batch counter recompute failed", "batch_id", batchID, "error", err)
		return nil, err
	}
	return &batch, nil
}
