package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yuancheng-ma/healthfolio/internal/common"
	"github.com/yuancheng-ma/healthfolio/internal/entity"
)

// CreateReportRequest wraps parameters for creating a report.
type CreateReportRequest struct {
	UserID      uuid.UUID
	CheckupDate time.Time
	Institution string
	FilePath    string
	Notes       string
}

// ReportRepository is ownership-scoped: every read and write takes the owning
// user id, so cross-user access cannot happen by construction.
type ReportRepository interface {
	Create(ctx context.Context, req *CreateReportRequest) (*entity.Report, error)
	GetByID(ctx context.Context, userID, reportID uuid.UUID) (*entity.Report, error)
	ListByIDs(ctx context.Context, userID uuid.UUID, reportIDs []uuid.UUID) ([]*entity.Report, error)
	ListByUser(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]*entity.Report, error)
	Delete(ctx context.Context, userID, reportID uuid.UUID) error
}

type reportRepo struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewReportRepository(db *gorm.DB, log *slog.Logger) ReportRepository {
	if log == nil {
		log = slog.Default()
	}
	return &reportRepo{db: db, log: log}
}

func (r *reportRepo) Create(ctx context.Context, req *CreateReportRequest) (*entity.Report, error) {
	rep := &entity.Report{
		UserID:      req.UserID,
		CheckupDate: req.CheckupDate,
		Institution: req.Institution,
		FilePath:    req.FilePath,
		Notes:       req.Notes,
	}
	if err := r.db.WithContext(ctx).Create(rep).Error; err != nil {
		r.log.Error("report create failed", "user_id", req.UserID, "error", err)
		return nil, err
	}
	r.log.Info("report created", "report_id", rep.ID, "user_id", req.UserID, "institution", req.Institution)
	return rep, nil
}

func (r *reportRepo) GetByID(ctx context.Context, userID, reportID uuid.UUID) (*entity.Report, error) {
	var rep entity.Report
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", reportID, userID).
		First(&rep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *reportRepo) ListByIDs(ctx context.Context, userID uuid.UUID, reportIDs []uuid.UUID) ([]*entity.Report, error) {
	var reps []*entity.Report
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, reportIDs).
		Find(&reps).Error
	if err != nil {
		r.log.Error("report list by ids failed", "user_id", userID, "error", err)
		return nil, err
	}
	return reps, nil
}

func (r *reportRepo) ListByUser(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]*entity.Report, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if from != nil {
		q = q.Where("checkup_date >= ?", *from)
	}
	if to != nil {
		q = q.Where("checkup_date <= ?", *to)
	}
	var reps []*entity.Report
	if err := q.Order("checkup_date").Find(&reps).Error; err != nil {
		r.log.Error("report list failed", "user_id", userID, "error", err)
		return nil, err
	}
	return reps, nil
}

func (r *reportRepo) Delete(ctx context.Context, userID, reportID uuid.UUID) error {
	// Cascades to indicators and the processing job.
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", reportID, userID).
		Delete(&entity.Report{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return common.ErrNotFound
	}
	return nil
}
