package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yuancheng-ma/healthfolio/internal/entity"
)

type IndicatorRepository interface {
	CreateBatch(ctx context.Context, indicators []*entity.Indicator) error
	ListByReport(ctx context.Context, reportID uuid.UUID) ([]*entity.Indicator, error)
	ListByReports(ctx context.Context, reportIDs []uuid.UUID) ([]*entity.Indicator, error)
	ListByUser(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]*entity.Indicator, error)
	CountByReport(ctx context.Context, reportID uuid.UUID) (int64, error)
}

type indicatorRepo struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewIndicatorRepository(db *gorm.DB, log *slog.Logger) IndicatorRepository {
	if log == nil {
		log = slog.Default()
	}
	return &indicatorRepo{db: db, log: log}
}

func (r *indicatorRepo) CreateBatch(ctx context.Context, indicators []*entity.Indicator) error {
	if len(indicators) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(indicators).Error; err != nil {
		r.log.Error("indicator batch create failed", "count", len(indicators), "error", err)
		return err
	}
	return nil
}

func (r *indicatorRepo) ListByReport(ctx context.Context, reportID uuid.UUID) ([]*entity.Indicator, error) {
	var out []*entity.Indicator
	err := r.db.WithContext(ctx).
		Where("report_id = ?", reportID).
		Order("created_at").
		Find(&out).Error
	return out, err
}

func (r *indicatorRepo) ListByReports(ctx context.Context, reportIDs []uuid.UUID) ([]*entity.Indicator, error) {
	var out []*entity.Indicator
	err := r.db.WithContext(ctx).
		Where("report_id IN ?", reportIDs).
		Order("report_id, created_at").
		Find(&out).Error
	return out, err
}

func (r *indicatorRepo) ListByUser(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]*entity.Indicator, error) {
	q := r.db.WithContext(ctx).
		Joins("JOIN reports ON reports.id = indicators.report_id").
		Where("reports.user_id = ?", userID)
	if from != nil {
		q = q.Where("reports.checkup_date >= ?", *from)
	}
	if to != nil {
		q = q.Where("reports.checkup_date <= ?", *to)
	}
	var out []*entity.Indicator
	err := q.Order("reports.checkup_date, indicators.created_at").Find(&out).Error
	if err != nil {
		r.log.Error("indicator list by user failed", "user_id", userID, "error", err)
		return nil, err
	}
	return out, nil
}

func (r *indicatorRepo) CountByReport(ctx context.Context, reportID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.Indicator{}).
		Where("report_id = ?", reportID).
		Count(&n).Error
	return n, err
}
