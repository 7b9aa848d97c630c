package repository

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yuancheng-ma/healthfolio/internal/entity"
)

// FieldUpdate is one whitelisted column change for an indicator. Keys are
// the column names: name, value, unit, status, category.
type FieldUpdate struct {
	IndicatorID uuid.UUID
	Fields      map[string]any
}

// IntegrationRepository applies accepted integration changes atomically.
type IntegrationRepository interface {
	// ApplyChanges updates the given indicators in one transaction. Each row
	// is re-checked against the owning user inside the transaction; rows that
	// fail the check or vanished are skipped, not errors.
	ApplyChanges(ctx context.Context, userID uuid.UUID, changes []FieldUpdate) (applied, skipped int, err error)
}

type integrationRepo struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewIntegrationRepository(db *gorm.DB, log *slog.Logger) IntegrationRepository {
	if log == nil {
		log = slog.Default()
	}
	return &integrationRepo{db: db, log: log}
}

func (r *integrationRepo) ApplyChanges(ctx context.Context, userID uuid.UUID, changes []FieldUpdate) (int, int, error) {
	applied, skipped := 0, 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ch := range changes {
			if len(ch.Fields) == 0 {
				skipped++
				continue
			}
			var count int64
			err := tx.Model(&entity.Indicator{}).
				Joins("JOIN reports ON reports.id = indicators.report_id").
				Where("indicators.id = ? AND reports.user_id = ?", ch.IndicatorID, userID).
				Count(&count).Error
			if err != nil {
				return err
			}
			if count == 0 {
				skipped++
				continue
			}
			res := tx.Model(&entity.Indicator{}).
				Where("id = ?", ch.IndicatorID).
				Updates(ch.Fields)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				skipped++
				continue
			}
			applied++
		}
		return nil
	})
	if err != nil {
		r.log.Error("integration apply failed", "user_id", userID, "error", err)
		return 0, 0, err
	}
	r.log.Info("integration applied", "user_id", userID, "applied", applied, "skipped", skipped)
	return applied, skipped, nil
}
