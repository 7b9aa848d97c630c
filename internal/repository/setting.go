package repository

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yuancheng-ma/healthfolio/internal/entity"
)

type SettingRepository interface {
	Get(ctx context.Context, key string) (*entity.Setting, error)
	Upsert(ctx context.Context, s *entity.Setting) error
	List(ctx context.Context) ([]*entity.Setting, error)
	Deactivate(ctx context.Context, key string) error
}

type settingRepo struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewSettingRepository(db *gorm.DB, log *slog.Logger) SettingRepository {
	if log == nil {
		log = slog.Default()
	}
	return &settingRepo{db: db, log: log}
}

func (r *settingRepo) Get(ctx context.Context, key string) (*entity.Setting, error) {
	var s entity.Setting
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *settingRepo) Upsert(ctx context.Context, s *entity.Setting) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "name", "description", "is_active", "updated_at"}),
	}).Create(s).Error
	if err != nil {
		r.log.Error("setting upsert failed", "key", s.Key, "error", err)
	}
	return err
}

func (r *settingRepo) List(ctx context.Context) ([]*entity.Setting, error) {
	var out []*entity.Setting
	err := r.db.WithContext(ctx).Order("key").Find(&out).Error
	return out, err
}

func (r *settingRepo) Deactivate(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Model(&entity.Setting{}).
		Where("key = ?", key).
		Update("is_active", false).Error
}
