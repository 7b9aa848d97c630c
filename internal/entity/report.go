package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yuancheng-ma/healthfolio/constants"
)

// Report is one uploaded checkup. A report belongs to exactly one user;
// deleting it cascades to its indicators and processing job.
type Report struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	CheckupDate time.Time `gorm:"not null" json:"checkup_date"`
	Institution string    `json:"institution"`
	FilePath    string    `json:"file_path,omitempty"`
	Notes       string    `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Indicators []Indicator `gorm:"foreignKey:ReportID;constraint:OnDelete:CASCADE" json:"indicators,omitempty"`
}

func (r *Report) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Indicator is one structured measurement or finding inside a report.
type Indicator struct {
	ID             uuid.UUID                 `gorm:"type:uuid;primaryKey" json:"id"`
	ReportID       uuid.UUID                 `gorm:"type:uuid;index;not null" json:"report_id"`
	Category       constants.Category        `gorm:"not null" json:"category"`
	Name           string                    `gorm:"not null" json:"name"`
	Value          string                    `json:"value"`
	Unit           string                    `json:"unit,omitempty"`
	ReferenceRange string                    `json:"reference_range,omitempty"`
	Status         constants.IndicatorStatus `gorm:"default:normal" json:"status"`
	CreatedAt      time.Time                 `json:"created_at"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

func (i *Indicator) BeforeCreate(_ *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
