package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yuancheng-ma/healthfolio/constants"
)

// BatchJob groups files submitted together. Counters satisfy
// completed + failed <= total at all times.
type BatchJob struct {
	ID             uuid.UUID             `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID             `gorm:"type:uuid;index;not null" json:"user_id"`
	Name           string                `json:"name,omitempty"`
	CheckupDate    time.Time             `gorm:"not null" json:"checkup_date"`
	Institution    string                `json:"institution"`
	TotalFiles     int                   `gorm:"not null" json:"total_files"`
	CompletedFiles int                   `gorm:"not null;default:0" json:"completed_files"`
	FailedFiles    int                   `gorm:"not null;default:0" json:"failed_files"`
	Status         constants.BatchStatus `gorm:"not null;default:pending" json:"status"`
	ScratchDir     string                `json:"-"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`

	Items []BatchItem `gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

func (b *BatchJob) BeforeCreate(_ *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// IsComplete reports whether every item reached a terminal state.
func (b *BatchJob) IsComplete() bool {
	return b.CompletedFiles+b.FailedFiles >= b.TotalFiles
}

// BatchItem is one file within a batch. The report/job references are filled
// in once the item's pipeline run creates them.
type BatchItem struct {
	ID           uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	BatchID      uuid.UUID           `gorm:"type:uuid;index;not null" json:"batch_id"`
	Position     int                 `gorm:"not null" json:"position"`
	Filename     string              `gorm:"not null" json:"filename"`
	TempPath     string              `json:"-"`
	Workflow     constants.Workflow  `gorm:"not null" json:"workflow"`
	Status       constants.JobStatus `gorm:"not null;default:pending" json:"status"`
	ErrorMessage string              `gorm:"type:text" json:"error_message,omitempty"`
	ReportID     *uuid.UUID          `gorm:"type:uuid" json:"report_id,omitempty"`
	JobID        *uuid.UUID          `gorm:"type:uuid" json:"processing_id,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func (i *BatchItem) BeforeCreate(_ *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
