package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yuancheng-ma/healthfolio/constants"
)

// ProcessingJob tracks the lifecycle of one extraction attempt, 1-1 with a
// report. Only the processing orchestrator mutates it.
type ProcessingJob struct {
	ID           uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	ReportID     uuid.UUID           `gorm:"type:uuid;uniqueIndex;not null" json:"report_id"`
	Workflow     constants.Workflow  `gorm:"not null" json:"workflow"`
	Status       constants.JobStatus `gorm:"not null;default:pending" json:"status"`
	Progress     int                 `gorm:"not null;default:0" json:"progress"`
	OCRText      string              `gorm:"type:text" json:"ocr_text,omitempty"`
	LLMResult    datatypes.JSON      `json:"llm_result,omitempty"`
	VLMResult    datatypes.JSON      `json:"vl_model_result,omitempty"`
	ErrorMessage string              `gorm:"type:text" json:"error_message,omitempty"`
	DurationMS   *int64              `json:"duration_ms,omitempty"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func (j *ProcessingJob) BeforeCreate(_ *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}
