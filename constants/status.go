package constants

// JobStatus is the canonical state of a ProcessingJob row.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending       JobStatus = "pending"
	JobStatusUploading     JobStatus = "uploading"
	JobStatusOCRProcessing JobStatus = "ocr_processing"
	JobStatusAIProcessing  JobStatus = "ai_processing"
	JobStatusSavingData    JobStatus = "saving_data"
	JobStatusCompleted     JobStatus = "completed"
	JobStatusFailed        JobStatus = "failed"
)

// Terminal reports whether s is a terminal job state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// BatchStatus is the aggregate state of a BatchJob.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// IndicatorStatus is the per-indicator finding tier.
type IndicatorStatus string

const (
	StatusNormal    IndicatorStatus = "normal"
	StatusAbnormal  IndicatorStatus = "abnormal"
	StatusAttention IndicatorStatus = "attention"
)

func ValidIndicatorStatus(s string) bool {
	switch IndicatorStatus(s) {
	case StatusNormal, StatusAbnormal, StatusAttention:
		return true
	}
	return false
}

// Workflow selects the extraction strategy for one document.
type Workflow string

const (
	WorkflowOCRLLM          Workflow = "ocr_llm"
	WorkflowVLMTransformers Workflow = "vlm_transformers"
	WorkflowVLModel         Workflow = "vl_model"
)

func ValidWorkflow(w string) bool {
	switch Workflow(w) {
	case WorkflowOCRLLM, WorkflowVLMTransformers, WorkflowVLModel:
		return true
	}
	return false
}
