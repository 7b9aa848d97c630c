package llm

import "context"

// RawIndicator is one entry in the uniform extraction output schema shared by
// all three workflows.
type RawIndicator struct {
	Indicator     string `json:"indicator"`
	MeasuredValue string `json:"measured_value"`
	NormalRange   string `json:"normal_range,omitempty"`
	Abnormal      string `json:"abnormal,omitempty"`
}

// ExtractedIndicators is the normalized shape we want from the model.
type ExtractedIndicators struct {
	Indicators []RawIndicator `json:"indicators"`
}

// ChatClient is a text-in, text-out model endpoint.
type ChatClient interface {
	Invoke(ctx context.Context, system, user string) (string, error)
	Health(ctx context.Context) bool
}

// VisionClient accepts a prompt plus one JPEG image.
type VisionClient interface {
	InvokeImage(ctx context.Context, prompt string, jpeg []byte) (string, error)
	Health(ctx context.Context) bool
}
