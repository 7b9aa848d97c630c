package llm

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schemas the extractor accepts. We validate model output against these both
// as the ExtractJSON predicate and before decoding into typed structs.
var (
	indicatorsSchema = jsonschema.MustCompileString("indicators.json", `{
		"type": "object",
		"properties": {
			"indicators": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"properties": {
						"indicator":      {"type": "string", "minLength": 1},
						"measured_value": {"type": ["string", "number", "null"]},
						"normal_range":   {"type": ["string", "null"]},
						"abnormal":       {"type": ["string", "null"]}
					},
					"required": ["indicator"]
				}
			}
		},
		"required": ["indicators"]
	}`)

	changeSetSchema = jsonschema.MustCompileString("changes.json", `{
		"type": "object",
		"properties": {
			"changes": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"id":             {"type": ["string", "number"]},
						"indicator_name": {"type": ["string", "null"]},
						"value":          {"type": ["string", "number", "null"]},
						"unit":           {"type": ["string", "null"]},
						"status":         {"type": ["string", "null"]},
						"indicator_type": {"type": ["string", "null"]},
						"reason":         {"type": ["string", "null"]}
					},
					"required": ["id"]
				}
			}
		},
		"required": ["changes"]
	}`)
)

// HasIndicators is the predicate for extraction workflow output.
func HasIndicators(obj map[string]any) bool {
	return indicatorsSchema.Validate(map[string]any(obj)) == nil
}

// HasChanges is the predicate for integration engine output.
func HasChanges(obj map[string]any) bool {
	return changeSetSchema.Validate(map[string]any(obj)) == nil
}

// DecodeIndicators converts an accepted object into the typed result. Values
// that arrived as numbers are stringified by the JSON round-trip.
func DecodeIndicators(obj map[string]any) (*ExtractedIndicators, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var out struct {
		Indicators []struct {
			Indicator     string          `json:"indicator"`
			MeasuredValue json.RawMessage `json:"measured_value"`
			NormalRange   json.RawMessage `json:"normal_range"`
			Abnormal      json.RawMessage `json:"abnormal"`
		} `json:"indicators"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	res := &ExtractedIndicators{}
	for _, it := range out.Indicators {
		res.Indicators = append(res.Indicators, RawIndicator{
			Indicator:     it.Indicator,
			MeasuredValue: rawToString(it.MeasuredValue),
			NormalRange:   rawToString(it.NormalRange),
			Abnormal:      rawToString(it.Abnormal),
		})
	}
	return res, nil
}

// rawToString renders a JSON scalar as its plain string form; null and
// absent become "".
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
