package core

import (
	"context"
	"strings"

	"github.com/yuancheng-ma/healthfolio/internal/common"
	"github.com/yuancheng-ma/healthfolio/internal/llm"
	"github.com/yuancheng-ma/healthfolio/internal/ocr"
)

// OCRParser is the document-parser surface the workflows need.
type OCRParser interface {
	ParseFile(ctx context.Context, filePath string, backend ocr.Backend) (string, error)
	VLMBackend() ocr.Backend
}

// Clients bundles the per-job external model clients. A fresh bundle is
// built for every job from the settings registry.
type Clients struct {
	OCR    OCRParser
	Chat   llm.ChatClient
	Vision llm.VisionClient
}

// parseExtraction turns raw model output into typed indicators, mapping
// unusable output to the truncated/malformed error codes. maxTokens is the
// configured completion budget, surfaced so a truncation failure tells the
// user which setting to raise.
func parseExtraction(raw string, maxTokens int) (*llm.ExtractedIndicators, error) {
	obj := llm.ExtractJSON(raw, llm.HasIndicators)
	if obj == nil {
		if llm.IsTruncated(raw) {
			return nil, common.NewAppErrorf(common.CodeLLMTruncated,
				"model output truncated mid-structure (response_length=%d, llm_max_tokens=%d)", len(raw), maxTokens)
		}
		return nil, common.NewAppErrorf(common.CodeLLMMalformed,
			"no usable indicators object in model output (response_length=%d)", len(raw))
	}
	out, err := llm.DecodeIndicators(obj)
	if err != nil {
		return nil, common.NewAppError(common.CodeLLMMalformed, "decode indicators", err)
	}
	return out, nil
}

// mergePages combines per-page extraction results for multi-page documents.
// Pages repeat header rows, so entries are deduplicated by normalized name;
// on conflict a valued entry beats an empty one, then an abnormal-flagged
// entry beats an unflagged one, then the earlier page wins.
func mergePages(pages [][]llm.RawIndicator) []llm.RawIndicator {
	var merged []llm.RawIndicator
	index := map[string]int{}

	for _, page := range pages {
		for _, it := range page {
			key := strings.ToLower(strings.TrimSpace(it.Indicator))
			if key == "" {
				continue
			}
			pos, seen := index[key]
			if !seen {
				index[key] = len(merged)
				merged = append(merged, it)
				continue
			}
			if preferCandidate(merged[pos], it) {
				merged[pos] = it
			}
		}
	}
	return merged
}

func preferCandidate(existing, candidate llm.RawIndicator) bool {
	exVal := strings.TrimSpace(existing.MeasuredValue) != ""
	caVal := strings.TrimSpace(candidate.MeasuredValue) != ""
	if exVal != caVal {
		return caVal
	}
	exAb := strings.TrimSpace(existing.Abnormal) == "是"
	caAb := strings.TrimSpace(candidate.Abnormal) == "是"
	if exAb != caAb {
		return caAb
	}
	return false
}
