package core

import (
	"strings"

	"github.com/google/uuid"

	"github.com/yuancheng-ma/healthfolio/internal/entity"
	"github.com/yuancheng-ma/healthfolio/internal/llm"
	"github.com/yuancheng-ma/healthfolio/internal/normalize"
)

// BuildIndicators converts extraction output into persistable rows. Entries
// with no name and entries that are demographic metadata are skipped; the
// skipped count is reported so callers can log it.
func BuildIndicators(reportID uuid.UUID, extracted *llm.ExtractedIndicators) ([]*entity.Indicator, int) {
	if extracted == nil {
		return nil, 0
	}
	var rows []*entity.Indicator
	skipped := 0
	for _, raw := range extracted.Indicators {
		name := strings.TrimSpace(raw.Indicator)
		if name == "" || normalize.IsPII(name) {
			skipped++
			continue
		}
		value, unit := normalize.SplitUnit(name, raw.MeasuredValue)
		rows = append(rows, &entity.Indicator{
			ReportID:       reportID,
			Category:       normalize.Classify(name),
			Name:           name,
			Value:          value,
			Unit:           unit,
			ReferenceRange: strings.TrimSpace(raw.NormalRange),
			Status:         normalize.InterpretAbnormal(raw.Abnormal),
		})
	}
	return rows, skipped
}
