package normalize

import (
	"strings"

	"github.com/yuancheng-ma/healthfolio/constants"
)

var abnormalMarkers = map[string]struct{}{
	"是": {}, "yes": {}, "true": {}, "异常": {}, "阳性": {}, "positive": {},
	"偏高": {}, "偏低": {}, "↑": {}, "↓": {}, "high": {}, "low": {},
}

var normalMarkers = map[string]struct{}{
	"否": {}, "no": {}, "false": {}, "正常": {}, "阴性": {}, "negative": {}, "-": {},
}

// InterpretAbnormal maps the model's free-form abnormal flag to a stored
// status. Unknown markers and absent flags both read as normal: the flag is
// advisory and a missing one must not invent an abnormality.
func InterpretAbnormal(flag string) constants.IndicatorStatus {
	f := strings.ToLower(strings.TrimSpace(flag))
	if _, ok := abnormalMarkers[f]; ok {
		return constants.StatusAbnormal
	}
	if _, ok := normalMarkers[f]; ok {
		return constants.StatusNormal
	}
	return constants.StatusNormal
}
