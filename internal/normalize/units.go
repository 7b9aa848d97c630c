package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

// knownUnits in suffix-match order, longest spellings first so "mmol/L" is
// not split as "mol/L" and "×10⁹/L" beats a bare "%".
var knownUnits = []string{
	"×10⁹/L", "×10^9/L", "x10^9/L", "10^9/L",
	"×10¹²/L", "×10^12/L", "x10^12/L", "10^12/L",
	"mmol/L", "μmol/L", "umol/L", "mg/dL", "mg/L",
	"ng/mL", "pg/mL", "mIU/L", "IU/mL", "IU/L", "U/L", "g/L", "g/dL",
	"kg/m²", "kg/m2", "次/分", "mmHg", "cmH2O",
	"kg", "cm", "mm", "fL", "pg", "°C", "℃", "%", "s", "秒",
}

var unitSuffixPatterns = compileUnitPatterns()

func compileUnitPatterns() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(knownUnits))
	for _, u := range knownUnits {
		q := regexp.QuoteMeta(u)
		// One-letter units only split off a numeric value, otherwise any
		// word ending in that letter would lose its last character.
		if singleLetterUnit(u) {
			patterns = append(patterns, regexp.MustCompile(`^(.*\d)\s*(`+q+`)$`))
			continue
		}
		patterns = append(patterns, regexp.MustCompile(`^(.*?)\s*(`+q+`)$`))
	}
	return patterns
}

func singleLetterUnit(u string) bool {
	r := []rune(u)
	return len(r) == 1 && unicode.IsLetter(r[0])
}

// Name-based inference for values recorded without a unit. Keys are checked
// in order; the first name hit supplies the unit.
var inferredUnits = []struct {
	keyword string
	unit    string
}{
	{"血压", "mmHg"},
	{"blood pressure", "mmHg"},
	{"心率", "次/分"},
	{"脉搏", "次/分"},
	{"bmi", "kg/m²"},
	{"体质指数", "kg/m²"},
	{"体重指数", "kg/m²"},
	{"体温", "°C"},
	{"身高", "cm"},
	{"腰围", "cm"},
	{"体重", "kg"},
	{"血糖", "mmol/L"},
}

// SplitUnit separates a trailing unit from a measured value. The clean value
// plus the unit always reassembles to the input modulo surrounding
// whitespace. When the value carries no unit, one may be inferred from the
// indicator name.
func SplitUnit(name, value string) (clean, unit string) {
	v := strings.TrimSpace(value)
	for _, re := range unitSuffixPatterns {
		if m := re.FindStringSubmatch(v); m != nil {
			clean = strings.TrimSpace(m[1])
			unit = m[2]
			// A bare unit with no numeric part stays a value, not a unit.
			if clean == "" {
				return v, ""
			}
			return clean, unit
		}
	}

	lower := strings.ToLower(name)
	for _, inf := range inferredUnits {
		if strings.Contains(lower, inf.keyword) {
			return v, inf.unit
		}
	}
	return v, ""
}
