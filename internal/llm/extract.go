package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// SchemaPredicate decides whether a parsed object has the shape the caller
// expects (e.g. "contains a non-empty indicators array").
type SchemaPredicate func(obj map[string]any) bool

// ExtractJSON pulls the first acceptable JSON object out of noisy model
// output. It tries, in order: direct parse, common wrapper regexes, a
// balanced-bracket scan, and a minimal-repair pass followed by the same
// cascade. It never returns an error for malformed input; the result is nil
// when nothing acceptable was found.
func ExtractJSON(raw string, accept SchemaPredicate) map[string]any {
	if accept == nil {
		accept = func(map[string]any) bool { return true }
	}
	s := Sanitize(raw)
	if s == "" {
		return nil
	}

	if obj := tryCascade(s, accept); obj != nil {
		return obj
	}
	if repaired := minimalRepair(s); repaired != s {
		if obj := tryCascade(repaired, accept); obj != nil {
			return obj
		}
	}
	return nil
}

// IsTruncated reports whether sanitized model output looks cut off
// mid-structure: it starts like JSON but its last character closes nothing.
func IsTruncated(raw string) bool {
	s := Sanitize(raw)
	if s == "" {
		return false
	}
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		return false
	}
	last := s[len(s)-1]
	return last != '}' && last != ']'
}

var reWrapped = regexp.MustCompile(`(?s)\{.*\}`)

func tryCascade(s string, accept SchemaPredicate) map[string]any {
	if obj := tryParse(s, accept); obj != nil {
		return obj
	}
	// Greedy outermost-brace wrapper, for output like "result: {...} done".
	if m := reWrapped.FindString(s); m != "" && m != s {
		if obj := tryParse(m, accept); obj != nil {
			return obj
		}
	}
	for _, candidate := range scanBalancedObjects(s) {
		if obj := tryParse(candidate, accept); obj != nil {
			return obj
		}
	}
	return nil
}

func tryParse(s string, accept SchemaPredicate) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil
	}
	if !accept(obj) {
		return nil
	}
	return obj
}

// scanBalancedObjects walks the string tracking string-literal state and a
// brace depth counter, emitting every top-level balanced object.
func scanBalancedObjects(s string) []string {
	var out []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					out = append(out, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return out
}

var (
	reTrailingComma = regexp.MustCompile(`,\s*([}\]])`)
	reBareKey       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_\-]*)\s*:`)
)

// minimalRepair fixes the three malformations models actually produce:
// trailing commas, bare keys, and single-quoted strings.
func minimalRepair(s string) string {
	s = reTrailingComma.ReplaceAllString(s, "$1")
	s = reBareKey.ReplaceAllString(s, `$1"$2":`)
	s = strings.ReplaceAll(s, "'", `"`)
	return s
}
