package llm

import (
	"regexp"
	"strings"
)

// Reasoning artifacts that chat and vision models leak into their output.
// All matching is case-insensitive; block regexps are non-greedy so multiple
// blocks in one response are each removed.
var (
	reThinkBlock    = regexp.MustCompile(`(?is)<think>.*?</think>`)
	reThoughtBlock  = regexp.MustCompile(`(?is)<thought>.*?</thought>`)
	reThinkingBlock = regexp.MustCompile(`(?is)<thinking>.*?</thinking>`)
	reThinkClose    = regexp.MustCompile(`(?i)</think>`)
	reFenceOpen     = regexp.MustCompile("(?i)```(?:json)?")
)

// Chinese reasoning prefaces; everything from the marker up to the first
// subsequent '{' is dropped.
var reasoningPrefaces = []string{
	"思考过程：", "思考过程:",
	"分析如下：", "分析如下:",
	"分析：", "分析:",
	"让我先分析",
}

// Sanitize strips reasoning markers and code fences from raw model output.
// It is idempotent: Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(raw string) string {
	s := raw

	s = reThinkBlock.ReplaceAllString(s, "")
	s = reThoughtBlock.ReplaceAllString(s, "")
	s = reThinkingBlock.ReplaceAllString(s, "")

	// An unmatched closing tag means everything before it was reasoning.
	if loc := reThinkClose.FindStringIndex(s); loc != nil {
		s = s[loc[1]:]
	}

	for _, marker := range reasoningPrefaces {
		idx := strings.Index(s, marker)
		if idx < 0 {
			continue
		}
		brace := strings.Index(s[idx:], "{")
		if brace < 0 {
			// No JSON follows; drop the preface tail entirely.
			s = s[:idx]
			continue
		}
		s = s[:idx] + s[idx+brace:]
	}

	s = reFenceOpen.ReplaceAllString(s, "")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	return strings.TrimSpace(s)
}
