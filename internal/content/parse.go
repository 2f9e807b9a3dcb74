package content

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// Parse extracts the process and advice sections from a backend reply.
// Each section runs from its marker to the other marker, or to the end. A
// missing marker yields "" for that section.
func Parse(reply string) (process, advice string) {
	p := strings.Index(reply, ProcessMarker)
	a := strings.Index(reply, AdviceMarker)
	if p >= 0 {
		start := p + len(ProcessMarker)
		end := len(reply)
		if a > p {
			end = a
		}
		process = reply[start:end]
	}
	if a >= 0 {
		start := a + len(AdviceMarker)
		end := len(reply)
		if p > a {
			end = p
		}
		advice = reply[start:end]
	}
	return process, advice
}

// Normalize removes markup, collapses whitespace and truncates s to at most
// maxLen characters. maxLen <= 0 disables truncation.
func Normalize(s string, maxLen int) string {
	s = html.UnescapeString(strict.Sanitize(s))
	s = strings.Join(strings.Fields(s), " ")
	if maxLen > 0 {
		if r := []rune(s); len(r) > maxLen {
			s = strings.TrimSpace(string(r[:maxLen]))
		}
	}
	return s
}
