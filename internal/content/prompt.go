package content

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kalambet/dailyfortune/internal/tmpl"
)

// Output sentinels the backend is asked to emit.
const (
	ProcessMarker = "[[PROCESS]]"
	AdviceMarker  = "[[ADVICE]]"
)

// Context carries the values available to prompt templates.
type Context struct {
	UserID   string
	Nickname string
	ScopeID  string
	Date     string
	Value    int
	Label    string
	Symbol   string
	// Banding table and medal lists, comma separated.
	Ranges  string
	Labels  string
	Symbols string
	Medals  string
}

// PromptKeys are the placeholders prompt templates may use.
var PromptKeys = []string{
	"user_id", "nickname", "scope_id", "date", "value", "label", "symbol",
	"ranges", "labels", "symbols", "medals",
}

// Vars exposes c under PromptKeys.
func (c Context) Vars() tmpl.Vars {
	return tmpl.Vars{
		"user_id":  c.UserID,
		"nickname": c.Nickname,
		"scope_id": c.ScopeID,
		"date":     c.Date,
		"value":    strconv.Itoa(c.Value),
		"label":    c.Label,
		"symbol":   c.Symbol,
		"ranges":   c.Ranges,
		"labels":   c.Labels,
		"symbols":  c.Symbols,
		"medals":   c.Medals,
	}
}

const (
	DefaultProcessPrompt = "Describe in one vivid sentence how a fortune teller divines {nickname}'s fortune for {date}, which came out as {value} ({label} {symbol})."
	DefaultAdvicePrompt  = "Give {nickname} one short, warm piece of advice suited to a {label} day."
)

// BuildPrompt combines the persona preamble, both instructions and the
// output format into a single prompt.
func BuildPrompt(persona string, process, advice *tmpl.Template, c Context) (string, error) {
	vars := c.Vars()
	p, err := process.Execute(vars)
	if err != nil {
		return "", fmt.Errorf("process prompt: %w", err)
	}
	a, err := advice.Execute(vars)
	if err != nil {
		return "", fmt.Errorf("advice prompt: %w", err)
	}

	var b strings.Builder
	if persona = strings.TrimSpace(persona); persona != "" {
		b.WriteString(persona)
		b.WriteString("\n\n")
	}
	b.WriteString("Task 1: ")
	b.WriteString(p)
	b.WriteString("\nTask 2: ")
	b.WriteString(a)
	b.WriteString("\n\nReply in exactly this format and nothing else:\n")
	b.WriteString(ProcessMarker)
	b.WriteString("\n<answer to task 1>\n")
	b.WriteString(AdviceMarker)
	b.WriteString("\n<answer to task 2>\n")
	return b.String(), nil
}

// estimateTokens is a rough size hint for logging.
func estimateTokens(s string) int {
	return len([]rune(s))/4 + 1
}
