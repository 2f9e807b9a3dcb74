// Package tmpl implements the placeholder templates used for prompts and
// result text. A template is plain text with {name} placeholders; "{{" and
// "}}" produce literal braces. Placeholders are checked against an allowed
// key set when the template is parsed.
package tmpl

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrUnknownPlaceholder = errors.New("unknown template placeholder")
	ErrSyntax             = errors.New("template syntax error")
	ErrMissingValue       = errors.New("missing template value")
)

// Vars holds the values substituted into a template.
type Vars map[string]string

type segment struct {
	text string
	key  string // non-empty for placeholders
}

// Template is a parsed placeholder template.
type Template struct {
	src      string
	segments []segment
	keys     []string
}

// Parse parses text. Every placeholder must be in allowed, unless allowed is nil.
func Parse(text string, allowed []string) (*Template, error) {
	t := &Template{src: text}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '{' && i+1 < len(text) && text[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(text) && text[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed '{' at offset %d", ErrSyntax, i)
			}
			key := strings.TrimSpace(text[i+1 : i+1+end])
			if key == "" {
				return nil, fmt.Errorf("%w: empty placeholder at offset %d", ErrSyntax, i)
			}
			if allowed != nil && !slices.Contains(allowed, key) {
				return nil, fmt.Errorf("%w: {%s}", ErrUnknownPlaceholder, key)
			}
			flush()
			t.segments = append(t.segments, segment{key: key})
			if !slices.Contains(t.keys, key) {
				t.keys = append(t.keys, key)
			}
			i += end + 1
		case c == '}':
			return nil, fmt.Errorf("%w: single '}' at offset %d", ErrSyntax, i)
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

// MustParse is like Parse but panics on error. Use for built-in templates.
func MustParse(text string, allowed []string) *Template {
	t, err := Parse(text, allowed)
	if err != nil {
		panic(err)
	}
	return t
}

// Keys returns the distinct placeholders in order of first appearance.
func (t *Template) Keys() []string { return slices.Clone(t.keys) }

// Source returns the unparsed text.
func (t *Template) Source() string { return t.src }

// Execute substitutes vars into the template.
func (t *Template) Execute(vars Vars) (string, error) {
	var b strings.Builder
	for _, s := range t.segments {
		if s.key == "" {
			b.WriteString(s.text)
			continue
		}
		v, ok := vars[s.key]
		if !ok {
			return "", fmt.Errorf("%w: {%s}", ErrMissingValue, s.key)
		}
		b.WriteString(v)
	}
	return b.String(), nil
}
