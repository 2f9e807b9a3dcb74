package fortune

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Band maps an inclusive value range to a label and symbol.
type Band struct {
	Min    int    `yaml:"min" json:"min"`
	Max    int    `yaml:"max" json:"max"`
	Label  string `yaml:"label" json:"label"`
	Symbol string `yaml:"symbol" json:"symbol"`
}

// Unknown classification for values no band covers.
const (
	UnknownLabel  = "unknown"
	UnknownSymbol = "?"
)

const (
	DefaultRanges  = "0-1, 2-10, 11-20, 21-30, 31-40, 41-60, 61-80, 81-98, 99-100"
	DefaultLabels  = "Great Curse, Major Curse, Curse, Minor Curse, Slight Blessing, Small Blessing, Middle Blessing, Great Blessing, Supreme Blessing"
	DefaultSymbols = "💀, 😨, 😰, 😟, 😐, 🙂, 😊, 😄, 🤩"
)

// BandingTable is an ordered list of bands; the first match wins.
type BandingTable struct {
	bands []Band
}

// NewBandingTable returns a table over bands in the given order.
func NewBandingTable(bands []Band) *BandingTable {
	return &BandingTable{bands: append([]Band(nil), bands...)}
}

// DefaultBandingTable returns the nine-band table over [0, 100].
func DefaultBandingTable() *BandingTable {
	t, err := ParseBands(DefaultRanges, DefaultLabels, DefaultSymbols)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseBands builds a table from comma-separated lists such as
// "0-10, 11-100", "Bad, Good" and "😟, 🙂". Ranges without a matching label or
// symbol get the unknown classification.
func ParseBands(ranges, labels, symbols string) (*BandingTable, error) {
	rs := splitList(ranges)
	ls := splitList(labels)
	ss := splitList(symbols)
	bands := make([]Band, 0, len(rs))
	for i, r := range rs {
		lo, hi, err := parseRange(r)
		if err != nil {
			return nil, err
		}
		b := Band{Min: lo, Max: hi, Label: UnknownLabel, Symbol: UnknownSymbol}
		if i < len(ls) && ls[i] != "" {
			b.Label = ls[i]
		}
		if i < len(ss) && ss[i] != "" {
			b.Symbol = ss[i]
		}
		bands = append(bands, b)
	}
	return &BandingTable{bands: bands}, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseRange(s string) (int, int, error) {
	loStr, hiStr, found := strings.Cut(s, "-")
	if !found {
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, 0, fmt.Errorf("parsing band %q: %w", s, err)
		}
		return v, v, nil
	}
	lo, err := strconv.Atoi(strings.TrimSpace(loStr))
	if err != nil {
		return 0, 0, fmt.Errorf("parsing band %q: %w", s, err)
	}
	hi, err := strconv.Atoi(strings.TrimSpace(hiStr))
	if err != nil {
		return 0, 0, fmt.Errorf("parsing band %q: %w", s, err)
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("band %q: lower bound exceeds upper bound", s)
	}
	return lo, hi, nil
}

// Classify returns the label and symbol of the first band containing v.
func (t *BandingTable) Classify(v int) (label, symbol string) {
	for _, b := range t.bands {
		if v >= b.Min && v <= b.Max {
			return b.Label, b.Symbol
		}
	}
	return UnknownLabel, UnknownSymbol
}

// Bands returns a copy of the table's bands.
func (t *BandingTable) Bands() []Band {
	return append([]Band(nil), t.bands...)
}

// Validate reports gaps and overlaps over [lo, hi]. The table stays usable
// either way; uncovered values classify as unknown.
func (t *BandingTable) Validate(lo, hi int) []string {
	sorted := t.Bands()
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Min < sorted[j].Min })

	var problems []string
	next := lo
	for i, b := range sorted {
		if b.Min > next {
			problems = append(problems, fmt.Sprintf("values %d-%d are not covered by any band", next, b.Min-1))
		}
		if i > 0 && b.Min <= sorted[i-1].Max {
			problems = append(problems, fmt.Sprintf("band %d-%d overlaps band %d-%d", b.Min, b.Max, sorted[i-1].Min, sorted[i-1].Max))
		}
		next = max(next, b.Max+1)
	}
	if next <= hi {
		problems = append(problems, fmt.Sprintf("values %d-%d are not covered by any band", next, hi))
	}
	return problems
}

// Lists returns the comma-joined band ranges, labels and symbols, in
// table order.
func (t *BandingTable) Lists() (ranges, labels, symbols string) {
	rs := make([]string, len(t.bands))
	ls := make([]string, len(t.bands))
	ss := make([]string, len(t.bands))
	for i, b := range t.bands {
		rs[i] = fmt.Sprintf("%d-%d", b.Min, b.Max)
		ls[i] = b.Label
		ss[i] = b.Symbol
	}
	return strings.Join(rs, ", "), strings.Join(ls, ", "), strings.Join(ss, ", ")
}
