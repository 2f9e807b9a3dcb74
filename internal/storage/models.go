package storage

import (
	"errors"
	"time"

	"github.com/kalambet/dailyfortune/internal/fortune"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// FortuneRecord is one user's fortune for one day.
type FortuneRecord struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Nickname       string         `json:"nickname"`
	Day            fortune.DayKey `json:"day"`
	Value          int            `json:"value"`
	Label          string         `json:"label"`
	Symbol         string         `json:"symbol"`
	ProcessText    string         `json:"process_text"`
	AdviceText     string         `json:"advice_text"`
	RenderedResult string         `json:"rendered_result"`
	CreatedAt      time.Time      `json:"created_at"`
	ScopeID        string         `json:"scope_id,omitempty"`
	// Seq orders records by first insertion within a day.
	Seq int64 `json:"seq"`
}

// HistoryEntry is the compact projection of a FortuneRecord kept for statistics.
type HistoryEntry struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

// Entry returns the history projection of r.
func (r FortuneRecord) Entry() HistoryEntry {
	return HistoryEntry{Value: r.Value, Label: r.Label}
}

// DailyCache holds records by day and user.
type DailyCache map[fortune.DayKey]map[string]FortuneRecord

// History holds entries by user and day.
type History map[string]map[fortune.DayKey]HistoryEntry

// Clone returns a deep copy of c.
func (c DailyCache) Clone() DailyCache {
	out := make(DailyCache, len(c))
	for day, users := range c {
		m := make(map[string]FortuneRecord, len(users))
		for id, r := range users {
			m[id] = r
		}
		out[day] = m
	}
	return out
}

// Clone returns a deep copy of h.
func (h History) Clone() History {
	out := make(History, len(h))
	for user, days := range h {
		m := make(map[fortune.DayKey]HistoryEntry, len(days))
		for d, e := range days {
			m[d] = e
		}
		out[user] = m
	}
	return out
}
