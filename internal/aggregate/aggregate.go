// Package aggregate builds read-only views over the fortune store: the
// per-scope leaderboard and a user's personal history.
package aggregate

import (
	"sort"
	"strings"

	"github.com/kalambet/dailyfortune/internal/fortune"
	"github.com/kalambet/dailyfortune/internal/storage"
	"github.com/kalambet/dailyfortune/internal/store"
)

// DefaultTopN is the leaderboard display size.
const DefaultTopN = 10

// DefaultMedals decorate the leading leaderboard positions.
const DefaultMedals = "🥇, 🥈, 🥉, 🏅, 🏅"

// Source is the subset of *store.Store read by this package.
type Source interface {
	ListAll(day fortune.DayKey) []storage.FortuneRecord
	History(userID string, limit int) []store.DayEntry
	Statistics(userID string) store.Stats
}

// Membership resolves whether a user belongs to a scope.
type Membership interface {
	IsMember(scopeID, userID string) bool
}

// Entry is one leaderboard row.
type Entry struct {
	Rank         int    `json:"rank"`
	Medal        string `json:"medal,omitempty"`
	UserID       string `json:"user_id"`
	DisplayLabel string `json:"display_label"`
	Value        int    `json:"value"`
	Label        string `json:"label"`
	Symbol       string `json:"symbol"`
}

// Board is the full sorted leaderboard of a day.
type Board struct {
	Day     fortune.DayKey `json:"day"`
	Scope   string         `json:"scope,omitempty"`
	Entries []Entry        `json:"entries"`
}

// Top returns the first n entries. n <= 0 returns all of them.
func (b Board) Top(n int) []Entry {
	if n <= 0 || n >= len(b.Entries) {
		return b.Entries
	}
	return b.Entries[:n]
}

// PersonalView is a user's recent history with statistics over all of it.
type PersonalView struct {
	UserID  string           `json:"user_id"`
	Entries []store.DayEntry `json:"entries"`
	Stats   store.Stats      `json:"stats"`
}

// Service computes views over a Source.
type Service struct {
	src        Source
	membership Membership
	medals     []string
}

// Option configures a Service.
type Option func(*Service)

// WithMembership resolves scope filters through m instead of the record's
// own scope.
func WithMembership(m Membership) Option {
	return func(s *Service) { s.membership = m }
}

// WithMedals sets the comma-separated medal list.
func WithMedals(medals string) Option {
	return func(s *Service) { s.medals = splitMedals(medals) }
}

// New returns a Service reading from src.
func New(src Source, opts ...Option) *Service {
	s := &Service{src: src, medals: splitMedals(DefaultMedals)}
	for _, o := range opts {
		o(s)
	}
	return s
}

func splitMedals(s string) []string {
	var out []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// Leaderboard ranks the day's records by value, highest first. Ties keep
// insertion order. A non-empty scope restricts the board to its members.
func (s *Service) Leaderboard(day fortune.DayKey, scope string) Board {
	records := s.src.ListAll(day)
	kept := records[:0:0]
	for _, r := range records {
		if scope == "" || s.inScope(scope, r) {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Value > kept[j].Value })

	b := Board{Day: day, Scope: scope, Entries: make([]Entry, len(kept))}
	for i, r := range kept {
		e := Entry{
			Rank:         i + 1,
			UserID:       r.UserID,
			DisplayLabel: r.Nickname,
			Value:        r.Value,
			Label:        r.Label,
			Symbol:       r.Symbol,
		}
		if e.DisplayLabel == "" {
			e.DisplayLabel = r.UserID
		}
		if i < len(s.medals) {
			e.Medal = s.medals[i]
		}
		b.Entries[i] = e
	}
	return b
}

func (s *Service) inScope(scope string, r storage.FortuneRecord) bool {
	if s.membership != nil {
		return s.membership.IsMember(scope, r.UserID)
	}
	return r.ScopeID == scope
}

// PersonalHistory returns at most displayLimit recent entries of userID.
// Stats always cover the whole history.
func (s *Service) PersonalHistory(userID string, displayLimit int) PersonalView {
	return PersonalView{
		UserID:  userID,
		Entries: s.src.History(userID, displayLimit),
		Stats:   s.src.Statistics(userID),
	}
}
