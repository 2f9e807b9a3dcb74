// Package daily coordinates a fortune query: cache lookup, the per-user
// in-flight guard, value generation, narrative content and the commit.
package daily

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/dailyfortune/internal/aggregate"
	"github.com/kalambet/dailyfortune/internal/content"
	"github.com/kalambet/dailyfortune/internal/fortune"
	"github.com/kalambet/dailyfortune/internal/storage"
	"github.com/kalambet/dailyfortune/internal/store"
	"github.com/kalambet/dailyfortune/internal/tmpl"
)

// ErrComputeFailed wraps a panic raised while computing a fortune.
var ErrComputeFailed = errors.New("fortune computation failed")

// State is the outcome of a query.
type State string

const (
	// StateCached means the day's record already existed.
	StateCached State = "cached"
	// StateInFlight means another request for the user is computing.
	StateInFlight State = "in_flight"
	// StateFresh means this request computed and stored the record.
	StateFresh State = "fresh"
)

// Identity is the caller as resolved by the host.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	ScopeID     string `json:"scope_id,omitempty"`
}

// Result of a query. Record is zero for StateInFlight.
type Result struct {
	State  State                 `json:"state"`
	Record storage.FortuneRecord `json:"record"`
}

// ContentGenerator produces narrative text. *content.Pipeline implements it.
type ContentGenerator interface {
	Generate(ctx context.Context, c content.Context) content.Result
}

// Recorder receives query outcomes.
type Recorder interface {
	RecordQuery(state string, d time.Duration)
	RecordFailure(op string)
}

// ResultKeys are the placeholders the result template may use.
var ResultKeys = append(append([]string(nil), content.PromptKeys...), "process", "advice")

// DefaultResultTemplate renders the stored result text.
const DefaultResultTemplate = "{symbol} {nickname}'s fortune for {date}: {value} ({label})\n🔮 {process}\n💬 {advice}"

// Options configures a Service.
type Options struct {
	Store     *store.Store
	Generator *fortune.Generator
	Bands     *fortune.BandingTable
	Content   ContentGenerator
	// ResultTemplate nil means DefaultResultTemplate.
	ResultTemplate *tmpl.Template
	Aggregate      *aggregate.Service
	Clock          fortune.Clock
	Location       *time.Location
	Medals         string
	HistoryDisplay int
	// HistoryLimit caps any requested history size. Zero means no cap.
	HistoryLimit int
	Recorder     Recorder
}

// Service is safe for concurrent use.
type Service struct {
	store     *store.Store
	gen       *fortune.Generator
	bands     *fortune.BandingTable
	content   ContentGenerator
	result    *tmpl.Template
	agg       *aggregate.Service
	clock     fortune.Clock
	loc       *time.Location
	medals    string
	historyN  int
	historyMx int
	recorder  Recorder
	bandLists [3]string
}

// New returns a Service. Store and Generator are required.
func New(opts Options) (*Service, error) {
	if opts.Store == nil || opts.Generator == nil {
		return nil, fmt.Errorf("daily: store and generator are required")
	}
	s := &Service{
		store:     opts.Store,
		gen:       opts.Generator,
		bands:     opts.Bands,
		content:   opts.Content,
		result:    opts.ResultTemplate,
		agg:       opts.Aggregate,
		clock:     opts.Clock,
		loc:       opts.Location,
		medals:    opts.Medals,
		historyN:  opts.HistoryDisplay,
		historyMx: opts.HistoryLimit,
		recorder:  opts.Recorder,
	}
	if s.bands == nil {
		s.bands = fortune.DefaultBandingTable()
	}
	if s.result == nil {
		s.result = tmpl.MustParse(DefaultResultTemplate, ResultKeys)
	}
	if s.medals == "" {
		s.medals = aggregate.DefaultMedals
	}
	if s.agg == nil {
		s.agg = aggregate.New(opts.Store, aggregate.WithMedals(s.medals))
	}
	if s.clock == nil {
		s.clock = fortune.SystemClock()
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.historyN <= 0 {
		s.historyN = 10
	}
	r, l, sym := s.bands.Lists()
	s.bandLists = [3]string{r, l, sym}
	return s, nil
}

// Today returns the current day key.
func (s *Service) Today() fortune.DayKey {
	return fortune.Today(s.clock, s.loc)
}

// Query returns the user's fortune for day, computing it if needed.
func (s *Service) Query(ctx context.Context, id Identity, day fortune.DayKey) (Result, error) {
	start := time.Now()
	if rec, ok := s.store.Get(day, id.UserID); ok {
		s.recordQuery(StateCached, start)
		return Result{State: StateCached, Record: rec}, nil
	}
	if !s.store.TryAcquire(id.UserID) {
		s.recordQuery(StateInFlight, start)
		return Result{State: StateInFlight}, nil
	}
	defer s.store.Release(id.UserID)

	// A concurrent request may have committed between the lookup and the acquire.
	if rec, ok := s.store.Get(day, id.UserID); ok {
		s.recordQuery(StateCached, start)
		return Result{State: StateCached, Record: rec}, nil
	}

	rec, err := s.compute(ctx, id, day)
	if err != nil {
		s.recordFailure("compute")
		return Result{}, err
	}
	// The record is already computed; a caller that went away must not
	// discard it.
	stored, err := s.store.Put(context.WithoutCancel(ctx), day, id.UserID, rec)
	if err != nil {
		s.recordFailure("store")
		return Result{}, fmt.Errorf("saving fortune: %w", err)
	}
	s.recordQuery(StateFresh, start)
	slog.Info("fortune computed", "user_id", id.UserID, "day", string(day), "value", stored.Value, "label", stored.Label)
	return Result{State: StateFresh, Record: stored}, nil
}

func (s *Service) compute(ctx context.Context, id Identity, day fortune.DayKey) (rec storage.FortuneRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrComputeFailed, r)
			slog.Error("fortune computation panicked", "user_id", id.UserID, "panic", r)
		}
	}()

	value := s.gen.Generate(id.UserID, day)
	label, symbol := s.bands.Classify(value)

	nickname := id.DisplayName
	if nickname == "" {
		nickname = id.UserID
	}
	cc := content.Context{
		UserID:   id.UserID,
		Nickname: nickname,
		ScopeID:  id.ScopeID,
		Date:     string(day),
		Value:    value,
		Label:    label,
		Symbol:   symbol,
		Ranges:   s.bandLists[0],
		Labels:   s.bandLists[1],
		Symbols:  s.bandLists[2],
		Medals:   s.medals,
	}
	var text content.Result
	if s.content != nil {
		text = s.content.Generate(ctx, cc)
	}

	vars := cc.Vars()
	vars["process"] = text.Process
	vars["advice"] = text.Advice
	rendered, err := s.result.Execute(vars)
	if err != nil {
		return storage.FortuneRecord{}, fmt.Errorf("rendering result: %w", err)
	}

	return storage.FortuneRecord{
		ID:             uuid.NewString(),
		UserID:         id.UserID,
		Nickname:       nickname,
		Day:            day,
		Value:          value,
		Label:          label,
		Symbol:         symbol,
		ProcessText:    text.Process,
		AdviceText:     text.Advice,
		RenderedResult: rendered,
		CreatedAt:      s.clock.Now().UTC(),
		ScopeID:        id.ScopeID,
	}, nil
}

// Lookup returns another user's cached record without computing one.
func (s *Service) Lookup(day fortune.DayKey, userID string) (storage.FortuneRecord, error) {
	rec, ok := s.store.Get(day, userID)
	if !ok {
		return storage.FortuneRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

// Leaderboard returns the full sorted board for day.
func (s *Service) Leaderboard(day fortune.DayKey, scope string) aggregate.Board {
	return s.agg.Leaderboard(day, scope)
}

// History returns at most limit recent entries and full statistics.
// A limit <= 0 uses the configured display size.
func (s *Service) History(userID string, limit int) aggregate.PersonalView {
	if limit <= 0 {
		limit = s.historyN
	}
	if s.historyMx > 0 {
		limit = min(limit, s.historyMx)
	}
	return s.agg.PersonalHistory(userID, limit)
}

// Initialize clears the user's record for day so the next query recomputes.
func (s *Service) Initialize(ctx context.Context, userID string, day fortune.DayKey) (bool, error) {
	removed, err := s.store.ClearToday(ctx, day, userID)
	if err != nil {
		s.recordFailure("initialize")
	}
	return removed, err
}

// DeleteHistory removes everything for the user except day.
func (s *Service) DeleteHistory(ctx context.Context, userID string, day fortune.DayKey) (int, error) {
	n, err := s.store.DeleteHistory(ctx, userID, day)
	if err != nil {
		s.recordFailure("delete_history")
	}
	return n, err
}

// ResetAll empties every collection.
func (s *Service) ResetAll(ctx context.Context) error {
	if err := s.store.ResetAll(ctx); err != nil {
		s.recordFailure("reset")
		return err
	}
	slog.Warn("all fortune data reset")
	return nil
}

func (s *Service) recordQuery(state State, start time.Time) {
	if s.recorder != nil {
		s.recorder.RecordQuery(string(state), time.Since(start))
	}
}

func (s *Service) recordFailure(op string) {
	if s.recorder != nil {
		s.recorder.RecordFailure(op)
	}
}
