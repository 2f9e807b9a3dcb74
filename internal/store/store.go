// Package store owns the daily fortune cache, the per-user history and the
// in-flight guard. Every mutation is persisted through a storage.Medium
// before it becomes visible to readers.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/kalambet/dailyfortune/internal/fortune"
	"github.com/kalambet/dailyfortune/internal/storage"
)

// ErrStorage wraps every failure of the underlying medium.
var ErrStorage = errors.New("storage error")

// Stats summarises a user's history.
type Stats struct {
	Avg   float64 `json:"avg"`
	Max   int     `json:"max"`
	Min   int     `json:"min"`
	Count int     `json:"count"`
}

// DayEntry is a history entry together with its day.
type DayEntry struct {
	Day fortune.DayKey `json:"day"`
	storage.HistoryEntry
}

// Store is safe for concurrent use.
type Store struct {
	medium storage.Medium

	mu      sync.RWMutex
	daily   storage.DailyCache
	history storage.History
	seq     int64

	guardMu  sync.Mutex
	inFlight map[string]struct{}
}

// Open loads both collections from medium.
func Open(ctx context.Context, medium storage.Medium) (*Store, error) {
	daily, err := medium.LoadDaily(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading daily cache: %w", ErrStorage, err)
	}
	history, err := medium.LoadHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading history: %w", ErrStorage, err)
	}
	if daily == nil {
		daily = storage.DailyCache{}
	}
	if history == nil {
		history = storage.History{}
	}

	s := &Store{
		medium:   medium,
		daily:    daily,
		history:  history,
		inFlight: make(map[string]struct{}),
	}
	for _, users := range daily {
		for _, r := range users {
			s.seq = max(s.seq, r.Seq)
		}
	}
	return s, nil
}

// Get returns the record for (day, userID).
func (s *Store) Get(day fortune.DayKey, userID string) (storage.FortuneRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.daily[day][userID]
	return r, ok
}

// Put stores rec as the record for (day, userID) and writes its history
// entry. Re-putting an existing pair keeps its insertion position.
func (s *Store) Put(ctx context.Context, day fortune.DayKey, userID string, rec storage.FortuneRecord) (storage.FortuneRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Day = day
	rec.UserID = userID
	seq := s.seq
	if prev, ok := s.daily[day][userID]; ok {
		rec.Seq = prev.Seq
	} else {
		seq++
		rec.Seq = seq
	}

	daily := s.daily.Clone()
	if daily[day] == nil {
		daily[day] = map[string]storage.FortuneRecord{}
	}
	daily[day][userID] = rec

	history := s.history.Clone()
	if history[userID] == nil {
		history[userID] = map[fortune.DayKey]storage.HistoryEntry{}
	}
	history[userID][day] = rec.Entry()

	if err := s.commit(ctx, daily, history); err != nil {
		return storage.FortuneRecord{}, err
	}
	s.seq = seq
	return rec, nil
}

// ListAll returns the day's records in insertion order.
func (s *Store) ListAll(day fortune.DayKey) []storage.FortuneRecord {
	s.mu.RLock()
	out := make([]storage.FortuneRecord, 0, len(s.daily[day]))
	for _, r := range s.daily[day] {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// History returns userID's entries, most recent first. A limit <= 0 returns
// every entry.
func (s *Store) History(userID string, limit int) []DayEntry {
	s.mu.RLock()
	days := s.history[userID]
	out := make([]DayEntry, 0, len(days))
	for d, e := range days {
		out = append(out, DayEntry{Day: d, HistoryEntry: e})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Day > out[j].Day })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Statistics summarises every history entry of userID.
func (s *Store) Statistics(userID string) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	days := s.history[userID]
	if len(days) == 0 {
		return Stats{}
	}
	st := Stats{Max: math.MinInt, Min: math.MaxInt, Count: len(days)}
	sum := 0
	for _, e := range days {
		sum += e.Value
		st.Max = max(st.Max, e.Value)
		st.Min = min(st.Min, e.Value)
	}
	st.Avg = math.Round(float64(sum)/float64(len(days))*10) / 10
	return st
}

// DeleteHistory removes every record and history entry of userID except
// those for keep, returning the number of distinct days removed.
func (s *Store) DeleteHistory(ctx context.Context, userID string, keep fortune.DayKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := map[fortune.DayKey]struct{}{}
	daily := s.daily.Clone()
	for day, users := range daily {
		if day == keep {
			continue
		}
		if _, ok := users[userID]; ok {
			delete(users, userID)
			removed[day] = struct{}{}
			if len(users) == 0 {
				delete(daily, day)
			}
		}
	}
	history := s.history.Clone()
	for day := range history[userID] {
		if day == keep {
			continue
		}
		delete(history[userID], day)
		removed[day] = struct{}{}
	}
	if len(history[userID]) == 0 {
		delete(history, userID)
	}

	if len(removed) == 0 {
		return 0, nil
	}
	if err := s.commit(ctx, daily, history); err != nil {
		return 0, err
	}
	return len(removed), nil
}

// ClearToday removes the record for (day, userID), keeping its history
// entry, and releases userID's guard.
func (s *Store) ClearToday(ctx context.Context, day fortune.DayKey, userID string) (bool, error) {
	defer s.Release(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.daily[day][userID]; !ok {
		return false, nil
	}
	daily := s.daily.Clone()
	delete(daily[day], userID)
	if len(daily[day]) == 0 {
		delete(daily, day)
	}
	if err := s.commitDaily(ctx, daily); err != nil {
		return false, err
	}
	return true, nil
}

// PurgeDailyBefore drops daily records older than day. History is kept.
func (s *Store) PurgeDailyBefore(ctx context.Context, day fortune.DayKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	daily := s.daily.Clone()
	n := 0
	for d, users := range daily {
		if d < day {
			n += len(users)
			delete(daily, d)
		}
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.commitDaily(ctx, daily); err != nil {
		return 0, err
	}
	return n, nil
}

// ResetAll empties both collections and the guard.
func (s *Store) ResetAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.commit(ctx, storage.DailyCache{}, storage.History{}); err != nil {
		return err
	}
	s.seq = 0

	s.guardMu.Lock()
	clear(s.inFlight)
	s.guardMu.Unlock()
	return nil
}

// commit persists both collections and installs them. If the history save
// fails the previous daily cache is written back on a best-effort basis.
// Callers hold s.mu.
func (s *Store) commit(ctx context.Context, daily storage.DailyCache, history storage.History) error {
	if err := s.medium.SaveDaily(ctx, daily); err != nil {
		return fmt.Errorf("%w: saving daily cache: %w", ErrStorage, err)
	}
	if err := s.medium.SaveHistory(ctx, history); err != nil {
		_ = s.medium.SaveDaily(context.WithoutCancel(ctx), s.daily)
		return fmt.Errorf("%w: saving history: %w", ErrStorage, err)
	}
	s.daily = daily
	s.history = history
	return nil
}

func (s *Store) commitDaily(ctx context.Context, daily storage.DailyCache) error {
	if err := s.medium.SaveDaily(ctx, daily); err != nil {
		return fmt.Errorf("%w: saving daily cache: %w", ErrStorage, err)
	}
	s.daily = daily
	return nil
}

// --- In-flight guard ---

// TryAcquire marks userID as computing. It reports false if already marked.
func (s *Store) TryAcquire(userID string) bool {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	if _, held := s.inFlight[userID]; held {
		return false
	}
	s.inFlight[userID] = struct{}{}
	return true
}

// Release clears userID's mark. Releasing an unheld mark is a no-op.
func (s *Store) Release(userID string) {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	delete(s.inFlight, userID)
}

// Held reports whether userID is marked.
func (s *Store) Held(userID string) bool {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	_, held := s.inFlight[userID]
	return held
}
