package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/dailyfortune/internal/fortune"
	"github.com/kalambet/dailyfortune/internal/storage"
)

// memMedium is an in-memory Medium that can be told to fail.
type memMedium struct {
	mu          sync.Mutex
	daily       storage.DailyCache
	history     storage.History
	failDaily   bool
	failHistory bool
	saves       int
}

func (m *memMedium) LoadDaily(context.Context) (storage.DailyCache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.daily.Clone(), nil
}

func (m *memMedium) SaveDaily(_ context.Context, c storage.DailyCache) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDaily {
		return errors.New("disk full")
	}
	m.saves++
	m.daily = c.Clone()
	return nil
}

func (m *memMedium) LoadHistory(context.Context) (storage.History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Clone(), nil
}

func (m *memMedium) SaveHistory(_ context.Context, h storage.History) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failHistory {
		return errors.New("disk full")
	}
	m.saves++
	m.history = h.Clone()
	return nil
}

func (m *memMedium) Close() error { return nil }

func openTestStore(t *testing.T) (*Store, *memMedium) {
	t.Helper()
	m := &memMedium{}
	s, err := Open(context.Background(), m)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, m
}

func record(user string, value int) storage.FortuneRecord {
	return storage.FortuneRecord{
		ID: "id-" + user, UserID: user, Value: value, Label: fmt.Sprintf("L%d", value),
		Symbol: "*", CreatedAt: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	stored, err := s.Put(ctx, "2024-01-01", "alice", record("alice", 42))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := s.Get("2024-01-01", "alice")
	if !ok {
		t.Fatal("record not found after Put")
	}
	if diff := cmp.Diff(stored, got); diff != "" {
		t.Errorf("mismatch (-put +get):\n%s", diff)
	}
	if got.Day != "2024-01-01" || got.UserID != "alice" {
		t.Errorf("keys not stamped: %+v", got)
	}
	if _, ok := s.Get("2024-01-02", "alice"); ok {
		t.Error("record visible on another day")
	}
}

func TestPutIsIdempotent(t *testing.T) {
	s, m := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "2024-01-01", "alice", record("alice", 42)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, "2024-01-01", "bob", record("bob", 10)); err != nil {
		t.Fatal(err)
	}
	first := m.daily.Clone()
	if _, err := s.Put(ctx, "2024-01-01", "alice", record("alice", 42)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, m.daily); diff != "" {
		t.Errorf("second identical Put changed state (-first +second):\n%s", diff)
	}
}

func TestReloadFromMedium(t *testing.T) {
	s, m := openTestStore(t)
	ctx := context.Background()
	stored, err := s.Put(ctx, "2024-01-01", "alice", record("alice", 42))
	if err != nil {
		t.Fatal(err)
	}

	reloaded, err := Open(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := reloaded.Get("2024-01-01", "alice")
	if !ok {
		t.Fatal("record lost on reload")
	}
	if diff := cmp.Diff(stored, got); diff != "" {
		t.Errorf("mismatch after reload (-want +got):\n%s", diff)
	}

	// Sequence numbers continue after the highest persisted one.
	next, err := reloaded.Put(ctx, "2024-01-01", "bob", record("bob", 1))
	if err != nil {
		t.Fatal(err)
	}
	if next.Seq <= stored.Seq {
		t.Errorf("seq %d not after %d", next.Seq, stored.Seq)
	}
}

func TestReloadFromSQLite(t *testing.T) {
	medium, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { medium.Close() })
	ctx := context.Background()

	s, err := Open(ctx, medium)
	if err != nil {
		t.Fatal(err)
	}
	stored, err := s.Put(ctx, "2024-01-01", "alice", record("alice", 42))
	if err != nil {
		t.Fatal(err)
	}

	reloaded, err := Open(ctx, medium)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := reloaded.Get("2024-01-01", "alice")
	if diff := cmp.Diff(stored, got); diff != "" {
		t.Errorf("mismatch after sqlite reload (-want +got):\n%s", diff)
	}
	if h := reloaded.History("alice", 0); len(h) != 1 || h[0].Value != 42 {
		t.Errorf("history after reload = %+v", h)
	}
}

func TestListAllInsertionOrder(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	for _, u := range []string{"carol", "alice", "bob"} {
		if _, err := s.Put(ctx, "2024-01-01", u, record(u, 50)); err != nil {
			t.Fatal(err)
		}
	}
	// Overwriting keeps the original position.
	if _, err := s.Put(ctx, "2024-01-01", "carol", record("carol", 70)); err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, r := range s.ListAll("2024-01-01") {
		got = append(got, r.UserID)
	}
	if diff := cmp.Diff([]string{"carol", "alice", "bob"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestHistoryOrderAndLimit(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	days := []fortune.DayKey{"2024-01-02", "2024-01-01", "2024-01-03"}
	for i, d := range days {
		if _, err := s.Put(ctx, d, "alice", record("alice", i)); err != nil {
			t.Fatal(err)
		}
	}

	all := s.History("alice", 0)
	if len(all) != 3 || all[0].Day != "2024-01-03" || all[2].Day != "2024-01-01" {
		t.Errorf("History(all) = %+v", all)
	}
	if got := s.History("alice", 2); len(got) != 2 || got[1].Day != "2024-01-02" {
		t.Errorf("History(2) = %+v", got)
	}
	if got := s.History("alice", 10); len(got) != 3 {
		t.Errorf("History(10) returned %d entries", len(got))
	}
	if got := s.History("nobody", 5); len(got) != 0 {
		t.Errorf("History(nobody) = %+v", got)
	}
}

func TestStatistics(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	for i, v := range []int{3, 100, 0} {
		if _, err := s.Put(ctx, fortune.DayKey("2024-01-01").AddDays(i), "alice", record("alice", v)); err != nil {
			t.Fatal(err)
		}
	}
	want := Stats{Avg: 34.3, Max: 100, Min: 0, Count: 3}
	if got := s.Statistics("alice"); got != want {
		t.Errorf("Statistics = %+v, want %+v", got, want)
	}
	if got := s.Statistics("nobody"); got != (Stats{}) {
		t.Errorf("Statistics(nobody) = %+v", got)
	}
}

func TestDeleteHistory(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	today := fortune.DayKey("2024-01-03")
	for _, d := range []fortune.DayKey{"2024-01-01", "2024-01-02", today} {
		if _, err := s.Put(ctx, d, "alice", record("alice", 5)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Put(ctx, "2024-01-01", "bob", record("bob", 6)); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteHistory(ctx, "alice", today)
	if err != nil {
		t.Fatalf("DeleteHistory: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d days, want 2", n)
	}
	if h := s.History("alice", 0); len(h) != 1 || h[0].Day != today {
		t.Errorf("remaining history = %+v", h)
	}
	if _, ok := s.Get(today, "alice"); !ok {
		t.Error("today's record was removed")
	}
	if _, ok := s.Get("2024-01-01", "bob"); !ok {
		t.Error("another user's record was removed")
	}

	n, err = s.DeleteHistory(ctx, "alice", today)
	if err != nil || n != 0 {
		t.Errorf("second DeleteHistory = %d, %v; want 0, nil", n, err)
	}
	if n, err := s.DeleteHistory(ctx, "nobody", today); err != nil || n != 0 {
		t.Errorf("DeleteHistory(nobody) = %d, %v", n, err)
	}
}

func TestClearTodayKeepsHistory(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Put(ctx, "2024-01-01", "alice", record("alice", 5)); err != nil {
		t.Fatal(err)
	}
	s.TryAcquire("alice")

	removed, err := s.ClearToday(ctx, "2024-01-01", "alice")
	if err != nil || !removed {
		t.Fatalf("ClearToday = %v, %v", removed, err)
	}
	if _, ok := s.Get("2024-01-01", "alice"); ok {
		t.Error("record still cached")
	}
	if len(s.History("alice", 0)) != 1 {
		t.Error("history entry removed by ClearToday")
	}
	if s.Held("alice") {
		t.Error("guard not released")
	}

	removed, err = s.ClearToday(ctx, "2024-01-01", "alice")
	if err != nil || removed {
		t.Errorf("second ClearToday = %v, %v", removed, err)
	}
}

func TestResetAll(t *testing.T) {
	s, m := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Put(ctx, "2024-01-01", "alice", record("alice", 5)); err != nil {
		t.Fatal(err)
	}
	s.TryAcquire("bob")

	if err := s.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	if len(s.ListAll("2024-01-01")) != 0 || len(s.History("alice", 0)) != 0 {
		t.Error("collections not empty after reset")
	}
	if s.Held("bob") {
		t.Error("guard not cleared")
	}
	if len(m.daily) != 0 || len(m.history) != 0 {
		t.Error("reset not persisted")
	}
}

func TestPurgeDailyBefore(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	for _, d := range []fortune.DayKey{"2024-01-01", "2024-01-02", "2024-01-03"} {
		if _, err := s.Put(ctx, d, "alice", record("alice", 5)); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.PurgeDailyBefore(ctx, "2024-01-03")
	if err != nil || n != 2 {
		t.Fatalf("PurgeDailyBefore = %d, %v", n, err)
	}
	if _, ok := s.Get("2024-01-03", "alice"); !ok {
		t.Error("current day purged")
	}
	if len(s.History("alice", 0)) != 3 {
		t.Error("purge touched history")
	}
}

func TestPutFailureLeavesStateUnchanged(t *testing.T) {
	for _, tc := range []struct {
		name        string
		failDaily   bool
		failHistory bool
	}{
		{"daily", true, false},
		{"history", false, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, m := openTestStore(t)
			ctx := context.Background()
			if _, err := s.Put(ctx, "2024-01-01", "alice", record("alice", 5)); err != nil {
				t.Fatal(err)
			}
			m.failDaily, m.failHistory = tc.failDaily, tc.failHistory

			_, err := s.Put(ctx, "2024-01-01", "bob", record("bob", 7))
			if !errors.Is(err, ErrStorage) {
				t.Fatalf("expected ErrStorage, got %v", err)
			}
			if _, ok := s.Get("2024-01-01", "bob"); ok {
				t.Error("failed Put is visible")
			}
			if len(s.History("bob", 0)) != 0 {
				t.Error("failed Put wrote history")
			}
			if _, ok := m.daily["2024-01-01"]["bob"]; ok {
				t.Error("medium still holds the failed record")
			}
		})
	}
}

func TestGuard(t *testing.T) {
	s, _ := openTestStore(t)
	if !s.TryAcquire("alice") {
		t.Fatal("first TryAcquire failed")
	}
	if s.TryAcquire("alice") {
		t.Fatal("second TryAcquire succeeded")
	}
	if !s.TryAcquire("bob") {
		t.Fatal("guard is not per user")
	}
	s.Release("alice")
	s.Release("alice")
	if !s.TryAcquire("alice") {
		t.Fatal("TryAcquire after Release failed")
	}
}

func TestConcurrentPutsDifferentUsers(t *testing.T) {
	s, m := openTestStore(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := fmt.Sprintf("user-%d", i)
			if _, err := s.Put(ctx, "2024-01-01", u, record(u, i)); err != nil {
				t.Errorf("Put(%s): %v", u, err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(s.ListAll("2024-01-01")); got != 50 {
		t.Errorf("ListAll returned %d records, want 50", got)
	}
	if got := len(m.daily["2024-01-01"]); got != 50 {
		t.Errorf("medium holds %d records, want 50", got)
	}
}
