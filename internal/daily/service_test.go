package daily

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/dailyfortune/internal/content"
	"github.com/kalambet/dailyfortune/internal/fortune"
	"github.com/kalambet/dailyfortune/internal/storage"
	"github.com/kalambet/dailyfortune/internal/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubContent struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	panic bool
}

func (s *stubContent) Generate(_ context.Context, c content.Context) content.Result {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.gate != nil {
		<-s.gate
	}
	if s.panic {
		panic("backend exploded")
	}
	return content.Result{Process: "process for " + c.Nickname, Advice: "advice", Backend: "stub"}
}

func (s *stubContent) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type flakyMedium struct {
	*storage.FileMedium
	fail bool
}

func (f *flakyMedium) SaveDaily(ctx context.Context, c storage.DailyCache) error {
	if f.fail {
		return errors.New("read-only file system")
	}
	return f.FileMedium.SaveDaily(ctx, c)
}

func newService(t *testing.T, strategy fortune.Strategy, gen ContentGenerator) (*Service, *store.Store, *flakyMedium) {
	t.Helper()
	fm, err := storage.OpenFile(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	medium := &flakyMedium{FileMedium: fm}
	st, err := store.Open(context.Background(), medium)
	if err != nil {
		t.Fatal(err)
	}
	g, err := fortune.NewGenerator(fortune.Options{Strategy: strategy, Min: 0, Max: 100})
	if err != nil {
		t.Fatal(err)
	}
	svc, err := New(Options{
		Store:     st,
		Generator: g,
		Content:   gen,
		Clock:     fixedClock{time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		Location:  time.UTC,
	})
	if err != nil {
		t.Fatal(err)
	}
	return svc, st, medium
}

func TestQueryCachesPerDay(t *testing.T) {
	gen := &stubContent{}
	svc, _, _ := newService(t, fortune.StrategyHash, gen)
	ctx := context.Background()
	alice := Identity{UserID: "alice", DisplayName: "Alice"}

	first, err := svc.Query(ctx, alice, "2024-01-01")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if first.State != StateFresh {
		t.Fatalf("first state = %s", first.State)
	}
	second, err := svc.Query(ctx, alice, "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if second.State != StateCached || second.Record.Value != first.Record.Value || second.Record.ID != first.Record.ID {
		t.Errorf("second query = %+v, want cached copy of %+v", second, first)
	}
	if gen.count() != 1 {
		t.Errorf("content generated %d times", gen.count())
	}

	next, err := svc.Query(ctx, alice, "2024-01-02")
	if err != nil || next.State != StateFresh {
		t.Fatalf("next-day query = %+v, %v", next, err)
	}

	view := svc.History("alice", 2)
	if len(view.Entries) != 2 || view.Entries[0].Day != "2024-01-02" || view.Entries[1].Day != "2024-01-01" {
		t.Errorf("history = %+v", view.Entries)
	}
	if view.Entries[1].Value != first.Record.Value {
		t.Errorf("history value %d, record value %d", view.Entries[1].Value, first.Record.Value)
	}
}

func TestQueryRecordContents(t *testing.T) {
	svc, _, _ := newService(t, fortune.StrategyHash, &stubContent{})
	res, err := svc.Query(context.Background(), Identity{UserID: "bob", DisplayName: "Bob", ScopeID: "g1"}, "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	r := res.Record
	if r.ID == "" || r.UserID != "bob" || r.Day != "2024-01-01" || r.ScopeID != "g1" || r.Nickname != "Bob" {
		t.Errorf("record identity fields = %+v", r)
	}
	if r.Label == "" || r.Label == fortune.UnknownLabel {
		t.Errorf("label = %q", r.Label)
	}
	if r.ProcessText != "process for Bob" || r.AdviceText != "advice" {
		t.Errorf("content = %q / %q", r.ProcessText, r.AdviceText)
	}
	if !strings.Contains(r.RenderedResult, "Bob's fortune for 2024-01-01") || !strings.Contains(r.RenderedResult, "process for Bob") {
		t.Errorf("rendered = %q", r.RenderedResult)
	}
	if !r.CreatedAt.Equal(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("created_at = %v", r.CreatedAt)
	}
}

func TestConcurrentQueriesComputeOnce(t *testing.T) {
	gen := &stubContent{gate: make(chan struct{})}
	svc, _, _ := newService(t, fortune.StrategyUniform, gen)
	ctx := context.Background()

	const n = 20
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Query(ctx, Identity{UserID: "alice"}, "2024-01-01")
			if err != nil {
				t.Errorf("Query: %v", err)
			}
			results[i] = res
		}(i)
	}
	// Let every goroutine reach the guard before the computation finishes.
	time.Sleep(50 * time.Millisecond)
	close(gen.gate)
	wg.Wait()

	fresh := 0
	var freshRec storage.FortuneRecord
	for _, r := range results {
		if r.State == StateFresh {
			fresh++
			freshRec = r.Record
		}
	}
	if fresh != 1 {
		t.Fatalf("got %d fresh computations, want 1", fresh)
	}
	for _, r := range results {
		switch r.State {
		case StateFresh, StateInFlight:
		case StateCached:
			if r.Record.ID != freshRec.ID {
				t.Errorf("cached record %s differs from fresh %s", r.Record.ID, freshRec.ID)
			}
		default:
			t.Errorf("unexpected state %q", r.State)
		}
	}
	if gen.count() != 1 {
		t.Errorf("content generated %d times", gen.count())
	}
}

func TestInFlightRejectionHasNoSideEffects(t *testing.T) {
	svc, st, _ := newService(t, fortune.StrategyHash, &stubContent{})
	st.TryAcquire("alice")

	res, err := svc.Query(context.Background(), Identity{UserID: "alice"}, "2024-01-01")
	if err != nil || res.State != StateInFlight {
		t.Fatalf("got %+v, %v", res, err)
	}
	if !st.Held("alice") {
		t.Error("rejection released another request's guard")
	}
	if _, ok := st.Get("2024-01-01", "alice"); ok {
		t.Error("rejection stored a record")
	}
}

func TestPanicReleasesGuard(t *testing.T) {
	gen := &stubContent{panic: true}
	svc, st, _ := newService(t, fortune.StrategyHash, gen)

	_, err := svc.Query(context.Background(), Identity{UserID: "alice"}, "2024-01-01")
	if !errors.Is(err, ErrComputeFailed) {
		t.Fatalf("expected ErrComputeFailed, got %v", err)
	}
	if st.Held("alice") {
		t.Error("guard still held after panic")
	}

	gen.panic = false
	res, err := svc.Query(context.Background(), Identity{UserID: "alice"}, "2024-01-01")
	if err != nil || res.State != StateFresh {
		t.Errorf("retry = %+v, %v", res, err)
	}
}

func TestStorageFailureSurfaces(t *testing.T) {
	svc, st, medium := newService(t, fortune.StrategyHash, &stubContent{})
	medium.fail = true

	_, err := svc.Query(context.Background(), Identity{UserID: "alice"}, "2024-01-01")
	if !errors.Is(err, store.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if st.Held("alice") {
		t.Error("guard still held after storage failure")
	}
	if _, ok := st.Get("2024-01-01", "alice"); ok {
		t.Error("failed commit is visible")
	}
}

func TestInitializeAllowsRecompute(t *testing.T) {
	gen := &stubContent{}
	svc, _, _ := newService(t, fortune.StrategyUniform, gen)
	ctx := context.Background()
	alice := Identity{UserID: "alice"}

	if _, err := svc.Query(ctx, alice, "2024-01-01"); err != nil {
		t.Fatal(err)
	}
	removed, err := svc.Initialize(ctx, "alice", "2024-01-01")
	if err != nil || !removed {
		t.Fatalf("Initialize = %v, %v", removed, err)
	}
	res, err := svc.Query(ctx, alice, "2024-01-01")
	if err != nil || res.State != StateFresh {
		t.Errorf("query after initialize = %+v, %v", res, err)
	}
	if gen.count() != 2 {
		t.Errorf("content generated %d times, want 2", gen.count())
	}
}

func TestDeleteHistoryAndReset(t *testing.T) {
	svc, _, _ := newService(t, fortune.StrategyHash, nil)
	ctx := context.Background()
	for _, d := range []fortune.DayKey{"2023-12-30", "2023-12-31", "2024-01-01"} {
		if _, err := svc.Query(ctx, Identity{UserID: "alice"}, d); err != nil {
			t.Fatal(err)
		}
	}

	n, err := svc.DeleteHistory(ctx, "alice", svc.Today())
	if err != nil || n != 2 {
		t.Fatalf("DeleteHistory = %d, %v", n, err)
	}
	if view := svc.History("alice", 0); view.Stats.Count != 1 {
		t.Errorf("stats after delete = %+v", view.Stats)
	}

	if err := svc.ResetAll(ctx); err != nil {
		t.Fatal(err)
	}
	if board := svc.Leaderboard("2024-01-01", ""); len(board.Entries) != 0 {
		t.Errorf("board after reset = %+v", board)
	}
}

func TestLookup(t *testing.T) {
	svc, _, _ := newService(t, fortune.StrategyHash, nil)
	if _, err := svc.Lookup("2024-01-01", "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	res, err := svc.Query(context.Background(), Identity{UserID: "alice"}, "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	got, err := svc.Lookup("2024-01-01", "alice")
	if err != nil || got.ID != res.Record.ID {
		t.Errorf("Lookup = %+v, %v", got, err)
	}
}

func TestNilContentUsesEmptyText(t *testing.T) {
	svc, _, _ := newService(t, fortune.StrategyHash, nil)
	res, err := svc.Query(context.Background(), Identity{UserID: "alice"}, "2024-01-01")
	if err != nil || res.State != StateFresh {
		t.Fatalf("got %+v, %v", res, err)
	}
}

func TestHistoryLimitCapsRequest(t *testing.T) {
	svc, st, _ := newService(t, fortune.StrategyHash, nil)
	svc.historyMx = 2
	ctx := context.Background()
	for _, day := range []fortune.DayKey{"2024-01-01", "2024-01-02", "2024-01-03"} {
		if _, err := st.Put(ctx, day, "alice", storage.FortuneRecord{Value: 50, Label: "Mid"}); err != nil {
			t.Fatal(err)
		}
	}
	view := svc.History("alice", 10)
	if len(view.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(view.Entries))
	}
	if view.Entries[0].Day != "2024-01-03" {
		t.Errorf("first entry day = %s, want most recent", view.Entries[0].Day)
	}
	if view.Stats.Count != 3 {
		t.Errorf("stats count = %d, want 3", view.Stats.Count)
	}
}

// cancelingContent cancels the caller's context while generating, like a
// client that disconnects during a slow backend call.
type cancelingContent struct {
	cancel context.CancelFunc
}

func (c *cancelingContent) Generate(_ context.Context, _ content.Context) content.Result {
	c.cancel()
	return content.Result{Process: "late", Advice: "still late"}
}

func TestQueryCommitsAfterCallerCancels(t *testing.T) {
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	st, err := store.Open(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	g, err := fortune.NewGenerator(fortune.Options{Strategy: fortune.StrategyHash, Min: 0, Max: 100})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, err := New(Options{
		Store:     st,
		Generator: g,
		Content:   &cancelingContent{cancel: cancel},
		Clock:     fixedClock{time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		Location:  time.UTC,
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.Query(ctx, Identity{UserID: "u1"}, "2024-01-01")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.State != StateFresh {
		t.Fatalf("state = %q, want %q", res.State, StateFresh)
	}
	rec, ok := st.Get("2024-01-01", "u1")
	if !ok {
		t.Fatal("record not stored")
	}
	if rec.ProcessText != "late" {
		t.Errorf("process = %q", rec.ProcessText)
	}
	if st.Held("u1") {
		t.Error("guard still held")
	}

	// The commit reached the medium, not just memory.
	reloaded, err := store.Open(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reloaded.Get("2024-01-01", "u1"); !ok {
		t.Error("record missing after reload")
	}
}
