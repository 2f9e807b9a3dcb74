// Package scheduler runs periodic maintenance on the fortune store.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/dailyfortune/internal/fortune"
)

// DefaultSpec runs maintenance five minutes past midnight. Specs include a
// seconds field.
const DefaultSpec = "0 5 0 * * *"

// Purger drops daily records older than a day.
type Purger interface {
	PurgeDailyBefore(ctx context.Context, day fortune.DayKey) (int, error)
}

// Maintenance purges expired daily records on a cron schedule. History is
// never touched.
type Maintenance struct {
	cron          *cron.Cron
	store         Purger
	clock         fortune.Clock
	loc           *time.Location
	retentionDays int
	logger        *slog.Logger
}

// New returns a Maintenance keeping retentionDays days of daily records,
// today included. retentionDays <= 0 keeps everything.
func New(store Purger, clock fortune.Clock, loc *time.Location, retentionDays int) *Maintenance {
	if clock == nil {
		clock = fortune.SystemClock()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Maintenance{
		cron:          cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		store:         store,
		clock:         clock,
		loc:           loc,
		retentionDays: retentionDays,
		logger:        slog.Default(),
	}
}

// Register schedules the purge. An empty spec uses DefaultSpec.
func (m *Maintenance) Register(spec string) error {
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := m.cron.AddFunc(spec, func() {
		if _, err := m.RunOnce(context.Background()); err != nil {
			m.logger.Error("maintenance run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("register maintenance task: %w", err)
	}
	return nil
}

// Start starts the scheduler in its own goroutine.
func (m *Maintenance) Start() {
	m.cron.Start()
	m.logger.Info("maintenance scheduler started", "retention_days", m.retentionDays)
}

// Stop stops the scheduler and waits for a running purge to finish.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
	m.logger.Info("maintenance scheduler stopped")
}

// Cutoff returns the oldest day kept, or "" when retention is disabled.
func (m *Maintenance) Cutoff() fortune.DayKey {
	if m.retentionDays <= 0 {
		return ""
	}
	return fortune.Today(m.clock, m.loc).AddDays(-(m.retentionDays - 1))
}

// RunOnce purges daily records older than Cutoff and returns how many were removed.
func (m *Maintenance) RunOnce(ctx context.Context) (int, error) {
	cutoff := m.Cutoff()
	if cutoff == "" {
		return 0, nil
	}
	n, err := m.store.PurgeDailyBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging daily records before %s: %w", cutoff, err)
	}
	if n > 0 {
		m.logger.Info("purged expired daily records", "count", n, "before", string(cutoff))
	}
	return n, nil
}
