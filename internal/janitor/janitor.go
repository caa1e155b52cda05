// Package janitor schedules reap passes. It owns the interval ticker and the
// single-flight guard; the pass itself lives in app.Reaper so the operator
// command and the timer share one implementation.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/haukened/fleeting/internal/app"
)

// DefaultInterval is used when Config.Interval is unset.
const DefaultInterval = 24 * time.Hour

// Reaper runs one reap pass. *app.Reaper satisfies it.
type Reaper interface {
	Reap(ctx context.Context, now time.Time) (app.ReapReport, error)
}

// Config holds tunables for the Janitor.
type Config struct {
	Interval time.Duration // how often a timed pass begins
	Clock    app.Clock     // defaults to app.SystemClock
	Logger   *slog.Logger  // defaults to slog.Default()
}

// Stats accumulates pass outcomes for operational insight.
type Stats struct {
	Cycles         uint64
	Skipped        uint64
	Deleted        uint64
	Failures       uint64
	LastDurationMS int64
}

// Janitor runs reap passes on a timer and on demand, never two at once.
type Janitor struct {
	reaper Reaper
	cfg    Config
	sem    *semaphore.Weighted

	mu    sync.Mutex
	stats Stats

	ticker    *time.Ticker
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New constructs but does not start a Janitor.
func New(r Reaper, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = app.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Janitor{
		reaper: r,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the timer loop in a new goroutine. Further calls are no-ops.
func (j *Janitor) Start(ctx context.Context) {
	j.startOnce.Do(func() {
		j.ticker = time.NewTicker(j.cfg.Interval)
		go j.loop(ctx)
	})
}

// Stop signals the loop to exit and waits for the current pass, if any. A
// Janitor that was never started cannot be started afterwards.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.startOnce.Do(func() { close(j.doneCh) })
	<-j.doneCh
}

// RunNow performs a pass immediately, waiting for any pass already running.
func (j *Janitor) RunNow(ctx context.Context) (app.ReapReport, error) {
	if err := j.sem.Acquire(ctx, 1); err != nil {
		return app.ReapReport{}, err
	}
	defer j.sem.Release(1)
	return j.run(ctx, "on_demand")
}

// Snapshot returns a copy of the accumulated stats.
func (j *Janitor) Snapshot() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

func (j *Janitor) loop(ctx context.Context) {
	log := j.cfg.Logger.With("domain", "janitor")
	defer func() {
		j.ticker.Stop()
		close(j.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			log.Info("janitor stop", "reason", "stop_signal")
			return
		case <-j.ticker.C:
			j.tick(ctx)
		}
	}
}

// tick runs a timed pass unless one is already in flight.
func (j *Janitor) tick(ctx context.Context) {
	if !j.sem.TryAcquire(1) {
		j.mu.Lock()
		j.stats.Skipped++
		j.mu.Unlock()
		j.cfg.Logger.Warn("reap skipped", "domain", "janitor", "reason", "pass_in_flight")
		return
	}
	defer j.sem.Release(1)
	_, _ = j.run(ctx, "timer")
}

// run performs one pass. The caller holds the semaphore.
func (j *Janitor) run(ctx context.Context, trigger string) (app.ReapReport, error) {
	log := j.cfg.Logger.With("domain", "janitor", "action", "cycle", "trigger", trigger)
	start := time.Now()
	rep, err := j.reaper.Reap(ctx, j.cfg.Clock.Now())
	elapsed := time.Since(start)

	j.mu.Lock()
	j.stats.Cycles++
	j.stats.Deleted += uint64(rep.Deleted())
	j.stats.Failures += uint64(rep.Failures)
	j.stats.LastDurationMS = elapsed.Milliseconds()
	j.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("reap", "error", err, "failures", rep.Failures)
	}
	log.Info("cycle complete",
		"files_deleted", rep.FilesDeleted,
		"orphans_deleted", rep.OrphansDeleted,
		"partials_deleted", rep.PartialsDeleted,
		"blob_rows_deleted", rep.BlobRowsDeleted,
		"credentials_deleted", rep.CredentialsDeleted,
		"ms", elapsed.Milliseconds(),
	)
	return rep, err
}
