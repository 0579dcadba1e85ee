// Package poller keeps a set of tracked analysis jobs up to date. One
// batched status request per interval carries every tracked id; once every
// tracked job is terminal the engine goes idle until new work is tracked.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tonimelisma/netanalyzer-go/internal/api"
)

// DefaultInterval is the fixed delay between polls while work is active.
const DefaultInterval = 5 * time.Second

// MinInterval is the smallest accepted poll interval.
const MinInterval = time.Second

// Job is a tracked job record. Name is the local file name the capture was
// submitted from; it is not known to the server.
type Job struct {
	api.Job
	Name string
}

// Fetcher fetches the current state of jobs in one request.
// *api.Client implements it.
type Fetcher interface {
	JobStatuses(ctx context.Context, ids []string) ([]api.Job, error)
}

// Mirror receives every applied poll result, e.g. to persist it.
type Mirror interface {
	Save(ctx context.Context, jobs []Job) error
}

// Snapshot is a point-in-time copy of the engine's state. Err is the error
// of the most recent poll, nil once a poll succeeds again.
type Snapshot struct {
	Jobs     []Job
	Err      error
	Active   bool
	LastPoll time.Time
}

// Engine is the job polling engine. The engine itself never removes a job;
// only Untrack does.
type Engine struct {
	fetcher  Fetcher
	interval time.Duration
	logger   *slog.Logger
	mirror   Mirror

	// after and now are injectable for tests.
	after func(d time.Duration) <-chan time.Time
	now   func() time.Time

	kick chan struct{} // tracked set changed
	hint chan struct{} // push hint

	pollMu sync.Mutex // serializes polls

	mu        sync.Mutex
	jobs      []Job
	index     map[string]int
	lastErr   error
	lastPoll  time.Time
	observers []func(Snapshot)
}

// NewEngine creates an idle Engine. An interval below MinInterval is
// clamped; zero means DefaultInterval.
func NewEngine(fetcher Fetcher, interval time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	if interval == 0 {
		interval = DefaultInterval
	}

	if interval < MinInterval {
		logger.Warn("poll interval below minimum, clamping",
			slog.Duration("requested", interval),
			slog.Duration("minimum", MinInterval),
		)

		interval = MinInterval
	}

	return &Engine{
		fetcher:  fetcher,
		interval: interval,
		logger:   logger,
		after:    time.After,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
		hint:     make(chan struct{}, 1),
		index:    make(map[string]int),
	}
}

// SetMirror installs m to receive every applied poll result. Call before Run.
func (e *Engine) SetMirror(m Mirror) {
	e.mirror = m
}

// Interval returns the effective poll interval.
func (e *Engine) Interval() time.Duration {
	return e.interval
}

// OnUpdate registers fn to be called after every poll and every change to
// the tracked set.
func (e *Engine) OnUpdate(fn func(Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.observers = append(e.observers, fn)
}

// Track appends jobs that are not tracked yet, in order. Jobs already
// tracked are left alone. An idle engine resumes scheduling.
func (e *Engine) Track(jobs ...Job) {
	e.mu.Lock()

	added := 0

	for i := range jobs {
		if _, ok := e.index[jobs[i].ID]; ok || jobs[i].ID == "" {
			continue
		}

		e.index[jobs[i].ID] = len(e.jobs)
		e.jobs = append(e.jobs, jobs[i])
		added++
	}

	snap, observers := e.snapshotLocked(), e.observers
	e.mu.Unlock()

	if added == 0 {
		return
	}

	e.logger.Debug("jobs tracked", slog.Int("added", added), slog.Int("tracked", len(snap.Jobs)))

	signal(e.kick)
	notify(observers, snap)
}

// Untrack stops tracking the given job ids. Unknown ids are ignored.
func (e *Engine) Untrack(ids ...string) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	e.mu.Lock()

	kept := e.jobs[:0]
	for i := range e.jobs {
		if !drop[e.jobs[i].ID] {
			kept = append(kept, e.jobs[i])
		}
	}

	removed := len(e.jobs) - len(kept)
	e.jobs = kept
	e.reindexLocked()

	snap, observers := e.snapshotLocked(), e.observers
	e.mu.Unlock()

	if removed == 0 {
		return
	}

	signal(e.kick)
	notify(observers, snap)
}

// Wake is a hint that tracked jobs may have changed on the server. It
// triggers an immediate poll if any tracked job is still active; an idle
// engine stays idle.
func (e *Engine) Wake() {
	signal(e.hint)
}

// Snapshot returns the current tracked jobs and poll status.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.snapshotLocked()
}

// NextDelay computes the schedule after a fetch: no schedule for an empty
// set or when every job is terminal, otherwise the fixed interval.
func NextDelay(jobs []Job, interval time.Duration) (time.Duration, bool) {
	if !anyActive(jobs) {
		return 0, false
	}

	return interval, true
}

// Poll fetches every tracked job in one request and merges the results.
// Terminal records are never changed again, ids the server does not
// return keep their previous record, and ids that are not tracked are
// ignored. On failure the error is recorded in the snapshot and returned;
// the tracked set is kept.
//
// Polls never overlap. A poll whose ctx is canceled before the response is
// applied leaves the engine unchanged.
func (e *Engine) Poll(ctx context.Context) (Snapshot, error) {
	e.pollMu.Lock()
	defer e.pollMu.Unlock()

	ids := e.trackedIDs()
	if len(ids) == 0 {
		return e.Snapshot(), nil
	}

	fetched, err := e.fetcher.JobStatuses(ctx, ids)
	if ctx.Err() != nil {
		return e.Snapshot(), fmt.Errorf("poller: poll abandoned: %w", ctx.Err())
	}

	e.mu.Lock()

	e.lastPoll = e.now()

	if err != nil {
		e.lastErr = err
	} else {
		e.lastErr = nil
		e.mergeLocked(fetched)
	}

	snap, observers := e.snapshotLocked(), e.observers
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("poll failed, retrying next interval",
			slog.Int("tracked", len(ids)),
			slog.String("error", err.Error()),
		)
	} else {
		e.logger.Debug("poll applied",
			slog.Int("tracked", len(ids)),
			slog.Int("returned", len(fetched)),
			slog.Bool("active", snap.Active),
		)

		if e.mirror != nil {
			if mErr := e.mirror.Save(ctx, snap.Jobs); mErr != nil {
				e.logger.Warn("failed to persist poll result", slog.String("error", mErr.Error()))
			}
		}
	}

	notify(observers, snap)

	if err != nil {
		return snap, fmt.Errorf("poller: %w", err)
	}

	return snap, nil
}

// Run drives the schedule until ctx is canceled. While any tracked job is
// active it polls every interval, failed polls included. When nothing is
// active it waits for Track or Untrack to change the set.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("job polling started", slog.Duration("interval", e.interval))

	for {
		if err := e.wait(ctx); err != nil {
			e.logger.Info("job polling stopped")
			return nil
		}

		// The error is already recorded in the snapshot; the schedule
		// continues regardless.
		_, _ = e.Poll(ctx)
	}
}

// WaitIdle polls on the engine's schedule until no tracked job is active,
// returning the final snapshot. It is the foreground counterpart of Run.
func (e *Engine) WaitIdle(ctx context.Context) (Snapshot, error) {
	for {
		d, ok := NextDelay(e.Snapshot().Jobs, e.interval)
		if !ok {
			return e.Snapshot(), nil
		}

		select {
		case <-ctx.Done():
			return e.Snapshot(), ctx.Err()
		case <-e.after(d):
		case <-e.hint:
		}

		if !e.Snapshot().Active {
			continue
		}

		_, _ = e.Poll(ctx)
	}
}

// wait blocks until the next poll is due or ctx is done.
func (e *Engine) wait(ctx context.Context) error {
	var tick <-chan time.Time

	for {
		if tick == nil {
			if d, ok := NextDelay(e.Snapshot().Jobs, e.interval); ok {
				tick = e.after(d)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			tick = nil

			if e.Snapshot().Active {
				return nil
			}
		case <-e.kick:
			// A pending tick only stands while the set still has work.
			if _, ok := NextDelay(e.Snapshot().Jobs, e.interval); !ok {
				tick = nil
			}
		case <-e.hint:
			if e.Snapshot().Active {
				return nil
			}
		}
	}
}

func (e *Engine) trackedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, len(e.jobs))
	for i := range e.jobs {
		ids[i] = e.jobs[i].ID
	}

	return ids
}

func (e *Engine) mergeLocked(fetched []api.Job) {
	for i := range fetched {
		pos, ok := e.index[fetched[i].ID]
		if !ok {
			continue
		}

		cur := &e.jobs[pos]
		if cur.Status.Terminal() {
			continue
		}

		if cur.Status != fetched[i].Status {
			e.logger.Info("job status changed",
				slog.String("job_id", cur.ID),
				slog.String("from", cur.Status.String()),
				slog.String("to", fetched[i].Status.String()),
			)
		}

		cur.Job = fetched[i]
	}
}

func (e *Engine) reindexLocked() {
	e.index = make(map[string]int, len(e.jobs))
	for i := range e.jobs {
		e.index[e.jobs[i].ID] = i
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	jobs := make([]Job, len(e.jobs))
	copy(jobs, e.jobs)

	return Snapshot{
		Jobs:     jobs,
		Err:      e.lastErr,
		Active:   anyActive(jobs),
		LastPoll: e.lastPoll,
	}
}

func anyActive(jobs []Job) bool {
	for i := range jobs {
		if !jobs[i].Status.Terminal() {
			return true
		}
	}

	return false
}

// signal does a non-blocking send on a 1-buffered channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func notify(observers []func(Snapshot), snap Snapshot) {
	for _, fn := range observers {
		fn(snap)
	}
}
