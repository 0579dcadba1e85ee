// Package upload submits capture files for analysis through a bounded
// worker pool with shared pacing.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/tonimelisma/netanalyzer-go/internal/api"
	"github.com/tonimelisma/netanalyzer-go/internal/poller"
)

// DefaultParallel is the worker count used when none is configured.
const DefaultParallel = 4

// Submitter uploads one capture. *api.Client implements it.
type Submitter interface {
	SubmitJob(ctx context.Context, filename string, r io.Reader) (*api.Job, error)
}

// Result is the outcome of one file. Exactly one of Job and Err is set.
type Result struct {
	Path string
	Job  poller.Job
	Err  error
}

// Report collects the results of a batch in input order.
type Report struct {
	Results []Result
}

// Jobs returns the jobs that were created.
func (r *Report) Jobs() []poller.Job {
	var jobs []poller.Job

	for _, res := range r.Results {
		if res.Err == nil {
			jobs = append(jobs, res.Job)
		}
	}

	return jobs
}

// Failed returns the number of files that could not be submitted.
func (r *Report) Failed() int {
	n := 0

	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}

	return n
}

// Manager dispatches uploads. A nil limiter means unpaced.
type Manager struct {
	submitter Submitter
	workers   int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewManager creates a manager running at most parallel uploads at once and
// starting at most ratePerSecond uploads per second (0 = unlimited).
func NewManager(submitter Submitter, parallel int, ratePerSecond float64, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if parallel <= 0 {
		parallel = DefaultParallel
	}

	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}

	logger.Debug("upload: manager created",
		slog.Int("workers", parallel),
		slog.Bool("paced", limiter != nil),
	)

	return &Manager{
		submitter: submitter,
		workers:   parallel,
		limiter:   limiter,
		logger:    logger,
	}
}

// SubmitAll uploads every path. Per-file failures are recorded in the report
// and do not stop the batch; a session-fatal error aborts the remaining
// uploads and is returned along with the partial report.
func (m *Manager) SubmitAll(ctx context.Context, paths []string) (*Report, error) {
	report := &Report{Results: make([]Result, len(paths))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	var mu sync.Mutex

	for i, path := range paths {
		g.Go(func() error {
			job, err := m.Submit(gctx, path)

			mu.Lock()
			report.Results[i] = Result{Path: path, Job: job, Err: err}
			mu.Unlock()

			if err != nil {
				if api.IsSessionFatal(err) {
					return err
				}

				m.logger.Warn("upload: file skipped",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	return report, nil
}

// Submit uploads a single file and returns the tracked job for it. The job
// name is the NFC-normalized base name of path.
func (m *Manager) Submit(ctx context.Context, path string) (poller.Job, error) {
	if err := ctx.Err(); err != nil {
		return poller.Job{}, fmt.Errorf("upload: %s: %w", path, err)
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return poller.Job{}, fmt.Errorf("upload: %s: %w", path, err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return poller.Job{}, fmt.Errorf("upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return poller.Job{}, fmt.Errorf("upload: %w", err)
	}

	if !info.Mode().IsRegular() {
		return poller.Job{}, fmt.Errorf("upload: %s is not a regular file", path)
	}

	name := norm.NFC.String(filepath.Base(path))

	job, err := m.submitter.SubmitJob(ctx, name, f)
	if err != nil {
		return poller.Job{}, fmt.Errorf("upload: %s: %w", name, err)
	}

	m.logger.Info("upload: submitted",
		slog.String("name", name),
		slog.String("job", job.ID),
		slog.Int64("size", info.Size()),
	)

	return poller.Job{Job: *job, Name: name}, nil
}
