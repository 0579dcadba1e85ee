package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/netanalyzer-go/internal/api"
	"github.com/tonimelisma/netanalyzer-go/internal/inbox"
	"github.com/tonimelisma/netanalyzer-go/internal/jobstore"
	"github.com/tonimelisma/netanalyzer-go/internal/notify"
	"github.com/tonimelisma/netanalyzer-go/internal/poller"
	"github.com/tonimelisma/netanalyzer-go/internal/upload"
)

// submittedDir is the subdirectory of the inbox that submitted files are
// moved into, so a restart does not submit them again.
const submittedDir = ".submitted"

func newInboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inbox DIR",
		Short: "Submit every capture dropped into DIR and track it until done",
		Long: `Watch DIR and submit each file once it has stopped changing. Submitted
files are moved to DIR/` + submittedDir + `. Jobs are tracked and polled
until the command is interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: runInbox,
	}
}

func runInbox(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	dir := args[0]

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("inbox: %s is not a directory", dir)
	}

	unlock, err := lockInbox(dir)
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	defer unlock()

	ctx, cancel := shutdownContext(cmd.Context(), cc.Logger)
	defer cancel()

	client, err := cc.apiClient(ctx)
	if err != nil {
		return err
	}

	store, err := cc.openJobs(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := poller.NewEngine(client, cc.Cfg.PollInterval, cc.Logger)
	engine.SetMirror(store)

	if !cc.Flags.JSON {
		engine.OnUpdate(progressPrinter(cmd.OutOrStdout()))
	}

	tracked, err := store.List(ctx)
	if err != nil {
		return err
	}

	engine.Track(tracked...)

	mgr := upload.NewManager(client, cc.Cfg.Parallel, cc.Cfg.RatePerSecond, cc.Logger)
	watcher := inbox.NewWatcher(dir, cc.Cfg.SettleDelay, cc.Logger)
	files := make(chan inbox.File)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watcher.Watch(gctx, files)
	})

	g.Go(func() error {
		return pollUntilFatal(gctx, engine)
	})

	g.Go(func() error {
		return submitDropped(gctx, cc, mgr, store, engine, files)
	})

	if cc.Cfg.NotifyURL != "" {
		listener := notify.NewListener(cc.Cfg.NotifyURL, cc.credentialStore(), engine.Wake, nil, cc.Logger)

		g.Go(func() error {
			return listener.Run(gctx)
		})
	}

	cc.Statusf("Watching %s (Ctrl-C to stop).\n", dir)

	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}

	cc.Statusf("Stopped; jobs remain tracked.\n")

	return nil
}

// pollUntilFatal runs engine until ctx ends or a poll fails with a
// session-fatal error, which it returns. Other poll errors stay on the
// schedule.
func pollUntilFatal(ctx context.Context, engine *poller.Engine) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	fatal := make(chan error, 1)

	engine.OnUpdate(func(snap poller.Snapshot) {
		if snap.Err == nil || !api.IsSessionFatal(snap.Err) {
			return
		}

		select {
		case fatal <- snap.Err:
		default:
		}

		stop()
	})

	if err := engine.Run(runCtx); err != nil {
		return err
	}

	select {
	case err := <-fatal:
		return err
	default:
		return nil
	}
}

// submitDropped uploads each settled file, tracks the job, and moves the
// file out of the inbox. Per-file failures are logged and the file is left
// in place; a session-fatal error stops the inbox.
func submitDropped(
	ctx context.Context, cc *CLIContext, mgr *upload.Manager, store *jobstore.Store, engine *poller.Engine,
	files <-chan inbox.File,
) error {
	for {
		var f inbox.File

		select {
		case <-ctx.Done():
			return nil
		case f = <-files:
		}

		job, err := mgr.Submit(ctx, f.Path)
		if err != nil {
			if api.IsSessionFatal(err) {
				return err
			}

			if ctx.Err() != nil {
				return nil
			}

			cc.Logger.Warn("inbox: submit failed", slog.String("path", f.Path), slog.String("error", err.Error()))

			continue
		}

		if err := store.Track(ctx, []poller.Job{job}); err != nil {
			return err
		}

		engine.Track(job)

		if err := moveSubmitted(f.Path); err != nil {
			cc.Logger.Warn("inbox: could not move submitted file",
				slog.String("path", f.Path), slog.String("error", err.Error()))
		}

		cc.Statusf("Submitted %s (%s) as job %s.\n", f.Name, formatSize(f.Size), job.ID)
	}
}

// moveSubmitted moves path into the submitted subdirectory next to it. An
// existing file of the same name is never overwritten.
func moveSubmitted(path string) error {
	dest := filepath.Join(filepath.Dir(path), submittedDir)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	target := filepath.Join(dest, filepath.Base(path))

	if _, err := os.Lstat(target); err == nil {
		return fmt.Errorf("%s already exists", target)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return os.Rename(path, target)
}
