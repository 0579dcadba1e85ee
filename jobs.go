package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/netanalyzer-go/internal/api"
	"github.com/tonimelisma/netanalyzer-go/internal/jobstore"
	"github.com/tonimelisma/netanalyzer-go/internal/notify"
	"github.com/tonimelisma/netanalyzer-go/internal/poller"
	"github.com/tonimelisma/netanalyzer-go/internal/upload"
)

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit FILE...",
		Short: "Upload captures for analysis and track the resulting jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSubmit,
	}

	cmd.Flags().Bool("wait", false, "poll until every submitted job has finished")

	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Poll tracked jobs until all of them have finished",
		RunE:  runWatch,
	}
}

func newJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List tracked jobs as last seen, without contacting the service",
		RunE:  runJobs,
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List every job of the signed-in user",
		RunE:  runHistory,
	}
}

func newUntrackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "untrack [ID...]",
		Short: "Stop tracking jobs",
		RunE:  runUntrack,
	}

	cmd.Flags().Bool("finished", false, "untrack every job that is done or failed")

	return cmd
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	wait, _ := cmd.Flags().GetBool("wait")

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

	mgr := upload.NewManager(client, cc.Cfg.Parallel, cc.Cfg.RatePerSecond, cc.Logger)

	report, submitErr := mgr.SubmitAll(ctx, args)

	jobs := report.Jobs()
	if err := store.Track(ctx, jobs); err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	for _, res := range report.Results {
		if res.Err != nil {
			cc.Statusf("Failed %s: %v\n", res.Path, res.Err)
		}
	}

	if submitErr != nil {
		return submitErr
	}

	if wait && len(jobs) > 0 {
		final, err := watchJobs(ctx, cc, client, store, jobs, out)
		if err != nil {
			return err
		}

		jobs = final
	}

	if err := printJobs(out, jobs, cc.Flags.JSON); err != nil {
		return err
	}

	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d of %d files could not be submitted", n, len(report.Results))
	}

	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	ctx, cancel := shutdownContext(cmd.Context(), cc.Logger)
	defer cancel()

	store, err := cc.openJobs(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	tracked, err := store.List(ctx)
	if err != nil {
		return err
	}

	if len(tracked) == 0 {
		cc.Statusf("No tracked jobs.\n")
		return nil
	}

	client, err := cc.apiClient(ctx)
	if err != nil {
		return err
	}

	final, err := watchJobs(ctx, cc, client, store, tracked, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	return printJobs(cmd.OutOrStdout(), final, cc.Flags.JSON)
}

// watchJobs polls jobs until none is active, mirroring every result into
// store and reporting status changes. When a notify URL is configured the
// push listener runs alongside as a wake-up source. A session-fatal poll
// error ends the watch, since no later poll can succeed.
func watchJobs(
	ctx context.Context, cc *CLIContext, client *api.Client, store *jobstore.Store, jobs []poller.Job, out io.Writer,
) ([]poller.Job, error) {
	waitCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()

	engine := poller.NewEngine(client, cc.Cfg.PollInterval, cc.Logger)
	engine.SetMirror(store)

	if !cc.Flags.JSON {
		engine.OnUpdate(progressPrinter(out))
	}

	// Observers run on the polling goroutine, which is this one.
	var fatal error

	engine.OnUpdate(func(snap poller.Snapshot) {
		if snap.Err != nil && api.IsSessionFatal(snap.Err) {
			fatal = snap.Err
			stopWaiting()
		}
	})

	engine.Track(jobs...)

	var wg sync.WaitGroup

	if cc.Cfg.NotifyURL != "" {
		listener := notify.NewListener(cc.Cfg.NotifyURL, cc.credentialStore(), engine.Wake, nil, cc.Logger)

		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := listener.Run(waitCtx); err != nil {
				cc.Logger.Warn("job notifications unavailable", slog.String("error", err.Error()))
			}
		}()
	}

	snap, err := engine.WaitIdle(waitCtx)

	stopWaiting()
	wg.Wait()

	if fatal != nil {
		return nil, fatal
	}

	if err != nil && ctx.Err() != nil {
		cc.Statusf("Stopped watching; jobs remain tracked.\n")
		return snap.Jobs, nil
	}

	if err != nil {
		return nil, fmt.Errorf("watching jobs: %w", err)
	}

	return snap.Jobs, nil
}

// progressPrinter returns an observer that prints one line per job status
// change.
func progressPrinter(w io.Writer) func(poller.Snapshot) {
	var mu sync.Mutex

	seen := make(map[string]api.JobStatus)

	return func(snap poller.Snapshot) {
		mu.Lock()
		defer mu.Unlock()

		for _, j := range snap.Jobs {
			if seen[j.ID] == j.Status {
				continue
			}

			seen[j.ID] = j.Status

			line := fmt.Sprintf("%s  %s  %s", j.ID, displayName(j), j.Status)
			if d := jobDetail(j); d != "" {
				line += "  " + d
			}

			fmt.Fprintln(w, line)
		}
	}
}

func runJobs(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	store, err := cc.openJobs(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	jobs, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	return printJobs(cmd.OutOrStdout(), jobs, cc.Flags.JSON)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	client, err := cc.apiClient(cmd.Context())
	if err != nil {
		return err
	}

	all, err := client.JobStatuses(cmd.Context(), nil)
	if err != nil {
		return err
	}

	jobs := make([]poller.Job, len(all))
	for i := range all {
		jobs[i] = poller.Job{Job: all[i]}
	}

	return printJobs(cmd.OutOrStdout(), jobs, cc.Flags.JSON)
}

func runUntrack(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	finished, _ := cmd.Flags().GetBool("finished")

	if len(args) == 0 && !finished {
		return errors.New("give job IDs to untrack, or --finished")
	}

	store, err := cc.openJobs(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	ids := args

	if finished {
		jobs, err := store.List(cmd.Context())
		if err != nil {
			return err
		}

		for _, j := range jobs {
			if j.Status.Terminal() {
				ids = append(ids, j.ID)
			}
		}
	}

	n, err := store.Remove(cmd.Context(), ids)
	if err != nil {
		return err
	}

	cc.Statusf("Untracked %d job(s).\n", n)

	return nil
}
