package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/directory-import/pkg/importer"
	"github.com/Sternrassler/directory-import/pkg/importjob"
	"github.com/Sternrassler/directory-import/pkg/logging"
	"github.com/Sternrassler/directory-import/pkg/runner"
)

var runFresh bool

var runCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Drive one import job to completion",
	Long: `The run command starts or resumes a job and drives it in the foreground,
waiting out rate-limit windows. Interrupting it pauses the job so a later
run or the server can continue it.`,
	Args: cobra.ExactArgs(1),
	RunE: runJob,
}

func init() {
	runCmd.Flags().BoolVar(&runFresh, "fresh", false, "reset the job before starting")
}

func runJob(cmd *cobra.Command, args []string) error {
	id := args[0]
	logger := logging.NewLogger("importd")
	s := loadSettings()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, s, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := startJob(ctx, a.engine, id, runFresh)
	if err != nil {
		return err
	}

	bar := newProgressBar(cmd.ErrOrStderr(), id, p.TotalItems)
	rcfg := s.runnerConfig()
	rcfg.Logger = logger
	rcfg.OnProgress = bar.update

	r, err := runner.New(a.engine, rcfg)
	if err != nil {
		return err
	}

	final, err := r.Run(ctx, id)
	bar.finish()

	if ctx.Err() != nil {
		// Leave the job resumable.
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, perr := a.engine.Pause(pctx, id); perr != nil {
			logger.Warn().Err(perr).Str("job_id", id).Msg("Failed to pause interrupted job")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "interrupted: job %s paused at %d/%d\n", id, final.ProcessedItems, final.TotalItems)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), summary(final))
	if final.Status == importjob.StatusError {
		return fmt.Errorf("job %s failed", id)
	}
	return nil
}

// startJob starts id, optionally from scratch. A paused job is resumed.
func startJob(ctx context.Context, engine *importer.Engine, id string, fresh bool) (importer.Progress, error) {
	if fresh {
		if err := engine.Reset(ctx, id); err != nil {
			return importer.Progress{}, err
		}
	}
	return engine.Start(ctx, id)
}

func summary(p importer.Progress) string {
	out := fmt.Sprintf("job %s %s: %d/%d processed, %d imported, %d skipped, %d errors",
		p.JobID, p.Status, p.ProcessedItems, p.TotalItems,
		p.ImportedCount, p.SkippedCount, p.ErrorCount)
	if p.LastError != nil {
		out += "\nlast error: " + *p.LastError
	}
	return out
}

// progressBar renders runner progress. An unknown total shows a spinner.
type progressBar struct {
	bar   *progressbar.ProgressBar
	total int
}

func newProgressBar(w io.Writer, id string, total int) *progressBar {
	limit := total
	if limit <= 0 {
		limit = -1
	}
	return &progressBar{
		total: total,
		bar: progressbar.NewOptions(limit,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(id),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("profiles"),
			progressbar.OptionShowIts(),
			progressbar.OptionThrottle(100*time.Millisecond),
		),
	}
}

func (b *progressBar) update(p importer.Progress) {
	if p.TotalItems > 0 && p.TotalItems != b.total {
		b.total = p.TotalItems
		b.bar.ChangeMax(p.TotalItems)
	}

	switch {
	case p.WaitingForRateLimit:
		b.bar.Describe(fmt.Sprintf("%s (waiting %s for rate limit)", p.JobID, p.RetryAfter().Round(time.Second)))
	default:
		b.bar.Describe(p.JobID)
	}
	b.bar.Set(p.ProcessedItems)
}

func (b *progressBar) finish() {
	b.bar.Finish()
}
