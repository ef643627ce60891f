package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/services"
	"github.com/ekaya-inc/catalog-enricher/pkg/services/workqueue"
)

func sweepCmd(opts *rootOptions) *cobra.Command {
	var (
		prefix   string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run every eligible pipeline stage for every table",
		Long: `Sweep fails claims that went stale, then queues enrichment for tables
that need it and relationship detection and graph import for tables whose
enrichment completed. Tables at the retry ceiling are left alone.

The command waits for the queued work and prints every task. With --interval
it keeps sweeping until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(needs{warehouse: true, llm: true, graph: true}, func(ctx context.Context, a *app) error {
				for {
					if err := sweepOnce(ctx, cmd, a, prefix); err != nil {
						return err
					}
					if interval <= 0 {
						return nil
					}
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(interval):
					}
				}
			})
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Only sweep tables whose identifier starts with this, e.g. analytics.sales.")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Repeat the sweep at this interval until interrupted")
	return cmd
}

func sweepOnce(ctx context.Context, cmd *cobra.Command, a *app, prefix string) error {
	queue := workqueue.New(a.logger,
		workqueue.WithStrategy(workqueue.NewThrottledLLMStrategy(a.cfg.LLM.MaxConcurrent)),
		workqueue.WithContext(ctx))
	sweeper := services.NewSweeper(a.tables, a.orchestrator, queue, a.cfg.Pipeline, prefix, a.logger)

	report, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	writeSweepReport(w, report)
	if report.Queued == 0 {
		return nil
	}

	err = queue.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		// Running tasks still record their outcome before the store closes.
		err = queue.Wait(context.Background())
	}
	writeTaskSnapshots(w, queue.GetTasks())

	p := queue.Progress()
	fmt.Fprintf(w, "%d completed, %d failed, %d cancelled\n", p.Completed, p.Failed, p.Cancelled)
	if err != nil {
		// Failures are recorded on the table axes; the next sweep retries them.
		a.logger.Warn("Sweep finished with failures", zap.Int("failed", p.Failed))
	}
	return nil
}
