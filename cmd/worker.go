package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docflow/internal/coordinator"
	"github.com/sells-group/docflow/internal/pipeline"
	"github.com/sells-group/docflow/pkg/extraction"
	"github.com/sells-group/docflow/pkg/review"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the pipeline worker: workflows, activities, and event consumers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		reg, err := loadRegistry(cfg)
		if err != nil {
			return err
		}

		b, err := connectBus(ctx, cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		tc, err := dialTemporal(cfg)
		if err != nil {
			return err
		}
		defer tc.Close()

		extractionClient := extraction.NewClient(cfg.Extraction.Key,
			extraction.WithBaseURL(cfg.Extraction.BaseURL))
		reviewClient := review.NewClient(cfg.Review.Key,
			review.WithBaseURL(cfg.Review.BaseURL))

		activities := &coordinator.Activities{
			Store:        st,
			Extraction:   extractionClient,
			Orchestrator: pipeline.NewOrchestrator(st, reviewClient, cfg.Review.CallbackURL),
			CallbackURL:  cfg.Extraction.CallbackURL,
		}

		w := worker.New(tc, coordinator.TaskQueue, worker.Options{})
		w.RegisterWorkflow(coordinator.DocumentPipeline)
		w.RegisterActivity(activities)

		pipe := coordinator.NewPipelineClient(tc, st, reg, pipelineSettings(cfg))
		stopConsumer, err := coordinator.NewConsumer(b, pipe).Start(ctx)
		if err != nil {
			return err
		}
		defer stopConsumer()

		zap.L().Info("worker starting",
			zap.String("task_queue", coordinator.TaskQueue),
			zap.Strings("blueprints", reg.IDs()),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := w.Run(worker.InterruptCh()); err != nil {
				return eris.Wrap(err, "worker run")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			w.Stop()
			return nil
		})
		if ttl := cfg.Review.TaskTTL(); ttl > 0 {
			expirer := coordinator.NewReviewTaskExpirer(st, ttl)
			g.Go(func() error { return expirer.Run(gctx) })
		}
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
