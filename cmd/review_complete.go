package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/docflow/internal/coordinator"
	"github.com/sells-group/docflow/internal/model"
)

var (
	reviewCompleteTask        string
	reviewCompleteCorrections string
)

// review-complete injects reviewer corrections by hand when the review
// service cannot deliver its callback, e.g. after a webhook outage.
var reviewCompleteCmd = &cobra.Command{
	Use:   "review-complete <execution-id>",
	Short: "Deliver reviewer corrections to a running execution by hand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("signal"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		exec, err := st.GetExecution(ctx, args[0])
		if err != nil {
			return err
		}

		taskID := reviewCompleteTask
		if taskID == "" {
			task, err := st.GetPendingReviewTask(ctx, exec.DocumentID, exec.ExecutionID)
			if err != nil {
				return err
			}
			if task == nil {
				return eris.Errorf("no pending review task for execution %s", exec.ExecutionID)
			}
			taskID = task.TaskID
		}

		var corrections []model.Correction
		if reviewCompleteCorrections != "" {
			data, err := os.ReadFile(reviewCompleteCorrections)
			if err != nil {
				return eris.Wrap(err, "read corrections file")
			}
			if err := json.Unmarshal(data, &corrections); err != nil {
				return eris.Wrap(err, "decode corrections file")
			}
		}

		reg, err := loadRegistry(cfg)
		if err != nil {
			return err
		}

		tc, err := dialTemporal(cfg)
		if err != nil {
			return err
		}
		defer tc.Close()

		pipe := coordinator.NewPipelineClient(tc, st, reg, pipelineSettings(cfg))
		err = pipe.SignalReviewCompleted(ctx, exec.DocumentID, exec.ExecutionID, coordinator.ReviewSignal{
			TaskID:      taskID,
			Corrections: corrections,
		})
		if err != nil {
			return err
		}

		fmt.Printf("review completion delivered: execution=%s task=%s corrections=%d\n",
			exec.ExecutionID, taskID, len(corrections))
		return nil
	},
}

func init() {
	reviewCompleteCmd.Flags().StringVar(&reviewCompleteTask, "task", "", "review task id (default: the pending task)")
	reviewCompleteCmd.Flags().StringVar(&reviewCompleteCorrections, "corrections", "", "path to a JSON file of corrections")
	rootCmd.AddCommand(reviewCompleteCmd)
}
