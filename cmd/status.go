package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/store"
)

var (
	statusDocument string
	statusState    string
	statusLimit    int
)

var statusCmd = &cobra.Command{
	Use:   "status [execution-id]",
	Short: "Show execution status, or list recent executions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if len(args) == 1 {
			exec, err := st.GetExecution(ctx, args[0])
			if err != nil {
				return err
			}
			printExecution(*exec)

			done, err := st.Exists(ctx, store.AggregatedResultPath(exec.ExecutionID))
			if err == nil && done {
				fmt.Printf("result: %s\n", store.AggregatedResultPath(exec.ExecutionID))
			}
			return nil
		}

		execs, err := st.ListExecutions(ctx, store.ExecutionFilter{
			DocumentID: statusDocument,
			State:      model.ExecutionState(statusState),
			Limit:      statusLimit,
		})
		if err != nil {
			return err
		}
		if len(execs) == 0 {
			fmt.Println("no executions found")
			return nil
		}
		for _, e := range execs {
			printExecution(e)
		}
		return nil
	},
}

func printExecution(e model.Execution) {
	line := fmt.Sprintf("%s  %-12s  doc=%s  blueprint=%s", e.ExecutionID, e.State, e.DocumentID, e.BlueprintID)
	if e.FailureCause != "" {
		line += "  cause=" + e.FailureCause
	}
	fmt.Println(line)
}

func init() {
	statusCmd.Flags().StringVar(&statusDocument, "document", "", "filter by document id")
	statusCmd.Flags().StringVar(&statusState, "state", "", "filter by execution state")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "max executions to list")
	rootCmd.AddCommand(statusCmd)
}
