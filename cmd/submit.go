package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/bus"
	"github.com/sells-group/docflow/internal/model"
)

var submitBlueprint string

var submitCmd = &cobra.Command{
	Use:   "submit <source-uri>",
	Short: "Submit a document for processing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("submit"); err != nil {
			return err
		}
		if submitBlueprint == "" {
			return eris.New("--blueprint is required")
		}

		reg, err := loadRegistry(cfg)
		if err != nil {
			return err
		}
		if _, ok := reg.Get(submitBlueprint); !ok {
			return eris.Errorf("unknown blueprint %q (known: %v)", submitBlueprint, reg.IDs())
		}

		ctx := cmd.Context()
		b, err := connectBus(ctx, cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		sourceURI := args[0]
		evt := bus.DocumentArrived{
			SourceURI:   sourceURI,
			BlueprintID: submitBlueprint,
			ReceivedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		}
		if err := b.Publish(ctx, bus.SubjectDocumentArrived, evt); err != nil {
			return err
		}

		documentID := model.DocumentIDFromSource(sourceURI)
		zap.L().Info("document submitted",
			zap.String("document_id", documentID),
			zap.String("blueprint_id", submitBlueprint),
		)
		fmt.Printf("submitted %s\ndocument_id: %s\n", sourceURI, documentID)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitBlueprint, "blueprint", "", "blueprint id to extract against")
	rootCmd.AddCommand(submitCmd)
}
