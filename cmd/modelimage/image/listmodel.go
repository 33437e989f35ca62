package image

import (
	"context"

	"github.com/spf13/cobra"
	"kubegems.io/modelimage/pkg/workflow"
)

func NewListModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listmodel <key>",
		Short: "list models of the model repository whose name contains key",
		Example: `
  modelimage listmodel all
  modelimage listmodel boost
		`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunWorkflow(cmd, func(ctx context.Context, w *workflow.Workflow) error {
				_, err := w.ListModels(ctx, args[0])
				return err
			})
		},
	}
	return cmd
}
