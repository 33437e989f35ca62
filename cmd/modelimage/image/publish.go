package image

import (
	"context"

	"github.com/spf13/cobra"
	"kubegems.io/modelimage/pkg/workflow"
)

func NewPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish {id|file} <id_or_filename>",
		Short: "build the image of a model and push it to the registry",
		Example: `
  modelimage publish id 4f2a7a3b-4d1c-4a4e-9a59-2b3f1c7d8e90
  modelimage publish file ./models/gradient_boosting.zip
		`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{workflow.PublishByID, workflow.PublishByFile},
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunWorkflow(cmd, func(ctx context.Context, w *workflow.Workflow) error {
				_, err := w.Publish(ctx, args[0], args[1])
				return err
			})
		},
	}
	return cmd
}
