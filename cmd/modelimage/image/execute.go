package image

import (
	"context"

	"github.com/spf13/cobra"
	"kubegems.io/modelimage/pkg/workflow"
)

func NewExecuteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <service_url> <csv_file>",
		Short: "score a csv file in a launched container",
		Example: `
  modelimage execute http://34.1.2.3:30080 ./data/test.csv
		`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunWorkflow(cmd, func(ctx context.Context, w *workflow.Workflow) error {
				_, err := w.Execute(ctx, args[0], args[1])
				return err
			})
		},
	}
	return cmd
}

func NewQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <service_url> <test_id>",
		Short: "retrieve the result of a score execution",
		Example: `
  modelimage query http://34.1.2.3:30080 1589212345.123456
		`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunWorkflow(cmd, func(ctx context.Context, w *workflow.Workflow) error {
				_, err := w.Query(ctx, args[0], args[1])
				return err
			})
		},
	}
	return cmd
}

func NewScoreLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scorelog <service_url> <test_id>",
		Short: "retrieve the execution log of a score execution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunWorkflow(cmd, func(ctx context.Context, w *workflow.Workflow) error {
				_, err := w.ScoreLog(ctx, args[0], args[1])
				return err
			})
		},
	}
	return cmd
}

func NewSystemLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "systemlog <service_url>",
		Short: "retrieve the system log of a launched container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunWorkflow(cmd, func(ctx context.Context, w *workflow.Workflow) error {
				_, err := w.SystemLog(ctx, args[0])
				return err
			})
		},
	}
	return cmd
}

func NewScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score <image_url> <csv_file>",
		Short: "launch, execute, query and stop in one go",
		Example: `
  modelimage score localhost:5000/gradient_4f2a7a3b:latest ./data/test.csv
		`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunWorkflow(cmd, func(ctx context.Context, w *workflow.Workflow) error {
				_, err := w.Score(ctx, args[0], args[1])
				return err
			})
		},
	}
	return cmd
}
