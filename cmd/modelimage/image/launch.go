package image

import (
	"context"

	"github.com/spf13/cobra"
	"kubegems.io/modelimage/pkg/workflow"
)

func NewLaunchCmd() *cobra.Command {
	dryRun := false
	cmd := &cobra.Command{
		Use:   "launch <image_url>",
		Short: "run a model image on kubernetes and wait for its scoring service",
		Example: `
  modelimage launch 123456789012.dkr.ecr.us-east-1.amazonaws.com/gradient_4f2a7a3b:latest
  modelimage launch localhost:5000/gradient_4f2a7a3b:latest --dry-run
		`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunWorkflow(cmd, func(ctx context.Context, w *workflow.Workflow) error {
				if dryRun {
					manifests, err := w.Manifests(ctx, args[0])
					if err != nil {
						return err
					}
					_, err = cmd.OutOrStdout().Write(manifests)
					return err
				}
				_, err := w.Launch(ctx, args[0])
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", dryRun, "print the deployment and service instead of creating them")
	return cmd
}

func NewStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <deployment_name>",
		Short: "delete a launched deployment and its service",
		Example: `
  modelimage stop gradient-x7k2p9
		`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunWorkflow(cmd, func(ctx context.Context, w *workflow.Workflow) error {
				return w.Stop(ctx, args[0])
			})
		},
	}
	return cmd
}

func NewDeploymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployments",
		Short: "list the deployments launched by modelimage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunWorkflow(cmd, func(ctx context.Context, w *workflow.Workflow) error {
				_, err := w.Deployments(ctx)
				return err
			})
		},
	}
	return cmd
}
