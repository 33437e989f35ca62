package image

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
	"kubegems.io/modelimage/pkg/config"
	"kubegems.io/modelimage/pkg/version"
	"kubegems.io/modelimage/pkg/workflow"
)

type GlobalOptions struct {
	ConfigFile string
	Provider   string
	Verbose    bool
}

var globalOptions = &GlobalOptions{}

func NewModelImageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "modelimage",
		Short:         "publish models as docker images and score them on kubernetes",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(NewListModelCmd())
	cmd.AddCommand(NewPublishCmd())
	cmd.AddCommand(NewLaunchCmd())
	cmd.AddCommand(NewExecuteCmd())
	cmd.AddCommand(NewQueryCmd())
	cmd.AddCommand(NewScoreLogCmd())
	cmd.AddCommand(NewSystemLogCmd())
	cmd.AddCommand(NewStopCmd())
	cmd.AddCommand(NewScoreCmd())
	cmd.AddCommand(NewDeploymentsCmd())
	cmd.AddCommand(NewVersionCmd())

	flags := cmd.PersistentFlags()
	flags.StringVar(&globalOptions.ConfigFile, "config", globalOptions.ConfigFile, "properties file, defaults to "+config.DefaultConfigFile)
	flags.StringVar(&globalOptions.Provider, "provider", globalOptions.Provider, "override provider.type: AWS, Azure, GCP or a custom section")
	flags.BoolVarP(&globalOptions.Verbose, "verbose", "v", globalOptions.Verbose, "turn on verbose")
	return cmd
}

func BaseContext(verbose bool) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	if verbose || os.Getenv("DEBUG") == "1" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		if verbose {
			stdr.SetVerbosity(1)
		}
		ctx = logr.NewContext(ctx, stdr.NewWithOptions(log.Default(), stdr.Options{LogCaller: stdr.Error}))
	}
	return ctx, cancel
}

// RunWorkflow loads the configuration, logs into the registry and runs fn.
func RunWorkflow(cmd *cobra.Command, fn func(ctx context.Context, w *workflow.Workflow) error) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Loading configuration properties...")
	cfg, err := config.Load(globalOptions.ConfigFile, globalOptions.Provider)
	if err != nil {
		return err
	}
	if globalOptions.Verbose {
		cfg.Verbose = true
	}
	ctx, cancel := BaseContext(cfg.Verbose)
	defer cancel()

	w, err := workflow.New(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer w.Close()
	cfg.Print(out, w.Registry)
	return fn(ctx, w)
}
