package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/caarlos0/env/v10"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
	"kubegems.io/modelimage/pkg/scoring"
	"kubegems.io/modelimage/pkg/version"
)

const ErrExitCode = 1

func main() {
	if err := NewScoreServerCmd().Execute(); err != nil {
		fmt.Println(err.Error())
		os.Exit(ErrExitCode)
	}
}

func NewScoreServerCmd() *cobra.Command {
	options := scoring.DefaultOptions()
	if err := env.Parse(options); err != nil {
		fmt.Println(err.Error())
	}
	verbose := false
	cmd := &cobra.Command{
		Use:     "scoreserver",
		Short:   "scoring service embedded into model images",
		Version: version.Get().String(),
		Example: `
  model_repository=/pybox/model scoreserver --listen :8080
		`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
			defer cancel()

			log.SetFlags(log.LstdFlags | log.Lshortfile)
			if verbose {
				stdr.SetVerbosity(1)
			}
			ctx = logr.NewContext(ctx, stdr.NewWithOptions(log.Default(), stdr.Options{LogCaller: stdr.Error}))

			return scoring.Run(ctx, options)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&options.Listen, "listen", options.Listen, "listen address")
	flags.StringVar(&options.ModelRepository, "model-repository", options.ModelRepository, "directory holding the model files")
	flags.StringVar(&options.SystemLog, "system-log", options.SystemLog, "access log file served on /system/log")
	flags.StringVar(&options.Python, "python", options.Python, "python interpreter running the score script")
	flags.StringVar(&options.SampleFile, "sample-file", options.SampleFile, "input used when a request carries no file")
	flags.Int64Var(&options.MaxConcurrent, "max-concurrent", options.MaxConcurrent, "max scoring jobs running at once")
	flags.Int64Var(&options.MaxUploadSize, "max-upload-size", options.MaxUploadSize, "max request body size in bytes")
	flags.BoolVarP(&verbose, "verbose", "v", verbose, "verbose logging")
	return cmd
}
