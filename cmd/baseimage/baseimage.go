package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
	"kubegems.io/modelimage/pkg/baseimage"
	"kubegems.io/modelimage/pkg/config"
	"kubegems.io/modelimage/pkg/version"
)

const ErrExitCode = 1

func main() {
	if err := NewBaseImageCmd().Execute(); err != nil {
		fmt.Println("Error:", err.Error())
		os.Exit(ErrExitCode)
	}
}

type options struct {
	ConfigFile string
	Provider   string
}

func NewBaseImageCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "baseimage",
		Short:         "build the base images model images are built from",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newPythonCmd(opts))
	cmd.AddCommand(newRCmd(opts))
	cmd.AddCommand(newMasPyCmd(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	})

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", opts.ConfigFile, "properties file, defaults to "+config.DefaultConfigFile)
	flags.StringVar(&opts.Provider, "provider", opts.Provider, "override provider.type")
	return cmd
}

func newPythonCmd(opts *options) *cobra.Command {
	major := baseimage.PythonMajorVersion
	cmd := &cobra.Command{
		Use:   "python",
		Short: "build the python base image",
		Example: `
  baseimage python --version 3
		`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, _ *config.Config, g *baseimage.Generator) error {
				_, err := g.Python(ctx, major)
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&major, "version", "v", major, "python major version")
	return cmd
}

func newRCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "r",
		Short: "build the r base image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, _ *config.Config, g *baseimage.Generator) error {
				_, err := g.R(ctx)
				return err
			})
		},
	}
}

func newMasPyCmd(opts *options) *cobra.Command {
	prepare := false
	cmd := &cobra.Command{
		Use:   "maspy",
		Short: "build the maspy base image",
		Example: `
  # copy the maspy runtime out of a viya install first
  baseimage maspy --prepare
		`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, cfg *config.Config, g *baseimage.Generator) error {
				if prepare {
					missing, err := baseimage.PrepareMasLibs(ctx, cfg.ViyaInstallDir, filepath.Join(g.Dir, baseimage.MasPyBaseDir))
					if err != nil {
						return err
					}
					for _, lib := range missing {
						fmt.Fprintf(cmd.OutOrStdout(), "Missing tk library: %s\n", lib)
					}
				}
				return g.MasPy(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&prepare, "prepare", prepare, "copy the maspy binaries and tk libraries from the viya install dir")
	return cmd
}

func run(cmd *cobra.Command, opts *options, fn func(ctx context.Context, cfg *config.Config, g *baseimage.Generator) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Loading configuration properties...")
	cfg, err := config.Load(opts.ConfigFile, opts.Provider)
	if err != nil {
		return err
	}
	if cfg.Verbose || os.Getenv("DEBUG") == "1" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		stdr.SetVerbosity(1)
		ctx = logr.NewContext(ctx, stdr.NewWithOptions(log.Default(), stdr.Options{LogCaller: stdr.Error}))
	}

	g, err := baseimage.New(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer g.Close()
	cfg.Print(out, g.Registry)
	return fn(ctx, cfg, g)
}
