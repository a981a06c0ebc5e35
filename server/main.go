package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ctolnik/office-insight/server/config"
	"github.com/ctolnik/office-insight/zapctx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set at build time via ldflags.
var version = "dev"

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "office-insight",
		Short:         "Activity log dashboard server with AI-assisted analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")

	root.AddCommand(
		newServeCmd(),
		newAnalyzeCmd(),
		newUsersCmd(),
		newSeedCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads and validates the config file. A missing file at the
// default path falls back to defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg, err = config.Defaults(), nil
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setup loads the config, installs the process logger and wires the app.
func setup(ctx context.Context, cmd *cobra.Command, opts ...appOption) (*app, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	zapctx.SetFallback(logger)

	a, err := newApp(ctx, cfg, opts...)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return a, logger, nil
}
