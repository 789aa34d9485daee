// Package cmd defines and implements the CLI commands for the epaper-sync executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/zeit-on-tolino/internal/app"
	"github.com/JakeFAU/zeit-on-tolino/internal/config"
	"github.com/JakeFAU/zeit-on-tolino/internal/logging"
)

// runtimeKeyType is the key for storing the loaded runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime is what PersistentPreRunE prepares for every subcommand.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the service factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates the root command. Without a subcommand it runs sync.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "epaper-sync",
		Short: "Download the latest DIE ZEIT e-paper and upload it to the tolino cloud.",
		Long: `epaper-sync logs into the ZEIT e-paper portal with a premium subscription,
downloads the newest issue as EPUB and uploads it to the tolino cloud through the
webreader of a partner shop, unless a book with the same title is already there.

Credentials are read from TOLINO_USER, TOLINO_PASSWORD, TOLINO_PARTNER_SHOP,
ZEIT_PREMIUM_USER and ZEIT_PREMIUM_PASSWORD. Every other setting can be given in a
config file or as EPAPER_* environment variables.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				File:        cfg.Logging.File,
				MaxSizeMB:   cfg.Logging.MaxSizeMB,
				MaxBackups:  cfg.Logging.MaxBackups,
				MaxAgeDays:  cfg.Logging.MaxAgeDays,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			logger.Debug("configuration loaded",
				zap.String("download_dir", cfg.Download.Dir),
				zap.String("screenshot_dir", cfg.Browser.ScreenshotDir),
				zap.String("archive_provider", cfg.Archive.Provider),
				zap.Bool("history", cfg.History.DSN != ""),
				zap.Bool("notify", cfg.Notify.Topic != ""),
			)

			ctx := context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok {
				_ = rt.logger.Sync()
			}
		},

		RunE: runSync,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(
		newSyncCmd(),
		newDownloadCmd(),
		newUploadCmd(),
		newInspectCmd(),
		newHistoryCmd(),
		newCheckCmd(),
	)
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// withApp builds the services, runs fn and closes them again.
func withApp(ctx context.Context, rt *runtime, fn func(*app.App) error) error {
	a, err := newApp(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer a.Close(ctx)
	return fn(a)
}

// Execute is the main entry point. Errors end the process with status 1.
func Execute() {
	bootstrap, err := zap.NewProduction()
	if err == nil {
		zap.ReplaceGlobals(bootstrap)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		zap.L().Fatal("command execution failed", zap.Error(err))
	}
}
