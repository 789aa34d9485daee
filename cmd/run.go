package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/zeit-on-tolino/internal/app"
	"github.com/JakeFAU/zeit-on-tolino/internal/download"
	"github.com/JakeFAU/zeit-on-tolino/internal/epaper"
	"github.com/JakeFAU/zeit-on-tolino/internal/logging"
	"github.com/JakeFAU/zeit-on-tolino/internal/pipeline"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Download the newest issue and upload it to the tolino cloud",
		Args:  cobra.NoArgs,
		RunE:  runSync,
	}
}

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Only download the newest issue into the download directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.cfg.RequireZeit(); err != nil {
				return err
			}
			logCredentials(rt)
			return runStage(cmd, rt, app.Stages{Download: true}, func(r *pipeline.Runner) (epaper.RunRecord, error) {
				return r.Download(cmd.Context())
			})
		},
	}
}

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload [file]",
		Short: "Upload an EPUB to the tolino cloud unless its title is already there",
		Long: "Upload an EPUB to the tolino cloud unless its title is already there.\n" +
			"Without a file the newest complete download in download.dir is used.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.cfg.RequireTolino(); err != nil {
				return err
			}
			path, err := uploadPath(rt, args)
			if err != nil {
				return err
			}
			logCredentials(rt)
			return runStage(cmd, rt, app.Stages{Upload: true}, func(r *pipeline.Runner) (epaper.RunRecord, error) {
				return r.Upload(cmd.Context(), path)
			})
		},
	}
}

func uploadPath(rt *runtime, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	path, err := download.Latest(rt.cfg.Download.Dir)
	if err != nil {
		return "", err
	}
	rt.logger.Info("uploading newest download", zap.String("path", path))
	return path, nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	if err := rt.cfg.RequireAll(); err != nil {
		return err
	}
	logCredentials(rt)
	return runStage(cmd, rt, app.Stages{Download: true, Upload: true}, func(r *pipeline.Runner) (epaper.RunRecord, error) {
		return r.Sync(cmd.Context())
	})
}

func runStage(
	cmd *cobra.Command,
	rt *runtime,
	stages app.Stages,
	fn func(*pipeline.Runner) (epaper.RunRecord, error),
) error {
	return withApp(cmd.Context(), rt, func(a *app.App) error {
		runner, release, err := a.Runner(cmd.Context(), stages)
		if err != nil {
			return err
		}
		defer release()

		run, err := fn(runner)
		if err != nil {
			return err
		}
		printRun(cmd.OutOrStdout(), run)
		return nil
	})
}

func printRun(w io.Writer, run epaper.RunRecord) {
	_, _ = fmt.Fprintf(w, "%s: %s\n", run.Status, run.Title)
	if run.ArchiveURI != "" {
		_, _ = fmt.Fprintf(w, "archived at %s\n", run.ArchiveURI)
	}
}

func logCredentials(rt *runtime) {
	rt.logger.Info("credentials",
		logging.Redacted("zeit_user", rt.cfg.Zeit.User),
		logging.Redacted("zeit_password", rt.cfg.Zeit.Password),
		logging.Redacted("tolino_user", rt.cfg.Tolino.User),
		logging.Redacted("tolino_password", rt.cfg.Tolino.Password),
		zap.String("tolino_partner_shop", rt.cfg.Tolino.PartnerShop),
	)
}
