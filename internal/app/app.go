// Package app initializes and holds the services a command needs, acting as a
// dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/zeit-on-tolino/internal/archive"
	"github.com/JakeFAU/zeit-on-tolino/internal/archive/gcs"
	"github.com/JakeFAU/zeit-on-tolino/internal/archive/local"
	"github.com/JakeFAU/zeit-on-tolino/internal/browser"
	"github.com/JakeFAU/zeit-on-tolino/internal/clock/system"
	"github.com/JakeFAU/zeit-on-tolino/internal/config"
	"github.com/JakeFAU/zeit-on-tolino/internal/epaper"
	"github.com/JakeFAU/zeit-on-tolino/internal/epub"
	"github.com/JakeFAU/zeit-on-tolino/internal/hash/sha256"
	"github.com/JakeFAU/zeit-on-tolino/internal/history/postgres"
	"github.com/JakeFAU/zeit-on-tolino/internal/id/uuid"
	"github.com/JakeFAU/zeit-on-tolino/internal/lock"
	"github.com/JakeFAU/zeit-on-tolino/internal/metrics"
	"github.com/JakeFAU/zeit-on-tolino/internal/pipeline"
	"github.com/JakeFAU/zeit-on-tolino/internal/publisher/pubsub"
	"github.com/JakeFAU/zeit-on-tolino/internal/tolino"
	"github.com/JakeFAU/zeit-on-tolino/internal/zeit"
)

// ErrHistoryDisabled is returned by History when no DSN is configured.
var ErrHistoryDisabled = errors.New("run history is disabled, set history.dsn")

// Stages selects which site drivers a runner gets.
type Stages struct {
	Download bool
	Upload   bool
}

// App holds the long-lived services for one invocation.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	archive  epaper.BlobStore
	runs     *postgres.RunStore
	notifier *pubsub.Publisher
	recorder *metrics.Recorder
	closers  []func() error
}

// New creates the optional archive, history and notification services from
// cfg. It fails fast when a configured service cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, recorder: metrics.New()}

	store, err := a.newArchive(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("initialize archive: %w", err)
	}
	a.archive = store

	if cfg.History.DSN != "" {
		logger.Info("connecting to run history", zap.String("table", cfg.History.Table))
		runs, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.History.DSN,
			Table:    cfg.History.Table,
			MaxConns: cfg.History.MaxConns,

			MaxConnLifetime: cfg.History.MaxConnLifetime,
		})
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("initialize history: %w", err)
		}
		a.closers = append(a.closers, func() error { runs.Close(); return nil })
		if err := runs.EnsureSchema(ctx); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("initialize history: %w", err)
		}
		a.runs = runs
	}

	if cfg.Notify.Topic != "" {
		logger.Info("publishing run events", zap.String("topic", cfg.Notify.Topic))
		pub, err := pubsub.Dial(ctx, pubsub.Config{ProjectID: cfg.Notify.ProjectID, Topic: cfg.Notify.Topic})
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("initialize notifications: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		a.notifier = pub
	}
	return a, nil
}

func (a *App) newArchive(ctx context.Context) (epaper.BlobStore, error) {
	switch a.cfg.Archive.Provider {
	case archive.ProviderLocal:
		a.logger.Info("archiving issues locally", zap.String("dir", a.cfg.Archive.LocalDir))
		return local.New(local.Config{BaseDir: a.cfg.Archive.LocalDir})
	case archive.ProviderGCS:
		a.logger.Info("archiving issues to GCS", zap.String("bucket", a.cfg.Archive.GCSBucket))
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case archive.ProviderNone, "":
		return archive.NoopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown archive provider: %s", a.cfg.Archive.Provider)
	}
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Recorder returns the metrics recorder.
func (a *App) Recorder() *metrics.Recorder {
	return a.recorder
}

// History returns the run store, or ErrHistoryDisabled.
func (a *App) History() (epaper.RunStore, error) {
	if a.runs == nil {
		return nil, ErrHistoryDisabled
	}
	return a.runs, nil
}

// Runner takes the run lock and builds a pipeline runner. When a stage is
// requested a Chrome session is launched and shared by both drivers. The
// returned release func shuts the session down and drops the lock.
func (a *App) Runner(ctx context.Context, stages Stages) (*pipeline.Runner, func(), error) {
	runLock := lock.New(a.cfg.Lock.Path)
	if err := runLock.Acquire(); err != nil {
		return nil, nil, err
	}
	unlock := func() {
		if err := runLock.Release(); err != nil {
			a.logger.Warn("release lock failed", zap.Error(err))
		}
	}

	deps := pipeline.Deps{
		Metadata: epub.NewReader(),
		Hasher:   sha256.New(),
		Clock:    system.New(),
		IDs:      uuid.New(),
		Archive:  a.archive,
		Recorder: a.recorder,
	}
	if a.runs != nil {
		deps.Runs = a.runs
	}
	if a.notifier != nil {
		deps.Publisher = a.notifier
	}

	release := unlock
	if stages.Download || stages.Upload {
		session, err := browser.NewSession(ctx, a.browserConfig(), a.logger)
		if err != nil {
			unlock()
			return nil, nil, fmt.Errorf("start browser: %w", err)
		}
		release = func() {
			session.Close()
			unlock()
		}
		if stages.Download {
			deps.Downloader = zeit.New(session, a.zeitConfig(), a.logger)
		}
		if stages.Upload {
			uploader, err := tolino.New(session, a.tolinoConfig(), a.logger)
			if err != nil {
				release()
				return nil, nil, err
			}
			deps.Uploader = uploader
		}
	}

	runner, err := pipeline.New(deps, pipeline.Config{ArchivePrefix: a.cfg.Archive.Prefix}, a.logger)
	if err != nil {
		release()
		return nil, nil, err
	}
	return runner, release, nil
}

func (a *App) browserConfig() browser.Config {
	b := a.cfg.Browser
	actionTimeout := b.ActionTimeout
	if actionTimeout == 0 {
		actionTimeout = a.cfg.Delays.Medium
	}
	return browser.Config{
		Headless:     b.Headless,
		UserAgent:    b.UserAgent,
		ExecPath:     b.ExecPath,
		NoSandbox:    b.NoSandbox,
		WindowWidth:  b.WindowWidth,
		WindowHeight: b.WindowHeight,
		DownloadDir:  a.cfg.Download.Dir,
		PollInterval: 250 * time.Millisecond,

		ActionTimeout:   actionTimeout,
		PageLoadTimeout: b.PageLoadTimeout,
	}
}

func (a *App) zeitConfig() zeit.Config {
	d := a.cfg.Delays
	return zeit.Config{
		LoginURL:       a.cfg.Zeit.LoginURL,
		User:           a.cfg.Zeit.User,
		Password:       a.cfg.Zeit.Password,
		KeystrokeDelay: a.cfg.Zeit.KeystrokeDelay,
		DownloadDir:    a.cfg.Download.Dir,
		ScreenshotDir:  a.cfg.Browser.ScreenshotDir,
		PollInterval:   a.cfg.Download.PollInterval,
		Delays:         zeit.Delays{Small: d.Small, Medium: d.Medium, Large: d.Large},
	}
}

func (a *App) tolinoConfig() tolino.Config {
	d := a.cfg.Delays
	return tolino.Config{
		LoginURL:      a.cfg.Tolino.LoginURL,
		User:          a.cfg.Tolino.User,
		Password:      a.cfg.Tolino.Password,
		PartnerShop:   a.cfg.Tolino.PartnerShop,
		ScreenshotDir: a.cfg.Browser.ScreenshotDir,
		DebugStorage:  a.cfg.Tolino.DebugStorage,
		Delays:        tolino.Delays{Small: d.Small, Medium: d.Medium, Large: d.Large, XLarge: d.XLarge},
	}
}

// Close pushes metrics when a pushgateway is configured and shuts down all
// services in reverse order of creation.
func (a *App) Close(ctx context.Context) {
	if url := a.cfg.Metrics.PushgatewayURL; url != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := a.recorder.Push(pushCtx, url, a.cfg.Metrics.Job); err != nil {
			a.logger.Warn("push metrics failed", zap.Error(err))
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}
