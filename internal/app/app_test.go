package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/zeit-on-tolino/internal/archive"
	"github.com/JakeFAU/zeit-on-tolino/internal/config"
	"github.com/JakeFAU/zeit-on-tolino/internal/epaper"
	"github.com/JakeFAU/zeit-on-tolino/internal/lock"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Download: config.DownloadConfig{Dir: dir, PollInterval: time.Millisecond},
		Archive:  config.ArchiveConfig{Provider: "none", Prefix: "epapers"},
		Lock:     config.LockConfig{Path: filepath.Join(dir, ".epaper-sync.lock")},
	}
}

func TestNewWithoutOptionalServices(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), baseConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close(context.Background())

	require.IsType(t, archive.NoopStore{}, a.archive)
	_, err = a.History()
	require.ErrorIs(t, err, ErrHistoryDisabled)
	require.NotNil(t, a.Recorder())
	require.NotNil(t, a.Logger())
}

func TestNewLocalArchive(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Archive.Provider = "local"
	cfg.Archive.LocalDir = filepath.Join(t.TempDir(), "archive")

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close(context.Background())

	uri, err := a.archive.PutObject(context.Background(), "epapers/2024/x.epub", "", strings.NewReader("x"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "file://"))
}

func TestNewUnknownArchive(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Archive.Provider = "s3"
	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "unknown archive provider")
}

func TestNewBadHistoryDSN(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.History.DSN = "postgres://%zz"
	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "initialize history")
}

func TestRunnerWithoutBrowserStages(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), baseConfig(t), nil)
	require.NoError(t, err)
	defer a.Close(context.Background())

	runner, release, err := a.Runner(context.Background(), Stages{})
	require.NoError(t, err)
	defer release()

	_, err = runner.Sync(context.Background())
	require.ErrorContains(t, err, "needs a downloader and an uploader")
}

func TestRunnerLocksBeforeBrowserStarts(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Browser.ExecPath = filepath.Join(t.TempDir(), "no-such-chrome")
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close(context.Background())

	held := lock.New(cfg.Lock.Path)
	require.NoError(t, held.Acquire())
	defer func() { _ = held.Release() }()

	_, _, err = a.Runner(context.Background(), Stages{Download: true, Upload: true})
	require.ErrorIs(t, err, lock.ErrAlreadyRunning)
}

func TestRunnerReleaseDropsLock(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close(context.Background())

	_, release, err := a.Runner(context.Background(), Stages{})
	require.NoError(t, err)

	_, _, err = a.Runner(context.Background(), Stages{})
	require.ErrorIs(t, err, lock.ErrAlreadyRunning)

	release()
	_, again, err := a.Runner(context.Background(), Stages{})
	require.NoError(t, err)
	again()
}

func TestBrowserConfigTimeouts(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Delays.Medium = 7 * time.Second
	cfg.Browser.PageLoadTimeout = time.Minute
	a := &App{cfg: cfg}
	require.Equal(t, 7*time.Second, a.browserConfig().ActionTimeout)
	require.Equal(t, time.Minute, a.browserConfig().PageLoadTimeout)

	a.cfg.Browser.ActionTimeout = 2 * time.Second
	require.Equal(t, 2*time.Second, a.browserConfig().ActionTimeout)
}

func TestClosePushesMetrics(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := baseConfig(t)
	cfg.Metrics = config.MetricsConfig{PushgatewayURL: srv.URL, Job: "epaper_sync"}
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	a.Recorder().ObserveRun(epaper.RunStatusUploaded, time.Now())
	a.Close(context.Background())
	require.Equal(t, "/metrics/job/epaper_sync", gotPath)
}

func TestDriverConfigsFollowSettings(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Delays = config.DelayConfig{Small: 1, Medium: 2, Large: 3, XLarge: 4}
	cfg.Tolino.PartnerShop = "thalia"
	cfg.Tolino.DebugStorage = true
	cfg.Browser.ScreenshotDir = "shots"
	a := &App{cfg: cfg}

	z := a.zeitConfig()
	require.Equal(t, cfg.Download.Dir, z.DownloadDir)
	require.Equal(t, time.Duration(3), z.Delays.Large)
	require.Equal(t, "shots", z.ScreenshotDir)

	tc := a.tolinoConfig()
	require.Equal(t, time.Duration(4), tc.Delays.XLarge)
	require.True(t, tc.DebugStorage)

	bc := a.browserConfig()
	require.Equal(t, cfg.Download.Dir, bc.DownloadDir)
}
