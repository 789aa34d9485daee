package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv(EnvTolinoUser, "reader@example.com")
	t.Setenv(EnvTolinoPassword, "tolino-secret")
	t.Setenv(EnvTolinoPartnerShop, "Thalia")
	t.Setenv(EnvZeitUser, "reader@example.com")
	t.Setenv(EnvZeitPassword, "zeit-secret")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("", noEnv)
	require.NoError(t, err)

	require.Equal(t, defaultZeitLoginURL, cfg.Zeit.LoginURL)
	require.Equal(t, defaultTolinoLoginURL, cfg.Tolino.LoginURL)
	require.Equal(t, 100*time.Millisecond, cfg.Zeit.KeystrokeDelay)
	require.True(t, cfg.Browser.Headless)
	require.Equal(t, defaultUserAgent, cfg.Browser.UserAgent)
	require.Equal(t, "screenshots", cfg.Browser.ScreenshotDir)
	require.Equal(t, DelayConfig{
		Small:  3 * time.Second,
		Medium: 10 * time.Second,
		Large:  30 * time.Second,
		XLarge: 200 * time.Second,
	}, cfg.Delays)
	require.Equal(t, 2*time.Second, cfg.Download.PollInterval)
	require.Equal(t, filepath.Join(cfg.Download.Dir, ".epaper-sync.lock"), cfg.Lock.Path)
	require.Equal(t, "none", cfg.Archive.Provider)
	require.Equal(t, "sync_runs", cfg.History.Table)
	require.Equal(t, 30*time.Minute, cfg.History.MaxConnLifetime)
	require.Zero(t, cfg.Browser.ActionTimeout)
	require.Equal(t, time.Minute, cfg.Browser.PageLoadTimeout)
}

func TestLoadReadsCredentialsFromHistoricEnvNames(t *testing.T) {
	setCredentials(t)

	cfg, err := load("", noEnv)
	require.NoError(t, err)
	require.Equal(t, "reader@example.com", cfg.Tolino.User)
	require.Equal(t, "tolino-secret", cfg.Tolino.Password)
	require.Equal(t, "thalia", cfg.Tolino.PartnerShop)
	require.Equal(t, "zeit-secret", cfg.Zeit.Password)
	require.NoError(t, cfg.RequireAll())
}

func TestLoadPrefixedEnvOverrides(t *testing.T) {
	t.Setenv("EPAPER_BROWSER_HEADLESS", "false")
	t.Setenv("EPAPER_DELAYS_SMALL", "250ms")

	cfg, err := load("", noEnv)
	require.NoError(t, err)
	require.False(t, cfg.Browser.Headless)
	require.Equal(t, 250*time.Millisecond, cfg.Delays.Small)
}

func TestLoadScreenshotDirFollowsWorkspace(t *testing.T) {
	cfg, err := load("", func(key string) string {
		if key == EnvGitHubWorkspace {
			return "/github/workspace"
		}
		return ""
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/github/workspace", "screenshots"), cfg.Browser.ScreenshotDir)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
browser:
  headless: false
  no_sandbox: true
  screenshot_dir: /tmp/shots
delays:
  small: 1s
  medium: 2s
  large: 5s
  xlarge: 1m
download:
  dir: /tmp/epaper
archive:
  provider: local
  local_dir: /srv/epapers
history:
  dsn: postgres://localhost/epaper
  table: runs
notify:
  project_id: my-project
  topic: epaper-sync
logging:
  development: true
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := load(path, noEnv)
	require.NoError(t, err)
	require.False(t, cfg.Browser.Headless)
	require.True(t, cfg.Browser.NoSandbox)
	require.Equal(t, "/tmp/shots", cfg.Browser.ScreenshotDir)
	require.Equal(t, time.Minute, cfg.Delays.XLarge)
	require.Equal(t, "/tmp/epaper/.epaper-sync.lock", cfg.Lock.Path)
	require.Equal(t, "local", cfg.Archive.Provider)
	require.Equal(t, "runs", cfg.History.Table)
	require.Equal(t, "epaper-sync", cfg.Notify.Topic)
	require.True(t, cfg.Logging.Development)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "absent.yaml"), noEnv)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := load("", noEnv)
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero delay", func(c *Config) { c.Delays.Medium = 0 }, "delays"},
		{"negative action timeout", func(c *Config) { c.Browser.ActionTimeout = -time.Second }, "browser.action_timeout"},
		{"zero page load timeout", func(c *Config) { c.Browser.PageLoadTimeout = 0 }, "browser.page_load_timeout"},
		{"no download dir", func(c *Config) { c.Download.Dir = "" }, "download.dir"},
		{"zero poll", func(c *Config) { c.Download.PollInterval = 0 }, "poll_interval"},
		{"local without dir", func(c *Config) { c.Archive.Provider = "local" }, "archive.local_dir"},
		{"gcs without bucket", func(c *Config) { c.Archive.Provider = "gcs" }, "archive.gcs_bucket"},
		{"unknown provider", func(c *Config) { c.Archive.Provider = "s3" }, "unknown archive provider"},
		{"bad table", func(c *Config) {
			c.History.DSN = "postgres://x"
			c.History.Table = "runs;drop"
		}, "invalid history.table"},
		{"topic without project", func(c *Config) { c.Notify.Topic = "t" }, "notify.project_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
	require.NoError(t, base.Validate())
}

func TestRequireAllReportsFirstMissingVariable(t *testing.T) {
	cfg, err := load("", noEnv)
	require.NoError(t, err)

	err = cfg.RequireAll()
	var missing *MissingEnvError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, EnvTolinoUser, missing.Name)

	cfg.Tolino.User = "u"
	cfg.Tolino.Password = "p"
	cfg.Tolino.PartnerShop = "thalia"
	cfg.Zeit.User = "u"
	err = cfg.RequireAll()
	require.True(t, errors.As(err, &missing))
	require.Equal(t, EnvZeitPassword, missing.Name)
	require.ErrorContains(t, err, "'ZEIT_PREMIUM_PASSWORD' is missing")
}

func TestRequireTolinoRejectsUnsupportedShop(t *testing.T) {
	cfg := Config{Tolino: TolinoConfig{User: "u", Password: "p", PartnerShop: "amazon"}}
	require.ErrorContains(t, cfg.RequireTolino(), "not supported")

	cfg.Tolino.PartnerShop = "weltbild"
	require.NoError(t, cfg.RequireTolino())
	require.Error(t, cfg.RequireZeit())
}
