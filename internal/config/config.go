// Package config loads and validates sync configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/zeit-on-tolino/internal/tolino"
)

// Environment variable names for the credentials. They keep their historic
// names and are not subject to the EPAPER_ prefix.
const (
	EnvTolinoUser        = "TOLINO_USER"
	EnvTolinoPassword    = "TOLINO_PASSWORD"
	EnvTolinoPartnerShop = "TOLINO_PARTNER_SHOP"
	EnvZeitUser          = "ZEIT_PREMIUM_USER"
	EnvZeitPassword      = "ZEIT_PREMIUM_PASSWORD"
	EnvGitHubWorkspace   = "GITHUB_WORKSPACE"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/68.0.3440.84 Safari/537.36"
	defaultZeitLoginURL   = "https://epaper.zeit.de/abo/diezeit"
	defaultTolinoLoginURL = "https://webreader.mytolino.com/"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// MissingEnvError reports a required environment variable that is not set.
type MissingEnvError struct {
	Name string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("the environment variable '%s' is missing. Ensure to export it", e.Name)
}

// Config captures all knobs loaded via Viper.
type Config struct {
	Zeit     ZeitConfig     `mapstructure:"zeit"`
	Tolino   TolinoConfig   `mapstructure:"tolino"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Delays   DelayConfig    `mapstructure:"delays"`
	Download DownloadConfig `mapstructure:"download"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	History  HistoryConfig  `mapstructure:"history"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Lock     LockConfig     `mapstructure:"lock"`
}

// ZeitConfig holds the e-paper portal settings.
type ZeitConfig struct {
	LoginURL       string        `mapstructure:"login_url"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	KeystrokeDelay time.Duration `mapstructure:"keystroke_delay"`
}

// TolinoConfig holds the cloud reader settings.
type TolinoConfig struct {
	LoginURL     string `mapstructure:"login_url"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	PartnerShop  string `mapstructure:"partner_shop"`
	DebugStorage bool   `mapstructure:"debug_storage"`
}

// BrowserConfig controls the Chrome instance.
type BrowserConfig struct {
	Headless      bool   `mapstructure:"headless"`
	UserAgent     string `mapstructure:"user_agent"`
	ExecPath      string `mapstructure:"exec_path"`
	NoSandbox     bool   `mapstructure:"no_sandbox"`
	WindowWidth   int    `mapstructure:"window_width"`
	WindowHeight  int    `mapstructure:"window_height"`
	ScreenshotDir string `mapstructure:"screenshot_dir"`
	// ActionTimeout bounds a single browser action; zero means delays.medium.
	ActionTimeout   time.Duration `mapstructure:"action_timeout"`
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout"`
}

// DelayConfig holds the fixed waits used throughout both site drivers.
type DelayConfig struct {
	Small  time.Duration `mapstructure:"small"`
	Medium time.Duration `mapstructure:"medium"`
	Large  time.Duration `mapstructure:"large"`
	XLarge time.Duration `mapstructure:"xlarge"`
}

// DownloadConfig controls where downloads land and how they are polled.
type DownloadConfig struct {
	Dir          string        `mapstructure:"dir"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ArchiveConfig selects where a copy of each issue is kept.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// HistoryConfig controls the Postgres run log.
type HistoryConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`

	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// NotifyConfig holds publish-subscribe notification metadata.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig controls the pushgateway export.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// LoggingConfig toggles zap development features and the file sink.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// LockConfig points at the lock file guarding concurrent runs.
type LockConfig struct {
	Path string `mapstructure:"path"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EPAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, getenv)
	if err := bindCredentials(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Tolino.PartnerShop = strings.ToLower(strings.TrimSpace(cfg.Tolino.PartnerShop))
	if cfg.Lock.Path == "" {
		cfg.Lock.Path = filepath.Join(cfg.Download.Dir, ".epaper-sync.lock")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, getenv func(string) string) {
	v.SetDefault("zeit.login_url", defaultZeitLoginURL)
	v.SetDefault("zeit.user", "")
	v.SetDefault("zeit.password", "")
	v.SetDefault("zeit.keystroke_delay", "100ms")
	v.SetDefault("tolino.login_url", defaultTolinoLoginURL)
	v.SetDefault("tolino.user", "")
	v.SetDefault("tolino.password", "")
	v.SetDefault("tolino.partner_shop", "")
	v.SetDefault("tolino.debug_storage", false)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", defaultUserAgent)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.screenshot_dir", defaultScreenshotDir(getenv))
	v.SetDefault("browser.action_timeout", "0s")
	v.SetDefault("browser.page_load_timeout", "60s")
	v.SetDefault("delays.small", "3s")
	v.SetDefault("delays.medium", "10s")
	v.SetDefault("delays.large", "30s")
	v.SetDefault("delays.xlarge", "200s")
	v.SetDefault("download.dir", filepath.Join(os.TempDir(), "epaper_downloads"))
	v.SetDefault("download.poll_interval", "2s")
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.prefix", "epapers")
	v.SetDefault("archive.local_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.table", "sync_runs")
	v.SetDefault("history.max_conns", 2)
	v.SetDefault("history.max_conn_lifetime", "30m")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "epaper_sync")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("lock.path", "")
}

func bindCredentials(v *viper.Viper) error {
	bindings := map[string]string{
		"tolino.user":         EnvTolinoUser,
		"tolino.password":     EnvTolinoPassword,
		"tolino.partner_shop": EnvTolinoPartnerShop,
		"zeit.user":           EnvZeitUser,
		"zeit.password":       EnvZeitPassword,
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

func defaultScreenshotDir(getenv func(string) string) string {
	if ws := strings.TrimSpace(getenv(EnvGitHubWorkspace)); ws != "" {
		return filepath.Join(ws, "screenshots")
	}
	return "screenshots"
}

// Validate enforces structural limits. Credentials are checked separately
// because read-only commands run without them.
func (c Config) Validate() error {
	if c.Delays.Small <= 0 || c.Delays.Medium <= 0 || c.Delays.Large <= 0 || c.Delays.XLarge <= 0 {
		return fmt.Errorf("delays.small, delays.medium, delays.large and delays.xlarge must be > 0")
	}
	if c.Browser.ActionTimeout < 0 || c.Browser.PageLoadTimeout <= 0 {
		return fmt.Errorf("browser.action_timeout must be >= 0 and browser.page_load_timeout > 0")
	}
	if c.Download.Dir == "" {
		return fmt.Errorf("download.dir is required")
	}
	if c.Download.PollInterval <= 0 {
		return fmt.Errorf("download.poll_interval must be > 0")
	}
	switch c.Archive.Provider {
	case "", "none":
	case "local":
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set when archive.provider is 'local'")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is 'gcs'")
		}
	default:
		return fmt.Errorf("unknown archive provider %q", c.Archive.Provider)
	}
	if c.History.DSN != "" && !validTableName.MatchString(c.History.Table) {
		return fmt.Errorf("invalid history.table %q", c.History.Table)
	}
	if c.Notify.Topic != "" && c.Notify.ProjectID == "" {
		return fmt.Errorf("notify.project_id must be set when notify.topic is set")
	}
	return nil
}

// RequireZeit checks the e-paper portal credentials are present.
func (c Config) RequireZeit() error {
	return requireAll(
		envValue{EnvZeitUser, c.Zeit.User},
		envValue{EnvZeitPassword, c.Zeit.Password},
	)
}

// RequireTolino checks the cloud reader credentials and that the partner shop is supported.
func (c Config) RequireTolino() error {
	if err := requireAll(
		envValue{EnvTolinoUser, c.Tolino.User},
		envValue{EnvTolinoPassword, c.Tolino.Password},
		envValue{EnvTolinoPartnerShop, c.Tolino.PartnerShop},
	); err != nil {
		return err
	}
	if _, err := tolino.LookupPartner(c.Tolino.PartnerShop); err != nil {
		return err
	}
	return nil
}

// RequireAll checks every credential the full sync needs, then the partner shop.
func (c Config) RequireAll() error {
	if err := requireAll(
		envValue{EnvTolinoUser, c.Tolino.User},
		envValue{EnvTolinoPassword, c.Tolino.Password},
		envValue{EnvTolinoPartnerShop, c.Tolino.PartnerShop},
		envValue{EnvZeitUser, c.Zeit.User},
		envValue{EnvZeitPassword, c.Zeit.Password},
	); err != nil {
		return err
	}
	return c.RequireTolino()
}

type envValue struct {
	name  string
	value string
}

func requireAll(values ...envValue) error {
	for _, ev := range values {
		if strings.TrimSpace(ev.value) == "" {
			return &MissingEnvError{Name: ev.name}
		}
	}
	return nil
}
