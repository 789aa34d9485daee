// Package zeit drives the ZEIT e-paper subscriber portal: log in, open the
// current issue and download its EPUB.
package zeit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/zeit-on-tolino/internal/browser"
	"github.com/JakeFAU/zeit-on-tolino/internal/download"
	"github.com/JakeFAU/zeit-on-tolino/internal/logging"
)

// Page texts and selectors of the portal.
const (
	LinkToRecentEdition = "ZUR AKTUELLEN AUSGABE"
	LinkDownloadEPUB    = "EPUB FÜR E-READER LADEN"
	TextEPUBPending     = "EPUB FOLGT IN KÜRZE"

	selCaptcha       = ".frc-captcha"
	selEmail         = "#login_email"
	selPassword      = "#login_pass"
	selSubmit        = ".submit-button.log"
	selSectionHeader = ".page-section-header"

	// CaptchaSolvedScript turns true once Friendly Captcha has finished.
	CaptchaSolvedScript = `document.querySelector('.frc-captcha') !== null && ` +
		`document.querySelector('.frc-captcha').getAttribute('data-callback') !== null`

	loginPathMarker = "anmelden"
	fieldPause      = 500 * time.Millisecond
)

var (
	// ErrLoginRejected means the portal kept us on the login page.
	ErrLoginRejected = errors.New("failed to login, check your login credentials")
	// ErrEPUBPending means the new issue is out but its EPUB is not yet.
	ErrEPUBPending = errors.New("new ZEIT release is available, however, EPUB version is not, retry again later")
	// ErrDownloadLinkMissing means the issue page offered no EPUB download.
	ErrDownloadLinkMissing = errors.New("EPUB download link not found on issue page")
)

// Delays are the fixed waits used by the driver.
type Delays struct {
	Small  time.Duration
	Medium time.Duration
	Large  time.Duration
}

// Config holds what the driver needs to know about the portal and the browser.
type Config struct {
	LoginURL       string
	User           string
	Password       string
	KeystrokeDelay time.Duration
	DownloadDir    string
	ScreenshotDir  string
	PollInterval   time.Duration
	Delays         Delays
}

// Driver implements epaper.Downloader against the ZEIT portal.
type Driver struct {
	page   browser.Page
	cfg    Config
	logger *zap.Logger
	pause  func(context.Context, time.Duration) error
}

// New builds a driver on top of page.
func New(page browser.Page, cfg Config, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		page:   page,
		cfg:    cfg,
		logger: logger.Named("zeit"),
		pause:  browser.Pause,
	}
}

// Download logs in, opens the newest issue and downloads its EPUB.
func (d *Driver) Download(ctx context.Context) (string, error) {
	if err := d.login(ctx); err != nil {
		return "", err
	}

	if err := d.pause(ctx, d.cfg.Delays.Small); err != nil {
		return "", err
	}
	clicked, err := d.page.ClickLink(ctx, LinkToRecentEdition)
	if err != nil {
		return "", fmt.Errorf("open recent edition: %w", err)
	}
	if !clicked {
		d.logger.Info("no link to the recent edition, assuming it is already open")
	}

	html, err := d.page.HTML(ctx)
	if err != nil {
		return "", err
	}
	if strings.Contains(html, TextEPUBPending) {
		return "", ErrEPUBPending
	}

	if err := d.pause(ctx, d.cfg.Delays.Small); err != nil {
		return "", err
	}
	before, err := download.Snapshot(d.cfg.DownloadDir)
	if err != nil {
		return "", err
	}
	d.logger.Info("clicking download button now...")
	clicked, err = d.page.ClickLink(ctx, LinkDownloadEPUB)
	if err != nil {
		return "", fmt.Errorf("click EPUB download: %w", err)
	}
	if !clicked {
		return "", ErrDownloadLinkMissing
	}

	path, err := download.Wait(ctx, d.cfg.DownloadDir, before, download.Options{
		InitialDelay: d.cfg.Delays.Small,
		Timeout:      d.cfg.Delays.Large,
		PollInterval: d.cfg.PollInterval,
		Logger:       d.logger,
	})
	if err != nil {
		return "", fmt.Errorf("could not download e-paper: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("downloaded file not found: %s", path)
	}
	d.logger.Info("e-paper downloaded", zap.String("path", path), zap.Int64("bytes", info.Size()))
	return path, nil
}

func (d *Driver) login(ctx context.Context) error {
	if err := d.doLogin(ctx); err != nil {
		d.logger.Error("login failed", zap.Error(err))
		d.screenshot(ctx, "zeit_login_failure.png")
		return fmt.Errorf("zeit login: %w", err)
	}
	return nil
}

func (d *Driver) doLogin(ctx context.Context) error {
	d.logger.Info("logging into ZEIT premium...",
		logging.Redacted("zeit_premium_user", d.cfg.User),
		logging.Redacted("zeit_premium_password", d.cfg.Password),
	)
	if err := d.page.Navigate(ctx, d.cfg.LoginURL); err != nil {
		return err
	}
	if err := d.pause(ctx, d.cfg.Delays.Medium); err != nil {
		return err
	}
	d.screenshot(ctx, "zeit_captcha_check.png")
	if loc, err := d.page.Location(ctx); err == nil {
		d.logger.Info("login page loaded", zap.String("url", loc))
	}

	d.awaitCaptcha(ctx)

	if err := d.typeSlowly(ctx, selEmail, d.cfg.User); err != nil {
		return err
	}
	if err := d.pause(ctx, fieldPause); err != nil {
		return err
	}
	if err := d.typeSlowly(ctx, selPassword, d.cfg.Password); err != nil {
		return err
	}
	if err := d.page.Click(ctx, selSubmit); err != nil {
		return err
	}
	if err := d.pause(ctx, d.cfg.Delays.Medium); err != nil {
		return err
	}
	d.screenshot(ctx, "zeit_after_login.png")

	loc, err := d.page.Location(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(loc, loginPathMarker) {
		d.logger.Error("still on login page after submission", zap.String("url", loc))
		return ErrLoginRejected
	}
	return d.page.WaitPresent(ctx, selSectionHeader, d.cfg.Delays.Medium)
}

// awaitCaptcha waits for the Friendly Captcha widget to solve itself.
// A missing or unsolved widget is not fatal; the login attempt decides.
func (d *Driver) awaitCaptcha(ctx context.Context) {
	if err := d.page.WaitPresent(ctx, selCaptcha, d.cfg.Delays.Medium); err != nil {
		d.logger.Info("no Friendly Captcha found or already completed", zap.Error(err))
		return
	}
	d.logger.Info("Friendly Captcha widget found, waiting for completion...")
	if err := d.page.WaitTrue(ctx, CaptchaSolvedScript, d.cfg.Delays.Large); err != nil {
		d.logger.Info("Friendly Captcha did not report completion", zap.Error(err))
		return
	}
	d.logger.Info("Friendly Captcha completed")
}

// typeSlowly sends one key at a time, which the portal's bot detection tolerates.
func (d *Driver) typeSlowly(ctx context.Context, sel, text string) error {
	for _, r := range text {
		if err := d.page.SendKeys(ctx, sel, string(r)); err != nil {
			return err
		}
		if err := d.pause(ctx, d.cfg.KeystrokeDelay); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) screenshot(ctx context.Context, name string) {
	if d.cfg.ScreenshotDir == "" {
		return
	}
	path, err := browser.SaveScreenshot(ctx, d.page, d.cfg.ScreenshotDir, name)
	if err != nil {
		d.logger.Warn("screenshot failed", zap.String("name", name), zap.Error(err))
		return
	}
	d.logger.Debug("saved screenshot", zap.String("path", path))
}
