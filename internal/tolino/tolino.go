// Package tolino drives the tolino webreader: log in through a partner shop,
// check the shelf for a title and upload an EPUB when it is missing.
package tolino

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/zeit-on-tolino/internal/browser"
	"github.com/JakeFAU/zeit-on-tolino/internal/epaper"
	"github.com/JakeFAU/zeit-on-tolino/internal/logging"
)

// Selectors of the webreader.
const (
	SelLoggedInLabel   = `span[data-test-id="library-drawer-labelLoggedIn"]`
	SelMyBooks         = `span[data-test-id="library-drawer-MyBooks"]`
	SelOverflowMenu    = `div[data-test-id="library-headerBar-overflowMenu-button"]`
	SelCountrySelector = `div[data-test-id="countrySelector"]`
	SelEmail           = `input[data-test-id="email"]`
	SelPassword        = `input[data-test-id="password"]`
	SelSubmit          = `button[data-test-id="submit"]`
	SelPopupButton     = `div[data-test-id="dialogButton-0"]`
	SelUploadMenuItem  = `div[data-test-id="library-headerBar-menu-item-upload"]`
	SelFileInput       = `//input[@type='file']`
	SelUploadStatusBar = `._sep8tp`
	SelFirstTitle      = `span[data-test-id="library-myBooks-titles-list-0-title"]`

	// ReadyStateScript turns true once the document has finished loading.
	ReadyStateScript = `document.readyState === 'complete'`
)

var loggedInIndicators = []string{SelLoggedInLabel, SelMyBooks, SelOverflowMenu}

// ErrTitleMissingAfterUpload means the shelf did not list the title after the upload finished.
var ErrTitleMissingAfterUpload = errors.New("title not found on shelf after upload")

// CountryOption returns the XPath of the country entry in the country picker.
func CountryOption(country string) string {
	return fmt.Sprintf("//div[contains(text(), '%s')]", country)
}

// Delays are the fixed waits used by the driver.
type Delays struct {
	Small  time.Duration
	Medium time.Duration
	Large  time.Duration
	XLarge time.Duration
}

// Config holds what the driver needs to know about the webreader.
type Config struct {
	LoginURL      string
	User          string
	Password      string
	PartnerShop   string
	ScreenshotDir string
	DebugStorage  bool
	Delays        Delays
}

// Driver implements epaper.Uploader against the tolino webreader.
type Driver struct {
	page    browser.Page
	cfg     Config
	partner Partner
	logger  *zap.Logger
	pause   func(context.Context, time.Duration) error
}

// New builds a driver on top of page. The partner shop must be supported.
func New(page browser.Page, cfg Config, logger *zap.Logger) (*Driver, error) {
	partner, err := LookupPartner(cfg.PartnerShop)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		page:    page,
		cfg:     cfg,
		partner: partner,
		logger:  logger.Named("tolino"),
		pause:   browser.Pause,
	}, nil
}

// LoginAndUpload logs in and uploads path unless title is already on the shelf.
func (d *Driver) LoginAndUpload(ctx context.Context, path, title string) (epaper.UploadStatus, error) {
	if err := d.login(ctx); err != nil {
		return "", err
	}
	return d.upload(ctx, path, title)
}

func (d *Driver) login(ctx context.Context) error {
	if err := d.doLogin(ctx); err != nil {
		d.logger.Error("login failed", zap.Error(err))
		d.screenshot(ctx, "tolino_login_failure.png")
		return fmt.Errorf("tolino login: %w", err)
	}
	return nil
}

func (d *Driver) doLogin(ctx context.Context) error {
	d.logger.Info("starting tolino login process...")
	if err := d.page.Navigate(ctx, d.cfg.LoginURL); err != nil {
		return err
	}
	if err := d.pause(ctx, d.cfg.Delays.Large); err != nil {
		return err
	}
	if loc, err := d.page.Location(ctx); err == nil {
		d.logger.Info("webreader loaded", zap.String("url", loc))
	}
	if err := d.page.WaitTrue(ctx, ReadyStateScript, d.cfg.Delays.Large); err != nil {
		return fmt.Errorf("page did not finish loading: %w", err)
	}

	for _, sel := range loggedInIndicators {
		if err := d.page.WaitPresent(ctx, sel, d.cfg.Delays.Small); err == nil {
			d.logger.Info("already logged into tolino", zap.String("indicator", sel))
			d.logStorage(ctx, "already logged in")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	d.logger.Info("no logged-in indicators found, proceeding with login...")

	steps := []struct {
		name string
		sel  string
	}{
		{"country selector", SelCountrySelector},
		{"country " + d.partner.Country, CountryOption(d.partner.Country)},
		{"partner shop " + d.partner.Key, d.partner.Selector()},
	}
	for _, step := range steps {
		d.logger.Info("looking for " + step.name + "...")
		if err := d.page.WaitPresent(ctx, step.sel, d.cfg.Delays.Medium); err != nil {
			return err
		}
		if err := d.page.Click(ctx, step.sel); err != nil {
			return err
		}
		if err := d.pause(ctx, d.cfg.Delays.Small); err != nil {
			return err
		}
	}

	d.logger.Info("entering credentials...",
		logging.Redacted("tolino_user", d.cfg.User),
		logging.Redacted("tolino_password", d.cfg.Password),
	)
	if err := d.page.WaitPresent(ctx, SelEmail, d.cfg.Delays.Medium); err != nil {
		return err
	}
	if err := d.page.SendKeys(ctx, SelEmail, d.cfg.User); err != nil {
		return err
	}
	if err := d.page.SendKeys(ctx, SelPassword, d.cfg.Password); err != nil {
		return err
	}
	if err := d.page.Click(ctx, SelSubmit); err != nil {
		return err
	}

	d.logger.Info("waiting for successful login...")
	if err := d.page.WaitPresent(ctx, SelLoggedInLabel, d.cfg.Delays.Large); err != nil {
		return err
	}
	if err := d.pause(ctx, d.cfg.Delays.Medium); err != nil {
		return err
	}
	d.logger.Info("successfully logged into tolino")
	d.logStorage(ctx, "after successful login")
	return nil
}

func (d *Driver) upload(ctx context.Context, path, title string) (epaper.UploadStatus, error) {
	if err := d.page.WaitPresent(ctx, SelLoggedInLabel, d.cfg.Delays.Large); err != nil {
		return "", fmt.Errorf("wait for library: %w", err)
	}
	d.logStorage(ctx, "start of upload")

	if err := d.dismissPopup(ctx); err != nil {
		return "", err
	}

	if err := d.clickWhenVisible(ctx, SelMyBooks, d.cfg.Delays.Small); err != nil {
		return "", fmt.Errorf("open my books: %w", err)
	}
	if err := d.pause(ctx, d.cfg.Delays.Medium); err != nil {
		return "", err
	}
	d.logStorage(ctx, "after my books click")

	if err := d.page.WaitPresent(ctx, SelOverflowMenu, d.cfg.Delays.Medium); err != nil {
		return "", fmt.Errorf("wait for library menu: %w", err)
	}
	present, err := d.onShelf(ctx, title)
	if err != nil {
		return "", err
	}
	if present {
		d.logger.Info("title is already present in tolino cloud, skipping upload", zap.String("title", title))
		return epaper.UploadStatusAlreadyPresent, nil
	}

	if err := d.page.Click(ctx, SelOverflowMenu); err != nil {
		return "", err
	}
	if err := d.page.WaitPresent(ctx, SelUploadMenuItem, d.cfg.Delays.Small); err != nil {
		return "", fmt.Errorf("open upload menu: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve upload path: %w", err)
	}
	if err := d.page.SetUploadFiles(ctx, SelFileInput, []string{abs}); err != nil {
		return "", err
	}

	d.logger.Info("waiting for upload status bar to appear...")
	if err := d.page.WaitPresent(ctx, SelUploadStatusBar, d.cfg.Delays.Medium); err != nil {
		return "", fmt.Errorf("upload did not start: %w", err)
	}
	d.logger.Info("waiting for upload status bar to disappear...")
	if err := d.page.WaitGone(ctx, SelUploadStatusBar, d.cfg.Delays.XLarge); err != nil {
		return "", fmt.Errorf("upload did not finish: %w", err)
	}
	if err := d.pause(ctx, d.cfg.Delays.Medium); err != nil {
		return "", err
	}

	if err := d.page.Reload(ctx); err != nil {
		return "", err
	}
	d.logger.Info("waiting for book to be present...")
	if err := d.page.WaitVisible(ctx, SelFirstTitle, d.cfg.Delays.Medium); err != nil {
		return "", fmt.Errorf("wait for shelf after upload: %w", err)
	}
	present, err = d.onShelf(ctx, title)
	if err != nil {
		return "", err
	}
	if !present {
		return "", fmt.Errorf("%w: %q", ErrTitleMissingAfterUpload, title)
	}
	d.logger.Info("book title is present", zap.String("title", title))
	d.screenshot(ctx, "upload_success.png")
	d.logger.Info("successfully uploaded e-paper to tolino cloud")
	d.logStorage(ctx, "after upload")
	return epaper.UploadStatusUploaded, nil
}

func (d *Driver) dismissPopup(ctx context.Context) error {
	exists, err := d.page.Exists(ctx, SelPopupButton)
	if err != nil || !exists {
		return err
	}
	if err := d.clickWhenVisible(ctx, SelPopupButton, d.cfg.Delays.Small); err != nil {
		return fmt.Errorf("dismiss advertisement popup: %w", err)
	}
	d.logStorage(ctx, "after popup dismiss")
	return nil
}

func (d *Driver) clickWhenVisible(ctx context.Context, sel string, timeout time.Duration) error {
	if err := d.page.WaitVisible(ctx, sel, timeout); err != nil {
		return err
	}
	if err := d.pause(ctx, d.cfg.Delays.Small); err != nil {
		return err
	}
	return d.page.Click(ctx, sel)
}

// textEscaper mirrors how the browser serializes text nodes; quotes stay literal.
var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\u00a0", "&nbsp;")

// onShelf reports whether title appears in the page source, either raw or in
// its serialized form.
func (d *Driver) onShelf(ctx context.Context, title string) (bool, error) {
	src, err := d.page.HTML(ctx)
	if err != nil {
		return false, err
	}
	return strings.Contains(src, title) || strings.Contains(src, textEscaper.Replace(title)), nil
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
	d.logger.Info("saved screenshot", zap.String("path", path))
}
