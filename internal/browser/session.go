package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Config controls how Chrome is launched.
type Config struct {
	Headless     bool
	UserAgent    string
	ExecPath     string
	NoSandbox    bool
	WindowWidth  int
	WindowHeight int
	DownloadDir  string
	PollInterval time.Duration
	// ActionTimeout bounds every action that is not given its own timeout.
	// A selector that never matches fails once it elapses.
	ActionTimeout time.Duration
	// PageLoadTimeout bounds Navigate and Reload.
	PageLoadTimeout time.Duration
}

const (
	defaultPollInterval    = 250 * time.Millisecond
	defaultActionTimeout   = 10 * time.Second
	defaultPageLoadTimeout = time.Minute
)

// ErrClosed is returned once the session has been shut down.
var ErrClosed = errors.New("browser session closed")

// Session implements Page on top of one chromedp browser tab.
type Session struct {
	cfg             Config
	logger          *zap.Logger
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	closed          bool
	exec            func(context.Context, ...chromedp.Action) error
}

// NewSession launches Chrome and points its downloads at cfg.DownloadDir.
func NewSession(ctx context.Context, cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.DownloadDir) == "" {
		return nil, fmt.Errorf("download directory is required")
	}
	if err := os.MkdirAll(cfg.DownloadDir, 0o750); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	cfg = withDefaults(cfg)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Warnf),
	)
	warmup := chromedp.Tasks{
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(cfg.DownloadDir).
			WithEventsEnabled(true),
		network.Enable(),
	}
	if err := chromedp.Run(browserCtx, warmup); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	logger.Info("browser started",
		zap.Bool("headless", cfg.Headless),
		zap.String("download_dir", cfg.DownloadDir),
	)

	return &Session{
		cfg:             cfg,
		logger:          logger,
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		exec:            chromedp.Run,
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaultActionTimeout
	}
	if cfg.PageLoadTimeout <= 0 {
		cfg.PageLoadTimeout = defaultPageLoadTimeout
	}
	return cfg
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	return opts
}

// Close tears down the chromedp allocator and browser contexts.
func (s *Session) Close() {
	if s == nil || s.closed {
		return
	}
	s.closed = true
	s.browserCancel()
	s.allocatorCancel()
	s.logger.Info("browser closed")
}

// run executes actions on the browser tab. The tab context outlives ctx, so
// cancellation of ctx is forwarded onto a per-call child. A timeout of zero
// falls back to the configured action timeout; chromedp retries selector
// queries until their context ends.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if s.closed {
		return ErrClosed
	}
	if timeout <= 0 {
		timeout = s.cfg.ActionTimeout
	}
	taskCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := s.exec(taskCtx, actions...); err != nil {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func by(sel string) chromedp.QueryOption {
	if IsXPath(sel) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// Navigate loads url in the tab.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, s.cfg.PageLoadTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Reload reloads the current page.
func (s *Session) Reload(ctx context.Context) error {
	if err := s.run(ctx, s.cfg.PageLoadTimeout, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// Location returns the current URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, 0, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	return loc, nil
}

// WaitPresent waits for sel to be in the DOM.
func (s *Session) WaitPresent(ctx context.Context, sel string, timeout time.Duration) error {
	if err := s.run(ctx, timeout, chromedp.WaitReady(sel, by(sel))); err != nil {
		return fmt.Errorf("wait for %s: %w", sel, err)
	}
	return nil
}

// WaitVisible waits for sel to be visible.
func (s *Session) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	if err := s.run(ctx, timeout, chromedp.WaitVisible(sel, by(sel))); err != nil {
		return fmt.Errorf("wait visible %s: %w", sel, err)
	}
	return nil
}

// WaitGone waits for sel to leave the DOM.
func (s *Session) WaitGone(ctx context.Context, sel string, timeout time.Duration) error {
	if err := s.run(ctx, timeout, chromedp.WaitNotPresent(sel, by(sel))); err != nil {
		return fmt.Errorf("wait gone %s: %w", sel, err)
	}
	return nil
}

// WaitTrue polls expr until it is truthy.
func (s *Session) WaitTrue(ctx context.Context, expr string, timeout time.Duration) error {
	var ok bool
	poll := chromedp.Poll(expr, &ok,
		chromedp.WithPollingInterval(s.cfg.PollInterval),
		chromedp.WithPollingTimeout(timeout),
	)
	if err := s.run(ctx, timeout+s.cfg.PollInterval, poll); err != nil {
		return fmt.Errorf("poll %q: %w", expr, err)
	}
	return nil
}

// Exists reports whether sel matches at least one node right now.
func (s *Session) Exists(ctx context.Context, sel string) (bool, error) {
	var found bool
	if err := s.run(ctx, 0, chromedp.Evaluate(existsScript(sel), &found)); err != nil {
		return false, fmt.Errorf("exists %s: %w", sel, err)
	}
	return found, nil
}

func existsScript(sel string) string {
	if IsXPath(sel) {
		return fmt.Sprintf(
			`document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue !== null`,
			sel,
		)
	}
	return fmt.Sprintf(`document.querySelector(%q) !== null`, sel)
}

// Click clicks the first node matching sel.
func (s *Session) Click(ctx context.Context, sel string) error {
	if err := s.run(ctx, 0, chromedp.Click(sel, by(sel))); err != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}
	return nil
}

// ClickLink clicks the first anchor whose visible text equals text.
func (s *Session) ClickLink(ctx context.Context, text string) (bool, error) {
	var clicked bool
	if err := s.run(ctx, 0, chromedp.Evaluate(ClickLinkScript(text), &clicked)); err != nil {
		return false, fmt.Errorf("click link %q: %w", text, err)
	}
	return clicked, nil
}

// SendKeys types text into sel.
func (s *Session) SendKeys(ctx context.Context, sel, text string) error {
	if err := s.run(ctx, 0, chromedp.SendKeys(sel, text, by(sel))); err != nil {
		return fmt.Errorf("send keys to %s: %w", sel, err)
	}
	return nil
}

// HTML returns the serialized document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

// Evaluate runs expr, awaiting promises, and decodes the result into out.
func (s *Session) Evaluate(ctx context.Context, expr string, out any) error {
	awaitPromise := func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}
	if err := s.run(ctx, 0, chromedp.Evaluate(expr, out, awaitPromise)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// SetUploadFiles attaches files to the file input matched by sel.
func (s *Session) SetUploadFiles(ctx context.Context, sel string, files []string) error {
	if err := s.run(ctx, 0, chromedp.SetUploadFiles(sel, files, by(sel))); err != nil {
		return fmt.Errorf("set upload files on %s: %w", sel, err)
	}
	return nil
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, 0, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Cookies returns every cookie the browser holds, across domains.
func (s *Session) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := s.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return toCookies(raw), nil
}

func toCookies(raw []*network.Cookie) []Cookie {
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		cookie := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			sec := int64(c.Expires)
			cookie.Expires = time.Unix(sec, 0).UTC()
		}
		cookies = append(cookies, cookie)
	}
	return cookies
}
