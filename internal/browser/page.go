// Package browser wraps a single chromedp-controlled Chrome instance behind the
// small Page surface the site drivers script against.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cookie is the part of a browser cookie worth logging.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	Expires  time.Time
}

// Page is the set of browser interactions the site drivers rely on.
// Selectors starting with "/" are XPath expressions, everything else is CSS.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Location(ctx context.Context) (string, error)
	// WaitPresent blocks until sel is in the DOM or timeout elapses.
	WaitPresent(ctx context.Context, sel string, timeout time.Duration) error
	// WaitVisible blocks until sel is rendered and visible.
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	// WaitGone blocks until sel has left the DOM.
	WaitGone(ctx context.Context, sel string, timeout time.Duration) error
	// WaitTrue polls a JS expression until it evaluates truthy.
	WaitTrue(ctx context.Context, expr string, timeout time.Duration) error
	Exists(ctx context.Context, sel string) (bool, error)
	Click(ctx context.Context, sel string) error
	// ClickLink clicks the first anchor whose rendered text equals text.
	ClickLink(ctx context.Context, text string) (bool, error)
	SendKeys(ctx context.Context, sel, text string) error
	HTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, expr string, out any) error
	SetUploadFiles(ctx context.Context, sel string, files []string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Cookies(ctx context.Context) ([]Cookie, error)
}

// IsXPath reports whether sel should be resolved as XPath.
func IsXPath(sel string) bool {
	return strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(")
}

// Pause sleeps for d unless ctx finishes first.
func Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	}
}

// SaveScreenshot captures the page into dir/name as a PNG and returns the path.
func SaveScreenshot(ctx context.Context, page Page, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	data, err := page.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// ClickLinkScript returns the expression ClickLink evaluates for text.
// innerText reflects CSS text-transform, matching what a reader sees.
func ClickLinkScript(text string) string {
	return fmt.Sprintf(`(() => {
	const want = %q;
	for (const a of document.querySelectorAll('a')) {
		if (a.innerText.trim() === want) {
			a.click();
			return true;
		}
	}
	return false;
})()`, text)
}
