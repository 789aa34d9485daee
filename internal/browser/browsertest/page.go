// Package browsertest provides a scriptable in-memory browser.Page for driver tests.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/zeit-on-tolino/internal/browser"
)

// PNG is the byte payload returned by Screenshot.
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

// Page simulates a DOM as a set of present selectors plus a page body.
// Hooks let tests mutate the page when the driver clicks or uploads.
// Actions on an absent selector fail with context.DeadlineExceeded, as a
// browser.Session does once its action timeout elapses.
type Page struct {
	mu sync.Mutex

	URL     string
	Body    string
	present map[string]bool
	links   map[string]bool

	// Evals maps exact expressions to the value Evaluate and WaitTrue see.
	Evals map[string]any
	// CookieJar is returned by Cookies.
	CookieJar []browser.Cookie

	OnNavigate  func(p *Page, url string)
	OnClick     map[string]func(p *Page)
	OnClickLink map[string]func(p *Page)
	OnUpload    func(p *Page, files []string)
	OnReload    func(p *Page)
	// OnWait runs after a successful WaitPresent or WaitVisible on the selector.
	OnWait map[string]func(p *Page)

	// Errors forces an operation to fail; keys are "op" or "op:selector".
	Errors map[string]error

	calls []string
	typed map[string]string
}

// New returns an empty page.
func New() *Page {
	return &Page{
		present:     map[string]bool{},
		links:       map[string]bool{},
		Evals:       map[string]any{},
		OnClick:     map[string]func(p *Page){},
		OnClickLink: map[string]func(p *Page){},
		OnWait:      map[string]func(p *Page){},
		Errors:      map[string]error{},
		typed:       map[string]string{},
	}
}

// Show adds selectors to the DOM.
func (p *Page) Show(sels ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sels {
		p.present[s] = true
	}
}

// Hide removes selectors from the DOM.
func (p *Page) Hide(sels ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sels {
		delete(p.present, s)
	}
}

// SetBody replaces the page body.
func (p *Page) SetBody(body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Body = body
}

// SetURL simulates a redirect.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.URL = url
}

// AddLink renders an anchor with the given text.
func (p *Page) AddLink(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.links[text] = true
}

// Calls returns the recorded interactions, e.g. "click:#submit".
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Called reports whether call was recorded.
func (p *Page) Called(call string) bool {
	for _, c := range p.Calls() {
		if c == call {
			return true
		}
	}
	return false
}

// Typed returns everything sent to sel.
func (p *Page) Typed(sel string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[sel]
}

func (p *Page) record(op, arg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, op+":"+arg)
	if err, ok := p.Errors[op+":"+arg]; ok {
		return err
	}
	if err, ok := p.Errors[op]; ok {
		return err
	}
	return nil
}

func (p *Page) has(sel string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present[sel]
}

// Navigate implements browser.Page.
func (p *Page) Navigate(_ context.Context, url string) error {
	if err := p.record("navigate", url); err != nil {
		return err
	}
	p.mu.Lock()
	p.URL = url
	hook := p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		hook(p, url)
	}
	return nil
}

// Reload implements browser.Page.
func (p *Page) Reload(_ context.Context) error {
	if err := p.record("reload", ""); err != nil {
		return err
	}
	if p.OnReload != nil {
		p.OnReload(p)
	}
	return nil
}

// Location implements browser.Page.
func (p *Page) Location(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.URL, nil
}

// WaitPresent implements browser.Page.
func (p *Page) WaitPresent(_ context.Context, sel string, timeout time.Duration) error {
	if err := p.record("wait", sel); err != nil {
		return err
	}
	if !p.has(sel) {
		return fmt.Errorf("wait for %s: %w", sel, context.DeadlineExceeded)
	}
	if hook := p.OnWait[sel]; hook != nil {
		hook(p)
	}
	return nil
}

// WaitVisible implements browser.Page.
func (p *Page) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	return p.WaitPresent(ctx, sel, timeout)
}

// WaitGone implements browser.Page.
func (p *Page) WaitGone(_ context.Context, sel string, _ time.Duration) error {
	if err := p.record("gone", sel); err != nil {
		return err
	}
	if p.has(sel) {
		return fmt.Errorf("wait gone %s: %w", sel, context.DeadlineExceeded)
	}
	return nil
}

// WaitTrue implements browser.Page.
func (p *Page) WaitTrue(_ context.Context, expr string, _ time.Duration) error {
	if err := p.record("poll", expr); err != nil {
		return err
	}
	p.mu.Lock()
	v, ok := p.Evals[expr]
	p.mu.Unlock()
	if ok && v == true {
		return nil
	}
	return fmt.Errorf("poll: %w", context.DeadlineExceeded)
}

// Exists implements browser.Page.
func (p *Page) Exists(_ context.Context, sel string) (bool, error) {
	if err := p.record("exists", sel); err != nil {
		return false, err
	}
	return p.has(sel), nil
}

// Click implements browser.Page.
func (p *Page) Click(_ context.Context, sel string) error {
	if err := p.record("click", sel); err != nil {
		return err
	}
	if !p.has(sel) {
		return notFound("click %s", sel)
	}
	if hook := p.OnClick[sel]; hook != nil {
		hook(p)
	}
	return nil
}

// ClickLink implements browser.Page.
func (p *Page) ClickLink(_ context.Context, text string) (bool, error) {
	if err := p.record("link", text); err != nil {
		return false, err
	}
	p.mu.Lock()
	found := p.links[text]
	p.mu.Unlock()
	if !found {
		return false, nil
	}
	if hook := p.OnClickLink[text]; hook != nil {
		hook(p)
	}
	return true, nil
}

// SendKeys implements browser.Page.
func (p *Page) SendKeys(_ context.Context, sel, text string) error {
	if err := p.record("keys", sel); err != nil {
		return err
	}
	if !p.has(sel) {
		return notFound("send keys to %s", sel)
	}
	p.mu.Lock()
	p.typed[sel] += text
	p.mu.Unlock()
	return nil
}

// HTML implements browser.Page.
func (p *Page) HTML(_ context.Context) (string, error) {
	if err := p.record("html", ""); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return "<html><body>" + p.Body + "</body></html>", nil
}

// Evaluate implements browser.Page by decoding the scripted value into out.
func (p *Page) Evaluate(_ context.Context, expr string, out any) error {
	if err := p.record("eval", firstLine(expr)); err != nil {
		return err
	}
	p.mu.Lock()
	v, ok := p.Evals[expr]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("evaluate: no scripted result for %q", firstLine(expr))
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return json.Unmarshal(raw, out)
}

// SetUploadFiles implements browser.Page.
func (p *Page) SetUploadFiles(_ context.Context, sel string, files []string) error {
	if err := p.record("upload", sel); err != nil {
		return err
	}
	if !p.has(sel) {
		return notFound("set upload files on %s", sel)
	}
	if p.OnUpload != nil {
		p.OnUpload(p, files)
	}
	return nil
}

// Screenshot implements browser.Page.
func (p *Page) Screenshot(_ context.Context) ([]byte, error) {
	if err := p.record("screenshot", ""); err != nil {
		return nil, err
	}
	return PNG, nil
}

// Cookies implements browser.Page.
func (p *Page) Cookies(_ context.Context) ([]browser.Cookie, error) {
	if err := p.record("cookies", ""); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Cookie(nil), p.CookieJar...), nil
}

func notFound(format, sel string) error {
	return fmt.Errorf(format+": %w", sel, context.DeadlineExceeded)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

var _ browser.Page = (*Page)(nil)
