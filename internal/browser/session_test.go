package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/require"
)

func TestIsXPath(t *testing.T) {
	t.Parallel()

	require.True(t, IsXPath("//div[contains(text(), 'Deutschland')]"))
	require.True(t, IsXPath("(//a)[1]"))
	require.False(t, IsXPath(`div[data-test-id="countrySelector"]`))
	require.False(t, IsXPath("#login_email"))
}

func TestExistsScriptPicksResolver(t *testing.T) {
	t.Parallel()

	require.Contains(t, existsScript("#login_email"), `document.querySelector("#login_email")`)
	require.Contains(t, existsScript("//input[@type='file']"), "document.evaluate(")
}

func TestClickLinkScriptQuotesText(t *testing.T) {
	t.Parallel()

	script := ClickLinkScript(`EPUB FÜR "E-READER" LADEN`)
	require.Contains(t, script, `"EPUB FÜR \"E-READER\" LADEN"`)
	require.Contains(t, script, "innerText.trim()")
}

func TestAllocatorOptionsGrowWithConfig(t *testing.T) {
	t.Parallel()

	base := allocatorOptions(Config{Headless: true})
	full := allocatorOptions(Config{
		Headless:     true,
		UserAgent:    "ua",
		ExecPath:     "/usr/bin/chromium",
		NoSandbox:    true,
		WindowWidth:  800,
		WindowHeight: 600,
	})
	require.Len(t, full, len(base)+4)
}

func TestNewSessionRequiresDownloadDir(t *testing.T) {
	t.Parallel()

	_, err := NewSession(context.Background(), Config{}, nil)
	require.ErrorContains(t, err, "download directory is required")
}

func TestClosedSessionRejectsWork(t *testing.T) {
	t.Parallel()

	s := &Session{closed: true}
	err := s.Navigate(context.Background(), "https://example.com")
	require.True(t, errors.Is(err, ErrClosed))
	s.Close()
}

func TestToCookiesConvertsExpiry(t *testing.T) {
	t.Parallel()

	cookies := toCookies([]*network.Cookie{
		nil,
		{Name: "OAUTH-JSESSIONID", Value: "abc", Domain: ".thalia.de", Path: "/", Secure: true, HTTPOnly: true, Expires: 1700000000},
		{Name: "session", Value: "x", Domain: "webreader.mytolino.com"},
	})
	require.Len(t, cookies, 2)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), cookies[0].Expires)
	require.True(t, cookies[0].HTTPOnly)
	require.True(t, cookies[1].Expires.IsZero())
}

func TestForwardCancelPropagates(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()
	cancelParent()

	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("child context was not canceled")
	}
}

func TestPause(t *testing.T) {
	t.Parallel()

	require.NoError(t, Pause(context.Background(), 0))
	require.NoError(t, Pause(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Pause(ctx, time.Hour), context.Canceled)
}

// stalledSession returns a session whose actions block until their context
// ends, which is how chromedp behaves for a selector that never matches.
func stalledSession(cfg Config) (*Session, *[]time.Duration) {
	var budgets []time.Duration
	s := &Session{
		cfg:        withDefaults(cfg),
		browserCtx: context.Background(),
		exec: func(ctx context.Context, _ ...chromedp.Action) error {
			if deadline, ok := ctx.Deadline(); ok {
				budgets = append(budgets, time.Until(deadline))
			}
			<-ctx.Done()
			return ctx.Err()
		},
	}
	return s, &budgets
}

func TestMissingSelectorTimesOut(t *testing.T) {
	t.Parallel()

	s, _ := stalledSession(Config{ActionTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	err := s.Click(ctx, "#login_email")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorContains(t, err, "click #login_email")

	require.ErrorIs(t, s.SendKeys(ctx, "#login_pass", "x"), context.DeadlineExceeded)
	require.ErrorIs(t, s.SetUploadFiles(ctx, "//input[@type='file']", []string{"a.epub"}), context.DeadlineExceeded)
	_, err = s.HTML(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunTimeoutBudgets(t *testing.T) {
	t.Parallel()

	s, budgets := stalledSession(Config{
		ActionTimeout:   20 * time.Millisecond,
		PageLoadTimeout: 40 * time.Millisecond,
	})
	ctx := context.Background()

	require.ErrorIs(t, s.Navigate(ctx, "https://epaper.zeit.de"), context.DeadlineExceeded)
	require.ErrorIs(t, s.WaitPresent(ctx, "#x", 60*time.Millisecond), context.DeadlineExceeded)
	require.ErrorIs(t, s.Click(ctx, "#x"), context.DeadlineExceeded)

	require.Len(t, *budgets, 3)
	require.Greater(t, (*budgets)[0], 20*time.Millisecond)
	require.LessOrEqual(t, (*budgets)[0], 40*time.Millisecond)
	require.Greater(t, (*budgets)[1], 40*time.Millisecond)
	require.LessOrEqual(t, (*budgets)[2], 20*time.Millisecond)
}

func TestRunReportsCallerCancellation(t *testing.T) {
	t.Parallel()

	s, _ := stalledSession(Config{ActionTimeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := s.Click(ctx, "#submit")
	require.ErrorIs(t, err, context.Canceled)
}

func TestWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := withDefaults(Config{})
	require.Equal(t, defaultPollInterval, cfg.PollInterval)
	require.Equal(t, defaultActionTimeout, cfg.ActionTimeout)
	require.Equal(t, defaultPageLoadTimeout, cfg.PageLoadTimeout)

	cfg = withDefaults(Config{ActionTimeout: time.Second})
	require.Equal(t, time.Second, cfg.ActionTimeout)
}
