package testenv

import (
	"errors"
	"fmt"
	"testing"

	"github.com/playwright-community/playwright-go"
)

var chromiumArgs = []string{"--no-sandbox", "--disable-dev-shm-usage"}

// Browser is one Chromium instance driven by playwright.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

// LaunchBrowser starts playwright and a Chromium browser.
func LaunchBrowser(headless bool) (*Browser, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args:     chromiumArgs,
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Browser{pw: pw, browser: browser}, nil
}

// NewPage opens a page in a fresh context with its own cookies and
// storage. Closing the context closes the page.
func (b *Browser) NewPage() (playwright.BrowserContext, playwright.Page, error) {
	bctx, err := b.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: 1920, Height: 1080},
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("new browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, nil, fmt.Errorf("new page: %w", err)
	}
	return bctx, page, nil
}

func (b *Browser) Close() error {
	return errors.Join(b.browser.Close(), b.pw.Stop())
}

// Page returns a page in an isolated context for t. The browser is
// launched on first use and shared by the run; Finalize closes it.
func (e *Env) Page(t testing.TB) playwright.Page {
	t.Helper()

	e.mu.Lock()
	if e.browser == nil && e.browserErr == nil {
		e.browser, e.browserErr = LaunchBrowser(e.cfg.Headless)
		if e.browserErr == nil {
			e.log.Info().Bool("headless", e.cfg.Headless).Msg("Browser launched")
		}
	}
	browser, err := e.browser, e.browserErr
	e.mu.Unlock()

	if err != nil {
		t.Fatalf("testenv: %v", err)
	}

	bctx, page, err := browser.NewPage()
	if err != nil {
		t.Fatalf("testenv: %v", err)
	}
	t.Cleanup(func() {
		if err := page.Close(); err != nil {
			t.Logf("testenv: close page: %v", err)
		}
		if err := bctx.Close(); err != nil {
			t.Logf("testenv: close browser context: %v", err)
		}
	})
	return page
}
