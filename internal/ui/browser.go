// Package ui adapts playwright-go to the messaging round trip: browser
// setup, navigation and the feature gate, the modal, and the code editor.
package ui

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/gotrs-io/messaging-e2e/internal/config"
)

// Browser owns one Playwright driver, browser, context and page
type Browser struct {
	Playwright *playwright.Playwright
	Browser    playwright.Browser
	Context    playwright.BrowserContext
	Page       playwright.Page

	cfg     config.BrowserConfig
	baseURL string
}

// NewBrowser creates a browser bound to baseURL. Call Setup before use.
func NewBrowser(cfg config.BrowserConfig, baseURL string) *Browser {
	return &Browser{cfg: cfg, baseURL: strings.TrimRight(baseURL, "/")}
}

// BaseURL returns the address relative paths are resolved against
func (b *Browser) BaseURL() string { return b.baseURL }

// Setup starts Playwright, launches Chromium and opens a page
func (b *Browser) Setup() error {
	if !b.cfg.SkipInstall && os.Getenv("PLAYWRIGHT_PREINSTALLED") != "1" {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return fmt.Errorf("could not install playwright browsers: %w", err)
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("could not start playwright: %w", err)
	}
	b.Playwright = pw

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(b.cfg.Headless),
		SlowMo:   playwright.Float(float64(b.cfg.SlowMo)),
	})
	if err != nil {
		return fmt.Errorf("could not launch browser: %w", err)
	}
	b.Browser = browser

	opts := playwright.BrowserNewContextOptions{
		BaseURL: playwright.String(b.baseURL),
		Viewport: &playwright.Size{
			Width:  b.width(),
			Height: b.height(),
		},
	}
	if b.cfg.Videos {
		opts.RecordVideo = &playwright.RecordVideo{
			Dir: filepath.Join(b.cfg.ArtifactsDir, "videos"),
		}
	}
	context, err := browser.NewContext(opts)
	if err != nil {
		return fmt.Errorf("could not create context: %w", err)
	}
	b.Context = context

	page, err := context.NewPage()
	if err != nil {
		return fmt.Errorf("could not create page: %w", err)
	}
	b.Page = page

	if b.cfg.Timeout > 0 {
		page.SetDefaultTimeout(float64(b.cfg.Timeout.Milliseconds()))
	}
	return nil
}

// TearDown captures a screenshot when failed is set, then closes everything
// Setup opened. It is safe after a partial Setup.
func (b *Browser) TearDown(name string, failed bool) {
	if failed && b.cfg.Screenshots && b.Page != nil {
		if path, err := b.Screenshot(name); err != nil {
			log.Printf("[e2e-browser] screenshot failed: %v", err)
		} else {
			log.Printf("[e2e-browser] failure screenshot: %s", path)
		}
	}

	if b.Page != nil {
		_ = b.Page.Close()
		b.Page = nil
	}
	if b.Context != nil {
		_ = b.Context.Close()
		b.Context = nil
	}
	if b.Browser != nil {
		_ = b.Browser.Close()
		b.Browser = nil
	}
	if b.Playwright != nil {
		_ = b.Playwright.Stop()
		b.Playwright = nil
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Screenshot writes a full-page screenshot under the artifacts directory
func (b *Browser) Screenshot(name string) (string, error) {
	if b.Page == nil {
		return "", fmt.Errorf("no page")
	}
	dir := filepath.Join(b.cfg.ArtifactsDir, "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%d.png", unsafeName.ReplaceAllString(name, "_"), time.Now().Unix()))
	_, err := b.Page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return path, err
}

// NavigateTo navigates to a path relative to the base URL
func (b *Browser) NavigateTo(path string) error {
	url := b.baseURL + path
	if _, err := b.Page.Goto(url); err != nil {
		if strings.Contains(err.Error(), "ERR_TOO_MANY_REDIRECTS") {
			return fmt.Errorf("redirect loop navigating to %s: %w", url, err)
		}
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Reload performs a full page reload and waits for the load event
func (b *Browser) Reload() error {
	if _, err := b.Page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
	}); err != nil {
		return err
	}
	return b.Page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateNetworkidle,
	})
}

func (b *Browser) width() int {
	if b.cfg.Width > 0 {
		return b.cfg.Width
	}
	return 1280
}

func (b *Browser) height() int {
	if b.cfg.Height > 0 {
		return b.cfg.Height
	}
	return 720
}
