// Package scenario runs the messaging round trip end to end: one
// application session, one browser page, strictly sequential.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gotrs-io/messaging-e2e/internal/config"
	"github.com/gotrs-io/messaging-e2e/internal/roundtrip"
	"github.com/gotrs-io/messaging-e2e/internal/session"
	"github.com/gotrs-io/messaging-e2e/internal/ui"
)

// Name labels artifacts produced by a run
const Name = "messaging_roundtrip"

// ErrBrowserSetup marks failures to start Playwright or the browser
var ErrBrowserSetup = errors.New("browser setup")

// Protocol is the editor round trip
type Protocol interface {
	Run(ctx context.Context, text string) (*roundtrip.Trace, error)
}

// Page is the browser side of a session
type Page interface {
	Setup() error
	// TearDown releases the browser. failed requests failure artifacts.
	TearDown(name string, failed bool)
	// Prepare opens the configuration view with the feature gate enabled.
	Prepare(ctx context.Context) error
	Protocol() Protocol
}

// SessionFactory creates the application session for a run
type SessionFactory func(cfg config.AppConfig) (session.Controller, error)

// PageFactory creates the browser page for a run against baseURL
type PageFactory func(cfg *config.Config, baseURL string) Page

// Option customises a Runner
type Option func(*Runner)

// WithSessionFactory replaces how sessions are created
func WithSessionFactory(f SessionFactory) Option {
	return func(r *Runner) { r.newSession = f }
}

// WithPageFactory replaces how browser pages are created
func WithPageFactory(f PageFactory) Option {
	return func(r *Runner) { r.newPage = f }
}

// Runner owns the session and page of one scenario at a time
type Runner struct {
	cfg        *config.Config
	newSession SessionFactory
	newPage    PageFactory
}

// NewRunner creates a runner using Playwright and the configured application
func NewRunner(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:        cfg,
		newSession: session.New,
		newPage:    newBrowserPage,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result describes a finished run
type Result struct {
	SessionID string
	BaseURL   string
	Text      string
	Trace     *roundtrip.Trace
	Duration  time.Duration
	Err       error
}

// Passed reports whether the round trip succeeded
func (r *Result) Passed() bool { return r.Err == nil }

// Report renders the outcome with the step trace
func (r *Result) Report() string {
	var b strings.Builder
	status := "PASS"
	if r.Err != nil {
		status = "FAIL"
	}
	fmt.Fprintf(&b, "%s %s (%s) session=%s url=%s\n", status, Name, r.Duration.Round(time.Millisecond), r.SessionID, r.BaseURL)
	if r.Trace != nil {
		b.WriteString(r.Trace.String())
	}
	if r.Err != nil {
		fmt.Fprintf(&b, "error: %v\n", r.Err)
	}
	return b.String()
}

// Run starts a session, opens the configuration view and runs the round
// trip with text. The session is stopped exactly once on every path,
// including panics, after the browser has been torn down.
func (r *Runner) Run(ctx context.Context, text string) (res *Result, err error) {
	start := time.Now()
	res = &Result{Text: text}

	ctrl, err := r.newSession(r.cfg.App)
	if err != nil {
		res.Err = fmt.Errorf("create session: %w", err)
		return res, res.Err
	}
	res.BaseURL = ctrl.BaseURL()
	if ided, ok := ctrl.(interface{ ID() string }); ok {
		res.SessionID = ided.ID()
	}

	defer func() {
		if serr := ctrl.Stop(); serr != nil {
			log.Printf("[e2e-scenario] stop session: %v", serr)
			if err == nil {
				err = fmt.Errorf("stop session: %w", serr)
			}
		}
		res.Duration = time.Since(start)
		res.Err = err
		if err != nil {
			log.Printf("[e2e-scenario] %s failed after %s: %v", Name, res.Duration.Round(time.Millisecond), err)
		}
	}()

	if err = ctrl.Start(ctx); err != nil {
		return res, err
	}

	page := r.newPage(r.cfg, ctrl.BaseURL())
	defer func() {
		page.TearDown(Name, err != nil)
	}()

	if err = page.Setup(); err != nil {
		return res, fmt.Errorf("%w: %w", ErrBrowserSetup, err)
	}
	if err = page.Prepare(ctx); err != nil {
		return res, err
	}

	res.Trace, err = page.Protocol().Run(ctx, text)
	return res, err
}

// browserPage is the Playwright-backed Page
type browserPage struct {
	cfg     *config.Config
	browser *ui.Browser
}

func newBrowserPage(cfg *config.Config, baseURL string) Page {
	return &browserPage{cfg: cfg, browser: ui.NewBrowser(cfg.Browser, baseURL)}
}

func (p *browserPage) Setup() error { return p.browser.Setup() }

func (p *browserPage) TearDown(name string, failed bool) { p.browser.TearDown(name, failed) }

func (p *browserPage) Prepare(ctx context.Context) error {
	if p.cfg.Auth.AdminPassword != "" {
		if err := p.browser.NavigateTo("/"); err != nil {
			return &ui.NavigationError{Control: "start page", Err: err}
		}
		if err := ui.Login(p.browser.Page, p.cfg.Auth.AdminPassword, p.cfg.Protocol.ModalTimeout); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}
	return ui.GoToConfig(p.browser, p.browser.Page, p.cfg.Protocol.ModalTimeout)
}

func (p *browserPage) Protocol() Protocol {
	return ui.NewMessagingProtocol(p.browser, p.cfg.Protocol)
}
