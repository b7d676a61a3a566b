// Package roundtrip drives the messaging editor through write, save, reload
// and reopen, and checks the saved text survives.
package roundtrip

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/gotrs-io/messaging-e2e/internal/poll"
)

// DefaultMaxClearAttempts bounds the select-all/backspace passes. The editor
// may split content into independent blocks that each need their own pass.
const DefaultMaxClearAttempts = 4

// Wait defaults applied when Options leaves them unset
const (
	DefaultVerifyTimeout = 5 * time.Second
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultClearSettle   = 500 * time.Millisecond
)

// View is the page hosting the messaging editor
type View interface {
	// ClickEdit activates the messaging row's edit control.
	ClickEdit() error
	ClickSave() error
	// Reload performs a full client reload and waits for the page to load.
	Reload() error
}

// Dialog observes the messaging modal. ExpectVisible fails with
// *ModalTimeoutError and ExpectHidden with *SaveTimeoutError.
type Dialog interface {
	ExpectVisible(ctx context.Context) error
	ExpectHidden(ctx context.Context) error
}

// Buffer is the code editor inside the modal, driven by keyboard input
type Buffer interface {
	Focus() error
	// ClearPass selects everything in the editor and deletes it once.
	ClearPass() error
	Type(text string) error
	Text() (string, error)
}

// Options tunes the protocol
type Options struct {
	MaxClearAttempts int
	// VerifyTimeout bounds how long the reopened editor may take to show
	// the saved text.
	VerifyTimeout time.Duration
	PollInterval  time.Duration
	// ClearSettle bounds how long one clearing pass may take to show up in
	// the editor before another pass is sent.
	ClearSettle time.Duration
}

// Step records one completed or failed protocol step
type Step struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Trace is the ordered list of steps a run went through
type Trace struct {
	Steps []Step
}

func (t *Trace) add(name string, start time.Time, err error) {
	t.Steps = append(t.Steps, Step{Name: name, Duration: time.Since(start), Err: err})
}

// String renders the trace one step per line
func (t *Trace) String() string {
	var b strings.Builder
	for i, s := range t.Steps {
		status := "ok"
		if s.Err != nil {
			status = "FAILED: " + s.Err.Error()
		}
		fmt.Fprintf(&b, "%2d. %-8s %8s  %s\n", i+1, s.Name, s.Duration.Round(time.Millisecond), status)
	}
	return b.String()
}

// Protocol runs the editor round trip against one page
type Protocol struct {
	view   View
	dialog Dialog
	buffer Buffer
	opts   Options

	lifecycle Lifecycle
	trace     Trace
}

// New creates a protocol with the modal initially closed
func New(view View, dialog Dialog, buffer Buffer, opts Options) *Protocol {
	if opts.MaxClearAttempts < 1 {
		opts.MaxClearAttempts = DefaultMaxClearAttempts
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = DefaultVerifyTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ClearSettle <= 0 {
		opts.ClearSettle = DefaultClearSettle
	}
	return &Protocol{view: view, dialog: dialog, buffer: buffer, opts: opts}
}

// State returns the current modal state
func (p *Protocol) State() ModalState { return p.lifecycle.State() }

// Trace returns the steps run so far
func (p *Protocol) Trace() *Trace { return &p.trace }

// Run writes text, saves, reloads, reopens and verifies. It stops at the
// first failing step.
func (p *Protocol) Run(ctx context.Context, text string) (*Trace, error) {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"open", p.Open},
		{"write", func(ctx context.Context) error { return p.Write(ctx, text) }},
		{"save", p.Save},
		{"reload", p.Reload},
		{"reopen", p.Open},
		{"verify", func(ctx context.Context) error { return p.Verify(ctx, text) }},
	}
	for _, s := range steps {
		start := time.Now()
		err := ctx.Err()
		if err == nil {
			err = s.fn(ctx)
		}
		p.trace.add(s.name, start, err)
		if err != nil {
			log.Printf("[e2e-roundtrip] step %s failed: %v", s.name, err)
			return &p.trace, fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return &p.trace, nil
}

// Open activates the edit control and waits for the modal to appear
func (p *Protocol) Open(ctx context.Context) error {
	if err := p.lifecycle.require("open", Hidden); err != nil {
		return err
	}
	if err := p.view.ClickEdit(); err != nil {
		return fmt.Errorf("click edit: %w", err)
	}
	if err := p.dialog.ExpectVisible(ctx); err != nil {
		return err
	}
	return p.lifecycle.opened()
}

// Write focuses the editor, empties it and types text as keystrokes
func (p *Protocol) Write(ctx context.Context, text string) error {
	if err := p.lifecycle.require("write", Visible); err != nil {
		return err
	}
	if err := p.buffer.Focus(); err != nil {
		return fmt.Errorf("focus editor: %w", err)
	}
	if _, err := p.Clear(ctx); err != nil {
		return err
	}
	if err := p.buffer.Type(text); err != nil {
		return fmt.Errorf("type: %w", err)
	}
	return nil
}

// Clear repeats select-all and delete until the buffer reads empty or the
// attempt limit is hit. It returns the number of passes made.
func (p *Protocol) Clear(ctx context.Context) (int, error) {
	if err := p.lifecycle.require("clear", Visible); err != nil {
		return 0, err
	}
	var residual string
	for i := 1; i <= p.opts.MaxClearAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return i - 1, err
		}
		if err := p.buffer.ClearPass(); err != nil {
			return i, fmt.Errorf("clear pass %d: %w", i, err)
		}
		text, blank, err := p.awaitText(ctx, p.opts.ClearSettle, IsBlank)
		if err != nil {
			return i, err
		}
		if blank {
			return i, nil
		}
		residual = text
	}
	return p.opts.MaxClearAttempts, &ClearError{Attempts: p.opts.MaxClearAttempts, Residual: residual}
}

// awaitText polls the buffer until match holds or timeout elapses. It returns
// the last text read and whether it matched. Read failures are retried; the
// last one is returned when nothing was ever read.
func (p *Protocol) awaitText(ctx context.Context, timeout time.Duration, match func(string) bool) (string, bool, error) {
	interval := min(p.opts.PollInterval, timeout)
	var last string
	var read bool
	err := poll.Until(ctx, timeout, interval, func() (bool, error) {
		text, err := p.buffer.Text()
		if err != nil {
			return false, err
		}
		last, read = text, true
		return match(text), nil
	})
	if err == nil {
		return last, true, nil
	}
	var timeoutErr *poll.TimeoutError
	if !errors.As(err, &timeoutErr) {
		return last, false, err
	}
	if !read && timeoutErr.Last != nil {
		return last, false, fmt.Errorf("read editor: %w", timeoutErr.Last)
	}
	return last, false, nil
}

// Save activates the save control and waits for the modal to close
func (p *Protocol) Save(ctx context.Context) error {
	if err := p.lifecycle.require("save", Visible); err != nil {
		return err
	}
	if err := p.view.ClickSave(); err != nil {
		return fmt.Errorf("click save: %w", err)
	}
	if err := p.dialog.ExpectHidden(ctx); err != nil {
		return err
	}
	return p.lifecycle.closed()
}

// Reload discards all client state. The modal is closed afterwards.
func (p *Protocol) Reload(ctx context.Context) error {
	if err := p.lifecycle.require("reload", Hidden); err != nil {
		return err
	}
	if err := p.view.Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	p.lifecycle.reset()
	return nil
}

// Verify waits for the open editor to contain text byte for byte. Editors
// may fill in their content after the modal is shown.
func (p *Protocol) Verify(ctx context.Context, text string) error {
	if err := p.lifecycle.require("verify", Visible); err != nil {
		return err
	}
	actual, ok, err := p.awaitText(ctx, p.opts.VerifyTimeout, func(s string) bool {
		return strings.Contains(s, text)
	})
	if err != nil {
		return err
	}
	if !ok {
		return &AssertionError{Expected: text, Actual: actual}
	}
	return nil
}

// IsBlank reports whether editor text holds no content. Editors render
// empty lines with non-breaking or zero-width spaces.
func IsBlank(s string) bool {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\u200b' || r == '\ufeff'
	}) == ""
}
