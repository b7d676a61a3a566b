package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/gotrs-io/messaging-e2e/internal/poll"
	"github.com/gotrs-io/messaging-e2e/internal/roundtrip"
)

// Modal polls a dialog's visibility. A dialog counts as visible when it is
// rendered and aria-hidden is "false", and as hidden when it is not rendered
// and aria-hidden is not "false".
type Modal struct {
	name     string
	locator  playwright.Locator
	timeout  time.Duration
	interval time.Duration
}

// NewModal observes the dialog with the given test id
func NewModal(page playwright.Page, testID string, timeout, interval time.Duration) *Modal {
	return &Modal{
		name:     testID,
		locator:  page.GetByTestId(testID),
		timeout:  timeout,
		interval: interval,
	}
}

// Locator returns the dialog root
func (m *Modal) Locator() playwright.Locator { return m.locator }

type modalObservation struct {
	visible    bool
	ariaHidden string
}

func (o modalObservation) String() string {
	state := "hidden"
	if o.visible {
		state = "visible"
	}
	return fmt.Sprintf("%s (aria-hidden=%q)", state, o.ariaHidden)
}

func (m *Modal) observe() (modalObservation, error) {
	var o modalObservation
	visible, err := m.locator.IsVisible()
	if err != nil {
		return o, err
	}
	o.visible = visible
	n, err := m.locator.Count()
	if err != nil {
		return o, err
	}
	if n > 0 {
		aria, err := m.locator.GetAttribute("aria-hidden")
		if err != nil {
			return o, err
		}
		o.ariaHidden = aria
	}
	return o, nil
}

// ExpectVisible waits for the dialog to open
func (m *Modal) ExpectVisible(ctx context.Context) error {
	var last modalObservation
	err := poll.Until(ctx, m.timeout, m.interval, func() (bool, error) {
		o, err := m.observe()
		if err != nil {
			return false, err
		}
		last = o
		return o.visible && o.ariaHidden == "false", nil
	})
	if err != nil {
		return &roundtrip.ModalTimeoutError{Modal: m.name, Timeout: m.timeout, LastState: last.String(), Err: err}
	}
	return nil
}

// ExpectHidden waits for the dialog to close
func (m *Modal) ExpectHidden(ctx context.Context) error {
	last := modalObservation{visible: true}
	err := poll.Until(ctx, m.timeout, m.interval, func() (bool, error) {
		o, err := m.observe()
		if err != nil {
			return false, err
		}
		last = o
		return !o.visible && o.ariaHidden != "false", nil
	})
	if err != nil {
		return &roundtrip.SaveTimeoutError{Modal: m.name, Timeout: m.timeout, LastState: last.String(), Err: err}
	}
	return nil
}
