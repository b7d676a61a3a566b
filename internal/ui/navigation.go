package ui

import (
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ConfigRoute is the client-side route of the configuration view
const ConfigRoute = "/#/config"

// Feature gate controls, as rendered by the application
const (
	TopNavigationTestID = "topnavigation-button"
	SettingsButtonName  = "User Interface"
	ExperimentalLabel   = "Experimental 🧪"
	CloseButtonName     = "Close"
)

// NavigationError reports a required UI entry point that is missing
type NavigationError struct {
	Control string
	Err     error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation: %s not available: %v", e.Control, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// Navigator is the part of Browser that GoToConfig needs
type Navigator interface {
	NavigateTo(path string) error
}

// GoToConfig opens the configuration view and enables experimental features.
// timeout bounds how long each gate control may take to render.
func GoToConfig(nav Navigator, page playwright.Page, timeout time.Duration) error {
	if err := nav.NavigateTo(ConfigRoute); err != nil {
		return &NavigationError{Control: "config route", Err: err}
	}
	return EnableExperimental(page, timeout)
}

// EnableExperimental turns on the experimental UI flag through the settings
// modal. A missing control fails immediately; nothing is retried.
func EnableExperimental(page playwright.Page, timeout time.Duration) error {
	menu := page.GetByTestId(TopNavigationTestID)
	if err := present(menu, timeout); err != nil {
		return &NavigationError{Control: "top navigation menu", Err: err}
	}
	if err := menu.Click(); err != nil {
		return &NavigationError{Control: "top navigation menu", Err: err}
	}

	settings := page.GetByRole(*playwright.AriaRoleButton, playwright.PageGetByRoleOptions{
		Name: SettingsButtonName,
	})
	if err := present(settings, timeout); err != nil {
		return &NavigationError{Control: SettingsButtonName + " button", Err: err}
	}
	if err := settings.Click(); err != nil {
		return &NavigationError{Control: SettingsButtonName + " button", Err: err}
	}

	toggle := page.GetByLabel(ExperimentalLabel)
	if err := present(toggle, timeout); err != nil {
		return &NavigationError{Control: "experimental toggle", Err: err}
	}
	// Check is a no-op when the flag is already on.
	if err := toggle.Check(); err != nil {
		return &NavigationError{Control: "experimental toggle", Err: err}
	}

	closeBtn := page.GetByRole(*playwright.AriaRoleButton, playwright.PageGetByRoleOptions{
		Name:  CloseButtonName,
		Exact: playwright.Bool(true),
	})
	if err := present(closeBtn.First(), timeout); err != nil {
		return &NavigationError{Control: "settings close button", Err: err}
	}
	if err := closeBtn.First().Click(); err != nil {
		return &NavigationError{Control: "settings close button", Err: err}
	}
	return nil
}

func present(loc playwright.Locator, timeout time.Duration) error {
	return loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
}
