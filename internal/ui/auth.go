package ui

import (
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Login modal controls
const (
	LoginModalTestID   = "login-modal"
	LoginPasswordLabel = "Administrator Password"
	LoginButtonName    = "Login"
)

// Login submits the admin password when the application shows its login
// modal. It does nothing when password is empty or no login is requested.
func Login(page playwright.Page, password string, timeout time.Duration) error {
	if password == "" {
		return nil
	}
	modal := page.GetByTestId(LoginModalTestID)
	visible, err := modal.IsVisible()
	if err != nil {
		return fmt.Errorf("check login modal: %w", err)
	}
	if !visible {
		return nil
	}

	if err := modal.GetByLabel(LoginPasswordLabel).Fill(password); err != nil {
		return fmt.Errorf("failed to fill password: %w", err)
	}
	submit := modal.GetByRole(*playwright.AriaRoleButton, playwright.LocatorGetByRoleOptions{Name: LoginButtonName})
	if err := submit.Click(); err != nil {
		return fmt.Errorf("failed to click login: %w", err)
	}

	if err := modal.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateHidden,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		if n, _ := modal.Locator(".invalid-feedback").Count(); n > 0 {
			msg, _ := modal.Locator(".invalid-feedback").First().TextContent()
			return fmt.Errorf("login failed: %s", msg)
		}
		return fmt.Errorf("login modal did not close: %w", err)
	}
	return nil
}
