package ui

import (
	"github.com/playwright-community/playwright-go"

	"github.com/gotrs-io/messaging-e2e/internal/config"
	"github.com/gotrs-io/messaging-e2e/internal/roundtrip"
)

// Test ids and accessible names of the messaging controls
const (
	MessagingTestID      = "messaging"
	MessagingModalTestID = "messaging-modal"
	EditButtonName       = "edit"
	SaveButtonName       = "Save"
)

// Reloader performs a full client reload
type Reloader interface {
	Reload() error
}

// MessagingView locates the messaging card and its modal controls
type MessagingView struct {
	page     playwright.Page
	modal    playwright.Locator
	reloader Reloader
}

// NewMessagingView binds the view to page. Save is looked up inside modal.
func NewMessagingView(page playwright.Page, modal playwright.Locator, reloader Reloader) *MessagingView {
	return &MessagingView{page: page, modal: modal, reloader: reloader}
}

// ClickEdit activates the edit control of the messaging card
func (v *MessagingView) ClickEdit() error {
	return v.page.GetByTestId(MessagingTestID).
		GetByRole(*playwright.AriaRoleButton, playwright.LocatorGetByRoleOptions{Name: EditButtonName}).
		Click()
}

// ClickSave activates the modal's save control
func (v *MessagingView) ClickSave() error {
	return v.modal.
		GetByRole(*playwright.AriaRoleButton, playwright.LocatorGetByRoleOptions{Name: SaveButtonName}).
		Click()
}

func (v *MessagingView) Reload() error {
	return v.reloader.Reload()
}

// NewMessagingProtocol wires the view, modal and editor of b's page into a
// round-trip protocol.
func NewMessagingProtocol(b *Browser, cfg config.ProtocolConfig) *roundtrip.Protocol {
	modal := NewModal(b.Page, MessagingModalTestID, cfg.ModalTimeout, cfg.PollInterval)
	view := NewMessagingView(b.Page, modal.Locator(), b)
	editor := NewMonacoEditor(b.Page, modal.Locator(), cfg.KeyDelay)
	return roundtrip.New(view, modal, editor, roundtrip.Options{
		MaxClearAttempts: cfg.MaxClearAttempts,
		VerifyTimeout:    cfg.ModalTimeout,
		PollInterval:     cfg.PollInterval,
		ClearSettle:      cfg.ClearSettle,
	})
}
