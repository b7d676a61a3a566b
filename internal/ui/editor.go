package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Key chords sent to the editor
const (
	SelectAllKey = "ControlOrMeta+KeyA"
	DeleteKey    = "Backspace"
)

// MonacoEditor drives a Monaco code editor through real keyboard events.
// Content is never assigned programmatically.
type MonacoEditor struct {
	page     playwright.Page
	root     playwright.Locator
	keyDelay time.Duration
}

// NewMonacoEditor binds to the first .monaco-editor inside container
func NewMonacoEditor(page playwright.Page, container playwright.Locator, keyDelay time.Duration) *MonacoEditor {
	return &MonacoEditor{
		page:     page,
		root:     container.Locator(".monaco-editor").First(),
		keyDelay: keyDelay,
	}
}

// Focus clicks the first rendered line
func (e *MonacoEditor) Focus() error {
	return e.root.Locator(".view-line").Nth(0).Click()
}

// ClearPass sends select-all then backspace
func (e *MonacoEditor) ClearPass() error {
	kb := e.page.Keyboard()
	opts := playwright.KeyboardPressOptions{Delay: playwright.Float(float64(e.keyDelay.Milliseconds()))}
	if err := kb.Press(SelectAllKey, opts); err != nil {
		return err
	}
	return kb.Press(DeleteKey, opts)
}

// Type sends text as individual keystrokes
func (e *MonacoEditor) Type(text string) error {
	return e.page.Keyboard().Type(text, playwright.KeyboardTypeOptions{
		Delay: playwright.Float(float64(e.keyDelay.Milliseconds())),
	})
}

// readLinesScript collects each rendered line with its vertical offset.
// Monaco positions and recycles line nodes, so document order is not line
// order.
const readLinesScript = `root => Array.from(root.querySelectorAll(".view-line")).map(line => ({
	top: line.offsetTop,
	text: line.textContent,
}))`

// renderedLine is one .view-line as found in the page
type renderedLine struct {
	top  float64
	text string
}

// Text returns the rendered lines in display order joined by newlines.
// Monaco renders spaces as U+00A0, which is mapped back to a plain space.
func (e *MonacoEditor) Text() (string, error) {
	raw, err := e.root.Evaluate(readLinesScript, nil)
	if err != nil {
		return "", err
	}
	lines, err := decodeRenderedLines(raw)
	if err != nil {
		return "", err
	}
	return normalizeLines(orderLines(lines)), nil
}

func decodeRenderedLines(raw interface{}) ([]renderedLine, error) {
	items, ok := raw.([]interface{})
	if !ok {
		if raw == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("editor lines: unexpected result %T", raw)
	}
	lines := make([]renderedLine, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("editor line %d: unexpected result %T", i, item)
		}
		var line renderedLine
		switch top := m["top"].(type) {
		case float64:
			line.top = top
		case int:
			line.top = float64(top)
		case int64:
			line.top = float64(top)
		}
		line.text, _ = m["text"].(string)
		lines = append(lines, line)
	}
	return lines, nil
}

func orderLines(lines []renderedLine) []string {
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].top < lines[j].top })
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.text
	}
	return out
}

func normalizeLines(lines []string) string {
	return strings.ReplaceAll(strings.Join(lines, "\n"), "\u00a0", " ")
}
