package roundtrip

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeApp simulates the config page: a persisted value, a modal, and an
// editor whose content is split into blocks that each need one clearing pass.
type fakeApp struct {
	persisted string
	modalOpen bool
	blocks    []string
	events    []string

	saveKeepsOpen  bool
	neverOpens     bool
	clearIsNoop    bool
	dropsOnSave    bool
	clearPasses    int
	typedWhileFull bool

	// emptyReadsAfterReload is how many reads after reopening still see an
	// editor whose content has not loaded yet.
	emptyReadsAfterReload int
	// staleReadsAfterClear is how many reads after a clearing pass still see
	// the text from before the pass.
	staleReadsAfterClear int
	reloaded             bool
	pendingEmpty         int
	pendingStale         int
	staleText            string
	reads                int
}

func newFakeApp(persisted string) *fakeApp {
	return &fakeApp{persisted: persisted}
}

func (a *fakeApp) ClickEdit() error {
	a.events = append(a.events, "edit")
	if !a.neverOpens {
		a.modalOpen = true
		a.blocks = strings.Split(a.persisted, "\n")
		if a.reloaded {
			a.pendingEmpty = a.emptyReadsAfterReload
		}
	}
	return nil
}

func (a *fakeApp) ClickSave() error {
	a.events = append(a.events, "save")
	if !a.dropsOnSave {
		a.persisted = strings.Join(a.blocks, "")
	}
	if !a.saveKeepsOpen {
		a.modalOpen = false
	}
	return nil
}

func (a *fakeApp) Reload() error {
	a.events = append(a.events, "reload")
	a.modalOpen = false
	a.blocks = nil
	a.reloaded = true
	return nil
}

func (a *fakeApp) ExpectVisible(ctx context.Context) error {
	if !a.modalOpen {
		return &ModalTimeoutError{Modal: "messaging-modal", Timeout: time.Second, LastState: "hidden"}
	}
	return nil
}

func (a *fakeApp) ExpectHidden(ctx context.Context) error {
	if a.modalOpen {
		return &SaveTimeoutError{Modal: "messaging-modal", Timeout: time.Second, LastState: "visible"}
	}
	return nil
}

func (a *fakeApp) Focus() error { return nil }

// ClearPass removes only the last block, like a select-all that stops at a
// block boundary.
func (a *fakeApp) ClearPass() error {
	a.clearPasses++
	a.staleText = strings.Join(a.blocks, "\n")
	a.pendingStale = a.staleReadsAfterClear
	if a.clearIsNoop || len(a.blocks) == 0 {
		return nil
	}
	a.blocks = a.blocks[:len(a.blocks)-1]
	return nil
}

func (a *fakeApp) Type(text string) error {
	if !IsBlank(strings.Join(a.blocks, "")) {
		a.typedWhileFull = true
	}
	a.blocks = append(a.blocks, text)
	return nil
}

func (a *fakeApp) Text() (string, error) {
	a.reads++
	if a.pendingEmpty > 0 {
		a.pendingEmpty--
		return "", nil
	}
	if a.pendingStale > 0 {
		a.pendingStale--
		return a.staleText, nil
	}
	return strings.Join(a.blocks, "\n"), nil
}

func newProtocol(app *fakeApp, attempts int) *Protocol {
	return New(app, app, app, Options{
		MaxClearAttempts: attempts,
		VerifyTimeout:    200 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		ClearSettle:      30 * time.Millisecond,
	})
}

func TestRunRoundTrip(t *testing.T) {
	app := newFakeApp("title: old\nline two\nline three")
	p := newProtocol(app, DefaultMaxClearAttempts)

	trace, err := p.Run(context.Background(), "# hello world")
	require.NoError(t, err)

	assert.Equal(t, "# hello world", app.persisted)
	assert.False(t, app.typedWhileFull, "typing must happen on an empty buffer")
	assert.Equal(t, 3, app.clearPasses, "clearing stops once the buffer is empty")
	assert.Equal(t, []string{"edit", "save", "reload", "edit"}, app.events)
	assert.Equal(t, Visible, p.State())

	var names []string
	for _, s := range trace.Steps {
		names = append(names, s.Name)
		assert.NoError(t, s.Err)
	}
	assert.Equal(t, []string{"open", "write", "save", "reload", "reopen", "verify"}, names)
	assert.Contains(t, trace.String(), "verify")
}

func TestRunIsIndependentOfPriorContent(t *testing.T) {
	for _, prior := range []string{"", "# hello world", "a\nb\nc\nd", "   "} {
		app := newFakeApp(prior)
		_, err := newProtocol(app, DefaultMaxClearAttempts).Run(context.Background(), "# hello world")
		require.NoError(t, err, "prior %q", prior)
		assert.Equal(t, "# hello world", app.persisted)
	}
}

func TestRunModalNeverOpens(t *testing.T) {
	app := newFakeApp("x")
	app.neverOpens = true

	trace, err := newProtocol(app, 4).Run(context.Background(), "# hello world")
	var mte *ModalTimeoutError
	require.ErrorAs(t, err, &mte)
	assert.Equal(t, "hidden", mte.LastState)
	require.Len(t, trace.Steps, 1)
	assert.Equal(t, "open", trace.Steps[0].Name)
	assert.Equal(t, []string{"edit"}, app.events, "no step runs after a failure")
}

func TestRunSaveDoesNotClose(t *testing.T) {
	app := newFakeApp("x")
	app.saveKeepsOpen = true

	_, err := newProtocol(app, 4).Run(context.Background(), "# hello world")
	var ste *SaveTimeoutError
	require.ErrorAs(t, err, &ste)
	assert.Equal(t, "visible", ste.LastState)
	assert.NotContains(t, app.events, "reload")
}

func TestRunNotPersisted(t *testing.T) {
	app := newFakeApp("stale content")
	app.dropsOnSave = true

	_, err := newProtocol(app, 4).Run(context.Background(), "# hello world")
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "# hello world", ae.Expected)
	assert.Equal(t, "stale content", ae.Actual)
	assert.Contains(t, err.Error(), "verify")
}

func TestVerifyWaitsForLateContent(t *testing.T) {
	app := newFakeApp("title: old")
	app.emptyReadsAfterReload = 2

	trace, err := newProtocol(app, 4).Run(context.Background(), "# hello world")
	require.NoError(t, err)
	assert.Len(t, trace.Steps, 6)
	assert.Equal(t, 0, app.pendingEmpty, "empty reads were retried")
}

func TestVerifyTimesOutWithLastRead(t *testing.T) {
	app := newFakeApp("title: old")
	app.emptyReadsAfterReload = 1 << 20
	p := New(app, app, app, Options{
		VerifyTimeout: 40 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
		ClearSettle:   30 * time.Millisecond,
	})

	start := time.Now()
	_, err := p.Run(context.Background(), "# hello world")
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "", ae.Actual)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "verify waited for the deadline")
	assert.Greater(t, app.reads, 2, "verify read more than once")
}

func TestClearWaitsForEditorToSettle(t *testing.T) {
	app := newFakeApp("title: old")
	app.staleReadsAfterClear = 2
	p := newProtocol(app, 4)
	require.NoError(t, p.Open(context.Background()))

	n, err := p.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a lagging editor does not cost extra passes")
	assert.Equal(t, 1, app.clearPasses)
}

func TestClearGivesUpAfterMaxAttempts(t *testing.T) {
	app := newFakeApp("a\nb\nc\nd\ne\nf")
	p := newProtocol(app, 4)
	require.NoError(t, p.Open(context.Background()))

	err := p.Write(context.Background(), "# hello world")
	var ce *ClearError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 4, ce.Attempts)
	assert.Equal(t, "a\nb", ce.Residual)
	assert.Equal(t, 4, app.clearPasses)
	assert.False(t, app.typedWhileFull, "nothing is typed into a non-empty buffer")
}

func TestClearNoopEditor(t *testing.T) {
	app := newFakeApp("keep me")
	app.clearIsNoop = true
	p := newProtocol(app, 2)
	require.NoError(t, p.Open(context.Background()))

	n, err := p.Clear(context.Background())
	assert.Equal(t, 2, n)
	var ce *ClearError
	require.ErrorAs(t, err, &ce)
}

func TestClearAlreadyEmptyTakesOnePass(t *testing.T) {
	app := newFakeApp("")
	p := newProtocol(app, 4)
	require.NoError(t, p.Open(context.Background()))

	n, err := p.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLifecycleRejectsRepeatedTransitions(t *testing.T) {
	app := newFakeApp("x")
	p := newProtocol(app, 4)
	ctx := context.Background()

	var se *StateError
	require.ErrorAs(t, p.Save(ctx), &se, "cannot save a closed modal")
	assert.Equal(t, Visible, se.Want)
	require.ErrorAs(t, p.Verify(ctx, "x"), &se)
	require.ErrorAs(t, p.Write(ctx, "x"), &se)

	require.NoError(t, p.Open(ctx))
	require.ErrorAs(t, p.Open(ctx), &se, "two opens in a row")
	assert.Equal(t, Hidden, se.Want)
	assert.Equal(t, Visible, se.Got)
	require.ErrorAs(t, p.Reload(ctx), &se, "reload only from a closed modal")

	require.NoError(t, p.Save(ctx))
	require.ErrorAs(t, p.Save(ctx), &se, "two closes in a row")
	assert.Equal(t, 2, p.lifecycle.Transitions())
}

func TestRunCancelledContext(t *testing.T) {
	app := newFakeApp("x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trace, err := newProtocol(app, 4).Run(ctx, "# hello world")
	require.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, app.events)
	require.Len(t, trace.Steps, 1)
}

func TestIsBlank(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{" \n\t", true},
		{"\u00a0", true},
		{"\u200b\n\ufeff", true},
		{"#", false},
		{"\u00a0x", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsBlank(tt.in), "IsBlank(%q)", tt.in)
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&ModalTimeoutError{Modal: "m", Timeout: time.Second, LastState: "hidden", Err: errors.New("x")}).Error(), "not visible")
	assert.Contains(t, (&SaveTimeoutError{Modal: "m", Timeout: time.Second, LastState: "visible", Err: errors.New("x")}).Error(), "after save")
	assert.Contains(t, (&AssertionError{Expected: "a", Actual: "b"}).Error(), `expected to contain "a", got "b"`)
	assert.Contains(t, (&StateError{Step: "save", Want: Visible, Got: Hidden}).Error(), "save requires modal visible")
}
