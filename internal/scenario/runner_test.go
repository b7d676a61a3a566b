package scenario

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/messaging-e2e/internal/config"
	"github.com/gotrs-io/messaging-e2e/internal/roundtrip"
	"github.com/gotrs-io/messaging-e2e/internal/session"
	"github.com/gotrs-io/messaging-e2e/internal/ui"
)

type fakeController struct {
	startErr error
	stopErr  error
	starts   int
	stops    int
}

func (c *fakeController) Start(context.Context) error { c.starts++; return c.startErr }
func (c *fakeController) Stop() error                 { c.stops++; return c.stopErr }
func (c *fakeController) BaseURL() string             { return "http://127.0.0.1:7070" }
func (c *fakeController) ID() string                  { return "session-1" }

type fakeProtocol struct {
	err   error
	panic bool
	text  string
}

func (p *fakeProtocol) Run(_ context.Context, text string) (*roundtrip.Trace, error) {
	if p.panic {
		panic("editor exploded")
	}
	p.text = text
	return &roundtrip.Trace{Steps: []roundtrip.Step{{Name: "open", Duration: time.Millisecond}}}, p.err
}

type fakePage struct {
	setupErr   error
	prepareErr error
	protocol   *fakeProtocol

	baseURL   string
	teardowns int
	failed    bool
	prepared  bool
}

func (p *fakePage) Setup() error { return p.setupErr }
func (p *fakePage) TearDown(name string, failed bool) {
	p.teardowns++
	p.failed = failed
}
func (p *fakePage) Prepare(context.Context) error { p.prepared = true; return p.prepareErr }
func (p *fakePage) Protocol() Protocol            { return p.protocol }

func newTestRunner(ctrl *fakeController, page *fakePage) *Runner {
	cfg := &config.Config{}
	return NewRunner(cfg,
		WithSessionFactory(func(config.AppConfig) (session.Controller, error) { return ctrl, nil }),
		WithPageFactory(func(_ *config.Config, baseURL string) Page {
			page.baseURL = baseURL
			return page
		}),
	)
}

func TestRunPasses(t *testing.T) {
	ctrl := &fakeController{}
	page := &fakePage{protocol: &fakeProtocol{}}

	res, err := newTestRunner(ctrl, page).Run(context.Background(), "# hello world")
	require.NoError(t, err)

	assert.True(t, res.Passed())
	assert.Equal(t, "session-1", res.SessionID)
	assert.Equal(t, "http://127.0.0.1:7070", res.BaseURL)
	assert.Equal(t, "http://127.0.0.1:7070", page.baseURL)
	assert.True(t, page.prepared)
	assert.Equal(t, "# hello world", page.protocol.text)
	require.NotNil(t, res.Trace)
	assert.Len(t, res.Trace.Steps, 1)
	assert.Positive(t, res.Duration)

	assert.Equal(t, 1, ctrl.starts)
	assert.Equal(t, 1, ctrl.stops)
	assert.Equal(t, 1, page.teardowns)
	assert.False(t, page.failed)
	assert.Contains(t, res.Report(), "PASS "+Name)
}

func TestRunAlwaysStopsSessionOnce(t *testing.T) {
	tests := []struct {
		name         string
		ctrl         *fakeController
		page         *fakePage
		wantTeardown int
		cleanPage    bool
		wantErr      func(t *testing.T, err error)
	}{
		{
			name:         "startup failure",
			ctrl:         &fakeController{startErr: &session.StartupError{BaseURL: "http://127.0.0.1:7070", Err: errors.New("refused")}},
			page:         &fakePage{protocol: &fakeProtocol{}},
			wantTeardown: 0,
			wantErr: func(t *testing.T, err error) {
				var se *session.StartupError
				assert.ErrorAs(t, err, &se)
			},
		},
		{
			name:         "browser setup failure",
			ctrl:         &fakeController{},
			page:         &fakePage{setupErr: errors.New("no chromium"), protocol: &fakeProtocol{}},
			wantTeardown: 1,
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrBrowserSetup)
				assert.ErrorContains(t, err, "no chromium")
			},
		},
		{
			name:         "navigation failure",
			ctrl:         &fakeController{},
			page:         &fakePage{prepareErr: &ui.NavigationError{Control: "messaging card", Err: errors.New("not found")}, protocol: &fakeProtocol{}},
			wantTeardown: 1,
			wantErr: func(t *testing.T, err error) {
				var ne *ui.NavigationError
				assert.ErrorAs(t, err, &ne)
			},
		},
		{
			name: "modal timeout",
			ctrl: &fakeController{},
			page: &fakePage{protocol: &fakeProtocol{err: &roundtrip.ModalTimeoutError{Modal: "messaging-modal", Timeout: time.Second}}},
			wantTeardown: 1,
			wantErr: func(t *testing.T, err error) {
				var me *roundtrip.ModalTimeoutError
				assert.ErrorAs(t, err, &me)
			},
		},
		{
			name: "assertion failure",
			ctrl: &fakeController{},
			page: &fakePage{protocol: &fakeProtocol{err: &roundtrip.AssertionError{Expected: "# hello world", Actual: ""}}},
			wantTeardown: 1,
			wantErr: func(t *testing.T, err error) {
				var ae *roundtrip.AssertionError
				assert.ErrorAs(t, err, &ae)
			},
		},
		{
			name:         "stop failure after success",
			ctrl:         &fakeController{stopErr: errors.New("still running")},
			page:         &fakePage{protocol: &fakeProtocol{}},
			wantTeardown: 1,
			cleanPage:    true,
			wantErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "stop session")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestRunner(tt.ctrl, tt.page).Run(context.Background(), "# hello world")
			require.Error(t, err)
			tt.wantErr(t, err)

			assert.Equal(t, err, res.Err)
			assert.False(t, res.Passed())
			assert.Contains(t, res.Report(), "FAIL "+Name)
			assert.Equal(t, 1, tt.ctrl.stops, "session stopped exactly once")
			assert.Equal(t, tt.wantTeardown, tt.page.teardowns)
			if tt.wantTeardown > 0 {
				assert.Equal(t, !tt.cleanPage, tt.page.failed)
			}
		})
	}
}

func TestRunFirstErrorWinsOverStopError(t *testing.T) {
	ctrl := &fakeController{stopErr: errors.New("still running")}
	page := &fakePage{protocol: &fakeProtocol{err: &roundtrip.SaveTimeoutError{Modal: "messaging-modal", Timeout: time.Second}}}

	_, err := newTestRunner(ctrl, page).Run(context.Background(), "# hello world")
	var se *roundtrip.SaveTimeoutError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, 1, ctrl.stops)
}

func TestRunStopsSessionOnPanic(t *testing.T) {
	ctrl := &fakeController{}
	page := &fakePage{protocol: &fakeProtocol{panic: true}}

	assert.Panics(t, func() {
		_, _ = newTestRunner(ctrl, page).Run(context.Background(), "# hello world")
	})
	assert.Equal(t, 1, ctrl.stops)
	assert.Equal(t, 1, page.teardowns)
}

func TestRunSessionFactoryError(t *testing.T) {
	r := NewRunner(&config.Config{},
		WithSessionFactory(func(config.AppConfig) (session.Controller, error) {
			return nil, errors.New("app.command or app.base_url is required")
		}),
	)

	res, err := r.Run(context.Background(), "# hello world")
	require.Error(t, err)
	assert.ErrorContains(t, err, "create session")
	assert.Equal(t, err, res.Err)
}
