// Package session brings up an isolated instance of the application under
// test for one scenario and guarantees its teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gotrs-io/messaging-e2e/internal/config"
	"github.com/gotrs-io/messaging-e2e/internal/poll"
)

const probeInterval = 100 * time.Millisecond

// Controller is the lifecycle contract the scenario runner consumes.
// Stop must be safe to call more than once and without a prior Start.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	BaseURL() string
}

// StartupError reports an instance that never became reachable
type StartupError struct {
	BaseURL string
	Elapsed time.Duration
	LogPath string
	Err     error
}

func (e *StartupError) Error() string {
	msg := fmt.Sprintf("application at %s not reachable after %s: %v", e.BaseURL, e.Elapsed.Round(time.Millisecond), e.Err)
	if e.LogPath != "" {
		msg += " (output: " + e.LogPath + ")"
	}
	return msg
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// New returns a controller for cfg: an External one when a base URL is
// configured, otherwise a Process that launches cfg.Command.
func New(cfg config.AppConfig) (Controller, error) {
	if cfg.IsExternal() {
		return NewExternal(cfg), nil
	}
	return NewProcess(cfg)
}

// Process launches the application as a child process with a private
// scratch directory and port.
type Process struct {
	cfg     config.AppConfig
	id      string
	port    int
	baseURL string
	client  *http.Client

	mu      sync.Mutex
	started bool
	dir     string
	logFile *os.File
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error

	stopOnce sync.Once
	stopErr  error
}

// NewProcess prepares a process-backed session. The port is fixed here so
// BaseURL is stable before Start.
func NewProcess(cfg config.AppConfig) (*Process, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("session: no application command configured")
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		p, err := freePort(host)
		if err != nil {
			return nil, fmt.Errorf("session: allocate port: %w", err)
		}
		port = p
	}
	return &Process{
		cfg:     cfg,
		id:      uuid.NewString(),
		port:    port,
		baseURL: "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		client:  &http.Client{Timeout: 800 * time.Millisecond},
	}, nil
}

// ID returns the session identifier used in logs and artifact names
func (p *Process) ID() string { return p.id }

// BaseURL returns the address the page should navigate to
func (p *Process) BaseURL() string { return p.baseURL }

// Dir returns the scratch directory, empty before Start
func (p *Process) Dir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dir
}

// Start launches the command and blocks until the health route answers or
// the startup timeout elapses.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("session %s: already started", p.id)
	}
	p.started = true

	dir, err := os.MkdirTemp("", "msge2e-"+p.id[:8]+"-")
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("session %s: create scratch dir: %w", p.id, err)
	}
	p.dir = dir

	logPath := filepath.Join(dir, "app.log")
	logFile, err := os.Create(logPath)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("session %s: create log file: %w", p.id, err)
	}
	p.logFile = logFile

	args := p.expand(p.cfg.Args)
	cmd := exec.Command(p.cfg.Command, args...)
	cmd.Dir = p.cfg.WorkDir
	cmd.Env = append(os.Environ(), p.expand(p.cfg.Env)...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	log.Printf("[e2e-session] %s starting %s %s", p.id, p.cfg.Command, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return &StartupError{BaseURL: p.baseURL, LogPath: logPath, Err: err}
	}
	p.cmd = cmd
	p.exited = make(chan struct{})
	go func() {
		werr := cmd.Wait()
		p.mu.Lock()
		p.waitErr = werr
		p.mu.Unlock()
		close(p.exited)
	}()
	exited := p.exited
	p.mu.Unlock()

	start := time.Now()
	err = poll.Until(ctx, p.cfg.StartupTimeout, probeInterval, func() (bool, error) {
		select {
		case <-exited:
			p.mu.Lock()
			werr := p.waitErr
			p.mu.Unlock()
			return false, poll.Abort(fmt.Errorf("process exited before becoming reachable: %v", werr))
		default:
		}
		return probe(p.client, p.baseURL, p.cfg.HealthPath)
	})
	if err != nil {
		return &StartupError{BaseURL: p.baseURL, Elapsed: time.Since(start), LogPath: logPath, Err: err}
	}
	log.Printf("[e2e-session] %s reachable at %s after %s", p.id, p.baseURL, time.Since(start).Round(time.Millisecond))
	return nil
}

// Stop terminates the process and removes the scratch directory. Repeated
// calls return the result of the first.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		p.stopErr = p.stop()
	})
	return p.stopErr
}

func (p *Process) stop() error {
	p.mu.Lock()
	cmd, exited, dir, logFile := p.cmd, p.exited, p.dir, p.logFile
	p.mu.Unlock()

	var errs []error
	if cmd != nil && cmd.Process != nil {
		select {
		case <-exited:
		default:
			if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
				log.Printf("[e2e-session] %s interrupt failed: %v", p.id, err)
			}
			select {
			case <-exited:
			case <-time.After(p.stopTimeout()):
				log.Printf("[e2e-session] %s did not exit within %s, killing", p.id, p.stopTimeout())
				if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
					errs = append(errs, fmt.Errorf("kill: %w", err))
				}
				<-exited
			}
		}
	}
	if logFile != nil {
		_ = logFile.Close()
	}
	if dir != "" && !p.cfg.KeepDir {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("remove scratch dir: %w", err))
		}
	}
	log.Printf("[e2e-session] %s stopped", p.id)
	if len(errs) > 0 {
		return fmt.Errorf("session %s: stop: %w", p.id, errors.Join(errs...))
	}
	return nil
}

func (p *Process) stopTimeout() time.Duration {
	if p.cfg.StopTimeout > 0 {
		return p.cfg.StopTimeout
	}
	return 5 * time.Second
}

// expand substitutes {port}, {dir}, {database} and {url} in each value
func (p *Process) expand(values []string) []string {
	r := strings.NewReplacer(
		"{port}", strconv.Itoa(p.port),
		"{dir}", p.dir,
		"{database}", filepath.Join(p.dir, "app.db"),
		"{url}", p.baseURL,
	)
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = r.Replace(v)
	}
	return out
}

// External attaches to an instance someone else manages. Stop is a no-op.
type External struct {
	cfg     config.AppConfig
	baseURL string
	client  *http.Client
}

// NewExternal returns a controller for an already running instance
func NewExternal(cfg config.AppConfig) *External {
	return &External{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: 800 * time.Millisecond},
	}
}

func (e *External) BaseURL() string { return e.baseURL }

// Start waits for the external instance to answer its health route
func (e *External) Start(ctx context.Context) error {
	start := time.Now()
	err := poll.Until(ctx, e.cfg.StartupTimeout, probeInterval, func() (bool, error) {
		return probe(e.client, e.baseURL, e.cfg.HealthPath)
	})
	if err != nil {
		return &StartupError{BaseURL: e.baseURL, Elapsed: time.Since(start), Err: err}
	}
	return nil
}

func (e *External) Stop() error { return nil }

// probe does a TCP dial followed by a GET of healthPath. Any status below
// 500 counts as reachable.
func probe(client *http.Client, base, healthPath string) (bool, error) {
	u, err := url.Parse(base)
	if err != nil {
		return false, poll.Abort(fmt.Errorf("invalid base url %q: %w", base, err))
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "80")
	}
	d := net.Dialer{Timeout: 250 * time.Millisecond}
	conn, err := d.Dial("tcp", host)
	if err != nil {
		return false, err
	}
	_ = conn.Close()

	if healthPath == "" {
		healthPath = "/"
	}
	resp, err := client.Get(base + healthPath)
	if err != nil {
		return false, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return false, fmt.Errorf("health check %s returned %d", healthPath, resp.StatusCode)
	}
	return true, nil
}

func freePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
