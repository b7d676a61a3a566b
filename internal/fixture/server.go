// Package fixture is a small stand-in for the application under test: a
// configuration page with a feature-gated messaging editor whose content is
// persisted in SQLite.
package fixture

import (
	"context"
	"crypto/subtle"
	_ "embed"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/flosch/pongo2/v6"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/gotrs-io/messaging-e2e/internal/version"
)

// Routes served by the fixture
const (
	HealthPath        = "/healthz"
	MessagingAPIPath  = "/api/config/messaging"
	LoginAPIPath      = "/api/auth/login"
	ExperimentalKey   = "settings_experimental"
	sessionCookieName = "fixture_auth"
)

//go:embed templates/config.pongo2
var configTemplate string

var configPage = pongo2.Must(pongo2.FromString(configTemplate))

// Options configures a Server
type Options struct {
	// AdminPassword enables the login modal and protects writes when set.
	AdminPassword string
	// SaveDelay postpones the response to a save, to exercise waits.
	SaveDelay time.Duration
	// HideExperimental leaves the experimental toggle out of the settings
	// modal, as builds without the feature gate do.
	HideExperimental bool
}

// Server serves the fixture application
type Server struct {
	store *Store
	opts  Options

	mu       sync.RWMutex
	sessions map[string]struct{}
}

// NewServer creates a server backed by store
func NewServer(store *Store, opts Options) *Server {
	return &Server{
		store:    store,
		opts:     opts,
		sessions: make(map[string]struct{}),
	}
}

// Router builds the gin engine
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(HealthPath, s.handleHealth)
	r.GET("/", s.handleConfigPage)
	r.POST(LoginAPIPath, s.handleLogin)

	api := r.Group("/api/config")
	api.GET("/messaging", s.handleGetMessaging)
	api.PUT("/messaging", s.requireAuth, s.handlePutMessaging)

	return r
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[fixture] listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		log.Printf("[fixture] stopped")
		return nil
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Get()})
}

func (s *Server) handleConfigPage(c *gin.Context) {
	value, err := s.store.Get(c.Request.Context(), MessagingKey)
	if err != nil {
		c.String(http.StatusInternalServerError, "load messaging: %v", err)
		return
	}

	var lines []string
	if value != "" {
		lines = strings.Split(value, "\n")
	}

	html, err := configPage.Execute(pongo2.Context{
		"title":                  "Configuration",
		"lines":                  lines,
		"auth_required":          s.opts.AdminPassword != "" && !s.authenticated(c),
		"experimental_key":       ExperimentalKey,
		"experimental_available": !s.opts.HideExperimental,
		"api_path":               MessagingAPIPath,
		"login_path":             LoginAPIPath,
	})
	if err != nil {
		c.String(http.StatusInternalServerError, "Template execution error: %v", err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (s *Server) handleGetMessaging(c *gin.Context) {
	value, err := s.store.Get(c.Request.Context(), MessagingKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": value})
}

type messagingRequest struct {
	Value *string `json:"value" binding:"required"`
}

func (s *Server) handlePutMessaging(c *gin.Context) {
	var req messagingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := ValidateYAML(*req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.opts.SaveDelay > 0 {
		time.Sleep(s.opts.SaveDelay)
	}
	if err := s.store.Set(c.Request.Context(), MessagingKey, *req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": true})
}

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if s.opts.AdminPassword == "" {
		c.JSON(http.StatusOK, gin.H{"result": true})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.opts.AdminPassword)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = struct{}{}
	s.mu.Unlock()

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(sessionCookieName, token, 0, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"result": true})
}

func (s *Server) authenticated(c *gin.Context) bool {
	token, err := c.Cookie(sessionCookieName)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[token]
	return ok
}

func (s *Server) requireAuth(c *gin.Context) {
	if s.opts.AdminPassword == "" || s.authenticated(c) {
		c.Next()
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
}

// ValidateYAML rejects templates that are not well-formed YAML. Comments and
// empty documents are accepted.
func ValidateYAML(value string) error {
	var doc interface{}
	if err := yaml.Unmarshal([]byte(value), &doc); err != nil {
		return errors.New("invalid yaml: " + err.Error())
	}
	return nil
}
