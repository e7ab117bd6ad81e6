package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"devauth/internal/config"
	"devauth/internal/grant"
	"devauth/pkg/logging"
)

const (
	// DefaultReadHeaderTimeout is the default timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultWriteTimeout is the default timeout for writing responses.
	DefaultWriteTimeout = 30 * time.Second
	// DefaultIdleTimeout is the default idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second

	// maxUserCodeAttempts bounds retries when a generated user code collides
	// with a live grant.
	maxUserCodeAttempts = 10

	// maxFormBytes limits request bodies on the form endpoints.
	maxFormBytes = 64 << 10

	// VerificationPath is the page where users enter their code.
	VerificationPath = "/device"
)

// Server serves the device authorization endpoints.
type Server struct {
	cfg     config.ServerConfig
	store   grant.Store
	issuer  *TokenIssuer
	users   *UserDirectory
	metrics *Metrics
	now     func() time.Time

	clients    map[string]config.ClientRegistration
	publicURL  string
	httpServer *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithMetrics uses m instead of a private metrics set.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithUserDirectory shares a directory that the caller may update on reload.
func WithUserDirectory(d *UserDirectory) Option {
	return func(s *Server) { s.users = d }
}

// New creates a Server around store.
func New(cfg config.ServerConfig, store grant.Store, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, errors.New("grant store is required")
	}

	s := &Server{
		cfg:     cfg,
		store:   store,
		now:     time.Now,
		clients: make(map[string]config.ClientRegistration, len(cfg.Clients)),
	}
	for _, opt := range opts {
		opt(s)
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = publicURLFromListen(cfg.Listen)
	}
	if err := validateHTTPSRequirement(publicURL); err != nil {
		return nil, err
	}
	s.publicURL = strings.TrimRight(publicURL, "/")

	for _, c := range cfg.Clients {
		s.clients[c.ID] = c
	}
	if s.users == nil {
		s.users = NewUserDirectory(cfg.Users)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}

	if cfg.SigningKey == "" {
		logging.Warn("AuthServer", "No signing key configured, issuing tokens with an ephemeral key")
	}
	issuer, err := NewTokenIssuer([]byte(cfg.SigningKey), s.publicURL, cfg.AccessTokenTTL, s.clock)
	if err != nil {
		return nil, err
	}
	s.issuer = issuer

	return s, nil
}

func (s *Server) clock() time.Time {
	return s.now()
}

// Users returns the directory used to authenticate sessions.
func (s *Server) Users() *UserDirectory {
	return s.users
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Issuer returns the access token issuer.
func (s *Server) Issuer() *TokenIssuer {
	return s.issuer
}

// VerificationURI is the page users are sent to.
func (s *Server) VerificationURI() string {
	return s.publicURL + VerificationPath
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /device/code", s.handleDeviceCode)
	mux.HandleFunc("POST /device/token", s.handleToken)

	mux.Handle("POST /device/approve", s.requireSession(s.decisionHandler(grant.StatusApproved)))
	mux.Handle("POST /device/deny", s.requireSession(s.decisionHandler(grant.StatusDenied)))
	mux.HandleFunc("GET "+VerificationPath, s.handleVerificationPage)

	mux.HandleFunc("GET /userinfo", s.handleUserInfo)

	return s.metrics.instrument(mux)
}

// ListenAndServe serves on the configured address until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("AuthServer", "Listening on %s (verification page %s)", ln.Addr(), s.VerificationURI())
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("authorization server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully shuts down the HTTP server if it was started.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	logging.Info("AuthServer", "Shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		logging.Warn("AuthServer", "Health check failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// publicURLFromListen derives a loopback URL from a listen address such as
// ":8080".
func publicURLFromListen(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://localhost:8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// validateHTTPSRequirement allows plain HTTP only for loopback addresses.
func validateHTTPSRequirement(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("public URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid public URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host == "localhost" || net.ParseIP(host).IsLoopback() {
			return nil
		}
		return fmt.Errorf("public URL must use HTTPS outside loopback (got: %s)", baseURL)
	default:
		return fmt.Errorf("invalid URL scheme: %s. Must be http (loopback only) or https", u.Scheme)
	}
}
