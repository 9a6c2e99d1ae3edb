package scan

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultMaxUploadBytes caps the size of an uploaded photo
const DefaultMaxUploadBytes = 12 << 20

// Server handles HTTP requests for scans
type Server struct {
	service        *Service
	basicAuth      BasicAuth
	maxUploadBytes int64
	mux            *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth, maxUploadBytes int64) *Server {
	return NewServerWithMux(service, basicAuth, maxUploadBytes, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, maxUploadBytes int64, mux *http.ServeMux) *Server {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Server{
		service:        service,
		basicAuth:      basicAuth,
		maxUploadBytes: maxUploadBytes,
		mux:            mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}

	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(s.basicAuth.Username)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(s.basicAuth.Password)) == 1
	return userMatch && passMatch
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Game Scanner"`)
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Health probes stay open for orchestrators
	s.mux.HandleFunc("GET /health/ready", s.handleReady)
	s.mux.HandleFunc("GET /health/live", s.handleLive)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /v1/scans/{id}/image", s.requireAuth(s.handleGetScanImage))
	s.mux.HandleFunc("POST /v1/scans/{id}/confirm", s.requireAuth(s.handleConfirmScan))
	s.mux.HandleFunc("POST /v1/scans/{id}/pricing", s.requireAuth(s.handlePricing))
	s.mux.HandleFunc("POST /v1/scans/{id}/draft", s.requireAuth(s.handleDraft))
	s.mux.HandleFunc("GET /v1/scans/{id}", s.requireAuth(s.handleGetScan))
	s.mux.HandleFunc("POST /v1/scans", s.requireAuth(s.handleCreateScan))
}

// Start serves HTTP on addr until ctx is cancelled, then shuts down
// gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.corsMiddleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}
