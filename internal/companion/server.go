// Package companion hosts the local OAuth redirect endpoints used to
// connect a calendar account.
package companion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/bnema/nextmeeting/internal/auth"
	"github.com/bnema/nextmeeting/internal/credentials"
	"github.com/bnema/nextmeeting/internal/security"
)

// DefaultInstance is used when a request names no instance.
const DefaultInstance = "default"

// Authorizer issues authorization URLs and completes callbacks.
// *auth.FlowSet satisfies it.
type Authorizer interface {
	Begin(instanceID string) (string, error)
	HandleCallback(ctx context.Context, code, state string) (string, *credentials.TokenSet, error)
}

type Options struct {
	// Addr is the listen address, normally 127.0.0.1 and the redirect port.
	Addr       string
	Authorizer Authorizer
	// Stores finds the credential store of an instance.
	Stores func(instanceID string) (credentials.Store, bool)
	// OpenBrowser, when set, is called with every new authorization URL.
	OpenBrowser func(url string) error
	// OnAuthorized runs after a callback stored new credentials.
	OnAuthorized func(instanceID string, tokens *credentials.TokenSet)
	Logger       *security.SecureLogger
}

type Server struct {
	opts   Options
	logger *security.SecureLogger
	router *mux.Router
}

var successPage = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Calendar connected</title>
<style>body{font-family:sans-serif;background:#263238;color:#fff;text-align:center;padding-top:20vh}</style>
</head>
<body>
<h1>Calendar connected</h1>
{{if .Email}}<p>Signed in as {{.Email}}.</p>{{end}}
<p>You can close this window.</p>
</body>
</html>
`))

func New(opts Options) *Server {
	s := &Server{opts: opts, logger: opts.Logger}
	if s.logger == nil {
		s.logger = security.NewSecureLogger(false)
	}

	r := mux.NewRouter()
	r.Use(s.requestLogger(), securityHeaders())
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/start", s.handleStart).Methods(http.MethodGet)
	r.HandleFunc("/callback", s.handleCallback).Methods(http.MethodGet)
	r.HandleFunc("/tokens", s.handleTokens).Methods(http.MethodGet)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("companion listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down companion: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		s.logger.Error("failed to write health response", "error", err)
	}
}

func instanceOf(r *http.Request) string {
	if id := r.URL.Query().Get("instance"); id != "" {
		return id
	}
	return DefaultInstance
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	instanceID := instanceOf(r)
	if _, ok := s.store(instanceID); !ok {
		s.writeError(w, r, ErrUnknownInstance, http.StatusNotFound, "start for unknown instance", "instance", instanceID)
		return
	}

	authURL, err := s.opts.Authorizer.Begin(instanceID)
	if err != nil {
		s.writeError(w, r, ErrInternal, http.StatusInternalServerError, "failed to start authorization", "error", err)
		return
	}

	if s.opts.OpenBrowser != nil {
		if err := s.opts.OpenBrowser(authURL); err != nil {
			s.logger.Warn("failed to open browser", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "authUrl": authURL})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	instanceID, tokens, err := s.opts.Authorizer.HandleCallback(r.Context(), q.Get("code"), q.Get("state"))
	switch {
	case errors.Is(err, auth.ErrInvalidState):
		s.writeError(w, r, ErrInvalidState, http.StatusBadRequest, "callback with invalid state",
			"state_length", len(q.Get("state")))
		return
	case errors.Is(err, auth.ErrMissingCode):
		s.writeError(w, r, ErrMissingCode, http.StatusBadRequest, "callback without code",
			"instance", instanceID, "provider_error", q.Get("error"))
		return
	case errors.Is(err, auth.ErrExchangeRejected), errors.Is(err, auth.ErrProviderError), errors.Is(err, auth.ErrMalformedResponse):
		s.writeError(w, r, ErrTokenExchangeFailed, http.StatusBadGateway, "token exchange failed",
			"instance", instanceID, "error", err)
		return
	case err != nil:
		s.writeError(w, r, ErrInternal, http.StatusInternalServerError, "completing authorization failed",
			"instance", instanceID, "error", err)
		return
	}

	if s.opts.OnAuthorized != nil {
		s.opts.OnAuthorized(instanceID, tokens)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := successPage.Execute(w, struct{ Email string }{tokens.Email}); err != nil {
		s.logger.Error("failed to render success page", "error", err)
	}
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	instanceID := instanceOf(r)
	store, ok := s.store(instanceID)
	if !ok {
		s.writeError(w, r, ErrUnknownInstance, http.StatusNotFound, "tokens for unknown instance", "instance", instanceID)
		return
	}

	tokens, err := store.Read(r.Context())
	if errors.Is(err, credentials.ErrNoCredentials) {
		s.writeError(w, r, ErrNotConnected, http.StatusNotFound, "no credentials stored", "instance", instanceID)
		return
	}
	if err != nil {
		s.writeError(w, r, ErrInternal, http.StatusInternalServerError, "failed to read credentials", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) store(instanceID string) (credentials.Store, bool) {
	if s.opts.Stores == nil {
		return nil, false
	}
	return s.opts.Stores(instanceID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
