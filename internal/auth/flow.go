package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/bnema/nextmeeting/internal/credentials"
	"github.com/bnema/nextmeeting/internal/security"
)

// DefaultScopes grants calendar read access plus the identity needed for the email.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/calendar.readonly",
	"openid",
	"email",
	"profile",
}

// PendingAuth is the verifier and state of the one outstanding authorization request.
type PendingAuth struct {
	Verifier string
	State    string
}

// CodeExchanger is the part of Exchanger a Flow needs.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code, verifier string, creds ClientCredentials) (*credentials.TokenSet, error)
	LookupEmail(ctx context.Context, accessToken string) (string, error)
}

type FlowOptions struct {
	Credentials ClientCredentials
	Scopes      []string
	AuthURL     string
	Generator   *Generator
	Exchanger   CodeExchanger
	Store       credentials.Store
	Logger      *security.SecureLogger
}

// Flow drives one authorization-code exchange at a time for a single store.
type Flow struct {
	oauth     *oauth2.Config
	creds     ClientCredentials
	generator *Generator
	exchanger CodeExchanger
	store     credentials.Store
	logger    *security.SecureLogger

	mu      sync.Mutex
	pending *PendingAuth
}

func NewFlow(opts FlowOptions) *Flow {
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	endpoint := google.Endpoint
	if opts.AuthURL != "" {
		endpoint.AuthURL = opts.AuthURL
	}
	generator := opts.Generator
	if generator == nil {
		generator = DefaultGenerator
	}
	logger := opts.Logger
	if logger == nil {
		logger = security.NewSecureLogger(false)
	}

	return &Flow{
		oauth: &oauth2.Config{
			ClientID:     opts.Credentials.ClientID,
			ClientSecret: opts.Credentials.ClientSecret,
			RedirectURL:  opts.Credentials.RedirectURI,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		creds:     opts.Credentials,
		generator: generator,
		exchanger: opts.Exchanger,
		store:     opts.Store,
		logger:    logger,
	}
}

// AuthorizationURL starts a new authorization request, replacing any pending one.
func (f *Flow) AuthorizationURL() (string, error) {
	authURL, _, err := f.begin()
	return authURL, err
}

func (f *Flow) begin() (string, string, error) {
	challenge, err := f.generator.Generate()
	if err != nil {
		f.logger.LogSecurityEvent("pkce_generation_failed", security.SeverityCritical, map[string]any{
			"error": err.Error(),
		})
		return "", "", err
	}

	authURL := f.oauth.AuthCodeURL(challenge.State,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("code_challenge", challenge.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	f.mu.Lock()
	f.pending = &PendingAuth{Verifier: challenge.Verifier, State: challenge.State}
	f.mu.Unlock()

	f.logger.LogAuthEvent("authorization_started", true, nil)
	return authURL, challenge.State, nil
}

// HandleCallback completes the pending request. A state that does not match
// leaves both the pending slot and the store untouched. A matching state
// consumes the pending request even if the exchange then fails.
func (f *Flow) HandleCallback(ctx context.Context, code, state string) (*credentials.TokenSet, error) {
	f.mu.Lock()
	pending := f.pending
	if pending == nil || subtle.ConstantTimeCompare([]byte(pending.State), []byte(state)) != 1 {
		f.mu.Unlock()
		f.logger.LogSecurityEvent("callback_state_mismatch", security.SeverityWarning, map[string]any{
			"had_pending": pending != nil,
		})
		return nil, ErrInvalidState
	}
	if code == "" {
		f.mu.Unlock()
		return nil, ErrMissingCode
	}
	f.pending = nil
	f.mu.Unlock()

	tokens, err := f.exchanger.ExchangeCode(ctx, code, pending.Verifier, f.creds)
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}

	if tokens.Email == "" {
		// Best effort; a missing email never blocks the connection.
		if email, err := f.exchanger.LookupEmail(ctx, tokens.AccessToken); err == nil {
			tokens.Email = email
		}
	}

	if err := f.store.Write(ctx, tokens); err != nil {
		return nil, fmt.Errorf("storing credentials: %w", err)
	}

	f.logger.LogAuthEvent("authorization_completed", true, map[string]any{
		"email": tokens.Email,
	})
	return tokens, nil
}

// Pending reports whether an authorization request is outstanding.
func (f *Flow) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending != nil
}

// Cancel drops the outstanding request, if any.
func (f *Flow) Cancel() {
	f.mu.Lock()
	f.pending = nil
	f.mu.Unlock()
}

// FlowSet lets one callback listener serve flows for many instances by
// routing each callback on its state value.
type FlowSet struct {
	newFlow func(instanceID string) (*Flow, error)

	mu     sync.Mutex
	flows  map[string]*Flow
	states map[string]string // state -> instance
	latest map[string]string // instance -> state
}

func NewFlowSet(newFlow func(instanceID string) (*Flow, error)) *FlowSet {
	return &FlowSet{
		newFlow: newFlow,
		flows:   make(map[string]*Flow),
		states:  make(map[string]string),
		latest:  make(map[string]string),
	}
}

// Begin issues a new authorization URL for instanceID.
func (s *FlowSet) Begin(instanceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[instanceID]
	if !ok {
		var err error
		flow, err = s.newFlow(instanceID)
		if err != nil {
			return "", err
		}
		s.flows[instanceID] = flow
	}

	authURL, state, err := flow.begin()
	if err != nil {
		return "", err
	}

	if old, ok := s.latest[instanceID]; ok {
		delete(s.states, old)
	}
	s.states[state] = instanceID
	s.latest[instanceID] = state
	return authURL, nil
}

// HandleCallback routes a callback to the flow that issued state.
func (s *FlowSet) HandleCallback(ctx context.Context, code, state string) (string, *credentials.TokenSet, error) {
	s.mu.Lock()
	instanceID, ok := s.states[state]
	flow := s.flows[instanceID]
	s.mu.Unlock()

	if !ok || flow == nil {
		return "", nil, ErrInvalidState
	}

	tokens, err := flow.HandleCallback(ctx, code, state)
	if errors.Is(err, ErrMissingCode) || errors.Is(err, ErrInvalidState) {
		return instanceID, nil, err
	}

	s.mu.Lock()
	if s.latest[instanceID] == state {
		delete(s.latest, instanceID)
	}
	delete(s.states, state)
	s.mu.Unlock()

	return instanceID, tokens, err
}

// Pending reports whether instanceID has an outstanding request.
func (s *FlowSet) Pending(instanceID string) bool {
	s.mu.Lock()
	flow := s.flows[instanceID]
	s.mu.Unlock()
	return flow != nil && flow.Pending()
}

// Remove cancels and forgets instanceID's flow.
func (s *FlowSet) Remove(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if flow, ok := s.flows[instanceID]; ok {
		flow.Cancel()
		delete(s.flows, instanceID)
	}
	if state, ok := s.latest[instanceID]; ok {
		delete(s.states, state)
		delete(s.latest, instanceID)
	}
}
