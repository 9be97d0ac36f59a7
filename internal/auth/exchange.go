package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2/google"

	"github.com/bnema/nextmeeting/internal/credentials"
	"github.com/bnema/nextmeeting/internal/security"
)

const (
	UserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	maxResponseBody = 1 << 20
)

// ClientCredentials identifies the OAuth client to the token endpoint.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// tokenResponse is the subset of the token endpoint reply we consume.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	IDToken      string `json:"id_token"`
}

type ExchangerOptions struct {
	TokenURL    string
	UserInfoURL string
	HTTPClient  *http.Client
	Logger      *security.SecureLogger
	Now         func() time.Time
}

// Exchanger talks to the provider's token and user-info endpoints. It never
// persists anything; callers commit the returned token sets.
type Exchanger struct {
	tokenURL    string
	userInfoURL string
	client      *http.Client
	logger      *security.SecureLogger
	now         func() time.Time
}

func NewExchanger(opts ExchangerOptions) *Exchanger {
	e := &Exchanger{
		tokenURL:    opts.TokenURL,
		userInfoURL: opts.UserInfoURL,
		client:      opts.HTTPClient,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if e.tokenURL == "" {
		e.tokenURL = google.Endpoint.TokenURL
	}
	if e.userInfoURL == "" {
		e.userInfoURL = UserInfoURL
	}
	if e.client == nil {
		e.client = &http.Client{Timeout: 10 * time.Second}
	}
	if e.logger == nil {
		e.logger = security.NewSecureLogger(false)
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// ExchangeCode redeems an authorization code bound to verifier.
func (e *Exchanger) ExchangeCode(ctx context.Context, code, verifier string, creds ClientCredentials) (*credentials.TokenSet, error) {
	form := url.Values{
		"code":          {code},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"redirect_uri":  {creds.RedirectURI},
		"grant_type":    {"authorization_code"},
		"code_verifier": {verifier},
	}

	resp, err := e.postToken(ctx, "exchange", form)
	if err != nil {
		e.logger.LogAuthEvent("code_exchange", false, map[string]any{"error": err.Error()})
		return nil, err
	}

	tokens := &credentials.TokenSet{
		Provider:     credentials.ProviderGoogle,
		Email:        emailFromIDToken(resp.IDToken),
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ClientID:     creds.ClientID,
		ExpiresAt:    e.expiresAt(resp.ExpiresIn),
		Scope:        resp.Scope,
	}

	e.logger.LogAuthEvent("code_exchange", true, map[string]any{
		"has_refresh_token": tokens.RefreshToken != "",
		"has_email":         tokens.Email != "",
	})
	return tokens, nil
}

// Refresh renews prior. A set without a refresh token fails before any request.
// Fields the provider omits on refresh are carried over from prior.
func (e *Exchanger) Refresh(ctx context.Context, prior *credentials.TokenSet, creds ClientCredentials) (*credentials.TokenSet, error) {
	if prior == nil || !prior.Refreshable() {
		return nil, ErrNotRefreshable
	}

	clientID := prior.ClientID
	if clientID == "" {
		clientID = creds.ClientID
	}

	form := url.Values{
		"refresh_token": {prior.RefreshToken},
		"client_id":     {clientID},
		"client_secret": {creds.ClientSecret},
		"grant_type":    {"refresh_token"},
	}

	resp, err := e.postToken(ctx, "refresh", form)
	if err != nil {
		e.logger.LogAuthEvent("token_refresh", false, map[string]any{"error": err.Error()})
		return nil, err
	}

	next := prior.Clone()
	if next.Provider == "" {
		next.Provider = credentials.ProviderGoogle
	}
	next.ClientID = clientID
	next.AccessToken = resp.AccessToken
	next.ExpiresAt = e.expiresAt(resp.ExpiresIn)
	if resp.RefreshToken != "" {
		next.RefreshToken = resp.RefreshToken
	}
	if resp.Scope != "" {
		next.Scope = resp.Scope
	}
	if next.Email == "" {
		next.Email = emailFromIDToken(resp.IDToken)
	}

	e.logger.LogAuthEvent("token_refresh", true, map[string]any{
		"rotated": resp.RefreshToken != "",
	})
	return next, nil
}

// LookupEmail asks the user-info endpoint for the account email.
func (e *Exchanger) LookupEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.userInfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := e.now()
	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: user-info request: %v", ErrProviderError, err)
	}
	defer resp.Body.Close()
	e.logger.LogNetworkEvent(http.MethodGet, e.userInfoURL, resp.StatusCode, e.now().Sub(start).String())

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fmt.Errorf("%w: user-info returned status %d", ErrProviderError, resp.StatusCode)
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&info); err != nil {
		return "", fmt.Errorf("%w: decoding user-info: %v", ErrProviderError, err)
	}
	return info.Email, nil
}

func (e *Exchanger) postToken(ctx context.Context, operation string, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := e.now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: token %s: %v", ErrProviderError, operation, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			e.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()
	e.logger.LogNetworkEvent(http.MethodPost, e.tokenURL, resp.StatusCode, e.now().Sub(start).String())

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading token response: %v", ErrProviderError, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ExchangeError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       truncateBody(body),
		}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if parsed.AccessToken == "" {
		return nil, ErrMalformedResponse
	}
	return &parsed, nil
}

// expiresAt treats a missing expires_in as already expired.
func (e *Exchanger) expiresAt(expiresIn int64) int64 {
	return e.now().Unix() + expiresIn
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return security.RedactString(s)
}

// emailFromIDToken reads the email claim without verifying the signature;
// the token arrived directly from the token endpoint over TLS.
func emailFromIDToken(idToken string) string {
	if idToken == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return ""
	}
	email, _ := claims["email"].(string)
	return email
}
