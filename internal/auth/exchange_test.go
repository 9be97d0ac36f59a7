package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bnema/nextmeeting/internal/credentials"
)

var fixedNow = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

var testClient = ClientCredentials{
	ClientID:     "client-id",
	ClientSecret: "client-secret",
	RedirectURI:  "http://localhost:43123/callback",
}

func newTestExchanger(t *testing.T, handler http.HandlerFunc) (*Exchanger, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	return NewExchanger(ExchangerOptions{
		TokenURL:    srv.URL + "/token",
		UserInfoURL: srv.URL + "/userinfo",
		HTTPClient:  srv.Client(),
		Now:         func() time.Time { return fixedNow },
	}), &hits
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func signedIDToken(t *testing.T, email string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": email,
		"sub":   "1234",
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("failed to sign id token: %v", err)
	}
	return token
}

func TestExchangeCode(t *testing.T) {
	idToken := signedIDToken(t, "someone@example.com")

	exchanger, _ := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm failed: %v", err)
		}
		want := map[string]string{
			"code":          "auth-code",
			"code_verifier": "the-verifier",
			"client_id":     "client-id",
			"client_secret": "client-secret",
			"redirect_uri":  "http://localhost:43123/callback",
			"grant_type":    "authorization_code",
		}
		for k, v := range want {
			if got := r.PostForm.Get(k); got != v {
				t.Errorf("form %s = %q, want %q", k, got, v)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "ya29.new",
			"refresh_token": "1//new",
			"expires_in":    3599,
			"scope":         "openid email",
			"id_token":      idToken,
		})
	})

	tokens, err := exchanger.ExchangeCode(context.Background(), "auth-code", "the-verifier", testClient)
	if err != nil {
		t.Fatalf("ExchangeCode failed: %v", err)
	}

	want := credentials.TokenSet{
		Provider:     credentials.ProviderGoogle,
		Email:        "someone@example.com",
		AccessToken:  "ya29.new",
		RefreshToken: "1//new",
		ClientID:     "client-id",
		ExpiresAt:    fixedNow.Unix() + 3599,
		Scope:        "openid email",
	}
	if *tokens != want {
		t.Errorf("ExchangeCode = %+v, want %+v", *tokens, want)
	}
}

func TestExchangeCodeRejected(t *testing.T) {
	exchanger, _ := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
	})

	_, err := exchanger.ExchangeCode(context.Background(), "bad", "v", testClient)
	if !errors.Is(err, ErrExchangeRejected) {
		t.Fatalf("error = %v, want ErrExchangeRejected", err)
	}

	var exchangeErr *ExchangeError
	if !errors.As(err, &exchangeErr) {
		t.Fatalf("error %T is not *ExchangeError", err)
	}
	if exchangeErr.StatusCode != http.StatusBadRequest || !exchangeErr.Confirmed() {
		t.Errorf("ExchangeError = %+v, want confirmed 400", exchangeErr)
	}
	if exchangeErr.Body == "" {
		t.Error("ExchangeError body is empty")
	}
}

func TestExchangeCodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing access token", `{"expires_in":3600}`},
		{"not json", `<html>oops</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exchanger, _ := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := exchanger.ExchangeCode(context.Background(), "c", "v", testClient)
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("error = %v, want ErrMalformedResponse", err)
			}
		})
	}
}

func TestRefreshWithoutRefreshTokenMakesNoRequest(t *testing.T) {
	exchanger, hits := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "x", "expires_in": 10})
	})

	prior := &credentials.TokenSet{AccessToken: "old", ClientID: "client-id", ExpiresAt: 1}
	_, err := exchanger.Refresh(context.Background(), prior, testClient)
	if !errors.Is(err, ErrNotRefreshable) {
		t.Fatalf("Refresh error = %v, want ErrNotRefreshable", err)
	}
	if _, err := exchanger.Refresh(context.Background(), nil, testClient); !errors.Is(err, ErrNotRefreshable) {
		t.Fatalf("Refresh(nil) error = %v, want ErrNotRefreshable", err)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Errorf("Refresh made %d requests, want 0", *hits)
	}
}

func TestRefreshPreservesIdentity(t *testing.T) {
	exchanger, _ := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm failed: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "1//prior" {
			t.Errorf("unexpected refresh form: %v", r.PostForm)
		}
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "ya29.refreshed"})
	})

	prior := &credentials.TokenSet{
		Provider:     credentials.ProviderGoogle,
		Email:        "someone@example.com",
		AccessToken:  "ya29.old",
		RefreshToken: "1//prior",
		ClientID:     "original-client",
		ExpiresAt:    1,
		Scope:        "openid",
	}

	next, err := exchanger.Refresh(context.Background(), prior, testClient)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if next.AccessToken != "ya29.refreshed" {
		t.Errorf("AccessToken = %q", next.AccessToken)
	}
	if next.RefreshToken != "1//prior" {
		t.Errorf("RefreshToken = %q, want prior token kept", next.RefreshToken)
	}
	if next.Email != prior.Email || next.ClientID != prior.ClientID || next.Provider != prior.Provider {
		t.Errorf("identity not preserved: %+v", next)
	}
	if next.ExpiresAt != fixedNow.Unix() {
		t.Errorf("ExpiresAt = %d, want %d for a response without expires_in", next.ExpiresAt, fixedNow.Unix())
	}
	if prior.AccessToken != "ya29.old" {
		t.Error("Refresh mutated the prior token set")
	}
}

func TestRefreshRotatesRefreshToken(t *testing.T) {
	exchanger, _ := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "ya29.refreshed",
			"refresh_token": "1//rotated",
			"expires_in":    3600,
		})
	})

	prior := &credentials.TokenSet{RefreshToken: "1//prior", ClientID: "c"}
	next, err := exchanger.Refresh(context.Background(), prior, testClient)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if next.RefreshToken != "1//rotated" {
		t.Errorf("RefreshToken = %q, want rotated token", next.RefreshToken)
	}
	if next.ExpiresAt != fixedNow.Unix()+3600 {
		t.Errorf("ExpiresAt = %d", next.ExpiresAt)
	}
}

func TestRefreshFailureClassification(t *testing.T) {
	tests := []struct {
		status   int
		terminal bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			exchanger, _ := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]string{"error": "x"})
			})
			_, err := exchanger.Refresh(context.Background(), &credentials.TokenSet{RefreshToken: "r"}, testClient)
			if !errors.Is(err, ErrExchangeRejected) {
				t.Fatalf("error = %v, want ErrExchangeRejected", err)
			}
			if IsTerminal(err) != tt.terminal {
				t.Errorf("IsTerminal = %v, want %v", IsTerminal(err), tt.terminal)
			}
		})
	}
}

func TestTransportFailureIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	exchanger := NewExchanger(ExchangerOptions{TokenURL: url + "/token", HTTPClient: &http.Client{Timeout: time.Second}})
	_, err := exchanger.Refresh(context.Background(), &credentials.TokenSet{RefreshToken: "r"}, testClient)
	if !errors.Is(err, ErrProviderError) {
		t.Fatalf("error = %v, want ErrProviderError", err)
	}
	if IsTerminal(err) {
		t.Error("transport failure must not be terminal")
	}
}

func TestLookupEmail(t *testing.T) {
	exchanger, _ := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			writeJSON(w, http.StatusOK, map[string]string{"email": "someone@example.com"})
		case "Bearer broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})

	email, err := exchanger.LookupEmail(context.Background(), "good")
	if err != nil || email != "someone@example.com" {
		t.Errorf("LookupEmail = %q, %v", email, err)
	}
	if _, err := exchanger.LookupEmail(context.Background(), "revoked"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("LookupEmail error = %v, want ErrUnauthorized", err)
	}
	if _, err := exchanger.LookupEmail(context.Background(), "broken"); !errors.Is(err, ErrProviderError) {
		t.Errorf("LookupEmail error = %v, want ErrProviderError", err)
	}
}

func TestEmailFromIDToken(t *testing.T) {
	if got := emailFromIDToken(signedIDToken(t, "a@example.com")); got != "a@example.com" {
		t.Errorf("emailFromIDToken = %q", got)
	}
	if got := emailFromIDToken("not-a-jwt"); got != "" {
		t.Errorf("emailFromIDToken(garbage) = %q, want empty", got)
	}
	if got := emailFromIDToken(""); got != "" {
		t.Errorf("emailFromIDToken(\"\") = %q, want empty", got)
	}
}
