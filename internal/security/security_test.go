package security

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRedactString(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		leaked string
	}{
		{"bearer header", "Authorization: Bearer ya29.secretvalue", "ya29.secretvalue"},
		{"access token field", `{"access_token":"ya29.abcdef"}`, "ya29.abcdef"},
		{"refresh token form", "refresh_token=1//0gRefresh&grant_type=refresh_token", "1//0gRefresh"},
		{"client secret", "client_secret=GOCSPX-verysecret", "GOCSPX-verysecret"},
		{"callback query", "/callback?code=4/0Aabc&state=xyz123", "4/0Aabc"},
		{"email", "connected as someone@example.com", "someone@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedactString(tt.input)
			if strings.Contains(got, tt.leaked) {
				t.Errorf("RedactString(%q) = %q, still contains %q", tt.input, got, tt.leaked)
			}
			if !strings.Contains(got, "[REDACTED]") {
				t.Errorf("RedactString(%q) = %q, missing redaction marker", tt.input, got)
			}
		})
	}
}

func TestSecureLoggerRedactsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSecureLoggerTo(&buf, slog.LevelInfo)

	logger.LogAuthEvent("code_exchange", true, map[string]any{
		"email": "someone@example.com",
	})

	out := buf.String()
	if strings.Contains(out, "someone@example.com") {
		t.Errorf("log output leaked email: %s", out)
	}
	if !strings.Contains(out, `"operation":"code_exchange"`) {
		t.Errorf("log output missing operation: %s", out)
	}
}

func TestNewHTTPClientAllowlist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != userAgent {
			t.Errorf("User-Agent = %q, want %q", r.Header.Get("User-Agent"), userAgent)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(5*time.Second, srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	defer CloseIdle(client)

	resp, err := client.Get(srv.URL + "/ok")
	if err != nil {
		t.Fatalf("allowed request failed: %v", err)
	}
	resp.Body.Close()

	if _, err := client.Get("http://other.invalid/"); err == nil {
		t.Error("expected request to a foreign host to be refused")
	}
}

func TestNewHTTPClientRejectsBadEndpoint(t *testing.T) {
	if _, err := NewHTTPClient(time.Second, "not a url"); err == nil {
		t.Error("expected error for endpoint without host")
	}
}

func TestErrorMessages(t *testing.T) {
	cause := errors.New("disk full")
	tests := []struct {
		err  error
		want string
	}{
		{NewCredentialError("write", "failed to write credential file").WithCause(cause), "credentials write: failed to write credential file: disk full"},
		{NewCredentialError("write", "token set is nil"), "credentials write: token set is nil"},
		{NewCryptoError("decrypt", "authentication failed").WithCause(cause), "token encryption decrypt: authentication failed"},
		{NewConfigError("store.backend", "redis", "must be one of: file, sqlite, memory"), `invalid store.backend "redis": must be one of: file, sqlite, memory`},
		{NewConfigError("oauth.redirect_uri", "", "host is required"), "invalid oauth.redirect_uri: host is required"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestIsCriticalErrorFollowsWrapping(t *testing.T) {
	sealed := NewCryptoError("decrypt", "authentication failed")
	if !IsCriticalError(fmt.Errorf("reading token file: %w", sealed)) {
		t.Error("wrapped CryptoError not reported as critical")
	}
	if IsCriticalError(NewCredentialError("read", "failed to read credential file").WithCause(errors.New("EACCES"))) {
		t.Error("I/O failure reported as critical")
	}
	if IsCriticalError(nil) {
		t.Error("nil reported as critical")
	}
}
