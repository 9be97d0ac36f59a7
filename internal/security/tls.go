package security

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const userAgent = "nextmeeting/1.0"

// maxResponseBytes bounds provider responses read into memory.
const maxResponseBytes = 1024 * 1024

// allowlistTransport refuses requests to hosts outside the configured provider endpoints.
type allowlistTransport struct {
	base    http.RoundTripper
	allowed map[string]bool
}

// NewHTTPClient returns a client bounded by timeout that only talks to the
// hosts of the given endpoint URLs, never follows redirects and enforces TLS 1.2+.
func NewHTTPClient(timeout time.Duration, endpoints ...string) (*http.Client, error) {
	allowed := make(map[string]bool, len(endpoints))
	for _, endpoint := range endpoints {
		parsed, err := url.Parse(endpoint)
		if err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("invalid endpoint URL %q", endpoint)
		}
		allowed[strings.ToLower(parsed.Host)] = true
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: &allowlistTransport{base: transport, allowed: allowed},
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

func (t *allowlistTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.allowed[strings.ToLower(req.URL.Host)] {
		return nil, fmt.Errorf("request host not allowed: %s", req.URL.Host)
	}

	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength > maxResponseBytes {
		resp.Body.Close()
		return nil, fmt.Errorf("response too large: %d bytes", resp.ContentLength)
	}
	return resp, nil
}

// CloseIdle releases pooled connections held by a client built with NewHTTPClient.
func CloseIdle(client *http.Client) {
	if client == nil {
		return
	}
	if t, ok := client.Transport.(*allowlistTransport); ok {
		if base, ok := t.base.(*http.Transport); ok {
			base.CloseIdleConnections()
		}
	}
}
