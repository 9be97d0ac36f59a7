// Package credentials holds the OAuth token set for one calendar account
// and the stores that persist it.
package credentials

import (
	"time"
)

// Provider names the calendar provider a token set belongs to.
type Provider string

const ProviderGoogle Provider = "Google"

// TokenSet is the access/refresh bundle for one authenticated account.
// ExpiresAt is the unix second after which AccessToken is stale.
type TokenSet struct {
	Provider     Provider `json:"provider"`
	Email        string   `json:"email,omitempty"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	ClientID     string   `json:"client_id"`
	ExpiresAt    int64    `json:"expires_at"`
	Scope        string   `json:"scope,omitempty"`
}

// Expiry returns ExpiresAt as a time.
func (t *TokenSet) Expiry() time.Time {
	return time.Unix(t.ExpiresAt, 0)
}

// ExpiresWithin reports whether the access token is stale at now+skew.
func (t *TokenSet) ExpiresWithin(now time.Time, skew time.Duration) bool {
	return now.Add(skew).Unix() >= t.ExpiresAt
}

// Expired reports whether the access token is already stale.
func (t *TokenSet) Expired(now time.Time) bool {
	return t.ExpiresWithin(now, 0)
}

// Refreshable reports whether the set can be silently renewed.
func (t *TokenSet) Refreshable() bool {
	return t.RefreshToken != ""
}

// Clone returns a copy safe to hand to another goroutine.
func (t *TokenSet) Clone() *TokenSet {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
