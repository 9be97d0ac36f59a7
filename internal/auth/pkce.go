package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

const (
	verifierBytes = 32
	stateBytes    = 16
)

// Challenge is one PKCE S256 triple.
type Challenge struct {
	Verifier  string
	Challenge string
	State     string
}

// Generator produces PKCE challenges from a cryptographically secure source.
type Generator struct {
	random io.Reader
}

// DefaultGenerator reads from crypto/rand.
var DefaultGenerator = NewGenerator(rand.Reader)

func NewGenerator(random io.Reader) *Generator {
	return &Generator{random: random}
}

// Generate returns a fresh verifier, its S256 challenge and an unrelated state value.
func (g *Generator) Generate() (Challenge, error) {
	verifier, err := g.randomString(verifierBytes)
	if err != nil {
		return Challenge{}, err
	}
	state, err := g.randomString(stateBytes)
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{
		Verifier:  verifier,
		Challenge: S256(verifier),
		State:     state,
	}, nil
}

func (g *Generator) randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// S256 derives the PKCE challenge for verifier.
func S256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
