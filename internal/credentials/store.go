package credentials

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
)

// ErrNoCredentials is returned by Read when no token set is stored.
var ErrNoCredentials = errors.New("no credentials stored")

// Store persists a single token set. Read never observes a partially
// written set; concurrent writers resolve as last-writer-wins.
type Store interface {
	Read(ctx context.Context) (*TokenSet, error)
	Write(ctx context.Context, tokens *TokenSet) error
	Clear(ctx context.Context) error
}

// StoreConfig selects and locates a store backend.
type StoreConfig struct {
	Backend  string // file, sqlite or memory
	Path     string
	Instance string
	DataDir  string
}

// Open builds the store described by cfg. Paths default to files under DataDir.
func Open(cfg StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(cfg.DataDir, "credentials.enc")
		}
		return NewFileStore(path)
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(cfg.DataDir, "credentials.db")
		}
		instance := cfg.Instance
		if instance == "" {
			instance = "default"
		}
		return NewSQLiteStore(path, instance)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown credential store backend %q", cfg.Backend)
	}
}

// Close releases resources held by s if it has any.
func Close(s Store) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// ConditionalClearer clears atomically only when match accepts the stored set.
type ConditionalClearer interface {
	ClearIf(ctx context.Context, match func(current *TokenSet) bool) (bool, error)
}

// ClearIfCurrent clears s only while it still holds the grant of stale, so a
// set written by a newer sign-in survives. It reports whether s was cleared.
func ClearIfCurrent(ctx context.Context, s Store, stale *TokenSet) (bool, error) {
	match := func(current *TokenSet) bool { return SameGrant(current, stale) }
	if c, ok := s.(ConditionalClearer); ok {
		return c.ClearIf(ctx, match)
	}

	current, err := s.Read(ctx)
	if errors.Is(err, ErrNoCredentials) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !match(current) {
		return false, nil
	}
	return true, s.Clear(ctx)
}

// SameGrant reports whether a and b carry the same access and refresh tokens.
func SameGrant(a, b *TokenSet) bool {
	if a == nil || b == nil {
		return false
	}
	return a.AccessToken == b.AccessToken && a.RefreshToken == b.RefreshToken
}

// MemoryStore keeps the token set in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens *TokenSet
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Read(ctx context.Context) (*TokenSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tokens == nil {
		return nil, ErrNoCredentials
	}
	return m.tokens.Clone(), nil
}

func (m *MemoryStore) Write(ctx context.Context, tokens *TokenSet) error {
	if tokens == nil {
		return errors.New("cannot write nil token set")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = tokens.Clone()
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = nil
	return nil
}

func (m *MemoryStore) ClearIf(ctx context.Context, match func(current *TokenSet) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil || !match(m.tokens.Clone()) {
		return false, nil
	}
	m.tokens = nil
	return true, nil
}
