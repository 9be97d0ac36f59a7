package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bnema/nextmeeting/internal/logger"
	"github.com/bnema/nextmeeting/internal/security"
)

// FileStore keeps the token set encrypted in a single file. Writes go to a
// temporary file that is renamed over the target.
type FileStore struct {
	mu        sync.Mutex
	path      string
	encryptor *security.TokenEncryptor
}

func NewFileStore(path string) (*FileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}

	encryptor, err := security.NewTokenEncryptor(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token encryption: %w", err)
	}

	return &FileStore{path: path, encryptor: encryptor}, nil
}

func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Read(ctx context.Context) (*TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	encrypted, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, security.NewCredentialError("read", "failed to read credential file").WithCause(err)
	}

	var tokens TokenSet
	if err := f.encryptor.DecryptJSON(string(encrypted), &tokens); err != nil {
		if security.IsCriticalError(err) {
			// Sealed on another machine or tampered with; nothing usable is stored.
			logger.Warn("discarding undecryptable credential file", "path", f.path, "error", err)
			return nil, ErrNoCredentials
		}
		return nil, err
	}
	return &tokens, nil
}

func (f *FileStore) Write(ctx context.Context, tokens *TokenSet) error {
	if tokens == nil {
		return security.NewCredentialError("write", "token set is nil")
	}

	sealed, err := f.encryptor.EncryptJSON(tokens)
	if err != nil {
		return security.NewCredentialError("write", "failed to encrypt token set").WithCause(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".credentials-*.tmp")
	if err != nil {
		return security.NewCredentialError("write", "failed to create temporary file").WithCause(err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return security.NewCredentialError("write", "failed to restrict permissions").WithCause(err)
	}
	if _, err := tmp.WriteString(sealed); err != nil {
		tmp.Close()
		return security.NewCredentialError("write", "failed to write credential file").WithCause(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return security.NewCredentialError("write", "failed to flush credential file").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		return security.NewCredentialError("write", "failed to close credential file").WithCause(err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		return security.NewCredentialError("write", "failed to replace credential file").WithCause(err)
	}
	return nil
}

func (f *FileStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return security.NewCredentialError("clear", "failed to remove credential file").WithCause(err)
	}
	return nil
}
