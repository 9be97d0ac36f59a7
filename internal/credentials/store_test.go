package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func sampleTokens() *TokenSet {
	return &TokenSet{
		Provider:     ProviderGoogle,
		Email:        "someone@example.com",
		AccessToken:  "ya29.access",
		RefreshToken: "1//refresh",
		ClientID:     "client.apps.googleusercontent.com",
		ExpiresAt:    1700000000,
		Scope:        "https://www.googleapis.com/auth/calendar.readonly",
	}
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	file, err := NewFileStore(filepath.Join(dir, "credentials.enc"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	db, err := NewSQLiteStore(filepath.Join(dir, "credentials.db"), "instance-a")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   file,
		"sqlite": db,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Read(ctx); !errors.Is(err, ErrNoCredentials) {
				t.Fatalf("Read on empty store = %v, want ErrNoCredentials", err)
			}

			want := sampleTokens()
			if err := store.Write(ctx, want); err != nil {
				t.Fatalf("Write failed: %v", err)
			}

			got, err := store.Read(ctx)
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if *got != *want {
				t.Errorf("Read = %+v, want %+v", got, want)
			}

			replacement := sampleTokens()
			replacement.AccessToken = "ya29.second"
			if err := store.Write(ctx, replacement); err != nil {
				t.Fatalf("second Write failed: %v", err)
			}
			got, err = store.Read(ctx)
			if err != nil {
				t.Fatalf("Read after replace failed: %v", err)
			}
			if got.AccessToken != "ya29.second" {
				t.Errorf("AccessToken = %q, want ya29.second", got.AccessToken)
			}

			if err := store.Clear(ctx); err != nil {
				t.Fatalf("Clear failed: %v", err)
			}
			if _, err := store.Read(ctx); !errors.Is(err, ErrNoCredentials) {
				t.Errorf("Read after Clear = %v, want ErrNoCredentials", err)
			}
			if err := store.Clear(ctx); err != nil {
				t.Errorf("Clear on empty store failed: %v", err)
			}
		})
	}
}

func TestStoreWriteAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Write(ctx, sampleTokens()); err == nil {
				t.Fatal("Write with cancelled context succeeded")
			}
			if _, err := store.Read(context.Background()); !errors.Is(err, ErrNoCredentials) {
				t.Errorf("cancelled Write left data behind: %v", err)
			}
		})
	}
}

func TestMemoryStoreIsolatesCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tokens := sampleTokens()
	if err := store.Write(ctx, tokens); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	tokens.AccessToken = "mutated"

	got, _ := store.Read(ctx)
	got.RefreshToken = "mutated"

	again, _ := store.Read(ctx)
	if again.AccessToken != "ya29.access" || again.RefreshToken != "1//refresh" {
		t.Errorf("store exposed internal state: %+v", again)
	}
}

func TestFileStorePermissionsAndEncryption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if err := store.Write(context.Background(), sampleTokens()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("credential file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %o, want 0600", info.Mode().Perm())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(raw) == "" || containsAny(string(raw), "ya29.access", "1//refresh") {
		t.Error("credential file is not encrypted")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temporary file left behind: %s", e.Name())
		}
	}
}

func TestFileStoreCorruptFileReadsAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("bm90IGEgdmFsaWQgc2VhbGVkIGJsb2I="), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := store.Read(context.Background()); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Read of corrupt file = %v, want ErrNoCredentials", err)
	}
}

func TestSQLiteStoreInstancesAreIndependent(t *testing.T) {
	ctx := context.Background()
	a, err := NewSQLiteStore(filepath.Join(t.TempDir(), "credentials.db"), "a")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer a.Close()
	b := a.ForInstance("b")

	if err := a.Write(ctx, sampleTokens()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := b.Read(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("instance b sees instance a's credentials: %v", err)
	}
}

func TestConcurrentWritersNeverTear(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "credentials.enc"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens := sampleTokens()
			tokens.ExpiresAt = int64(i)
			if err := store.Write(ctx, tokens); err != nil {
				t.Errorf("Write %d failed: %v", i, err)
			}
			if _, err := store.Read(ctx); err != nil {
				t.Errorf("Read during writes failed: %v", err)
			}
		}(i)
	}
	wg.Wait()
}

func TestTokenSetExpiry(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	tokens := &TokenSet{ExpiresAt: now.Add(90 * time.Second).Unix()}

	if tokens.Expired(now) {
		t.Error("token reported expired 90s before expiry")
	}
	if tokens.ExpiresWithin(now, 60*time.Second) {
		t.Error("token reported within 60s skew at 90s remaining")
	}
	if !tokens.ExpiresWithin(now.Add(30*time.Second), 60*time.Second) {
		t.Error("token not reported within 60s skew at 60s remaining")
	}
	if !tokens.Expired(now.Add(90 * time.Second)) {
		t.Error("token not expired at its expiry second")
	}

	zero := &TokenSet{}
	if !zero.Expired(now) {
		t.Error("token without expires_at must be treated as expired")
	}
	if zero.Refreshable() {
		t.Error("token without refresh token reported refreshable")
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		backend string
		wantErr bool
	}{
		{"file", false},
		{"sqlite", false},
		{"memory", false},
		{"redis", true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			store, err := Open(StoreConfig{Backend: tt.backend, DataDir: dir})
			if tt.wantErr {
				if err == nil {
					t.Fatal("Open succeeded for unknown backend")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer Close(store)
			if _, err := store.Read(context.Background()); !errors.Is(err, ErrNoCredentials) {
				t.Errorf("fresh store Read = %v", err)
			}
		})
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func TestClearIfCurrent(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if cleared, err := ClearIfCurrent(ctx, store, sampleTokens()); err != nil || cleared {
				t.Fatalf("ClearIfCurrent on empty store = %v, %v", cleared, err)
			}

			if err := store.Write(ctx, sampleTokens()); err != nil {
				t.Fatalf("Write: %v", err)
			}
			replaced := sampleTokens()
			replaced.AccessToken = "ya29.other"
			if cleared, err := ClearIfCurrent(ctx, store, replaced); err != nil || cleared {
				t.Fatalf("ClearIfCurrent(replaced) = %v, %v; want kept", cleared, err)
			}
			if _, err := store.Read(ctx); err != nil {
				t.Fatalf("stored set lost: %v", err)
			}

			stale := sampleTokens()
			stale.Email = ""
			if cleared, err := ClearIfCurrent(ctx, store, stale); err != nil || !cleared {
				t.Fatalf("ClearIfCurrent(same grant) = %v, %v; want cleared", cleared, err)
			}
			if _, err := store.Read(ctx); !errors.Is(err, ErrNoCredentials) {
				t.Errorf("Read after clear: %v", err)
			}
		})
	}
}
