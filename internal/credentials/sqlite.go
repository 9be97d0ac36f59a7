package credentials

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const credentialsSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	instance   TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore keeps one row per keypad instance in a shared database.
type SQLiteStore struct {
	mu       sync.Mutex
	db       *sql.DB
	instance string
}

func NewSQLiteStore(path, instance string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(credentialsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating credentials table: %w", err)
	}

	return &SQLiteStore{db: db, instance: instance}, nil
}

// ForInstance returns a store sharing the same database for another instance.
func (s *SQLiteStore) ForInstance(instance string) *SQLiteStore {
	return &SQLiteStore{db: s.db, instance: instance}
}

func (s *SQLiteStore) Read(ctx context.Context) (*TokenSet, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM credentials WHERE instance = ?`, s.instance).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}

	var tokens TokenSet
	if err := json.Unmarshal([]byte(data), &tokens); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}
	return &tokens, nil
}

func (s *SQLiteStore) Write(ctx context.Context, tokens *TokenSet) error {
	if tokens == nil {
		return errors.New("cannot write nil token set")
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO credentials (instance, data, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(instance) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
			s.instance, string(data), time.Now().Unix())
		if err != nil {
			return fmt.Errorf("upserting credentials: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE instance = ?`, s.instance); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
