package keypad

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/nextmeeting/internal/credentials"
)

const (
	keyCalendars    = "calendars"
	keyGoogleTokens = "googleTokens"
)

// Settings is the per-instance settings object the host persists for us.
// Keys written by the configuration UI that the plugin does not know about
// are carried through unchanged.
type Settings struct {
	Calendars    []string
	GoogleTokens *credentials.TokenSet

	extra map[string]json.RawMessage
}

func (s Settings) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.extra)+2)
	for k, v := range s.extra {
		out[k] = v
	}
	if s.Calendars != nil {
		out[keyCalendars] = s.Calendars
	}
	out[keyGoogleTokens] = s.GoogleTokens
	return json.Marshal(out)
}

func (s *Settings) UnmarshalJSON(data []byte) error {
	merged, err := Settings{}.Merge(data)
	if err != nil {
		return err
	}
	*s = merged
	return nil
}

// Merge overlays the keys present in raw onto s. Absent keys keep their
// current value; an explicit null clears it.
func (s Settings) Merge(raw json.RawMessage) (Settings, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return s.clone(), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return s, fmt.Errorf("decoding settings: %w", err)
	}

	merged := s.clone()
	for key, value := range fields {
		switch key {
		case keyCalendars:
			var ids []string
			if err := json.Unmarshal(value, &ids); err != nil {
				return s, fmt.Errorf("decoding %s: %w", key, err)
			}
			merged.Calendars = ids
		case keyGoogleTokens:
			var tokens *credentials.TokenSet
			if err := json.Unmarshal(value, &tokens); err != nil {
				return s, fmt.Errorf("decoding %s: %w", key, err)
			}
			merged.GoogleTokens = tokens
		default:
			if merged.extra == nil {
				merged.extra = make(map[string]json.RawMessage)
			}
			merged.extra[key] = value
		}
	}
	return merged, nil
}

func (s Settings) clone() Settings {
	c := Settings{GoogleTokens: s.GoogleTokens.Clone()}
	if s.Calendars != nil {
		c.Calendars = append([]string(nil), s.Calendars...)
	}
	if s.extra != nil {
		c.extra = make(map[string]json.RawMessage, len(s.extra))
		for k, v := range s.extra {
			c.extra[k] = v
		}
	}
	return c
}

// SettingsStore keeps one instance's credentials inside its settings and
// persists every change through the host.
type SettingsStore struct {
	persist func(Settings) error

	// writeMu orders changes together with their persist call, so the host
	// receives snapshots in the order they were made.
	writeMu sync.Mutex

	mu       sync.Mutex
	settings Settings
}

// NewSettingsStore wraps initial; persist is called with the full settings
// after every Write or Clear.
func NewSettingsStore(initial Settings, persist func(Settings) error) *SettingsStore {
	return &SettingsStore{settings: initial.clone(), persist: persist}
}

func (s *SettingsStore) Read(ctx context.Context) (*credentials.TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens := s.settings.GoogleTokens
	if tokens == nil || tokens.AccessToken == "" {
		return nil, credentials.ErrNoCredentials
	}
	return tokens.Clone(), nil
}

func (s *SettingsStore) Write(ctx context.Context, tokens *credentials.TokenSet) error {
	if tokens == nil {
		return errors.New("cannot write nil token set")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(st *Settings) bool {
		st.GoogleTokens = tokens.Clone()
		return true
	})
}

func (s *SettingsStore) Clear(ctx context.Context) error {
	return s.update(func(st *Settings) bool {
		st.GoogleTokens = nil
		return true
	})
}

// Settings returns a copy of the current settings.
func (s *SettingsStore) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.clone()
}

// Apply merges settings received from the host without echoing them back.
func (s *SettingsStore) Apply(raw json.RawMessage) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged, err := s.settings.Merge(raw)
	if err != nil {
		return s.settings.clone(), err
	}
	s.settings = merged
	return merged.clone(), nil
}

// ClearIf drops the token set only when match accepts the current one.
func (s *SettingsStore) ClearIf(ctx context.Context, match func(current *credentials.TokenSet) bool) (bool, error) {
	cleared := false
	err := s.update(func(st *Settings) bool {
		if st.GoogleTokens == nil || !match(st.GoogleTokens.Clone()) {
			return false
		}
		st.GoogleTokens = nil
		cleared = true
		return true
	})
	return cleared, err
}

func (s *SettingsStore) update(change func(*Settings) bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	changed := change(&s.settings)
	snapshot := s.settings.clone()
	s.mu.Unlock()

	if !changed || s.persist == nil {
		return nil
	}
	if err := s.persist(snapshot); err != nil {
		return fmt.Errorf("persisting settings: %w", err)
	}
	return nil
}
