// Package preferences implements the pluggable key/value store the client
// uses for everything except secrets (§3, §9 "Dependency injection"). Two
// backends are provided: a JSON file on disk, and an in-memory store for
// tests and one-shot CLI runs.
package preferences

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/exp/maps"
)

// Store is a flat key/value preferences backend. Values are JSON-marshalable
// and round-trip through Get/Set as json.RawMessage so callers can store
// arbitrary structures without the Store needing to know their shape.
type Store interface {
	Get(key string) (json.RawMessage, bool)
	Set(key string, value json.RawMessage) error
	Remove(key string) error
	Keys() []string
}

// sensitiveSuffixes extends the mothership client's own redaction rule
// (§4.5, "key" and "secret") with "token": any key ending in one of these
// is never shown in a snapshot.
var sensitiveSuffixes = []string{"key", "secret", "token"}

// RedactedSnapshot returns every key in the store with its value, except
// that any key ending in "key", "secret", or "token" is replaced with the
// literal string "*****". Used for diagnostics and bug reports, never for
// persistence.
func RedactedSnapshot(s Store) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	for _, key := range s.Keys() {
		value, ok := s.Get(key)
		if !ok {
			continue
		}
		lower := strings.ToLower(key)
		redacted := false
		for _, suffix := range sensitiveSuffixes {
			if strings.HasSuffix(lower, suffix) {
				redacted = true
				break
			}
		}
		if redacted {
			out[key] = json.RawMessage(`"*****"`)
		} else {
			out[key] = value
		}
	}
	return out
}

// Memory is an in-process Store with no persistence, backed by an
// orderedIndex rather than a plain map (§9 "Preference-backed 'objects'":
// the store itself stays a simple ordered key/value index even though
// Publisher/Subscription are materialized views over it).
type Memory struct {
	values *orderedIndex
}

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{values: newOrderedIndex()}
}

func (m *Memory) Get(key string) (json.RawMessage, bool) {
	return m.values.Find(key)
}

func (m *Memory) Set(key string, value json.RawMessage) error {
	m.values.Upsert(key, value)
	return nil
}

func (m *Memory) Remove(key string) error {
	m.values.Remove(key)
	return nil
}

func (m *Memory) Keys() []string {
	return m.values.Keys()
}

// JSON is a Store backed by a single JSON file on disk, loaded eagerly and
// rewritten in full on every mutation.
type JSON struct {
	path   string
	mu     sync.Mutex
	values map[string]json.RawMessage
}

// NewJSON opens (or initializes) a JSON-file Store at path. A missing file
// is treated as an empty store, not an error.
func NewJSON(path string) (*JSON, error) {
	s := &JSON{path: path, values: make(map[string]json.RawMessage)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("preferences: reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("preferences: parsing %s: %w", path, err)
	}
	return s, nil
}

func (s *JSON) Get(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *JSON) Set(key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.save()
}

func (s *JSON) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return s.save()
}

func (s *JSON) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := maps.Keys(s.values)
	sort.Strings(keys)
	return keys
}

// save serializes the full map back to disk. Caller must hold s.mu.
func (s *JSON) save() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("preferences: creating %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("preferences: marshaling: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("preferences: writing %s: %w", s.path, err)
	}
	return nil
}

// SetValue is a convenience wrapper that marshals v before calling Set.
func SetValue(s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("preferences: marshaling %s: %w", key, err)
	}
	return s.Set(key, data)
}

// GetValue is a convenience wrapper that unmarshals the stored value into v.
// It reports false if the key is absent.
func GetValue(s Store, key string, v any) (bool, error) {
	raw, ok := s.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("preferences: unmarshaling %s: %w", key, err)
	}
	return true, nil
}
