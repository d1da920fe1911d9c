// Package keyring stores the secrets that must never touch disk in plain
// preferences: each subscription's secretKey and the linked user account's
// secretKey. Two backends are provided: an OS-native one for desktop
// installations, and an in-memory stub for tests and headless runs.
package keyring

import (
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// service is the OS keyring service name under which all items are filed.
const service = "com.typeworld.client"

// ErrNotFound is returned when no secret exists for a key.
var ErrNotFound = fmt.Errorf("keyring: item not found")

// Keyring stores and retrieves opaque secrets by key. Keys are always an
// unsecretURL or a similarly stable identifier, never a raw username.
type Keyring interface {
	Get(key string) (string, error)
	Set(key, secret string) error
	Delete(key string) error
}

// OS is a Keyring backed by the operating system's credential store
// (Keychain, Credential Manager, Secret Service).
type OS struct{}

// NewOS returns an OS-backed Keyring.
func NewOS() OS {
	return OS{}
}

func (OS) Get(key string) (string, error) {
	secret, err := keyring.Get(service, key)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("keyring get: %w", err)
	}
	return secret, nil
}

func (OS) Set(key, secret string) error {
	if err := keyring.Set(service, key, secret); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

func (OS) Delete(key string) error {
	if err := keyring.Delete(service, key); err != nil {
		if err == keyring.ErrNotFound {
			return nil
		}
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}

// Memory is an in-process Keyring with no persistence, used by tests and by
// platforms with no usable credential store.
type Memory struct {
	mu    sync.Mutex
	items map[string]string
}

// NewMemory returns an empty in-memory Keyring.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	secret, ok := m.items[key]
	if !ok {
		return "", ErrNotFound
	}
	return secret, nil
}

func (m *Memory) Set(key, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = secret
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
