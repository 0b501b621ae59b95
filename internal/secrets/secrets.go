// Package secrets abstracts credential storage for the sync tool.
// Credentials are referenced from configuration by slot name only; the
// values live in the operating system keychain.
package secrets

import (
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// ServiceName is the keychain service entries are stored under.
const ServiceName = "entrasync"

// ErrNotFound is returned when a secret slot has no stored value.
var ErrNotFound = fmt.Errorf("secret not found")

// Store provides access to named credential slots.
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=secrets.go Store
type Store interface {
	// Get returns the secret stored under ref, or ErrNotFound
	Get(ref string) (string, error)

	// Set stores value under ref, replacing any previous value
	Set(ref, value string) error

	// Delete removes the secret stored under ref
	Delete(ref string) error
}

// keyringStore is the OS keychain-backed implementation of Store
type keyringStore struct{}

// NewKeyringStore returns a Store backed by the OS keychain.
func NewKeyringStore() Store {
	return &keyringStore{}
}

func (*keyringStore) Get(ref string) (string, error) {
	value, err := keyring.Get(ServiceName, ref)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return "", fmt.Errorf("failed to read secret %s: %w", ref, err)
	}
	return value, nil
}

func (*keyringStore) Set(ref, value string) error {
	if err := keyring.Set(ServiceName, ref, value); err != nil {
		return fmt.Errorf("failed to store secret %s: %w", ref, err)
	}
	return nil
}

func (*keyringStore) Delete(ref string) error {
	if err := keyring.Delete(ServiceName, ref); err != nil {
		return fmt.Errorf("failed to delete secret %s: %w", ref, err)
	}
	return nil
}

// MemoryStore is an in-memory Store used by tests and by environments
// without a keychain.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

// Get returns the secret stored under ref, or ErrNotFound
func (s *MemoryStore) Get(ref string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[ref]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return value, nil
}

// Set stores value under ref
func (s *MemoryStore) Set(ref, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[ref] = value
	return nil
}

// Delete removes the secret stored under ref
func (s *MemoryStore) Delete(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, ref)
	return nil
}
