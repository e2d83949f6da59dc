// Package auth handles publisher API keys and admin authentication: key
// generation, bcrypt validation with a short-lived cache, and the request
// middleware that resolves the calling publisher.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jordanhubbard/quizhub/internal/store"
)

// hashForBcrypt pre-hashes a key with SHA-256 to stay within bcrypt's 72-byte limit.
func hashForBcrypt(key string) []byte {
	h := sha256.Sum256([]byte(key))
	return []byte(hex.EncodeToString(h[:]))
}

const (
	keyPrefix    = "pub_"
	keyRandBytes = 32 // 64 hex chars
	prefixChars  = 8  // stored lookup prefix after "pub_"
	bcryptCost   = 10
	cacheTTL     = 5 * time.Minute
)

// ErrInvalidKey is returned when no publisher matches the presented key.
var ErrInvalidKey = errors.New("invalid api key")

type cachedKey struct {
	publisher *store.Publisher
	expiresAt time.Time
}

// Manager handles publisher API key generation, validation, and rotation.
type Manager struct {
	store store.Store

	mu    sync.RWMutex
	cache map[string]cachedKey // keyString -> cached publisher
}

// NewManager creates a new API key manager.
func NewManager(s store.Store) *Manager {
	return &Manager{
		store: s,
		cache: make(map[string]cachedKey),
	}
}

// NewKey generates a plaintext key with its bcrypt hash and lookup prefix.
// The plaintext is returned exactly once and never stored.
func NewKey() (plaintext, hash, prefix string, err error) {
	raw := make([]byte, keyRandBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("generate random: %w", err)
	}
	plaintext = keyPrefix + hex.EncodeToString(raw)

	h, err := bcrypt.GenerateFromPassword(hashForBcrypt(plaintext), bcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return plaintext, string(h), plaintext[:len(keyPrefix)+prefixChars], nil
}

// Rotate generates a new key for an existing publisher, replacing the hash.
// Returns the new plaintext key exactly once.
func (m *Manager) Rotate(ctx context.Context, publisherID string) (string, error) {
	p, err := m.store.GetPublisherByID(ctx, publisherID)
	if err != nil {
		return "", fmt.Errorf("get publisher: %w", err)
	}
	if p == nil {
		return "", store.ErrNotFound
	}

	plaintext, hash, prefix, err := NewKey()
	if err != nil {
		return "", err
	}
	if err := m.store.UpdatePublisherKey(ctx, publisherID, hash, prefix); err != nil {
		return "", fmt.Errorf("update key: %w", err)
	}

	// Invalidate cache entries for the old key.
	m.mu.Lock()
	for k, v := range m.cache {
		if v.publisher.ID == publisherID {
			delete(m.cache, k)
		}
	}
	m.mu.Unlock()

	return plaintext, nil
}

// Validate checks a plaintext API key and returns the owning publisher.
// The stored key prefix narrows the candidate set so bcrypt runs against one
// or two rows, and a short TTL cache avoids bcrypt on every request.
func (m *Manager) Validate(ctx context.Context, keyString string) (*store.Publisher, error) {
	if len(keyString) < len(keyPrefix)+prefixChars {
		return nil, ErrInvalidKey
	}

	// Check cache first.
	m.mu.RLock()
	if cached, ok := m.cache[keyString]; ok && time.Now().Before(cached.expiresAt) {
		m.mu.RUnlock()
		return cached.publisher, nil
	}
	m.mu.RUnlock()

	candidates, err := m.store.GetPublishersByKeyPrefix(ctx, keyString[:len(keyPrefix)+prefixChars])
	if err != nil {
		return nil, fmt.Errorf("lookup by prefix: %w", err)
	}

	for i := range candidates {
		p := &candidates[i]
		if err := bcrypt.CompareHashAndPassword([]byte(p.APIKeyHash), hashForBcrypt(keyString)); err != nil {
			continue
		}

		// Cache the result.
		m.mu.Lock()
		m.cache[keyString] = cachedKey{
			publisher: p,
			expiresAt: time.Now().Add(cacheTTL),
		}
		m.mu.Unlock()

		return p, nil
	}

	return nil, ErrInvalidKey
}

// Invalidate drops any cached validation for the given publisher, forcing the
// next request to re-read its record. Called after admin updates.
func (m *Manager) Invalidate(publisherID string) {
	m.mu.Lock()
	for k, v := range m.cache {
		if v.publisher.ID == publisherID {
			delete(m.cache, k)
		}
	}
	m.mu.Unlock()
}
