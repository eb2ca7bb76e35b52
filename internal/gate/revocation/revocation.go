// Package revocation provides the shared token revocation list: when several
// gate instances protect sessions behind one deployment, a cascade revoke on
// one instance must be visible to the others before their local WAL catches
// up. Entries carry a TTL because a revoked token is only interesting until
// its validity window would have ended anyway.
package revocation

import (
	"context"
	"sync"
	"time"

	id "consentgate/pkg/domain"
)

// List is the revocation list contract consulted during authorization.
type List interface {
	// Revoke marks a token revoked for at least ttl.
	Revoke(ctx context.Context, tokenID id.TokenID, ttl time.Duration) error

	// RevokeBatch marks many tokens at once; used by cascade revokes.
	RevokeBatch(ctx context.Context, tokenIDs []id.TokenID, ttl time.Duration) error

	// IsRevoked reports whether the token is on the list.
	IsRevoked(ctx context.Context, tokenID id.TokenID) (bool, error)
}

// InMemoryList is a process-local List for single-instance deployments.
type InMemoryList struct {
	mu      sync.RWMutex
	revoked map[id.TokenID]time.Time
}

func NewInMemoryList() *InMemoryList {
	return &InMemoryList{revoked: make(map[id.TokenID]time.Time)}
}

func (l *InMemoryList) Revoke(_ context.Context, tokenID id.TokenID, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revoked[tokenID] = time.Now().Add(ttl)
	return nil
}

func (l *InMemoryList) RevokeBatch(_ context.Context, tokenIDs []id.TokenID, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	expiry := time.Now().Add(ttl)
	for _, tokenID := range tokenIDs {
		l.revoked[tokenID] = expiry
	}
	return nil
}

func (l *InMemoryList) IsRevoked(_ context.Context, tokenID id.TokenID) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	expiry, ok := l.revoked[tokenID]
	if !ok {
		return false, nil
	}
	return time.Now().Before(expiry), nil
}
