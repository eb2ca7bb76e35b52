package revocation

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	id "consentgate/pkg/domain"
)

// Redis key prefix for revoked consent tokens.
const revokedTokenKeyPrefix = "cgrl:token:"

// RedisList is a Redis-backed List. This is the recommended implementation
// for distributed deployments where multiple gate instances need to share
// revocation state.
type RedisList struct {
	client *redis.Client
}

// NewRedisList constructs a Redis-backed revocation list. The client
// lifecycle is managed externally.
func NewRedisList(client *redis.Client) *RedisList {
	return &RedisList{client: client}
}

// Revoke adds a token to the revocation list with TTL. Uses SET with expiry
// so the entry self-cleans once the token could no longer authorize anyway.
func (l *RedisList) Revoke(ctx context.Context, tokenID id.TokenID, ttl time.Duration) error {
	key := revokedTokenKeyPrefix + tokenID.String()
	// Store "1" as a simple marker; key existence is what matters.
	return l.client.Set(ctx, key, "1", ttl).Err()
}

// RevokeBatch revokes multiple tokens via a pipeline. Used by cascade
// revokes where one quarantine invalidates every issued token.
func (l *RedisList) RevokeBatch(ctx context.Context, tokenIDs []id.TokenID, ttl time.Duration) error {
	if len(tokenIDs) == 0 {
		return nil
	}
	pipe := l.client.Pipeline()
	for _, tokenID := range tokenIDs {
		pipe.Set(ctx, revokedTokenKeyPrefix+tokenID.String(), "1", ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// IsRevoked checks list membership. A missing key means not revoked (or the
// entry already aged out past the token's own validity window).
func (l *RedisList) IsRevoked(ctx context.Context, tokenID id.TokenID) (bool, error) {
	key := revokedTokenKeyPrefix + tokenID.String()
	_, err := l.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
