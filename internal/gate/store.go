package gate

import (
	"context"
	"fmt"

	"consentgate/internal/policy"
	id "consentgate/pkg/domain"
)

// Store is the token table plus its idempotency index. Implementations must
// be safe for concurrent use; the Gate additionally serializes compound
// read-modify-write sequences under its own lock.
type Store interface {
	// Save inserts or replaces the token record.
	Save(ctx context.Context, token *Token) error

	// Get returns the token by id, or false when unknown.
	Get(ctx context.Context, tokenID id.TokenID) (*Token, bool, error)

	// Issued returns every token currently in StatusIssued.
	Issued(ctx context.Context) ([]*Token, error)

	// All returns every token record, terminal ones included.
	All(ctx context.Context) ([]*Token, error)

	// BindIdempotency points the composite key at a token id. The index
	// follows the same lifetime rules as the token table: a key whose
	// token has gone terminal or expired no longer resolves.
	BindIdempotency(ctx context.Context, key string, tokenID id.TokenID) error

	// LookupIdempotency resolves the composite key to its token, or false
	// when the key is unbound.
	LookupIdempotency(ctx context.Context, key string) (*Token, bool, error)
}

// IdempotencyKey derives the composite key guarding duplicate issuance.
// Identical {operation, tier, requestID} triples within an active token's
// lifetime resolve to the same token.
func IdempotencyKey(op policy.Operation, tier policy.TrustTier, requestID string) string {
	return fmt.Sprintf("%s|%s|%s", op, tier, requestID)
}
