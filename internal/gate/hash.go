package gate

import (
	"time"

	"consentgate/pkg/canonical"
)

// contextHash computes the canonical hash binding a token to its declared
// intent and issuing context. The serialization is key-order independent, so
// structurally equal inputs always collide and nothing else does (up to hash
// collision). This hash is the sole mechanism that defeats context
// laundering.
func contextHash(intent Intent, binding Binding) (string, error) {
	return canonical.Hash(map[string]any{
		"intent": map[string]any{
			"operation":  string(intent.Operation),
			"request_id": intent.RequestID,
			"channel":    intent.Channel,
		},
		"context": map[string]any{
			"session_id": binding.SessionID.String(),
			"tier":       string(binding.Tier),
			"tier_rank":  binding.TierRank,
			"issued_at":  binding.IssuedAt.UTC().Format(time.RFC3339Nano),
		},
	})
}
