package gate

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "consentgate/pkg/domain-errors"
)

// ProofClaims is the payload of a consumption receipt. The receipt is minted
// exactly once, at the successful issued -> consumed transition, and lets a
// downstream confirmation gate or auditor verify what was authorized without
// access to the ledger.
type ProofClaims struct {
	Operation   string `json:"operation"`
	SessionID   string `json:"session_id"`
	Tier        string `json:"tier"`
	ContextHash string `json:"context_hash"`
	jwt.RegisteredClaims
}

// ProofSigner mints and verifies HMAC-signed consumption receipts.
type ProofSigner struct {
	key    []byte
	issuer string
}

func NewProofSigner(key []byte, issuer string) *ProofSigner {
	return &ProofSigner{key: key, issuer: issuer}
}

// Sign builds the receipt for a consumed token.
func (s *ProofSigner) Sign(token *Token, consumedAt time.Time) (string, error) {
	receipt := jwt.NewWithClaims(jwt.SigningMethodHS256, ProofClaims{
		Operation:   string(token.Operation),
		SessionID:   token.Binding.SessionID.String(),
		Tier:        string(token.Tier),
		ContextHash: token.ContextHash,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       token.ID.String(),
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(consumedAt),
		},
	})
	signed, err := receipt.SignedString(s.key)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign consumption proof")
	}
	return signed, nil
}

// Verify parses and validates a receipt, returning its claims.
func (s *ProofSigner) Verify(proof string) (*ProofClaims, error) {
	claims := &ProofClaims{}
	parsed, err := jwt.ParseWithClaims(proof, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid consumption proof")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid consumption proof")
	}
	return claims, nil
}
