// Package canonical produces deterministic serializations and hashes of
// structured values. Two structurally equal values always canonicalize to the
// same bytes; any field difference changes the hash with overwhelming
// probability. This is the binding primitive for context hashes and policy
// bundle hashes.
package canonical

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Marshal returns the canonical JSON encoding of v: object keys sorted
// recursively, no insignificant whitespace.
//
// The double round-trip through any normalizes struct field order into map
// key order, which encoding/json emits sorted.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("canonical normalize: %w", err)
	}
	out, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonical re-marshal: %w", err)
	}
	return out, nil
}

// Hash returns the hex BLAKE2b-256 digest of the canonical encoding of v.
func Hash(v any) (string, error) {
	encoded, err := Marshal(v)
	if err != nil {
		return "", err
	}
	digest := blake2b.Sum256(encoded)
	return hex.EncodeToString(digest[:]), nil
}
