package wal

import (
	"context"
	"testing"
)

func TestMirrorNilSafe(t *testing.T) {
	var m *Mirror
	// The gate treats the mirror as optional; a nil mirror must swallow
	// every event without panicking.
	m.Publish(context.Background(), Event{Type: EventConsentDenied})
	m.Publish(context.Background(), Event{Type: EventConsentIssued})
}
