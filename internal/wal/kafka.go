package wal

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// securityEventTypes lists the WAL entries worth mirroring to the SIEM
// topic. Routine issuance/consumption stays local; denials and containment
// transitions fan out.
var securityEventTypes = map[EventType]bool{
	EventConsentDenied:         true,
	EventConsentRevoked:        true,
	EventTierViolation:         true,
	EventBlastRadiusExceeded:   true,
	EventContainmentQuarantine: true,
	EventContainmentLifted:     true,
	EventCascadeRevoke:         true,
}

// Mirror fans security-relevant WAL events out to a Kafka topic for SIEM
// consumption. Emission is fire-and-forget: the WAL store is the source of
// truth and a mirror failure never blocks or fails an authorization, so
// publish errors are only logged.
type Mirror struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewMirror builds a Mirror over an existing franz-go client. The caller
// owns the client lifecycle.
func NewMirror(client *kgo.Client, topic string, logger *slog.Logger) *Mirror {
	return &Mirror{client: client, topic: topic, logger: logger}
}

// Publish mirrors the event if it is security-relevant. Nil-safe: a nil
// Mirror is a no-op so the gate can treat the mirror as optional.
func (m *Mirror) Publish(ctx context.Context, event Event) {
	if m == nil || !securityEventTypes[event.Type] {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		m.logger.ErrorContext(ctx, "marshal wal event for mirror",
			"seq", event.Seq,
			"type", event.Type,
			"error", err.Error(),
		)
		return
	}

	record := &kgo.Record{
		Topic: m.topic,
		Key:   []byte(event.SessionID.String()),
		Value: payload,
	}
	m.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			m.logger.Error("mirror wal event to kafka",
				"seq", event.Seq,
				"type", event.Type,
				"error", err.Error(),
			)
		}
	})
}
