// Package config reads deployment configuration from the environment so main
// stays lean. Every knob has a development default; production overrides via
// env.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures everything the consent gate process needs at boot.
type Server struct {
	Addr string

	// WALDatabaseURL selects the durable WAL backend. Empty means the
	// in-memory store (development only: state dies with the process).
	WALDatabaseURL string

	// RedisURL enables the shared token revocation list. Empty disables it.
	RedisURL string

	// KafkaBrokers enables the SIEM mirror for security events. Empty
	// disables it.
	KafkaBrokers []string
	KafkaTopic   string

	// ProofSigningKey signs consumption receipts. Empty means a random
	// per-process key (receipts do not survive restarts).
	ProofSigningKey string
	ProofIssuer     string

	// TickInterval drives score decay and the TTL sweep.
	TickInterval time.Duration

	// Policy knob overrides. Zero values keep the deployment defaults.
	MaxOps             int
	WindowLength       time.Duration
	QuarantineDuration time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:            getenv("CONSENT_GATE_ADDR", ":8080"),
		WALDatabaseURL:  os.Getenv("CONSENT_GATE_WAL_DATABASE_URL"),
		RedisURL:        os.Getenv("CONSENT_GATE_REDIS_URL"),
		KafkaTopic:      getenv("CONSENT_GATE_KAFKA_TOPIC", "consentgate.security"),
		ProofSigningKey: os.Getenv("CONSENT_GATE_PROOF_KEY"),
		ProofIssuer:     getenv("CONSENT_GATE_PROOF_ISSUER", "consentgate"),
		TickInterval:    5 * time.Second,
	}
	if brokers := os.Getenv("CONSENT_GATE_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	if raw := os.Getenv("CONSENT_GATE_TICK_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.TickInterval = d
		}
	}
	if raw := os.Getenv("CONSENT_GATE_MAX_OPS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.MaxOps = n
		}
	}
	cfg.WindowLength = getduration("CONSENT_GATE_WINDOW_LENGTH")
	cfg.QuarantineDuration = getduration("CONSENT_GATE_QUARANTINE_DURATION")
	return cfg
}

func getduration(key string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
