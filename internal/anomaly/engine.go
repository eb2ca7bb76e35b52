// Package anomaly accumulates a decaying risk score from policy violations
// and flips the gate into quarantine when the score crosses the containment
// threshold. Every deny is signal, including legitimate-looking requests that
// fail a check.
package anomaly

import (
	"time"

	dErrors "consentgate/pkg/domain-errors"
)

// Engine holds the per-scope anomaly state. Not safe for concurrent use on
// its own; the gate serializes access under its ledger lock so score changes
// stay ordered with the denials that caused them.
type Engine struct {
	weights            map[dErrors.Code]float64
	threshold          float64
	decayPerTick       float64
	quarantineDuration time.Duration

	score            float64
	quarantinedUntil time.Time
	quarantineReason dErrors.Code
}

// Config carries the static anomaly parameters from the policy bundle.
type Config struct {
	Weights            map[dErrors.Code]float64
	Threshold          float64
	DecayPerTick       float64
	QuarantineDuration time.Duration
}

// New builds an engine with zero score and no quarantine.
func New(cfg Config) *Engine {
	return &Engine{
		weights:            cfg.Weights,
		threshold:          cfg.Threshold,
		decayPerTick:       cfg.DecayPerTick,
		quarantineDuration: cfg.QuarantineDuration,
	}
}

// Record adds the weight for a deny code at the given instant. It returns
// true exactly when this violation pushes the score across the threshold and
// the scope enters quarantine; the caller owns the cascade revoke that must
// follow.
func (e *Engine) Record(code dErrors.Code, now time.Time) (quarantineTriggered bool) {
	e.score += e.weights[code]
	if e.score < e.threshold {
		return false
	}
	if e.Quarantined(now) {
		// Already contained; extend nothing, the cooldown stands.
		return false
	}
	e.quarantinedUntil = now.Add(e.quarantineDuration)
	e.quarantineReason = code
	return true
}

// Quarantined reports whether the scope is inside a containment window.
func (e *Engine) Quarantined(now time.Time) bool {
	return now.Before(e.quarantinedUntil)
}

// QuarantineReason returns the deny code that triggered the current (or most
// recent) quarantine.
func (e *Engine) QuarantineReason() dErrors.Code { return e.quarantineReason }

// QuarantinedUntil returns the end of the containment window.
func (e *Engine) QuarantinedUntil() time.Time { return e.quarantinedUntil }

// Decay applies one tick of decay. The score keeps decaying during
// quarantine; quarantine lifts on cooldown expiry, not on score.
func (e *Engine) Decay() {
	e.score -= e.decayPerTick
	if e.score < 0 {
		e.score = 0
	}
}

// Lift is the operator override: it ends any active quarantine and force
// resets the score to zero.
func (e *Engine) Lift() {
	e.quarantinedUntil = time.Time{}
	e.quarantineReason = ""
	e.score = 0
}

// Score exposes the current risk score for status and metrics.
func (e *Engine) Score() float64 { return e.score }

// Restore forces the engine to a known state. Used by WAL replay.
func (e *Engine) Restore(score float64, quarantinedUntil time.Time, reason dErrors.Code) {
	e.score = score
	e.quarantinedUntil = quarantinedUntil
	e.quarantineReason = reason
}
