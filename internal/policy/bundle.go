package policy

import (
	"time"

	"consentgate/pkg/canonical"
	dErrors "consentgate/pkg/domain-errors"
)

// Bundle collects every static policy input the gate consumes: the trust
// matrix, per-tier TTLs, rate-limit window, anomaly weights and containment
// parameters, and the re-confirmation set. The gate never mutates a Bundle;
// a policy change means deploying a new Bundle with a new hash, and tokens
// stamped with the old hash stop authorizing (BundleMismatch).
type Bundle struct {
	Matrix       *Matrix
	TTLs         map[TrustTier]time.Duration
	ReconfirmOps map[Operation]bool

	// Blast-radius window. Issuance and consumption share one budget.
	WindowLength time.Duration
	MaxOps       int

	// Anomaly engine parameters. Weights are keyed by deny code. Decay
	// applies DecayPerTick once per DecayTickInterval.
	Weights            map[dErrors.Code]float64
	Threshold          float64
	DecayPerTick       float64
	DecayTickInterval  time.Duration
	QuarantineDuration time.Duration

	hash string
}

// BundleConfig is the raw input for NewBundle. Zero-valued fields fall back
// to deployment defaults.
type BundleConfig struct {
	Allowlists         map[TrustTier][]Operation
	TTLs               map[TrustTier]time.Duration
	ReconfirmOps       []Operation
	WindowLength       time.Duration
	MaxOps             int
	Weights            map[dErrors.Code]float64
	Threshold          float64
	DecayPerTick       float64
	DecayTickInterval  time.Duration
	QuarantineDuration time.Duration
}

// DefaultWeights orders deny reasons by severity: a double-spend attempt
// far outweighs a context mismatch, which outweighs expired-token use, which
// outweighs a blast-radius hit.
func DefaultWeights() map[dErrors.Code]float64 {
	return map[dErrors.Code]float64{
		dErrors.CodeDoubleSpend:     40,
		dErrors.CodeRevoked:         25,
		dErrors.CodeContextMismatch: 25,
		dErrors.CodeBundleMismatch:  20,
		dErrors.CodeTierViolation:   15,
		dErrors.CodeTTLExpired:      10,
		dErrors.CodeBlastRadius:     5,
		dErrors.CodeQuarantined:     0,
	}
}

const (
	DefaultWindowLength       = 30 * time.Second
	DefaultMaxOps             = 12
	DefaultThreshold          = 100.0
	DefaultDecayPerTick       = 2.0
	DefaultDecayTickInterval  = 5 * time.Second
	DefaultQuarantineDuration = 60 * time.Second
)

// NewBundle validates the config, fills defaults, and computes the bundle
// hash that stamps every token issued under this policy.
func NewBundle(cfg BundleConfig) (*Bundle, error) {
	if cfg.Allowlists == nil {
		cfg.Allowlists = DefaultAllowlists()
	}
	if cfg.TTLs == nil {
		cfg.TTLs = DefaultTTLs()
	}
	if cfg.ReconfirmOps == nil {
		cfg.ReconfirmOps = DefaultReconfirmOps()
	}
	if cfg.WindowLength == 0 {
		cfg.WindowLength = DefaultWindowLength
	}
	if cfg.MaxOps == 0 {
		cfg.MaxOps = DefaultMaxOps
	}
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.DecayPerTick == 0 {
		cfg.DecayPerTick = DefaultDecayPerTick
	}
	if cfg.DecayTickInterval == 0 {
		cfg.DecayTickInterval = DefaultDecayTickInterval
	}
	if cfg.QuarantineDuration == 0 {
		cfg.QuarantineDuration = DefaultQuarantineDuration
	}

	if cfg.MaxOps < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "max ops cannot be negative")
	}
	if cfg.Threshold < 0 || cfg.DecayPerTick < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "anomaly parameters cannot be negative")
	}
	for tier := range cfg.Allowlists {
		if !tier.IsValid() {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown trust tier %q in allowlist", tier)
		}
		if _, ok := cfg.TTLs[tier]; !ok {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "no TTL configured for tier %q", tier)
		}
	}
	for _, code := range dErrors.DenyCodes {
		if _, ok := cfg.Weights[code]; !ok {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "no anomaly weight configured for %s", code)
		}
	}

	reconfirm := make(map[Operation]bool, len(cfg.ReconfirmOps))
	for _, op := range cfg.ReconfirmOps {
		reconfirm[op] = true
	}

	b := &Bundle{
		Matrix:             NewMatrix(cfg.Allowlists),
		TTLs:               cfg.TTLs,
		ReconfirmOps:       reconfirm,
		WindowLength:       cfg.WindowLength,
		MaxOps:             cfg.MaxOps,
		Weights:            cfg.Weights,
		Threshold:          cfg.Threshold,
		DecayPerTick:       cfg.DecayPerTick,
		DecayTickInterval:  cfg.DecayTickInterval,
		QuarantineDuration: cfg.QuarantineDuration,
	}

	hash, err := b.computeHash()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "compute bundle hash")
	}
	b.hash = hash
	return b, nil
}

// DefaultBundle builds a Bundle from deployment defaults.
func DefaultBundle() *Bundle {
	b, err := NewBundle(BundleConfig{})
	if err != nil {
		// Defaults are static; a failure here is a programming error.
		panic(err)
	}
	return b
}

// Hash identifies this exact policy bundle. Tokens carry it so a stale token
// cannot survive a policy hot-reload.
func (b *Bundle) Hash() string { return b.hash }

// TTL returns the token validity window for the tier.
func (b *Bundle) TTL(tier TrustTier) time.Duration {
	return b.TTLs[tier]
}

// RequiresReconfirm reports whether consuming a token for op must emit a
// confirmation-required WAL marker.
func (b *Bundle) RequiresReconfirm(op Operation) bool {
	return b.ReconfirmOps[op]
}

// Weight returns the anomaly weight for a deny code; unknown codes weigh 0.
func (b *Bundle) Weight(code dErrors.Code) float64 {
	return b.Weights[code]
}

func (b *Bundle) computeHash() (string, error) {
	ttls := make(map[string]int64, len(b.TTLs))
	for tier, ttl := range b.TTLs {
		ttls[string(tier)] = int64(ttl)
	}
	weights := make(map[string]float64, len(b.Weights))
	for code, weight := range b.Weights {
		weights[string(code)] = weight
	}
	reconfirm := make(map[string]bool, len(b.ReconfirmOps))
	for op := range b.ReconfirmOps {
		reconfirm[string(op)] = true
	}
	return canonical.Hash(map[string]any{
		"allowlists":          b.Matrix.serializable(),
		"ttls":                ttls,
		"reconfirm":           reconfirm,
		"window_length":       int64(b.WindowLength),
		"max_ops":             b.MaxOps,
		"weights":             weights,
		"threshold":           b.Threshold,
		"decay_per_tick":      b.DecayPerTick,
		"decay_tick_interval": int64(b.DecayTickInterval),
		"quarantine_duration": int64(b.QuarantineDuration),
	})
}
