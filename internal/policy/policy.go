// Package policy defines the deployment-time trust policy: which trust tiers
// may request which operations, per-tier token TTLs, anomaly weights, and the
// containment thresholds. Nothing here is computed at runtime; the gate takes
// a Bundle at construction and treats it as immutable.
package policy

import (
	"sort"
	"time"
)

// TrustTier classifies the principal requesting a token. Lower rank is more
// trusted. Tiers never change at runtime.
type TrustTier string

const (
	TierOwnerPaired  TrustTier = "owner_paired"
	TierTrustedPeer  TrustTier = "trusted_peer"
	TierKnownContact TrustTier = "known_contact"
	TierUnverified   TrustTier = "unverified"
)

// tierRanks orders tiers by trust; lower is more trusted.
var tierRanks = map[TrustTier]int{
	TierOwnerPaired:  0,
	TierTrustedPeer:  1,
	TierKnownContact: 2,
	TierUnverified:   3,
}

// Rank returns the tier's integer rank, or -1 for an unknown tier.
func (t TrustTier) Rank() int {
	if rank, ok := tierRanks[t]; ok {
		return rank
	}
	return -1
}

// IsValid reports whether the tier is one of the deployed tiers.
func (t TrustTier) IsValid() bool {
	_, ok := tierRanks[t]
	return ok
}

// Operation identifies a sensitive capability the gate protects.
type Operation string

const (
	OpExec         Operation = "exec"
	OpWrite        Operation = "write"
	OpRead         Operation = "read"
	OpMessage      Operation = "message"
	OpSpawn        Operation = "spawn"
	OpInstallSkill Operation = "install_skill"
	OpReauth       Operation = "reauth"
	OpRestart      Operation = "restart"
)

// Risk classifies an operation for display and audit. It plays no part in
// authorization decisions.
type Risk string

const (
	RiskCritical Risk = "critical"
	RiskHigh     Risk = "high"
	RiskMedium   Risk = "medium"
)

var operationRisks = map[Operation]Risk{
	OpExec:         RiskCritical,
	OpWrite:        RiskHigh,
	OpRead:         RiskMedium,
	OpMessage:      RiskMedium,
	OpSpawn:        RiskCritical,
	OpInstallSkill: RiskCritical,
	OpReauth:       RiskHigh,
	OpRestart:      RiskCritical,
}

// Risk returns the operation's fixed risk classification. Unknown operations
// report critical so displays fail toward caution.
func (o Operation) Risk() Risk {
	if risk, ok := operationRisks[o]; ok {
		return risk
	}
	return RiskCritical
}

// IsValid reports whether the operation is a known capability.
func (o Operation) IsValid() bool {
	_, ok := operationRisks[o]
	return ok
}

// Matrix maps each tier to the set of operations it may request tokens for.
// Immutable after construction; unknown tier or operation is never allowed.
type Matrix struct {
	allowed map[TrustTier]map[Operation]bool
}

// NewMatrix builds a Matrix from per-tier allowlists. The input is copied so
// later mutation of the argument cannot change the deployed policy.
func NewMatrix(allowlists map[TrustTier][]Operation) *Matrix {
	allowed := make(map[TrustTier]map[Operation]bool, len(allowlists))
	for tier, ops := range allowlists {
		set := make(map[Operation]bool, len(ops))
		for _, op := range ops {
			set[op] = true
		}
		allowed[tier] = set
	}
	return &Matrix{allowed: allowed}
}

// IsAllowed reports whether the tier may request tokens for the operation.
// Pure lookup: no side effects, unknown tier or operation returns false.
func (m *Matrix) IsAllowed(tier TrustTier, op Operation) bool {
	set, ok := m.allowed[tier]
	if !ok {
		return false
	}
	return set[op]
}

// Allowlist returns the operations the tier may request, in unspecified
// order. Used by the status surface; authorization goes through IsAllowed.
func (m *Matrix) Allowlist(tier TrustTier) []Operation {
	set := m.allowed[tier]
	ops := make([]Operation, 0, len(set))
	for op := range set {
		ops = append(ops, op)
	}
	return ops
}

// serializable returns a plain-map view of the matrix for bundle hashing.
func (m *Matrix) serializable() map[string][]string {
	out := make(map[string][]string, len(m.allowed))
	for tier, set := range m.allowed {
		ops := make([]string, 0, len(set))
		for op := range set {
			ops = append(ops, string(op))
		}
		sort.Strings(ops)
		out[string(tier)] = ops
	}
	return out
}

// DefaultAllowlists is the deployed tier-to-operation policy table.
//
// owner_paired holds the full capability set. trusted_peer loses the
// control-plane operations (write, install_skill, restart). known_contact is
// messaging plus read. unverified can only read.
func DefaultAllowlists() map[TrustTier][]Operation {
	return map[TrustTier][]Operation{
		TierOwnerPaired: {
			OpExec, OpWrite, OpRead, OpMessage,
			OpSpawn, OpInstallSkill, OpReauth, OpRestart,
		},
		TierTrustedPeer:  {OpExec, OpRead, OpMessage, OpSpawn},
		TierKnownContact: {OpRead, OpMessage},
		TierUnverified:   {OpRead},
	}
}

// DefaultTTLs gives more-trusted tiers longer token validity windows.
func DefaultTTLs() map[TrustTier]time.Duration {
	return map[TrustTier]time.Duration{
		TierOwnerPaired:  60 * time.Second,
		TierTrustedPeer:  30 * time.Second,
		TierKnownContact: 15 * time.Second,
		TierUnverified:   10 * time.Second,
	}
}

// DefaultReconfirmOps lists the operations that, while still authorized by a
// token, additionally emit a confirmation-required WAL marker for an external
// confirmation gate to observe.
func DefaultReconfirmOps() []Operation {
	return []Operation{OpSpawn, OpInstallSkill, OpReauth, OpRestart}
}
