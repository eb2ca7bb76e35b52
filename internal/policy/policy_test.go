package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "consentgate/pkg/domain-errors"
)

func TestMatrix_IsAllowed(t *testing.T) {
	m := NewMatrix(DefaultAllowlists())

	tests := []struct {
		name string
		tier TrustTier
		op   Operation
		want bool
	}{
		{"owner may exec", TierOwnerPaired, OpExec, true},
		{"owner may restart", TierOwnerPaired, OpRestart, true},
		{"trusted peer may exec", TierTrustedPeer, OpExec, true},
		{"trusted peer may not write", TierTrustedPeer, OpWrite, false},
		{"trusted peer may not install skills", TierTrustedPeer, OpInstallSkill, false},
		{"known contact may message", TierKnownContact, OpMessage, true},
		{"known contact may not exec", TierKnownContact, OpExec, false},
		{"unverified may only read", TierUnverified, OpRead, true},
		{"unverified may not message", TierUnverified, OpMessage, false},
		{"unknown tier never allowed", TrustTier("root"), OpRead, false},
		{"unknown operation never allowed", TierOwnerPaired, Operation("format_disk"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.IsAllowed(tt.tier, tt.op))
		})
	}
}

// TestMatrix_DenyComplement walks every (tier, operation) pair and checks the
// matrix denies exactly the pairs outside the configured allowlists.
func TestMatrix_DenyComplement(t *testing.T) {
	allowlists := DefaultAllowlists()
	m := NewMatrix(allowlists)

	allTiers := []TrustTier{TierOwnerPaired, TierTrustedPeer, TierKnownContact, TierUnverified}
	allOps := []Operation{OpExec, OpWrite, OpRead, OpMessage, OpSpawn, OpInstallSkill, OpReauth, OpRestart}

	for _, tier := range allTiers {
		permitted := make(map[Operation]bool)
		for _, op := range allowlists[tier] {
			permitted[op] = true
		}
		for _, op := range allOps {
			assert.Equal(t, permitted[op], m.IsAllowed(tier, op),
				"tier=%s op=%s", tier, op)
		}
	}
}

func TestMatrix_CopiesInput(t *testing.T) {
	allowlists := map[TrustTier][]Operation{TierUnverified: {OpRead}}
	m := NewMatrix(allowlists)

	allowlists[TierUnverified] = append(allowlists[TierUnverified], OpExec)
	assert.False(t, m.IsAllowed(TierUnverified, OpExec), "mutating input must not widen policy")
}

func TestTrustTier_Rank(t *testing.T) {
	assert.Equal(t, 0, TierOwnerPaired.Rank())
	assert.Equal(t, 1, TierTrustedPeer.Rank())
	assert.Equal(t, 2, TierKnownContact.Rank())
	assert.Equal(t, 3, TierUnverified.Rank())
	assert.Equal(t, -1, TrustTier("root").Rank())
}

func TestOperation_Risk(t *testing.T) {
	assert.Equal(t, RiskCritical, OpExec.Risk())
	assert.Equal(t, RiskHigh, OpWrite.Risk())
	assert.Equal(t, RiskMedium, OpRead.Risk())
	assert.Equal(t, RiskCritical, Operation("unknown").Risk(), "unknown risk fails toward caution")
}

func TestDefaultTTLs_Monotonic(t *testing.T) {
	ttls := DefaultTTLs()
	assert.Greater(t, ttls[TierOwnerPaired], ttls[TierTrustedPeer])
	assert.Greater(t, ttls[TierTrustedPeer], ttls[TierKnownContact])
	assert.Greater(t, ttls[TierKnownContact], ttls[TierUnverified])
}

func TestDefaultWeights_Ordering(t *testing.T) {
	w := DefaultWeights()
	assert.Greater(t, w[dErrors.CodeDoubleSpend], w[dErrors.CodeContextMismatch])
	assert.Greater(t, w[dErrors.CodeContextMismatch], w[dErrors.CodeTTLExpired])
	assert.Greater(t, w[dErrors.CodeTTLExpired], w[dErrors.CodeBlastRadius])
}

func TestNewBundle_Defaults(t *testing.T) {
	b, err := NewBundle(BundleConfig{})
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxOps, b.MaxOps)
	assert.Equal(t, DefaultWindowLength, b.WindowLength)
	assert.Equal(t, 60*time.Second, b.TTL(TierOwnerPaired))
	assert.True(t, b.RequiresReconfirm(OpSpawn))
	assert.True(t, b.RequiresReconfirm(OpRestart))
	assert.False(t, b.RequiresReconfirm(OpExec))
	assert.NotEmpty(t, b.Hash())
}

func TestNewBundle_HashChangesWithPolicy(t *testing.T) {
	base, err := NewBundle(BundleConfig{})
	require.NoError(t, err)

	widened, err := NewBundle(BundleConfig{
		Allowlists: map[TrustTier][]Operation{
			TierOwnerPaired: {OpExec},
		},
		TTLs: map[TrustTier]time.Duration{TierOwnerPaired: time.Minute},
	})
	require.NoError(t, err)

	assert.NotEqual(t, base.Hash(), widened.Hash())
}

func TestNewBundle_HashStable(t *testing.T) {
	a, err := NewBundle(BundleConfig{})
	require.NoError(t, err)
	b, err := NewBundle(BundleConfig{})
	require.NoError(t, err)
	assert.Equal(t, a.Hash(), b.Hash(), "identical config must hash identically")
}

func TestNewBundle_Validation(t *testing.T) {
	t.Run("rejects unknown tier", func(t *testing.T) {
		_, err := NewBundle(BundleConfig{
			Allowlists: map[TrustTier][]Operation{TrustTier("root"): {OpExec}},
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects missing tier TTL", func(t *testing.T) {
		_, err := NewBundle(BundleConfig{
			Allowlists: map[TrustTier][]Operation{TierOwnerPaired: {OpExec}},
			TTLs:       map[TrustTier]time.Duration{TierTrustedPeer: time.Minute},
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects incomplete weights", func(t *testing.T) {
		_, err := NewBundle(BundleConfig{
			Weights: map[dErrors.Code]float64{dErrors.CodeDoubleSpend: 40},
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}
