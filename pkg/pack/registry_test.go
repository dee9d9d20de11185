package pack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

func billingPack(version int) *DomainPack {
	return &DomainPack{
		Domain:  "billing",
		Version: version,
		ExceptionTypes: []ExceptionType{
			{Name: "DataQualityFailure", DefaultSeverity: models.SeverityMedium, Actionable: true},
		},
		Guardrails: &Guardrails{
			AllowedActions:         []string{"notify", "call_tool"},
			HumanApprovalThreshold: models.SeverityHigh,
			MinConfidence:          0.7,
		},
	}
}

func TestRegistryPacksAreImmutable(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterDomainPack(billingPack(1)))

	err := r.RegisterDomainPack(billingPack(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "immutable")

	require.NoError(t, r.RegisterDomainPack(billingPack(2)))
	pack, ok := r.DomainPack("billing")
	require.True(t, ok)
	assert.Equal(t, 2, pack.Version)
}

func TestRegistryLatestPointerIgnoresOlderVersions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterDomainPack(billingPack(3)))
	require.NoError(t, r.RegisterDomainPack(billingPack(1)))

	pack, ok := r.DomainPack("billing")
	require.True(t, ok)
	assert.Equal(t, 3, pack.Version)
}

func TestResolveWithoutTenantPolicy(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterDomainPack(billingPack(1)))

	eff, err := r.Resolve("acme", "billing")
	require.NoError(t, err)
	assert.Nil(t, eff.Policy)
	assert.Equal(t, 0.7, eff.Guardrails.MinConfidence)
	assert.Equal(t, models.SeverityHigh, eff.Guardrails.HumanApprovalThreshold)
}

func TestResolveUnknownDomain(t *testing.T) {
	_, err := NewRegistry().Resolve("acme", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no domain pack")
}

func TestResolveTenantOverridesWin(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterDomainPack(billingPack(1)))
	require.NoError(t, r.RegisterTenantPolicy(&TenantPolicy{
		Tenant:     "acme",
		Domain:     "billing",
		Version:    1,
		PolicyTags: []string{"pci"},
		Guardrails: &Guardrails{MinConfidence: 0.9},
	}))

	eff, err := r.Resolve("acme", "billing")
	require.NoError(t, err)
	// Stated tenant fields win; unstated ones fall back to the domain.
	assert.Equal(t, 0.9, eff.Guardrails.MinConfidence)
	assert.Equal(t, models.SeverityHigh, eff.Guardrails.HumanApprovalThreshold)
	assert.Equal(t, []string{"notify", "call_tool"}, eff.Guardrails.AllowedActions)
	assert.Equal(t, []string{"pci"}, eff.PolicyTags)

	// Other tenants still see the domain defaults.
	eff, err = r.Resolve("other", "billing")
	require.NoError(t, err)
	assert.Equal(t, 0.7, eff.Guardrails.MinConfidence)
}

func TestResolveDefaultMinConfidence(t *testing.T) {
	r := NewRegistry()
	pack := billingPack(1)
	pack.Guardrails = nil
	require.NoError(t, r.RegisterDomainPack(pack))

	eff, err := r.Resolve("acme", "billing")
	require.NoError(t, err)
	assert.Equal(t, DefaultMinConfidence, eff.Guardrails.MinConfidence)
}

func TestHumanApprovalRequired(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterDomainPack(billingPack(1)))
	require.NoError(t, r.RegisterTenantPolicy(&TenantPolicy{
		Tenant:  "acme",
		Domain:  "billing",
		Version: 1,
		ApprovalRules: []ApprovalRule{
			{Severity: models.SeverityMedium, HumanApprovalRequired: true},
		},
	}))

	eff, err := r.Resolve("acme", "billing")
	require.NoError(t, err)

	// Explicit rule at MEDIUM, threshold at HIGH.
	assert.False(t, eff.HumanApprovalRequired(models.SeverityLow))
	assert.True(t, eff.HumanApprovalRequired(models.SeverityMedium))
	assert.True(t, eff.HumanApprovalRequired(models.SeverityHigh))
	assert.True(t, eff.HumanApprovalRequired(models.SeverityCritical))
}
