package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/pack"
)

func float64Ptr(v float64) *float64 { return &v }

func billingEffective() *pack.Effective {
	return &pack.Effective{
		Domain: "billing",
		Pack: &pack.DomainPack{
			Domain:  "billing",
			Version: 1,
			ExceptionTypes: []pack.ExceptionType{
				{Name: "DataQualityFailure", DefaultSeverity: models.SeverityMedium, Actionable: true},
				{Name: "ReconMismatch", DefaultSeverity: models.SeverityLow},
			},
			SeverityRules: []pack.SeverityRule{
				{Field: "amount", GT: float64Ptr(10000), Severity: models.SeverityHigh},
				{Field: "environment", Equals: "production", Severity: models.SeverityCritical},
			},
		},
		Guardrails: pack.Guardrails{MinConfidence: pack.DefaultMinConfidence},
	}
}

func testException(excType string, severity models.Severity) *models.Exception {
	return &models.Exception{
		ExceptionID:   "exc-1",
		TenantID:      "acme",
		SourceSystem:  "billing-svc",
		ExceptionType: excType,
		Severity:      severity,
	}
}

func TestTriageKnownType(t *testing.T) {
	agent := NewTriageAgent()
	dctx := &Context{Effective: billingEffective()}

	result := agent.Classify(testException("DataQualityFailure", models.SeverityLow), dctx)

	assert.Equal(t, "DataQualityFailure", result.ExceptionType)
	assert.Equal(t, models.SeverityLow, result.Severity)
	assert.True(t, result.Actionable)
	assert.Equal(t, triageKnownTypeConfidence, result.Decision.Confidence)
	assert.Equal(t, models.NextStepContinue, result.Decision.NextStep)
}

func TestTriageUnknownTypeLowConfidence(t *testing.T) {
	agent := NewTriageAgent()
	dctx := &Context{Effective: billingEffective()}

	result := agent.Classify(testException("Mystery", ""), dctx)

	assert.Equal(t, triageUnknownTypeConfidence, result.Decision.Confidence)
	assert.False(t, result.Actionable)
	// Unknown types with no severity land on the MEDIUM fallback.
	assert.Equal(t, models.SeverityMedium, result.Severity)
}

func TestTriageDefaultSeverityFromDeclaredType(t *testing.T) {
	agent := NewTriageAgent()
	dctx := &Context{Effective: billingEffective()}

	result := agent.Classify(testException("ReconMismatch", ""), dctx)

	assert.Equal(t, models.SeverityLow, result.Severity)
}

func TestTriageSeverityRules(t *testing.T) {
	agent := NewTriageAgent()

	tests := []struct {
		name     string
		context  map[string]any
		reported models.Severity
		want     models.Severity
	}{
		{
			name:     "gt rule raises severity",
			context:  map[string]any{"amount": 25000.0},
			reported: models.SeverityLow,
			want:     models.SeverityHigh,
		},
		{
			name:     "gt rule below threshold keeps reported",
			context:  map[string]any{"amount": 500.0},
			reported: models.SeverityLow,
			want:     models.SeverityLow,
		},
		{
			name:     "equals rule raises to critical",
			context:  map[string]any{"environment": "production"},
			reported: models.SeverityMedium,
			want:     models.SeverityCritical,
		},
		{
			name:     "rule never lowers severity",
			context:  map[string]any{"amount": 25000.0},
			reported: models.SeverityCritical,
			want:     models.SeverityCritical,
		},
		{
			name:     "highest matching rule wins",
			context:  map[string]any{"amount": 25000.0, "environment": "production"},
			reported: models.SeverityLow,
			want:     models.SeverityCritical,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exc := testException("DataQualityFailure", tc.reported)
			exc.NormalizedContext = tc.context
			result := agent.Classify(exc, &Context{Effective: billingEffective()})
			assert.Equal(t, tc.want, result.Severity)
		})
	}
}

func TestTriageSimilarityBonus(t *testing.T) {
	agent := NewTriageAgent()
	dctx := &Context{Effective: billingEffective(), SimilarCount: 3}

	result := agent.Classify(testException("DataQualityFailure", models.SeverityLow), dctx)

	assert.InDelta(t, triageKnownTypeConfidence+triageSimilarityBonus, result.Decision.Confidence, 1e-9)
}

func TestTriageWithoutPack(t *testing.T) {
	agent := NewTriageAgent()

	result := agent.Classify(testException("DataQualityFailure", ""), &Context{})

	require.NotNil(t, result)
	assert.Equal(t, triageUnknownTypeConfidence, result.Decision.Confidence)
	assert.Equal(t, models.SeverityMedium, result.Severity)
}
