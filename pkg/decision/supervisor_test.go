package decision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

func chain(confidences ...float64) []Step {
	names := []string{"triage", "policy", "resolution"}
	steps := make([]Step, 0, len(confidences))
	for i, c := range confidences {
		name := names[i%len(names)]
		steps = append(steps, Step{
			Agent:    name,
			Decision: models.AgentDecision{Decision: "OK", Confidence: c, NextStep: models.NextStepContinue},
		})
	}
	return steps
}

func TestSupervisorApprovesHealthyChain(t *testing.T) {
	agent := NewSupervisorAgent(nil)
	dctx := &Context{
		Effective:    billingEffective(),
		Prior:        chain(0.85, 0.9, 0.85),
		PlanResolved: true,
	}

	result, err := agent.Review(context.Background(), testException("DataQualityFailure", models.SeverityMedium), dctx)
	require.NoError(t, err)

	assert.False(t, result.Intervened())
	assert.Equal(t, "APPROVED", result.Decision.Decision)
	assert.Equal(t, models.NextStepContinue, result.Decision.NextStep)
}

func TestSupervisorEscalatesLowConfidence(t *testing.T) {
	agent := NewSupervisorAgent(nil)
	dctx := &Context{
		Effective:    billingEffective(),
		Prior:        chain(0.85, 0.9, 0.5),
		PlanResolved: true,
	}

	result, err := agent.Review(context.Background(), testException("DataQualityFailure", models.SeverityMedium), dctx)
	require.NoError(t, err)

	assert.True(t, result.Intervened())
	assert.Equal(t, models.NextStepEscalate, result.Decision.NextStep)
	assert.Equal(t, supervisorInterventionConfid, result.Decision.Confidence)
}

func TestSupervisorEscalatesConfidenceDegradation(t *testing.T) {
	agent := NewSupervisorAgent(nil)
	dctx := &Context{
		Effective:    billingEffective(),
		Prior:        chain(0.95, 0.9, 0.65),
		PlanResolved: true,
	}

	// 0.65 clears the default threshold but sits more than 0.2 below the
	// triage step.
	result, err := agent.Review(context.Background(), testException("DataQualityFailure", models.SeverityMedium), dctx)
	require.NoError(t, err)

	assert.True(t, result.Intervened())
}

func TestSupervisorHighSeverityFloor(t *testing.T) {
	agent := NewSupervisorAgent(nil)
	dctx := &Context{
		Effective:    billingEffective(),
		Prior:        chain(0.68, 0.68, 0.68),
		PlanResolved: true,
	}

	medium, err := agent.Review(context.Background(), testException("DataQualityFailure", models.SeverityMedium), dctx)
	require.NoError(t, err)
	assert.False(t, medium.Intervened())

	high, err := agent.Review(context.Background(), testException("DataQualityFailure", models.SeverityHigh), dctx)
	require.NoError(t, err)
	assert.True(t, high.Intervened())
}

func TestSupervisorCriticalPriorFloor(t *testing.T) {
	agent := NewSupervisorAgent(nil)
	dctx := &Context{
		Effective:             billingEffective(),
		Prior:                 chain(0.75, 0.9, 0.9),
		PlanResolved:          true,
		HumanApprovalRequired: true,
	}

	result, err := agent.Review(context.Background(), testException("DataQualityFailure", models.SeverityCritical), dctx)
	require.NoError(t, err)

	assert.True(t, result.Intervened())
}

func TestSupervisorCriticalAutoActionViolation(t *testing.T) {
	violations := &memViolations{}
	agent := NewSupervisorAgent(violations)
	dctx := &Context{
		Effective: billingEffective(),
		Prior: []Step{
			{Agent: "triage", Decision: models.AgentDecision{Confidence: 0.9}},
			{Agent: "policy", Decision: models.AgentDecision{Decision: models.DecisionAllow, Confidence: 0.9}},
			{Agent: "resolution", Decision: models.AgentDecision{Confidence: 0.85}},
		},
		PlanResolved:          true,
		HumanApprovalRequired: false,
	}

	result, err := agent.Review(context.Background(), testException("DataQualityFailure", models.SeverityCritical), dctx)
	require.NoError(t, err)

	assert.True(t, result.Intervened())
	require.Len(t, violations.recorded, 1)
	assert.Equal(t, "critical_severity_auto_action", violations.recorded[0].RuleID)
	assert.Equal(t, models.SeverityCritical, violations.recorded[0].Severity)
	assert.Equal(t, models.ViolationKindPolicy, violations.recorded[0].Kind)
}

func TestSupervisorCriticalWithApprovalNoViolation(t *testing.T) {
	violations := &memViolations{}
	agent := NewSupervisorAgent(violations)
	dctx := &Context{
		Effective: billingEffective(),
		Prior: []Step{
			{Agent: "triage", Decision: models.AgentDecision{Confidence: 0.9}},
			{Agent: "policy", Decision: models.AgentDecision{Decision: models.DecisionAllow, Confidence: 0.9}},
			{Agent: "resolution", Decision: models.AgentDecision{Confidence: 0.85}},
		},
		PlanResolved:          true,
		HumanApprovalRequired: true,
	}

	result, err := agent.Review(context.Background(), testException("DataQualityFailure", models.SeverityCritical), dctx)
	require.NoError(t, err)

	assert.False(t, result.Intervened())
	assert.Empty(t, violations.recorded)
}

func TestSupervisorActionableWithoutPlan(t *testing.T) {
	agent := NewSupervisorAgent(nil)
	dctx := &Context{
		Effective:    billingEffective(),
		Prior:        chain(0.85, 0.9, 0.85),
		PlanResolved: false,
	}

	// DataQualityFailure is declared actionable; ReconMismatch is not.
	actionable, err := agent.Review(context.Background(), testException("DataQualityFailure", models.SeverityMedium), dctx)
	require.NoError(t, err)
	assert.True(t, actionable.Intervened())

	passive, err := agent.Review(context.Background(), testException("ReconMismatch", models.SeverityMedium), dctx)
	require.NoError(t, err)
	assert.False(t, passive.Intervened())
}

func TestSupervisorEmptyChainEscalates(t *testing.T) {
	agent := NewSupervisorAgent(nil)

	result, err := agent.Review(context.Background(), testException("DataQualityFailure", models.SeverityMedium), &Context{Effective: billingEffective()})
	require.NoError(t, err)

	assert.True(t, result.Intervened())
	assert.Equal(t, models.NextStepEscalate, result.Decision.NextStep)
}
