package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

const policyConfidence = 0.9

// PolicyAgent enforces the effective guardrails: action allow/block
// lists and the human-approval threshold. A blocked action yields a
// BLOCK decision and a recorded violation.
type PolicyAgent struct {
	violations ViolationRecorder
}

// NewPolicyAgent creates the agent. violations may be nil in tests.
func NewPolicyAgent(violations ViolationRecorder) *PolicyAgent {
	return &PolicyAgent{violations: violations}
}

// Name implements Agent.
func (a *PolicyAgent) Name() string { return "policy" }

// PolicyResult carries the decision plus the approval flag the payload
// and the supervisor need.
type PolicyResult struct {
	Decision              models.AgentDecision
	HumanApprovalRequired bool
	GuardrailsConsulted   []string
}

// Process implements Agent.
func (a *PolicyAgent) Process(ctx context.Context, exc *models.Exception, dctx *Context) (*models.AgentDecision, error) {
	result, err := a.Evaluate(ctx, exc, dctx)
	if err != nil {
		return nil, err
	}
	return &result.Decision, nil
}

// Evaluate checks every proposed action against the guardrails.
func (a *PolicyAgent) Evaluate(ctx context.Context, exc *models.Exception, dctx *Context) (*PolicyResult, error) {
	result := &PolicyResult{}
	evidence := []string{}

	var guardrails struct {
		allowed []string
		blocked []string
	}
	if dctx != nil && dctx.Effective != nil {
		guardrails.allowed = dctx.Effective.Guardrails.AllowedActions
		guardrails.blocked = dctx.Effective.Guardrails.BlockedActions
		result.HumanApprovalRequired = dctx.Effective.HumanApprovalRequired(exc.Severity)
	}

	if len(guardrails.allowed) > 0 {
		result.GuardrailsConsulted = append(result.GuardrailsConsulted, "allowed_actions")
	}
	if len(guardrails.blocked) > 0 {
		result.GuardrailsConsulted = append(result.GuardrailsConsulted, "blocked_actions")
	}
	result.GuardrailsConsulted = append(result.GuardrailsConsulted, "human_approval_threshold")

	blockedAction := ""
	blockReason := ""
	var proposed []models.ActionType
	if dctx != nil {
		proposed = dctx.ProposedActions
	}
	for _, action := range proposed {
		name := string(action)
		if contains(guardrails.blocked, name) {
			blockedAction = name
			blockReason = fmt.Sprintf("action %q is on the blocked list", name)
			break
		}
		if len(guardrails.allowed) > 0 && !contains(guardrails.allowed, name) {
			blockedAction = name
			blockReason = fmt.Sprintf("action %q is not on the allowed list", name)
			break
		}
	}

	if blockedAction != "" {
		evidence = append(evidence, blockReason)
		result.Decision = models.AgentDecision{
			Decision:   models.DecisionBlock,
			Confidence: policyConfidence,
			Evidence:   evidence,
			NextStep:   models.NextStepEscalate,
		}
		a.recordViolation(ctx, exc, blockedAction, blockReason)
		return result, nil
	}

	evidence = append(evidence, fmt.Sprintf("%d proposed action(s) pass the guardrails", len(proposed)))
	if result.HumanApprovalRequired {
		evidence = append(evidence, fmt.Sprintf("severity %s requires human approval", exc.Severity))
	}
	result.Decision = models.AgentDecision{
		Decision:   models.DecisionAllow,
		Confidence: policyConfidence,
		Evidence:   evidence,
		NextStep:   models.NextStepContinue,
	}
	return result, nil
}

func (a *PolicyAgent) recordViolation(ctx context.Context, exc *models.Exception, action, reason string) {
	if a.violations == nil {
		return
	}
	violation := &models.Violation{
		ID:          uuid.New().String(),
		TenantID:    exc.TenantID,
		Kind:        models.ViolationKindPolicy,
		Severity:    exc.Severity,
		RuleID:      "guardrail_action_block",
		Description: reason,
		Context: map[string]any{
			"exception_id": exc.ExceptionID,
			"action":       action,
		},
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := a.violations.Record(ctx, violation); err != nil {
		slog.Error("Failed to record policy violation",
			"tenant_id", exc.TenantID, "exception_id", exc.ExceptionID, "error", err)
	}
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
