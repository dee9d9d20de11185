package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/pack"
)

// Supervisor intervention thresholds. Degradation compares the latest
// confidence against every earlier step in the chain.
const (
	supervisorDegradationDelta     = 0.2
	supervisorHighSeverityFloor    = 0.7
	supervisorCriticalPriorFloor   = 0.8
	supervisorInterventionConfid   = 0.9
	supervisorCriticalAutoRuleID   = "critical_severity_auto_action"
	supervisorCriticalAutoRuleDesc = "CRITICAL exception allowed for automation without human approval"
)

// SupervisorResult is the chain review outcome.
type SupervisorResult struct {
	Decision      models.AgentDecision
	Interventions []string
}

// Intervened reports whether the review forced an escalation.
func (r *SupervisorResult) Intervened() bool {
	return len(r.Interventions) > 0
}

// SupervisorAgent reviews the full decision chain and forces escalation
// when confidence or policy conditions are not met.
type SupervisorAgent struct {
	violations ViolationRecorder
}

// NewSupervisorAgent creates the agent. violations may be nil in tests.
func NewSupervisorAgent(violations ViolationRecorder) *SupervisorAgent {
	return &SupervisorAgent{violations: violations}
}

// Name implements Agent.
func (a *SupervisorAgent) Name() string { return "supervisor" }

// Process implements Agent.
func (a *SupervisorAgent) Process(ctx context.Context, exc *models.Exception, dctx *Context) (*models.AgentDecision, error) {
	result, err := a.Review(ctx, exc, dctx)
	if err != nil {
		return nil, err
	}
	return &result.Decision, nil
}

// Review applies the intervention rules over the prior chain. Every
// matched rule is recorded; one match is enough to escalate.
func (a *SupervisorAgent) Review(ctx context.Context, exc *models.Exception, dctx *Context) (*SupervisorResult, error) {
	result := &SupervisorResult{}
	if dctx == nil || len(dctx.Prior) == 0 {
		result.Interventions = append(result.Interventions, "no prior agent decisions to review")
		return a.finish(exc, result), nil
	}

	latest := dctx.Prior[len(dctx.Prior)-1].Decision
	minConfidence := pack.DefaultMinConfidence
	if dctx.Effective != nil && dctx.Effective.Guardrails.MinConfidence > 0 {
		minConfidence = dctx.Effective.Guardrails.MinConfidence
	}

	if latest.Confidence < minConfidence {
		result.Interventions = append(result.Interventions,
			fmt.Sprintf("confidence %.2f is below the %.2f threshold", latest.Confidence, minConfidence))
	}

	for _, step := range dctx.Prior[:len(dctx.Prior)-1] {
		if latest.Confidence < step.Decision.Confidence-supervisorDegradationDelta {
			result.Interventions = append(result.Interventions,
				fmt.Sprintf("confidence degraded from %.2f (%s) to %.2f", step.Decision.Confidence, step.Agent, latest.Confidence))
			break
		}
	}

	severity := exc.Severity
	if severity.Rank() >= models.SeverityHigh.Rank() && latest.Confidence < supervisorHighSeverityFloor {
		result.Interventions = append(result.Interventions,
			fmt.Sprintf("severity %s demands confidence >= %.2f, got %.2f", severity, supervisorHighSeverityFloor, latest.Confidence))
	}

	if severity == models.SeverityCritical {
		for _, step := range dctx.Prior {
			if step.Decision.Confidence < supervisorCriticalPriorFloor {
				result.Interventions = append(result.Interventions,
					fmt.Sprintf("CRITICAL exception but %s decided at confidence %.2f", step.Agent, step.Decision.Confidence))
				break
			}
		}
		if policy, ok := dctx.PriorDecision("policy"); ok &&
			policy.Decision == models.DecisionAllow && !dctx.HumanApprovalRequired {
			result.Interventions = append(result.Interventions, supervisorCriticalAutoRuleDesc)
			a.recordViolation(ctx, exc)
		}
	}

	if a.actionable(exc, dctx) && !dctx.PlanResolved {
		result.Interventions = append(result.Interventions,
			"actionable exception has no resolved remediation plan")
	}

	return a.finish(exc, result), nil
}

func (a *SupervisorAgent) finish(exc *models.Exception, result *SupervisorResult) *SupervisorResult {
	if result.Intervened() {
		slog.Info("Supervisor intervention",
			"tenant_id", exc.TenantID,
			"exception_id", exc.ExceptionID,
			"interventions", len(result.Interventions))
		result.Decision = models.AgentDecision{
			Decision:   models.NextStepEscalate,
			Confidence: supervisorInterventionConfid,
			Evidence:   result.Interventions,
			NextStep:   models.NextStepEscalate,
		}
		return result
	}
	result.Decision = models.AgentDecision{
		Decision:   "APPROVED",
		Confidence: supervisorInterventionConfid,
		Evidence:   []string{"decision chain within confidence and policy bounds"},
		NextStep:   models.NextStepContinue,
	}
	return result
}

func (a *SupervisorAgent) actionable(exc *models.Exception, dctx *Context) bool {
	if dctx.Effective == nil || dctx.Effective.Pack == nil {
		return false
	}
	for _, et := range dctx.Effective.Pack.ExceptionTypes {
		if et.Name == exc.ExceptionType {
			return et.Actionable
		}
	}
	return false
}

func (a *SupervisorAgent) recordViolation(ctx context.Context, exc *models.Exception) {
	if a.violations == nil {
		return
	}
	violation := &models.Violation{
		ID:          uuid.New().String(),
		TenantID:    exc.TenantID,
		Kind:        models.ViolationKindPolicy,
		Severity:    models.SeverityCritical,
		RuleID:      supervisorCriticalAutoRuleID,
		Description: supervisorCriticalAutoRuleDesc,
		Context: map[string]any{
			"exception_id": exc.ExceptionID,
		},
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := a.violations.Record(ctx, violation); err != nil {
		slog.Error("Failed to record supervisor violation",
			"tenant_id", exc.TenantID, "exception_id", exc.ExceptionID, "error", err)
	}
}
