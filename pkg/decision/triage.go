package decision

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/pack"
)

// Triage confidence model: a declared exception type is trusted, an
// undeclared one is not; recurrence evidence adds a little on top.
const (
	triageKnownTypeConfidence   = 0.85
	triageUnknownTypeConfidence = 0.4
	triageSimilarityBonus       = 0.05
	triageMaxConfidence         = 0.98
)

// TriageResult is the classification outcome the triage worker persists.
type TriageResult struct {
	ExceptionType string
	Severity      models.Severity
	Actionable    bool
	Decision      models.AgentDecision
}

// TriageAgent classifies exceptions against the domain pack's declared
// types and severity rules.
type TriageAgent struct{}

// NewTriageAgent creates the agent.
func NewTriageAgent() *TriageAgent {
	return &TriageAgent{}
}

// Name implements Agent.
func (a *TriageAgent) Name() string { return "triage" }

// Process implements Agent.
func (a *TriageAgent) Process(_ context.Context, exc *models.Exception, dctx *Context) (*models.AgentDecision, error) {
	result := a.Classify(exc, dctx)
	return &result.Decision, nil
}

// Classify resolves the exception type, applies the pack's severity
// rules and scores confidence.
func (a *TriageAgent) Classify(exc *models.Exception, dctx *Context) *TriageResult {
	result := &TriageResult{
		ExceptionType: exc.ExceptionType,
		Severity:      exc.Severity,
	}
	evidence := []string{fmt.Sprintf("source system %s reported type %s", exc.SourceSystem, exc.ExceptionType)}

	declared := a.declaredType(exc.ExceptionType, dctx)
	confidence := triageUnknownTypeConfidence
	if declared != nil {
		confidence = triageKnownTypeConfidence
		result.Actionable = declared.Actionable
		evidence = append(evidence, fmt.Sprintf("type %s is declared by the domain pack", declared.Name))
		if result.Severity == "" && declared.DefaultSeverity != "" {
			result.Severity = declared.DefaultSeverity
			evidence = append(evidence, fmt.Sprintf("severity defaulted to %s", declared.DefaultSeverity))
		}
	} else {
		evidence = append(evidence, fmt.Sprintf("type %s is not declared by the domain pack", exc.ExceptionType))
	}
	if result.Severity == "" {
		result.Severity = models.SeverityMedium
	}

	if bumped, rule := a.applySeverityRules(exc, dctx, result.Severity); rule != "" {
		result.Severity = bumped
		evidence = append(evidence, rule)
	}

	if dctx != nil && dctx.SimilarCount > 0 {
		confidence += triageSimilarityBonus
		if confidence > triageMaxConfidence {
			confidence = triageMaxConfidence
		}
		evidence = append(evidence, fmt.Sprintf("%d similar past exception(s) found", dctx.SimilarCount))
	}

	result.Decision = models.AgentDecision{
		Decision:   result.ExceptionType,
		Confidence: confidence,
		Evidence:   evidence,
		NextStep:   models.NextStepContinue,
	}
	return result
}

func (a *TriageAgent) declaredType(name string, dctx *Context) *pack.ExceptionType {
	if dctx == nil || dctx.Effective == nil || dctx.Effective.Pack == nil {
		return nil
	}
	for i := range dctx.Effective.Pack.ExceptionTypes {
		if dctx.Effective.Pack.ExceptionTypes[i].Name == name {
			return &dctx.Effective.Pack.ExceptionTypes[i]
		}
	}
	return nil
}

// applySeverityRules evaluates the pack's rules over the normalized
// context; the highest matching severity wins when it outranks current.
func (a *TriageAgent) applySeverityRules(exc *models.Exception, dctx *Context, current models.Severity) (models.Severity, string) {
	if dctx == nil || dctx.Effective == nil || dctx.Effective.Pack == nil {
		return current, ""
	}

	best := current
	reason := ""
	for _, rule := range dctx.Effective.Pack.SeverityRules {
		value, ok := exc.NormalizedContext[rule.Field]
		if !ok {
			continue
		}
		if !severityRuleMatches(rule, value) {
			continue
		}
		if rule.Severity.Rank() > best.Rank() {
			best = rule.Severity
			reason = fmt.Sprintf("severity raised to %s by rule on %s", rule.Severity, rule.Field)
		}
	}
	return best, reason
}

func severityRuleMatches(rule pack.SeverityRule, value any) bool {
	if rule.Equals != nil {
		return fmt.Sprintf("%v", rule.Equals) == fmt.Sprintf("%v", value)
	}
	num, ok := toNumber(value)
	if !ok {
		return false
	}
	if rule.GT != nil && num <= *rule.GT {
		return false
	}
	if rule.LT != nil && num >= *rule.LT {
		return false
	}
	return rule.GT != nil || rule.LT != nil
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
