package decision

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/playbook"
)

const (
	resolutionMatchedConfidence   = 0.85
	resolutionUnmatchedConfidence = 0.5
)

// ResolutionAgent produces a remediation plan by matching the tenant's
// playbooks against the exception.
type ResolutionAgent struct{}

// NewResolutionAgent creates the agent.
func NewResolutionAgent() *ResolutionAgent {
	return &ResolutionAgent{}
}

// Name implements Agent.
func (a *ResolutionAgent) Name() string { return "resolution" }

// ResolutionResult carries the matched playbook alongside the decision.
type ResolutionResult struct {
	Playbook *models.Playbook
	Decision models.AgentDecision
}

// Process implements Agent.
func (a *ResolutionAgent) Process(_ context.Context, exc *models.Exception, dctx *Context) (*models.AgentDecision, error) {
	result := a.Resolve(exc, dctx)
	return &result.Decision, nil
}

// Resolve runs the matcher and shapes the outcome into a decision.
func (a *ResolutionAgent) Resolve(exc *models.Exception, dctx *Context) *ResolutionResult {
	var candidates []*models.Playbook
	var tags []string
	if dctx != nil {
		candidates = dctx.CandidatePlaybooks
		if dctx.Effective != nil {
			tags = dctx.Effective.PolicyTags
		}
	}

	match := playbook.MatchPlaybook(exc, candidates, tags)
	if match.Playbook == nil {
		return &ResolutionResult{
			Decision: models.AgentDecision{
				Decision:   "NO_PLAYBOOK",
				Confidence: resolutionUnmatchedConfidence,
				Evidence:   []string{match.Reasoning},
				NextStep:   models.NextStepEscalate,
			},
		}
	}

	return &ResolutionResult{
		Playbook: match.Playbook,
		Decision: models.AgentDecision{
			Decision:   fmt.Sprintf("EXECUTE_PLAYBOOK:%s", match.Playbook.Name),
			Confidence: resolutionMatchedConfidence,
			Evidence:   []string{match.Reasoning},
			NextStep:   models.NextStepContinue,
		},
	}
}
