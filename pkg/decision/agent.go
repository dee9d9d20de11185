// Package decision holds the four pipeline agents: Triage classifies,
// Policy enforces guardrails, Resolution picks a remediation plan and
// Supervisor reviews the chain. Every agent produces a structured
// AgentDecision; the workers route on its NextStep.
package decision

import (
	"context"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/pack"
)

// Agent is the one capability all decision agents share.
type Agent interface {
	// Process evaluates the exception in its pipeline context.
	Process(ctx context.Context, exc *models.Exception, dctx *Context) (*models.AgentDecision, error)

	// Name identifies the agent in evidence trails and logs.
	Name() string
}

// Step is one prior agent output in the chain, in pipeline order.
type Step struct {
	Agent    string
	Decision models.AgentDecision
}

// Context carries everything an agent may consult beyond the exception
// row itself.
type Context struct {
	// Effective is the resolved (tenant, domain) pack configuration.
	Effective *pack.Effective

	// Prior holds the decisions earlier agents made, in order.
	Prior []Step

	// SimilarCount is the number of similar past exceptions the vector
	// lookup returned for this exception.
	SimilarCount int

	// CandidatePlaybooks are the tenant's playbooks, for Resolution.
	CandidatePlaybooks []*models.Playbook

	// ProposedActions are the actions the chosen plan would take, for
	// Policy's allow/block list checks.
	ProposedActions []models.ActionType

	// HumanApprovalRequired mirrors the policy outcome for Supervisor.
	HumanApprovalRequired bool

	// PlanResolved reports whether Resolution produced a plan, for the
	// Supervisor's actionable-without-plan heuristic.
	PlanResolved bool
}

// PriorDecision returns the named agent's decision from the chain.
func (c *Context) PriorDecision(agent string) (models.AgentDecision, bool) {
	for _, step := range c.Prior {
		if step.Agent == agent {
			return step.Decision, true
		}
	}
	return models.AgentDecision{}, false
}

// ViolationRecorder persists guardrail breaches; the safety store
// implements it.
type ViolationRecorder interface {
	Record(ctx context.Context, violation *models.Violation) error
}
