package worker

import (
	"context"
	"log/slog"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/decision"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/pack"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// resolveEffective looks up the effective (tenant, domain) pack
// configuration for the exception. Exceptions without a normalized
// domain, or with a domain no pack covers, run without one.
func resolveEffective(registry *pack.Registry, exc *models.Exception) *pack.Effective {
	domain, _ := exc.NormalizedContext["domain"].(string)
	if domain == "" {
		return nil
	}
	eff, err := registry.Resolve(exc.TenantID, domain)
	if err != nil {
		slog.Debug("No pack configuration for exception",
			"tenant_id", exc.TenantID, "domain", domain, "error", err)
		return nil
	}
	return eff
}

// buildChain reconstructs the prior agent decisions from the timeline.
// Only the stages whose payloads carry a full decision (triage, policy)
// contribute; the latest occurrence of each wins.
func buildChain(timeline []*bus.Event) []decision.Step {
	var triage, policy *decision.Step
	for _, event := range timeline {
		switch event.EventType {
		case bus.EventTypeTriageCompleted:
			var p bus.TriageCompletedPayload
			if err := event.DecodePayload(&p); err != nil {
				continue
			}
			triage = &decision.Step{Agent: "triage", Decision: models.AgentDecision{
				Decision:   p.Decision,
				Confidence: p.Confidence,
				Evidence:   p.Evidence,
				NextStep:   p.NextStep,
			}}
		case bus.EventTypePolicyEvaluationCompleted:
			var p bus.PolicyEvaluationCompletedPayload
			if err := event.DecodePayload(&p); err != nil {
				continue
			}
			policy = &decision.Step{Agent: "policy", Decision: models.AgentDecision{
				Decision:   p.Decision,
				Confidence: p.Confidence,
				Evidence:   p.Evidence,
				NextStep:   p.NextStep,
			}}
		}
	}
	var chain []decision.Step
	if triage != nil {
		chain = append(chain, *triage)
	}
	if policy != nil {
		chain = append(chain, *policy)
	}
	return chain
}

// timelineFacts summarizes the timeline bits the later stages consult.
type timelineFacts struct {
	chain                 []decision.Step
	humanApprovalRequired bool
	playbookMatched       bool
	matchedPlaybookID     int64
}

func loadTimelineFacts(ctx context.Context, events store.EventStore, tenantID, exceptionID string) (*timelineFacts, error) {
	timeline, err := events.ListByException(ctx, tenantID, exceptionID)
	if err != nil {
		return nil, err
	}
	facts := &timelineFacts{chain: buildChain(timeline)}
	for _, event := range timeline {
		switch event.EventType {
		case bus.EventTypePolicyEvaluationCompleted:
			var p bus.PolicyEvaluationCompletedPayload
			if err := event.DecodePayload(&p); err == nil {
				facts.humanApprovalRequired = p.HumanApprovalRequired
			}
		case bus.EventTypePlaybookMatched:
			var p bus.PlaybookMatchedPayload
			if err := event.DecodePayload(&p); err == nil {
				facts.playbookMatched = true
				facts.matchedPlaybookID = p.PlaybookID
			}
		}
	}
	return facts, nil
}
