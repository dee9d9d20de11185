// Package playbook selects and executes remediation playbooks. Matching
// is a pure function over exception attributes; execution advances steps
// strictly sequentially, human-gates risky steps and stays idempotent
// under event replays.
package playbook

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// Match is the outcome of playbook selection. Playbook is nil when no
// candidate passed; Reasoning always explains the decision.
type Match struct {
	Playbook  *models.Playbook
	Reasoning string
}

// MatchPlaybook evaluates every candidate's conditions against the
// exception and the tenant's policy tags, then ranks the passing ones by
// (priority desc, id desc).
func MatchPlaybook(exc *models.Exception, candidates []*models.Playbook, policyTags []string) Match {
	var passed []*models.Playbook
	var rejected []string

	for _, pb := range candidates {
		if reason, ok := evaluate(exc, pb, policyTags); ok {
			passed = append(passed, pb)
		} else {
			rejected = append(rejected, fmt.Sprintf("%s: %s", pb.Name, reason))
		}
	}

	if len(passed) == 0 {
		reason := "no playbook conditions matched"
		if len(rejected) > 0 {
			reason = fmt.Sprintf("no playbook matched (%s)", strings.Join(rejected, "; "))
		}
		return Match{Reasoning: reason}
	}

	sort.Slice(passed, func(i, j int) bool {
		if passed[i].Priority != passed[j].Priority {
			return passed[i].Priority > passed[j].Priority
		}
		return passed[i].ID > passed[j].ID
	})

	best := passed[0]
	return Match{
		Playbook: best,
		Reasoning: fmt.Sprintf("playbook %q matched %s with priority %d (%d candidate(s) passed)",
			best.Name, exc.ExceptionType, best.Priority, len(passed)),
	}
}

// evaluate checks every stated condition; all must hold. Conditions may
// sit at the root of the JSON or under a "match" key.
func evaluate(exc *models.Exception, pb *models.Playbook, policyTags []string) (string, bool) {
	if pb.ExceptionType != "" && pb.ExceptionType != exc.ExceptionType {
		return fmt.Sprintf("exception_type %q != %q", pb.ExceptionType, exc.ExceptionType), false
	}

	conditions := pb.Conditions
	if nested, ok := conditions["match"].(map[string]any); ok {
		conditions = nested
	}

	for field, want := range conditions {
		switch field {
		case "domain":
			got, _ := exc.NormalizedContext["domain"].(string)
			if !stringEquals(want, got) {
				return fmt.Sprintf("domain %v != %q", want, got), false
			}
		case "exception_type":
			if !stringEquals(want, exc.ExceptionType) {
				return fmt.Sprintf("exception_type %v != %q", want, exc.ExceptionType), false
			}
		case "severity":
			if !strings.EqualFold(fmt.Sprintf("%v", want), string(exc.Severity)) {
				return fmt.Sprintf("severity %v != %s", want, exc.Severity), false
			}
		case "severity_in":
			if !severityIn(want, exc.Severity) {
				return fmt.Sprintf("severity %s not in %v", exc.Severity, want), false
			}
		case "sla_minutes_remaining_lt":
			limit, ok := toFloat(want)
			if !ok {
				return fmt.Sprintf("invalid sla_minutes_remaining_lt %v", want), false
			}
			remaining, ok := slaMinutesRemaining(exc.NormalizedContext)
			if !ok {
				return "sla_deadline absent or unparsable", false
			}
			if remaining >= limit {
				return fmt.Sprintf("%.0f SLA minutes remaining, need < %.0f", remaining, limit), false
			}
		case "policy_tags":
			required := toStringSlice(want)
			available := append(toStringSlice(exc.NormalizedContext["policy_tags"]), policyTags...)
			if missing := missingTags(required, available); missing != "" {
				return fmt.Sprintf("missing policy tag %q", missing), false
			}
		default:
			// Unknown condition fields fail closed: a playbook must not
			// run on conditions the engine cannot check.
			return fmt.Sprintf("unsupported condition %q", field), false
		}
	}
	return "", true
}

func stringEquals(want any, got string) bool {
	s, ok := want.(string)
	return ok && s == got
}

func severityIn(want any, severity models.Severity) bool {
	for _, s := range toStringSlice(want) {
		if strings.EqualFold(s, string(severity)) {
			return true
		}
	}
	return false
}

func toStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{vals}
	default:
		return nil
	}
}

func missingTags(required, available []string) string {
	for _, tag := range required {
		found := false
		for _, have := range available {
			if have == tag {
				found = true
				break
			}
		}
		if !found {
			return tag
		}
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// slaMinutesRemaining reads normalized_context.sla_deadline, accepting an
// RFC3339 string or a unix-seconds number.
func slaMinutesRemaining(context map[string]any) (float64, bool) {
	raw, ok := context["sla_deadline"]
	if !ok {
		return 0, false
	}

	var deadline time.Time
	switch v := raw.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return 0, false
		}
		deadline = parsed
	case float64:
		deadline = time.Unix(int64(v), 0)
	case int64:
		deadline = time.Unix(v, 0)
	default:
		return 0, false
	}

	return time.Until(deadline).Minutes(), true
}
