// Package pack loads and registers the declarative configuration bundles
// the platform runs on: domain packs (exception types, severity rules,
// guardrails, tools, playbooks) and tenant policy packs layered on top
// (guardrail overrides, approval rules, notification policy, embedding
// provider). Packs are immutable once registered; changing one means
// registering a new version.
package pack

import (
	"fmt"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// DomainPack is one versioned bundle of domain configuration.
type DomainPack struct {
	Domain         string             `yaml:"domain"`
	Version        int                `yaml:"version"`
	ExceptionTypes []ExceptionType    `yaml:"exception_types"`
	SeverityRules  []SeverityRule     `yaml:"severity_rules,omitempty"`
	Guardrails     *Guardrails        `yaml:"guardrails,omitempty"`
	Tools          []ToolSpec         `yaml:"tools,omitempty"`
	Playbooks      []PlaybookSpec     `yaml:"playbooks,omitempty"`
	Notifications  NotificationPolicy `yaml:"notifications,omitempty"`
}

// ExceptionType declares a class of exception the domain can raise.
type ExceptionType struct {
	Name            string          `yaml:"name"`
	Description     string          `yaml:"description,omitempty"`
	DefaultSeverity models.Severity `yaml:"default_severity,omitempty"`
	// Actionable exception types need a resolved plan; the supervisor
	// escalates actionable exceptions that end up without one.
	Actionable bool `yaml:"actionable,omitempty"`
}

// SeverityRule bumps severity when a normalized-context field matches.
// Rules are evaluated in order; the highest matching severity wins.
type SeverityRule struct {
	Field    string          `yaml:"field"`
	Equals   any             `yaml:"equals,omitempty"`
	GT       *float64        `yaml:"gt,omitempty"`
	LT       *float64        `yaml:"lt,omitempty"`
	Severity models.Severity `yaml:"severity"`
}

// Guardrails constrain what the policy agent may allow. A tenant policy
// pack overrides individual fields; lists replace, they do not merge.
type Guardrails struct {
	AllowedActions []string `yaml:"allowed_actions,omitempty"`
	BlockedActions []string `yaml:"blocked_actions,omitempty"`
	// HumanApprovalThreshold is the lowest severity that always requires
	// human approval regardless of confidence.
	HumanApprovalThreshold models.Severity `yaml:"human_approval_threshold,omitempty"`
	MinConfidence          float64         `yaml:"min_confidence,omitempty"`
}

// ToolSpec declares a tool definition inside a pack; registration turns
// it into a tool_definition row.
type ToolSpec struct {
	Name   string            `yaml:"name"`
	Type   models.ToolType   `yaml:"type"`
	Config models.ToolConfig `yaml:"config"`
}

// PlaybookSpec declares a playbook inside a pack.
type PlaybookSpec struct {
	Name          string             `yaml:"name"`
	ExceptionType string             `yaml:"exception_type"`
	Priority      int                `yaml:"priority,omitempty"`
	Conditions    map[string]any     `yaml:"conditions,omitempty"`
	Steps         []PlaybookStepSpec `yaml:"steps"`
}

// PlaybookStepSpec is one declared step.
type PlaybookStepSpec struct {
	Name   string            `yaml:"name"`
	Action models.ActionType `yaml:"action"`
	Params map[string]any    `yaml:"params,omitempty"`
}

// TenantPolicy is the per-tenant override bundle.
type TenantPolicy struct {
	Tenant         string               `yaml:"tenant"`
	Domain         string               `yaml:"domain"`
	Version        int                  `yaml:"version"`
	PolicyTags     []string             `yaml:"policy_tags,omitempty"`
	Guardrails     *Guardrails          `yaml:"guardrails,omitempty"`
	ApprovalRules  []ApprovalRule       `yaml:"approval_rules,omitempty"`
	ToolEnablement []ToolEnablementSpec `yaml:"tool_enablement,omitempty"`
	Notifications  NotificationPolicy   `yaml:"notifications,omitempty"`
	Embedding      EmbeddingSelection   `yaml:"embedding,omitempty"`
}

// ApprovalRule forces human approval at a given severity.
type ApprovalRule struct {
	Severity              models.Severity `yaml:"severity"`
	HumanApprovalRequired bool            `yaml:"human_approval_required"`
}

// ToolEnablementSpec flips a tool on or off for the tenant, by name.
type ToolEnablementSpec struct {
	Tool    string `yaml:"tool"`
	Enabled bool   `yaml:"enabled"`
}

// NotificationPolicy names the channels notifications fan out to.
type NotificationPolicy struct {
	Channels []ChannelSpec `yaml:"channels,omitempty"`
}

// ChannelSpec configures one notification channel. Type selects the
// implementation; the remaining fields apply per type.
type ChannelSpec struct {
	Type       string   `yaml:"type"` // slack, teams, email
	WebhookURL string   `yaml:"webhook_url,omitempty"`
	To         []string `yaml:"to,omitempty"`
	SMTP       *SMTP    `yaml:"smtp,omitempty"`
}

// SMTP holds mail transport settings for the email channel. Credentials
// are env-looked-up by name, never inlined in the pack.
type SMTP struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	From        string `yaml:"from"`
	UsernameEnv string `yaml:"username_env,omitempty"`
	PasswordEnv string `yaml:"password_env,omitempty"`
	StartTLS    bool   `yaml:"starttls,omitempty"`
}

// EmbeddingSelection picks the tenant's embedding provider.
type EmbeddingSelection struct {
	Provider string `yaml:"provider,omitempty"` // openai, hash
	Model    string `yaml:"model,omitempty"`
}

// Validate checks the structural invariants of a domain pack.
func (p *DomainPack) Validate() error {
	if p.Domain == "" {
		return fmt.Errorf("domain pack is missing domain")
	}
	if p.Version < 1 {
		return fmt.Errorf("domain pack %s has invalid version %d", p.Domain, p.Version)
	}
	if len(p.ExceptionTypes) == 0 {
		return fmt.Errorf("domain pack %s declares no exception types", p.Domain)
	}
	for _, et := range p.ExceptionTypes {
		if et.Name == "" {
			return fmt.Errorf("domain pack %s has an exception type without a name", p.Domain)
		}
		if et.DefaultSeverity != "" && !et.DefaultSeverity.IsValid() {
			return fmt.Errorf("exception type %s has invalid default severity %q", et.Name, et.DefaultSeverity)
		}
	}
	for _, rule := range p.SeverityRules {
		if rule.Field == "" {
			return fmt.Errorf("domain pack %s has a severity rule without a field", p.Domain)
		}
		if !rule.Severity.IsValid() {
			return fmt.Errorf("severity rule on %s has invalid severity %q", rule.Field, rule.Severity)
		}
	}
	for _, tool := range p.Tools {
		if tool.Name == "" {
			return fmt.Errorf("domain pack %s has a tool without a name", p.Domain)
		}
		if tool.Type.UsesHTTP() && (tool.Config.EndpointConfig == nil || tool.Config.EndpointConfig.URL == "") {
			return fmt.Errorf("http tool %s is missing endpointConfig.url", tool.Name)
		}
	}
	for _, pb := range p.Playbooks {
		if pb.Name == "" {
			return fmt.Errorf("domain pack %s has a playbook without a name", p.Domain)
		}
		if len(pb.Steps) == 0 {
			return fmt.Errorf("playbook %s has no steps", pb.Name)
		}
		for i, step := range pb.Steps {
			if step.Action == "" {
				return fmt.Errorf("playbook %s step %d has no action", pb.Name, i+1)
			}
		}
	}
	return nil
}

// Validate checks the structural invariants of a tenant policy pack.
func (p *TenantPolicy) Validate() error {
	if p.Tenant == "" {
		return fmt.Errorf("tenant policy is missing tenant")
	}
	if p.Domain == "" {
		return fmt.Errorf("tenant policy %s is missing domain", p.Tenant)
	}
	if p.Version < 1 {
		return fmt.Errorf("tenant policy %s has invalid version %d", p.Tenant, p.Version)
	}
	for _, rule := range p.ApprovalRules {
		if !rule.Severity.IsValid() {
			return fmt.Errorf("approval rule of tenant %s has invalid severity %q", p.Tenant, rule.Severity)
		}
	}
	for _, ch := range p.Notifications.Channels {
		switch ch.Type {
		case "slack", "teams":
			if ch.WebhookURL == "" {
				return fmt.Errorf("%s channel of tenant %s is missing webhook_url", ch.Type, p.Tenant)
			}
		case "email":
			if ch.SMTP == nil || ch.SMTP.Host == "" {
				return fmt.Errorf("email channel of tenant %s is missing smtp.host", p.Tenant)
			}
			if len(ch.To) == 0 {
				return fmt.Errorf("email channel of tenant %s has no recipients", p.Tenant)
			}
		default:
			return fmt.Errorf("tenant %s has unknown channel type %q", p.Tenant, ch.Type)
		}
	}
	return nil
}
