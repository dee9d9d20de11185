package pack

import (
	"fmt"
	"sync"

	"dario.cat/mergo"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// Registry holds registered packs. Packs are immutable once registered:
// re-registering the same (domain, version) or (tenant, domain, version)
// is rejected, and a new version moves the latest pointer.
type Registry struct {
	mu       sync.RWMutex
	packs    map[string]map[int]*DomainPack   // domain → version → pack
	latest   map[string]int                   // domain → latest version
	policies map[string]map[int]*TenantPolicy // tenant/domain → version → policy
	latestP  map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		packs:    map[string]map[int]*DomainPack{},
		latest:   map[string]int{},
		policies: map[string]map[int]*TenantPolicy{},
		latestP:  map[string]int{},
	}
}

// RegisterDomainPack adds a validated pack version.
func (r *Registry) RegisterDomainPack(pack *DomainPack) error {
	if err := pack.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.packs[pack.Domain]
	if !ok {
		versions = map[int]*DomainPack{}
		r.packs[pack.Domain] = versions
	}
	if _, exists := versions[pack.Version]; exists {
		return fmt.Errorf("domain pack %s version %d is already registered and immutable", pack.Domain, pack.Version)
	}
	versions[pack.Version] = pack
	if pack.Version > r.latest[pack.Domain] {
		r.latest[pack.Domain] = pack.Version
	}
	return nil
}

// RegisterTenantPolicy adds a validated tenant policy version.
func (r *Registry) RegisterTenantPolicy(policy *TenantPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := policy.Tenant + "/" + policy.Domain
	versions, ok := r.policies[key]
	if !ok {
		versions = map[int]*TenantPolicy{}
		r.policies[key] = versions
	}
	if _, exists := versions[policy.Version]; exists {
		return fmt.Errorf("tenant policy %s/%s version %d is already registered and immutable",
			policy.Tenant, policy.Domain, policy.Version)
	}
	versions[policy.Version] = policy
	if policy.Version > r.latestP[key] {
		r.latestP[key] = policy.Version
	}
	return nil
}

// DomainPack returns the latest version of a domain pack.
func (r *Registry) DomainPack(domain string) (*DomainPack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	version, ok := r.latest[domain]
	if !ok {
		return nil, false
	}
	return r.packs[domain][version], true
}

// TenantPolicy returns the latest policy for (tenant, domain).
func (r *Registry) TenantPolicy(tenant, domain string) (*TenantPolicy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := tenant + "/" + domain
	version, ok := r.latestP[key]
	if !ok {
		return nil, false
	}
	return r.policies[key][version], true
}

// Domains lists every registered domain.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.latest))
	for domain := range r.latest {
		out = append(out, domain)
	}
	return out
}

// Effective is the resolved configuration for (tenant, domain): the
// domain pack with the tenant's overrides layered on top.
type Effective struct {
	Domain        string
	Pack          *DomainPack
	Policy        *TenantPolicy // nil when the tenant has no policy pack
	Guardrails    Guardrails
	PolicyTags    []string
	Notifications NotificationPolicy
}

// DefaultMinConfidence applies when neither pack states a threshold.
const DefaultMinConfidence = 0.6

// Resolve computes the effective configuration. The tenant's guardrail
// fields override the domain pack's field-by-field; stated list fields
// replace rather than merge.
func (r *Registry) Resolve(tenant, domain string) (*Effective, error) {
	pack, ok := r.DomainPack(domain)
	if !ok {
		return nil, fmt.Errorf("no domain pack registered for domain %s", domain)
	}

	eff := &Effective{Domain: domain, Pack: pack}
	if pack.Guardrails != nil {
		eff.Guardrails = *pack.Guardrails
	}
	eff.Notifications = pack.Notifications

	if policy, ok := r.TenantPolicy(tenant, domain); ok {
		eff.Policy = policy
		eff.PolicyTags = append([]string(nil), policy.PolicyTags...)
		if policy.Guardrails != nil {
			merged := *policy.Guardrails
			// mergo fills only the zero fields of the tenant override
			// from the domain defaults, so stated fields win.
			if err := mergo.Merge(&merged, eff.Guardrails); err != nil {
				return nil, fmt.Errorf("failed to merge guardrails for tenant %s: %w", tenant, err)
			}
			eff.Guardrails = merged
		}
		if len(policy.Notifications.Channels) > 0 {
			eff.Notifications = policy.Notifications
		}
	}

	if eff.Guardrails.MinConfidence == 0 {
		eff.Guardrails.MinConfidence = DefaultMinConfidence
	}
	return eff, nil
}

// HumanApprovalRequired reports whether the effective configuration
// demands human approval at the given severity. An explicit tenant
// approval rule wins over the guardrail threshold.
func (e *Effective) HumanApprovalRequired(severity models.Severity) bool {
	if e.Policy != nil {
		for _, rule := range e.Policy.ApprovalRules {
			if rule.Severity == severity {
				return rule.HumanApprovalRequired
			}
		}
	}
	if e.Guardrails.HumanApprovalThreshold == "" {
		return false
	}
	return severity.Rank() >= e.Guardrails.HumanApprovalThreshold.Rank()
}
