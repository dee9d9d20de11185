package pack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// Installer registers packs and materializes their declared tools,
// playbooks and enablement flips into the repositories. Every
// registration leaves a governance audit trail.
type Installer struct {
	registry *Registry
	stores   *store.Stores
}

// NewInstaller wires an installer onto the registry and stores.
func NewInstaller(registry *Registry, stores *store.Stores) *Installer {
	return &Installer{registry: registry, stores: stores}
}

// InstallDomainPack registers the pack and persists its tool
// definitions. Playbooks declared by a domain pack are materialized per
// tenant when the tenant's policy pack is installed, because playbook
// rows are tenant-scoped.
func (i *Installer) InstallDomainPack(ctx context.Context, pack *DomainPack, actor models.Actor) error {
	if err := i.registry.RegisterDomainPack(pack); err != nil {
		return err
	}

	for _, spec := range pack.Tools {
		def := &models.ToolDefinition{Name: spec.Name, Type: spec.Type, Config: spec.Config}
		if def.Config.TenantScope == "" {
			def.Config.TenantScope = models.TenantScopeGlobal
		}
		if err := i.stores.Tools.CreateDefinition(ctx, def); err != nil {
			return fmt.Errorf("failed to install tool %s of domain pack %s: %w", spec.Name, pack.Domain, err)
		}
	}

	if err := i.audit(ctx, "", actor, "pack.register", "domain_pack",
		fmt.Sprintf("%s@v%d", pack.Domain, pack.Version),
		map[string]any{"tools": len(pack.Tools), "playbooks": len(pack.Playbooks)}); err != nil {
		return err
	}

	slog.Info("Domain pack installed",
		"domain", pack.Domain, "version", pack.Version,
		"tools", len(pack.Tools), "playbooks", len(pack.Playbooks))
	return nil
}

// InstallTenantPolicy registers the policy, materializes the domain
// pack's playbooks for the tenant and applies enablement flips.
func (i *Installer) InstallTenantPolicy(ctx context.Context, policy *TenantPolicy, actor models.Actor) error {
	pack, ok := i.registry.DomainPack(policy.Domain)
	if !ok {
		return fmt.Errorf("tenant policy %s references unregistered domain %s", policy.Tenant, policy.Domain)
	}
	if err := i.registry.RegisterTenantPolicy(policy); err != nil {
		return err
	}

	for _, spec := range pack.Playbooks {
		pb := &models.Playbook{
			TenantID:      policy.Tenant,
			Name:          spec.Name,
			Version:       pack.Version,
			ExceptionType: spec.ExceptionType,
			Conditions:    spec.Conditions,
			Priority:      spec.Priority,
		}
		for order, stepSpec := range spec.Steps {
			pb.Steps = append(pb.Steps, models.PlaybookStep{
				StepOrder:  order + 1,
				Name:       stepSpec.Name,
				ActionType: stepSpec.Action,
				Params:     stepSpec.Params,
			})
		}
		if err := i.stores.Playbooks.Create(ctx, pb); err != nil {
			return fmt.Errorf("failed to install playbook %s for tenant %s: %w", spec.Name, policy.Tenant, err)
		}
	}

	for _, flip := range policy.ToolEnablement {
		toolID, err := i.findToolByName(ctx, policy.Tenant, flip.Tool)
		if err != nil {
			return err
		}
		if err := i.stores.Tools.SetEnablement(ctx, policy.Tenant, toolID, flip.Enabled); err != nil {
			return err
		}
	}

	if err := i.audit(ctx, policy.Tenant, actor, "pack.register", "tenant_policy",
		fmt.Sprintf("%s/%s@v%d", policy.Tenant, policy.Domain, policy.Version),
		map[string]any{"playbooks": len(pack.Playbooks), "enablement_flips": len(policy.ToolEnablement)}); err != nil {
		return err
	}

	slog.Info("Tenant policy installed",
		"tenant", policy.Tenant, "domain", policy.Domain, "version", policy.Version)
	return nil
}

// InstallAll loads and installs everything under a pack directory.
func (i *Installer) InstallAll(ctx context.Context, loader *Loader, actor models.Actor) error {
	packs, policies, err := loader.LoadAll()
	if err != nil {
		return err
	}
	for _, pack := range packs {
		if err := i.InstallDomainPack(ctx, pack, actor); err != nil {
			return err
		}
	}
	for _, policy := range policies {
		if err := i.InstallTenantPolicy(ctx, policy, actor); err != nil {
			return err
		}
	}
	return nil
}

func (i *Installer) findToolByName(ctx context.Context, tenantID, name string) (int64, error) {
	defs, err := i.stores.Tools.ListDefinitions(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	for _, def := range defs {
		if def.Name == name {
			return def.ID, nil
		}
	}
	return 0, fmt.Errorf("tenant %s enablement references unknown tool %s", tenantID, name)
}

func (i *Installer) audit(ctx context.Context, tenantID string, actor models.Actor, action, entityType, entityID string, detail map[string]any) error {
	err := i.stores.Audit.Append(ctx, &models.GovernanceAuditEvent{
		TenantID:   tenantID,
		ActorType:  actor.Type,
		ActorID:    actor.ID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
	})
	if err != nil {
		return fmt.Errorf("failed to audit %s of %s: %w", action, entityID, err)
	}
	return nil
}
