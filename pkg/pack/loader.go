package pack

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/remedy/pkg/config"
)

// Loader reads pack bundles from a directory tree:
//
//	<dir>/packs/<domain>/pack.yaml      domain packs
//	<dir>/tenants/<tenant>/policy.yaml  tenant policy packs
//
// Decoding is strict: unknown YAML fields are rejected so a typoed key
// fails registration instead of silently changing behavior. Environment
// expansion uses the same {{ .VAR }} template form as the system config.
type Loader struct {
	dir string
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// LoadAll reads every domain pack and tenant policy under the root.
func (l *Loader) LoadAll() ([]*DomainPack, []*TenantPolicy, error) {
	packs, err := l.loadDomainPacks()
	if err != nil {
		return nil, nil, err
	}
	policies, err := l.loadTenantPolicies()
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Loaded pack bundles", "domain_packs", len(packs), "tenant_policies", len(policies))
	return packs, policies, nil
}

func (l *Loader) loadDomainPacks() ([]*DomainPack, error) {
	root := filepath.Join(l.dir, "packs")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read pack directory %s: %w", root, err)
	}

	var packs []*DomainPack
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), "pack.yaml")
		pack, err := l.loadDomainPack(path)
		if err != nil {
			return nil, err
		}
		packs = append(packs, pack)
	}
	return packs, nil
}

func (l *Loader) loadDomainPack(path string) (*DomainPack, error) {
	var pack DomainPack
	if err := decodeStrict(path, &pack); err != nil {
		return nil, err
	}
	if err := pack.Validate(); err != nil {
		return nil, fmt.Errorf("invalid domain pack %s: %w", path, err)
	}
	return &pack, nil
}

func (l *Loader) loadTenantPolicies() ([]*TenantPolicy, error) {
	root := filepath.Join(l.dir, "tenants")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tenant directory %s: %w", root, err)
	}

	var policies []*TenantPolicy
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), "policy.yaml")
		policy, err := l.loadTenantPolicy(path)
		if err != nil {
			return nil, err
		}
		policies = append(policies, policy)
	}
	return policies, nil
}

func (l *Loader) loadTenantPolicy(path string) (*TenantPolicy, error) {
	var policy TenantPolicy
	if err := decodeStrict(path, &policy); err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tenant policy %s: %w", path, err)
	}
	return &policy, nil
}

// decodeStrict reads a YAML file with env expansion and unknown-field
// rejection.
func decodeStrict(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	data = config.ExpandEnv(data)

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if err == io.EOF {
			return fmt.Errorf("pack file %s is empty", path)
		}
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
