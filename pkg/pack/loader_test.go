package pack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

const billingPackYAML = `domain: billing
version: 1
exception_types:
  - name: DataQualityFailure
    default_severity: MEDIUM
    actionable: true
  - name: PaymentGatewayTimeout
    default_severity: HIGH
severity_rules:
  - field: amount
    gt: 10000
    severity: HIGH
guardrails:
  allowed_actions: [notify, call_tool]
  human_approval_threshold: HIGH
  min_confidence: 0.7
tools:
  - name: refund-lookup
    type: http
    config:
      endpointConfig:
        url: https://billing.internal/refunds
        method: GET
playbooks:
  - name: dq-standard
    exception_type: DataQualityFailure
    priority: 10
    steps:
      - name: notify-oncall
        action: notify
      - name: lookup
        action: call_tool
        params:
          tool: refund-lookup
`

const acmePolicyYAML = `tenant: acme
domain: billing
version: 1
policy_tags: [pci]
guardrails:
  min_confidence: 0.9
approval_rules:
  - severity: MEDIUM
    human_approval_required: true
tool_enablement:
  - tool: refund-lookup
    enabled: false
notifications:
  channels:
    - type: slack
      webhook_url: https://hooks.slack.example/T000/B000
`

func writePackTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "packs", "billing"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tenants", "acme"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "packs", "billing", "pack.yaml"),
		[]byte(billingPackYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tenants", "acme", "policy.yaml"),
		[]byte(acmePolicyYAML), 0o644))
	return dir
}

func TestLoaderLoadAll(t *testing.T) {
	loader := NewLoader(writePackTree(t))

	packs, policies, err := loader.LoadAll()
	require.NoError(t, err)
	require.Len(t, packs, 1)
	require.Len(t, policies, 1)

	pack := packs[0]
	assert.Equal(t, "billing", pack.Domain)
	assert.Equal(t, 1, pack.Version)
	require.Len(t, pack.ExceptionTypes, 2)
	assert.True(t, pack.ExceptionTypes[0].Actionable)
	assert.Equal(t, models.SeverityHigh, pack.Guardrails.HumanApprovalThreshold)
	require.Len(t, pack.Playbooks, 1)
	assert.Equal(t, models.ActionTypeCallTool, pack.Playbooks[0].Steps[1].Action)

	policy := policies[0]
	assert.Equal(t, "acme", policy.Tenant)
	assert.Equal(t, []string{"pci"}, policy.PolicyTags)
	require.Len(t, policy.ToolEnablement, 1)
	assert.False(t, policy.ToolEnablement[0].Enabled)
}

func TestLoaderRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "packs", "billing"), 0o755))
	bad := "domain: billing\nversion: 1\nexception_types:\n  - name: X\ntypo_field: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "packs", "billing", "pack.yaml"),
		[]byte(bad), 0o644))

	_, _, err := NewLoader(dir).LoadAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "typo_field")
}

func TestLoaderExpandsEnv(t *testing.T) {
	t.Setenv("BILLING_WEBHOOK", "https://hooks.slack.example/expanded")

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tenants", "acme"), 0o755))
	policy := `tenant: acme
domain: billing
version: 1
notifications:
  channels:
    - type: slack
      webhook_url: "{{ .BILLING_WEBHOOK }}"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tenants", "acme", "policy.yaml"),
		[]byte(policy), 0o644))

	_, policies, err := NewLoader(dir).LoadAll()
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "https://hooks.slack.example/expanded",
		policies[0].Notifications.Channels[0].WebhookURL)
}

func TestLoaderEmptyTreeIsFine(t *testing.T) {
	packs, policies, err := NewLoader(t.TempDir()).LoadAll()
	require.NoError(t, err)
	assert.Empty(t, packs)
	assert.Empty(t, policies)
}

func TestDomainPackValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *DomainPack)
		wantErr string
	}{
		{
			name:    "missing domain",
			mutate:  func(p *DomainPack) { p.Domain = "" },
			wantErr: "missing domain",
		},
		{
			name:    "zero version",
			mutate:  func(p *DomainPack) { p.Version = 0 },
			wantErr: "invalid version",
		},
		{
			name:    "no exception types",
			mutate:  func(p *DomainPack) { p.ExceptionTypes = nil },
			wantErr: "no exception types",
		},
		{
			name: "http tool without url",
			mutate: func(p *DomainPack) {
				p.Tools = []ToolSpec{{Name: "t", Type: models.ToolTypeHTTP}}
			},
			wantErr: "endpointConfig.url",
		},
		{
			name: "playbook without steps",
			mutate: func(p *DomainPack) {
				p.Playbooks = []PlaybookSpec{{Name: "p", ExceptionType: "X"}}
			},
			wantErr: "no steps",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pack := &DomainPack{
				Domain:         "billing",
				Version:        1,
				ExceptionTypes: []ExceptionType{{Name: "X"}},
			}
			tt.mutate(pack)
			err := pack.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTenantPolicyValidatesChannels(t *testing.T) {
	policy := &TenantPolicy{
		Tenant:  "acme",
		Domain:  "billing",
		Version: 1,
		Notifications: NotificationPolicy{Channels: []ChannelSpec{
			{Type: "pager"},
		}},
	}
	err := policy.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown channel type")

	policy.Notifications.Channels = []ChannelSpec{{Type: "email", SMTP: &SMTP{Host: "mail.example"}}}
	err = policy.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recipients")
}
