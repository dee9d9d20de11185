package toolexec

import (
	"context"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// Provider dispatches a validated tool invocation against its backend.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Execute runs the tool and returns its output payload. Errors must be
	// taxonomy errors: TransientError for retryable I/O, AuthError for
	// rejected credentials, ValidationError for bad endpoints.
	Execute(ctx context.Context, tenantID string, def *models.ToolDefinition, payload map[string]any) (map[string]any, error)

	// Name identifies the provider in logs.
	Name() string
}

// ProviderSet selects a provider by tool type: the http family goes to the
// HTTP provider, everything else to the dummy provider.
type ProviderSet struct {
	http  Provider
	dummy Provider
}

// NewProviderSet wires the default providers.
func NewProviderSet(httpProvider, dummyProvider Provider) *ProviderSet {
	return &ProviderSet{http: httpProvider, dummy: dummyProvider}
}

// For returns the provider handling the given tool type.
func (s *ProviderSet) For(toolType models.ToolType) Provider {
	if toolType.UsesHTTP() {
		return s.http
	}
	return s.dummy
}
