package toolexec

import (
	"context"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// DummyProvider handles any tool type without touching the network. It
// honors the configured delay and echoes the input back, which is enough
// for pack development and pipeline tests.
type DummyProvider struct{}

// NewDummyProvider creates the provider.
func NewDummyProvider() *DummyProvider {
	return &DummyProvider{}
}

// Name implements Provider.
func (p *DummyProvider) Name() string { return "dummy" }

// Execute implements Provider.
func (p *DummyProvider) Execute(ctx context.Context, tenantID string, def *models.ToolDefinition, payload map[string]any) (map[string]any, error) {
	if def.Config.DelayMs > 0 {
		select {
		case <-time.After(time.Duration(def.Config.DelayMs) * time.Millisecond):
		case <-ctx.Done():
			return nil, errs.NewTransientError("dummy dispatch", 0, ctx.Err())
		}
	}
	return map[string]any{
		"tool":   def.Name,
		"tenant": tenantID,
		"echo":   payload,
		"mock":   true,
	}, nil
}
