package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// Validator runs the pre-dispatch checks: tenant scope, enablement and
// JSON-Schema payload validation. Compiled schemas are cached per tool.
type Validator struct {
	tools store.ToolStore

	mu      sync.Mutex
	schemas map[int64]*jsonschema.Schema
}

// NewValidator creates a validator over the tool store.
func NewValidator(tools store.ToolStore) *Validator {
	return &Validator{tools: tools, schemas: map[int64]*jsonschema.Schema{}}
}

// LoadTool fetches the tool definition scope-checked for the tenant and
// verifies the tenant has it enabled.
func (v *Validator) LoadTool(ctx context.Context, tenantID string, toolID int64) (*models.ToolDefinition, error) {
	def, err := v.tools.GetDefinition(ctx, tenantID, toolID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.NewScopeError(toolID, tenantID, "tenant-scoped to another tenant or not registered")
		}
		return nil, fmt.Errorf("failed to load tool %d: %w", toolID, err)
	}

	enabled, err := v.tools.IsEnabled(ctx, tenantID, toolID)
	if err != nil {
		return nil, fmt.Errorf("failed to check enablement of tool %d: %w", toolID, err)
	}
	if !enabled {
		return nil, errs.NewScopeError(toolID, tenantID, "disabled by tenant policy")
	}
	return def, nil
}

// ValidatePayload checks the input payload against the tool's inputSchema.
// A tool without a schema passes, logged, for backward compatibility.
func (v *Validator) ValidatePayload(def *models.ToolDefinition, payload map[string]any) error {
	if len(def.Config.InputSchema) == 0 {
		slog.Debug("Tool has no input schema, skipping payload validation",
			"tool_id", def.ID, "tool_name", def.Name)
		return nil
	}

	schema, err := v.compiled(def)
	if err != nil {
		return err
	}

	// The validator wants plain JSON values; round-trip normalizes
	// whatever the caller handed us (typed numbers included).
	raw, err := json.Marshal(payload)
	if err != nil {
		return errs.NewValidationError("input_payload", fmt.Sprintf("not JSON-encodable: %v", err))
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errs.NewValidationError("input_payload", fmt.Sprintf("not valid JSON: %v", err))
	}

	if err := schema.Validate(doc); err != nil {
		return errs.NewValidationError("input_payload", err.Error())
	}
	return nil
}

func (v *Validator) compiled(def *models.ToolDefinition) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if schema, ok := v.schemas[def.ID]; ok {
		return schema, nil
	}

	raw, err := json.Marshal(def.Config.InputSchema)
	if err != nil {
		return nil, errs.NewValidationError("inputSchema", fmt.Sprintf("not JSON-encodable: %v", err))
	}

	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("tool://%d/input.json", def.ID)
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, errs.NewValidationError("inputSchema", fmt.Sprintf("unreadable schema: %v", err))
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, errs.NewValidationError("inputSchema", fmt.Sprintf("does not compile: %v", err))
	}
	v.schemas[def.ID] = schema
	return schema, nil
}

// Invalidate drops the cached schema for a tool, for definition updates.
func (v *Validator) Invalidate(toolID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.schemas, toolID)
}
