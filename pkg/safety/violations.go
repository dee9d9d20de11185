// Package safety persists guardrail violations, promotes recurring
// severe ones into incidents and evaluates the operational alert rules.
package safety

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// JSONLStore appends violations to one JSONL file per tenant. Append-only
// by construction: records are never rewritten.
type JSONLStore struct {
	dir string
	mu  sync.Mutex
}

// NewJSONLStore creates the store, making the directory if needed.
func NewJSONLStore(dir string) (*JSONLStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create violation directory %s: %w", dir, err)
	}
	return &JSONLStore{dir: dir}, nil
}

func (s *JSONLStore) path(tenantID string) string {
	// Tenant ids are caller-controlled; keep them inside the directory.
	name := strings.ReplaceAll(strings.ReplaceAll(tenantID, "/", "_"), "..", "_")
	return filepath.Join(s.dir, name+".jsonl")
}

// Record appends one violation line.
func (s *JSONLStore) Record(_ context.Context, v *models.Violation) error {
	if v.CreatedAt == "" {
		v.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal violation %s: %w", v.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path(v.TenantID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open violation log for tenant %s: %w", v.TenantID, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append violation %s: %w", v.ID, err)
	}
	return nil
}

// List returns every violation of the tenant, in append order.
func (s *JSONLStore) List(_ context.Context, tenantID string) ([]*models.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path(tenantID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open violation log for tenant %s: %w", tenantID, err)
	}
	defer f.Close()

	var out []*models.Violation
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v models.Violation
		if err := json.Unmarshal(line, &v); err != nil {
			slog.Warn("Skipping malformed violation line", "tenant_id", tenantID, "error", err)
			continue
		}
		out = append(out, &v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read violation log for tenant %s: %w", tenantID, err)
	}
	return out, nil
}

// CountSince counts violations of the rule recorded in the window.
func (s *JSONLStore) CountSince(ctx context.Context, tenantID, ruleID string, since time.Time) (int, error) {
	violations, err := s.List(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, v := range violations {
		if ruleID != "" && v.RuleID != ruleID {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, v.CreatedAt)
		if err != nil || at.Before(since) {
			continue
		}
		count++
	}
	return count, nil
}
