package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// DefaultSimilarityThreshold is the cosine similarity above which two
// exceptions count as recurrences of each other.
const DefaultSimilarityThreshold = 0.9

type indexEntry struct {
	exceptionID string
	vector      []float32
}

// Index is the in-process cosine-similarity store behind triage's
// recurrence evidence. Vectors are tenant-scoped and never compared
// across tenants.
type Index struct {
	provider  Provider
	threshold float64

	mu      sync.RWMutex
	entries map[string][]indexEntry // tenant → entries
}

// NewIndex creates the index; threshold <= 0 takes the default.
func NewIndex(provider Provider, threshold float64) *Index {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Index{
		provider:  provider,
		threshold: threshold,
		entries:   make(map[string][]indexEntry),
	}
}

// SimilarCount counts indexed exceptions of the tenant that look like
// this one, then indexes it so later exceptions can find it. An
// exception already indexed is not re-added.
func (x *Index) SimilarCount(ctx context.Context, exc *models.Exception) (int, error) {
	vectors, err := x.provider.Embed(ctx, []string{ExceptionText(exc)})
	if err != nil {
		return 0, fmt.Errorf("failed to embed exception %s: %w", exc.ExceptionID, err)
	}
	vec := vectors[0]

	x.mu.Lock()
	defer x.mu.Unlock()
	count := 0
	seen := false
	for _, entry := range x.entries[exc.TenantID] {
		if entry.exceptionID == exc.ExceptionID {
			seen = true
			continue
		}
		if cosine(vec, entry.vector) >= x.threshold {
			count++
		}
	}
	if !seen {
		x.entries[exc.TenantID] = append(x.entries[exc.TenantID], indexEntry{
			exceptionID: exc.ExceptionID,
			vector:      vec,
		})
	}
	return count, nil
}

// Size reports how many exceptions the tenant has indexed.
func (x *Index) Size(tenantID string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries[tenantID])
}

// ExceptionText flattens the classifiable parts of an exception into
// the text that gets embedded. Deterministic: context keys are sorted.
func ExceptionText(exc *models.Exception) string {
	var b strings.Builder
	b.WriteString(exc.SourceSystem)
	b.WriteString(" ")
	b.WriteString(exc.ExceptionType)

	keys := make([]string, 0, len(exc.NormalizedContext))
	for k := range exc.NormalizedContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, exc.NormalizedContext[k])
	}
	return b.String()
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
