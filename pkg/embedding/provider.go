// Package embedding turns exception descriptions into vectors for
// recurrence lookups. Providers are pluggable per tenant policy; the
// cache and the cosine index sit on top of any of them.
package embedding

import "context"

// Provider computes embedding vectors for a batch of texts. Vectors of
// one provider are only comparable to vectors of the same provider and
// model.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}
