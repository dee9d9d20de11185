package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// DefaultHashDimensions matches small sentence-embedding models closely
// enough for local development.
const DefaultHashDimensions = 256

type hashProvider struct {
	dims int
}

// NewHashProvider creates the deterministic local provider. Identical
// texts map to identical unit vectors; there is no semantic similarity,
// which is enough for dev and tests.
func NewHashProvider(dims int) Provider {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &hashProvider{dims: dims}
}

func (p *hashProvider) Name() string    { return "hash" }
func (p *hashProvider) Dimensions() int { return p.dims }

func (p *hashProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.vector(text)
	}
	return out, nil
}

func (p *hashProvider) vector(text string) []float32 {
	vec := make([]float32, p.dims)
	seed := sha256.Sum256([]byte(text))
	block := seed[:]
	var norm float64
	for i := 0; i < p.dims; i++ {
		if i%8 == 0 && i > 0 {
			next := sha256.Sum256(block)
			block = next[:]
		}
		bits := binary.BigEndian.Uint32(block[(i%8)*4 : (i%8)*4+4])
		// Map to [-1, 1).
		v := float32(int32(bits)) / float32(math.MaxInt32)
		vec[i] = v
		norm += float64(v) * float64(v)
	}
	// Unit length keeps cosine similarity a plain dot product.
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
