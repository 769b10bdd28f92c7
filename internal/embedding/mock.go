package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

const mockDimensions = 256

// MockClient produces deterministic bag-of-words embeddings: every lower-cased
// token is hashed into a bucket and the vector is L2-normalised. Texts sharing
// words therefore land close together, which is enough for local runs and tests.
type MockClient struct {
	dims int
}

func NewMockClient() *MockClient {
	return &MockClient{dims: mockDimensions}
}

func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, c.dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(c.dims)] += 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
