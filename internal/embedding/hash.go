package embedding

import (
	"context"
)

const (
	wordWeight    = 1.0
	bigramWeight  = 0.5
	trigramWeight = 0.25
)

// HashEmbedder is a deterministic bag-of-features embedder. Words, adjacent word pairs and
// character trigrams are hashed into a fixed number of buckets with a sign bit, then the
// vector is L2-normalised. It needs no model files and gives texts that share vocabulary a
// positive cosine similarity, which is enough to rank course chunks and match course names.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a hash embedder producing vectors of the given dimensions.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions}
}

func (e *HashEmbedder) add(v []float32, feature string, weight float32) {
	h := HashString(feature)
	idx := int(h % uint64(e.dimensions))
	if h&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

// Embed returns the embedding of text. Empty text yields the zero vector.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dimensions)
	words := ContentWords(text)
	for i, w := range words {
		e.add(v, "w:"+w, wordWeight)
		if i > 0 {
			e.add(v, "b:"+words[i-1]+" "+w, bigramWeight)
		}
		padded := []rune(" " + w + " ")
		for j := 0; j+3 <= len(padded); j++ {
			e.add(v, "c:"+string(padded[j:j+3]), trigramWeight)
		}
	}
	NormalizeL2(v)
	return v, nil
}

// EmbedBatch embeds each text in order.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *HashEmbedder) Close() error {
	return nil
}
