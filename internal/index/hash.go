package index

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashEmbedder is an offline bag-of-words embedder using feature hashing.
// It needs no network and is used when no embedding API key is configured.
type HashEmbedder struct {
	Dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{Dims: dims}
}

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.Dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		f.Write([]byte(w))
		vec[f.Sum32()%uint32(h.Dims)]++
	}
	return vec, nil
}
