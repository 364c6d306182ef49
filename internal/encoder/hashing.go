package encoder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"jobmate/matching-service/internal/model"
)

// HashingModel embeds text by signed feature hashing of word unigrams and
// bigrams into a fixed number of buckets, then L2-normalises. It needs no
// network or model files, so it backs tests and offline deployments. Texts
// sharing vocabulary get high cosine similarity.
type HashingModel struct {
	dim int
}

// NewHashingModel returns a hashing model with dim buckets.
func NewHashingModel(dim int) *HashingModel { return &HashingModel{dim: dim} }

// HashingLoader wraps NewHashingModel as a Loader.
func HashingLoader(dim int) Loader {
	return func(context.Context) (Model, error) { return NewHashingModel(dim), nil }
}

// Dimension implements Model.
func (h *HashingModel) Dimension() int { return h.dim }

// Embed implements Model.
func (h *HashingModel) Embed(ctx context.Context, texts []string) ([]model.Vector, error) {
	out := make([]model.Vector, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *HashingModel) vector(text string) model.Vector {
	v := make(model.Vector, h.dim)
	tokens := tokenize(text)
	for i, tok := range tokens {
		h.add(v, tok, 1)
		if i > 0 {
			h.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

func (h *HashingModel) add(v model.Vector, feature string, weight float32) {
	hash := fnv.New64a()
	_, _ = hash.Write([]byte(feature))
	sum := hash.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
}
