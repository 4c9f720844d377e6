package embedding

import (
	"context"
	"strings"
	"unicode/utf16"

	"github.com/thebtf/vocguru/internal/vector"
)

const (
	HashProvider         = "hash"
	HashModelVersion     = "hash-v1"
	HashDefaultDimension = 384
)

// hashModel is a deterministic bag-of-characters embedding. It needs no
// network access and keeps identical texts at distance zero, which is
// enough for local development and tests.
type hashModel struct {
	dimensions int
}

func init() {
	RegisterModel(HashProvider, ModelMetadata{
		Name:        "Hash Placeholder",
		Version:     HashModelVersion,
		Dimensions:  HashDefaultDimension,
		Description: "Deterministic character-position hash embedding for offline use",
		Default:     true,
	}, newHashModel)
}

func newHashModel(opts Options) (EmbeddingModel, error) {
	dims := opts.Dimensions
	if dims <= 0 {
		dims = HashDefaultDimension
	}
	return &hashModel{dimensions: dims}, nil
}

// NewHashModel returns the hash model with the given dimension.
func NewHashModel(dims int) EmbeddingModel {
	m, _ := newHashModel(Options{Dimensions: dims})
	return m
}

func (m *hashModel) Name() string    { return "Hash Placeholder" }
func (m *hashModel) Version() string { return HashModelVersion }
func (m *hashModel) Dimensions() int { return m.dimensions }
func (m *hashModel) Close() error    { return nil }

func (m *hashModel) Embed(_ context.Context, text string) ([]float32, error) {
	return hashEmbed(text, m.dimensions), nil
}

func (m *hashModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = m.Embed(ctx, t)
	}
	return out, nil
}

// hashEmbed spreads each UTF-16 code unit of each word into a slot chosen by
// its code, word position and character position, then normalizes.
func hashEmbed(text string, dims int) []float32 {
	vec := make([]float32, dims)
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return vec
	}

	inc := 1 / float32(len(words))
	for i, word := range words {
		for j, code := range utf16.Encode([]rune(word)) {
			idx := (int(code) * (i + 1) * (j + 1)) % dims
			vec[idx] += inc
		}
	}
	return vector.Normalize(vec)
}
