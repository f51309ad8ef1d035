package provider

import (
	"context"
	"crypto/sha256"
	"fmt"
)

const (
	ProviderLocal  = "local"
	LocalDimension = 384
)

// LocalEmbedder produces deterministic hash-derived vectors. It exists for
// development and tests where no API key is available; the vectors carry no
// semantic signal.
type LocalEmbedder struct {
	model string
	cache *Cache
}

// NewLocalEmbedder creates a local deterministic embedder.
func NewLocalEmbedder(cache *Cache) *LocalEmbedder {
	return &LocalEmbedder{
		model: "local-embeddings",
		cache: cache,
	}
}

func (l *LocalEmbedder) Embed(ctx context.Context, text string) (*Embedding, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(hash); ok {
			return emb, nil
		}
	}

	vector := make([]float32, LocalDimension)
	textHash := sha256.Sum256([]byte(text))
	for i := 0; i < LocalDimension; i++ {
		vector[i] = float32(textHash[i%len(textHash)]) / 255.0
	}

	emb := &Embedding{
		Vector:    vector,
		Dimension: LocalDimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      hash,
	}

	if l.cache != nil {
		l.cache.Set(hash, emb)
	}
	return emb, nil
}

func (l *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := validateBatch(texts); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(texts))
	for i, text := range texts {
		emb, err := l.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

func (l *LocalEmbedder) Provider() string { return ProviderLocal }
func (l *LocalEmbedder) Model() string    { return l.model }
func (l *LocalEmbedder) Close() error     { return nil }
