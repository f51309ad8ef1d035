package provider

import (
	"os"
	"strings"
	"time"

	"github.com/tmcfar/evidence-mcp/internal/config"
)

// NewEmbedder builds the configured embedding provider.
//
// Selection order:
//  1. explicit cfg.Provider.Embedding (openai, jina, local)
//  2. auto-detect from available API keys
//  3. nil embedder when nothing is configured; the engine then serves
//     keyword-only retrieval and vector calls fail with ErrNotEnabled.
func NewEmbedder(cfg *config.Config) (Embedder, error) {
	pc := cfg.Provider
	timeout := time.Duration(pc.TimeoutSeconds) * time.Second
	cache := NewCache(pc.CacheSize)

	openaiKey := os.Getenv(config.EnvOpenAIAPIKey)
	jinaKey := os.Getenv(config.EnvJinaAPIKey)

	switch strings.ToLower(pc.Embedding) {
	case ProviderOpenAI:
		return NewOpenAIEmbedder(openaiKey, pc.EmbedModel, timeout, pc.RequestsPerSecond, cache)
	case ProviderJina:
		return NewJinaEmbedder(jinaKey, pc.EmbedModel, timeout, pc.RequestsPerSecond, cache)
	case ProviderLocal:
		return NewLocalEmbedder(cache), nil
	case "":
		// auto-detect below
	default:
		return nil, ErrNoProviderEnabled
	}

	if openaiKey != "" {
		return NewOpenAIEmbedder(openaiKey, pc.EmbedModel, timeout, pc.RequestsPerSecond, cache)
	}
	if jinaKey != "" {
		return NewJinaEmbedder(jinaKey, pc.EmbedModel, timeout, pc.RequestsPerSecond, cache)
	}

	// Nothing configured: semantic retrieval stays disabled.
	return nil, nil
}

// NewJudge builds the configured judge provider, or nil when reranking and
// provider-backed rewriting should stay disabled.
func NewJudge(cfg *config.Config) (Judge, error) {
	pc := cfg.Provider
	timeout := time.Duration(pc.TimeoutSeconds) * time.Second

	openaiKey := os.Getenv(config.EnvOpenAIAPIKey)

	switch strings.ToLower(pc.Judge) {
	case ProviderOpenAI:
		return NewOpenAIJudge(openaiKey, pc.JudgeModel, timeout, pc.RequestsPerSecond)
	case "":
		if openaiKey != "" {
			return NewOpenAIJudge(openaiKey, pc.JudgeModel, timeout, pc.RequestsPerSecond)
		}
		return nil, nil
	default:
		return nil, ErrNoProviderEnabled
	}
}
