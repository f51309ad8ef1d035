package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	ProviderJina = "jina"

	DefaultJinaModel = "jina-embeddings-v3"
	jinaEmbedURL     = "https://api.jina.ai/v1/embeddings"
)

// JinaEmbedder implements Embedder using the Jina AI embeddings API.
type JinaEmbedder struct {
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *Cache
}

// NewJinaEmbedder creates a Jina-backed embedder.
func NewJinaEmbedder(apiKey, model string, timeout time.Duration, rps float64, cache *Cache) (*JinaEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: Jina API key not set", ErrNoProviderEnabled)
	}
	if model == "" {
		model = DefaultJinaModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &JinaEmbedder{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		cache:      cache,
	}, nil
}

func (j *JinaEmbedder) Embed(ctx context.Context, text string) (*Embedding, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(text)
	if j.cache != nil {
		if emb, ok := j.cache.Get(hash); ok {
			return emb, nil
		}
	}

	embs, err := j.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embs) == 0 {
		return nil, classify("embed", 0, fmt.Errorf("no embeddings returned"))
	}
	return embs[0], nil
}

func (j *JinaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := validateBatch(texts); err != nil {
		return nil, err
	}

	config := DefaultRetryConfig()
	embeddings, err := retryWithBackoff(ctx, config, func() ([]*Embedding, error) {
		return j.callAPI(ctx, texts)
	})
	if err != nil {
		return nil, err
	}

	if j.cache != nil {
		for i, emb := range embeddings {
			hash := ComputeHash(texts[i])
			emb.Hash = hash
			j.cache.Set(hash, emb)
		}
	}

	return embeddings, nil
}

func (j *JinaEmbedder) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	if j.limiter != nil {
		if err := j.limiter.Wait(ctx); err != nil {
			return nil, classify("embed", 0, err)
		}
	}

	reqBody := map[string]interface{}{
		"input": texts,
		"model": j.model,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", jinaEmbedURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.apiKey)

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, classify("embed", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, classify("embed", resp.StatusCode,
			fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes)))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, classify("embed", 0, fmt.Errorf("decode response: %w", err))
	}

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  ProviderJina,
			Model:     apiResp.Model,
		}
	}
	return embeddings, nil
}

func (j *JinaEmbedder) Provider() string { return ProviderJina }
func (j *JinaEmbedder) Model() string    { return j.model }

func (j *JinaEmbedder) Close() error {
	j.httpClient.CloseIdleConnections()
	return nil
}
