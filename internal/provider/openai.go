package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	ProviderOpenAI = "openai"

	DefaultOpenAIEmbedModel = "text-embedding-3-small"
	DefaultOpenAIJudgeModel = "gpt-4o-mini"

	openAIEmbedURL = "https://api.openai.com/v1/embeddings"
	openAIChatURL  = "https://api.openai.com/v1/chat/completions"

	// Batch limit enforced client-side to keep request bodies bounded.
	MaxBatchSize = 100
)

// OpenAIEmbedder implements Embedder using the OpenAI embeddings API.
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *Cache
}

// NewOpenAIEmbedder creates an OpenAI-backed embedder.
func NewOpenAIEmbedder(apiKey, model string, timeout time.Duration, rps float64, cache *Cache) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key not set", ErrNoProviderEnabled)
	}
	if model == "" {
		model = DefaultOpenAIEmbedModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &OpenAIEmbedder{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		cache:      cache,
	}, nil
}

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) (*Embedding, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(text)
	if o.cache != nil {
		if emb, ok := o.cache.Get(hash); ok {
			return emb, nil
		}
	}

	embs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embs) == 0 {
		return nil, classify("embed", 0, fmt.Errorf("no embeddings returned"))
	}
	return embs[0], nil
}

func (o *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := validateBatch(texts); err != nil {
		return nil, err
	}

	config := DefaultRetryConfig()
	embeddings, err := retryWithBackoff(ctx, config, func() ([]*Embedding, error) {
		return o.callAPI(ctx, texts)
	})
	if err != nil {
		return nil, err
	}

	if o.cache != nil {
		for i, emb := range embeddings {
			hash := ComputeHash(texts[i])
			emb.Hash = hash
			o.cache.Set(hash, emb)
		}
	}

	return embeddings, nil
}

func (o *OpenAIEmbedder) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, classify("embed", 0, err)
		}
	}

	reqBody := map[string]interface{}{
		"input": texts,
		"model": o.model,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", openAIEmbedURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
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
			Provider:  ProviderOpenAI,
			Model:     apiResp.Model,
		}
	}
	return embeddings, nil
}

func (o *OpenAIEmbedder) Provider() string { return ProviderOpenAI }
func (o *OpenAIEmbedder) Model() string    { return o.model }

func (o *OpenAIEmbedder) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// OpenAIJudge implements Judge using the OpenAI chat completions API.
type OpenAIJudge struct {
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewOpenAIJudge creates an OpenAI-backed relevance judge.
func NewOpenAIJudge(apiKey, model string, timeout time.Duration, rps float64) (*OpenAIJudge, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key not set", ErrNoProviderEnabled)
	}
	if model == "" {
		model = DefaultOpenAIJudgeModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &OpenAIJudge{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}, nil
}

const judgeSystemPrompt = `You score short text passages for relevance to a question.
For every passage id you are given, return a relevance score from 0 (irrelevant)
to 10 (directly answers the question) and a one-sentence reason.
Respond with JSON only: {"scores":[{"id":<int>,"score":<number>,"reason":"..."}]}`

func (j *OpenAIJudge) Judge(ctx context.Context, query string, candidates []JudgeCandidate) ([]Judgement, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrInvalidInput)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nPassages:\n", query)
	for _, c := range candidates {
		fmt.Fprintf(&sb, "[id=%d] %s\n\n", c.ID, c.Text)
	}

	raw, err := j.chat(ctx, judgeSystemPrompt, sb.String(), true)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Scores []struct {
			ID     int64   `json:"id"`
			Score  float64 `json:"score"`
			Reason string  `json:"reason"`
		} `json:"scores"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, classify("judge", 0, fmt.Errorf("parse judge response: %w", err))
	}

	judgements := make([]Judgement, 0, len(parsed.Scores))
	for _, s := range parsed.Scores {
		score := s.Score
		if score < 0 {
			score = 0
		}
		if score > 10 {
			score = 10
		}
		judgements = append(judgements, Judgement{ID: s.ID, Score: score, Reason: s.Reason})
	}
	return judgements, nil
}

const rewriteSystemPrompt = `You rewrite search queries that retrieved poor results.
Produce one alternative phrasing using different but equivalent terms.
Respond with the rewritten query only, no quotes, no explanation.`

func (j *OpenAIJudge) Rewrite(ctx context.Context, query, topic string) (string, error) {
	user := "Query: " + query
	if topic != "" {
		user += "\nTopic: " + topic
	}
	raw, err := j.chat(ctx, rewriteSystemPrompt, user, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `"`)), nil
}

func (j *OpenAIJudge) chat(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	if j.limiter != nil {
		if err := j.limiter.Wait(ctx); err != nil {
			return "", classify("judge", 0, err)
		}
	}

	reqBody := map[string]interface{}{
		"model": j.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": 0,
	}
	if jsonMode {
		reqBody["response_format"] = map[string]string{"type": "json_object"}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", openAIChatURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.apiKey)

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return "", classify("judge", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", classify("judge", resp.StatusCode,
			fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes)))
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", classify("judge", 0, fmt.Errorf("decode response: %w", err))
	}
	if len(apiResp.Choices) == 0 {
		return "", classify("judge", 0, fmt.Errorf("empty completion"))
	}
	return apiResp.Choices[0].Message.Content, nil
}

func (j *OpenAIJudge) Available() bool { return j.apiKey != "" }
func (j *OpenAIJudge) Model() string   { return j.model }
