package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Chunk is a stored unit of document text addressable by an opaque id.
// Chunks are produced by an external ingestion pipeline; the retrieval
// engine only reads them.
type Chunk struct {
	ChunkID    int64             `json:"chunk_id"`
	DocumentID int64             `json:"document_id"`
	Title      string            `json:"title,omitempty"`
	ChunkIndex int               `json:"chunk_index"`
	Text       string            `json:"text"`
	Tags       []string          `json:"tags,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// ContentHash returns the SHA-256 hex digest of the chunk text, used for
// index-entry bookkeeping and embedding cache keys.
func (c *Chunk) ContentHash() string {
	h := sha256.Sum256([]byte(c.Text))
	return hex.EncodeToString(h[:])
}

// Validate checks that the chunk is usable for indexing or scoring.
func (c *Chunk) Validate() error {
	if c.ChunkID <= 0 {
		return errors.New("chunk id must be positive")
	}
	if c.DocumentID <= 0 {
		return errors.New("document id must be positive")
	}
	if c.Text == "" {
		return errors.New("chunk text cannot be empty")
	}
	return nil
}

// Filters narrows a retrieval call to a subset of the indexed corpus.
type Filters struct {
	DocumentIDs []int64  `json:"document_ids,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Empty reports whether the filters impose no restriction.
func (f *Filters) Empty() bool {
	return f == nil || (len(f.DocumentIDs) == 0 && len(f.Tags) == 0)
}

// MatchChunk reports whether a chunk passes the filters.
func (f *Filters) MatchChunk(c *Chunk) bool {
	if f.Empty() {
		return true
	}
	if len(f.DocumentIDs) > 0 {
		found := false
		for _, id := range f.DocumentIDs {
			if id == c.DocumentID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			for _, have := range c.Tags {
				if want == have {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Candidate is a transient scoring record produced during one retrieval
// call. It is never persisted; the per-source raw scores are kept alongside
// the fused score for observability.
type Candidate struct {
	ChunkID    int64             `json:"chunk_id"`
	DocumentID int64             `json:"document_id"`
	Title      string            `json:"title,omitempty"`
	ChunkIndex int               `json:"chunk_index"`
	Text       string            `json:"text"`
	Meta       map[string]string `json:"meta,omitempty"`

	// Score is the current ranking score: raw source score before fusion,
	// fused score after. Reranking reorders but does not overwrite it.
	Score float64 `json:"score"`

	SemanticScore *float64 `json:"semantic_score,omitempty"`
	KeywordScore  *float64 `json:"keyword_score,omitempty"`
	RerankScore   *float64 `json:"rerank_score,omitempty"`
}

// FromChunk seeds a candidate's display fields from a chunk row.
func FromChunk(c *Chunk, score float64) Candidate {
	return Candidate{
		ChunkID:    c.ChunkID,
		DocumentID: c.DocumentID,
		Title:      c.Title,
		ChunkIndex: c.ChunkIndex,
		Text:       c.Text,
		Meta:       c.Meta,
		Score:      score,
	}
}

// Float64Ptr returns a pointer to v. Candidate optional scores are pointers
// so "not scored by this source" is distinguishable from a zero score.
func Float64Ptr(v float64) *float64 { return &v }
