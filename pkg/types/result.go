package types

import "time"

// RetrievalMode records which scoring sources contributed to a result set.
type RetrievalMode string

const (
	ModeHybrid   RetrievalMode = "hybrid"
	ModeSemantic RetrievalMode = "semantic"
	ModeKeyword  RetrievalMode = "keyword"
)

// RerankDebug reports what the second-stage reranker did for one call.
type RerankDebug struct {
	Attempted bool   `json:"attempted"`
	Applied   bool   `json:"applied"`
	Skipped   string `json:"skipped,omitempty"` // reason when not attempted
	Judged    int    `json:"judged"`
	Error     string `json:"error,omitempty"` // set on fail-open
}

// RetrievalDebug carries per-call observability data alongside the chunks.
type RetrievalDebug struct {
	SemanticEnabled    bool        `json:"semantic_enabled"`
	SemanticUsed       bool        `json:"semantic_used"`
	KeywordUsed        bool        `json:"keyword_used"`
	SemanticCandidates int         `json:"semantic_candidates"`
	KeywordCandidates  int         `json:"keyword_candidates"`
	CandidateK         int         `json:"candidate_k"`
	SemanticError      string      `json:"semantic_error,omitempty"`
	Rerank             RerankDebug `json:"rerank"`
}

// RetrievalResult is the payload of one top-level retrieval call.
// len(Chunks) <= TopK always holds.
type RetrievalResult struct {
	Mode    RetrievalMode  `json:"mode"`
	QueryID int64          `json:"query_id"`
	Query   string         `json:"query"`
	TopK    int            `json:"top_k"`
	Chunks  []Candidate    `json:"chunks"`
	Debug   RetrievalDebug `json:"debug"`
}

// CorrectiveAttempt is one iteration of the corrective loop's debug trail.
type CorrectiveAttempt struct {
	Iter            int           `json:"iter"`
	Query           string        `json:"query"`
	Mode            RetrievalMode `json:"mode"`
	BestRelevance   float64       `json:"best_relevance"`
	AvgTopRelevance float64       `json:"avg_top_relevance"`
	Action          string        `json:"action"`
}

// Corrective loop actions recorded in the attempt trail.
const (
	CorrectiveAccept        = "accept"
	CorrectiveRewrite       = "rewrite"
	CorrectiveStopEmpty     = "stop_empty"
	CorrectiveStopSameQuery = "stop_same_query"
	CorrectiveStopMaxIters  = "stop_max_iters"
)

// CorrectiveInfo annotates a retrieval payload produced by the corrective
// variant of the retrieve call.
type CorrectiveInfo struct {
	Enabled      bool                `json:"enabled"`
	MaxIters     int                 `json:"max_iters"`
	MinRelevance float64             `json:"min_relevance"`
	Attempts     []CorrectiveAttempt `json:"attempts"`
}

// CorrectiveResult wraps the final iteration's retrieval payload with the
// loop trail.
type CorrectiveResult struct {
	RetrievalResult
	Corrective CorrectiveInfo `json:"corrective"`
}

// QueryRecord is the immutable audit row written once per top-level
// retrieval call.
type QueryRecord struct {
	QueryID        int64
	Query          string
	TopK           int
	Filters        *Filters
	ResultChunkIDs []int64
	CreatedAt      time.Time
}
