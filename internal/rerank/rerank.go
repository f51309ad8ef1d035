// Package rerank implements the judge-based second retrieval stage. The
// judge only reorders a bounded slice of the already-fused ranking; it
// never discovers candidates. Every failure path fails open.
package rerank

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/tmcfar/evidence-mcp/internal/provider"
	"github.com/tmcfar/evidence-mcp/pkg/types"
)

// Policy controls when reranking is attempted.
type Policy string

const (
	PolicyOff    Policy = "off"
	PolicyAlways Policy = "always"
	PolicyAuto   Policy = "auto" // only when the judge reports available
)

// Skip reasons recorded in debug output.
const (
	skipPolicyOff        = "policy_off"
	skipJudgeUnavailable = "judge_unavailable"
	skipTopKExceedsCap   = "top_k_exceeds_cap"
	skipNothingToReorder = "nothing_to_reorder"
)

// unjudgedScore is the sentinel for candidates the judge did not score;
// it sorts after every judged item.
const unjudgedScore = -1.0

// Config bounds the judge call.
type Config struct {
	Policy        Policy
	MaxCandidates int
	MaxChars      int
	Timeout       time.Duration
}

// DefaultConfig returns the standard reranker bounds.
func DefaultConfig() Config {
	return Config{
		Policy:        PolicyAuto,
		MaxCandidates: 24,
		MaxChars:      850,
		Timeout:       20 * time.Second,
	}
}

// Reranker reorders fused candidates using an external relevance judge.
type Reranker struct {
	judge  provider.Judge // nil disables reranking
	cfg    Config
	logger *slog.Logger
}

// New creates a Reranker. A nil judge always passes through.
func New(judge provider.Judge, cfg Config, logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 24
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 850
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Reranker{judge: judge, cfg: cfg, logger: logger}
}

// Rerank returns the candidates reordered by judge relevance, truncated to
// topK. Order is deterministic even on partial judge output: judge score
// descending, then original fused score descending, then original position.
//
// Any judge failure returns the input truncated to topK with the error
// recorded in debug; a reranker failure never fails the retrieval call.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []types.Candidate, topK int) ([]types.Candidate, types.RerankDebug) {
	debug := types.RerankDebug{}
	passThrough := truncate(candidates, topK)

	switch {
	case r.cfg.Policy == PolicyOff:
		debug.Skipped = skipPolicyOff
		return passThrough, debug
	case r.judge == nil,
		r.cfg.Policy == PolicyAuto && !r.judge.Available():
		debug.Skipped = skipJudgeUnavailable
		return passThrough, debug
	case topK > r.cfg.MaxCandidates:
		debug.Skipped = skipTopKExceedsCap
		return passThrough, debug
	case len(candidates) <= topK:
		debug.Skipped = skipNothingToReorder
		return passThrough, debug
	}

	debug.Attempted = true

	slice := candidates
	if len(slice) > r.cfg.MaxCandidates {
		slice = slice[:r.cfg.MaxCandidates]
	}

	judgeCands := make([]provider.JudgeCandidate, len(slice))
	for i, c := range slice {
		judgeCands[i] = provider.JudgeCandidate{
			ID:   c.ChunkID,
			Text: truncateRunes(c.Text, r.cfg.MaxChars),
		}
	}

	judgeCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	judgements, err := r.judge.Judge(judgeCtx, query, judgeCands)
	cancel()
	if err != nil {
		debug.Error = err.Error()
		r.logger.Warn("rerank_failed_passing_through",
			slog.String("error", err.Error()),
			slog.Int("candidates", len(slice)))
		return passThrough, debug
	}

	known := make(map[int64]struct{}, len(slice))
	for _, c := range slice {
		known[c.ChunkID] = struct{}{}
	}

	scores := make(map[int64]float64, len(judgements))
	for _, j := range judgements {
		// Ids the judge invented are dropped rather than trusted.
		if _, ok := known[j.ID]; !ok {
			continue
		}
		scores[j.ID] = j.Score
	}
	debug.Judged = len(scores)

	type ranked struct {
		cand       types.Candidate
		judgeScore float64
		fusedScore float64
		position   int
	}
	order := make([]ranked, len(slice))
	for i, c := range slice {
		js := unjudgedScore
		if s, ok := scores[c.ChunkID]; ok {
			js = s
			c.RerankScore = types.Float64Ptr(s)
		}
		order[i] = ranked{cand: c, judgeScore: js, fusedScore: c.Score, position: i}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].judgeScore != order[j].judgeScore {
			return order[i].judgeScore > order[j].judgeScore
		}
		if order[i].fusedScore != order[j].fusedScore {
			return order[i].fusedScore > order[j].fusedScore
		}
		return order[i].position < order[j].position
	})

	result := make([]types.Candidate, 0, topK)
	for _, r := range order {
		result = append(result, r.cand)
		if len(result) == topK {
			break
		}
	}

	debug.Applied = true
	return result, debug
}

func truncate(list []types.Candidate, topK int) []types.Candidate {
	if topK >= 0 && len(list) > topK {
		return list[:topK]
	}
	return list
}

// truncateRunes cuts s to at most n runes without splitting a character.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
