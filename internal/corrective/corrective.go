// Package corrective wraps one retrieval call in a bounded
// retrieve → grade → rewrite → retry cycle. Grading uses lexical relevance
// of the returned candidates against the current query; rewriting prefers a
// provider-backed rephrase and falls back to a deterministic heuristic.
package corrective

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tmcfar/evidence-mcp/internal/lexical"
	"github.com/tmcfar/evidence-mcp/internal/provider"
	"github.com/tmcfar/evidence-mcp/pkg/types"
)

// RetrieveFunc executes one normal retrieval for the given query. The loop
// owns the query text; everything else (top_k, filters) is captured by the
// caller's closure.
type RetrieveFunc func(ctx context.Context, query string) (*types.RetrievalResult, error)

// Config bounds the loop.
type Config struct {
	MaxIters     int
	MinRelevance float64
	// RewriteTimeout bounds the provider-backed rewrite call; the
	// heuristic fallback is instantaneous.
	RewriteTimeout time.Duration
}

// DefaultConfig returns the standard loop bounds.
func DefaultConfig() Config {
	return Config{
		MaxIters:       2,
		MinRelevance:   0.18,
		RewriteTimeout: 10 * time.Second,
	}
}

// Loop drives corrective retrieval.
type Loop struct {
	judge  provider.Judge // optional, for provider-backed rewrites
	cfg    Config
	logger *slog.Logger
}

// New creates a Loop. A nil judge means every rewrite is heuristic.
func New(judge provider.Judge, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIters < 1 {
		cfg.MaxIters = 1
	}
	if cfg.MaxIters > 5 {
		cfg.MaxIters = 5
	}
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = 0.18
	}
	if cfg.RewriteTimeout <= 0 {
		cfg.RewriteTimeout = 10 * time.Second
	}
	return &Loop{judge: judge, cfg: cfg, logger: logger}
}

// Run executes the state machine
// Retrieving → Grading → {Accept | Rewrite → Retrieving} → Done.
//
// The final payload is exactly the last iteration's retrieval result,
// annotated with the per-iteration trail. topic may be empty; it only
// anchors the heuristic rewrite.
func (l *Loop) Run(ctx context.Context, query, topic string, retrieve RetrieveFunc) (*types.CorrectiveResult, error) {
	info := types.CorrectiveInfo{
		Enabled:      true,
		MaxIters:     l.cfg.MaxIters,
		MinRelevance: l.cfg.MinRelevance,
	}

	current := query
	var last *types.RetrievalResult

	for iter := 1; iter <= l.cfg.MaxIters; iter++ {
		res, err := retrieve(ctx, current)
		if err != nil {
			return nil, err
		}
		last = res

		attempt := types.CorrectiveAttempt{
			Iter:  iter,
			Query: current,
			Mode:  res.Mode,
		}

		// Lexical grading is unreliable below two tokens; a one-token
		// query is always accepted.
		if len(lexical.DistinctTokens(current)) < 2 {
			attempt.Action = types.CorrectiveAccept
			info.Attempts = append(info.Attempts, attempt)
			break
		}

		// No evidence means there is nothing to grade.
		if len(res.Chunks) == 0 {
			attempt.Action = types.CorrectiveStopEmpty
			info.Attempts = append(info.Attempts, attempt)
			break
		}

		best, avgTop := grade(current, res.Chunks)
		attempt.BestRelevance = best
		attempt.AvgTopRelevance = avgTop

		needsCorrection := best < l.cfg.MinRelevance && avgTop < 0.85*l.cfg.MinRelevance
		if !needsCorrection {
			attempt.Action = types.CorrectiveAccept
			info.Attempts = append(info.Attempts, attempt)
			break
		}

		if iter == l.cfg.MaxIters {
			attempt.Action = types.CorrectiveStopMaxIters
			info.Attempts = append(info.Attempts, attempt)
			break
		}

		rewritten := l.rewrite(ctx, current, topic)
		if strings.EqualFold(strings.TrimSpace(rewritten), strings.TrimSpace(current)) {
			attempt.Action = types.CorrectiveStopSameQuery
			info.Attempts = append(info.Attempts, attempt)
			break
		}

		attempt.Action = types.CorrectiveRewrite
		info.Attempts = append(info.Attempts, attempt)

		l.logger.Info("corrective_rewrite",
			slog.Int("iter", iter),
			slog.String("from", current),
			slog.String("to", rewritten),
			slog.Float64("best_relevance", best),
			slog.Float64("avg_top_relevance", avgTop))

		current = rewritten
	}

	return &types.CorrectiveResult{
		RetrievalResult: *last,
		Corrective:      info,
	}, nil
}

// grade computes the best and mean-of-top-3 lexical relevance of the
// candidates against the current query text.
func grade(query string, candidates []types.Candidate) (best, avgTop float64) {
	scores := make([]float64, 0, len(candidates))
	for i := range candidates {
		scores = append(scores, lexical.Score(query, candidates[i].Text))
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))

	best = scores[0]
	n := 3
	if len(scores) < n {
		n = len(scores)
	}
	var sum float64
	for _, s := range scores[:n] {
		sum += s
	}
	avgTop = sum / float64(n)
	return best, avgTop
}

// rewrite asks the judge provider for a rephrase and falls back to the
// heuristic on any failure. Provider failures never abort the loop.
func (l *Loop) rewrite(ctx context.Context, query, topic string) string {
	if l.judge != nil && l.judge.Available() {
		rewriteCtx, cancel := context.WithTimeout(ctx, l.cfg.RewriteTimeout)
		rewritten, err := l.judge.Rewrite(rewriteCtx, query, topic)
		cancel()
		if err == nil && strings.TrimSpace(rewritten) != "" {
			return strings.TrimSpace(rewritten)
		}
		if err != nil {
			l.logger.Warn("provider_rewrite_failed_using_heuristic",
				slog.String("error", err.Error()))
		}
	}
	return HeuristicRewrite(query, topic)
}
