package lexical

import (
	"context"
	"log/slog"
	"sort"
	"unicode/utf8"

	"github.com/tmcfar/evidence-mcp/internal/config"
	"github.com/tmcfar/evidence-mcp/internal/store"
	"github.com/tmcfar/evidence-mcp/pkg/types"
)

// minPrefilterTokenLen is the rune length below which a token is too common
// to be a useful containment prefilter on its own.
const minPrefilterTokenLen = 4

// Scorer performs keyword retrieval over the chunk store.
type Scorer struct {
	store          store.Store
	relativeCutoff float64
	maxPool        int
	logger         *slog.Logger
}

// New creates a Scorer backed by the given chunk store.
func New(st store.Store, cfg config.LexicalConfig, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		store:          st,
		relativeCutoff: cfg.RelativeCutoff,
		maxPool:        cfg.MaxPool,
		logger:         logger,
	}
}

// Retrieve returns the topK highest-scoring chunks for the query.
//
// An inexpensive SQL containment prefilter bounds the candidate pool, every
// survivor is scored exactly, and candidates below relativeCutoff*best are
// dropped before truncation so a long low-quality tail never surfaces.
func (s *Scorer) Retrieve(ctx context.Context, query string, topK int, filters *types.Filters) ([]types.Candidate, error) {
	if topK <= 0 {
		return nil, nil
	}

	terms := s.prefilterTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	pool, err := s.store.PrefilterChunks(ctx, terms, filters, s.maxPool)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, nil
	}

	scored := make([]types.Candidate, 0, len(pool))
	best := 0.0
	for i := range pool {
		score := Score(query, pool[i].Text)
		if score <= 0 {
			continue
		}
		cand := types.FromChunk(&pool[i], score)
		cand.KeywordScore = types.Float64Ptr(score)
		scored = append(scored, cand)
		if score > best {
			best = score
		}
	}
	if len(scored) == 0 {
		return nil, nil
	}

	cutoff := s.relativeCutoff * best
	kept := scored[:0]
	for _, cand := range scored {
		if cand.Score >= cutoff {
			kept = append(kept, cand)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].ChunkID < kept[j].ChunkID
	})

	if len(kept) > topK {
		kept = kept[:topK]
	}

	s.logger.Debug("keyword_retrieval",
		slog.Int("pool", len(pool)),
		slog.Int("kept", len(kept)),
		slog.Float64("best", best))

	return kept, nil
}

// prefilterTerms picks the cheap containment terms used to bound the pool:
// longer tokens when the query has them, the full normalized phrase when it
// does not, or the single token itself for one-word queries.
func (s *Scorer) prefilterTerms(query string) []string {
	qNorm := Normalize(query)
	tokens := DistinctTokens(qNorm)
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) == 1 {
		return tokens
	}

	var longer []string
	for _, tok := range tokens {
		if utf8.RuneCountInString(tok) >= minPrefilterTokenLen {
			longer = append(longer, tok)
		}
	}
	if len(longer) > 0 {
		return longer
	}
	return []string{qNorm}
}
