// Package engine orchestrates one retrieval call: lexical and vector
// retrieval in parallel, rank fusion, optional reranking, and the query
// audit log. It also fronts index maintenance for the ingestion collaborator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tmcfar/evidence-mcp/internal/config"
	"github.com/tmcfar/evidence-mcp/internal/corrective"
	"github.com/tmcfar/evidence-mcp/internal/fuse"
	"github.com/tmcfar/evidence-mcp/internal/lexical"
	"github.com/tmcfar/evidence-mcp/internal/rerank"
	"github.com/tmcfar/evidence-mcp/internal/store"
	"github.com/tmcfar/evidence-mcp/internal/vecindex"
	"github.com/tmcfar/evidence-mcp/pkg/types"
)

// Request parameterizes one retrieval call.
type Request struct {
	Query   string
	TopK    int
	Filters *types.Filters
	// Topic optionally anchors heuristic query rewrites in the
	// corrective variant. Ignored by plain Retrieve.
	Topic string
}

// Limits applied by validate.
const (
	DefaultTopK = 10
	MaxTopK     = 100
)

// Engine wires the retrieval pipeline together. All dependencies are
// injected at construction; the engine itself is stateless per call.
type Engine struct {
	store    store.Store
	lex      *lexical.Scorer
	index    *vecindex.Index
	reranker *rerank.Reranker
	loop     *corrective.Loop

	fuseOpts      fuse.Options
	overfetch     int
	maxCandidateK int
	logger        *slog.Logger
}

// New creates an Engine from its already-constructed parts.
func New(st store.Store, lex *lexical.Scorer, index *vecindex.Index, reranker *rerank.Reranker, loop *corrective.Loop, cfg *config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		lex:      lex,
		index:    index,
		reranker: reranker,
		loop:     loop,
		fuseOpts: fuse.Options{
			KConstant:      cfg.RRF.KConstant,
			SemanticWeight: cfg.RRF.SemanticWeight,
			LexicalWeight:  cfg.RRF.LexicalWeight,
		},
		overfetch:     cfg.Retrieval.OverfetchMultiplier,
		maxCandidateK: cfg.Retrieval.MaxCandidateK,
		logger:        logger,
	}
}

// Retrieve performs one hybrid retrieval call and writes one query log
// record. Vector-side failures never abort the call: the engine falls back
// to keyword-only mode and reports the degradation in debug.
func (e *Engine) Retrieve(ctx context.Context, req Request) (*types.RetrievalResult, error) {
	res, err := e.retrieveOnce(ctx, req)
	if err != nil {
		return nil, err
	}
	res.QueryID = e.logQuery(ctx, req, res.Chunks)
	return res, nil
}

// RetrieveCorrective wraps Retrieve in the bounded corrective loop. The
// query log still gets exactly one record, keyed by the caller's original
// query and the final result set.
func (e *Engine) RetrieveCorrective(ctx context.Context, req Request) (*types.CorrectiveResult, error) {
	if e.loop == nil {
		res, err := e.Retrieve(ctx, req)
		if err != nil {
			return nil, err
		}
		return &types.CorrectiveResult{
			RetrievalResult: *res,
			Corrective:      types.CorrectiveInfo{Enabled: false},
		}, nil
	}

	res, err := e.loop.Run(ctx, req.Query, req.Topic, func(ctx context.Context, query string) (*types.RetrievalResult, error) {
		iterReq := req
		iterReq.Query = query
		return e.retrieveOnce(ctx, iterReq)
	})
	if err != nil {
		return nil, err
	}

	res.QueryID = e.logQuery(ctx, req, res.Chunks)
	return res, nil
}

// retrieveOnce is one pass of the pipeline without audit logging, so the
// corrective loop can iterate without producing per-iteration log rows.
func (e *Engine) retrieveOnce(ctx context.Context, req Request) (*types.RetrievalResult, error) {
	if err := e.validate(&req); err != nil {
		return nil, err
	}

	retrievalID := uuid.NewString()
	started := time.Now()

	candidateK := req.TopK * e.overfetch
	if candidateK > e.maxCandidateK {
		candidateK = e.maxCandidateK
	}
	if candidateK < req.TopK {
		candidateK = req.TopK
	}

	indexStatus := e.index.Status()
	debug := types.RetrievalDebug{
		SemanticEnabled: indexStatus.Enabled,
		CandidateK:      candidateK,
	}

	var semCands, lexCands []types.Candidate
	var semErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lexCands, err = e.lex.Retrieve(gctx, req.Query, candidateK, req.Filters)
		if err != nil {
			return fmt.Errorf("keyword retrieval: %w", err)
		}
		return nil
	})
	if indexStatus.Enabled {
		g.Go(func() error {
			// Vector failures degrade to keyword-only mode instead of
			// failing the call.
			semCands, semErr = e.index.Search(gctx, req.Query, candidateK, req.Filters)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if semErr != nil {
		debug.SemanticError = semErr.Error()
		semCands = nil
		e.logger.Warn("semantic_search_degraded",
			slog.String("retrieval_id", retrievalID),
			slog.String("kind", string(types.ProviderErrKind(semErr))),
			slog.String("error", semErr.Error()))
	}

	debug.SemanticCandidates = len(semCands)
	debug.KeywordCandidates = len(lexCands)
	debug.SemanticUsed = len(semCands) > 0
	debug.KeywordUsed = len(lexCands) > 0

	// Fuse over the full over-fetched pool; final truncation to top_k
	// happens in the reranker (or its pass-through path).
	fused := fuse.Fuse(semCands, lexCands, candidateK, e.fuseOpts)

	chunks, rerankDebug := e.reranker.Rerank(ctx, req.Query, fused.Candidates, req.TopK)
	debug.Rerank = rerankDebug

	e.logger.Info("retrieval_completed",
		slog.String("retrieval_id", retrievalID),
		slog.String("mode", string(fused.Mode)),
		slog.Int("results", len(chunks)),
		slog.Int("semantic_candidates", debug.SemanticCandidates),
		slog.Int("keyword_candidates", debug.KeywordCandidates),
		slog.Int64("duration_ms", time.Since(started).Milliseconds()))

	return &types.RetrievalResult{
		Mode:   fused.Mode,
		Query:  req.Query,
		TopK:   req.TopK,
		Chunks: chunks,
		Debug:  debug,
	}, nil
}

// logQuery writes the audit record for a top-level call. Audit failures
// are logged, not surfaced: they must never fail a retrieval that already
// produced results.
func (e *Engine) logQuery(ctx context.Context, req Request, chunks []types.Candidate) int64 {
	ids := make([]int64, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ChunkID
	}

	queryID, err := e.store.LogQuery(ctx, &types.QueryRecord{
		Query:          req.Query,
		TopK:           req.TopK,
		Filters:        req.Filters,
		ResultChunkIDs: ids,
	})
	if err != nil {
		e.logger.Warn("query_log_write_failed", slog.String("error", err.Error()))
		return 0
	}
	return queryID
}

func (e *Engine) validate(req *Request) error {
	if req.Query == "" {
		return errors.New("query cannot be empty")
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.TopK > MaxTopK {
		req.TopK = MaxTopK
	}
	return nil
}

// AddChunks stores a batch handed over by the ingestion collaborator and,
// when semantic retrieval is enabled, indexes the new ones.
func (e *Engine) AddChunks(ctx context.Context, chunks []types.Chunk) (*vecindex.AddResult, error) {
	if err := e.store.UpsertChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}
	if !e.index.Status().Enabled {
		return nil, nil
	}
	return e.index.Add(ctx, chunks)
}

// Rebuild re-embeds the entire chunk collection and replaces the index.
func (e *Engine) Rebuild(ctx context.Context) (*vecindex.RebuildResult, error) {
	chunks, err := e.store.ListChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return e.index.Rebuild(ctx, chunks)
}

// EngineStatus reports the engine's health for the status surface.
type EngineStatus struct {
	ProviderAvailable bool            `json:"provider_available"`
	Index             vecindex.Status `json:"index"`
	StoredChunks      int             `json:"stored_chunks"`
	BuildMode         string          `json:"build_mode"`
}

// Status returns the combined engine status. Never fails on index state;
// store errors surface since status is a direct read.
func (e *Engine) Status(ctx context.Context) (*EngineStatus, error) {
	count, err := e.store.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	idx := e.index.Status()
	return &EngineStatus{
		ProviderAvailable: idx.Enabled,
		Index:             idx,
		StoredChunks:      count,
		BuildMode:         store.BuildMode,
	}, nil
}

// RecentQueries exposes the query log for the analytics surface.
func (e *Engine) RecentQueries(ctx context.Context, limit int) ([]types.QueryRecord, error) {
	return e.store.RecentQueries(ctx, limit)
}
