// Package fuse merges independently-scored candidate lists with Reciprocal
// Rank Fusion. Fusion is pure: one accumulator map per call, nothing shared.
package fuse

import (
	"sort"

	"github.com/tmcfar/evidence-mcp/pkg/types"
)

// Options parameterize RRF. Weights below 1.0 discount a source's votes.
type Options struct {
	KConstant      float64
	SemanticWeight float64
	LexicalWeight  float64
}

// DefaultOptions returns the standard RRF parameterization.
func DefaultOptions() Options {
	return Options{
		KConstant:      60,
		SemanticWeight: 1.0,
		LexicalWeight:  0.85,
	}
}

// Result is a fused ranking plus the mode that produced it.
type Result struct {
	Mode       types.RetrievalMode
	Candidates []types.Candidate
}

// accumulator collects one chunk's fused score and display fields across
// source lists. The first list to mention a chunk seeds the fields; later
// lists fill only what is still empty.
type accumulator struct {
	cand  types.Candidate
	fused float64
	order int // first-seen position, for deterministic ties
}

// Fuse merges a semantic and a lexical ranking into one list of at most
// topK candidates. For a candidate at 1-based rank r in a list weighted w,
// its fused score gains w/(k+r).
//
// When only one source produced results its list passes through unfused
// with the corresponding mode; two empty inputs yield an empty keyword
// result, which is a valid terminal state rather than an error.
func Fuse(semantic, lexical []types.Candidate, topK int, opts Options) Result {
	if opts.KConstant <= 0 {
		opts.KConstant = 60
	}

	switch {
	case len(semantic) == 0 && len(lexical) == 0:
		return Result{Mode: types.ModeKeyword, Candidates: nil}
	case len(lexical) == 0:
		return Result{Mode: types.ModeSemantic, Candidates: truncate(semantic, topK)}
	case len(semantic) == 0:
		return Result{Mode: types.ModeKeyword, Candidates: truncate(lexical, topK)}
	}

	acc := make(map[int64]*accumulator, len(semantic)+len(lexical))
	order := 0

	merge := func(list []types.Candidate, weight float64) {
		for rank, cand := range list {
			a, ok := acc[cand.ChunkID]
			if !ok {
				a = &accumulator{cand: cand, order: order}
				order++
				acc[cand.ChunkID] = a
			} else {
				fillEmpty(&a.cand, &cand)
			}
			a.fused += weight / (opts.KConstant + float64(rank+1))
		}
	}

	merge(semantic, opts.SemanticWeight)
	merge(lexical, opts.LexicalWeight)

	fused := make([]types.Candidate, 0, len(acc))
	orders := make(map[int64]int, len(acc))
	for id, a := range acc {
		a.cand.Score = a.fused
		fused = append(fused, a.cand)
		orders[id] = a.order
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return orders[fused[i].ChunkID] < orders[fused[j].ChunkID]
	})

	return Result{Mode: types.ModeHybrid, Candidates: truncate(fused, topK)}
}

// fillEmpty copies display fields and per-source scores from src into dst
// where dst has none. Raw source scores are never overwritten: each source
// owns its own observability field.
func fillEmpty(dst, src *types.Candidate) {
	if dst.Text == "" {
		dst.Text = src.Text
	}
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if dst.Meta == nil {
		dst.Meta = src.Meta
	}
	if dst.DocumentID == 0 {
		dst.DocumentID = src.DocumentID
	}
	if dst.ChunkIndex == 0 {
		dst.ChunkIndex = src.ChunkIndex
	}
	if dst.SemanticScore == nil {
		dst.SemanticScore = src.SemanticScore
	}
	if dst.KeywordScore == nil {
		dst.KeywordScore = src.KeywordScore
	}
}

func truncate(list []types.Candidate, topK int) []types.Candidate {
	if topK >= 0 && len(list) > topK {
		return list[:topK]
	}
	return list
}
