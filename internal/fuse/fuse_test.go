package fuse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmcfar/evidence-mcp/pkg/types"
)

func cand(id int64, score float64) types.Candidate {
	return types.Candidate{ChunkID: id, DocumentID: 1, Text: "text", Score: score}
}

func TestFuseBothEmpty(t *testing.T) {
	res := Fuse(nil, nil, 10, DefaultOptions())
	assert.Equal(t, types.ModeKeyword, res.Mode)
	assert.Empty(t, res.Candidates)
}

func TestFuseSemanticOnlyPassesThrough(t *testing.T) {
	sem := []types.Candidate{cand(1, 0.9), cand(2, 0.8)}
	res := Fuse(sem, nil, 10, DefaultOptions())

	assert.Equal(t, types.ModeSemantic, res.Mode)
	require.Len(t, res.Candidates, 2)
	// Raw scores survive: no RRF applied to a single source.
	assert.Equal(t, 0.9, res.Candidates[0].Score)
}

func TestFuseKeywordOnlyPassesThrough(t *testing.T) {
	lex := []types.Candidate{cand(3, 1.0)}
	res := Fuse(nil, lex, 10, DefaultOptions())

	assert.Equal(t, types.ModeKeyword, res.Mode)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, int64(3), res.Candidates[0].ChunkID)
}

func TestFuseHybridScores(t *testing.T) {
	sem := []types.Candidate{cand(1, 0.9), cand(2, 0.8)}
	lex := []types.Candidate{cand(2, 1.0), cand(3, 0.9)}

	res := Fuse(sem, lex, 10, DefaultOptions())
	require.Equal(t, types.ModeHybrid, res.Mode)
	require.Len(t, res.Candidates, 3)

	byID := map[int64]float64{}
	for _, c := range res.Candidates {
		byID[c.ChunkID] = c.Score
	}

	// k=60, w_sem=1.0, w_lex=0.85, 1-based ranks.
	assert.InDelta(t, 1.0/61.0, byID[1], 1e-12)
	assert.InDelta(t, 1.0/62.0+0.85/61.0, byID[2], 1e-12)
	assert.InDelta(t, 0.85/62.0, byID[3], 1e-12)

	// Chunk 2 appears in both lists so it must rank first.
	assert.Equal(t, int64(2), res.Candidates[0].ChunkID)
}

func TestFuseTruncatesToTopK(t *testing.T) {
	sem := []types.Candidate{cand(1, 0.9), cand(2, 0.8), cand(3, 0.7)}
	lex := []types.Candidate{cand(4, 1.0), cand(5, 0.9)}

	res := Fuse(sem, lex, 2, DefaultOptions())
	assert.Len(t, res.Candidates, 2)
}

func TestFuseDeterministicTieBreak(t *testing.T) {
	// Same rank in disjoint lists with equal weights produces equal fused
	// scores; first-seen order (the semantic list merges first) must win.
	opts := Options{KConstant: 60, SemanticWeight: 1.0, LexicalWeight: 1.0}
	sem := []types.Candidate{cand(10, 0.5)}
	lex := []types.Candidate{cand(20, 0.5)}

	for i := 0; i < 10; i++ {
		res := Fuse(sem, lex, 10, opts)
		require.Len(t, res.Candidates, 2)
		assert.Equal(t, int64(10), res.Candidates[0].ChunkID)
		assert.Equal(t, int64(20), res.Candidates[1].ChunkID)
	}
}

func TestFuseMergesSourceScores(t *testing.T) {
	semScore := 0.77
	lexScore := 0.9

	sem := types.Candidate{ChunkID: 1, DocumentID: 1, Text: "full text", SemanticScore: &semScore}
	lex := types.Candidate{ChunkID: 1, KeywordScore: &lexScore} // lexical row without display fields

	res := Fuse([]types.Candidate{sem}, []types.Candidate{lex}, 10, DefaultOptions())
	require.Len(t, res.Candidates, 1)

	got := res.Candidates[0]
	assert.Equal(t, "full text", got.Text)
	require.NotNil(t, got.SemanticScore)
	require.NotNil(t, got.KeywordScore)
	assert.Equal(t, semScore, *got.SemanticScore)
	assert.Equal(t, lexScore, *got.KeywordScore)
}

func TestFuseSeedsFieldsFromFirstList(t *testing.T) {
	sem := types.Candidate{ChunkID: 1, DocumentID: 7, Title: "from semantic", Text: "sem text"}
	lex := types.Candidate{ChunkID: 1, DocumentID: 7, Title: "from lexical", Text: "lex text"}

	res := Fuse([]types.Candidate{sem}, []types.Candidate{lex}, 10, DefaultOptions())
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "from semantic", res.Candidates[0].Title)
	assert.Equal(t, "sem text", res.Candidates[0].Text)
}

func TestFuseZeroKConstantFallsBack(t *testing.T) {
	sem := []types.Candidate{cand(1, 0.9)}
	lex := []types.Candidate{cand(2, 1.0)}

	res := Fuse(sem, lex, 10, Options{SemanticWeight: 1.0, LexicalWeight: 0.85})
	require.Len(t, res.Candidates, 2)
	assert.InDelta(t, 1.0/61.0, res.Candidates[0].Score, 1e-12)
}
