package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmcfar/evidence-mcp/internal/provider"
	"github.com/tmcfar/evidence-mcp/pkg/types"
)

// mockJudge implements the Judge interface for testing
type mockJudge struct {
	judgeFunc func(ctx context.Context, query string, candidates []provider.JudgeCandidate) ([]provider.Judgement, error)
	available bool
}

func (m *mockJudge) Judge(ctx context.Context, query string, candidates []provider.JudgeCandidate) ([]provider.Judgement, error) {
	if m.judgeFunc != nil {
		return m.judgeFunc(ctx, query, candidates)
	}
	return nil, nil
}

func (m *mockJudge) Rewrite(ctx context.Context, query, topic string) (string, error) {
	return query, nil
}

func (m *mockJudge) Available() bool { return m.available }
func (m *mockJudge) Model() string   { return "mock-judge" }

func cands(n int) []types.Candidate {
	out := make([]types.Candidate, n)
	for i := range out {
		out[i] = types.Candidate{
			ChunkID: int64(i + 1),
			Text:    "candidate text",
			Score:   1.0 - float64(i)*0.01, // fused order: 1, 2, 3, ...
		}
	}
	return out
}

func TestRerankPolicyOff(t *testing.T) {
	r := New(&mockJudge{available: true}, Config{Policy: PolicyOff}, nil)

	out, debug := r.Rerank(context.Background(), "q", cands(10), 3)
	assert.Len(t, out, 3)
	assert.False(t, debug.Attempted)
	assert.Equal(t, "policy_off", debug.Skipped)
}

func TestRerankNilJudge(t *testing.T) {
	r := New(nil, DefaultConfig(), nil)

	out, debug := r.Rerank(context.Background(), "q", cands(10), 3)
	assert.Len(t, out, 3)
	assert.Equal(t, "judge_unavailable", debug.Skipped)
}

func TestRerankAutoSkipsUnavailableJudge(t *testing.T) {
	r := New(&mockJudge{available: false}, DefaultConfig(), nil)

	out, debug := r.Rerank(context.Background(), "q", cands(10), 3)
	assert.Len(t, out, 3)
	assert.Equal(t, "judge_unavailable", debug.Skipped)
}

func TestRerankSkipsWhenTopKExceedsCap(t *testing.T) {
	r := New(&mockJudge{available: true}, DefaultConfig(), nil)

	out, debug := r.Rerank(context.Background(), "q", cands(40), 30)
	assert.Len(t, out, 30)
	assert.Equal(t, "top_k_exceeds_cap", debug.Skipped)
}

func TestRerankSkipsWhenNothingToReorder(t *testing.T) {
	r := New(&mockJudge{available: true}, DefaultConfig(), nil)

	out, debug := r.Rerank(context.Background(), "q", cands(3), 5)
	assert.Len(t, out, 3)
	assert.Equal(t, "nothing_to_reorder", debug.Skipped)
}

func TestRerankReorders(t *testing.T) {
	judge := &mockJudge{
		available: true,
		judgeFunc: func(ctx context.Context, query string, candidates []provider.JudgeCandidate) ([]provider.Judgement, error) {
			// Invert the fused order.
			out := make([]provider.Judgement, len(candidates))
			for i, c := range candidates {
				out[i] = provider.Judgement{ID: c.ID, Score: float64(c.ID)}
			}
			return out, nil
		},
	}
	r := New(judge, DefaultConfig(), nil)

	out, debug := r.Rerank(context.Background(), "q", cands(10), 3)
	require.Len(t, out, 3)

	assert.True(t, debug.Attempted)
	assert.True(t, debug.Applied)
	assert.Equal(t, 10, debug.Judged)

	assert.Equal(t, int64(10), out[0].ChunkID)
	assert.Equal(t, int64(9), out[1].ChunkID)
	assert.Equal(t, int64(8), out[2].ChunkID)

	require.NotNil(t, out[0].RerankScore)
	assert.Equal(t, 10.0, *out[0].RerankScore)
}

func TestRerankFailsOpen(t *testing.T) {
	judge := &mockJudge{
		available: true,
		judgeFunc: func(context.Context, string, []provider.JudgeCandidate) ([]provider.Judgement, error) {
			return nil, errors.New("provider exploded")
		},
	}
	r := New(judge, DefaultConfig(), nil)

	input := cands(10)
	out, debug := r.Rerank(context.Background(), "q", input, 3)

	require.Len(t, out, 3)
	// Fused order is preserved on failure.
	assert.Equal(t, input[0].ChunkID, out[0].ChunkID)
	assert.Equal(t, input[1].ChunkID, out[1].ChunkID)

	assert.True(t, debug.Attempted)
	assert.False(t, debug.Applied)
	assert.Contains(t, debug.Error, "provider exploded")
}

func TestRerankDropsInventedIDs(t *testing.T) {
	judge := &mockJudge{
		available: true,
		judgeFunc: func(ctx context.Context, query string, candidates []provider.JudgeCandidate) ([]provider.Judgement, error) {
			return []provider.Judgement{
				{ID: 999, Score: 10}, // not a real candidate
				{ID: candidates[1].ID, Score: 5},
			}, nil
		},
	}
	r := New(judge, DefaultConfig(), nil)

	out, debug := r.Rerank(context.Background(), "q", cands(6), 3)
	require.Len(t, out, 3)

	assert.Equal(t, 1, debug.Judged)
	// The one judged candidate leads; unjudged ones follow in fused order.
	assert.Equal(t, int64(2), out[0].ChunkID)
	assert.Equal(t, int64(1), out[1].ChunkID)
	assert.Equal(t, int64(3), out[2].ChunkID)
	assert.Nil(t, out[1].RerankScore)
}

func TestRerankPartialJudgementsDeterministic(t *testing.T) {
	judge := &mockJudge{
		available: true,
		judgeFunc: func(ctx context.Context, query string, candidates []provider.JudgeCandidate) ([]provider.Judgement, error) {
			// Equal judge scores: fused score then position must break ties.
			return []provider.Judgement{
				{ID: candidates[2].ID, Score: 7},
				{ID: candidates[0].ID, Score: 7},
			}, nil
		},
	}
	r := New(judge, DefaultConfig(), nil)

	for i := 0; i < 5; i++ {
		out, _ := r.Rerank(context.Background(), "q", cands(6), 4)
		require.Len(t, out, 4)
		assert.Equal(t, int64(1), out[0].ChunkID) // higher fused score wins the tie
		assert.Equal(t, int64(3), out[1].ChunkID)
		assert.Equal(t, int64(2), out[2].ChunkID)
	}
}

func TestRerankCapsCandidateSlice(t *testing.T) {
	var judged int
	judge := &mockJudge{
		available: true,
		judgeFunc: func(ctx context.Context, query string, candidates []provider.JudgeCandidate) ([]provider.Judgement, error) {
			judged = len(candidates)
			return nil, nil
		},
	}
	r := New(judge, DefaultConfig(), nil)

	r.Rerank(context.Background(), "q", cands(50), 3)
	assert.Equal(t, 24, judged)
}

func TestRerankTruncatesCandidateText(t *testing.T) {
	long := make([]rune, 2000)
	for i := range long {
		long[i] = 'à' // multibyte, truncation must not split runes
	}

	var gotLen int
	judge := &mockJudge{
		available: true,
		judgeFunc: func(ctx context.Context, query string, candidates []provider.JudgeCandidate) ([]provider.Judgement, error) {
			gotLen = len([]rune(candidates[0].Text))
			return nil, nil
		},
	}
	r := New(judge, DefaultConfig(), nil)

	input := cands(6)
	input[0].Text = string(long)
	r.Rerank(context.Background(), "q", input, 3)

	assert.Equal(t, 850, gotLen)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo world", 5))
	assert.Equal(t, "short", truncateRunes("short", 100))
	assert.Equal(t, "đệ q", truncateRunes("đệ quy", 4))
}
