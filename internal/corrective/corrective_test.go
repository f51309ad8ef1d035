package corrective

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmcfar/evidence-mcp/internal/provider"
	"github.com/tmcfar/evidence-mcp/pkg/types"
)

// mockJudge implements the Judge interface for testing rewrites
type mockJudge struct {
	rewriteFunc func(ctx context.Context, query, topic string) (string, error)
	available   bool
}

func (m *mockJudge) Judge(context.Context, string, []provider.JudgeCandidate) ([]provider.Judgement, error) {
	return nil, nil
}

func (m *mockJudge) Rewrite(ctx context.Context, query, topic string) (string, error) {
	if m.rewriteFunc != nil {
		return m.rewriteFunc(ctx, query, topic)
	}
	return query, nil
}

func (m *mockJudge) Available() bool { return m.available }
func (m *mockJudge) Model() string   { return "mock-judge" }

func resultWith(texts ...string) *types.RetrievalResult {
	chunks := make([]types.Candidate, len(texts))
	for i, text := range texts {
		chunks[i] = types.Candidate{ChunkID: int64(i + 1), Text: text}
	}
	return &types.RetrievalResult{Mode: types.ModeKeyword, Chunks: chunks}
}

func TestRunAcceptsRelevantResults(t *testing.T) {
	loop := New(nil, DefaultConfig(), nil)

	calls := 0
	res, err := loop.Run(context.Background(), "leader election", "", func(ctx context.Context, query string) (*types.RetrievalResult, error) {
		calls++
		return resultWith("raft leader election explained"), nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	require.Len(t, res.Corrective.Attempts, 1)
	assert.Equal(t, types.CorrectiveAccept, res.Corrective.Attempts[0].Action)
	assert.True(t, res.Corrective.Enabled)
}

func TestRunSingleTokenQuerySkipsGrading(t *testing.T) {
	loop := New(nil, DefaultConfig(), nil)

	res, err := loop.Run(context.Background(), "recursion", "", func(ctx context.Context, query string) (*types.RetrievalResult, error) {
		// Results are irrelevant to the query; grading would reject them.
		return resultWith("unrelated text entirely"), nil
	})
	require.NoError(t, err)

	require.Len(t, res.Corrective.Attempts, 1)
	assert.Equal(t, types.CorrectiveAccept, res.Corrective.Attempts[0].Action)
}

func TestRunStopsOnEmptyResults(t *testing.T) {
	loop := New(nil, DefaultConfig(), nil)

	calls := 0
	res, err := loop.Run(context.Background(), "leader election", "", func(ctx context.Context, query string) (*types.RetrievalResult, error) {
		calls++
		return resultWith(), nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	require.Len(t, res.Corrective.Attempts, 1)
	assert.Equal(t, types.CorrectiveStopEmpty, res.Corrective.Attempts[0].Action)
}

func TestRunRewritesThenAccepts(t *testing.T) {
	judge := &mockJudge{
		available: true,
		rewriteFunc: func(ctx context.Context, query, topic string) (string, error) {
			return "raft leader election", nil
		},
	}
	loop := New(judge, DefaultConfig(), nil)

	var queries []string
	res, err := loop.Run(context.Background(), "thing about the voting computers", "", func(ctx context.Context, query string) (*types.RetrievalResult, error) {
		queries = append(queries, query)
		if len(queries) == 1 {
			return resultWith("completely unrelated chunk"), nil
		}
		return resultWith("raft leader election explained"), nil
	})
	require.NoError(t, err)

	require.Equal(t, []string{"thing about the voting computers", "raft leader election"}, queries)
	require.Len(t, res.Corrective.Attempts, 2)
	assert.Equal(t, types.CorrectiveRewrite, res.Corrective.Attempts[0].Action)
	assert.Equal(t, types.CorrectiveAccept, res.Corrective.Attempts[1].Action)

	// The payload is the last iteration's result.
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "raft leader election explained", res.Chunks[0].Text)
}

func TestRunStopsAtMaxIters(t *testing.T) {
	judge := &mockJudge{
		available: true,
		rewriteFunc: func(ctx context.Context, query, topic string) (string, error) {
			return query + " extra", nil
		},
	}
	loop := New(judge, Config{MaxIters: 3, MinRelevance: 0.18}, nil)

	calls := 0
	res, err := loop.Run(context.Background(), "leader election", "", func(ctx context.Context, query string) (*types.RetrievalResult, error) {
		calls++
		return resultWith("nothing relevant here at all"), nil
	})
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	require.Len(t, res.Corrective.Attempts, 3)
	assert.Equal(t, types.CorrectiveStopMaxIters, res.Corrective.Attempts[2].Action)
}

func TestRunStopsOnIdenticalRewrite(t *testing.T) {
	judge := &mockJudge{
		available: true,
		rewriteFunc: func(ctx context.Context, query, topic string) (string, error) {
			return strings.ToUpper(query), nil // case-only change counts as identical
		},
	}
	loop := New(judge, DefaultConfig(), nil)

	calls := 0
	res, err := loop.Run(context.Background(), "leader election", "", func(ctx context.Context, query string) (*types.RetrievalResult, error) {
		calls++
		return resultWith("nothing relevant here at all"), nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	require.Len(t, res.Corrective.Attempts, 1)
	assert.Equal(t, types.CorrectiveStopSameQuery, res.Corrective.Attempts[0].Action)
}

func TestRunFallsBackToHeuristicOnRewriteError(t *testing.T) {
	judge := &mockJudge{
		available: true,
		rewriteFunc: func(ctx context.Context, query, topic string) (string, error) {
			return "", errors.New("provider down")
		},
	}
	loop := New(judge, DefaultConfig(), nil)

	var queries []string
	_, err := loop.Run(context.Background(), "what is the best hashing strategy", "", func(ctx context.Context, query string) (*types.RetrievalResult, error) {
		queries = append(queries, query)
		return resultWith("nothing relevant here at all"), nil
	})
	require.NoError(t, err)

	require.Len(t, queries, 2)
	assert.Equal(t, HeuristicRewrite("what is the best hashing strategy", ""), queries[1])
}

func TestRunPropagatesRetrievalError(t *testing.T) {
	loop := New(nil, DefaultConfig(), nil)

	boom := errors.New("store gone")
	_, err := loop.Run(context.Background(), "leader election", "", func(ctx context.Context, query string) (*types.RetrievalResult, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunClampsConfig(t *testing.T) {
	loop := New(nil, Config{MaxIters: 99, MinRelevance: -1}, nil)
	assert.Equal(t, 5, loop.cfg.MaxIters)
	assert.Equal(t, 0.18, loop.cfg.MinRelevance)

	loop = New(nil, Config{MaxIters: 0}, nil)
	assert.Equal(t, 1, loop.cfg.MaxIters)
}

func TestGrade(t *testing.T) {
	chunks := []types.Candidate{
		{Text: "raft leader election explained"}, // 1.0
		{Text: "the leader runs an election"},    // 0.9
		{Text: "nothing relevant"},               // 0.0
		{Text: "more filler"},                    // 0.0
	}

	best, avgTop := grade("leader election", chunks)
	assert.InDelta(t, 1.0, best, 1e-9)
	assert.InDelta(t, (1.0+0.9+0.0)/3.0, avgTop, 1e-9)
}

func TestHeuristicRewrite(t *testing.T) {
	t.Run("strips filler and appends qualifiers", func(t *testing.T) {
		got := HeuristicRewrite("what is the best hashing strategy", "")
		assert.Equal(t, "best hashing strategy definition concept", got)
	})

	t.Run("prepends topic when absent", func(t *testing.T) {
		got := HeuristicRewrite("how does log compaction work", "raft")
		assert.Equal(t, "raft log compaction work definition concept", got)
	})

	t.Run("does not duplicate topic", func(t *testing.T) {
		got := HeuristicRewrite("raft log compaction", "raft")
		assert.Equal(t, "raft log compaction definition concept", got)
	})

	t.Run("stable under reapplication", func(t *testing.T) {
		once := HeuristicRewrite("what is the best hashing strategy", "storage")
		twice := HeuristicRewrite(once, "storage")
		assert.Equal(t, once, twice)
	})

	t.Run("all filler keeps original tokens", func(t *testing.T) {
		got := HeuristicRewrite("what is this", "")
		assert.Equal(t, "what is this definition concept", got)
	})
}
