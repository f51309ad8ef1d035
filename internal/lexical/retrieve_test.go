package lexical

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmcfar/evidence-mcp/internal/config"
	"github.com/tmcfar/evidence-mcp/internal/store"
	"github.com/tmcfar/evidence-mcp/pkg/types"
)

// mockStore implements store.Store for testing the retrieval path.
type mockStore struct {
	store.Store
	chunks        []types.Chunk
	prefilterFunc func(ctx context.Context, terms []string, filters *types.Filters, limit int) ([]types.Chunk, error)
	lastTerms     []string
	lastLimit     int
}

func (m *mockStore) PrefilterChunks(ctx context.Context, terms []string, filters *types.Filters, limit int) ([]types.Chunk, error) {
	m.lastTerms = terms
	m.lastLimit = limit
	if m.prefilterFunc != nil {
		return m.prefilterFunc(ctx, terms, filters, limit)
	}
	return m.chunks, nil
}

func newTestScorer(st store.Store) *Scorer {
	return New(st, config.LexicalConfig{RelativeCutoff: 0.60, MaxPool: 1200}, nil)
}

func TestRetrieveOrdersByScore(t *testing.T) {
	st := &mockStore{chunks: []types.Chunk{
		{ChunkID: 1, DocumentID: 1, Text: "the leader was reelected"},
		{ChunkID: 2, DocumentID: 1, Text: "raft leader election explained"},
		{ChunkID: 3, DocumentID: 1, Text: "the leader runs an election"},
	}}

	results, err := newTestScorer(st).Retrieve(context.Background(), "leader election", 10, nil)
	require.NoError(t, err)

	require.Len(t, results, 2) // chunk 1 scores 0.45, below 0.60*1.0 cutoff
	assert.Equal(t, int64(2), results[0].ChunkID)
	assert.Equal(t, int64(3), results[1].ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)

	require.NotNil(t, results[0].KeywordScore)
	assert.InDelta(t, 1.0, *results[0].KeywordScore, 1e-9)
}

func TestRetrieveRelativeCutoff(t *testing.T) {
	// All chunks score identically, so the cutoff keeps everything.
	st := &mockStore{chunks: []types.Chunk{
		{ChunkID: 1, DocumentID: 1, Text: "cache invalidation"},
		{ChunkID: 2, DocumentID: 1, Text: "cache warming"},
		{ChunkID: 3, DocumentID: 1, Text: "cache eviction"},
	}}

	results, err := newTestScorer(st).Retrieve(context.Background(), "cache", 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestRetrieveTiesBreakByChunkID(t *testing.T) {
	st := &mockStore{chunks: []types.Chunk{
		{ChunkID: 9, DocumentID: 1, Text: "cache notes"},
		{ChunkID: 3, DocumentID: 1, Text: "cache notes"},
		{ChunkID: 7, DocumentID: 1, Text: "cache notes"},
	}}

	results, err := newTestScorer(st).Retrieve(context.Background(), "cache", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, int64(3), results[0].ChunkID)
	assert.Equal(t, int64(7), results[1].ChunkID)
	assert.Equal(t, int64(9), results[2].ChunkID)
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	chunks := make([]types.Chunk, 20)
	for i := range chunks {
		chunks[i] = types.Chunk{ChunkID: int64(i + 1), DocumentID: 1, Text: "cache entry"}
	}
	st := &mockStore{chunks: chunks}

	results, err := newTestScorer(st).Retrieve(context.Background(), "cache", 5, nil)
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestRetrieveDropsZeroScores(t *testing.T) {
	st := &mockStore{chunks: []types.Chunk{
		{ChunkID: 1, DocumentID: 1, Text: "completely unrelated text"},
	}}

	results, err := newTestScorer(st).Retrieve(context.Background(), "cache", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveEmptyQuery(t *testing.T) {
	st := &mockStore{}
	results, err := newTestScorer(st).Retrieve(context.Background(), "   ", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrievePropagatesStoreError(t *testing.T) {
	boom := errors.New("disk on fire")
	st := &mockStore{prefilterFunc: func(context.Context, []string, *types.Filters, int) ([]types.Chunk, error) {
		return nil, boom
	}}

	_, err := newTestScorer(st).Retrieve(context.Background(), "cache", 10, nil)
	assert.ErrorIs(t, err, boom)
}

func TestPrefilterTerms(t *testing.T) {
	s := newTestScorer(&mockStore{})

	tests := []struct {
		name     string
		query    string
		expected []string
	}{
		{"single token passes through", "go", []string{"go"}},
		{"long tokens only", "how does cache eviction work", []string{"does", "cache", "eviction", "work"}},
		{"all short falls back to phrase", "is it ok", []string{"is it ok"}},
		{"empty", " . ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, s.prefilterTerms(tt.query))
		})
	}
}

func TestRetrievePassesPoolLimit(t *testing.T) {
	st := &mockStore{chunks: []types.Chunk{{ChunkID: 1, DocumentID: 1, Text: "cache"}}}
	_, err := newTestScorer(st).Retrieve(context.Background(), "cache", 3, nil)
	require.NoError(t, err)
	assert.Equal(t, 1200, st.lastLimit)
	assert.Equal(t, []string{"cache"}, st.lastTerms)
}
