package mcpsrv

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmcfar/evidence-mcp/internal/config"
	"github.com/tmcfar/evidence-mcp/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	// Ensure provider auto-detection stays disabled.
	t.Setenv(config.EnvOpenAIAPIKey, "")
	t.Setenv(config.EnvJinaAPIKey, "")

	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	srv, err := NewServer(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.store.Close() })
	return srv
}

func TestNewServer(t *testing.T) {
	srv := newTestServer(t)
	assert.NotNil(t, srv.mcp)
	assert.NotNil(t, srv.Engine())
}

func TestToolDefinitions(t *testing.T) {
	retrieve := retrieveTool()
	assert.Equal(t, "retrieve", retrieve.Name)
	assert.Equal(t, []string{"query"}, retrieve.InputSchema.Required)
	assert.Contains(t, retrieve.InputSchema.Properties, "top_k")
	assert.Contains(t, retrieve.InputSchema.Properties, "corrective")

	add := addChunksTool()
	assert.Equal(t, "add_chunks", add.Name)
	assert.Equal(t, []string{"chunks"}, add.InputSchema.Required)

	assert.Equal(t, "rebuild_index", rebuildIndexTool().Name)
	assert.Equal(t, "index_status", indexStatusTool().Name)
	assert.Equal(t, "recent_queries", recentQueriesTool().Name)
}

func TestParseFilters(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		f, err := parseFilters(map[string]interface{}{})
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("document ids and tags", func(t *testing.T) {
		f, err := parseFilters(map[string]interface{}{
			"filters": map[string]interface{}{
				"document_ids": []interface{}{float64(1), float64(2)},
				"tags":         []interface{}{"raft"},
			},
		})
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, []int64{1, 2}, f.DocumentIDs)
		assert.Equal(t, []string{"raft"}, f.Tags)
	})

	t.Run("empty filters collapse to nil", func(t *testing.T) {
		f, err := parseFilters(map[string]interface{}{
			"filters": map[string]interface{}{},
		})
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("wrong element type", func(t *testing.T) {
		_, err := parseFilters(map[string]interface{}{
			"filters": map[string]interface{}{
				"document_ids": []interface{}{"not a number"},
			},
		})
		assert.Error(t, err)
	})
}

func TestParseChunks(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		chunks, err := parseChunks([]interface{}{
			map[string]interface{}{
				"chunk_id":    float64(1),
				"document_id": float64(10),
				"title":       "Notes",
				"chunk_index": float64(0),
				"text":        "some text",
				"tags":        []interface{}{"a", "b"},
				"meta":        map[string]interface{}{"lang": "en"},
			},
		})
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, int64(1), chunks[0].ChunkID)
		assert.Equal(t, []string{"a", "b"}, chunks[0].Tags)
		assert.Equal(t, map[string]string{"lang": "en"}, chunks[0].Meta)
	})

	t.Run("missing text fails validation", func(t *testing.T) {
		_, err := parseChunks([]interface{}{
			map[string]interface{}{
				"chunk_id":    float64(1),
				"document_id": float64(10),
			},
		})
		assert.Error(t, err)
	})

	t.Run("not an object", func(t *testing.T) {
		_, err := parseChunks([]interface{}{"nope"})
		assert.Error(t, err)
	})
}

func TestRetrievalErrorMapping(t *testing.T) {
	var mcpErr *MCPError

	err := retrievalError(types.ErrNotEnabled)
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeSemanticDisabled, mcpErr.Code)

	err = retrievalError(fmt.Errorf("search: %w", types.ErrNotReady))
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeIndexNotReady, mcpErr.Code)

	providerErr := &types.ProviderError{Kind: types.ProviderRateLimited, Op: "embed", Err: errors.New("429")}
	err = retrievalError(fmt.Errorf("search: %w", providerErr))
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeInternalError, mcpErr.Code)
	data, ok := mcpErr.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "rate_limited", data["provider_error_kind"])

	err = retrievalError(errors.New("plain failure"))
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeInternalError, mcpErr.Code)
}

func TestArgumentHelpers(t *testing.T) {
	args := map[string]interface{}{
		"flag":  true,
		"count": float64(7),
		"name":  "value",
	}

	assert.True(t, getBoolDefault(args, "flag", false))
	assert.False(t, getBoolDefault(args, "missing", false))
	assert.Equal(t, 7, getIntDefault(args, "count", 1))
	assert.Equal(t, 1, getIntDefault(args, "missing", 1))
	assert.Equal(t, "value", getStringDefault(args, "name", "d"))
	assert.Equal(t, "d", getStringDefault(args, "missing", "d"))
}

func TestFormatJSON(t *testing.T) {
	out := formatJSON(map[string]interface{}{"key": "value"})
	assert.Contains(t, out, `"key": "value"`)
}

func TestMCPErrorString(t *testing.T) {
	err := newMCPError(ErrorCodeInvalidParams, "bad params", nil)
	assert.Equal(t, "MCP error -32602: bad params", err.Error())
}
