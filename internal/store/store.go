package store

import (
	"context"
	"errors"

	"github.com/tmcfar/evidence-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// Store persists the chunk collection handed over by the ingestion pipeline
// and the query audit log. It is the only durable state besides the vector
// index artifacts.
type Store interface {
	// Chunk operations
	UpsertChunks(ctx context.Context, chunks []types.Chunk) error
	GetChunk(ctx context.Context, chunkID int64) (*types.Chunk, error)
	GetChunks(ctx context.Context, chunkIDs []int64) (map[int64]types.Chunk, error)
	ListChunks(ctx context.Context) ([]types.Chunk, error)
	CountChunks(ctx context.Context) (int, error)

	// PrefilterChunks returns up to limit chunks whose normalized text
	// contains at least one of the given lowercase terms, restricted by
	// the filters. It bounds the pool the lexical scorer scores exactly.
	PrefilterChunks(ctx context.Context, terms []string, filters *types.Filters, limit int) ([]types.Chunk, error)

	// Query log operations
	LogQuery(ctx context.Context, rec *types.QueryRecord) (int64, error)
	RecentQueries(ctx context.Context, limit int) ([]types.QueryRecord, error)

	// Database operations
	Close() error
}
