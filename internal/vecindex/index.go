// Package vecindex implements an exact nearest-neighbor index over
// unit-normalized embedding vectors, with incremental add, full rebuild,
// dimension-drift recovery and disk persistence.
package vecindex

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/tmcfar/evidence-mcp/internal/provider"
	"github.com/tmcfar/evidence-mcp/internal/store"
	"github.com/tmcfar/evidence-mcp/pkg/types"
)

// Entry is the metadata row for one indexed chunk. Entry i describes row i
// of the vector matrix; the two are maintained in lockstep.
type Entry struct {
	ChunkID     int64  `json:"chunk_id"`
	DocumentID  int64  `json:"document_id"`
	ContentHash string `json:"content_hash"`
}

// Status is a read-only snapshot of the index state.
type Status struct {
	Enabled    bool   `json:"enabled"`
	Ready      bool   `json:"ready"`
	TotalItems int    `json:"total_items"`
	Dimension  int    `json:"dimension"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
}

// AddResult reports the outcome of one Add call.
type AddResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// RebuildResult reports the outcome of one Rebuild call.
type RebuildResult struct {
	Rebuilt int `json:"rebuilt"`
	Added   int `json:"added"`
	Total   int `json:"total"`
}

// Index is the vector index service. All mutation and the metadata-read
// portion of Search run under a single mutex; writes are batched and
// infrequent relative to reads, so a plain mutex is sufficient.
type Index struct {
	embedder provider.Embedder // nil when semantic retrieval is disabled
	store    store.Store
	dir      string
	logger   *slog.Logger

	mu      sync.Mutex
	vectors [][]float32
	entries []Entry
	dim     int
	ready   bool
}

// New creates an Index persisting its artifacts under dir. A nil embedder
// leaves the index permanently disabled: Status works, everything else
// fails with ErrNotEnabled.
func New(embedder provider.Embedder, st store.Store, dir string, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		embedder: embedder,
		store:    st,
		dir:      dir,
		logger:   logger,
	}
}

// IsReady reports whether the index can serve Add and Search calls.
func (x *Index) IsReady() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.ready
}

// Status returns a snapshot of the index state. Never fails.
func (x *Index) Status() Status {
	x.mu.Lock()
	defer x.mu.Unlock()

	st := Status{
		Enabled:    x.embedder != nil,
		Ready:      x.ready,
		TotalItems: len(x.entries),
		Dimension:  x.dim,
	}
	if x.embedder != nil {
		st.Provider = x.embedder.Provider()
		st.Model = x.embedder.Model()
	}
	return st
}

// Add embeds all not-yet-indexed chunks of the batch in bulk and appends
// them. Chunks already present by id are skipped and never re-embedded.
//
// When the provider returns vectors of a different dimension than the
// current index (dimension drift, typically after an embedding model
// switch), the whole index is discarded and rebuilt from the current batch
// only. The data loss is deliberate and visible in the returned counts.
func (x *Index) Add(ctx context.Context, chunks []types.Chunk) (*AddResult, error) {
	if x.embedder == nil {
		return nil, types.ErrNotEnabled
	}

	x.mu.Lock()
	if !x.ready {
		x.mu.Unlock()
		return nil, types.ErrNotReady
	}
	existing := make(map[int64]struct{}, len(x.entries))
	for _, e := range x.entries {
		existing[e.ChunkID] = struct{}{}
	}
	currentDim := x.dim
	x.mu.Unlock()

	var fresh []types.Chunk
	skipped := 0
	seen := make(map[int64]struct{}, len(chunks))
	for i := range chunks {
		id := chunks[i].ChunkID
		if _, dup := seen[id]; dup {
			skipped++
			continue
		}
		seen[id] = struct{}{}
		if _, ok := existing[id]; ok {
			skipped++
			continue
		}
		fresh = append(fresh, chunks[i])
	}

	if len(fresh) == 0 {
		x.mu.Lock()
		total := len(x.entries)
		x.mu.Unlock()
		return &AddResult{Added: 0, Skipped: skipped, Total: total}, nil
	}

	vectors, err := x.embedChunks(ctx, fresh)
	if err != nil {
		return nil, err
	}

	newDim := len(vectors[0])
	if currentDim != 0 && newDim != currentDim {
		return x.resetOnDrift(ctx, chunks, currentDim, newDim)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	// Re-check against entries appended by a concurrent Add between the
	// snapshot above and re-acquiring the lock.
	current := make(map[int64]struct{}, len(x.entries))
	for _, e := range x.entries {
		current[e.ChunkID] = struct{}{}
	}

	added := 0
	for i := range fresh {
		if _, ok := current[fresh[i].ChunkID]; ok {
			skipped++
			continue
		}
		x.vectors = append(x.vectors, vectors[i])
		x.entries = append(x.entries, Entry{
			ChunkID:     fresh[i].ChunkID,
			DocumentID:  fresh[i].DocumentID,
			ContentHash: fresh[i].ContentHash(),
		})
		added++
	}
	if x.dim == 0 && added > 0 {
		x.dim = newDim
	}

	if err := x.saveLocked(); err != nil {
		return nil, fmt.Errorf("persist index: %w", err)
	}

	return &AddResult{Added: added, Skipped: skipped, Total: len(x.entries)}, nil
}

// resetOnDrift discards the index and rebuilds it from the incoming batch.
// Previously indexed chunks outside the batch are gone until the caller
// runs a full rebuild.
func (x *Index) resetOnDrift(ctx context.Context, batch []types.Chunk, oldDim, newDim int) (*AddResult, error) {
	x.mu.Lock()
	dropped := len(x.entries)
	x.mu.Unlock()

	x.logger.Warn("embedding_dimension_drift",
		slog.Int("old_dim", oldDim),
		slog.Int("new_dim", newDim),
		slog.Int("dropped_entries", dropped),
		slog.Int("batch_size", len(batch)))

	unique := dedupeChunks(batch)
	vectors, err := x.embedChunks(ctx, unique)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(unique))
	for i := range unique {
		entries[i] = Entry{
			ChunkID:     unique[i].ChunkID,
			DocumentID:  unique[i].DocumentID,
			ContentHash: unique[i].ContentHash(),
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = vectors
	x.entries = entries
	x.dim = newDim
	x.ready = true

	if err := x.saveLocked(); err != nil {
		return nil, fmt.Errorf("persist index: %w", err)
	}

	return &AddResult{
		Added:   len(unique),
		Skipped: len(batch) - len(unique),
		Total:   len(x.entries),
	}, nil
}

// Rebuild unconditionally re-embeds every chunk and replaces the index and
// metadata atomically in memory, then persists. It is also the repair path
// for an index that loaded in a not-ready state.
func (x *Index) Rebuild(ctx context.Context, all []types.Chunk) (*RebuildResult, error) {
	if x.embedder == nil {
		return nil, types.ErrNotEnabled
	}

	unique := dedupeChunks(all)

	var vectors [][]float32
	var entries []Entry
	dim := 0
	if len(unique) > 0 {
		var err error
		vectors, err = x.embedChunks(ctx, unique)
		if err != nil {
			return nil, err
		}
		dim = len(vectors[0])
		entries = make([]Entry, len(unique))
		for i := range unique {
			entries[i] = Entry{
				ChunkID:     unique[i].ChunkID,
				DocumentID:  unique[i].DocumentID,
				ContentHash: unique[i].ContentHash(),
			}
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = vectors
	x.entries = entries
	x.dim = dim
	x.ready = true

	if err := x.saveLocked(); err != nil {
		return nil, fmt.Errorf("persist index: %w", err)
	}

	x.logger.Info("index_rebuilt",
		slog.Int("total", len(x.entries)),
		slog.Int("dimension", x.dim))

	return &RebuildResult{
		Rebuilt: len(unique),
		Added:   len(unique),
		Total:   len(x.entries),
	}, nil
}

// Search embeds the query and performs an exact inner-product top-K scan.
// K over-fetches (max(topK*10, 50)) to leave room for the document/tag
// post-filter, which joins against the chunk store.
func (x *Index) Search(ctx context.Context, query string, topK int, filters *types.Filters) ([]types.Candidate, error) {
	if x.embedder == nil {
		return nil, types.ErrNotEnabled
	}
	if topK <= 0 {
		return nil, nil
	}

	emb, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	queryVec := l2Normalize(emb.Vector)

	type hit struct {
		chunkID int64
		score   float64
	}

	x.mu.Lock()
	if !x.ready {
		x.mu.Unlock()
		return nil, types.ErrNotReady
	}
	if x.dim == 0 || len(x.entries) == 0 {
		x.mu.Unlock()
		return nil, nil
	}
	if len(queryVec) != x.dim {
		x.mu.Unlock()
		return nil, fmt.Errorf("query embedding dimension %d does not match index dimension %d", len(queryVec), x.dim)
	}

	k := topK * 10
	if k < 50 {
		k = 50
	}

	hits := make([]hit, 0, len(x.entries))
	for i := range x.vectors {
		hits = append(hits, hit{
			chunkID: x.entries[i].ChunkID,
			score:   dot(queryVec, x.vectors[i]),
		})
	}
	x.mu.Unlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].chunkID < hits[j].chunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.chunkID
	}
	chunks, err := x.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("join chunk store: %w", err)
	}

	results := make([]types.Candidate, 0, topK)
	for _, h := range hits {
		chunk, ok := chunks[h.chunkID]
		if !ok {
			// Indexed but no longer in the chunk store; skip.
			continue
		}
		if !filters.MatchChunk(&chunk) {
			continue
		}
		cand := types.FromChunk(&chunk, h.score)
		cand.SemanticScore = types.Float64Ptr(h.score)
		results = append(results, cand)
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// embedChunks batch-embeds chunk texts, splitting into provider-sized
// batches, and L2-normalizes every vector.
func (x *Index) embedChunks(ctx context.Context, chunks []types.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += provider.MaxBatchSize {
		end := start + provider.MaxBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		embs, err := x.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(embs) != len(texts) {
			return nil, fmt.Errorf("embedding count mismatch: asked %d, got %d", len(texts), len(embs))
		}
		for _, e := range embs {
			vectors = append(vectors, l2Normalize(e.Vector))
		}
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no vectors produced")
	}
	return vectors, nil
}

func dedupeChunks(chunks []types.Chunk) []types.Chunk {
	seen := make(map[int64]struct{}, len(chunks))
	unique := make([]types.Chunk, 0, len(chunks))
	for i := range chunks {
		if _, dup := seen[chunks[i].ChunkID]; dup {
			continue
		}
		seen[chunks[i].ChunkID] = struct{}{}
		unique = append(unique, chunks[i])
	}
	return unique
}

// l2Normalize scales a vector to unit length so inner product equals
// cosine similarity.
func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
