package vecindex

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"log/slog"
)

const (
	vectorsFile = "vectors.bin"
	metaFile    = "meta.json"
)

type metaDocument struct {
	Dimension int     `json:"dimension"`
	Entries   []Entry `json:"entries"`
}

// Load reads both persistence artifacts and marks the index ready only when
// their sizes agree. A crash between the two writes leaves the index not
// ready rather than silently serving a torn state; Rebuild repairs it.
// Absent artifacts mean a fresh install: empty and ready.
func (x *Index) Load() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	vecPath := filepath.Join(x.dir, vectorsFile)
	metaPath := filepath.Join(x.dir, metaFile)

	vecExists := fileExists(vecPath)
	metaExists := fileExists(metaPath)

	if !vecExists && !metaExists {
		x.vectors = nil
		x.entries = nil
		x.dim = 0
		x.ready = true
		return nil
	}
	if vecExists != metaExists {
		x.ready = false
		x.logger.Warn("index_artifacts_incomplete",
			slog.Bool("vectors_present", vecExists),
			slog.Bool("meta_present", metaExists))
		return nil
	}

	dim, vectors, err := readVectors(vecPath)
	if err != nil {
		x.ready = false
		x.logger.Warn("index_vectors_unreadable", slog.String("error", err.Error()))
		return nil
	}

	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		x.ready = false
		x.logger.Warn("index_meta_unreadable", slog.String("error", err.Error()))
		return nil
	}
	var meta metaDocument
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		x.ready = false
		x.logger.Warn("index_meta_corrupt", slog.String("error", err.Error()))
		return nil
	}

	if len(meta.Entries) != len(vectors) || meta.Dimension != dim {
		x.ready = false
		x.logger.Warn("index_artifacts_desynced",
			slog.Int("vector_rows", len(vectors)),
			slog.Int("meta_entries", len(meta.Entries)),
			slog.Int("vector_dim", dim),
			slog.Int("meta_dim", meta.Dimension))
		return nil
	}

	x.vectors = vectors
	x.entries = meta.Entries
	x.dim = dim
	x.ready = true

	x.logger.Info("index_loaded",
		slog.Int("total", len(x.entries)),
		slog.Int("dimension", x.dim))
	return nil
}

// saveLocked writes both artifacts. Callers hold x.mu. The two writes are
// sequential and not transactional; Load detects the desync a crash in
// between would leave behind.
func (x *Index) saveLocked() error {
	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	vecPath := filepath.Join(x.dir, vectorsFile)
	if err := writeVectors(vecPath, x.dim, x.vectors); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}

	meta := metaDocument{Dimension: x.dim, Entries: x.entries}
	if meta.Entries == nil {
		meta.Entries = []Entry{}
	}
	metaBytes, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	metaPath := filepath.Join(x.dir, metaFile)
	if err := os.WriteFile(metaPath, metaBytes, 0o644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

// Vector artifact layout: uint32 dimension, uint32 row count, then rows of
// little-endian float32 values.
func writeVectors(path string, dim int, vectors [][]float32) error {
	buf := make([]byte, 8+len(vectors)*dim*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(dim))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(vectors)))
	off := 8
	for _, vec := range vectors {
		if len(vec) != dim {
			return fmt.Errorf("vector length %d does not match dimension %d", len(vec), dim)
		}
		for _, v := range vec {
			binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
			off += 4
		}
	}
	return os.WriteFile(path, buf, 0o644)
}

func readVectors(path string) (int, [][]float32, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, err
	}
	if len(buf) < 8 {
		return 0, nil, fmt.Errorf("vector file truncated: %d bytes", len(buf))
	}
	dim := int(binary.LittleEndian.Uint32(buf[0:4]))
	count := int(binary.LittleEndian.Uint32(buf[4:8]))

	expected := 8 + count*dim*4
	if len(buf) != expected {
		return 0, nil, fmt.Errorf("vector file size %d does not match header (want %d)", len(buf), expected)
	}

	vectors := make([][]float32, count)
	off := 8
	for i := 0; i < count; i++ {
		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
			off += 4
		}
		vectors[i] = vec
	}
	return dim, vectors, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
