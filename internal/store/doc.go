// Package store provides SQLite-based persistence for the retrieval engine.
//
// The store holds two kinds of durable state:
//   - chunks: evidence text handed over by the ingestion pipeline, with a
//     lowercased shadow column (norm_text) serving the lexical prefilter
//   - query_logs: one immutable audit row per top-level retrieval call
//
// # Build Modes
//
// Two SQLite drivers are supported via build tags:
//   - default: modernc.org/sqlite (pure Go, no CGO required)
//   - cgo_sqlite: mattn/go-sqlite3 (CGO, faster)
//
// # Basic Usage
//
//	db, err := store.NewSQLiteStore("~/.evidence/evidence.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.UpsertChunks(ctx, chunks)
//
// The database runs in WAL mode with a single writer connection; callers
// never manage transactions themselves.
package store
