// Package types provides shared type definitions for the evidence retrieval
// MCP server.
//
// This package defines the domain types that cross component boundaries:
// chunks, candidates, retrieval results, and the provider error taxonomy.
//
// # Core Types
//
// Chunk is a stored unit of document text, owned by the external ingestion
// pipeline and read-only inside the engine:
//
//	chunk := &types.Chunk{
//	    ChunkID:    42,
//	    DocumentID: 7,
//	    Text:       "Recursion is a method of solving a problem...",
//	}
//
// Candidate is the transient scoring record that flows through the lexical
// scorer, vector index, rank fuser and reranker during one retrieval call.
// It is never persisted.
//
// # Error Taxonomy
//
// Vector operations fail with ErrNotEnabled when no embedding provider is
// configured and ErrNotReady before the first successful index load or
// build. External provider failures are wrapped in ProviderError with a
// classified kind (timeout, auth, quota, rate_limited, other) so call sites
// can choose fail-open vs. fail-hard deliberately:
//
//	if types.ProviderErrKind(err) == types.ProviderTimeout {
//	    // degrade to keyword-only mode
//	}
package types
