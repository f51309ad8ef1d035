// Package mcpsrv implements the Model Context Protocol (MCP) server for the
// evidence retrieval engine.
//
// The server exposes five tools to AI assistants:
//   - retrieve: Hybrid (semantic + keyword) retrieval over stored evidence
//   - add_chunks: Store and index a batch of evidence chunks
//   - rebuild_index: Re-embed every stored chunk and replace the vector index
//   - index_status: Report provider and index health
//   - recent_queries: List recent calls from the query log
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is typically started via the serve command:
//
//	evidence serve
//
// It then listens on stdin for MCP protocol messages and writes responses
// to stdout. Logs go to stderr so they never corrupt the protocol stream.
//
// # Tool: retrieve
//
// Retrieve the most relevant chunks for a query:
//
//	Request:
//	{
//	  "name": "retrieve",
//	  "arguments": {
//	    "query": "how does leader election recover from partitions",
//	    "top_k": 5,
//	    "filters": {"tags": ["raft"]},
//	    "corrective": true,
//	    "topic": "consensus"
//	  }
//	}
//
//	Response (abridged):
//	{
//	  "mode": "hybrid",
//	  "query_id": 42,
//	  "chunks": [
//	    {"chunk_id": 7, "score": 0.031, "semantic_score": 0.83, ...}
//	  ],
//	  "debug": {"semantic_used": true, "keyword_used": true, ...},
//	  "corrective": {"attempts": [{"iter": 1, "action": "accept", ...}]}
//	}
//
// When no embedding provider is configured the same call serves keyword-only
// results with mode "keyword"; a vector-side failure mid-call degrades the
// same way and records the error under debug.semantic_error.
//
// # Error Codes
//
// Beyond the standard JSON-RPC codes, the server uses:
//   - -32001: semantic retrieval not enabled (no embedding provider)
//   - -32002: vector index not ready (artifacts desynced; run rebuild_index)
//   - -32003: empty query
package mcpsrv
