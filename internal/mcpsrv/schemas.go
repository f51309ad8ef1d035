package mcpsrv

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// retrieveTool returns the tool definition for retrieve
func retrieveTool() mcp.Tool {
	return mcp.Tool{
		Name:        "retrieve",
		Description: "Retrieve the most relevant evidence chunks for a natural-language query using hybrid (semantic + keyword) search",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural-language or keyword query",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of chunks to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Optional filters to narrow retrieval",
					"properties": map[string]interface{}{
						"document_ids": map[string]interface{}{
							"type":        "array",
							"description": "Restrict to chunks from these document ids",
							"items": map[string]interface{}{
								"type": "integer",
							},
						},
						"tags": map[string]interface{}{
							"type":        "array",
							"description": "Restrict to chunks carrying any of these tags",
							"items": map[string]interface{}{
								"type": "string",
							},
						},
					},
				},
				"corrective": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, run the corrective loop: grade results and retry with a rewritten query when relevance is poor",
					"default":     false,
				},
				"topic": map[string]interface{}{
					"type":        "string",
					"description": "Optional topic label used to anchor corrective query rewrites",
				},
			},
			Required: []string{"query"},
		},
	}
}

// addChunksTool returns the tool definition for add_chunks
func addChunksTool() mcp.Tool {
	return mcp.Tool{
		Name:        "add_chunks",
		Description: "Store a batch of evidence chunks and index them for semantic retrieval when an embedding provider is configured",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"chunks": map[string]interface{}{
					"type":        "array",
					"description": "Chunks to store",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"chunk_id": map[string]interface{}{
								"type":        "integer",
								"description": "Stable chunk identifier",
							},
							"document_id": map[string]interface{}{
								"type":        "integer",
								"description": "Identifier of the source document",
							},
							"title": map[string]interface{}{
								"type":        "string",
								"description": "Source document title",
							},
							"chunk_index": map[string]interface{}{
								"type":        "integer",
								"description": "Position of the chunk within its document",
							},
							"text": map[string]interface{}{
								"type":        "string",
								"description": "Chunk text",
							},
							"tags": map[string]interface{}{
								"type":        "array",
								"description": "Free-form tags",
								"items": map[string]interface{}{
									"type": "string",
								},
							},
							"meta": map[string]interface{}{
								"type":        "object",
								"description": "Free-form string metadata",
							},
						},
						"required": []string{"chunk_id", "document_id", "text"},
					},
				},
			},
			Required: []string{"chunks"},
		},
	}
}

// rebuildIndexTool returns the tool definition for rebuild_index
func rebuildIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "rebuild_index",
		Description: "Re-embed every stored chunk and replace the vector index. Also repairs an index left not-ready by desynced artifacts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// indexStatusTool returns the tool definition for index_status
func indexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_status",
		Description: "Report retrieval engine status: embedding provider, vector index health, and stored chunk count",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// recentQueriesTool returns the tool definition for recent_queries
func recentQueriesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "recent_queries",
		Description: "List the most recent retrieval calls from the query log",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of log records to return (1-100)",
					"default":     20,
					"minimum":     1,
					"maximum":     100,
				},
			},
		},
	}
}
