// Package tool holds the functions a persona can call while composing a reply.
package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"

	"github.com/easeaico/persona-core/internal/models"
	"github.com/easeaico/persona-core/internal/types"
)

const (
	searchMemoriesName        = "search_memories"
	searchMemoriesDescription = "Searches what the user shared in earlier conversations. Use it when the reply depends on a detail that is not in the conversation or the listed memories."
	maxSearchLimit            = 10
)

// MemorySearcher is the part of memory.Manager the search tool needs.
type MemorySearcher interface {
	SearchScored(ctx context.Context, query string, limit int) ([]types.ScoredMemory, error)
}

// SearchMemories returns a tool that runs a similarity search over the user's memories.
// defaultLimit applies when the model does not ask for a limit.
func SearchMemories(searcher MemorySearcher, defaultLimit int) models.Tool {
	if defaultLimit <= 0 || defaultLimit > maxSearchLimit {
		defaultLimit = 5
	}
	minLimit, maxLimit := 1.0, float64(maxSearchLimit)
	return models.Tool{
		Declaration: &genai.FunctionDeclaration{
			Name:        searchMemoriesName,
			Description: searchMemoriesDescription,
			ParametersJsonSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {Type: "string", Description: "What to look for, e.g. \"sister's name\""},
					"limit": {Type: "integer", Description: "Maximum number of memories", Minimum: &minLimit, Maximum: &maxLimit},
				},
				Required: []string{"query"},
			},
		},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			query, _ := args["query"].(string)
			query = strings.TrimSpace(query)
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}
			hits, err := searcher.SearchScored(ctx, query, limitArg(args["limit"], defaultLimit))
			if err != nil {
				return nil, fmt.Errorf("failed to search memories: %w", err)
			}
			memories := make([]map[string]any, 0, len(hits))
			for _, hit := range hits {
				memories = append(memories, map[string]any{
					"content":    hit.Record.Content,
					"type":       string(hit.Record.Type),
					"importance": hit.Record.Importance,
					"score":      hit.Score,
					"created_at": hit.Record.CreatedAt.UTC().Format("2006-01-02"),
				})
			}
			return map[string]any{"memories": memories}, nil
		},
	}
}

// limitArg reads a JSON number argument. Decoded JSON numbers are float64.
func limitArg(raw any, fallback int) int {
	var n int
	switch v := raw.(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	default:
		return fallback
	}
	if n <= 0 {
		return fallback
	}
	return min(n, maxSearchLimit)
}
