package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ChamsBouzaiene/kea/internal/engine"
	"github.com/ChamsBouzaiene/kea/internal/eventlog"
)

// NewHistorySearchTool returns the history_search tool, a full-text query
// over past conversation events. By default the search is scoped to the
// agent's own thread; all_threads widens it to the whole log.
func NewHistorySearchTool(searcher *eventlog.Searcher, threadID string) engine.Tool {
	return engine.Tool{
		Name:        "history_search",
		Description: "Searches past conversation history (user messages, agent messages, tool results) for relevant context. Returns scored snippets.",
		SchemaJSON: `{"type":"object","properties":{
			"query":{"type":"string","description":"Free-text query"},
			"limit":{"type":"integer","minimum":1,"maximum":50,"description":"Maximum hits to return (default: 10)"},
			"all_threads":{"type":"boolean","description":"Search across all threads instead of just this one"}
		},"required":["query"]}`,
		AlwaysAllow: true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			query, ok := args["query"].(string)
			if !ok || query == "" {
				return "", fmt.Errorf("query must be a non-empty string")
			}
			limit := 10
			if l, ok := args["limit"].(float64); ok && int(l) > 0 {
				limit = int(l)
			}
			scope := threadID
			if all, ok := args["all_threads"].(bool); ok && all {
				scope = ""
			}

			hits, err := searcher.Search(query, scope, limit)
			if err != nil {
				return "", err
			}

			response := map[string]any{
				"query": query,
				"hits":  hits,
				"count": len(hits),
			}
			responseJSON, err := json.Marshal(response)
			if err != nil {
				return "", err
			}
			return string(responseJSON), nil
		},
	}
}
