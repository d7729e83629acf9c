package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nugget/herald-news-agent/internal/llm"
)

// ToolName is the single tool Herald exposes to the model.
const ToolName = "web_search"

// Executor executes web_search tool calls for the generation loop.
// Execute never fails: provider errors, empty result sets, unknown tool
// names, and malformed arguments are all rendered as explanatory text
// for the model instead of propagating.
type Executor struct {
	manager    *Manager
	maxResults int
	logger     *slog.Logger
}

// NewExecutor creates a tool executor. maxResults is the hard cap on
// results per call, regardless of what the model asks for.
func NewExecutor(manager *Manager, maxResults int, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	return &Executor{
		manager:    manager,
		maxResults: maxResults,
		logger:     logger.With("component", "search"),
	}
}

// Definitions returns the tool definitions offered to the model.
func (e *Executor) Definitions() []llm.Tool {
	return []llm.Tool{{
		Name:        ToolName,
		Description: "Search the web for current news and information. Use this tool to find the most recent developments beyond your training data.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query. Examples: 'AI news 2025', 'machine learning breakthroughs'",
				},
				"max_results": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Maximum number of search results to return (default: %d)", e.maxResults),
				},
			},
			"required": []string{"query"},
		},
	}}
}

// Execute runs one tool invocation and returns the text the model sees.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) string {
	if name != ToolName {
		e.logger.Warn("model requested unsupported tool", "tool", name)
		return fmt.Sprintf("Tool %q is not available. Use %s, or answer from information already gathered.", name, ToolName)
	}

	query, _ := args["query"].(string)
	if query == "" {
		return "Search failed: a non-empty query is required."
	}

	opts := Options{MaxResults: e.maxResults}
	// JSON numbers arrive as float64.
	if n, ok := args["max_results"].(float64); ok && int(n) > 0 && int(n) < e.maxResults {
		opts.MaxResults = int(n)
	}

	e.logger.Info("web search", "query", query, "max_results", opts.MaxResults)

	results, err := e.manager.Search(ctx, query, opts)
	if err != nil {
		// Soft failure: surfaced to the model as an empty result set.
		e.logger.Warn("search failed", "query", query, "error", err)
		results = nil
	}
	if len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}

	e.logger.Debug("search complete", "query", query, "results", len(results))
	return FormatResults(results)
}
