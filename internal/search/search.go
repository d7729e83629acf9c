// Package search provides the web search tool for the digest loop.
//
// Each search backend implements the [Provider] interface and is
// registered with a [Manager] by name. The [Executor] wraps the manager
// as the tool the generation loop dispatches to: it owns the formatting
// contract for results and absorbs every provider failure into
// model-visible text, so the loop never needs error handling for tool
// execution.
package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// MaxResults caps the number of results returned.
	// Providers may return fewer. Zero means provider default.
	MaxResults int `json:"max_results,omitempty"`

	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string `json:"language,omitempty"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "duckduckgo", "searxng").
	Name() string

	// Search executes a query and returns results in relevance order.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	primary   string
}

// NewManager creates a search manager. The primary provider name
// determines which backend is used by default.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Search runs a query against the primary provider.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[m.primary]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", m.primary)
	}
	return p.Search(ctx, query, opts)
}

// Configured reports whether the primary provider is registered.
func (m *Manager) Configured() bool {
	_, ok := m.providers[m.primary]
	return ok
}

// NoResults is the sentinel text returned to the model when a search
// produces nothing (including provider failures).
const NoResults = "No results found."

// FormatResults renders results as the text the model consumes: one
// entry per result with a 1-based ordinal, title, indented snippet,
// and an indented Source line when a URL is present. The structure is
// part of the prompt contract — keep it stable.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return NoResults
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(r.Title)
		b.WriteString("\n")
		if r.Snippet != "" {
			b.WriteString("   ")
			b.WriteString(r.Snippet)
			b.WriteString("\n")
		}
		if r.URL != "" {
			b.WriteString("   Source: ")
			b.WriteString(r.URL)
			b.WriteString("\n")
		}
	}
	return b.String()
}
