package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/herald-news-agent/internal/httpkit"
)

const duckduckgoAPIURL = "https://api.duckduckgo.com/"

// DuckDuckGo implements the Provider interface using the DuckDuckGo
// instant answer API. It needs no API key, which makes it the default
// backend, but coverage is limited to topics DuckDuckGo has abstracts
// and related topics for.
type DuckDuckGo struct {
	apiURL     string
	httpClient *http.Client
}

// NewDuckDuckGo creates a DuckDuckGo provider.
func NewDuckDuckGo() *DuckDuckGo {
	return &DuckDuckGo{
		apiURL: duckduckgoAPIURL,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10 * time.Second),
		),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (d *DuckDuckGo) SetBaseURL(u string) { d.apiURL = u }

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// ddgResponse is the instant answer API reply. RelatedTopics mixes
// plain topics with named groups that nest further topics.
type ddgResponse struct {
	Abstract      string     `json:"Abstract"`
	AbstractURL   string     `json:"AbstractURL"`
	Heading       string     `json:"Heading"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{
		"q":       {query},
		"format":  {"json"},
		"no_html": {"1"},
		"t":       {"herald"},
	}

	reqURL := fmt.Sprintf("%s?%s", strings.TrimSuffix(d.apiURL, "/"), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("duckduckgo: HTTP %d: %s", resp.StatusCode, body)
	}

	var dr ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("duckduckgo: decode response: %w", err)
	}

	max := opts.MaxResults
	if max <= 0 {
		max = 10
	}

	var results []Result

	// The abstract, when present, is the best answer — list it first.
	if dr.Abstract != "" {
		title := dr.Heading
		if title == "" {
			title = query
		}
		results = append(results, Result{
			Title:   title,
			Snippet: dr.Abstract,
			URL:     dr.AbstractURL,
		})
	}

	results = appendTopics(results, dr.RelatedTopics, max)

	if len(results) > max {
		results = results[:max]
	}
	return results, nil
}

// appendTopics flattens related topics (including nested groups) into
// results, stopping at max.
func appendTopics(results []Result, topics []ddgTopic, max int) []Result {
	for _, t := range topics {
		if len(results) >= max {
			break
		}
		if len(t.Topics) > 0 {
			results = appendTopics(results, t.Topics, max)
			continue
		}
		if t.Text == "" {
			continue
		}
		results = append(results, Result{
			Title:   titleFromURL(t.FirstURL),
			Snippet: t.Text,
			URL:     t.FirstURL,
		})
	}
	return results
}

// titleFromURL derives a readable title from the last path segment of
// a DuckDuckGo topic URL (e.g., ".../Machine_learning" → "Machine learning").
func titleFromURL(u string) string {
	if u == "" {
		return ""
	}
	seg := u
	if idx := strings.LastIndex(u, "/"); idx >= 0 {
		seg = u[idx+1:]
	}
	return strings.ReplaceAll(seg, "_", " ")
}
