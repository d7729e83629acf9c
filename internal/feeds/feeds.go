// Package feeds fetches RSS and Atom feeds and formats their items as
// source material for the digest prompt.
package feeds

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/nugget/herald-news-agent/internal/config"
	"github.com/nugget/herald-news-agent/internal/httpkit"
)

const (
	fetchTimeout = 15 * time.Second

	// maxFeedBody caps how much of a feed response we read.
	maxFeedBody = 4 << 20

	// maxDescriptionLen truncates item descriptions in prompt output.
	maxDescriptionLen = 300
)

// Item is one entry from a feed.
type Item struct {
	Title       string
	Link        string
	Description string
	Published   string
	Source      string
}

// Fetcher retrieves configured feeds. A feed that fails to fetch or
// parse is logged and skipped; Fetcher never fails the whole run.
type Fetcher struct {
	logger *slog.Logger
	client *http.Client
	cfg    config.FeedsConfig
}

// NewFetcher creates a feed fetcher for the configured sources.
func NewFetcher(logger *slog.Logger, cfg config.FeedsConfig) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxItemsPerSource <= 0 {
		cfg.MaxItemsPerSource = 5
	}
	return &Fetcher{
		logger: logger.With("component", "feeds"),
		client: httpkit.NewClient(httpkit.WithTimeout(fetchTimeout)),
		cfg:    cfg,
	}
}

// Fetch retrieves and parses a single feed, returning at most maxItems
// entries.
func (f *Fetcher) Fetch(ctx context.Context, url string, maxItems int) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, maxFeedBody)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s: %s",
			resp.Status, httpkit.ReadErrorBody(resp.Body, 512))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}

	items, err := parseFeed(body)
	if err != nil {
		return nil, err
	}
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items, nil
}

// FetchAll retrieves every configured source. Sources are fetched in
// order and failures skipped, so a dead feed costs one timeout, not the
// run.
func (f *Fetcher) FetchAll(ctx context.Context) []Item {
	var all []Item
	for _, src := range f.cfg.Sources {
		items, err := f.Fetch(ctx, src.URL, f.cfg.MaxItemsPerSource)
		if err != nil {
			f.logger.Warn("feed fetch failed, skipping source",
				"source", src.Name, "url", src.URL, "error", err)
			continue
		}
		for i := range items {
			items[i].Source = src.Name
		}
		f.logger.Debug("feed fetched", "source", src.Name, "items", len(items))
		all = append(all, items...)
	}
	return all
}

// FetchForPrompt returns all configured sources formatted as prompt
// source material, or "" when feeds are disabled or nothing was
// fetched.
func (f *Fetcher) FetchForPrompt(ctx context.Context) string {
	if !f.cfg.Enabled || len(f.cfg.Sources) == 0 {
		return ""
	}
	return FormatForPrompt(f.FetchAll(ctx))
}

// FormatForPrompt renders items as markdown grouped by source, in
// fetch order.
func FormatForPrompt(items []Item) string {
	if len(items) == 0 {
		return ""
	}

	var b strings.Builder
	var source string
	n := 0
	for _, it := range items {
		if it.Source != source {
			if source != "" {
				b.WriteString("\n")
			}
			source = it.Source
			n = 0
			fmt.Fprintf(&b, "## %s\n", source)
		}
		n++
		fmt.Fprintf(&b, "%d. **%s**\n", n, it.Title)
		if it.Description != "" {
			fmt.Fprintf(&b, "   %s\n", truncate(it.Description, maxDescriptionLen))
		}
		if it.Link != "" {
			fmt.Fprintf(&b, "   %s\n", it.Link)
		}
		if it.Published != "" {
			fmt.Fprintf(&b, "   Published: %s\n", it.Published)
		}
	}
	return b.String()
}

// rssDoc covers RSS 2.0.
type rssDoc struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

// atomDoc covers Atom 1.0.
type atomDoc struct {
	XMLName xml.Name `xml:"feed"`
	Entries []struct {
		Title   string        `xml:"title"`
		Summary string        `xml:"summary"`
		Updated string        `xml:"updated"`
		Links   []atomLinkRef `xml:"link"`
	} `xml:"entry"`
}

type atomLinkRef struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

// parseFeed detects the feed flavor from the root element and parses
// accordingly.
func parseFeed(body []byte) ([]Item, error) {
	root, err := rootElement(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	switch root {
	case "rss":
		var doc rssDoc
		if err := xml.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("parse rss feed: %w", err)
		}
		items := make([]Item, 0, len(doc.Channel.Items))
		for _, it := range doc.Channel.Items {
			items = append(items, Item{
				Title:       strings.TrimSpace(it.Title),
				Link:        strings.TrimSpace(it.Link),
				Description: stripHTML(it.Description),
				Published:   strings.TrimSpace(it.PubDate),
			})
		}
		return items, nil

	case "feed":
		var doc atomDoc
		if err := xml.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("parse atom feed: %w", err)
		}
		items := make([]Item, 0, len(doc.Entries))
		for _, e := range doc.Entries {
			items = append(items, Item{
				Title:       strings.TrimSpace(e.Title),
				Link:        atomLink(e.Links),
				Description: stripHTML(e.Summary),
				Published:   strings.TrimSpace(e.Updated),
			})
		}
		return items, nil
	}

	return nil, fmt.Errorf("unsupported feed root element %q", root)
}

// rootElement returns the local name of the document's first start
// element.
func rootElement(body []byte) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(string(body)))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

// atomLink prefers the alternate link, falling back to the first.
func atomLink(links []atomLinkRef) string {
	for _, l := range links {
		if l.Rel == "" || l.Rel == "alternate" {
			return strings.TrimSpace(l.Href)
		}
	}
	if len(links) > 0 {
		return strings.TrimSpace(links[0].Href)
	}
	return ""
}

// stripHTML removes markup from feed descriptions, which often carry
// embedded HTML, and collapses whitespace.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	tok := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		tt := tok.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			b.Write(tok.Text())
			b.WriteString(" ")
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// truncate shortens s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
