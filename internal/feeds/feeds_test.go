package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nugget/herald-news-agent/internal/config"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example AI News</title>
    <item>
      <title>Model release</title>
      <link>https://example.com/model</link>
      <description>&lt;p&gt;A &lt;b&gt;big&lt;/b&gt; release.&lt;/p&gt;</description>
      <pubDate>Fri, 29 Aug 2026 08:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Second story</title>
      <link>https://example.com/second</link>
      <description>Plain text here.</description>
    </item>
    <item>
      <title>Third story</title>
      <link>https://example.com/third</link>
    </item>
  </channel>
</rss>`

const sampleAtom = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example Atom</title>
  <entry>
    <title>Atom entry</title>
    <link rel="alternate" href="https://example.com/atom-entry"/>
    <summary>Summary text</summary>
    <updated>2026-08-29T08:00:00Z</updated>
  </entry>
</feed>`

func feedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchRSS(t *testing.T) {
	srv := feedServer(t, sampleRSS)
	f := NewFetcher(nil, config.FeedsConfig{MaxItemsPerSource: 5})

	items, err := f.Fetch(context.Background(), srv.URL, 10)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	if items[0].Title != "Model release" {
		t.Errorf("Title = %q", items[0].Title)
	}
	if items[0].Link != "https://example.com/model" {
		t.Errorf("Link = %q", items[0].Link)
	}
	if items[0].Description != "A big release." {
		t.Errorf("Description = %q, want HTML stripped", items[0].Description)
	}
	if items[0].Published != "Fri, 29 Aug 2026 08:00:00 GMT" {
		t.Errorf("Published = %q", items[0].Published)
	}
}

func TestFetchRSSMaxItems(t *testing.T) {
	srv := feedServer(t, sampleRSS)
	f := NewFetcher(nil, config.FeedsConfig{})

	items, err := f.Fetch(context.Background(), srv.URL, 2)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("got %d items, want 2 (capped)", len(items))
	}
}

func TestFetchAtom(t *testing.T) {
	srv := feedServer(t, sampleAtom)
	f := NewFetcher(nil, config.FeedsConfig{})

	items, err := f.Fetch(context.Background(), srv.URL, 10)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Title != "Atom entry" {
		t.Errorf("Title = %q", items[0].Title)
	}
	if items[0].Link != "https://example.com/atom-entry" {
		t.Errorf("Link = %q", items[0].Link)
	}
	if items[0].Description != "Summary text" {
		t.Errorf("Description = %q", items[0].Description)
	}
}

func TestFetchErrors(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer notFound.Close()

	garbage := feedServer(t, "<html><body>not a feed</body></html>")

	f := NewFetcher(nil, config.FeedsConfig{})

	if _, err := f.Fetch(context.Background(), notFound.URL, 5); err == nil {
		t.Error("Fetch accepted a 404 response")
	}
	if _, err := f.Fetch(context.Background(), garbage.URL, 5); err == nil {
		t.Error("Fetch accepted a non-feed document")
	}
}

func TestFetchAllSkipsFailedSources(t *testing.T) {
	good := feedServer(t, sampleRSS)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()

	f := NewFetcher(nil, config.FeedsConfig{
		Enabled:           true,
		MaxItemsPerSource: 2,
		Sources: []config.FeedSource{
			{Name: "Broken", URL: bad.URL},
			{Name: "Example", URL: good.URL},
		},
	})

	items := f.FetchAll(context.Background())
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 from the good source", len(items))
	}
	for _, it := range items {
		if it.Source != "Example" {
			t.Errorf("item Source = %q, want %q", it.Source, "Example")
		}
	}
}

func TestFetchForPromptDisabled(t *testing.T) {
	f := NewFetcher(nil, config.FeedsConfig{Enabled: false})
	if got := f.FetchForPrompt(context.Background()); got != "" {
		t.Errorf("FetchForPrompt = %q, want empty when disabled", got)
	}
}

func TestFormatForPrompt(t *testing.T) {
	items := []Item{
		{Title: "One", Link: "https://a", Description: "first", Source: "Feed A"},
		{Title: "Two", Source: "Feed A"},
		{Title: "Three", Link: "https://c", Published: "today", Source: "Feed B"},
	}

	out := FormatForPrompt(items)
	for _, want := range []string{
		"## Feed A",
		"1. **One**",
		"2. **Two**",
		"## Feed B",
		"1. **Three**",
		"   first",
		"   Published: today",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if FormatForPrompt(nil) != "" {
		t.Error("FormatForPrompt(nil) should be empty")
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"<p>hello <b>world</b></p>", "hello world"},
		{"a &amp; b", "a & b"},
		{"  spaced \n out  ", "spaced out"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := stripHTML(tt.in); got != tt.want {
			t.Errorf("stripHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abcdefghij", 4); got != "abcd..." {
		t.Errorf("truncate = %q", got)
	}
}
