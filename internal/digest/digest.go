// Package digest assembles the generation prompt and drives a full
// digest run, including the retry wrapper around the agent loop.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/herald-news-agent/internal/agent"
	"github.com/nugget/herald-news-agent/internal/config"
	"github.com/nugget/herald-news-agent/internal/prompts"
)

// SourceFetcher supplies pre-fetched material to include in the prompt.
// A nil fetcher, or one returning "", leaves the prompt unchanged.
type SourceFetcher interface {
	FetchForPrompt(ctx context.Context) string
}

// Generator builds the digest prompt from configuration and runs the
// agent loop until it has a digest or attempts are spent.
type Generator struct {
	logger  *slog.Logger
	driver  *agent.Driver
	cfg     config.DigestConfig
	search  bool
	sources SourceFetcher
}

// NewGenerator creates a digest generator. search controls whether the
// prompt advertises the web_search tool and the driver exposes it.
// sources may be nil.
func NewGenerator(logger *slog.Logger, driver *agent.Driver, cfg config.DigestConfig, search bool, sources SourceFetcher) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		logger:  logger.With("component", "digest"),
		driver:  driver,
		cfg:     cfg,
		search:  search,
		sources: sources,
	}
}

// BuildPrompt renders the full generation prompt: the template with the
// topic list substituted, search instructions when the tool is enabled,
// source material when a fetcher provided any, and the language
// directive for non-English digests.
func (g *Generator) BuildPrompt(sourceMaterial string) string {
	template := g.cfg.PromptTemplate
	if template == "" {
		template = prompts.DefaultTemplate
	}

	var b strings.Builder
	b.WriteString(strings.ReplaceAll(template, "{topics}", prompts.FormatTopics(g.cfg.Topics)))

	if g.search {
		b.WriteString("\n\n")
		b.WriteString(prompts.SearchInstructions)
	}

	if sourceMaterial != "" {
		b.WriteString("\n\nRecent headlines from configured feeds, for additional context:\n\n")
		b.WriteString(sourceMaterial)
	}

	if directive := prompts.LanguageDirective(g.cfg.Language); directive != "" {
		b.WriteString("\n\n")
		b.WriteString(directive)
	}

	return b.String()
}

// Generate runs one digest generation attempt.
func (g *Generator) Generate(ctx context.Context) (*agent.Result, error) {
	var material string
	if g.sources != nil {
		material = g.sources.FetchForPrompt(ctx)
	}

	prompt := g.BuildPrompt(material)

	res, err := g.driver.Run(ctx, prompt, agent.Options{
		ToolsEnabled:  g.search,
		MaxIterations: g.cfg.MaxIterations,
		MaxToolCalls:  g.cfg.MaxToolCalls,
	})
	if err != nil {
		return nil, fmt.Errorf("digest generation: %w", err)
	}
	return res, nil
}

// GenerateWithRetry retries Generate up to cfg.MaxRetries times. Every
// error is retried the same way; the first success wins and the last
// error surfaces when all attempts fail.
func (g *Generator) GenerateWithRetry(ctx context.Context) (*agent.Result, error) {
	attempts := g.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := g.Generate(ctx)
		if err == nil {
			if attempt > 1 {
				g.logger.Info("generation succeeded after retry", "attempt", attempt)
			}
			return res, nil
		}

		lastErr = err
		g.logger.Warn("generation attempt failed",
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err,
		)
	}

	return nil, fmt.Errorf("all %d generation attempts failed: %w", attempts, lastErr)
}
