// Package agent implements the bounded tool-use loop that drives one
// digest generation: repeated provider calls, sequential tool dispatch,
// and hard budgets on both iterations and tool calls.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nugget/herald-news-agent/internal/llm"
	"github.com/nugget/herald-news-agent/internal/prompts"
)

// ErrNoFinalResponse means the loop ended without final text and
// nothing could be salvaged from the last response.
var ErrNoFinalResponse = errors.New("model produced no final response")

// ToolExecutor executes tool calls on behalf of the loop. Execute must
// not fail: failures are rendered as model-visible text.
type ToolExecutor interface {
	// Definitions returns the tool definitions offered to the model.
	Definitions() []llm.Tool

	// Execute runs one tool invocation and returns the result text.
	Execute(ctx context.Context, name string, args map[string]any) string
}

// Options bound one Run call.
type Options struct {
	// ToolsEnabled exposes the executor's tools to the model.
	ToolsEnabled bool

	// MaxIterations caps provider round trips.
	MaxIterations int

	// MaxToolCalls caps executor invocations. Requests beyond the
	// budget receive a synthesized refusal instead of a real result.
	MaxToolCalls int
}

// Result is the outcome of one completed run.
type Result struct {
	RunID        string        `json:"run_id"`
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	Iterations   int           `json:"iterations"`
	ToolCalls    int           `json:"tool_calls"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Exhausted    bool          `json:"exhausted"`
	Salvaged     bool          `json:"salvaged,omitempty"`
	Duration     time.Duration `json:"-"`

	// Messages is the full transcript, for the history store.
	Messages []llm.Message `json:"messages,omitempty"`
}

// Driver owns the conversation transcript for one run and executes the
// loop. A Driver holds no per-run state, so one instance can be reused
// across sequential generations; concurrent runs need separate calls
// only, not separate drivers.
type Driver struct {
	logger *slog.Logger
	client llm.Client
	exec   ToolExecutor
	model  string
}

// NewDriver creates a turn driver for the given provider and executor.
func NewDriver(logger *slog.Logger, client llm.Client, exec ToolExecutor, model string) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		logger: logger.With("component", "agent"),
		client: client,
		exec:   exec,
		model:  model,
	}
}

// Run seeds the transcript with prompt and loops until the model
// produces final text, a budget trips, or the conversation dead-ends.
//
// Each iteration sends the whole transcript. A final stop reason ends
// the run with that response's text. A tool-use stop reason appends the
// assistant turn, answers every tool call (real results while the
// budget lasts, synthesized refusals after), and — the moment the
// budget is spent — appends an explicit instruction to stop searching.
// Unrecognized stop reasons and tool-use turns without tool calls are
// dead ends: the loop breaks and tries to salvage text from the last
// response before giving up with ErrNoFinalResponse.
func (d *Driver) Run(ctx context.Context, prompt string, opts Options) (*Result, error) {
	if opts.MaxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be positive, got %d", opts.MaxIterations)
	}

	runID, _ := uuid.NewV7()
	rid := runID.String()

	messages := []llm.Message{{Role: "user", Content: prompt}}

	var tools []llm.Tool
	if opts.ToolsEnabled && d.exec != nil {
		tools = d.exec.Definitions()
	}

	d.logger.Info("run started",
		"run_id", rid,
		"model", d.model,
		"prompt_len", len(prompt),
		"tools", len(tools),
		"max_iterations", opts.MaxIterations,
		"max_tool_calls", opts.MaxToolCalls,
	)

	startTime := time.Now()

	var (
		lastResp   *llm.ChatResponse
		finalText  string
		toolCalls  int
		steered    bool
		iterations int
		totalIn    int
		totalOut   int
	)

loop:
	for i := range opts.MaxIterations {
		// Check cancellation at iteration boundary.
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run cancelled: %w", err)
		}

		resp, err := d.client.Chat(ctx, d.model, messages, tools)
		if err != nil {
			return nil, fmt.Errorf("provider call failed (iter %d): %w", i, err)
		}

		lastResp = resp
		iterations = i + 1
		totalIn += resp.InputTokens
		totalOut += resp.OutputTokens

		d.logger.Debug("provider response",
			"run_id", rid,
			"iter", i,
			"stop_reason", resp.StopReason,
			"tool_calls", len(resp.Message.ToolCalls),
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)

		switch resp.StopReason {
		case llm.StopFinal:
			finalText = resp.Message.Content
			break loop

		case llm.StopToolUse:
			if len(resp.Message.ToolCalls) == 0 {
				// The model claimed tool use but sent no calls.
				// Appending an empty turn would spin forever.
				d.logger.Warn("tool-use response without tool calls, stopping",
					"run_id", rid, "iter", i)
				break loop
			}

			messages = append(messages, resp.Message)

			// Answer every request in emitted order. Past the budget,
			// the executor is never invoked — the model gets a refusal
			// it can read instead of a silently dropped request.
			for _, tc := range resp.Message.ToolCalls {
				var result string
				if toolCalls >= opts.MaxToolCalls {
					d.logger.Info("tool budget exhausted, refusing call",
						"run_id", rid, "tool", tc.Function.Name)
					result = prompts.BudgetExhaustedResult
				} else {
					toolCalls++
					d.logger.Info("tool exec",
						"run_id", rid,
						"iter", i,
						"tool", tc.Function.Name,
						"call", toolCalls,
					)
					result = d.exec.Execute(ctx, tc.Function.Name, tc.Function.Arguments)
				}
				messages = append(messages, llm.Message{
					Role:       "tool",
					Content:    result,
					ToolCallID: tc.ID,
				})
			}

			if toolCalls >= opts.MaxToolCalls && !steered {
				messages = append(messages, llm.Message{
					Role:    "user",
					Content: prompts.StopSearching,
				})
				steered = true
			}

		default:
			d.logger.Warn("unrecognized stop reason, stopping",
				"run_id", rid, "iter", i, "stop_reason", resp.StopReason)
			break loop
		}
	}

	result := &Result{
		RunID:        rid,
		Model:        d.model,
		Iterations:   iterations,
		ToolCalls:    toolCalls,
		InputTokens:  totalIn,
		OutputTokens: totalOut,
		Duration:     time.Since(startTime),
		Messages:     messages,
	}

	// Salvage: the loop may have ended on exhausted iterations or a
	// dead end while the last response still carried usable text.
	if finalText == "" && lastResp != nil && lastResp.Message.Content != "" {
		finalText = lastResp.Message.Content
		result.Salvaged = true
		d.logger.Warn("no final stop reason, salvaged text from last response",
			"run_id", rid, "iterations", iterations)
	}
	result.Exhausted = iterations >= opts.MaxIterations && result.Salvaged

	if finalText == "" {
		d.logger.Error("run failed without final text",
			"run_id", rid,
			"iterations", iterations,
			"tool_calls", toolCalls,
		)
		return nil, fmt.Errorf("run %s after %d iterations: %w", rid, iterations, ErrNoFinalResponse)
	}

	result.Content = finalText

	d.logger.Info("run completed",
		"run_id", rid,
		"iterations", iterations,
		"tool_calls", toolCalls,
		"input_tokens", totalIn,
		"output_tokens", totalOut,
		"salvaged", result.Salvaged,
		"content_len", len(finalText),
		"elapsed", result.Duration.Round(time.Millisecond),
	)

	return result, nil
}
