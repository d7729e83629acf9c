package llm

import "context"

// Client is the interface the generation loop consumes.
type Client interface {
	// Chat sends the full transcript (and tool definitions, if any)
	// and returns the provider's reply.
	Chat(ctx context.Context, model string, messages []Message, tools []Tool) (*ChatResponse, error)

	// Ping checks if the provider is reachable with valid credentials.
	Ping(ctx context.Context) error
}
