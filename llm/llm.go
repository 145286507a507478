// Package llm defines the LLM client interface used by the turn engine.
package llm

import "context"

// Message is a single turn of conversation history sent to a provider.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a single-shot prompt and returns the full response text.
	Complete(ctx context.Context, system, user string) (string, error)

	// Stream sends the conversation history and invokes onDelta for each
	// text chunk as it arrives. It returns the full accumulated response.
	Stream(ctx context.Context, system string, messages []Message, onDelta func(delta string)) (string, error)
}
