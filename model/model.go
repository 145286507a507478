// Package model defines the core domain types shared across all CodeSift packages.
// It has zero dependencies on other CodeSift packages.
package model

import "time"

// Status represents the current state of a conversation.
type Status string

const (
	StatusPending Status = "pending"
	// StatusStreaming means an assistant turn is in flight.
	StatusStreaming Status = "streaming"
	// StatusIdle means the conversation is waiting for the next user message.
	StatusIdle  Status = "idle"
	StatusError Status = "error"
)

// Conversation represents one chat thread bound to a workspace directory.
type Conversation struct {
	ID        string    `json:"id"`
	Workspace string    `json:"workspace"`
	Repo      string    `json:"repo,omitempty"` // optional "owner/repo" for PR creation
	Title     string    `json:"title,omitempty"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message represents a single message in a conversation.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Event represents a single event in a conversation's lifecycle.
// Types: "status", "delta", "segments", "directive", "error", "done".
type Event struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Type           string    `json:"type"`
	Data           string    `json:"data"`
	CreatedAt      time.Time `json:"created_at"`
}

// Directive is a persisted, applyable copy of a completed directive segment
// extracted from an assistant message.
type Directive struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      int64     `json:"message_id"`
	Kind           string    `json:"kind"` // "new_file", "rewrite_file", "edit"
	FilePath       string    `json:"file_path"`
	Content        string    `json:"content,omitempty"`
	Search         string    `json:"search,omitempty"`
	Replace        string    `json:"replace,omitempty"`
	Applied        bool      `json:"applied"`
	CreatedAt      time.Time `json:"created_at"`
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
