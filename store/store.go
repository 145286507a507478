// Package store defines the persistence interface for conversations,
// messages, events, and extracted directives.
package store

import "github.com/codesift/codesift/model"

// ConversationStore is the persistence interface the engine and HTTP API
// depend on. The sqlite subpackage provides the default implementation.
type ConversationStore interface {
	CreateConversation(conv *model.Conversation) error
	GetConversation(id string) (*model.Conversation, error)
	ListConversations() ([]*model.Conversation, error)
	UpdateConversation(conv *model.Conversation) error

	AddMessage(msg *model.Message) error
	GetMessages(conversationID string) ([]*model.Message, error)

	AddEvent(event *model.Event) error
	GetEvents(conversationID string, afterID int64) ([]*model.Event, error)

	AddDirective(d *model.Directive) error
	GetDirective(id int64) (*model.Directive, error)
	GetDirectives(conversationID string) ([]*model.Directive, error)
	MarkDirectiveApplied(id int64) error

	Close() error
}
