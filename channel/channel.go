// Package channel defines the interface chat integrations implement.
package channel

import "context"

// Channel is a chat integration that relays user messages into conversations
// and delivers assistant replies back. Run blocks until ctx is canceled.
type Channel interface {
	Name() string
	Run(ctx context.Context) error
}
