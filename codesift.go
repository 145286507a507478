// Package codesift is the top-level entry point for the CodeSift framework.
//
// Use the Builder to compose a custom CodeSift application:
//
//	app, err := codesift.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize every component:
//
//	app, err := codesift.NewBuilder().
//	    WithStore(myStore).
//	    WithLLM(myClient).
//	    WithGitProvider(myProvider).
//	    Build()
package codesift

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/codesift/codesift/channel"
	"github.com/codesift/codesift/engine"
	"github.com/codesift/codesift/eventbus"
	"github.com/codesift/codesift/gitprovider"
	"github.com/codesift/codesift/httpapi"
	"github.com/codesift/codesift/llm"
	"github.com/codesift/codesift/store"
)

// Config holds top-level configuration for a CodeSift application.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (default ":7080").
	ServerAddr string

	// DataDir is the directory for persistent data (default "~/.codesift").
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// SystemPrompt overrides the default system prompt sent to the provider.
	SystemPrompt string

	// MaxMessages is the max user messages per conversation (default 50).
	MaxMessages int

	// StreamTimeout bounds a single streaming turn (default 5m).
	StreamTimeout time.Duration
}

// Builder constructs a CodeSift App.
type Builder struct {
	config   Config
	store    store.ConversationStore
	bus      eventbus.Bus
	git      gitprovider.Provider
	llm      llm.Client
	context  engine.ContextSource
	channels []channel.Channel
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the conversation store implementation.
func (b *Builder) WithStore(s store.ConversationStore) *Builder {
	b.store = s
	return b
}

// WithBus sets the event bus implementation.
func (b *Builder) WithBus(bus eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithGitProvider sets the git hosting provider implementation.
func (b *Builder) WithGitProvider(g gitprovider.Provider) *Builder {
	b.git = g
	return b
}

// WithLLM sets the LLM client used for conversation turns.
func (b *Builder) WithLLM(client llm.Client) *Builder {
	b.llm = client
	return b
}

// WithContextSource sets the workspace code retrieval used to ground turns.
func (b *Builder) WithContextSource(src engine.ContextSource) *Builder {
	b.context = src
	return b
}

// WithChannel adds a channel (Slack, Telegram, etc.) to the application.
func (b *Builder) WithChannel(ch channel.Channel) *Builder {
	b.channels = append(b.channels, ch)
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	eng := engine.New(
		engine.Config{
			SystemPrompt:  b.config.SystemPrompt,
			MaxMessages:   b.config.MaxMessages,
			StreamTimeout: b.config.StreamTimeout,
			Context:       b.context,
		},
		b.store,
		b.bus,
		b.llm,
		b.git,
	)

	handler := httpapi.New(eng)

	return &App{
		config:   b.config,
		engine:   eng,
		handler:  handler,
		channels: b.channels,
	}, nil
}

// App is a running CodeSift application.
type App struct {
	config   Config
	engine   *engine.Engine
	handler  *httpapi.Handler
	channels []channel.Channel
}

// Engine returns the underlying engine for direct access.
func (a *App) Engine() *engine.Engine { return a.engine }

// Start starts the HTTP server and all channels. Blocks until ctx is done.
func (a *App) Start(ctx context.Context) error {
	a.engine.Start(ctx)

	// Start channels.
	for _, ch := range a.channels {
		ch := ch
		go func() {
			if err := ch.Run(ctx); err != nil {
				log.Printf("%s channel error: %v", ch.Name(), err)
			}
		}()
	}

	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.handler.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("CodeSift server listening on %s", a.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	a.engine.Stop()
	return a.engine.Store().Close()
}
