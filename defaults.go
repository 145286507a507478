package codesift

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/codesift/codesift/eventbus"
	ghProvider "github.com/codesift/codesift/gitprovider/github"
	"github.com/codesift/codesift/index"
	"github.com/codesift/codesift/llm"
	llmAnthropic "github.com/codesift/codesift/llm/anthropic"
	llmOpenAI "github.com/codesift/codesift/llm/openai"
	sqliteStore "github.com/codesift/codesift/store/sqlite"
)

// applyDefaults fills in missing fields on the builder with sensible defaults.
func applyDefaults(b *Builder) error {
	// Config defaults.
	if b.config.ServerAddr == "" {
		b.config.ServerAddr = ":7080"
	}
	if b.config.DataDir == "" {
		b.config.DataDir = defaultDataDir()
	}
	if b.config.DatabasePath == "" {
		b.config.DatabasePath = filepath.Join(b.config.DataDir, "codesift.db")
	}

	// Ensure data dir exists.
	if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Store.
	if b.store == nil {
		st, err := sqliteStore.New(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	// Event bus.
	if b.bus == nil {
		b.bus = eventbus.NewInMemoryBus()
	}

	// Git provider.
	if b.git == nil {
		token := os.Getenv("GITHUB_TOKEN")
		if token != "" {
			b.git = ghProvider.New(token)
		}
	}

	// LLM client.
	if b.llm == nil {
		b.llm = llmClientFromEnv()
	}
	if b.llm == nil {
		return fmt.Errorf("no LLM client configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}

	// Workspace code index.
	if b.context == nil {
		ix, err := index.Open(filepath.Join(b.config.DataDir, "codesift-index.db"))
		if err != nil {
			return fmt.Errorf("initializing code index: %w", err)
		}
		b.context = ix
	}

	return nil
}

// llmClientFromEnv creates an LLM client from environment variables.
// Returns nil if no API key is found.
func llmClientFromEnv() llm.Client {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return llmAnthropic.New(key, os.Getenv("CODESIFT_LLM_MODEL"))
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return llmOpenAI.New(key, os.Getenv("CODESIFT_LLM_MODEL"))
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codesift"
	}
	return filepath.Join(home, ".codesift")
}
