package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	codesift "github.com/codesift/codesift"
	channelJira "github.com/codesift/codesift/channel/jira"
	channelLinear "github.com/codesift/codesift/channel/linear"
	channelSlack "github.com/codesift/codesift/channel/slack"
	channelTelegram "github.com/codesift/codesift/channel/telegram"
	"github.com/codesift/codesift/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the CodeSift server",
	Long:  "Start the CodeSift API server that manages conversations and applies file changes.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load config file into environment (non-destructive).
	loadConfigFileIntoEnv()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	builder := codesift.NewBuilder().WithConfig(codesift.Config{
		ServerAddr:    cfg.ServerAddr,
		DataDir:       cfg.DataDir,
		DatabasePath:  cfg.DatabasePath,
		MaxMessages:   cfg.MaxMessages,
		StreamTimeout: cfg.StreamTimeout,
	})

	// Build the app first, then add channels that need the engine.
	app, err := builder.Build()
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}

	// Add Slack channel if configured.
	if cfg.SlackEnabled() {
		slackBot := channelSlack.NewBot(
			cfg.SlackBotToken,
			cfg.SlackAppToken,
			cfg.Workspace,
			cfg.SlackDefaultRepo,
			app.Engine().Store(),
			app.Engine().Bus(),
			app.Engine(),
		)
		builder.WithChannel(slackBot)
		fmt.Println("Slack bot enabled (Socket Mode)")
	}

	// Add Telegram channel if configured.
	if cfg.TelegramEnabled() {
		tgBot, err := channelTelegram.NewBot(
			cfg.TelegramBotToken,
			cfg.Workspace,
			cfg.TelegramDefaultRepo,
			app.Engine().Store(),
			app.Engine().Bus(),
			app.Engine(),
		)
		if err != nil {
			fmt.Printf("Warning: failed to initialize Telegram bot: %v\n", err)
		} else {
			builder.WithChannel(tgBot)
			fmt.Println("Telegram bot enabled (long polling)")
		}
	}

	// Add Jira channel if configured.
	if cfg.JiraEnabled() {
		jiraCh := channelJira.New(
			cfg.JiraBaseURL,
			cfg.JiraUserEmail,
			cfg.JiraAPIToken,
			cfg.JiraWebhookSecret,
			cfg.JiraTriggerLabel,
			cfg.Workspace,
			cfg.JiraDefaultRepo,
			app.Engine().Store(),
			app.Engine().Bus(),
			app.Engine(),
		)
		builder.WithChannel(jiraCh)
		fmt.Println("Jira webhook channel enabled")
	}

	// Add Linear channel if configured.
	if cfg.LinearEnabled() {
		linearCh := channelLinear.New(
			cfg.LinearAPIKey,
			cfg.LinearWebhookSecret,
			cfg.LinearTriggerLabel,
			cfg.Workspace,
			cfg.LinearDefaultRepo,
			app.Engine().Store(),
			app.Engine().Bus(),
			app.Engine(),
		)
		builder.WithChannel(linearCh)
		fmt.Println("Linear webhook channel enabled")
	}

	// Rebuild with channels added.
	app, err = builder.Build()
	if err != nil {
		return fmt.Errorf("rebuilding app with channels: %w", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	return app.Start(ctx)
}

// loadConfigFileIntoEnv reads ~/.codesift/config.env and sets any values not
// already present in the environment.
func loadConfigFileIntoEnv() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := filepath.Join(home, ".codesift", "config.env")
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
