// CodeSift - Chat with your codebase
//
// Ask questions about a codebase and apply the file changes the
// assistant proposes, from the terminal, Slack, or Telegram.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "codesift",
	Short: "CodeSift - Chat with your codebase",
	Long: `CodeSift answers questions about a codebase and proposes file changes
you can review and apply.

  codesift serve                              Start the server
  codesift chat "how does auth work?"         Ask about the workspace
  codesift list                               List conversations
  codesift status <id>                        Check conversation status
  codesift apply <directive-id>               Apply a proposed file change
  codesift pr <conversation-id>               Open a PR from applied changes
  codesift parse <file>                       Parse a transcript into segments`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CODESIFT_SERVER", "http://localhost:7080"), "CodeSift server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
