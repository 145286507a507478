package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all conversations",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/api/conversations")
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: codesift serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var convs []struct {
		ID        string `json:"id"`
		Workspace string `json:"workspace"`
		Repo      string `json:"repo"`
		Title     string `json:"title"`
		Status    string `json:"status"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&convs); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if len(convs) == 0 {
		fmt.Println("No conversations found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTITLE\tWORKSPACE\tREPO")
	for _, c := range convs {
		title := c.Title
		if len(title) > 50 {
			title = title[:47] + "..."
		}
		if title == "" {
			title = "-"
		}
		repo := c.Repo
		if repo == "" {
			repo = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, statusIcon(c.Status), title, c.Workspace, repo)
	}
	return w.Flush()
}

func statusIcon(status string) string {
	switch status {
	case "pending":
		return "⏳ pending"
	case "streaming":
		return "🔄 streaming"
	case "idle":
		return "💬 idle"
	case "error":
		return "❌ error"
	default:
		return status
	}
}
