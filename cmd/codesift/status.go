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

var statusCmd = &cobra.Command{
	Use:   "status [conversation-id]",
	Short: "Get the status of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var changesCmd = &cobra.Command{
	Use:   "changes [conversation-id]",
	Short: "List proposed file changes for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runChanges,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(changesCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	id := args[0]

	resp, err := http.Get(serverURL + "/api/conversations/" + id)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var conv struct {
		ID        string `json:"id"`
		Workspace string `json:"workspace"`
		Repo      string `json:"repo"`
		Title     string `json:"title"`
		Status    string `json:"status"`
		Error     string `json:"error"`
		CreatedAt string `json:"created_at"`
		UpdatedAt string `json:"updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Conversation:  %s\n", conv.ID)
	fmt.Printf("Status:        %s\n", statusIcon(conv.Status))
	fmt.Printf("Workspace:     %s\n", conv.Workspace)
	if conv.Repo != "" {
		fmt.Printf("Repo:          %s\n", conv.Repo)
	}
	if conv.Title != "" {
		fmt.Printf("Title:         %s\n", conv.Title)
	}
	fmt.Printf("Created:       %s\n", conv.CreatedAt)
	fmt.Printf("Updated:       %s\n", conv.UpdatedAt)
	if conv.Error != "" {
		fmt.Printf("Error:         %s\n", conv.Error)
	}

	return nil
}

func runChanges(cmd *cobra.Command, args []string) error {
	id := args[0]

	resp, err := http.Get(serverURL + "/api/conversations/" + id + "/directives")
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var directives []struct {
		ID       int64  `json:"id"`
		Kind     string `json:"kind"`
		FilePath string `json:"file_path"`
		Applied  bool   `json:"applied"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&directives); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if len(directives) == 0 {
		fmt.Println("No proposed changes.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tFILE\tAPPLIED")
	for _, d := range directives {
		applied := "no"
		if d.Applied {
			applied = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.ID, d.Kind, d.FilePath, applied)
	}
	return w.Flush()
}
