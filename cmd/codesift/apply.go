package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply [directive-id]",
	Short: "Apply a proposed file change to the workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runApply,
}

var prCmd = &cobra.Command{
	Use:   "pr [conversation-id]",
	Short: "Open a pull request from a conversation's applied changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runPR,
}

func init() {
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(prCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	id := args[0]

	resp, err := http.Post(serverURL+"/api/directives/"+id+"/apply", "application/json", nil)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: codesift serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var d struct {
		Kind     string `json:"kind"`
		FilePath string `json:"file_path"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Applied %s to %s\n", d.Kind, d.FilePath)
	return nil
}

func runPR(cmd *cobra.Command, args []string) error {
	id := args[0]

	resp, err := http.Post(serverURL+"/api/conversations/"+id+"/pr", "application/json", nil)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: codesift serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var pr struct {
		URL    string `json:"url"`
		Number int    `json:"number"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("✓ PR #%d created: %s\n", pr.Number, pr.URL)
	return nil
}
