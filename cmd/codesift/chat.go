package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	chatWorkspace    string
	chatRepo         string
	chatConversation string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Ask a question about the workspace",
	Long: `Send a message to a conversation and stream the assistant's reply.
A new conversation is created unless --conversation is given.

Example:
  codesift chat "how does the retry logic in client.go work?"
  codesift chat "add a timeout flag" --workspace ~/src/myapp --repo myorg/myapp
  codesift chat "make it configurable too" --conversation a1b2c3d4`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatWorkspace, "workspace", "w", "", "Workspace directory (default: current directory)")
	chatCmd.Flags().StringVarP(&chatRepo, "repo", "r", "", "GitHub repository for PRs (owner/repo)")
	chatCmd.Flags().StringVarP(&chatConversation, "conversation", "c", "", "Continue an existing conversation")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	content := args[0]

	convID := chatConversation
	if convID == "" {
		var err error
		convID, err = createConversation()
		if err != nil {
			return err
		}
		fmt.Printf("Conversation %s started\n\n", convID)
	}

	// Open the event stream before sending so no live events are missed.
	// Stored events are replayed first; everything after the replay marker
	// belongs to the new turn.
	req, _ := http.NewRequest("GET", serverURL+"/api/conversations/"+convID+"/events", nil)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	if err := skipReplay(scanner); err != nil {
		return err
	}

	if err := sendMessage(convID, content); err != nil {
		return err
	}

	return printEvents(scanner)
}

func createConversation() (string, error) {
	workspace := chatWorkspace
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determining workspace: %w", err)
		}
		workspace = wd
	}

	payload := map[string]string{"workspace": workspace}
	if chatRepo != "" {
		payload["repo"] = chatRepo
	}
	body, _ := json.Marshal(payload)

	resp, err := http.Post(serverURL+"/api/conversations", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: codesift serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	var conv struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	return conv.ID, nil
}

func sendMessage(conversationID, content string) error {
	body, _ := json.Marshal(map[string]string{"content": content})
	resp, err := http.Post(serverURL+"/api/conversations/"+conversationID+"/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: codesift serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// skipReplay consumes the stored-event replay up to the replay marker.
func skipReplay(scanner *bufio.Scanner) error {
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), ": replay complete") {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("event stream closed before replay completed")
}

// printEvents renders live events until the turn completes.
func printEvents(scanner *bufio.Scanner) error {
	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		var event struct {
			Type string `json:"type"`
			Data string `json:"data"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "status":
			fmt.Printf("\033[36m[%s]\033[0m\n", event.Data)
		case "delta":
			fmt.Print(event.Data)
		case "directive":
			var d struct {
				ID       int64  `json:"id"`
				Kind     string `json:"kind"`
				FilePath string `json:"file_path"`
			}
			if err := json.Unmarshal([]byte(event.Data), &d); err == nil {
				fmt.Printf("\n\033[33m[change]\033[0m %s %s (apply with: codesift apply %d)\n", d.Kind, d.FilePath, d.ID)
			}
		case "error":
			fmt.Fprintf(os.Stderr, "\n\033[31m[error]\033[0m %s\n", event.Data)
			return nil
		case "done":
			fmt.Printf("\n\033[32m✓\033[0m %s\n", event.Data)
			return nil
		}
	}

	return scanner.Err()
}
