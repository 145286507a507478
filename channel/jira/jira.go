// Package jira provides a Jira webhook channel for CodeSift.
//
// When a Jira issue is labeled with a trigger label (default: "codesift"),
// CodeSift runs a conversation turn from the issue summary+description and
// posts the assistant's answer back as a comment on the issue, with any
// proposed file changes summarized.
//
// Setup:
//  1. Create a Jira webhook pointing at <server>/api/webhooks/jira
//  2. Select "issue updated" events (or use automation to fire on label add)
//  3. Set JIRA_BASE_URL, JIRA_USER_EMAIL, and JIRA_API_TOKEN in your environment
//  4. Optionally set JIRA_TRIGGER_LABEL (default: "codesift"),
//     JIRA_WEBHOOK_SECRET, and JIRA_DEFAULT_REPO
package jira

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/codesift/codesift/eventbus"
	"github.com/codesift/codesift/model"
	"github.com/codesift/codesift/store"
	"github.com/codesift/codesift/transcript"
)

// Conversations is the interface the engine implements for the channel.
type Conversations interface {
	CreateConversation(workspace, repo string) (*model.Conversation, error)
	SendMessage(conversationID, content string) (*model.Message, error)
}

// Channel is a webhook-based Jira channel for CodeSift.
type Channel struct {
	baseURL      string // e.g. "https://yourcompany.atlassian.net"
	userEmail    string
	apiToken     string
	secret       string
	triggerLabel string
	workspace    string
	defaultRepo  string
	store        store.ConversationStore
	bus          eventbus.Bus
	engine       Conversations
	srv          *http.Server
	addr         string

	mu     sync.Mutex
	issues map[string]string // issue ID -> conversation ID
}

// Option configures the Jira channel.
type Option func(*Channel)

// WithAddr sets the listen address for the webhook server (default ":7091").
func WithAddr(addr string) Option {
	return func(c *Channel) { c.addr = addr }
}

// New creates a new Jira webhook channel.
func New(baseURL, userEmail, apiToken, secret, triggerLabel, workspace, defaultRepo string, st store.ConversationStore, bus eventbus.Bus, eng Conversations, opts ...Option) *Channel {
	if triggerLabel == "" {
		triggerLabel = "codesift"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Channel{
		baseURL:      baseURL,
		userEmail:    userEmail,
		apiToken:     apiToken,
		secret:       secret,
		triggerLabel: strings.ToLower(triggerLabel),
		workspace:    workspace,
		defaultRepo:  defaultRepo,
		store:        st,
		bus:          bus,
		engine:       eng,
		addr:         ":7091",
		issues:       make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string { return "jira" }

// Run starts the webhook HTTP server. Blocks until ctx is done.
func (c *Channel) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/webhooks/jira", c.handleWebhook)

	c.srv = &http.Server{Addr: c.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		c.srv.Close()
	}()

	log.Printf("Jira webhook listening on %s", c.addr)
	if err := c.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- Webhook handling ---

// jiraWebhookPayload is the subset of Jira webhook fields we use.
type jiraWebhookPayload struct {
	WebhookEvent string    `json:"webhookEvent"` // "jira:issue_updated", "jira:issue_created"
	Issue        jiraIssue `json:"issue"`
}

type jiraIssue struct {
	ID     string          `json:"id"`
	Key    string          `json:"key"` // e.g. "PROJ-123"
	Fields jiraIssueFields `json:"fields"`
}

type jiraIssueFields struct {
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
}

func (c *Channel) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if c.secret != "" && !c.verifySignature(r, body) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload jiraWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if !c.hasTriggerLabel(payload.Issue.Fields.Labels) {
		w.WriteHeader(http.StatusOK)
		return
	}

	go c.processIssue(payload.Issue)
	w.WriteHeader(http.StatusAccepted)
}

func (c *Channel) verifySignature(r *http.Request, body []byte) bool {
	sig := r.Header.Get("X-Hub-Signature")
	if sig == "" {
		return false
	}
	// Jira webhooks with secret use HMAC-SHA256 in "sha256=<hex>" format.
	sig = strings.TrimPrefix(sig, "sha256=")
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(expected))
}

func (c *Channel) hasTriggerLabel(labels []string) bool {
	for _, l := range labels {
		if strings.ToLower(l) == c.triggerLabel {
			return true
		}
	}
	return false
}

func (c *Channel) processIssue(issue jiraIssue) {
	question := issue.Fields.Summary
	if issue.Fields.Description != "" {
		question += "\n\n" + issue.Fields.Description
	}

	convID, err := c.conversationForIssue(issue.ID)
	if err != nil {
		log.Printf("Jira: failed to create conversation for issue %s: %v", issue.Key, err)
		c.postComment(issue.ID, fmt.Sprintf("Failed to start conversation: %s", err))
		return
	}

	if _, err := c.engine.SendMessage(convID, question); err != nil {
		log.Printf("Jira: failed to send message for issue %s: %v", issue.Key, err)
		c.postComment(issue.ID, fmt.Sprintf("Failed to process issue: %s", err))
		return
	}

	c.monitorTurn(convID, issue.ID)
}

// conversationForIssue returns the conversation bound to a Jira issue,
// creating one when the issue is first labeled.
func (c *Channel) conversationForIssue(issueID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.issues[issueID]; ok {
		return id, nil
	}
	conv, err := c.engine.CreateConversation(c.workspace, c.defaultRepo)
	if err != nil {
		return "", err
	}
	c.issues[issueID] = conv.ID
	return conv.ID, nil
}

func (c *Channel) monitorTurn(conversationID, issueID string) {
	ch := c.bus.Subscribe(conversationID)
	defer c.bus.Unsubscribe(conversationID, ch)

	var directives []*model.Directive
	for event := range ch {
		switch event.Type {
		case "directive":
			var d model.Directive
			if err := json.Unmarshal([]byte(event.Data), &d); err == nil {
				directives = append(directives, &d)
			}
		case "error":
			c.postComment(issueID, fmt.Sprintf("Error: %s", event.Data))
			return
		case "done":
			c.postReply(conversationID, issueID, directives)
			return
		}
	}
}

func (c *Channel) postReply(conversationID, issueID string, directives []*model.Directive) {
	msgs, err := c.store.GetMessages(conversationID)
	if err != nil || len(msgs) == 0 {
		c.postComment(issueID, "Turn complete.")
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role != "assistant" {
		return
	}

	var prose []string
	for _, seg := range transcript.Parse(last.Content) {
		if seg.Kind == transcript.KindProse {
			if t := strings.TrimSpace(seg.Text); t != "" {
				prose = append(prose, t)
			}
		}
	}
	answer := strings.Join(prose, "\n\n")
	if len(answer) > 2000 {
		answer = answer[:2000] + "\n...(truncated)"
	}

	var b strings.Builder
	if answer != "" {
		b.WriteString(answer)
	}
	if len(directives) > 0 {
		b.WriteString(fmt.Sprintf("\n\n%d proposed file change(s):\n", len(directives)))
		for _, d := range directives {
			b.WriteString(fmt.Sprintf("- %s %s (directive %d)\n", d.Kind, d.FilePath, d.ID))
		}
		b.WriteString("Apply with `codesift apply <directive-id>` or via the API.")
	}
	if b.Len() == 0 {
		b.WriteString("Turn complete (no answer produced).")
	}
	b.WriteString(fmt.Sprintf("\n\nConversation %s", conversationID))

	c.postComment(issueID, b.String())
}

// postComment adds a comment on a Jira issue via the REST API v3.
func (c *Channel) postComment(issueID, body string) {
	// Jira Cloud REST API v3 uses Atlassian Document Format (ADF).
	payload := map[string]any{
		"body": map[string]any{
			"version": 1,
			"type":    "doc",
			"content": []any{
				map[string]any{
					"type": "paragraph",
					"content": []any{
						map[string]any{
							"type": "text",
							"text": body,
						},
					},
				},
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Jira: failed to marshal comment payload: %v", err)
		return
	}

	url := fmt.Sprintf("%s/rest/api/3/issue/%s/comment", c.baseURL, issueID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		log.Printf("Jira: failed to create request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.userEmail, c.apiToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("Jira: failed to post comment on issue %s: %v", issueID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Printf("Jira: comment API returned %d: %s", resp.StatusCode, respBody)
	}
}
