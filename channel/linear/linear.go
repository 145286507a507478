// Package linear provides a Linear webhook channel for CodeSift.
//
// When a Linear issue is labeled with a trigger label (default: "codesift"),
// CodeSift runs a conversation turn from the issue title+description and
// posts the assistant's answer back as a comment on the issue, with any
// proposed file changes summarized.
//
// Setup:
//  1. Create a Linear webhook pointing at <server>/api/webhooks/linear
//  2. Enable "Issues" events
//  3. Set LINEAR_API_KEY in your environment
//  4. Optionally set LINEAR_TRIGGER_LABEL (default: "codesift"),
//     LINEAR_WEBHOOK_SECRET, and LINEAR_DEFAULT_REPO
package linear

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

const graphqlEndpoint = "https://api.linear.app/graphql"

// Conversations is the interface the engine implements for the channel.
type Conversations interface {
	CreateConversation(workspace, repo string) (*model.Conversation, error)
	SendMessage(conversationID, content string) (*model.Message, error)
}

// Channel is a webhook-based Linear channel for CodeSift.
type Channel struct {
	apiKey       string
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

// Option configures the Linear channel.
type Option func(*Channel)

// WithAddr sets the listen address for the webhook server (default ":7092").
func WithAddr(addr string) Option {
	return func(c *Channel) { c.addr = addr }
}

// New creates a new Linear webhook channel.
func New(apiKey, secret, triggerLabel, workspace, defaultRepo string, st store.ConversationStore, bus eventbus.Bus, eng Conversations, opts ...Option) *Channel {
	if triggerLabel == "" {
		triggerLabel = "codesift"
	}
	c := &Channel{
		apiKey:       apiKey,
		secret:       secret,
		triggerLabel: strings.ToLower(triggerLabel),
		workspace:    workspace,
		defaultRepo:  defaultRepo,
		store:        st,
		bus:          bus,
		engine:       eng,
		addr:         ":7092",
		issues:       make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string { return "linear" }

// Run starts the webhook HTTP server. Blocks until ctx is done.
func (c *Channel) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/webhooks/linear", c.handleWebhook)

	c.srv = &http.Server{Addr: c.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		c.srv.Close()
	}()

	log.Printf("Linear webhook listening on %s", c.addr)
	if err := c.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- Webhook handling ---

// linearWebhookPayload is the subset of Linear webhook fields we use.
type linearWebhookPayload struct {
	Action string          `json:"action"` // "create", "update"
	Type   string          `json:"type"`   // "Issue", "Comment", ...
	Data   linearIssueData `json:"data"`
}

type linearIssueData struct {
	ID          string        `json:"id"`
	Identifier  string        `json:"identifier"` // e.g. "ENG-123"
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Labels      []linearLabel `json:"labels"`
}

type linearLabel struct {
	Name string `json:"name"`
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

	var payload linearWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if payload.Type != "Issue" || !c.hasTriggerLabel(payload.Data.Labels) {
		w.WriteHeader(http.StatusOK)
		return
	}

	go c.processIssue(payload.Data)
	w.WriteHeader(http.StatusAccepted)
}

// verifySignature checks the Linear-Signature header, an HMAC-SHA256 of the
// raw request body keyed with the webhook secret.
func (c *Channel) verifySignature(r *http.Request, body []byte) bool {
	sig := r.Header.Get("Linear-Signature")
	if sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(expected))
}

func (c *Channel) hasTriggerLabel(labels []linearLabel) bool {
	for _, l := range labels {
		if strings.ToLower(l.Name) == c.triggerLabel {
			return true
		}
	}
	return false
}

func (c *Channel) processIssue(issue linearIssueData) {
	question := issue.Title
	if issue.Description != "" {
		question += "\n\n" + issue.Description
	}

	convID, err := c.conversationForIssue(issue.ID)
	if err != nil {
		log.Printf("Linear: failed to create conversation for issue %s: %v", issue.Identifier, err)
		c.postComment(issue.ID, fmt.Sprintf("Failed to start conversation: %s", err))
		return
	}

	if _, err := c.engine.SendMessage(convID, question); err != nil {
		log.Printf("Linear: failed to send message for issue %s: %v", issue.Identifier, err)
		c.postComment(issue.ID, fmt.Sprintf("Failed to process issue: %s", err))
		return
	}

	c.monitorTurn(convID, issue.ID)
}

// conversationForIssue returns the conversation bound to a Linear issue,
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
			b.WriteString(fmt.Sprintf("- %s `%s` (directive %d)\n", d.Kind, d.FilePath, d.ID))
		}
		b.WriteString("Apply with `codesift apply <directive-id>` or via the API.")
	}
	if b.Len() == 0 {
		b.WriteString("Turn complete (no answer produced).")
	}
	b.WriteString(fmt.Sprintf("\n\nConversation `%s`", conversationID))

	c.postComment(issueID, b.String())
}

// postComment adds a comment on a Linear issue via the GraphQL API.
func (c *Channel) postComment(issueID, body string) {
	mutation := `mutation CommentCreate($input: CommentCreateInput!) {
		commentCreate(input: $input) {
			success
		}
	}`

	payload := map[string]any{
		"query": mutation,
		"variables": map[string]any{
			"input": map[string]any{
				"issueId": issueID,
				"body":    body,
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Linear: failed to marshal comment payload: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, graphqlEndpoint, bytes.NewReader(data))
	if err != nil {
		log.Printf("Linear: failed to create request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("Linear: failed to post comment on issue %s: %v", issueID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Printf("Linear: comment API returned %d: %s", resp.StatusCode, respBody)
	}
}
