// Package engine orchestrates conversation turns: it streams provider
// deltas, re-parses the growing assistant transcript on every chunk, and
// persists the directives extracted from the completed reply.
// It depends only on interfaces (store, llm, gitprovider, eventbus).
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codesift/codesift/apply"
	"github.com/codesift/codesift/eventbus"
	"github.com/codesift/codesift/gitprovider"
	"github.com/codesift/codesift/llm"
	"github.com/codesift/codesift/model"
	"github.com/codesift/codesift/store"
	"github.com/codesift/codesift/transcript"
)

// Config holds engine-specific configuration.
type Config struct {
	// SystemPrompt overrides the default system prompt sent to the provider.
	SystemPrompt string

	// MaxMessages is the max user messages per conversation (default 50).
	MaxMessages int

	// StreamTimeout bounds a single streaming turn (default 5m).
	StreamTimeout time.Duration

	// Context supplies workspace code context for each turn. Optional.
	Context ContextSource
}

// ContextSource retrieves workspace code relevant to a query, formatted for
// inclusion in the system prompt.
type ContextSource interface {
	Context(ctx context.Context, workspace, query string) (string, error)
}

// Engine orchestrates CodeSift conversation lifecycle.
type Engine struct {
	config Config
	store  store.ConversationStore
	bus    eventbus.Bus
	llm    llm.Client
	git    gitprovider.Provider

	// live holds the in-flight assistant transcript per conversation so the
	// segments endpoint can serve a parse mid-turn.
	liveMu sync.Mutex
	live   map[string]string

	// sendMu serializes the idle check and the streaming transition so two
	// concurrent SendMessage calls cannot both start a turn.
	sendMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Engine with all dependencies.
func New(cfg Config, st store.ConversationStore, bus eventbus.Bus, client llm.Client, git gitprovider.Provider) *Engine {
	if cfg.MaxMessages == 0 {
		cfg.MaxMessages = 50
	}
	if cfg.StreamTimeout == 0 {
		cfg.StreamTimeout = 5 * time.Minute
	}
	return &Engine{
		config: cfg,
		store:  st,
		bus:    bus,
		llm:    client,
		git:    git,
		live:   make(map[string]string),
	}
}

// Start starts background goroutines (stale turn reaper). Call Stop to shut down.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.reapStaleTurns(e.ctx)
	}()
}

// Stop cancels all background work and waits for goroutines to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Store returns the conversation store.
func (e *Engine) Store() store.ConversationStore { return e.store }

// Bus returns the event bus.
func (e *Engine) Bus() eventbus.Bus { return e.bus }

// CreateConversation creates a conversation bound to a workspace directory.
func (e *Engine) CreateConversation(workspace, repo string) (*model.Conversation, error) {
	if workspace == "" {
		return nil, fmt.Errorf("workspace is required")
	}

	id := uuid.New().String()[:8]
	now := time.Now().UTC()

	conv := &model.Conversation{
		ID:        id,
		Workspace: workspace,
		Repo:      repo,
		Status:    model.StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.store.CreateConversation(conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	e.emitEvent(conv.ID, "status", "Ready")
	return conv, nil
}

// SendMessage stores a user message, marks the conversation streaming, and
// starts the assistant turn. The status transition happens before this
// returns so pollers never observe an idle conversation with a turn pending.
func (e *Engine) SendMessage(conversationID, content string) (*model.Message, error) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	conv, err := e.store.GetConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation not found: %w", err)
	}
	if conv.Status == model.StatusStreaming {
		return nil, fmt.Errorf("conversation is streaming, wait for the current turn to finish")
	}

	msgs, _ := e.store.GetMessages(conversationID)
	userMsgCount := 0
	for _, m := range msgs {
		if m.Role == "user" {
			userMsgCount++
		}
	}
	if userMsgCount >= e.config.MaxMessages {
		return nil, fmt.Errorf("message limit reached (%d messages)", e.config.MaxMessages)
	}

	msg := &model.Message{
		ConversationID: conversationID,
		Role:           "user",
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.AddMessage(msg); err != nil {
		return nil, fmt.Errorf("storing message: %w", err)
	}

	if conv.Title == "" {
		conv.Title = model.Truncate(content, 60)
	}
	conv.Status = model.StatusStreaming
	if err := e.store.UpdateConversation(conv); err != nil {
		return nil, fmt.Errorf("marking conversation streaming: %w", err)
	}
	e.emitEvent(conv.ID, "status", "Thinking...")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runTurn(conversationID)
	}()

	return msg, nil
}

func (e *Engine) runTurn(conversationID string) {
	parent := e.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, e.config.StreamTimeout)
	defer cancel()

	conv, err := e.store.GetConversation(conversationID)
	if err != nil {
		log.Printf("conversation %s not found while starting turn: %v", conversationID, err)
		return
	}

	msgs, err := e.store.GetMessages(conversationID)
	if err != nil {
		e.failConversation(conv, fmt.Sprintf("loading history: %v", err))
		return
	}
	history := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}

	system := e.systemPrompt()
	if e.config.Context != nil && len(history) > 0 {
		query := history[len(history)-1].Content
		codeCtx, err := e.config.Context.Context(ctx, conv.Workspace, query)
		if err != nil {
			// Retrieval failure degrades the turn, it does not fail it.
			log.Printf("Context retrieval failed for conversation %s: %v", conv.ID, err)
		} else if codeCtx != "" {
			system += "\n\n" + codeCtx
		}
	}

	e.setLive(conversationID, "")
	full, err := e.llm.Stream(ctx, system, history, func(delta string) {
		text := e.appendLive(conversationID, delta)
		e.emitEvent(conversationID, "delta", delta)
		e.publishSegments(conversationID, text)
	})
	e.clearLive(conversationID)

	if err != nil {
		e.failConversation(conv, fmt.Sprintf("provider stream failed: %v", err))
		return
	}
	if full == "" {
		full = "(no output)"
	}

	assistantMsg := &model.Message{
		ConversationID: conv.ID,
		Role:           "assistant",
		Content:        full,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.AddMessage(assistantMsg); err != nil {
		e.failConversation(conv, fmt.Sprintf("storing assistant message: %v", err))
		return
	}

	count := e.persistDirectives(conv.ID, assistantMsg.ID, full)

	conv.Status = model.StatusIdle
	conv.Error = ""
	e.store.UpdateConversation(conv)
	e.emitEvent(conv.ID, "done", fmt.Sprintf("turn complete (%d directives)", count))
}

// persistDirectives parses the completed transcript and stores each
// completed directive segment. Incomplete tails never reach the store.
func (e *Engine) persistDirectives(conversationID string, messageID int64, text string) int {
	count := 0
	for _, seg := range transcript.Parse(text) {
		var d *model.Directive
		switch seg.Kind {
		case transcript.KindNewFile, transcript.KindRewriteFile:
			d = &model.Directive{
				Kind:     string(seg.Kind),
				FilePath: seg.FilePath,
				Content:  seg.Content,
			}
		case transcript.KindEdit:
			d = &model.Directive{
				Kind:     string(seg.Kind),
				FilePath: seg.FilePath,
				Search:   seg.Search,
				Replace:  seg.Replace,
			}
		default:
			continue
		}

		d.ConversationID = conversationID
		d.MessageID = messageID
		d.CreatedAt = time.Now().UTC()

		if err := e.store.AddDirective(d); err != nil {
			log.Printf("Error storing directive for conversation %s: %v", conversationID, err)
			continue
		}
		count++

		data, err := json.Marshal(d)
		if err != nil {
			log.Printf("Error encoding directive event: %v", err)
			continue
		}
		e.emitEvent(conversationID, "directive", string(data))
	}
	return count
}

// Segments returns the parse of the conversation's current assistant text:
// the in-flight transcript while a turn is streaming, otherwise the latest
// stored assistant message.
func (e *Engine) Segments(conversationID string) ([]transcript.Segment, error) {
	if text, ok := e.getLive(conversationID); ok {
		return transcript.Parse(text), nil
	}

	msgs, err := e.store.GetMessages(conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" {
			return transcript.Parse(msgs[i].Content), nil
		}
	}
	return nil, nil
}

// ApplyDirective applies a stored directive to its conversation's workspace
// and marks it applied.
func (e *Engine) ApplyDirective(directiveID int64) (*model.Directive, error) {
	d, err := e.store.GetDirective(directiveID)
	if err != nil {
		return nil, fmt.Errorf("directive not found: %w", err)
	}
	if d.Applied {
		return nil, fmt.Errorf("directive %d already applied", directiveID)
	}

	conv, err := e.store.GetConversation(d.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation not found: %w", err)
	}

	ws := apply.New(conv.Workspace)
	if err := ws.Apply(d); err != nil {
		e.emitEvent(conv.ID, "error", fmt.Sprintf("apply failed: %v", err))
		return nil, err
	}

	if err := e.store.MarkDirectiveApplied(d.ID); err != nil {
		return nil, fmt.Errorf("marking directive applied: %w", err)
	}
	d.Applied = true

	e.emitEvent(conv.ID, "status", fmt.Sprintf("Applied %s to %s", d.Kind, d.FilePath))
	return d, nil
}

// CreatePRFromConversation pushes the files touched by applied directives to
// a new branch and opens a pull request.
func (e *Engine) CreatePRFromConversation(conversationID string) (string, int, error) {
	conv, err := e.store.GetConversation(conversationID)
	if err != nil {
		return "", 0, fmt.Errorf("conversation not found: %w", err)
	}
	if conv.Repo == "" {
		return "", 0, fmt.Errorf("conversation %s has no repository configured", conversationID)
	}
	if e.git == nil {
		return "", 0, fmt.Errorf("no git provider configured (set GITHUB_TOKEN)")
	}

	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	directives, err := e.store.GetDirectives(conversationID)
	if err != nil {
		return "", 0, fmt.Errorf("loading directives: %w", err)
	}

	ws := apply.New(conv.Workspace)
	files, err := appliedFiles(ws, directives)
	if err != nil {
		return "", 0, err
	}
	if len(files) == 0 {
		return "", 0, fmt.Errorf("no applied directives to push")
	}

	e.emitEvent(conv.ID, "status", "Pushing changes...")

	defaultBranch, err := e.git.GetDefaultBranch(ctx, conv.Repo)
	if err != nil {
		defaultBranch = "main"
	}

	branch := fmt.Sprintf("codesift/%s", conv.ID)
	commitMsg := fmt.Sprintf("codesift: %s", model.Truncate(conv.Title, 72))
	if err := e.git.PushFiles(ctx, conv.Repo, branch, defaultBranch, commitMsg, files); err != nil {
		return "", 0, fmt.Errorf("pushing files: %w", err)
	}

	e.emitEvent(conv.ID, "status", "Creating pull request...")

	msgs, _ := e.store.GetMessages(conversationID)
	prBody := fmt.Sprintf("## CodeSift Conversation `%s`\n\n", conv.ID)
	for _, m := range msgs {
		if m.Role == "user" {
			prBody += fmt.Sprintf("> **You:** %s\n\n", m.Content)
		}
	}
	prBody += "---\n*Created by CodeSift*"

	prURL, prNumber, err := e.git.CreatePR(ctx, gitprovider.PROptions{
		Repo:   conv.Repo,
		Branch: branch,
		Base:   defaultBranch,
		Title:  commitMsg,
		Body:   prBody,
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to create PR: %w", err)
	}

	e.emitEvent(conv.ID, "done", prURL)
	return prURL, prNumber, nil
}

// appliedFiles reads the current workspace content of every file touched by
// an applied directive, deduplicated by path.
func appliedFiles(ws *apply.Workspace, directives []*model.Directive) ([]gitprovider.File, error) {
	seen := make(map[string]bool)
	var files []gitprovider.File
	for _, d := range directives {
		if !d.Applied || seen[d.FilePath] {
			continue
		}
		seen[d.FilePath] = true

		content, err := ws.Read(d.FilePath)
		if err != nil {
			return nil, fmt.Errorf("reading applied file %s: %w", d.FilePath, err)
		}
		files = append(files, gitprovider.File{Path: d.FilePath, Content: content})
	}
	return files, nil
}

func (e *Engine) reapStaleTurns(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			convs, err := e.store.ListConversations()
			if err != nil {
				log.Printf("reaper: list conversations failed: %v", err)
				continue
			}
			for _, conv := range convs {
				if conv.Status != model.StatusStreaming {
					continue
				}
				if time.Since(conv.UpdatedAt) > 2*e.config.StreamTimeout {
					log.Printf("Reaping stale streaming conversation %s (stuck for %v)", conv.ID, time.Since(conv.UpdatedAt))
					e.failConversation(conv, "turn timed out")
				}
			}
		}
	}
}

// --- Live transcript tracking ---

func (e *Engine) setLive(conversationID, text string) {
	e.liveMu.Lock()
	e.live[conversationID] = text
	e.liveMu.Unlock()
}

func (e *Engine) appendLive(conversationID, delta string) string {
	e.liveMu.Lock()
	defer e.liveMu.Unlock()
	e.live[conversationID] += delta
	return e.live[conversationID]
}

func (e *Engine) getLive(conversationID string) (string, bool) {
	e.liveMu.Lock()
	defer e.liveMu.Unlock()
	text, ok := e.live[conversationID]
	return text, ok
}

func (e *Engine) clearLive(conversationID string) {
	e.liveMu.Lock()
	delete(e.live, conversationID)
	e.liveMu.Unlock()
}

// --- Helpers ---

func (e *Engine) systemPrompt() string {
	if e.config.SystemPrompt != "" {
		return e.config.SystemPrompt
	}
	return DefaultSystemPrompt
}

func (e *Engine) failConversation(conv *model.Conversation, errMsg string) {
	log.Printf("Conversation %s failed: %s", conv.ID, errMsg)
	conv.Status = model.StatusError
	conv.Error = errMsg
	e.store.UpdateConversation(conv)
	e.emitEvent(conv.ID, "error", errMsg)
}

func (e *Engine) emitEvent(conversationID, eventType, data string) {
	event := &model.Event{
		ConversationID: conversationID,
		Type:           eventType,
		Data:           data,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.AddEvent(event); err != nil {
		log.Printf("Error storing event: %v", err)
	}
	e.bus.Publish(conversationID, event)
}

// publishSegments pushes the current parse of the in-flight transcript to
// subscribers. Segment events are transient: every delta supersedes the
// previous list, so they are not persisted.
func (e *Engine) publishSegments(conversationID, text string) {
	segs := transcript.Parse(text)
	data, err := json.Marshal(segs)
	if err != nil {
		log.Printf("Error encoding segments: %v", err)
		return
	}
	e.bus.Publish(conversationID, &model.Event{
		ConversationID: conversationID,
		Type:           "segments",
		Data:           string(data),
		CreatedAt:      time.Now().UTC(),
	})
}
