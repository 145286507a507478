// Package slack provides a Slack bot channel for CodeSift using Socket Mode.
//
// Socket Mode connects to Slack via WebSocket -- no public URL needed.
// The bot listens for @mentions, maps each Slack thread to a conversation,
// streams the assistant's answer back into the thread, and summarizes any
// proposed file changes so they can be applied via the API or CLI.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/codesift/codesift/eventbus"
	"github.com/codesift/codesift/model"
	"github.com/codesift/codesift/store"
	"github.com/codesift/codesift/transcript"
)

// Conversations is the interface the engine implements for the bot.
type Conversations interface {
	CreateConversation(workspace, repo string) (*model.Conversation, error)
	SendMessage(conversationID, content string) (*model.Message, error)
}

// Bot is the Slack Socket Mode bot for CodeSift.
type Bot struct {
	api          *slack.Client
	socketClient *socketmode.Client
	store        store.ConversationStore
	bus          eventbus.Bus
	engine       Conversations
	workspace    string
	defaultRepo  string

	mu      sync.Mutex
	threads map[string]string // thread timestamp -> conversation ID
}

// NewBot creates a new Slack Socket Mode bot.
func NewBot(botToken, appToken, workspace, defaultRepo string, st store.ConversationStore, bus eventbus.Bus, eng Conversations) *Bot {
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socketClient := socketmode.New(
		api,
		socketmode.OptionLog(log.New(log.Writer(), "slack-socketmode: ", log.LstdFlags)),
	)

	return &Bot{
		api:          api,
		socketClient: socketClient,
		store:        st,
		bus:          bus,
		engine:       eng,
		workspace:    workspace,
		defaultRepo:  defaultRepo,
		threads:      make(map[string]string),
	}
}

// Name returns the channel name.
func (b *Bot) Name() string { return "slack" }

// Run connects to Slack via Socket Mode and processes events.
// It blocks until the context is canceled or a fatal error occurs.
func (b *Bot) Run(ctx context.Context) error {
	go b.eventLoop(ctx)
	log.Println("Slack bot connecting via Socket Mode...")
	return b.socketClient.RunContext(ctx)
}

// eventLoop reads events from the Socket Mode client and dispatches them.
func (b *Bot) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socketClient.Events:
			if !ok {
				return
			}
			b.handleEvent(evt)
		}
	}
}

// handleEvent dispatches a single Socket Mode event.
func (b *Bot) handleEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Println("Slack: connecting...")
	case socketmode.EventTypeConnected:
		log.Println("Slack: connected")
	case socketmode.EventTypeConnectionError:
		log.Println("Slack: connection error, will retry...")
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		// Acknowledge immediately (Slack requires ack within 3 seconds).
		b.socketClient.Ack(*evt.Request)

		if eventsAPIEvent.Type == slackevents.CallbackEvent {
			b.handleCallbackEvent(eventsAPIEvent.InnerEvent)
		}
	case socketmode.EventTypeInteractive:
		// Acknowledge interactive events even if we don't handle them yet.
		b.socketClient.Ack(*evt.Request)
	}
}

// handleCallbackEvent routes inner Events API events.
func (b *Bot) handleCallbackEvent(innerEvent slackevents.EventsAPIInnerEvent) {
	switch ev := innerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		go b.handleMention(ev)
	}
}

// handleMention processes an @mention of the bot.
func (b *Bot) handleMention(ev *slackevents.AppMentionEvent) {
	// Strip the bot mention (<@U12345>) from the text to get the message.
	content := ev.Text
	if idx := strings.Index(content, ">"); idx >= 0 {
		content = strings.TrimSpace(content[idx+1:])
	}

	// Reply in the thread of the original message.
	threadTS := ev.TimeStamp
	if ev.ThreadTimeStamp != "" {
		threadTS = ev.ThreadTimeStamp
	}

	if content == "" {
		b.postThread(ev.Channel, threadTS,
			"Ask me something about the codebase. Example:\n`@codesift how does the auth middleware work?`")
		return
	}

	convID, err := b.conversationForThread(threadTS)
	if err != nil {
		b.postThread(ev.Channel, threadTS,
			fmt.Sprintf(":x: Failed to start conversation: %s", err))
		return
	}

	if _, err := b.engine.SendMessage(convID, content); err != nil {
		b.postThread(ev.Channel, threadTS,
			fmt.Sprintf(":x: %s", err))
		return
	}

	// Monitor the turn in the background and post the reply when it completes.
	go b.monitorTurn(convID, ev.Channel, threadTS)
}

// conversationForThread returns the conversation bound to a Slack thread,
// creating one on first mention.
func (b *Bot) conversationForThread(threadTS string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.threads[threadTS]; ok {
		return id, nil
	}
	conv, err := b.engine.CreateConversation(b.workspace, b.defaultRepo)
	if err != nil {
		return "", err
	}
	b.threads[threadTS] = conv.ID
	return conv.ID, nil
}

// monitorTurn subscribes to conversation events and posts the assistant's
// reply to the Slack thread once the turn completes.
func (b *Bot) monitorTurn(conversationID, channel, threadTS string) {
	ch := b.bus.Subscribe(conversationID)
	defer b.bus.Unsubscribe(conversationID, ch)

	var directives []*model.Directive
	for event := range ch {
		switch event.Type {
		case "directive":
			var d model.Directive
			if err := json.Unmarshal([]byte(event.Data), &d); err == nil {
				directives = append(directives, &d)
			}

		case "error":
			b.postThread(channel, threadTS,
				fmt.Sprintf(":x: *Error:* %s", event.Data))
			return

		case "done":
			b.postReply(conversationID, channel, threadTS, directives)
			return

		// Skip "delta" and "segments" events to avoid flooding the thread.
		// The full reply is posted when the turn completes.
		}
	}
}

// postReply posts the assistant's prose and a summary of proposed changes.
func (b *Bot) postReply(conversationID, channel, threadTS string, directives []*model.Directive) {
	msgs, err := b.store.GetMessages(conversationID)
	if err != nil || len(msgs) == 0 {
		log.Printf("Slack: failed to load messages for conversation %s: %v", conversationID, err)
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role != "assistant" {
		return
	}

	prose := proseOf(last.Content)
	if prose == "" {
		prose = "(proposed file changes below)"
	}
	b.postThread(channel, threadTS, prose)

	if len(directives) > 0 {
		b.postDirectiveSummary(channel, threadTS, directives)
	}
}

// postDirectiveSummary posts a Block Kit message listing proposed changes.
func (b *Bot) postDirectiveSummary(channel, threadTS string, directives []*model.Directive) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(":memo: *%d proposed file change(s):*\n", len(directives)))
	for _, d := range directives {
		sb.WriteString(fmt.Sprintf("• `%s` %s (directive %d)\n", d.FilePath, kindLabel(d.Kind), d.ID))
	}
	sb.WriteString("Apply with `codesift apply <directive-id>` or via the API.")

	headerText := slack.NewTextBlockObject(slack.MarkdownType, sb.String(), false, false)
	headerSection := slack.NewSectionBlock(headerText, nil, nil)

	_, _, err := b.api.PostMessage(channel,
		slack.MsgOptionBlocks(headerSection, slack.NewDividerBlock()),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		log.Printf("Slack: failed to post directive summary: %v", err)
		b.postThread(channel, threadTS, sb.String())
	}
}

// postThread sends a plain text message as a thread reply.
func (b *Bot) postThread(channel, threadTS, text string) {
	_, _, err := b.api.PostMessage(channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		log.Printf("Slack: failed to post message to %s: %v", channel, err)
	}
}

// proseOf extracts the prose portions of an assistant reply, dropping the
// embedded directive blocks.
func proseOf(content string) string {
	var parts []string
	for _, seg := range transcript.Parse(content) {
		if seg.Kind == transcript.KindProse {
			if t := strings.TrimSpace(seg.Text); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

func kindLabel(kind string) string {
	switch kind {
	case "new_file":
		return "new file"
	case "rewrite_file":
		return "rewrite"
	case "edit":
		return "edit"
	default:
		return kind
	}
}
