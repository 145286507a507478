// Package telegram provides a Telegram bot channel for CodeSift.
//
// Uses long polling -- no public URL or webhook needed.
// Each Telegram chat maps to a conversation: send a question, get the
// assistant's answer back, with proposed file changes summarized.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

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

// Bot is the Telegram bot for CodeSift.
type Bot struct {
	api         *tgbotapi.BotAPI
	store       store.ConversationStore
	bus         eventbus.Bus
	engine      Conversations
	workspace   string
	defaultRepo string

	mu    sync.Mutex
	chats map[int64]string // chat ID -> conversation ID
}

// NewBot creates a new Telegram bot.
func NewBot(token, workspace, defaultRepo string, st store.ConversationStore, bus eventbus.Bus, eng Conversations) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating Telegram bot: %w", err)
	}

	log.Printf("Telegram bot authorized as @%s", api.Self.UserName)

	return &Bot{
		api:         api,
		store:       st,
		bus:         bus,
		engine:      eng,
		workspace:   workspace,
		defaultRepo: defaultRepo,
		chats:       make(map[int64]string),
	}, nil
}

// Name returns the channel name.
func (b *Bot) Name() string { return "telegram" }

// Run starts the long-polling loop. Blocks until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	log.Println("Telegram bot listening for messages...")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				go b.handleMessage(update.Message)
			}
		}
	}
}

// handleMessage processes an incoming message.
func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID
	replyTo := msg.MessageID

	// Handle /start command.
	if text == "/start" || text == "/help" {
		b.sendReply(chatID, replyTo, ""+
			"*CodeSift* \\- Chat with your codebase\\.\n\n"+
			"Send a question and I'll answer from the configured workspace:\n"+
			"`how does the retry logic in client.go work?`\n\n"+
			"Ask for a change and I'll propose file edits you can apply:\n"+
			"`add a timeout flag to the fetch command`\n\n"+
			"Use /reset to start a fresh conversation\\.")
		return
	}

	// /reset drops the chat's conversation so the next message starts fresh.
	if text == "/reset" {
		b.mu.Lock()
		delete(b.chats, chatID)
		b.mu.Unlock()
		b.sendReply(chatID, replyTo, "Conversation reset\\. Next message starts a new one\\.")
		return
	}

	if text == "" {
		return
	}

	convID, err := b.conversationForChat(chatID)
	if err != nil {
		b.sendReply(chatID, replyTo,
			fmt.Sprintf("Failed to start conversation: %s", escapeMarkdown(err.Error())))
		return
	}

	if _, err := b.engine.SendMessage(convID, text); err != nil {
		b.sendReply(chatID, replyTo, escapeMarkdown(err.Error()))
		return
	}

	// Monitor the turn in the background.
	go b.monitorTurn(convID, chatID, replyTo)
}

// conversationForChat returns the conversation bound to a Telegram chat,
// creating one on first message.
func (b *Bot) conversationForChat(chatID int64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.chats[chatID]; ok {
		return id, nil
	}
	conv, err := b.engine.CreateConversation(b.workspace, b.defaultRepo)
	if err != nil {
		return "", err
	}
	b.chats[chatID] = conv.ID
	return conv.ID, nil
}

// monitorTurn subscribes to conversation events and sends the reply.
func (b *Bot) monitorTurn(conversationID string, chatID int64, replyTo int) {
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
			b.sendReply(chatID, replyTo,
				fmt.Sprintf("❌ *Error:* %s", escapeMarkdown(event.Data)))
			return

		case "done":
			b.sendTurnReply(conversationID, chatID, replyTo, directives)
			return
		}
	}
}

// sendTurnReply sends the assistant's prose and a summary of proposed changes.
func (b *Bot) sendTurnReply(conversationID string, chatID int64, replyTo int, directives []*model.Directive) {
	msgs, err := b.store.GetMessages(conversationID)
	if err != nil || len(msgs) == 0 {
		log.Printf("Telegram: failed to load messages for conversation %s: %v", conversationID, err)
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
	// Long replies get uploaded as a document instead of flooding the chat.
	if len(prose) > 3500 {
		b.uploadReply(chatID, replyTo, conversationID, prose)
	} else {
		b.sendReply(chatID, replyTo, escapeMarkdown(prose))
	}

	if len(directives) > 0 {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("📝 *%d proposed file change\\(s\\):*\n", len(directives)))
		for _, d := range directives {
			sb.WriteString(fmt.Sprintf("• `%s` %s \\(directive %d\\)\n",
				escapeMarkdown(d.FilePath), escapeMarkdown(kindLabel(d.Kind)), d.ID))
		}
		sb.WriteString("Apply with `codesift apply <directive\\-id>`\\.")
		b.sendReply(chatID, replyTo, sb.String())
	}
}

// uploadReply sends a long assistant reply as a document attachment.
func (b *Bot) uploadReply(chatID int64, replyTo int, conversationID, content string) {
	filename := fmt.Sprintf("codesift-reply-%s.txt", conversationID)

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  filename,
		Bytes: []byte(content),
	})
	doc.ReplyToMessageID = replyTo
	doc.Caption = "Full reply attached"

	if _, err := b.api.Send(doc); err != nil {
		log.Printf("Telegram: failed to upload reply: %v", err)
		truncated := content
		if len(truncated) > 3500 {
			truncated = truncated[:3500] + "\n...(truncated)..."
		}
		b.sendReply(chatID, replyTo, escapeMarkdown(truncated))
	}
}

// sendReply sends a MarkdownV2 message as a reply.
func (b *Bot) sendReply(chatID int64, replyTo int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	msg.ParseMode = "MarkdownV2"

	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Telegram: failed to send message: %v", err)
		// Retry without markdown in case of parse errors.
		msg.ParseMode = ""
		msg.Text = stripMarkdown(text)
		b.api.Send(msg)
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

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"(", "\\(",
		")", "\\)",
		"~", "\\~",
		"`", "\\`",
		">", "\\>",
		"#", "\\#",
		"+", "\\+",
		"-", "\\-",
		"=", "\\=",
		"|", "\\|",
		"{", "\\{",
		"}", "\\}",
		".", "\\.",
		"!", "\\!",
	)
	return replacer.Replace(s)
}

// stripMarkdown removes MarkdownV2 escape sequences for plain text fallback.
func stripMarkdown(s string) string {
	r := strings.NewReplacer(
		"\\*", "*",
		"\\_", "_",
		"\\[", "[",
		"\\]", "]",
		"\\(", "(",
		"\\)", ")",
		"\\~", "~",
		"\\`", "`",
		"\\>", ">",
		"\\#", "#",
		"\\+", "+",
		"\\-", "-",
		"\\=", "=",
		"\\|", "|",
		"\\{", "{",
		"\\}", "}",
		"\\.", ".",
		"\\!", "!",
	)
	return r.Replace(s)
}
