// Package telegram implements the chat gateway on Telegram using long
// polling -- no public URL or webhook needed.
//
// Telegram has no native thread objects in private chats; a conversation
// thread is keyed by the chat id plus the id of the first message in the
// exchange. Operations the Bot API does not offer (thread history,
// reactions) return ErrUnsupported so callers can degrade gracefully.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/threadrelay/threadrelay/gateway"
)

// ErrUnsupported marks gateway operations the Telegram Bot API cannot serve.
var ErrUnsupported = errors.New("not supported by the Telegram Bot API")

// Bot is the Telegram long-polling gateway.
type Bot struct {
	api     *tgbotapi.BotAPI
	handler gateway.Handler
}

// NewBot creates a Telegram gateway.
func NewBot(token string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating Telegram bot: %w", err)
	}
	log.Printf("telegram: authorized as @%s", api.Self.UserName)
	return &Bot{api: api}, nil
}

// SetHandler registers the inbound event handler. Must be called before Run.
func (b *Bot) SetHandler(h gateway.Handler) { b.handler = h }

// Name identifies the transport.
func (b *Bot) Name() string { return "telegram" }

// BotUserID returns the bot's own Telegram user id.
func (b *Bot) BotUserID() string {
	return strconv.FormatInt(b.api.Self.ID, 10)
}

// Run starts the long-polling loop. Blocks until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)
	log.Println("telegram: listening for messages...")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			switch {
			case update.Message != nil:
				go b.handleMessage(ctx, update.Message)
			case update.CallbackQuery != nil:
				go b.handleCallback(ctx, update.CallbackQuery)
			}
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if b.handler == nil || msg.From == nil || msg.From.IsBot {
		return
	}

	threadID := strconv.Itoa(msg.MessageID)
	if msg.ReplyToMessage != nil {
		threadID = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}

	mention := strings.Contains(msg.Text, "@"+b.api.Self.UserName) || msg.Chat.IsPrivate()
	text := strings.TrimSpace(strings.ReplaceAll(msg.Text, "@"+b.api.Self.UserName, ""))

	b.handler.HandleMessage(ctx, gateway.InboundMessage{
		ChannelID: strconv.FormatInt(msg.Chat.ID, 10),
		ThreadID:  threadID,
		UserID:    strconv.FormatInt(msg.From.ID, 10),
		MessageID: strconv.Itoa(msg.MessageID),
		Text:      text,
		Mention:   mention,
	})
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	// Acknowledge the press so the client stops its spinner.
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Printf("telegram: callback ack failed: %v", err)
	}
	if b.handler == nil || cb.Message == nil {
		return
	}

	threadID := strconv.Itoa(cb.Message.MessageID)
	if cb.Message.ReplyToMessage != nil {
		threadID = strconv.Itoa(cb.Message.ReplyToMessage.MessageID)
	}

	b.handler.HandleButtonClick(ctx, gateway.ButtonClick{
		ChannelID: strconv.FormatInt(cb.Message.Chat.ID, 10),
		ThreadID:  threadID,
		UserID:    strconv.FormatInt(cb.From.ID, 10),
		MessageID: strconv.Itoa(cb.Message.MessageID),
		Value:     cb.Data,
	})
}

// --- Outbound surface ---

// PostMessage sends text as a reply in the thread.
func (b *Bot) PostMessage(ctx context.Context, channelID, threadID, text string) (string, error) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("bad chat id %q: %w", channelID, err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if threadID != "" {
		if replyTo, err := strconv.Atoi(threadID); err == nil {
			msg.ReplyToMessageID = replyTo
		}
	}

	sent, err := b.api.Send(msg)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// UpdateMessage edits a message in place.
func (b *Bot) UpdateMessage(ctx context.Context, channelID, messageID, text string) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad chat id %q: %w", channelID, err)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("bad message id %q: %w", messageID, err)
	}

	if _, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, msgID, text)); err != nil {
		return fmt.Errorf("editing message: %w", err)
	}
	return nil
}

// DeleteMessage removes a message.
func (b *Bot) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad chat id %q: %w", channelID, err)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("bad message id %q: %w", messageID, err)
	}

	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, msgID)); err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

// PostChoices posts a question with an inline keyboard.
func (b *Bot) PostChoices(ctx context.Context, channelID, threadID, question string, choices []gateway.Choice) (string, error) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("bad chat id %q: %w", channelID, err)
	}

	var row []tgbotapi.InlineKeyboardButton
	for _, c := range choices {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Value))
	}

	msg := tgbotapi.NewMessage(chatID, question)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	if threadID != "" {
		if replyTo, err := strconv.Atoi(threadID); err == nil {
			msg.ReplyToMessageID = replyTo
		}
	}

	sent, err := b.api.Send(msg)
	if err != nil {
		return "", fmt.Errorf("sending choices: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// ThreadHistory is not available to Telegram bots.
func (b *Bot) ThreadHistory(ctx context.Context, channelID, threadID, cursor string) ([]gateway.HistoryMessage, string, error) {
	return nil, "", fmt.Errorf("thread history: %w", ErrUnsupported)
}

// AddReaction is not available in this Bot API client.
func (b *Bot) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return fmt.Errorf("reactions: %w", ErrUnsupported)
}

// UserInfo looks up a chat member.
func (b *Bot) UserInfo(ctx context.Context, userID string) (*gateway.UserInfo, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad user id %q: %w", userID, err)
	}
	// The Bot API has no standalone user lookup; GetChat works for users the
	// bot shares a chat with.
	chat, err := b.api.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: id},
	})
	if err != nil {
		return nil, fmt.Errorf("fetching user info: %w", err)
	}
	return &gateway.UserInfo{
		ID:          userID,
		Name:        chat.UserName,
		DisplayName: strings.TrimSpace(chat.FirstName + " " + chat.LastName),
	}, nil
}

// UploadFile sends file content as a document reply.
func (b *Bot) UploadFile(ctx context.Context, channelID, threadID, filename, title, comment string, content []byte) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad chat id %q: %w", channelID, err)
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: content})
	doc.Caption = comment
	if doc.Caption == "" {
		doc.Caption = title
	}
	if threadID != "" {
		if replyTo, err := strconv.Atoi(threadID); err == nil {
			doc.ReplyToMessageID = replyTo
		}
	}

	if _, err := b.api.Send(doc); err != nil {
		return fmt.Errorf("uploading document: %w", err)
	}
	return nil
}

var (
	_ gateway.Gateway   = (*Bot)(nil)
	_ gateway.Transport = (*Bot)(nil)
)
