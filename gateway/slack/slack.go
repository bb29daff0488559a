// Package slack implements the chat gateway on Slack using Socket Mode.
//
// Socket Mode connects to Slack via WebSocket -- no public URL needed. The
// bot listens for thread messages, @mentions and button clicks, and exposes
// the post/update/delete surface the orchestrator renders through.
package slack

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/threadrelay/threadrelay/gateway"
)

var mentionRe = regexp.MustCompile(`<@([A-Z0-9]+)>`)

// Bot is the Slack Socket Mode gateway.
type Bot struct {
	api          *slack.Client
	socketClient *socketmode.Client
	botUserID    string
	handler      gateway.Handler
}

// NewBot creates a Slack gateway and resolves the bot's own user id.
func NewBot(botToken, appToken string) (*Bot, error) {
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	auth, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack auth test: %w", err)
	}

	socketClient := socketmode.New(
		api,
		socketmode.OptionLog(log.New(log.Writer(), "slack-socketmode: ", log.LstdFlags)),
	)

	return &Bot{
		api:          api,
		socketClient: socketClient,
		botUserID:    auth.UserID,
	}, nil
}

// SetHandler registers the inbound event handler. Must be called before Run.
func (b *Bot) SetHandler(h gateway.Handler) { b.handler = h }

// Name identifies the transport.
func (b *Bot) Name() string { return "slack" }

// BotUserID returns the bot's own Slack user id.
func (b *Bot) BotUserID() string { return b.botUserID }

// Run connects via Socket Mode and processes events until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	go b.eventLoop(ctx)
	log.Println("slack: connecting via Socket Mode...")
	return b.socketClient.RunContext(ctx)
}

func (b *Bot) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socketClient.Events:
			if !ok {
				return
			}
			b.handleEvent(ctx, evt)
		}
	}
}

func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Println("slack: connecting...")
	case socketmode.EventTypeConnected:
		log.Println("slack: connected")
	case socketmode.EventTypeConnectionError:
		log.Println("slack: connection error, will retry...")

	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		// Acknowledge immediately (Slack requires ack within 3 seconds).
		b.socketClient.Ack(*evt.Request)
		if eventsAPIEvent.Type == slackevents.CallbackEvent {
			b.handleCallbackEvent(ctx, eventsAPIEvent.InnerEvent)
		}

	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slack.InteractionCallback)
		b.socketClient.Ack(*evt.Request)
		if !ok {
			return
		}
		go b.handleInteraction(ctx, cb)
	}
}

func (b *Bot) handleCallbackEvent(ctx context.Context, innerEvent slackevents.EventsAPIInnerEvent) {
	switch ev := innerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		// App mentions also arrive as message events when the bot is in the
		// channel; the message path carries mention detection, so only
		// dispatch here to catch mentions in channels without message scope.
		msg := gateway.InboundMessage{
			ChannelID:      ev.Channel,
			ThreadID:       threadOf(ev.ThreadTimeStamp, ev.TimeStamp),
			UserID:         ev.User,
			MessageID:      ev.TimeStamp,
			Text:           stripMention(ev.Text, b.botUserID),
			Mention:        true,
			MentionedUsers: otherMentions(ev.Text, b.botUserID),
		}
		go b.dispatchMessage(ctx, msg)

	case *slackevents.MessageEvent:
		// Ignore our own messages, bot messages and edits/deletes.
		if ev.User == b.botUserID || ev.BotID != "" || ev.SubType != "" {
			return
		}
		mentioned := strings.Contains(ev.Text, "<@"+b.botUserID+">")
		if mentioned {
			// The app-mention event covers this message.
			return
		}
		msg := gateway.InboundMessage{
			ChannelID:      ev.Channel,
			ThreadID:       threadOf(ev.ThreadTimeStamp, ev.TimeStamp),
			UserID:         ev.User,
			MessageID:      ev.TimeStamp,
			Text:           ev.Text,
			Mention:        false,
			MentionedUsers: otherMentions(ev.Text, b.botUserID),
		}
		go b.dispatchMessage(ctx, msg)
	}
}

func (b *Bot) dispatchMessage(ctx context.Context, msg gateway.InboundMessage) {
	if b.handler == nil {
		return
	}
	b.handler.HandleMessage(ctx, msg)
}

func (b *Bot) handleInteraction(ctx context.Context, cb slack.InteractionCallback) {
	if b.handler == nil || len(cb.ActionCallback.BlockActions) == 0 {
		return
	}
	action := cb.ActionCallback.BlockActions[0]

	threadTS := cb.Message.ThreadTimestamp
	if threadTS == "" {
		threadTS = cb.Message.Timestamp
	}

	b.handler.HandleButtonClick(ctx, gateway.ButtonClick{
		ChannelID: cb.Channel.ID,
		ThreadID:  threadTS,
		UserID:    cb.User.ID,
		MessageID: cb.Message.Timestamp,
		Value:     action.Value,
	})
}

// --- Outbound surface ---

// PostMessage posts text as a thread reply and returns its timestamp id.
func (b *Bot) PostMessage(ctx context.Context, channelID, threadID, text string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadID != "" {
		opts = append(opts, slack.MsgOptionTS(threadID))
	}
	_, ts, err := b.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("posting message: %w", err)
	}
	return ts, nil
}

// UpdateMessage edits a message in place.
func (b *Bot) UpdateMessage(ctx context.Context, channelID, messageID, text string) error {
	_, _, _, err := b.api.UpdateMessageContext(ctx, channelID, messageID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	return nil
}

// DeleteMessage removes a message.
func (b *Bot) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	_, _, err := b.api.DeleteMessageContext(ctx, channelID, messageID)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

// PostChoices posts a question with button options.
func (b *Bot) PostChoices(ctx context.Context, channelID, threadID, question string, choices []gateway.Choice) (string, error) {
	header := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, question, false, false), nil, nil)

	var buttons []slack.BlockElement
	for i, c := range choices {
		btn := slack.NewButtonBlockElement(
			fmt.Sprintf("choice_%d", i),
			c.Value,
			slack.NewTextBlockObject(slack.PlainTextType, c.Label, false, false),
		)
		buttons = append(buttons, btn)
	}
	actions := slack.NewActionBlock("choices", buttons...)

	opts := []slack.MsgOption{slack.MsgOptionBlocks(header, actions)}
	if threadID != "" {
		opts = append(opts, slack.MsgOptionTS(threadID))
	}
	_, ts, err := b.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("posting choices: %w", err)
	}
	return ts, nil
}

// ThreadHistory returns the messages of a thread, oldest first.
func (b *Bot) ThreadHistory(ctx context.Context, channelID, threadID, cursor string) ([]gateway.HistoryMessage, string, error) {
	msgs, _, next, err := b.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: threadID,
		Cursor:    cursor,
		Limit:     200,
	})
	if err != nil {
		return nil, "", fmt.Errorf("fetching thread history: %w", err)
	}

	out := make([]gateway.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, gateway.HistoryMessage{
			UserID:    m.User,
			Text:      m.Text,
			Timestamp: parseSlackTS(m.Timestamp),
		})
	}
	return out, next, nil
}

// AddReaction adds an emoji reaction to a message.
func (b *Bot) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	emoji = strings.Trim(emoji, ":")
	err := b.api.AddReactionContext(ctx, emoji, slack.ItemRef{Channel: channelID, Timestamp: messageID})
	if err != nil {
		return fmt.Errorf("adding reaction: %w", err)
	}
	return nil
}

// UserInfo looks up a Slack user.
func (b *Bot) UserInfo(ctx context.Context, userID string) (*gateway.UserInfo, error) {
	u, err := b.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetching user info: %w", err)
	}
	return &gateway.UserInfo{
		ID:          u.ID,
		Name:        u.Name,
		DisplayName: u.Profile.DisplayName,
		IsBot:       u.IsBot,
	}, nil
}

// UploadFile uploads file content to a thread.
func (b *Bot) UploadFile(ctx context.Context, channelID, threadID, filename, title, comment string, content []byte) error {
	_, err := b.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Content:         string(content),
		Filename:        filename,
		FileSize:        len(content),
		Title:           title,
		InitialComment:  comment,
		Channel:         channelID,
		ThreadTimestamp: threadID,
	})
	if err != nil {
		return fmt.Errorf("uploading file: %w", err)
	}
	return nil
}

// --- Helpers ---

func threadOf(threadTS, ts string) string {
	if threadTS != "" {
		return threadTS
	}
	return ts
}

// stripMention removes the bot's own <@U...> mention from the text.
func stripMention(text, botUserID string) string {
	text = strings.ReplaceAll(text, "<@"+botUserID+">", "")
	return strings.TrimSpace(text)
}

// otherMentions extracts user ids mentioned in the text, excluding the bot.
func otherMentions(text, botUserID string) []string {
	var out []string
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		if m[1] != botUserID {
			out = append(out, m[1])
		}
	}
	return out
}

// parseSlackTS converts a Slack "1712345678.000200" timestamp to time.Time.
func parseSlackTS(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	var sec, usec int64
	fmt.Sscanf(parts[0], "%d", &sec)
	if len(parts) == 2 {
		fmt.Sscanf(parts[1], "%d", &usec)
	}
	return time.Unix(sec, usec*1000)
}

var (
	_ gateway.Gateway   = (*Bot)(nil)
	_ gateway.Transport = (*Bot)(nil)
)
