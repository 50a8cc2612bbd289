// Package chatapi wraps github.com/go-telegram-bot-api/telegram-bot-api/v5
// behind the narrow interface the delivery pipeline and router actually
// need, following other_examples/batalabs-muxd__adapter.go's Adapter,
// which holds a *tgbotapi.BotAPI and drives it through Send/GetUpdatesChan.
package chatapi

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Client is a thin synchronous wrapper over the bot API. Every method
// blocks on the underlying HTTP call; callers dispatch it off the event
// loop per §5's suspension-point rule.
type Client struct {
	bot *tgbotapi.BotAPI
}

func New(token string) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	return &Client{bot: bot}, nil
}

// SendMessage sends text to chatID as a new message, returning its
// platform message id. A non-zero topicID threads it into that forum
// topic instead of the chat's General thread.
func (c *Client) SendMessage(ctx context.Context, chatID, topicID int64, text string) (int64, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if topicID != 0 {
		msg.MessageThreadID = int(topicID)
	}
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, err
	}
	return int64(sent.MessageID), nil
}

// EditMessageText replaces the text of a previously sent message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, int(messageID), text)
	_, err := c.bot.Send(edit)
	return err
}

// DeleteMessage removes a previously sent message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	del := tgbotapi.NewDeleteMessage(chatID, int(messageID))
	_, err := c.bot.Request(del)
	return err
}

// Update is the subset of tgbotapi.Update the router consumes.
type Update struct {
	UpdateID      int
	UserID        int64
	ChatID        int64
	TopicID       int64
	IsTopicRoot   bool
	IsTopicClosed bool
	Text          string
	IsCommand     bool
}

// GetUpdatesChan starts long polling and returns a channel of decoded
// updates. Closing ctx stops polling via StopReceivingUpdates.
func (c *Client) GetUpdatesChan(ctx context.Context) <-chan Update {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	raw := c.bot.GetUpdatesChan(cfg)

	out := make(chan Update)
	go func() {
		defer close(out)
		go func() {
			<-ctx.Done()
			c.bot.StopReceivingUpdates()
		}()
		for update := range raw {
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			out <- Update{
				UpdateID:      update.UpdateID,
				UserID:        update.Message.From.ID,
				ChatID:        update.Message.Chat.ID,
				TopicID:       int64(update.Message.MessageThreadID),
				IsTopicRoot:   update.Message.IsTopicMessage && update.Message.MessageThreadID == 0,
				IsTopicClosed: update.Message.ForumTopicClosed != nil,
				Text:          update.Message.Text,
				IsCommand:     update.Message.IsCommand(),
			}
		}
	}()
	return out
}

// BotUsername returns the authenticated bot's username.
func (c *Client) BotUsername() string {
	return c.bot.Self.UserName
}
