// Package telegram sends execution alerts to a single admin chat. No
// command polling or inline keyboards — there is no interactive control
// surface in this system, only a fire-and-forget notification sink.
package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Bot wraps the Telegram bot API for one-way alert delivery.
type Bot struct {
	api         *tgbotapi.BotAPI
	adminChatID int64
}

// New creates a Bot. Returns (nil, nil) if token is empty (Telegram disabled).
func New(token string, adminChatID int64) (*Bot, error) {
	if token == "" {
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram.New: %w", err)
	}
	return &Bot{api: api, adminChatID: adminChatID}, nil
}

// Send sends a plain text message to the admin chat. A nil Bot is a no-op,
// so callers don't need to check whether Telegram is configured.
func (b *Bot) Send(msg string) error {
	if b == nil {
		return nil
	}
	m := tgbotapi.NewMessage(b.adminChatID, msg)
	m.ParseMode = "Markdown"
	_, err := b.api.Send(m)
	if err != nil {
		return fmt.Errorf("telegram.Send: %w", err)
	}
	return nil
}

// SendExecutionAlert sends a formatted alert for a failed or timed-out
// execution.
func (b *Bot) SendExecutionAlert(taskName, status, errMsg string) error {
	if b == nil {
		return nil
	}
	text := fmt.Sprintf("⚠️ *Task %s*\n\nStatus: %s\nError: %s", taskName, status, errMsg)
	return b.Send(text)
}
