// internal/notify/telegram.go
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxTelegramMessage = 4096

// Telegram delivers caregiver notifications over a Telegram bot.
// Targets look like "telegram:<chat_id>"; targets without a chat id
// fall back to the configured default chat.
type Telegram struct {
	bot           *tgbotapi.BotAPI
	defaultChatID int64
}

func NewTelegram(token string, defaultChatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Telegram{bot: bot, defaultChatID: defaultChatID}, nil
}

// Handler adapts the channel to the registry.
func (t *Telegram) Handler(_ context.Context, target, message string) error {
	return t.send(t.chatIDFor(target), message)
}

func (t *Telegram) chatIDFor(target string) int64 {
	rest := strings.TrimPrefix(target, "telegram:")
	if id, err := strconv.ParseInt(rest, 10, 64); err == nil && id != 0 {
		return id
	}
	return t.defaultChatID
}

func (t *Telegram) send(chatID int64, text string) error {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := t.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := t.bot.Send(msg); err != nil {
				return fmt.Errorf("send telegram message: %w", err)
			}
		}
	}
	return nil
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
