package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gridbot/logger"
)

// Telegram pushes events to a Telegram chat
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates a Telegram notifier
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	logger.Infof("telegram notifier ready (bot: %s)", bot.Self.UserName)
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// Notify sends the event on a goroutine; failures are logged and dropped
func (t *Telegram) Notify(e Event) {
	go func() {
		msg := tgbotapi.NewMessage(t.chatID, e.String())
		if _, err := t.bot.Send(msg); err != nil {
			logger.Warnf("telegram send failed, dropping %s event for %s: %v", e.Kind, e.Pair, err)
		}
	}()
}
