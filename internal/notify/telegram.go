package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender is the subset of the bot API used here.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram copies notifications into an operator chat so lab staff see every
// confirmation and reminder that goes out.
type Telegram struct {
	bot    TelegramSender
	chatID int64
}

// NewTelegram connects to the bot API with token.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegramWithSender(bot, chatID), nil
}

func NewTelegramWithSender(bot TelegramSender, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

func (t *Telegram) Send(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, formatTelegram(recipient, subject, body))
	if _, err := t.bot.Send(msg); err != nil {
		return classifyTelegram(err)
	}
	return nil
}

func formatTelegram(recipient, subject, body string) string {
	return fmt.Sprintf("%s\nTo: %s\n\n%s", subject, recipient, body)
}

func classifyTelegram(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return &DeliveryError{
			Channel:    "telegram",
			Code:       apiErr.Code,
			RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second,
			Permanent:  apiErr.Code == http.StatusBadRequest || apiErr.Code == http.StatusForbidden,
			Err:        err,
		}
	}
	return &DeliveryError{Channel: "telegram", Err: err}
}
