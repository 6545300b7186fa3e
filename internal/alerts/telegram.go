package alerts

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/evofunk/internal/config"
)

// severityEmoji keeps Telegram messages scannable
var severityEmoji = map[Severity]string{
	SeverityInfo:     "ℹ️",
	SeverityWarning:  "⚠️",
	SeverityCritical: "\U0001f6a8",
}

// botAPI is the subset of the Telegram client the alerter uses
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter delivers alerts to a Telegram chat
type TelegramAlerter struct {
	api    botAPI
	chatID int64
	log    zerolog.Logger
}

// NewTelegramAlerter authorizes the bot and builds the alerter
func NewTelegramAlerter(token string, chatID int64) (*TelegramAlerter, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	log := config.NewLogger("telegram")
	log.Info().Str("username", api.Self.UserName).Msg("Telegram bot authorized")

	return &TelegramAlerter{api: api, chatID: chatID, log: log}, nil
}

func (t *TelegramAlerter) Send(alert Alert) error {
	text := fmt.Sprintf("%s *%s*\n%s", severityEmoji[alert.Severity], alert.Title, alert.Message)
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram alert: %w", err)
	}
	return nil
}
