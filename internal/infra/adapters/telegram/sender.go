package telegram

import (
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"research-client/internal/infra/logging"
)

// Sender is the part of *tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

var _ Sender = (*tgbotapi.BotAPI)(nil)

// NewBotSender authenticates against the Bot API with token.
func NewBotSender(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, errors.New("telegram: bot token empty")
	}
	return tgbotapi.NewBotAPI(token)
}

// NoopSender logs messages instead of sending them. Used in dev and when no token is configured.
type NoopSender struct {
	log *zerolog.Logger
}

func NewNoopSender(log *zerolog.Logger) *NoopSender {
	if log == nil {
		log = logging.Nop()
	}
	return &NoopSender{log: log}
}

func (n *NoopSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		n.log.Info().Int64("chat_id", m.ChatID).Str("text", m.Text).Msg("[noop-telegram] message")
		return tgbotapi.Message{Text: m.Text}, nil
	}
	n.log.Info().Msgf("[noop-telegram] %T", c)
	return tgbotapi.Message{}, nil
}
