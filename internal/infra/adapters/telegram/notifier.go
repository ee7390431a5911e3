package telegram

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"research-client/internal/domain/event"
	"research-client/internal/domain/ports/adapter"
	"research-client/internal/infra/logging"
)

const queueSize = 64

// Notifier posts research completion and failure to one Telegram chat.
// Bus delivery is synchronous, so handlers only enqueue; Run does the sending.
type Notifier struct {
	sender Sender
	chatID int64
	log    *zerolog.Logger
	queue  chan tgbotapi.MessageConfig

	once sync.Once
	done chan struct{}
}

func NewNotifier(sender Sender, chatID int64, log *zerolog.Logger) *Notifier {
	if log == nil {
		log = logging.Nop()
	}
	return &Notifier{
		sender: sender,
		chatID: chatID,
		log:    log,
		queue:  make(chan tgbotapi.MessageConfig, queueSize),
		done:   make(chan struct{}),
	}
}

// Attach subscribes to the research topics and returns the unsubscribe func.
func (n *Notifier) Attach(sub adapter.Subscriber) func() {
	return sub.Subscribe(n.handle, event.TopicResearchCompleted, event.TopicResearchFailed)
}

func (n *Notifier) handle(env event.Envelope) {
	var text string
	switch ev := env.Event.(type) {
	case event.ResearchCompleted:
		text = fmt.Sprintf("✅ Research %q completed.", ev.Job.Name)
		if ev.Job.ResultDocID != "" {
			text += "\nDocument: " + ev.Job.ResultDocID
		}
	case event.ResearchFailed:
		text = fmt.Sprintf("❌ Research %q failed: %s", ev.Job.Name, ev.Reason)
	default:
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	select {
	case n.queue <- msg:
	default:
		n.log.Warn().Str("event_id", env.ID.String()).Msg("telegram queue full; notification dropped")
	}
}

// Run sends queued messages until ctx is done. Messages still queued at that point are dropped.
func (n *Notifier) Run(ctx context.Context) {
	defer n.once.Do(func() { close(n.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			if _, err := n.sender.Send(msg); err != nil {
				n.log.Error().Err(err).Int64("chat_id", msg.ChatID).Msg("telegram send failed")
			}
		}
	}
}

// Done is closed once Run has returned.
func (n *Notifier) Done() <-chan struct{} { return n.done }
