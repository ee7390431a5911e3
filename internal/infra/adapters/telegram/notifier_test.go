package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/goleak"

	"research-client/internal/config"
	"research-client/internal/domain/event"
	"research-client/internal/domain/model"
	"research-client/internal/infra/eventbus"
	"research-client/internal/infra/memstore"
	"research-client/internal/usecase"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	got  chan struct{}
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	f.mu.Unlock()
	f.got <- struct{}{}
	return tgbotapi.Message{}, nil
}

func TestNotifierSendsResearchOutcomes(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := eventbus.New(nil)
	sender := &fakeSender{got: make(chan struct{}, 4)}
	n := NewNotifier(sender, 42, nil)
	unsub := n.Attach(bus)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)

	bus.Publish(event.ResearchCompleted{Job: model.Job{Name: "Market scan", ResultDocID: "doc-1"}})
	bus.Publish(event.ThinkingStarted{ContextKey: "doc:1"})
	bus.Publish(event.ResearchFailed{Job: model.Job{Name: "Deep dive"}, Reason: "Timed out."})

	for i := 0; i < 2; i++ {
		select {
		case <-sender.got:
		case <-time.After(2 * time.Second):
			t.Fatal("notification not sent")
		}
	}
	cancel()
	<-n.Done()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 2 {
		t.Fatalf("sent %d messages", len(sender.sent))
	}
	if sender.sent[0].ChatID != 42 || !strings.Contains(sender.sent[0].Text, "doc-1") {
		t.Errorf("completed message = %+v", sender.sent[0])
	}
	if !strings.Contains(sender.sent[1].Text, "Timed out.") {
		t.Errorf("failed message = %q", sender.sent[1].Text)
	}
}

func TestNotifierReportsJobsInterruptedByRestore(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := eventbus.New(nil)
	sender := &fakeSender{got: make(chan struct{}, 1)}
	n := NewNotifier(sender, 7, nil)
	defer n.Attach(bus)()

	store := memstore.New()
	saved := []model.Job{{ID: 1, Name: "Orphan", Status: model.JobStatusRunning, IsLive: true, StartedAt: time.Now()}}
	if err := store.Set(context.Background(), usecase.JobsKey, saved); err != nil {
		t.Fatal(err)
	}
	tracker, err := usecase.NewJobTracker(nil, bus, store, nil, config.JobsConfig{}, config.RemoteConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tracker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)
	if err := tracker.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-sender.got:
	case <-time.After(2 * time.Second):
		t.Fatal("interrupted job not notified")
	}
	cancel()
	<-n.Done()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0].Text, "Interrupted.") {
		t.Fatalf("sent = %+v", sender.sent)
	}
}

func TestNotifierDropsWhenQueueFull(t *testing.T) {
	n := NewNotifier(NewNoopSender(nil), 1, nil)
	for i := 0; i < queueSize+10; i++ {
		n.handle(event.Envelope{Event: event.ResearchCompleted{Job: model.Job{Name: "x"}}})
	}
	if len(n.queue) != queueSize {
		t.Fatalf("queue len = %d", len(n.queue))
	}
}

func TestNoopSender(t *testing.T) {
	m, err := NewNoopSender(nil).Send(tgbotapi.NewMessage(1, "hi"))
	if err != nil || m.Text != "hi" {
		t.Fatalf("got %+v, %v", m, err)
	}
}

func TestNewBotSenderRequiresToken(t *testing.T) {
	if _, err := NewBotSender(""); err == nil {
		t.Fatal("expected error")
	}
}
