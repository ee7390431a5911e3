// Command demo runs one research job and one chat turn offline and prints
// every event published on the bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"research-client/internal/config"
	"research-client/internal/domain/event"
	"research-client/internal/domain/model"
	"research-client/internal/infra/eventbus"
	"research-client/internal/infra/logging"
	"research-client/internal/infra/memstore"
	"research-client/internal/usecase"
)

func main() {
	delay := flag.Duration("delay", 2*time.Second, "simulated research duration")
	topic := flag.String("topic", "Battery supply chain risks", "research topic")
	flag.Parse()

	logger := logging.NewTo(os.Stderr, config.LogConfig{Level: "warn", Format: "console"}, true)
	bus := eventbus.New(logger)

	var wg sync.WaitGroup
	wg.Add(2) // one research outcome, one chat outcome
	unsubscribe := bus.Subscribe(func(env event.Envelope) {
		fmt.Printf("%s  %-22s %s\n", env.At.Format("15:04:05.000"), env.Event.Topic(), describe(env.Event))
		switch env.Event.(type) {
		case event.ResearchCompleted, event.ResearchFailed, event.ResponseReady, event.ChatError:
			wg.Done()
		}
	},
		event.TopicUserMessageAppended, event.TopicThinkingStarted, event.TopicResponseReady,
		event.TopicError, event.TopicJobListChanged, event.TopicResearchCompleted, event.TopicResearchFailed,
	)
	defer unsubscribe()

	store := memstore.New()
	tracker, err := usecase.NewJobTracker(nil, bus, store, nil,
		config.JobsConfig{DemoDelay: *delay}, config.RemoteConfig{}, logger)
	if err != nil {
		log.Fatalf("job tracker: %v", err)
	}
	defer tracker.Close()
	chat, err := usecase.NewChatSession(nil, bus,
		config.ChatConfig{HistoryLimit: model.DefaultHistoryLimit, PromptTurns: 10, DemoDelay: *delay / 2},
		config.RemoteConfig{}, false, logger)
	if err != nil {
		log.Fatalf("chat session: %v", err)
	}
	defer chat.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *delay*5)
	defer cancel()

	job, err := tracker.StartJob(ctx, model.ResearchParams{Topic: *topic, WorkspaceID: "demo-ws"})
	if err != nil {
		log.Fatalf("start job: %v", err)
	}
	if err := chat.Send(ctx, model.WorkspaceContext("demo-ws"), "What should the research cover first?", ""); err != nil {
		log.Fatalf("chat: %v", err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		log.Fatalf("demo timed out")
	}

	final, _ := tracker.Job(job.ID)
	history := chat.History(model.WorkspaceContext("demo-ws"))
	fmt.Printf("\njob #%d %s (%s)\n", final.ID, final.Status, final.StatusText)
	fmt.Printf("chat history: %d messages\n", len(history))
}

func describe(e event.Event) string {
	switch ev := e.(type) {
	case event.UserMessageAppended:
		return fmt.Sprintf("[%s] user: %s", ev.ContextKey, ev.Message.Content)
	case event.ThinkingStarted:
		return fmt.Sprintf("[%s] thinking", ev.ContextKey)
	case event.ResponseReady:
		return fmt.Sprintf("[%s] assistant: %s", ev.ContextKey, ev.Message.Content)
	case event.ChatError:
		return fmt.Sprintf("[%s] error: %v", ev.ContextKey, ev.Err)
	case event.JobListChanged:
		return fmt.Sprintf("%d job(s)", len(ev.Jobs))
	case event.ResearchCompleted:
		return fmt.Sprintf("job #%d %q", ev.Job.ID, ev.Job.Name)
	case event.ResearchFailed:
		return fmt.Sprintf("job #%d %q: %s", ev.Job.ID, ev.Job.Name, ev.Reason)
	default:
		return ""
	}
}
