package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"research-client/internal/config"
	"research-client/internal/domain"
	"research-client/internal/domain/event"
	"research-client/internal/domain/model"
	"research-client/internal/domain/ports/adapter"
)

var testChat = config.ChatConfig{HistoryLimit: 20, PromptTurns: 10, DemoDelay: 5 * time.Millisecond}

func newChat(t *testing.T, svc *fakeResearch) (*chatSession, *recorder) {
	t.Helper()
	pub := &recorder{}
	var rs adapter.ResearchService
	if svc != nil {
		rs = svc
	}
	s, err := NewChatSession(rs, pub, testChat, testRemote, svc != nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s, pub
}

// answering streams a three-section reply echoing the task's question line.
func answering() *fakeResearch {
	return &fakeResearch{
		StreamFunc: func(ctx context.Context, h model.ExecutionHandle, onEvent func(model.StreamEvent)) error {
			onEvent(model.StreamEvent{Kind: model.StreamEventUpdate, Content: "thinking"})
			onEvent(model.StreamEvent{Kind: model.StreamEventAnswer, Content: "1. Plan: read\n2. Steps: none\n3. Agent Answer: reply to " + h.RunID + "\n4. Sources: x"})
			<-ctx.Done()
			return ctx.Err()
		},
	}
}

func turnEnded(pub *recorder, n int) func() bool {
	return func() bool {
		return pub.count(event.TopicResponseReady)+pub.count(event.TopicError) >= n
	}
}

func TestDemoTurnEventSequence(t *testing.T) {
	s, pub := newChat(t, nil)
	defer s.Close()

	key := model.DocContext("d1")
	if err := s.Send(context.Background(), key, "What is inside?", ""); err != nil {
		t.Fatal(err)
	}
	if h := s.History(key); len(h) != 1 || h[0].Role != model.RoleUser {
		t.Fatalf("user message must be appended synchronously, history = %+v", h)
	}
	waitFor(t, "demo answer", turnEnded(pub, 1))

	want := []event.Topic{event.TopicUserMessageAppended, event.TopicThinkingStarted, event.TopicResponseReady}
	got := pub.topics()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("topics = %v, want %v", got, want)
	}
	h := s.History(key)
	if len(h) != 2 || h[1].Role != model.RoleAssistant || !strings.Contains(h[1].Content, "What is inside?") {
		t.Fatalf("history = %+v", h)
	}
}

func TestHistoryIsBoundedFIFO(t *testing.T) {
	s, pub := newChat(t, nil)
	defer s.Close()

	key := model.WorkspaceContext("w1")
	for i := 1; i <= 15; i++ {
		if err := s.Send(context.Background(), key, fmt.Sprintf("q%d", i), ""); err != nil {
			t.Fatal(err)
		}
		waitFor(t, "turn end", turnEnded(pub, i))
		if n := len(s.History(key)); n > 20 {
			t.Fatalf("history grew to %d", n)
		}
	}
	h := s.History(key)
	if len(h) != 20 {
		t.Fatalf("history len = %d", len(h))
	}
	if h[0].Content != "q6" {
		t.Fatalf("oldest entry = %q, want q6", h[0].Content)
	}
}

func TestLiveTurnExtractsAnswerAndEmbedsHistory(t *testing.T) {
	svc := answering()
	s, pub := newChat(t, svc)
	defer s.Close()

	key := model.DocContext("d2")
	_ = s.Send(context.Background(), key, "first question", "")
	waitFor(t, "first answer", turnEnded(pub, 1))
	_ = s.Send(context.Background(), key, "second question", "custom_agent")
	waitFor(t, "second answer", turnEnded(pub, 2))

	h := s.History(key)
	if len(h) != 4 || h[1].Content != "reply to run-1" || h[3].Content != "reply to run-2" {
		t.Fatalf("history = %+v", h)
	}

	first := svc.exec(0)
	if strings.Contains(first.Task, "Previous conversation") {
		t.Fatal("first turn has no prior conversation")
	}
	if !first.Interactive || first.InteractionName != "research_agent" {
		t.Fatalf("first request = %+v", first)
	}
	second := svc.exec(1)
	if second.InteractionName != "custom_agent" {
		t.Fatalf("executor not forwarded: %q", second.InteractionName)
	}
	for _, want := range []string{"Previous conversation:", "User: first question", "Assistant: reply to run-1", "Question: second question"} {
		if !strings.Contains(second.Task, want) {
			t.Fatalf("task missing %q:\n%s", want, second.Task)
		}
	}
	if strings.Count(second.Task, "second question") != 1 {
		t.Fatal("in-flight question must not appear in the previous conversation block")
	}
}

func TestLiveTaskKeepsLastNinePriorTurns(t *testing.T) {
	svc := answering()
	s, pub := newChat(t, svc)
	defer s.Close()

	key := model.DocContext("d3")
	for i := 1; i <= 7; i++ {
		_ = s.Send(context.Background(), key, fmt.Sprintf("q%d", i), "")
		waitFor(t, "turn end", turnEnded(pub, i))
	}
	task := svc.exec(6).Task
	block := task[strings.Index(task, "Previous conversation:"):strings.Index(task, "Question:")]
	lines := 0
	for _, l := range strings.Split(block, "\n") {
		if strings.HasPrefix(l, "User: ") || strings.HasPrefix(l, "Assistant: ") {
			lines++
		}
	}
	if lines != 9 {
		t.Fatalf("prior turns = %d, want 9\n%s", lines, block)
	}
	if strings.Contains(block, "User: q1\n") || strings.Contains(block, "User: q2\n") {
		t.Fatalf("oldest turns should be dropped:\n%s", block)
	}
}

func TestStreamWithoutAnswerFallsBackToRunStatus(t *testing.T) {
	svc := &fakeResearch{
		StreamFunc: func(context.Context, model.ExecutionHandle, func(model.StreamEvent)) error { return nil },
		StatusFunc: func(context.Context, model.ExecutionHandle, int) (model.RunStatus, error) {
			return model.RunStatus{Status: "completed", Message: "**3. Agent Answer:** from status"}, nil
		},
	}
	s, pub := newChat(t, svc)
	defer s.Close()

	key := model.DocContext("d4")
	_ = s.Send(context.Background(), key, "q", "")
	waitFor(t, "fallback answer", turnEnded(pub, 1))

	h := s.History(key)
	if len(h) != 2 || h[1].Content != "from status" {
		t.Fatalf("history = %+v", h)
	}
}

func TestNoResultEmitsError(t *testing.T) {
	svc := &fakeResearch{
		StreamFunc: func(context.Context, model.ExecutionHandle, func(model.StreamEvent)) error {
			return errors.New("connection reset")
		},
		StatusFunc: func(context.Context, model.ExecutionHandle, int) (model.RunStatus, error) {
			return model.RunStatus{Status: "running"}, nil
		},
	}
	s, pub := newChat(t, svc)
	defer s.Close()

	key := model.DocContext("d5")
	_ = s.Send(context.Background(), key, "q", "")
	waitFor(t, "error", turnEnded(pub, 1))

	errs := pub.of(event.TopicError)
	if len(errs) != 1 || !errors.Is(errs[0].(event.ChatError).Err, domain.ErrNoResult) {
		t.Fatalf("errors = %+v", errs)
	}
	if pub.count(event.TopicResponseReady) != 0 || len(s.History(key)) != 1 {
		t.Fatal("a failed turn must not append an answer")
	}
}

func TestSubmitErrorEmitsError(t *testing.T) {
	svc := &fakeResearch{
		ExecuteFunc: func(context.Context, adapter.ExecuteRequest, int) (model.ExecutionHandle, error) {
			return model.ExecutionHandle{}, &domain.AuthError{Err: errors.New("bad key")}
		},
	}
	s, pub := newChat(t, svc)
	defer s.Close()

	_ = s.Send(context.Background(), model.DocContext("d6"), "q", "")
	waitFor(t, "error", turnEnded(pub, 1))

	var ae *domain.AuthError
	if !errors.As(pub.of(event.TopicError)[0].(event.ChatError).Err, &ae) {
		t.Fatal("expected AuthError in chat error")
	}
}

func TestCancelSuppressesFallback(t *testing.T) {
	svc := &fakeResearch{} // stream blocks until cancelled
	s, pub := newChat(t, svc)
	defer s.Close()

	key := model.DocContext("d7")
	_ = s.Send(context.Background(), key, "q", "")
	waitFor(t, "stream open", func() bool { _, streams, _ := svc.calls(); return streams == 1 })

	if !s.Cancel(key) {
		t.Fatal("expected an in-flight turn")
	}
	waitFor(t, "cancel error", turnEnded(pub, 1))

	errs := pub.of(event.TopicError)
	if len(errs) != 1 || !errors.Is(errs[0].(event.ChatError).Err, domain.ErrCancelled) {
		t.Fatalf("errors = %+v", errs)
	}
	if _, _, statuses := svc.calls(); statuses != 0 {
		t.Fatal("cancel must suppress the fallback status query")
	}
	if s.Cancel(key) {
		t.Fatal("second cancel should find no turn")
	}
}

func TestCancelIsPerContext(t *testing.T) {
	svc := &fakeResearch{}
	s, pub := newChat(t, svc)
	defer s.Close()

	a, b := model.DocContext("a"), model.DocContext("b")
	_ = s.Send(context.Background(), a, "qa", "")
	_ = s.Send(context.Background(), b, "qb", "")
	waitFor(t, "streams open", func() bool { _, streams, _ := svc.calls(); return streams == 2 })

	s.Cancel(a)
	waitFor(t, "cancel error", turnEnded(pub, 1))
	time.Sleep(10 * time.Millisecond)

	errs := pub.of(event.TopicError)
	if len(errs) != 1 || errs[0].(event.ChatError).ContextKey != a {
		t.Fatalf("errors = %+v", errs)
	}
	s.mu.Lock()
	_, stillActive := s.active[b]
	s.mu.Unlock()
	if !stillActive {
		t.Fatal("cancelling one context must not touch another")
	}
}

func TestNewSendSupersedesInFlightTurn(t *testing.T) {
	svc := &fakeResearch{
		StreamFunc: func(ctx context.Context, h model.ExecutionHandle, onEvent func(model.StreamEvent)) error {
			if h.RunID == "run-2" {
				onEvent(model.StreamEvent{Kind: model.StreamEventAnswer, Content: "second"})
			}
			<-ctx.Done()
			return ctx.Err()
		},
	}
	s, pub := newChat(t, svc)
	defer s.Close()

	key := model.DocContext("d8")
	_ = s.Send(context.Background(), key, "one", "")
	waitFor(t, "first stream", func() bool { _, streams, _ := svc.calls(); return streams == 1 })
	_ = s.Send(context.Background(), key, "two", "")
	waitFor(t, "both turns resolved", turnEnded(pub, 2))
	time.Sleep(10 * time.Millisecond)

	errs := pub.of(event.TopicError)
	if len(errs) != 1 || !errors.Is(errs[0].(event.ChatError).Err, domain.ErrSuperseded) {
		t.Fatalf("errors = %+v", errs)
	}
	if pub.count(event.TopicResponseReady) != 1 || pub.count(event.TopicThinkingStarted) != 2 {
		t.Fatalf("topics = %v", pub.topics())
	}
	h := s.History(key)
	if len(h) != 3 || h[2].Content != "second" {
		t.Fatalf("history = %+v", h)
	}
}

func TestClearDropsHistory(t *testing.T) {
	s, pub := newChat(t, nil)
	defer s.Close()
	key := model.DocContext("d9")
	_ = s.Send(context.Background(), key, "q", "")
	waitFor(t, "answer", turnEnded(pub, 1))

	s.Clear(key)
	if h := s.History(key); len(h) != 0 {
		t.Fatalf("history after clear = %+v", h)
	}
}

func TestSendValidation(t *testing.T) {
	s, _ := newChat(t, nil)
	defer s.Close()

	if err := s.Send(context.Background(), "bogus", "q", ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("bad key err = %v", err)
	}
	if err := s.Send(context.Background(), model.DocContext("x"), "   ", ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("empty question err = %v", err)
	}
	if s.Cancel(model.DocContext("x")) {
		t.Fatal("no turn to cancel")
	}
}

func TestCloseEndsTurnsSilently(t *testing.T) {
	svc := &fakeResearch{}
	s, pub := newChat(t, svc)
	_ = s.Send(context.Background(), model.DocContext("z"), "q", "")
	waitFor(t, "stream open", func() bool { _, streams, _ := svc.calls(); return streams == 1 })
	s.Close()

	if pub.count(event.TopicError) != 0 || pub.count(event.TopicResponseReady) != 0 {
		t.Fatalf("topics = %v", pub.topics())
	}
	if err := s.Send(context.Background(), model.DocContext("z"), "q", ""); err == nil {
		t.Fatal("Send after Close must fail")
	}
}
