// File: internal/usecase/chat_session.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"research-client/internal/config"
	"research-client/internal/domain"
	"research-client/internal/domain/event"
	"research-client/internal/domain/model"
	"research-client/internal/domain/ports/adapter"
	"research-client/internal/infra/logging"
	"research-client/internal/infra/metrics"
)

// Compile-time check
var _ ChatSessionUseCase = (*chatSession)(nil)

type ChatSessionUseCase interface {
	// Send appends the question and runs the turn in the background.
	Send(ctx context.Context, contextKey, question, executor string) error
	History(contextKey string) []model.ChatMessage
	Clear(contextKey string)
	// Cancel aborts the in-flight turn of contextKey. It reports whether one existed.
	Cancel(contextKey string) bool
	Close()
}

// turn is the active-turn marker of one context key.
type turn struct {
	cancel     context.CancelFunc
	cancelled  bool // explicit Cancel: ends with ChatError{ErrCancelled}
	superseded bool // replaced by a newer Send: ends with ChatError{ErrSuperseded}
	silent     bool // cleared or closed: ends without output
}

// chatSession multiplexes conversations per context key.
//
// Each key has at most one in-flight turn. A new Send on a busy key supersedes
// the older turn, which ends with ErrSuperseded. Cancellation takes effect once the current network read returns.
// Histories live for the process lifetime only.
type chatSession struct {
	svc    adapter.ResearchService // nil in demo mode
	pub    adapter.Publisher
	cfg    config.ChatConfig
	remote config.RemoteConfig
	live   bool
	log    *zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	histories map[string]*model.ChatHistory
	active    map[string]*turn
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewChatSession(svc adapter.ResearchService, pub adapter.Publisher, cfg config.ChatConfig, remote config.RemoteConfig, live bool, log *zerolog.Logger) (*chatSession, error) {
	if live && svc == nil {
		return nil, errors.New("chat session: live mode needs a research service")
	}
	if pub == nil {
		return nil, errors.New("chat session: publisher is required")
	}
	if log == nil {
		log = logging.Nop()
	}
	if cfg.PromptTurns <= 0 {
		cfg.PromptTurns = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &chatSession{
		svc:       svc,
		pub:       pub,
		cfg:       cfg,
		remote:    remote,
		live:      live,
		log:       log,
		now:       time.Now,
		histories: make(map[string]*model.ChatHistory),
		active:    make(map[string]*turn),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

func (s *chatSession) Send(ctx context.Context, contextKey, question, executor string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !model.ValidContextKey(contextKey) {
		return fmt.Errorf("%w: context key %q", domain.ErrInvalidArgument, contextKey)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return fmt.Errorf("%w: empty question", domain.ErrInvalidArgument)
	}
	if executor == "" {
		executor = s.remote.Interaction
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("chat session closed")
	}
	hist := s.historyLocked(contextKey)
	prior := hist.Recent(s.cfg.PromptTurns - 1)
	msg := model.ChatMessage{Role: model.RoleUser, Content: question, Timestamp: s.now()}
	hist.Append(msg)
	s.pub.Publish(event.UserMessageAppended{ContextKey: contextKey, Message: msg})

	if old := s.active[contextKey]; old != nil {
		old.superseded = true
		old.cancel()
	}
	turnCtx, cancel := context.WithCancel(s.ctx)
	tr := &turn{cancel: cancel}
	s.active[contextKey] = tr
	s.pub.Publish(event.ThinkingStarted{ContextKey: contextKey})
	s.wg.Add(1)
	s.mu.Unlock()

	turnCtx = logging.WithContextKey(turnCtx, contextKey)
	logging.With(turnCtx, s.log).Debug().Bool("live", s.live).Int("prior_turns", len(prior)).Msg("chat turn submitted")
	if s.live {
		task := buildChatTask(contextKey, prior, question)
		go s.runLive(turnCtx, contextKey, tr, task, executor)
	} else {
		go s.runDemo(turnCtx, contextKey, tr, question)
	}
	return nil
}

func (s *chatSession) History(contextKey string) []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.histories[contextKey]; ok {
		return h.Messages()
	}
	return nil
}

// Clear drops the history of contextKey. An in-flight turn there ends silently.
func (s *chatSession) Clear(contextKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.histories, contextKey)
	if tr := s.active[contextKey]; tr != nil {
		tr.silent = true
		tr.cancel()
		delete(s.active, contextKey)
	}
}

func (s *chatSession) Cancel(contextKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr := s.active[contextKey]
	if tr == nil {
		return false
	}
	tr.cancelled = true
	tr.cancel()
	delete(s.active, contextKey)
	return true
}

// Close ends every in-flight turn silently and waits for the goroutines.
func (s *chatSession) Close() {
	s.mu.Lock()
	s.closed = true
	for key, tr := range s.active {
		tr.silent = true
		delete(s.active, key)
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *chatSession) runDemo(ctx context.Context, key string, tr *turn, question string) {
	defer s.wg.Done()
	timer := time.NewTimer(s.cfg.DemoDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.endTurn(key, tr, "", ctx.Err(), "demo")
	case <-timer.C:
		s.endTurn(key, tr, demoAnswer(key, question), nil, "demo")
	}
}

func (s *chatSession) runLive(ctx context.Context, key string, tr *turn, task, executor string) {
	defer s.wg.Done()
	log := logging.With(ctx, s.log)

	h, err := s.svc.ExecuteAsync(ctx, adapter.ExecuteRequest{
		Type:            "agent",
		InteractionName: executor,
		Task:            task,
		Model:           s.remote.Model,
		Environment:     s.remote.Environment,
		Interactive:     true,
		MaxIterations:   s.remote.MaxIterations,
	})
	if err != nil {
		s.endTurn(key, tr, "", fmt.Errorf("submit chat turn: %w", err), "live")
		return
	}

	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	var answer string
	got := false
	err = s.svc.Stream(streamCtx, h, func(ev model.StreamEvent) {
		if got || ev.Kind != model.StreamEventAnswer {
			return
		}
		answer, got = ExtractAnswer(ev.Content), true
		stopStream()
	})
	if got {
		s.endTurn(key, tr, answer, nil, "live")
		return
	}
	if ctx.Err() != nil {
		s.endTurn(key, tr, "", ctx.Err(), "live")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("chat stream ended with error; falling back to run status")
	}

	st, err := s.svc.RunStatus(ctx, h)
	switch {
	case err != nil:
		s.endTurn(key, tr, "", fmt.Errorf("%w: %v", domain.ErrNoResult, err), "live")
	case strings.TrimSpace(st.Message) == "":
		s.endTurn(key, tr, "", domain.ErrNoResult, "live")
	default:
		s.endTurn(key, tr, ExtractAnswer(st.Message), nil, "live")
	}
}

// endTurn resolves a turn into exactly one outcome: an appended answer or a
// ChatError. Turns ended by Clear or Close produce nothing.
func (s *chatSession) endTurn(key string, tr *turn, answer string, err error, mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[key] == tr {
		delete(s.active, key)
	}
	switch {
	case tr.silent:
		metrics.IncChatTurn("discarded", mode)
	case tr.superseded:
		metrics.IncChatTurn("superseded", mode)
		s.pub.Publish(event.ChatError{ContextKey: key, Err: domain.ErrSuperseded})
	case tr.cancelled:
		metrics.IncChatTurn("cancelled", mode)
		s.pub.Publish(event.ChatError{ContextKey: key, Err: domain.ErrCancelled})
	case err != nil:
		metrics.IncChatTurn("error", mode)
		s.log.Warn().Err(err).Str("context_key", key).Msg("chat turn failed")
		s.pub.Publish(event.ChatError{ContextKey: key, Err: err})
	default:
		metrics.IncChatTurn("answer", mode)
		msg := model.ChatMessage{Role: model.RoleAssistant, Content: answer, Timestamp: s.now()}
		s.historyLocked(key).Append(msg)
		s.pub.Publish(event.ResponseReady{ContextKey: key, Message: msg})
	}
}

func (s *chatSession) historyLocked(key string) *model.ChatHistory {
	h, ok := s.histories[key]
	if !ok {
		h = model.NewChatHistory(s.cfg.HistoryLimit)
		s.histories[key] = h
	}
	return h
}

func demoAnswer(key, question string) string {
	return fmt.Sprintf("Demo answer for %s: your question %q was received. Connect a live analysis service for real results.", key, question)
}
