package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"research-client/internal/domain"
	"research-client/internal/domain/model"
	"research-client/internal/infra/logging"
	"research-client/internal/infra/metrics"
	"research-client/internal/usecase"
)

// CatalogReader serves cached catalog payloads.
type CatalogReader interface {
	Documents(ctx context.Context) (json.RawMessage, error)
	Members(ctx context.Context, workspaceID string) (json.RawMessage, error)
}

// Server is the local control API over the job tracker and chat session.
type Server struct {
	jobs    usecase.JobTrackerUseCase
	chat    usecase.ChatSessionUseCase
	catalog CatalogReader // optional
	apiKey  string
	log     *zerolog.Logger

	srv *http.Server
}

func NewServer(jobs usecase.JobTrackerUseCase, chat usecase.ChatSessionUseCase, catalog CatalogReader, apiKey string, logger *zerolog.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{jobs: jobs, chat: chat, catalog: catalog, apiKey: apiKey, log: logger}
}

// Router builds the chi mux. /health and /metrics stay open; /api/v1 needs the bearer key.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log), Timeout(15*time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(s.apiKey, s.log))

		r.Get("/jobs", s.listJobs)
		r.Post("/jobs", s.startJob)
		r.Get("/jobs/{id}", s.getJob)

		r.Get("/chat/{contextKey}", s.chatHistory)
		r.Post("/chat/{contextKey}", s.chatSend)
		r.Delete("/chat/{contextKey}", s.chatClear)
		r.Post("/chat/{contextKey}/cancel", s.chatCancel)

		r.Get("/catalog/documents", s.catalogDocuments)
		r.Get("/catalog/workspaces/{id}/members", s.catalogMembers)
	})
	return r
}

// ListenAndServe blocks serving the router on port until Shutdown.
func (s *Server) ListenAndServe(port int) error {
	s.srv = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("control API listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.jobs.Jobs()})
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	var req model.ResearchParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	job, err := s.jobs.StartJob(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid job id", http.StatusBadRequest)
		return
	}
	job, err := s.jobs.Job(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	items := s.chat.History(chi.URLParam(r, "contextKey"))
	if items == nil {
		items = []model.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type chatSendRequest struct {
	Question string `json:"question"`
	Executor string `json:"executor,omitempty"`
}

func (s *Server) chatSend(w http.ResponseWriter, r *http.Request) {
	var req chatSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	key := chi.URLParam(r, "contextKey")
	if err := s.chat.Send(r.Context(), key, req.Question, req.Executor); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"context_key": key, "status": "thinking"})
}

func (s *Server) chatClear(w http.ResponseWriter, r *http.Request) {
	s.chat.Clear(chi.URLParam(r, "contextKey"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) chatCancel(w http.ResponseWriter, r *http.Request) {
	cancelled := s.chat.Cancel(chi.URLParam(r, "contextKey"))
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) catalogDocuments(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		http.Error(w, "Catalog not available", http.StatusNotFound)
		return
	}
	raw, err := s.catalog.Documents(r.Context())
	s.writeRaw(w, r, raw, err)
}

func (s *Server) catalogMembers(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		http.Error(w, "Catalog not available", http.StatusNotFound)
		return
	}
	raw, err := s.catalog.Members(r.Context(), chi.URLParam(r, "id"))
	s.writeRaw(w, r, raw, err)
}

func (s *Server) writeRaw(w http.ResponseWriter, r *http.Request, raw json.RawMessage, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// writeError maps domain errors to status codes. Remote failures surface as 502.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ae *domain.AuthError
		he *domain.HTTPError
	)
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.As(err, &ae), errors.As(err, &he):
		logging.With(r.Context(), s.log).Warn().Err(err).Msg("remote service error")
		http.Error(w, fmt.Sprintf("Upstream error: %v", err), http.StatusBadGateway)
	default:
		logging.With(r.Context(), s.log).Error().Err(err).Msg("request failed")
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
