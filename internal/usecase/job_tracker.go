// File: internal/usecase/job_tracker.go
package usecase

import (
	"context"
	"encoding/json"
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
	"research-client/internal/domain/ports/repository"
	"research-client/internal/infra/logging"
	"research-client/internal/infra/metrics"
)

// JobsKey is where the job list is persisted.
const JobsKey = "research:jobs"

const (
	statusCompleted   = "Completed."
	statusTimedOut    = "Timed out."
	statusFailed      = "Research failed."
	statusInterrupted = "Interrupted."
)

// Compile-time check
var _ JobTrackerUseCase = (*jobTracker)(nil)

type JobTrackerUseCase interface {
	StartJob(ctx context.Context, params model.ResearchParams) (model.Job, error)
	Jobs() []model.Job
	Job(id int64) (model.Job, error)
	Restore(ctx context.Context) error
	Close()
}

// jobTracker drives research jobs from submission to a terminal status.
//
// A live job is watched by a stream observer and a poll observer at once; the
// first terminal verdict wins through Job.TryTransition and the other observer
// is cancelled. mu is held across mutate, persist and publish, so subscribers
// see notifications in mutation order. Handlers receive snapshots and must not
// call back into the tracker.
type jobTracker struct {
	svc     adapter.ResearchService // nil in demo mode
	pub     adapter.Publisher
	store   repository.KeyValueStore
	catalog adapter.CatalogRefresher
	cfg     config.JobsConfig
	remote  config.RemoteConfig
	log     *zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	order  []*model.Job
	byID   map[int64]*model.Job
	nextID int64
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewJobTracker(
	svc adapter.ResearchService,
	pub adapter.Publisher,
	store repository.KeyValueStore,
	catalog adapter.CatalogRefresher,
	cfg config.JobsConfig,
	remote config.RemoteConfig,
	log *zerolog.Logger,
) (*jobTracker, error) {
	if cfg.Live && svc == nil {
		return nil, errors.New("job tracker: live mode needs a research service")
	}
	if pub == nil || store == nil {
		return nil, errors.New("job tracker: publisher and store are required")
	}
	if catalog == nil {
		catalog = adapter.NoopCatalog{}
	}
	if log == nil {
		log = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &jobTracker{
		svc:     svc,
		pub:     pub,
		store:   store,
		catalog: catalog,
		cfg:     cfg,
		remote:  remote,
		log:     log,
		now:     time.Now,
		byID:    make(map[int64]*model.Job),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// StartJob submits the research and begins observing it.
// In live mode the remote run is started before the job record exists.
func (t *jobTracker) StartJob(ctx context.Context, params model.ResearchParams) (model.Job, error) {
	params.Topic = strings.TrimSpace(params.Topic)
	if params.Topic == "" {
		return model.Job{}, fmt.Errorf("%w: topic is required", domain.ErrInvalidArgument)
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		name = params.Topic
	}

	var handle *model.ExecutionHandle
	if t.cfg.Live {
		h, err := t.svc.ExecuteAsync(ctx, adapter.ExecuteRequest{
			Type:            "agent",
			InteractionName: t.remote.Interaction,
			Task:            BuildPrompt(params),
			Model:           t.remote.Model,
			Environment:     t.remote.Environment,
			MaxIterations:   t.remote.MaxIterations,
		})
		if err != nil {
			metrics.IncJob("rejected")
			return model.Job{}, fmt.Errorf("submit research: %w", err)
		}
		handle = &h
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return model.Job{}, errors.New("job tracker closed")
	}
	t.nextID++
	job := model.NewJob(t.nextID, name, params.WorkspaceID, handle, t.cfg.Live, t.now())
	t.order = append(t.order, job)
	t.byID[job.ID] = job
	t.commitLocked()
	snap := job.Clone()
	t.wg.Add(1)
	t.mu.Unlock()

	metrics.IncJob("started")
	log := logging.With(logging.WithJobID(ctx, snap.ID), t.log)
	if handle != nil {
		log.Info().Str("workflow_id", handle.WorkflowID).Str("run_id", handle.RunID).Msg("research job started")
		go t.observe(snap.ID, *handle)
	} else {
		log.Info().Msg("demo research job started")
		go t.demo(snap.ID)
	}
	return snap, nil
}

func (t *jobTracker) Jobs() []model.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *jobTracker) Job(id int64) (model.Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.byID[id]
	if !ok {
		return model.Job{}, domain.ErrNotFound
	}
	return j.Clone(), nil
}

// Restore loads the persisted job list and resumes observers of running jobs.
// Running jobs that cannot be observed any more are failed as interrupted.
func (t *jobTracker) Restore(ctx context.Context) error {
	var saved []model.Job
	ok, err := t.store.Get(ctx, JobsKey, &saved)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	if !ok || len(saved) == 0 {
		return nil
	}

	type resume struct {
		id     int64
		handle *model.ExecutionHandle
	}
	var resumes []resume
	var failed []model.Job

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("job tracker closed")
	}
	if len(t.order) > 0 {
		t.mu.Unlock()
		return errors.New("restore: tracker already has jobs")
	}
	now := t.now()
	for i := range saved {
		j := saved[i]
		t.order = append(t.order, &j)
		t.byID[j.ID] = &j
		if j.ID > t.nextID {
			t.nextID = j.ID
		}
		if j.Status != model.JobStatusRunning {
			continue
		}
		switch {
		case j.IsLive && t.cfg.Live && j.Handle != nil && !j.Handle.IsZero():
			resumes = append(resumes, resume{id: j.ID, handle: j.Handle})
		case !j.IsLive:
			resumes = append(resumes, resume{id: j.ID})
		default:
			j.TryTransition(model.JobStatusFailed, now)
			j.StatusText = statusInterrupted
			failed = append(failed, j.Clone())
		}
	}
	t.commitLocked()
	t.wg.Add(len(resumes))
	for _, r := range resumes {
		if r.handle != nil {
			go t.observe(r.id, *r.handle)
		} else {
			go t.demo(r.id)
		}
	}
	for _, j := range failed {
		t.pub.Publish(event.ResearchFailed{Job: j, Reason: statusInterrupted})
	}
	t.mu.Unlock()

	t.log.Info().Int("jobs", len(saved)).Int("resumed", len(resumes)).Int("interrupted", len(failed)).Msg("job list restored")
	return nil
}

// Close stops every observer and waits for them to exit. Jobs keep their current status.
func (t *jobTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cancel()
	t.wg.Wait()
}

// observe races the stream and poll observers for one live job.
func (t *jobTracker) observe(id int64, h model.ExecutionHandle) {
	defer t.wg.Done()
	ctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	ctx = logging.WithWorkflowID(logging.WithJobID(ctx, id), h.WorkflowID)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		t.streamObserver(ctx, cancel, id, h)
	}()
	go func() {
		defer wg.Done()
		t.pollObserver(ctx, cancel, id, h)
	}()
	wg.Wait()
}

func (t *jobTracker) streamObserver(ctx context.Context, stop context.CancelFunc, id int64, h model.ExecutionHandle) {
	log := logging.With(ctx, t.log)
	for attempt := 0; ; attempt++ {
		answered := false
		err := t.svc.Stream(ctx, h, func(ev model.StreamEvent) {
			if answered {
				return
			}
			switch ev.Kind {
			case model.StreamEventUpdate:
				if label, ok := BucketStatus(ev.Content); ok {
					t.setStatusText(id, label)
				}
			case model.StreamEventAnswer:
				answered = true
				t.finish(id, model.JobStatusCompleted, docIDOf(ev.Raw), "")
				stop()
			}
		})
		if answered || ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("research stream failed")
		}
		if !t.running(id) || attempt >= t.cfg.StreamReconnects {
			log.Debug().Msg("stream observer done; polling continues")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.cfg.PollInterval):
		}
		metrics.IncStreamReconnect()
	}
}

func (t *jobTracker) pollObserver(ctx context.Context, stop context.CancelFunc, id int64, h model.ExecutionHandle) {
	log := logging.With(ctx, t.log)
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= t.cfg.MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !t.running(id) {
			return
		}
		st, err := t.svc.RunStatus(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.IncPollAttempt("error")
			log.Warn().Err(err).Int("attempt", attempt).Msg("run status poll failed")
			continue
		}
		switch strings.ToLower(strings.TrimSpace(st.Status)) {
		case "completed", "succeeded":
			metrics.IncPollAttempt("completed")
			t.finish(id, model.JobStatusCompleted, st.DocumentID, "")
			stop()
			return
		case "failed", "error":
			metrics.IncPollAttempt("failed")
			reason := strings.TrimSpace(st.Message)
			if reason == "" {
				reason = statusFailed
			}
			t.finish(id, model.JobStatusFailed, "", reason)
			stop()
			return
		default:
			metrics.IncPollAttempt("pending")
		}
	}
	if ctx.Err() != nil {
		return
	}
	metrics.IncPollAttempt("timeout")
	log.Warn().Int("attempts", t.cfg.MaxPollAttempts).Msg("research job timed out")
	t.finish(id, model.JobStatusFailed, "", statusTimedOut)
	stop()
}

// demo completes a non-live job after the demo delay without touching the network.
func (t *jobTracker) demo(id int64) {
	defer t.wg.Done()
	timer := time.NewTimer(t.cfg.DemoDelay)
	defer timer.Stop()
	select {
	case <-t.ctx.Done():
	case <-timer.C:
		t.finish(id, model.JobStatusCompleted, "", "")
	}
}

// finish performs the single transition out of running. Later verdicts are no-ops.
func (t *jobTracker) finish(id int64, to model.JobStatus, docID, reason string) bool {
	t.mu.Lock()
	job, ok := t.byID[id]
	if !ok || !job.TryTransition(to, t.now()) {
		t.mu.Unlock()
		return false
	}
	if to == model.JobStatusCompleted {
		job.StatusText = statusCompleted
		if docID != "" {
			job.ResultDocID = docID
		}
	} else {
		job.StatusText = reason
	}
	t.commitLocked()
	snap := job.Clone()
	t.mu.Unlock()

	metrics.IncJob(string(to))
	log := t.log.With().Int64("job_id", id).Str("status", string(to)).Logger()
	if to == model.JobStatusFailed {
		log.Warn().Str("reason", reason).Msg("research job failed")
		t.pub.Publish(event.ResearchFailed{Job: snap, Reason: reason})
		return true
	}

	log.Info().Str("doc_id", snap.ResultDocID).Msg("research job completed")
	t.refreshCatalog(snap)
	t.pub.Publish(event.ResearchCompleted{Job: snap})
	return true
}

func (t *jobTracker) refreshCatalog(job model.Job) {
	timeout := t.remote.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	if err := t.catalog.RefreshDocuments(ctx); err != nil {
		t.log.Warn().Err(err).Int64("job_id", job.ID).Msg("document catalog refresh failed")
	}
	if job.WorkspaceID == "" {
		return
	}
	if err := t.catalog.RefreshWorkspaceMembers(ctx, job.WorkspaceID); err != nil {
		t.log.Warn().Err(err).Int64("job_id", job.ID).Str("workspace_id", job.WorkspaceID).Msg("workspace member refresh failed")
	}
}

func (t *jobTracker) setStatusText(id int64, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.byID[id]
	if !ok || job.Status != model.JobStatusRunning || job.StatusText == text {
		return
	}
	job.StatusText = text
	t.commitLocked()
}

func (t *jobTracker) running(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.byID[id]
	return ok && job.Status == model.JobStatusRunning
}

// commitLocked persists the job list and notifies subscribers. Callers hold mu.
func (t *jobTracker) commitLocked() {
	snap := t.snapshotLocked()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.Set(ctx, JobsKey, snap); err != nil {
		t.log.Error().Err(err).Msg("persist job list failed")
	}
	t.pub.Publish(event.JobListChanged{Jobs: snap})
}

func (t *jobTracker) snapshotLocked() []model.Job {
	out := make([]model.Job, 0, len(t.order))
	for _, j := range t.order {
		out = append(out, j.Clone())
	}
	return out
}

// docIDOf reads a document id carried by an answer frame, if any.
func docIDOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var f struct {
		DocumentID string `json:"document_id"`
		DocID      string `json:"docId"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return ""
	}
	if f.DocumentID != "" {
		return f.DocumentID
	}
	return f.DocID
}
