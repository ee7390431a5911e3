package research

import (
	"context"

	"research-client/internal/domain/model"
	"research-client/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ResearchService = (*limitedService)(nil)

// limitedService caps concurrent short requests. Streams are not limited:
// each live job holds one for its whole runtime.
type limitedService struct {
	inner adapter.ResearchService
	sem   chan struct{}
}

func NewLimitedService(inner adapter.ResearchService, maxConcurrent int) adapter.ResearchService {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedService{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedService) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedService) release() { <-l.sem }

func (l *limitedService) ExecuteAsync(ctx context.Context, req adapter.ExecuteRequest) (model.ExecutionHandle, error) {
	if err := l.acquire(ctx); err != nil {
		return model.ExecutionHandle{}, err
	}
	defer l.release()
	return l.inner.ExecuteAsync(ctx, req)
}

func (l *limitedService) RunStatus(ctx context.Context, h model.ExecutionHandle) (model.RunStatus, error) {
	if err := l.acquire(ctx); err != nil {
		return model.RunStatus{}, err
	}
	defer l.release()
	return l.inner.RunStatus(ctx, h)
}

func (l *limitedService) Stream(ctx context.Context, h model.ExecutionHandle, onEvent func(model.StreamEvent)) error {
	return l.inner.Stream(ctx, h, onEvent)
}
