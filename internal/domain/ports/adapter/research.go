package adapter

import (
	"context"

	"research-client/internal/domain/model"
)

// ExecuteRequest is the payload of the execute-async endpoint.
type ExecuteRequest struct {
	Type            string `json:"type"`
	InteractionName string `json:"interaction_name"`
	Task            string `json:"task"`
	Model           string `json:"model,omitempty"`
	Environment     string `json:"environment,omitempty"`
	Interactive     bool   `json:"interactive"`
	MaxIterations   int    `json:"max_iterations"`
}

// ResearchService is the port over the remote analysis service used by jobs and chat.
type ResearchService interface {
	ExecuteAsync(ctx context.Context, req ExecuteRequest) (model.ExecutionHandle, error)
	// Stream blocks until the stream ends, delivering decoded events in arrival order.
	Stream(ctx context.Context, h model.ExecutionHandle, onEvent func(model.StreamEvent)) error
	RunStatus(ctx context.Context, h model.ExecutionHandle) (model.RunStatus, error)
}

// CatalogRefresher reloads document and workspace data after research completes.
type CatalogRefresher interface {
	RefreshDocuments(ctx context.Context) error
	RefreshWorkspaceMembers(ctx context.Context, workspaceID string) error
}

// NoopCatalog is used when there is no live backend to refresh from.
type NoopCatalog struct{}

func (NoopCatalog) RefreshDocuments(context.Context) error                { return nil }
func (NoopCatalog) RefreshWorkspaceMembers(context.Context, string) error { return nil }
