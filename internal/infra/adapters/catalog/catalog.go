package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"research-client/internal/domain"
	"research-client/internal/domain/ports/adapter"
	"research-client/internal/domain/ports/repository"
	"research-client/internal/infra/logging"
)

var _ adapter.CatalogRefresher = (*Refresher)(nil)

const documentsKey = "catalog:documents"

func membersKey(workspaceID string) string {
	return "catalog:workspace:" + workspaceID + ":members"
}

// Source is the remote side of the catalog. *research.Client implements it.
type Source interface {
	ListDocuments(ctx context.Context) (json.RawMessage, error)
	ListWorkspaceMembers(ctx context.Context, workspaceID string) (json.RawMessage, error)
}

// Refresher reloads catalog data from the service and caches the raw payloads.
type Refresher struct {
	src   Source
	store repository.KeyValueStore
	log   *zerolog.Logger
}

func NewRefresher(src Source, store repository.KeyValueStore, log *zerolog.Logger) *Refresher {
	if log == nil {
		log = logging.Nop()
	}
	return &Refresher{src: src, store: store, log: log}
}

func (r *Refresher) RefreshDocuments(ctx context.Context) error {
	raw, err := r.src.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	if err := r.save(ctx, documentsKey, raw); err != nil {
		return err
	}
	r.log.Debug().Int("bytes", len(raw)).Msg("document catalog refreshed")
	return nil
}

func (r *Refresher) RefreshWorkspaceMembers(ctx context.Context, workspaceID string) error {
	if workspaceID == "" {
		return fmt.Errorf("%w: workspace id empty", domain.ErrInvalidArgument)
	}
	raw, err := r.src.ListWorkspaceMembers(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("list members of %s: %w", workspaceID, err)
	}
	if err := r.save(ctx, membersKey(workspaceID), raw); err != nil {
		return err
	}
	r.log.Debug().Str("workspace_id", workspaceID).Msg("workspace members refreshed")
	return nil
}

func (r *Refresher) save(ctx context.Context, key string, raw json.RawMessage) error {
	if raw == nil {
		raw = json.RawMessage("null")
	}
	return r.store.Set(ctx, key, raw)
}

// Documents returns the last cached document catalog, or ErrNotFound before the first refresh.
func (r *Refresher) Documents(ctx context.Context) (json.RawMessage, error) {
	return r.load(ctx, documentsKey)
}

// Members returns the last cached member list of a workspace.
func (r *Refresher) Members(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	return r.load(ctx, membersKey(workspaceID))
}

func (r *Refresher) load(ctx context.Context, key string) (json.RawMessage, error) {
	var raw json.RawMessage
	ok, err := r.store.Get(ctx, key, &raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	return raw, nil
}

// IsNotCached reports whether err means nothing has been refreshed yet.
func IsNotCached(err error) bool { return errors.Is(err, domain.ErrNotFound) }
