// Package memstore is the process-local KeyValueStore used when no Redis is configured.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"research-client/internal/domain/ports/repository"
	"research-client/internal/infra/metrics"
)

var _ repository.KeyValueStore = (*Memory)(nil)

// Memory stores encoded JSON so callers never share references with the store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func New() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.RLock()
	b, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		metrics.IncStoreOp("memory", "get", "miss")
		return false, nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		metrics.IncStoreOp("memory", "get", "error")
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	metrics.IncStoreOp("memory", "get", "hit")
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	m.data[key] = b
	m.mu.Unlock()
	metrics.IncStoreOp("memory", "set", "ok")
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	metrics.IncStoreOp("memory", "remove", "ok")
	return nil
}
