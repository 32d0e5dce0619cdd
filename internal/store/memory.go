package store

import (
	"context"
	"sync"
)

// Memory holds ledger state in process memory only. Used for tests and
// throwaway deployments.
type Memory struct {
	mu    sync.RWMutex
	state State
}

func NewMemory() *Memory {
	return &Memory{state: Empty()}
}

func (m *Memory) Load(ctx context.Context) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneState(m.state), nil
}

func (m *Memory) Commit(ctx context.Context, total int64, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.TotalViews = total
	m.state.Entries[e.Fingerprint] = e.LastSeen
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
