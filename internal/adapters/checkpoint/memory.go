// Package checkpoint implements ports.Checkpointer backends.
package checkpoint

import (
	"context"
	"maps"
	"sync"

	"github.com/ghalamif/kinsumer/internal/ports"
)

// MemoryCheckpointer keeps checkpoints for the lifetime of the process only.
type MemoryCheckpointer struct {
	mu          sync.RWMutex
	checkpoints map[string]string
}

func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{checkpoints: make(map[string]string)}
}

func (m *MemoryCheckpointer) GetCheckpoints(context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.checkpoints), nil
}

func (m *MemoryCheckpointer) GetCheckpoint(_ context.Context, shardID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, ok := m.checkpoints[shardID]
	return seq, ok, nil
}

func (m *MemoryCheckpointer) Checkpoint(_ context.Context, shardID, sequence string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[shardID] = sequence
	return nil
}

var _ ports.Checkpointer = (*MemoryCheckpointer)(nil)
