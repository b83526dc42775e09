// Package subagent implements the Sub-Agent Runner (C8): spawning a fresh
// agent core for an isolated task under the parent's capability/permission
// view, with snapshot/resume.
package subagent

import (
	"context"
	"sync"
	"time"

	"github.com/anvilrun/anvil/pkg/models"
)

// Snapshot is the persisted state of one sub-agent conversation: enough
// to resume it later as if send() had just returned.
type Snapshot struct {
	History   []models.ConversationMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists and retrieves Snapshots by an opaque key. The core does
// not prescribe a backing layout; callers choose an adapter.
type Store interface {
	Save(ctx context.Context, key string, snap Snapshot) error
	Load(ctx context.Context, key string) (Snapshot, bool, error)
}

// MemoryStore is the default Store: an in-process map, gone when the
// process exits. Sufficient for a single headless run or interactive
// session where resumability need not survive a restart.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]Snapshot
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Snapshot)}
}

func (m *MemoryStore) Save(ctx context.Context, key string, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = snap
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, key string) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.data[key]
	return snap, ok, nil
}

var _ Store = (*MemoryStore)(nil)
