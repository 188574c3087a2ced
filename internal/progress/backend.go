package progress

import (
	"context"
	"sync"
)

// Backend persists the whole store. Save has overwrite semantics, merging
// happens in memory before it is called.
type Backend interface {
	Load(ctx context.Context) (Store, error)
	Save(ctx context.Context, store Store) error
}

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps the store in process memory.
type MemoryBackend struct {
	mutex sync.Mutex
	store Store

	// LoadErr and SaveErr, when set, are returned by the next calls (testing aid)
	LoadErr error
	SaveErr error
	saves   int
}

func NewMemoryBackend(initial Store) *MemoryBackend {
	if initial == nil {
		initial = NewStore()
	}
	return &MemoryBackend{
		store: initial.Clone(),
	}
}

func (b *MemoryBackend) Load(_ context.Context) (Store, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.LoadErr != nil {
		return nil, b.LoadErr
	}
	return b.store.Clone(), nil
}

func (b *MemoryBackend) Save(_ context.Context, store Store) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.SaveErr != nil {
		return b.SaveErr
	}
	b.store = store.Clone()
	b.saves++
	return nil
}

func (b *MemoryBackend) Saves() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.saves
}
