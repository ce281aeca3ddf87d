package storage

import (
	"context"
	"sync"
)

// Memory is an in-process Store.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
	bus     *Bus
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]Record),
		bus:     NewBus(),
	}
}

func (m *Memory) Get(ctx context.Context, key string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return Record{}, false, nil
	}
	rec.Value = cloneBytes(rec.Value)
	return rec, true, nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	rec := Record{Key: key, Value: cloneBytes(value), Rev: m.records[key].Rev + 1}
	m.records[key] = rec
	m.mu.Unlock()

	rec.Value = cloneBytes(value)
	m.bus.Publish(rec)
	return rec.Rev, nil
}

func (m *Memory) Subscribe() (<-chan Record, func()) {
	return m.bus.Subscribe()
}
