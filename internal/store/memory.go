package store

import (
	"context"
	"sync"
)

// Memory is an in-memory Store used for dry runs and tests. Semantics
// match Postgres: last upsert per pulse id wins.
type Memory struct {
	mu   sync.Mutex
	docs map[string]Document
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

func (m *Memory) EnsureSchema(ctx context.Context) error { return nil }

func (m *Memory) UpsertBatch(ctx context.Context, docs []Document) (LoadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res LoadResult
	for _, d := range docs {
		m.docs[d.PulseID] = d
		res.Succeeded++
	}
	return res, nil
}

// Get returns the stored document for a pulse id.
func (m *Memory) Get(id string) (Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	return d, ok
}

// Len returns the number of distinct documents stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

func (m *Memory) Close() {}
