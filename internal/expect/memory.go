package expect

import (
	"context"
	"sync"
)

// MemoryKV keeps records in process memory. It survives nothing and is meant
// for tests and embedded use.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]map[string]string)}
}

func (m *MemoryKV) EnsureSchema(context.Context) error { return nil }

func (m *MemoryKV) Load(_ context.Context, ns string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.data[ns]))
	for k, v := range m.data[ns] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryKV) Apply(_ context.Context, ns string, put map[string]string, del []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.data[ns]
	if rec == nil {
		rec = make(map[string]string)
		m.data[ns] = rec
	}
	for k, v := range put {
		rec[k] = v
	}
	for _, k := range del {
		delete(rec, k)
	}
	return nil
}

func (m *MemoryKV) Close() error { return nil }
