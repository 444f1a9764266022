package jobs

import (
	"context"
	"strings"
	"sync"
)

// KV is the slice of the key-value store the queue needs for liveness
// keys. Production wires Redis; tests and single-process runs use the
// in-memory implementation.
type KV interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	CountPrefix(ctx context.Context, prefix string) (int, error)
}

// MemoryKV is a process-local KV. It keeps the queue honest about going
// through the store without requiring Redis on a developer machine.
type MemoryKV struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: map[string]string{}}
}

func (kv *MemoryKV) Set(ctx context.Context, key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.m[key] = value
	return nil
}

func (kv *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.m[key]
	return v, ok, nil
}

func (kv *MemoryKV) Delete(ctx context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.m, key)
	return nil
}

func (kv *MemoryKV) CountPrefix(ctx context.Context, prefix string) (int, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	n := 0
	for k := range kv.m {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}
