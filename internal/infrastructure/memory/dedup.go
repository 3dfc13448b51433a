package memory

import (
	"context"
	"sync"
)

// Deduplicator is the in-process stand-in for the Redis webhook dedup keys.
type Deduplicator struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{keys: make(map[string]struct{})}
}

func (d *Deduplicator) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, held := d.keys[key]; held {
		return false, nil
	}
	d.keys[key] = struct{}{}
	return true, nil
}

func (d *Deduplicator) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, key)
	return nil
}
