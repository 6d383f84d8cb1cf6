// internal/queue/memory.go - in-memory queue for tests and single-process runs
package queue

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	expiresAt time.Time
	entries   []Snapshot
}

type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string]*memoryEntry
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{queues: make(map[string]*memoryEntry)}
}

func (q *MemoryQueue) Push(ctx context.Context, serverID string, snapshot *Snapshot, limit int, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := q.live(serverID)
	if entry == nil {
		entry = &memoryEntry{}
		q.queues[serverID] = entry
	}

	entry.entries = append([]Snapshot{*snapshot}, entry.entries...)
	if limit > 0 && len(entry.entries) > limit {
		entry.entries = entry.entries[:limit]
	}
	entry.expiresAt = time.Now().Add(ttl)
	return nil
}

func (q *MemoryQueue) Peek(ctx context.Context, serverID string, n int) ([]Snapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := q.live(serverID)
	if entry == nil {
		return nil, nil
	}
	if n > len(entry.entries) {
		n = len(entry.entries)
	}
	out := make([]Snapshot, n)
	copy(out, entry.entries[:n])
	return out, nil
}

func (q *MemoryQueue) Pop(ctx context.Context, serverID string, n int) ([]Snapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := q.live(serverID)
	if entry == nil {
		return nil, nil
	}
	if n > len(entry.entries) {
		n = len(entry.entries)
	}
	out := make([]Snapshot, n)
	copy(out, entry.entries[:n])
	entry.entries = entry.entries[n:]

	if len(entry.entries) == 0 {
		delete(q.queues, serverID)
	}
	return out, nil
}

func (q *MemoryQueue) Exists(ctx context.Context, serverID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := q.live(serverID)
	return entry != nil && len(entry.entries) > 0, nil
}

// live returns the server's queue, dropping it if the TTL has lapsed.
// Callers must hold the mutex.
func (q *MemoryQueue) live(serverID string) *memoryEntry {
	entry, ok := q.queues[serverID]
	if !ok {
		return nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(q.queues, serverID)
		return nil
	}
	return entry
}
