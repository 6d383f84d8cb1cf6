// internal/queue/boltqueue.go - BoltDB-backed metrics queue
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var MetricsBucket = []byte("metrics_queue")

// envelope is the stored value for one server: the head-ordered snapshot
// list plus its expiry. TTL is enforced lazily on read.
type envelope struct {
	ExpiresAt time.Time  `json:"expires_at"`
	Entries   []Snapshot `json:"entries"`
}

type BoltQueue struct {
	db *bbolt.DB
}

// NewBoltQueue stores queues in the given BoltDB handle. The handle may be
// shared with the main store; the queue owns only its bucket.
func NewBoltQueue(db *bbolt.DB) (*BoltQueue, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(MetricsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics queue bucket: %w", err)
	}
	return &BoltQueue{db: db}, nil
}

func (q *BoltQueue) Push(ctx context.Context, serverID string, snapshot *Snapshot, limit int, ttl time.Duration) error {
	return q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MetricsBucket)

		env := q.load(b, serverID)
		env.Entries = append([]Snapshot{*snapshot}, env.Entries...)
		if limit > 0 && len(env.Entries) > limit {
			env.Entries = env.Entries[:limit]
		}
		env.ExpiresAt = time.Now().Add(ttl)

		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to marshal metrics queue: %w", err)
		}
		return b.Put([]byte(serverID), data)
	})
}

func (q *BoltQueue) Peek(ctx context.Context, serverID string, n int) ([]Snapshot, error) {
	var entries []Snapshot

	err := q.db.View(func(tx *bbolt.Tx) error {
		env := q.load(tx.Bucket(MetricsBucket), serverID)
		if n > len(env.Entries) {
			n = len(env.Entries)
		}
		entries = append(entries, env.Entries[:n]...)
		return nil
	})

	return entries, err
}

func (q *BoltQueue) Pop(ctx context.Context, serverID string, n int) ([]Snapshot, error) {
	var popped []Snapshot

	err := q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MetricsBucket)

		env := q.load(b, serverID)
		if n > len(env.Entries) {
			n = len(env.Entries)
		}
		popped = append(popped, env.Entries[:n]...)
		env.Entries = env.Entries[n:]

		if len(env.Entries) == 0 {
			return b.Delete([]byte(serverID))
		}

		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to marshal metrics queue: %w", err)
		}
		return b.Put([]byte(serverID), data)
	})

	return popped, err
}

func (q *BoltQueue) Exists(ctx context.Context, serverID string) (bool, error) {
	var exists bool

	err := q.db.View(func(tx *bbolt.Tx) error {
		env := q.load(tx.Bucket(MetricsBucket), serverID)
		exists = len(env.Entries) > 0
		return nil
	})

	return exists, err
}

// load decodes a server's envelope, treating expired or malformed data as
// an absent queue.
func (q *BoltQueue) load(b *bbolt.Bucket, serverID string) envelope {
	var env envelope

	v := b.Get([]byte(serverID))
	if v == nil {
		return env
	}
	if err := json.Unmarshal(v, &env); err != nil {
		return envelope{}
	}
	if !env.ExpiresAt.IsZero() && time.Now().After(env.ExpiresAt) {
		return envelope{}
	}
	return env
}
