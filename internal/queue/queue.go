// internal/queue/queue.go
package queue

import (
	"context"
	"time"
)

// Snapshot sources.
const (
	SourceCrawler     = "crawler"
	SourceAIRequested = "ai_requested"
)

// Metric is the outcome of one collection action inside a snapshot. Exactly
// one of Output/Error is meaningful.
type Metric struct {
	Output         string    `json:"output,omitempty"`
	Error          string    `json:"error,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	CollectedAt    time.Time `json:"collected_at"`
}

// Snapshot is one timestamped batch of action outputs for a server.
type Snapshot struct {
	ServerID   string            `json:"server_id"`
	ServerName string            `json:"server_name"`
	Timestamp  time.Time         `json:"timestamp"`
	Source     string            `json:"source"`
	Data       map[string]Metric `json:"data"`
}

// Store is a per-server bounded queue of snapshots, most recent first.
// Pushing refreshes the queue TTL; an expired queue reads as absent, not
// empty. Stale reads are acceptable, incorrect data is not.
type Store interface {
	// Push inserts a snapshot at the head and trims the queue to limit.
	Push(ctx context.Context, serverID string, snapshot *Snapshot, limit int, ttl time.Duration) error

	// Peek returns up to n snapshots from the head without removing them.
	Peek(ctx context.Context, serverID string, n int) ([]Snapshot, error)

	// Pop removes and returns up to n snapshots from the head.
	Pop(ctx context.Context, serverID string, n int) ([]Snapshot, error)

	// Exists reports whether the server has a live, non-empty queue.
	Exists(ctx context.Context, serverID string) (bool, error)
}
