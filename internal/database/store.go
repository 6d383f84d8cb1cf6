// internal/database/store.go
package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an action, server or binding does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for persistent storage. Execution logs and
// decisions are append-only; everything else is plain CRUD.
type Store interface {
	// Action operations
	GetActions(ctx context.Context, filters ActionFilters) ([]Action, error)
	GetAction(ctx context.Context, id string) (*Action, error)
	GetActionByName(ctx context.Context, name string) (*Action, error)
	CreateAction(ctx context.Context, action *Action) error
	UpdateAction(ctx context.Context, action *Action) error
	DeleteAction(ctx context.Context, id string) error

	// Server operations
	GetServers(ctx context.Context) ([]Server, error)
	GetServer(ctx context.Context, id string) (*Server, error)
	CreateServer(ctx context.Context, server *Server) error
	UpdateServer(ctx context.Context, server *Server) error
	DeleteServer(ctx context.Context, id string) error

	// Binding operations
	GetBindings(ctx context.Context, serverID string) ([]Binding, error)
	GetBinding(ctx context.Context, serverID, actionID string) (*Binding, error)
	PutBinding(ctx context.Context, binding *Binding) error
	DeleteBinding(ctx context.Context, serverID, actionID string) error

	// Execution log operations (append-only)
	AppendExecution(ctx context.Context, log *ExecutionLog) error
	GetExecutions(ctx context.Context, filters ExecutionFilters) ([]ExecutionLog, error)
	GetExecutionStats(ctx context.Context, serverID string) (*ExecutionStats, error)

	// Decision history operations (append-only)
	AppendDecision(ctx context.Context, decision *Decision) error
	GetRecentDecisions(ctx context.Context, serverID string, limit int) ([]Decision, error)

	// Close the database connection
	Close() error
}
