// internal/database/boltstore.go - BoltDB implementation of Store
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	ActionsBucket    = []byte("actions")
	ServersBucket    = []byte("servers")
	BindingsBucket   = []byte("bindings")
	ExecutionsBucket = []byte("executions")
	DecisionsBucket  = []byte("decisions")
)

type BoltStore struct {
	db   *bbolt.DB
	path string
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	store := &BoltStore{db: db, path: path}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{ActionsBucket, ServersBucket, BindingsBucket, ExecutionsBucket, DecisionsBucket}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// ===== Actions =====

func (s *BoltStore) GetActions(ctx context.Context, filters ActionFilters) ([]Action, error) {
	var actions []Action

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ActionsBucket)
		return b.ForEach(func(k, v []byte) error {
			var action Action
			if err := json.Unmarshal(v, &action); err != nil {
				return fmt.Errorf("failed to unmarshal action %s: %w", k, err)
			}

			if filters.Kind != "" && action.Kind != filters.Kind {
				return nil
			}
			if filters.ActiveOnly && !action.IsActive {
				return nil
			}

			actions = append(actions, action)
			return nil
		})
	})

	return actions, err
}

func (s *BoltStore) GetAction(ctx context.Context, id string) (*Action, error) {
	var action Action

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ActionsBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("action %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(v, &action)
	})

	if err != nil {
		return nil, err
	}
	return &action, nil
}

func (s *BoltStore) GetActionByName(ctx context.Context, name string) (*Action, error) {
	var found *Action

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ActionsBucket)
		return b.ForEach(func(k, v []byte) error {
			if found != nil {
				return nil
			}
			var action Action
			if err := json.Unmarshal(v, &action); err != nil {
				return nil // Skip malformed entries
			}
			if action.Name == name {
				found = &action
			}
			return nil
		})
	})

	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("action %q: %w", name, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) CreateAction(ctx context.Context, action *Action) error {
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	action.CreatedAt = time.Now()
	action.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ActionsBucket)

		data, err := json.Marshal(action)
		if err != nil {
			return fmt.Errorf("failed to marshal action: %w", err)
		}

		return b.Put([]byte(action.ID), data)
	})
}

func (s *BoltStore) UpdateAction(ctx context.Context, action *Action) error {
	action.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ActionsBucket)

		data, err := json.Marshal(action)
		if err != nil {
			return fmt.Errorf("failed to marshal action: %w", err)
		}

		return b.Put([]byte(action.ID), data)
	})
}

func (s *BoltStore) DeleteAction(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ActionsBucket)
		return b.Delete([]byte(id))
	})
}

// ===== Servers =====

func (s *BoltStore) GetServers(ctx context.Context) ([]Server, error) {
	var servers []Server

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ServersBucket)
		return b.ForEach(func(k, v []byte) error {
			var server Server
			if err := json.Unmarshal(v, &server); err != nil {
				return fmt.Errorf("failed to unmarshal server %s: %w", k, err)
			}
			servers = append(servers, server)
			return nil
		})
	})

	return servers, err
}

func (s *BoltStore) GetServer(ctx context.Context, id string) (*Server, error) {
	var server Server

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ServersBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("server %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(v, &server)
	})

	if err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *BoltStore) CreateServer(ctx context.Context, server *Server) error {
	if server.ID == "" {
		server.ID = uuid.New().String()
	}
	if server.Port == 0 {
		server.Port = 22
	}
	server.CreatedAt = time.Now()
	server.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ServersBucket)

		data, err := json.Marshal(server)
		if err != nil {
			return fmt.Errorf("failed to marshal server: %w", err)
		}

		return b.Put([]byte(server.ID), data)
	})
}

func (s *BoltStore) UpdateServer(ctx context.Context, server *Server) error {
	server.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ServersBucket)

		data, err := json.Marshal(server)
		if err != nil {
			return fmt.Errorf("failed to marshal server: %w", err)
		}

		return b.Put([]byte(server.ID), data)
	})
}

func (s *BoltStore) DeleteServer(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(ServersBucket).Delete([]byte(id)); err != nil {
			return err
		}

		// Drop the server's bindings as well
		b := tx.Bucket(BindingsBucket)
		c := b.Cursor()
		prefix := id + ":"
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ===== Bindings =====

func bindingKey(serverID, actionID string) []byte {
	return []byte(serverID + ":" + actionID)
}

func (s *BoltStore) GetBindings(ctx context.Context, serverID string) ([]Binding, error) {
	var bindings []Binding

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(BindingsBucket)
		c := b.Cursor()

		prefix := serverID + ":"
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var binding Binding
			if err := json.Unmarshal(v, &binding); err != nil {
				continue
			}
			bindings = append(bindings, binding)
		}

		return nil
	})

	return bindings, err
}

func (s *BoltStore) GetBinding(ctx context.Context, serverID, actionID string) (*Binding, error) {
	var binding Binding

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(BindingsBucket)
		v := b.Get(bindingKey(serverID, actionID))
		if v == nil {
			return fmt.Errorf("binding %s/%s: %w", serverID, actionID, ErrNotFound)
		}
		return json.Unmarshal(v, &binding)
	})

	if err != nil {
		return nil, err
	}
	return &binding, nil
}

func (s *BoltStore) PutBinding(ctx context.Context, binding *Binding) error {
	if binding.CreatedAt.IsZero() {
		binding.CreatedAt = time.Now()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(BindingsBucket)

		data, err := json.Marshal(binding)
		if err != nil {
			return fmt.Errorf("failed to marshal binding: %w", err)
		}

		return b.Put(bindingKey(binding.ServerID, binding.ActionID), data)
	})
}

func (s *BoltStore) DeleteBinding(ctx context.Context, serverID, actionID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(BindingsBucket)
		return b.Delete(bindingKey(serverID, actionID))
	})
}

// ===== Execution log =====

// Execution keys are serverID:paddedUnixNano:uuid so a prefix cursor walks
// one server's rows in time order.
func executionKey(log *ExecutionLog) []byte {
	return []byte(fmt.Sprintf("%s:%020d:%s", log.ServerID, log.ExecutedAt.UnixNano(), log.ID))
}

func (s *BoltStore) AppendExecution(ctx context.Context, log *ExecutionLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.ExecutedAt.IsZero() {
		log.ExecutedAt = time.Now()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ExecutionsBucket)

		data, err := json.Marshal(log)
		if err != nil {
			return fmt.Errorf("failed to marshal execution log: %w", err)
		}

		return b.Put(executionKey(log), data)
	})
}

func (s *BoltStore) GetExecutions(ctx context.Context, filters ExecutionFilters) ([]ExecutionLog, error) {
	var logs []ExecutionLog

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ExecutionsBucket)
		c := b.Cursor()

		collect := func(v []byte) {
			var log ExecutionLog
			if err := json.Unmarshal(v, &log); err != nil {
				return
			}
			if filters.Trigger != "" && log.Trigger != filters.Trigger {
				return
			}
			logs = append(logs, log)
		}

		if filters.ServerID != "" {
			prefix := filters.ServerID + ":"
			for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
				collect(v)
			}
		} else {
			for k, v := c.First(); k != nil; k, v = c.Next() {
				collect(v)
			}
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	// Most recent first. Keys only order rows within one server's prefix,
	// so the unfiltered listing needs an explicit sort.
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].ExecutedAt.After(logs[j].ExecutedAt)
	})
	if filters.Limit > 0 && len(logs) > filters.Limit {
		logs = logs[:filters.Limit]
	}

	return logs, nil
}

func (s *BoltStore) GetExecutionStats(ctx context.Context, serverID string) (*ExecutionStats, error) {
	stats := &ExecutionStats{}
	var elapsedTotal float64

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ExecutionsBucket)
		c := b.Cursor()

		prefix := serverID + ":"
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var log ExecutionLog
			if err := json.Unmarshal(v, &log); err != nil {
				continue
			}
			// Advisory rows never executed anything
			if log.Trigger == TriggerRecommended || log.Trigger == TriggerAISkipped {
				continue
			}

			stats.TotalExecutions++
			if log.Success {
				stats.SuccessfulExecutions++
			} else {
				stats.FailedExecutions++
			}
			elapsedTotal += log.ElapsedSeconds
		}

		return nil
	})

	if err != nil {
		return nil, err
	}
	if stats.TotalExecutions > 0 {
		stats.AvgElapsedSeconds = elapsedTotal / float64(stats.TotalExecutions)
	}
	return stats, nil
}

// ===== Decision history =====

func (s *BoltStore) AppendDecision(ctx context.Context, decision *Decision) error {
	if decision.ID == "" {
		decision.ID = uuid.New().String()
	}
	if decision.CreatedAt.IsZero() {
		decision.CreatedAt = time.Now()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(DecisionsBucket)

		data, err := json.Marshal(decision)
		if err != nil {
			return fmt.Errorf("failed to marshal decision: %w", err)
		}

		key := fmt.Sprintf("%s:%020d:%s", decision.ServerID, decision.CreatedAt.UnixNano(), decision.ID)
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) GetRecentDecisions(ctx context.Context, serverID string, limit int) ([]Decision, error) {
	var decisions []Decision

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(DecisionsBucket)
		c := b.Cursor()

		prefix := serverID + ":"
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var decision Decision
			if err := json.Unmarshal(v, &decision); err != nil {
				continue
			}
			decisions = append(decisions, decision)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	for i, j := 0, len(decisions)-1; i < j; i, j = i+1, j-1 {
		decisions[i], decisions[j] = decisions[j], decisions[i]
	}
	if limit > 0 && len(decisions) > limit {
		decisions = decisions[:limit]
	}

	return decisions, nil
}

// DB exposes the underlying handle so other buckets (the metrics queue)
// can share one database file.
func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
