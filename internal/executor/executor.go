// internal/executor/executor.go - action execution against remote servers
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"smartops/internal/catalog"
	"smartops/internal/database"
)

// Outcome is the result of one action run. Success carries Output; failure
// carries a human-readable Error. StatusCode is set for HTTP actions only.
type Outcome struct {
	Success        bool    `json:"success"`
	Output         string  `json:"output,omitempty"`
	Error          string  `json:"error,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	StatusCode     int     `json:"status_code,omitempty"`
}

func failure(format string, args ...interface{}) Outcome {
	return Outcome{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Executor runs actions against servers. Command actions share one SSH
// session per batch; HTTP actions are independent calls.
type Executor struct {
	store   database.Store
	catalog *catalog.Catalog
	dialer  Dialer
}

func New(store database.Store, cat *catalog.Catalog, dialer Dialer) *Executor {
	return &Executor{
		store:   store,
		catalog: cat,
		dialer:  dialer,
	}
}

// ExecuteAction runs a single action on a server. Unknown or inactive
// actions produce failed outcomes rather than errors.
func (e *Executor) ExecuteAction(ctx context.Context, actionID, serverID string, params map[string]string) Outcome {
	action, err := e.catalog.Get(ctx, actionID)
	if err != nil {
		return failure("action %s not found", actionID)
	}
	return e.executeResolved(ctx, action, serverID, params)
}

// ExecuteActionByName resolves the action by its unique name.
func (e *Executor) ExecuteActionByName(ctx context.Context, name, serverID string, params map[string]string) Outcome {
	action, err := e.catalog.GetByName(ctx, name)
	if err != nil {
		return failure("action %q not found", name)
	}
	return e.executeResolved(ctx, action, serverID, params)
}

func (e *Executor) executeResolved(ctx context.Context, action *database.Action, serverID string, params map[string]string) Outcome {
	if !action.IsActive {
		return failure("action %s is not active", action.Name)
	}

	server, err := e.store.GetServer(ctx, serverID)
	if err != nil {
		return failure("server %s not found", serverID)
	}

	results, _ := e.RunBatch(ctx, server, []database.Action{*action}, params)
	return results[action.ID]
}

// ExecuteMultiple runs several actions on one server, reusing a single
// session for all command actions.
func (e *Executor) ExecuteMultiple(ctx context.Context, serverID string, actionIDs []string, params map[string]string) map[string]Outcome {
	results := make(map[string]Outcome, len(actionIDs))

	server, err := e.store.GetServer(ctx, serverID)
	if err != nil {
		for _, id := range actionIDs {
			results[id] = failure("server %s not found", serverID)
		}
		return results
	}

	var actions []database.Action
	for _, id := range actionIDs {
		action, err := e.catalog.Get(ctx, id)
		if err != nil {
			results[id] = failure("action %s not found", id)
			continue
		}
		if !action.IsActive {
			results[id] = failure("action %s is not active", action.Name)
			continue
		}
		actions = append(actions, *action)
	}

	batch, _ := e.RunBatch(ctx, server, actions, params)
	for id, outcome := range batch {
		results[id] = outcome
	}
	return results
}

// RunBatch executes the given actions sequentially on one server, keyed by
// action id. At most one session is opened; if it cannot be opened, every
// action in the batch fails with the same connection error and the dial
// error is returned so callers can tell "never ran" from "ran and failed".
// The session is always closed on exit.
func (e *Executor) RunBatch(ctx context.Context, server *database.Server, actions []database.Action, params map[string]string) (map[string]Outcome, error) {
	results := make(map[string]Outcome, len(actions))
	if len(actions) == 0 {
		return results, nil
	}

	merged := ServerParams(params, server.Address, server.Name)

	needsSession := false
	for _, action := range actions {
		if action.IsCommand() {
			needsSession = true
			break
		}
	}

	var session Session
	if needsSession {
		timeout := e.catalog.EffectiveTimeout(&actions[0])

		var err error
		session, err = e.dialer.Dial(ctx, server, timeout)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"server": server.Name,
				"batch":  len(actions),
			}).Warn("Failed to open session for batch")

			for _, action := range actions {
				results[action.ID] = failure("%v", err)
			}
			return results, err
		}
		defer session.Close()
	}

	for _, action := range actions {
		results[action.ID] = e.runOne(ctx, session, &action, merged)
	}
	return results, nil
}

func (e *Executor) runOne(ctx context.Context, session Session, action *database.Action, params map[string]string) Outcome {
	timeout := e.catalog.EffectiveTimeout(action)

	switch action.Kind {
	case database.KindGetInfo, database.KindChangeState:
		if action.CommandTemplate == "" {
			return failure("action %s has no command template", action.Name)
		}
		command := Substitute(action.CommandTemplate, params)

		outcome := session.Run(command, timeout)
		logrus.WithFields(logrus.Fields{
			"action":  action.Name,
			"success": outcome.Success,
			"elapsed": outcome.ElapsedSeconds,
		}).Debug("Command executed")
		return outcome

	case database.KindHttpCall:
		if action.HTTPMethod == "" || action.HTTPURL == "" {
			return failure("action %s is missing HTTP method or URL", action.Name)
		}
		url := Substitute(action.HTTPURL, params)
		body := Substitute(action.HTTPBody, params)

		outcome := RunHTTP(ctx, action.HTTPMethod, url, action.HTTPHeaders, body, action.Parameters, timeout)
		logrus.WithFields(logrus.Fields{
			"action":  action.Name,
			"status":  outcome.StatusCode,
			"success": outcome.Success,
		}).Debug("HTTP action executed")
		return outcome

	default:
		return failure("unknown action kind: %s", action.Kind)
	}
}

// Log converts an outcome into an execution log row.
func (o Outcome) Log(serverID, actionID, decisionID, trigger string) *database.ExecutionLog {
	return &database.ExecutionLog{
		ServerID:       serverID,
		ActionID:       actionID,
		DecisionID:     decisionID,
		Trigger:        trigger,
		Success:        o.Success,
		Output:         o.Output,
		Error:          o.Error,
		ElapsedSeconds: o.ElapsedSeconds,
		StatusCode:     o.StatusCode,
		ExecutedAt:     time.Now(),
	}
}
