// internal/ops/analyzer.go - periodic decision and auto-execution loop
package ops

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"smartops/internal/catalog"
	"smartops/internal/database"
	"smartops/internal/decision"
	"smartops/internal/executor"
	"smartops/internal/metrics"
	"smartops/internal/queue"
)

const (
	DefaultAnalyzeInterval = 300 * time.Second
	DefaultMaxMetrics      = 5
	DefaultHistoryLimit    = 10
	DefaultDecisionContext = 2
	DefaultAIQueueLimit    = 100
)

// AnalyzerOptions tune the analysis loop. Zero values take the defaults.
type AnalyzerOptions struct {
	Interval        time.Duration
	MaxMetrics      int
	HistoryLimit    int
	DecisionContext int
	AIQueueLimit    int
	QueueTTL        time.Duration
}

// Analyzer drives the decision engine: per server with queued metrics it
// gathers context, requests a decision, persists it, auto-executes the
// eligible recommendations and drains the analyzed snapshots. Every
// execution it causes is traceable to a persisted decision id.
type Analyzer struct {
	store    database.Store
	queue    queue.Store
	catalog  *catalog.Catalog
	executor *executor.Executor
	client   *decision.Client
	metrics  *metrics.Collector

	interval        time.Duration
	maxMetrics      int
	historyLimit    int
	decisionContext int
	aiQueueLimit    int
	queueTTL        time.Duration

	// OnExecution, when set, receives every persisted execution row for
	// live event streaming.
	OnExecution func(*database.ExecutionLog)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

func NewAnalyzer(store database.Store, q queue.Store, cat *catalog.Catalog, exec *executor.Executor, client *decision.Client, collector *metrics.Collector, opts AnalyzerOptions) *Analyzer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultAnalyzeInterval
	}
	if opts.MaxMetrics <= 0 {
		opts.MaxMetrics = DefaultMaxMetrics
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.DecisionContext <= 0 {
		opts.DecisionContext = DefaultDecisionContext
	}
	if opts.AIQueueLimit <= 0 {
		opts.AIQueueLimit = DefaultAIQueueLimit
	}
	if opts.QueueTTL <= 0 {
		opts.QueueTTL = DefaultQueueTTL
	}
	return &Analyzer{
		store:           store,
		queue:           q,
		catalog:         cat,
		executor:        exec,
		client:          client,
		metrics:         collector,
		interval:        opts.Interval,
		maxMetrics:      opts.MaxMetrics,
		historyLimit:    opts.HistoryLimit,
		decisionContext: opts.DecisionContext,
		aiQueueLimit:    opts.AIQueueLimit,
		queueTTL:        opts.QueueTTL,
	}
}

func (a *Analyzer) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}
	a.running = true

	ctx, a.cancel = context.WithCancel(ctx)
	logrus.WithField("interval", a.interval).Info("Starting AI operations loop")

	go a.run(ctx)
	return nil
}

func (a *Analyzer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}

	logrus.Info("Stopping AI operations loop")
	a.cancel()
	a.running = false
}

func (a *Analyzer) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *Analyzer) run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.analyzeAll(ctx)
		}
	}
}

func (a *Analyzer) analyzeAll(ctx context.Context) {
	start := time.Now()

	servers, err := a.store.GetServers(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to list servers for analysis cycle")
		return
	}

	analyzed := 0
	for i := range servers {
		if ctx.Err() != nil {
			return
		}

		exists, err := a.queue.Exists(ctx, servers[i].ID)
		if err != nil {
			logrus.WithError(err).WithField("server", servers[i].Name).
				Warn("Failed to check metrics queue")
			continue
		}
		if !exists {
			continue
		}

		if err := a.analyzeServer(ctx, &servers[i]); err != nil {
			logrus.WithError(err).WithField("server", servers[i].Name).
				Error("Analysis failed for server")
			continue
		}
		analyzed++
	}

	metrics.AnalysisCycleDuration.Observe(time.Since(start).Seconds())
	logrus.WithFields(logrus.Fields{
		"servers":  len(servers),
		"analyzed": analyzed,
		"duration": time.Since(start),
	}).Debug("Analysis cycle completed")
}

func (a *Analyzer) analyzeServer(ctx context.Context, server *database.Server) error {
	snapshots, err := a.queue.Peek(ctx, server.ID, a.maxMetrics)
	if err != nil {
		return fmt.Errorf("failed to read metrics queue: %w", err)
	}
	if len(snapshots) == 0 {
		return nil
	}

	input, assigned, available, err := a.gatherContext(ctx, server, snapshots)
	if err != nil {
		return err
	}

	dec := a.client.Analyze(ctx, input)
	dec.MetricsAnalyzed = len(snapshots)
	a.metrics.RecordDecision(dec.RiskLevel)

	// Every execution must be traceable to a stored decision, so the
	// decision is persisted before anything runs.
	if err := a.store.AppendDecision(ctx, dec); err != nil {
		return fmt.Errorf("failed to persist decision: %w", err)
	}

	infoRecs, stateRecs := a.partition(ctx, server, dec, assigned, available)

	// Drain the analyzed snapshots before the info batch pushes its
	// ai_requested snapshot, so the pop removes exactly what was analyzed.
	if _, err := a.queue.Pop(ctx, server.ID, len(snapshots)); err != nil {
		return fmt.Errorf("failed to drain metrics queue: %w", err)
	}

	a.executeInfoBatch(ctx, server, dec, infoRecs)
	a.executeStateBatch(ctx, server, dec, stateRecs)

	logrus.WithFields(logrus.Fields{
		"server":      server.Name,
		"decision":    dec.ID,
		"recommended": len(dec.RecommendedActions),
		"info_runs":   len(infoRecs),
		"state_runs":  len(stateRecs),
		"drained":     len(snapshots),
	}).Info("Server analysis completed")
	return nil
}

// gatherContext assembles everything the decision backend sees: queued
// metrics, prior decisions, recent executions and the action sets. Assigned
// actions are the server's own bindings; available actions are all active
// read-only probes, offered for context beyond what is pre-assigned.
func (a *Analyzer) gatherContext(ctx context.Context, server *database.Server, snapshots []queue.Snapshot) (*decision.Input, map[string]database.Action, map[string]database.Action, error) {
	bindings, err := a.store.GetBindings(ctx, server.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load bindings: %w", err)
	}

	assigned := make(map[string]database.Action, len(bindings))
	var assignedList []database.Action
	for _, binding := range bindings {
		action, err := a.catalog.Get(ctx, binding.ActionID)
		if err != nil || !action.IsActive {
			continue
		}
		assigned[action.ID] = *action
		assignedList = append(assignedList, *action)
	}

	infoActions, err := a.catalog.List(ctx, database.KindGetInfo, true)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list info actions: %w", err)
	}
	available := make(map[string]database.Action, len(infoActions))
	for _, action := range infoActions {
		available[action.ID] = action
	}

	history, err := a.store.GetExecutions(ctx, database.ExecutionFilters{
		ServerID: server.ID,
		Limit:    a.historyLimit,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load execution history: %w", err)
	}

	stats, err := a.store.GetExecutionStats(ctx, server.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load execution stats: %w", err)
	}

	prior, err := a.store.GetRecentDecisions(ctx, server.ID, a.decisionContext)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load prior decisions: %w", err)
	}

	input := &decision.Input{
		Server:           server,
		AssignedActions:  assignedList,
		AvailableActions: infoActions,
		ExecutionHistory: history,
		Stats:            stats,
		LatestMetrics:    &snapshots[0],
		RecentMetrics:    snapshots[1:],
		PriorDecisions:   prior,
	}
	return input, assigned, available, nil
}

// partition splits recommendations into the read-only set, which always
// runs, and the state-changing set, which runs only when the server's
// binding marks the action automatic. Unknown action ids are dropped.
// Non-automatic state changes become advisory log rows and nothing runs.
func (a *Analyzer) partition(ctx context.Context, server *database.Server, dec *database.Decision, assigned, available map[string]database.Action) (info, state []database.RecommendedAction) {
	automatic := a.automaticActionIDs(ctx, server.ID)

	for _, rec := range dec.RecommendedActions {
		action, ok := assigned[rec.ActionID]
		if !ok {
			action, ok = available[rec.ActionID]
		}
		if !ok {
			logrus.WithFields(logrus.Fields{
				"server":    server.Name,
				"action_id": rec.ActionID,
				"action":    rec.ActionName,
			}).Warn("Recommended action unknown, dropping")
			continue
		}

		if action.Kind == database.KindGetInfo {
			info = append(info, rec)
			continue
		}

		if automatic[rec.ActionID] {
			state = append(state, rec)
			continue
		}

		logrus.WithFields(logrus.Fields{
			"server": server.Name,
			"action": action.Name,
		}).Info("State-changing recommendation not automatic, recording as advisory")

		a.appendLog(ctx, &database.ExecutionLog{
			ServerID:   server.ID,
			ActionID:   rec.ActionID,
			DecisionID: dec.ID,
			Trigger:    database.TriggerAISkipped,
			Success:    false,
			Error:      "automatic execution not authorized for this server",
			Output:     rec.Reasoning,
			ExecutedAt: time.Now(),
		})
	}
	return info, state
}

func (a *Analyzer) automaticActionIDs(ctx context.Context, serverID string) map[string]bool {
	automatic := make(map[string]bool)
	bindings, err := a.store.GetBindings(ctx, serverID)
	if err != nil {
		logrus.WithError(err).Warn("Failed to load bindings for automatic check")
		return automatic
	}
	for _, binding := range bindings {
		if binding.Automatic {
			automatic[binding.ActionID] = true
		}
	}
	return automatic
}

// executeInfoBatch runs the read-only recommendations over one session and
// feeds the successful outputs back onto the queue as an ai_requested
// snapshot, so the next cycle analyzes what the engine asked to see.
func (a *Analyzer) executeInfoBatch(ctx context.Context, server *database.Server, dec *database.Decision, recs []database.RecommendedAction) {
	if len(recs) == 0 {
		return
	}

	actions, params := a.resolveBatch(ctx, recs)
	results, _ := a.executor.RunBatch(ctx, server, actions, params)

	snapshot := queue.Snapshot{
		ServerID:   server.ID,
		ServerName: server.Name,
		Timestamp:  time.Now(),
		Source:     queue.SourceAIRequested,
		Data:       make(map[string]queue.Metric),
	}

	for _, action := range actions {
		outcome := results[action.ID]
		a.recordOutcome(ctx, server, &action, dec.ID, database.TriggerAIExecuted, outcome)

		if outcome.Success {
			snapshot.Data[action.Name] = queue.Metric{
				Output:         outcome.Output,
				ElapsedSeconds: outcome.ElapsedSeconds,
				CollectedAt:    time.Now(),
			}
		}
	}

	if len(snapshot.Data) == 0 {
		return
	}
	if err := a.queue.Push(ctx, server.ID, &snapshot, a.aiQueueLimit, a.queueTTL); err != nil {
		logrus.WithError(err).WithField("server", server.Name).
			Warn("Failed to push ai_requested snapshot")
	}
}

// executeStateBatch runs the pre-authorized state-changing recommendations
// over one session, logging every outcome whether or not it succeeded.
func (a *Analyzer) executeStateBatch(ctx context.Context, server *database.Server, dec *database.Decision, recs []database.RecommendedAction) {
	if len(recs) == 0 {
		return
	}

	actions, params := a.resolveBatch(ctx, recs)
	results, _ := a.executor.RunBatch(ctx, server, actions, params)

	for _, action := range actions {
		a.recordOutcome(ctx, server, &action, dec.ID, database.TriggerAIExecuted, results[action.ID])
	}
}

// resolveBatch turns recommendations into catalog actions plus one merged
// parameter map. Later recommendations win parameter conflicts.
func (a *Analyzer) resolveBatch(ctx context.Context, recs []database.RecommendedAction) ([]database.Action, map[string]string) {
	var actions []database.Action
	params := make(map[string]string)

	for _, rec := range recs {
		action, err := a.catalog.Get(ctx, rec.ActionID)
		if err != nil {
			logrus.WithError(err).WithField("action_id", rec.ActionID).
				Warn("Recommended action vanished before execution")
			continue
		}
		actions = append(actions, *action)
		for k, v := range rec.Parameters {
			params[k] = v
		}
	}
	return actions, params
}

func (a *Analyzer) recordOutcome(ctx context.Context, server *database.Server, action *database.Action, decisionID, trigger string, outcome executor.Outcome) {
	a.metrics.RecordExecution(server.Name, action.Kind, outcome.Success,
		time.Duration(outcome.ElapsedSeconds*float64(time.Second)))
	a.appendLog(ctx, outcome.Log(server.ID, action.ID, decisionID, trigger))
}

func (a *Analyzer) appendLog(ctx context.Context, row *database.ExecutionLog) {
	if err := a.store.AppendExecution(ctx, row); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"server_id": row.ServerID,
			"action_id": row.ActionID,
		}).Error("Failed to store execution log")
		return
	}
	if a.OnExecution != nil {
		a.OnExecution(row)
	}
}
