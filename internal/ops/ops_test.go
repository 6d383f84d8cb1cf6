package ops

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartops/internal/catalog"
	"smartops/internal/database"
	"smartops/internal/decision"
	"smartops/internal/executor"
	"smartops/internal/metrics"
	"smartops/internal/queue"
)

type fakeSession struct {
	outputs  map[string]string
	commands []string
}

func (s *fakeSession) Run(command string, timeout time.Duration) executor.Outcome {
	s.commands = append(s.commands, command)
	if out, ok := s.outputs[command]; ok {
		return executor.Outcome{Success: true, Output: out, ElapsedSeconds: 0.1}
	}
	return executor.Outcome{Success: false, Error: "command failed", ElapsedSeconds: 0.1}
}

func (s *fakeSession) Close() error { return nil }

type fakeDialer struct {
	dials   int
	err     error
	session *fakeSession
}

func (d *fakeDialer) Dial(ctx context.Context, server *database.Server, timeout time.Duration) (executor.Session, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

type stubBackend struct {
	content string
	err     error
}

func (b *stubBackend) Chat(ctx context.Context, req decision.ChatRequest) (*decision.ChatResponse, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &decision.ChatResponse{Content: b.content, Model: req.Model}, nil
}

type testEnv struct {
	store  database.Store
	queue  queue.Store
	cat    *catalog.Catalog
	exec   *executor.Executor
	dialer *fakeDialer
}

func newTestEnv(t *testing.T, session *fakeSession) *testEnv {
	t.Helper()

	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dialer := &fakeDialer{session: session}
	cat := catalog.New(store, time.Minute, 0)

	return &testEnv{
		store:  store,
		queue:  queue.NewMemoryQueue(),
		cat:    cat,
		exec:   executor.New(store, cat, dialer),
		dialer: dialer,
	}
}

func (e *testEnv) newCrawler() *Crawler {
	return NewCrawler(e.store, e.queue, e.cat, e.exec, metrics.NewCollector(e.store), CrawlerOptions{})
}

func (e *testEnv) newAnalyzer(backend decision.Backend) *Analyzer {
	client := decision.NewClient(backend, []string{"model-a"}, 0, time.Hour)
	return NewAnalyzer(e.store, e.queue, e.cat, e.exec, client, metrics.NewCollector(e.store), AnalyzerOptions{})
}

func (e *testEnv) seedServer(t *testing.T) *database.Server {
	t.Helper()
	server := &database.Server{Name: "web1", Address: "10.0.0.5", Username: "ops"}
	require.NoError(t, e.store.CreateServer(context.Background(), server))
	return server
}

func (e *testEnv) seedBoundAction(t *testing.T, server *database.Server, name, kind, template string, automatic bool) *database.Action {
	t.Helper()
	ctx := context.Background()

	action := &database.Action{Name: name, Kind: kind, IsActive: true, CommandTemplate: template}
	require.NoError(t, e.store.CreateAction(ctx, action))
	require.NoError(t, e.store.PutBinding(ctx, &database.Binding{
		ServerID: server.ID, ActionID: action.ID, Automatic: automatic,
	}))
	return action
}

func recommendationJSON(actionID, name string) string {
	return fmt.Sprintf(`{
		"recommended_actions": [
			{"action_id": %q, "action_name": %q, "priority": 5, "reasoning": "probe"}
		],
		"reasoning": "checking load",
		"confidence": 0.9,
		"risk_level": "low",
		"requires_approval": false
	}`, actionID, name)
}

// ===== Crawler =====

func TestCrawlServerPushesSnapshot(t *testing.T) {
	session := &fakeSession{outputs: map[string]string{"cat /proc/loadavg": "42%"}}
	env := newTestEnv(t, session)
	server := env.seedServer(t)
	env.seedBoundAction(t, server, "cpu", database.KindGetInfo, "cat /proc/loadavg", false)

	crawler := env.newCrawler()
	require.NoError(t, crawler.crawlServer(context.Background(), server))

	snapshots, err := env.queue.Peek(context.Background(), server.ID, 5)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, queue.SourceCrawler, snapshots[0].Source)
	assert.Equal(t, "42%", snapshots[0].Data["cpu"].Output)
	assert.Equal(t, 1, env.dialer.dials)
}

func TestCrawlServerRecordsPartialFailures(t *testing.T) {
	session := &fakeSession{outputs: map[string]string{"cat /proc/loadavg": "42%"}}
	env := newTestEnv(t, session)
	server := env.seedServer(t)
	env.seedBoundAction(t, server, "cpu", database.KindGetInfo, "cat /proc/loadavg", false)
	env.seedBoundAction(t, server, "broken", database.KindGetInfo, "exit 1", false)

	crawler := env.newCrawler()
	require.NoError(t, crawler.crawlServer(context.Background(), server))

	snapshots, err := env.queue.Peek(context.Background(), server.ID, 5)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)

	assert.Equal(t, "42%", snapshots[0].Data["cpu"].Output)
	assert.Equal(t, "command failed", snapshots[0].Data["broken"].Error)
	assert.Equal(t, 1, env.dialer.dials)
}

func TestCrawlServerIgnoresStateChangingBindings(t *testing.T) {
	env := newTestEnv(t, &fakeSession{})
	server := env.seedServer(t)
	env.seedBoundAction(t, server, "restart", database.KindChangeState, "systemctl restart nginx", true)

	crawler := env.newCrawler()
	require.NoError(t, crawler.crawlServer(context.Background(), server))

	exists, err := env.queue.Exists(context.Background(), server.ID)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, env.dialer.dials)
}

func TestCrawlServerAllFailuresStillPushSnapshot(t *testing.T) {
	session := &fakeSession{}
	env := newTestEnv(t, session)
	server := env.seedServer(t)
	env.seedBoundAction(t, server, "cpu", database.KindGetInfo, "cat /proc/loadavg", false)
	env.seedBoundAction(t, server, "mem", database.KindGetInfo, "free -m", false)

	crawler := env.newCrawler()
	require.NoError(t, crawler.crawlServer(context.Background(), server))

	// Both commands ran; their failures are recorded, never dropped
	require.Len(t, session.commands, 2)

	snapshots, err := env.queue.Peek(context.Background(), server.ID, 5)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, "command failed", snapshots[0].Data["cpu"].Error)
	assert.Equal(t, "command failed", snapshots[0].Data["mem"].Error)
}

func TestCrawlServerDialFailureProducesNoSnapshot(t *testing.T) {
	env := newTestEnv(t, &fakeSession{})
	env.dialer.err = errors.New("connection refused")
	server := env.seedServer(t)
	env.seedBoundAction(t, server, "cpu", database.KindGetInfo, "cat /proc/loadavg", false)

	crawler := env.newCrawler()
	require.NoError(t, crawler.crawlServer(context.Background(), server))

	exists, err := env.queue.Exists(context.Background(), server.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

// ===== Analyzer =====

func TestAnalyzeServerSkipsNonAutomaticChangeState(t *testing.T) {
	env := newTestEnv(t, &fakeSession{})
	server := env.seedServer(t)
	action := env.seedBoundAction(t, server, "restart", database.KindChangeState, "systemctl restart nginx", false)

	require.NoError(t, env.queue.Push(context.Background(), server.ID, &queue.Snapshot{
		ServerID: server.ID, Source: queue.SourceCrawler,
		Data: map[string]queue.Metric{"cpu": {Output: "95%"}},
	}, 20, time.Hour))

	analyzer := env.newAnalyzer(&stubBackend{content: recommendationJSON(action.ID, action.Name)})
	require.NoError(t, analyzer.analyzeServer(context.Background(), server))

	// The decision is stored with the recommendation intact
	decisions, err := env.store.GetRecentDecisions(context.Background(), server.ID, 5)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Len(t, decisions[0].RecommendedActions, 1)

	// Nothing executed; the skip is an advisory log row
	logs, err := env.store.GetExecutions(context.Background(), database.ExecutionFilters{ServerID: server.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, database.TriggerAISkipped, logs[0].Trigger)
	assert.False(t, logs[0].Success)
	assert.Equal(t, decisions[0].ID, logs[0].DecisionID)
	assert.Zero(t, env.dialer.dials)

	// Analyzed snapshot drained
	exists, err := env.queue.Exists(context.Background(), server.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAnalyzeServerExecutesAutomaticChangeState(t *testing.T) {
	session := &fakeSession{outputs: map[string]string{"systemctl restart nginx": "restarted"}}
	env := newTestEnv(t, session)
	server := env.seedServer(t)
	action := env.seedBoundAction(t, server, "restart", database.KindChangeState, "systemctl restart nginx", true)

	require.NoError(t, env.queue.Push(context.Background(), server.ID, &queue.Snapshot{
		ServerID: server.ID, Source: queue.SourceCrawler,
		Data: map[string]queue.Metric{"nginx": {Error: "inactive"}},
	}, 20, time.Hour))

	analyzer := env.newAnalyzer(&stubBackend{content: recommendationJSON(action.ID, action.Name)})
	require.NoError(t, analyzer.analyzeServer(context.Background(), server))

	logs, err := env.store.GetExecutions(context.Background(), database.ExecutionFilters{ServerID: server.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, database.TriggerAIExecuted, logs[0].Trigger)
	assert.True(t, logs[0].Success)
	assert.Equal(t, "restarted", logs[0].Output)
	assert.NotEmpty(t, logs[0].DecisionID)
	assert.Equal(t, []string{"systemctl restart nginx"}, session.commands)
}

func TestAnalyzeServerDropsUnknownRecommendations(t *testing.T) {
	env := newTestEnv(t, &fakeSession{})
	server := env.seedServer(t)
	env.seedBoundAction(t, server, "cpu", database.KindGetInfo, "cat /proc/loadavg", false)

	require.NoError(t, env.queue.Push(context.Background(), server.ID, &queue.Snapshot{
		ServerID: server.ID, Source: queue.SourceCrawler,
		Data: map[string]queue.Metric{"cpu": {Output: "10%"}},
	}, 20, time.Hour))

	analyzer := env.newAnalyzer(&stubBackend{content: recommendationJSON("no-such-action", "ghost")})
	require.NoError(t, analyzer.analyzeServer(context.Background(), server))

	logs, err := env.store.GetExecutions(context.Background(), database.ExecutionFilters{ServerID: server.ID})
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Zero(t, env.dialer.dials)
}

func TestAnalyzeServerSafeDefaultExecutesNothing(t *testing.T) {
	env := newTestEnv(t, &fakeSession{})
	server := env.seedServer(t)
	env.seedBoundAction(t, server, "restart", database.KindChangeState, "systemctl restart nginx", true)

	require.NoError(t, env.queue.Push(context.Background(), server.ID, &queue.Snapshot{
		ServerID: server.ID, Source: queue.SourceCrawler,
		Data: map[string]queue.Metric{"cpu": {Output: "95%"}},
	}, 20, time.Hour))

	analyzer := env.newAnalyzer(&stubBackend{err: errors.New("backend down")})
	require.NoError(t, analyzer.analyzeServer(context.Background(), server))

	decisions, err := env.store.GetRecentDecisions(context.Background(), server.ID, 5)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "high", decisions[0].RiskLevel)
	assert.True(t, decisions[0].RequiresApproval)
	assert.Empty(t, decisions[0].RecommendedActions)

	assert.Zero(t, env.dialer.dials)
}

func TestCrawlAnalyzeEndToEnd(t *testing.T) {
	session := &fakeSession{outputs: map[string]string{"cat /proc/loadavg": "42%"}}
	env := newTestEnv(t, session)
	server := env.seedServer(t)
	action := env.seedBoundAction(t, server, "cpu", database.KindGetInfo, "cat /proc/loadavg", true)

	ctx := context.Background()

	crawler := env.newCrawler()
	require.NoError(t, crawler.crawlServer(ctx, server))

	snapshots, err := env.queue.Peek(ctx, server.ID, 5)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, "42%", snapshots[0].Data["cpu"].Output)

	analyzer := env.newAnalyzer(&stubBackend{content: recommendationJSON(action.ID, action.Name)})
	require.NoError(t, analyzer.analyzeServer(ctx, server))

	// The probe ran once for the crawl and once for the recommendation
	assert.Equal(t, []string{"cat /proc/loadavg", "cat /proc/loadavg"}, session.commands)

	// The crawled snapshot is drained; what remains is the ai_requested
	// snapshot produced by the re-run probe
	remaining, err := env.queue.Peek(ctx, server.ID, 5)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, queue.SourceAIRequested, remaining[0].Source)
	assert.Equal(t, "42%", remaining[0].Data["cpu"].Output)

	logs, err := env.store.GetExecutions(ctx, database.ExecutionFilters{ServerID: server.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, database.TriggerAIExecuted, logs[0].Trigger)
	assert.NotEmpty(t, logs[0].DecisionID)
}

func TestStartStopIdempotent(t *testing.T) {
	env := newTestEnv(t, &fakeSession{})
	crawler := env.newCrawler()

	ctx := context.Background()
	require.NoError(t, crawler.Start(ctx))
	require.NoError(t, crawler.Start(ctx))
	assert.True(t, crawler.Running())

	crawler.Stop()
	crawler.Stop()
	assert.False(t, crawler.Running())
}
