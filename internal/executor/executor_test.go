package executor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartops/internal/catalog"
	"smartops/internal/database"
)

type fakeSession struct {
	outcomes map[string]Outcome
	commands []string
	closed   bool
}

func (s *fakeSession) Run(command string, timeout time.Duration) Outcome {
	s.commands = append(s.commands, command)
	if outcome, ok := s.outcomes[command]; ok {
		return outcome
	}
	return Outcome{Success: true, Output: "ok"}
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeDialer struct {
	dials   int
	err     error
	session *fakeSession
}

func (d *fakeDialer) Dial(ctx context.Context, server *database.Server, timeout time.Duration) (Session, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

func newTestExecutor(t *testing.T, dialer Dialer) (*Executor, database.Store) {
	t.Helper()

	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cat := catalog.New(store, time.Minute, 0)
	return New(store, cat, dialer), store
}

func seedServer(t *testing.T, store database.Store) *database.Server {
	t.Helper()

	server := &database.Server{Name: "web1", Address: "10.0.0.5", Username: "ops"}
	require.NoError(t, store.CreateServer(context.Background(), server))
	return server
}

func seedCommandAction(t *testing.T, store database.Store, name, template string) *database.Action {
	t.Helper()

	action := &database.Action{
		Name:            name,
		Kind:            database.KindGetInfo,
		IsActive:        true,
		CommandTemplate: template,
	}
	require.NoError(t, store.CreateAction(context.Background(), action))
	return action
}

func TestRunBatchSingleDial(t *testing.T) {
	dialer := &fakeDialer{session: &fakeSession{}}
	exec, store := newTestExecutor(t, dialer)
	server := seedServer(t, store)

	a1 := seedCommandAction(t, store, "cpu", "cat /proc/loadavg")
	a2 := seedCommandAction(t, store, "mem", "free -m")
	a3 := seedCommandAction(t, store, "disk", "df -h")

	results := exec.ExecuteMultiple(context.Background(), server.ID,
		[]string{a1.ID, a2.ID, a3.ID}, nil)

	require.Len(t, results, 3)
	for _, outcome := range results {
		assert.True(t, outcome.Success)
	}
	assert.Equal(t, 1, dialer.dials)
	assert.Equal(t, []string{"cat /proc/loadavg", "free -m", "df -h"}, dialer.session.commands)
	assert.True(t, dialer.session.closed)
}

func TestRunBatchDialFailureFailsAllActions(t *testing.T) {
	dialer := &fakeDialer{err: &ConnectionError{Err: errors.New("connection refused")}}
	exec, store := newTestExecutor(t, dialer)
	server := seedServer(t, store)

	a1 := seedCommandAction(t, store, "cpu", "cat /proc/loadavg")
	a2 := seedCommandAction(t, store, "mem", "free -m")

	results := exec.ExecuteMultiple(context.Background(), server.ID, []string{a1.ID, a2.ID}, nil)

	require.Len(t, results, 2)
	for _, outcome := range results {
		assert.False(t, outcome.Success)
		assert.Contains(t, outcome.Error, "connection refused")
	}
	assert.Equal(t, 1, dialer.dials)
}

func TestRunBatchHTTPOnlyOpensNoSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	dialer := &fakeDialer{session: &fakeSession{}}
	exec, store := newTestExecutor(t, dialer)
	server := seedServer(t, store)

	action := &database.Action{
		Name:       "ping-api",
		Kind:       database.KindHttpCall,
		IsActive:   true,
		HTTPMethod: "GET",
		HTTPURL:    srv.URL,
	}
	require.NoError(t, store.CreateAction(context.Background(), action))

	outcome := exec.ExecuteAction(context.Background(), action.ID, server.ID, nil)

	require.True(t, outcome.Success)
	assert.Equal(t, "pong", outcome.Output)
	assert.Equal(t, 0, dialer.dials)
}

func TestExecuteActionSubstitutesServerParams(t *testing.T) {
	session := &fakeSession{}
	dialer := &fakeDialer{session: session}
	exec, store := newTestExecutor(t, dialer)
	server := seedServer(t, store)

	action := seedCommandAction(t, store, "greet", "echo $server_name at $server_ip with $service")

	outcome := exec.ExecuteAction(context.Background(), action.ID, server.ID,
		map[string]string{"service": "nginx"})

	require.True(t, outcome.Success)
	require.Len(t, session.commands, 1)
	assert.Equal(t, "echo web1 at 10.0.0.5 with nginx", session.commands[0])
}

func TestExecuteActionInactive(t *testing.T) {
	exec, store := newTestExecutor(t, &fakeDialer{session: &fakeSession{}})
	server := seedServer(t, store)

	action := &database.Action{
		Name:            "old-probe",
		Kind:            database.KindGetInfo,
		IsActive:        false,
		CommandTemplate: "uptime",
	}
	require.NoError(t, store.CreateAction(context.Background(), action))

	outcome := exec.ExecuteAction(context.Background(), action.ID, server.ID, nil)

	require.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "not active")
}

func TestExecuteActionUnknown(t *testing.T) {
	exec, store := newTestExecutor(t, &fakeDialer{session: &fakeSession{}})
	server := seedServer(t, store)

	outcome := exec.ExecuteAction(context.Background(), "missing-id", server.ID, nil)

	require.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "not found")
}

func TestExecuteActionByName(t *testing.T) {
	session := &fakeSession{}
	exec, store := newTestExecutor(t, &fakeDialer{session: session})
	server := seedServer(t, store)
	seedCommandAction(t, store, "uptime", "uptime")

	outcome := exec.ExecuteActionByName(context.Background(), "uptime", server.ID, nil)

	require.True(t, outcome.Success)
	assert.Equal(t, []string{"uptime"}, session.commands)
}

func TestExecuteMultipleUnknownActionIsolated(t *testing.T) {
	dialer := &fakeDialer{session: &fakeSession{}}
	exec, store := newTestExecutor(t, dialer)
	server := seedServer(t, store)
	action := seedCommandAction(t, store, "cpu", "cat /proc/loadavg")

	results := exec.ExecuteMultiple(context.Background(), server.ID,
		[]string{action.ID, "missing-id"}, nil)

	require.Len(t, results, 2)
	assert.True(t, results[action.ID].Success)
	assert.False(t, results["missing-id"].Success)
	assert.Contains(t, results["missing-id"].Error, "not found")
}

func TestOutcomeLog(t *testing.T) {
	outcome := Outcome{Success: true, Output: "42%", ElapsedSeconds: 0.5}

	row := outcome.Log("srv-1", "act-1", "dec-1", database.TriggerAIExecuted)

	assert.Equal(t, "srv-1", row.ServerID)
	assert.Equal(t, "act-1", row.ActionID)
	assert.Equal(t, "dec-1", row.DecisionID)
	assert.Equal(t, database.TriggerAIExecuted, row.Trigger)
	assert.True(t, row.Success)
	assert.Equal(t, "42%", row.Output)
	assert.False(t, row.ExecutedAt.IsZero())
}
