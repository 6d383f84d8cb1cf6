// internal/database/models.go
package database

import (
	"time"
)

// Action kinds. GetInfo actions are read-only probes, ChangeState actions
// mutate the target server, HttpCall actions hit an external API.
const (
	KindGetInfo     = "get_info"
	KindChangeState = "change_state"
	KindHttpCall    = "http_call"
)

// Execution triggers recorded on log rows.
const (
	TriggerManual      = "manual"
	TriggerCrawler     = "crawler"
	TriggerRecommended = "recommended"
	TriggerAIExecuted  = "ai_executed"
	TriggerAISkipped   = "ai_skipped"
)

type Action struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Kind            string            `json:"kind"`
	Description     string            `json:"description"`
	IsActive        bool              `json:"is_active"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
	CommandTemplate string            `json:"command_template,omitempty"`
	HTTPMethod      string            `json:"http_method,omitempty"`
	HTTPURL         string            `json:"http_url,omitempty"`
	HTTPHeaders     map[string]string `json:"http_headers,omitempty"`
	HTTPBody        string            `json:"http_body,omitempty"`
	Parameters      map[string]string `json:"parameters,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// IsCommand reports whether the action executes over a remote shell.
func (a *Action) IsCommand() bool {
	return a.Kind == KindGetInfo || a.Kind == KindChangeState
}

type Server struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	Port        int       `json:"port"`
	Username    string    `json:"username"`
	PrivateKey  string    `json:"private_key,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Binding authorizes an action on a server. Automatic marks state-changing
// actions that may run without human approval when the decision engine
// recommends them.
type Binding struct {
	ServerID  string    `json:"server_id"`
	ActionID  string    `json:"action_id"`
	Automatic bool      `json:"automatic"`
	CreatedAt time.Time `json:"created_at"`
}

// ExecutionLog is an append-only record of one action run. DecisionID links
// the run back to the analysis that triggered it, if any.
type ExecutionLog struct {
	ID             string    `json:"id"`
	ServerID       string    `json:"server_id"`
	ActionID       string    `json:"action_id"`
	DecisionID     string    `json:"decision_id,omitempty"`
	Trigger        string    `json:"trigger"`
	Success        bool      `json:"success"`
	Output         string    `json:"output,omitempty"`
	Error          string    `json:"error,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	StatusCode     int       `json:"status_code,omitempty"`
	ExecutedAt     time.Time `json:"executed_at"`
}

type RecommendedAction struct {
	ActionID   string            `json:"action_id"`
	ActionName string            `json:"action_name"`
	Priority   int               `json:"priority"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Reasoning  string            `json:"reasoning"`
}

// Decision is one analysis result from the decision backend, persisted for
// historical context in future cycles.
type Decision struct {
	ID                 string              `json:"id"`
	ServerID           string              `json:"server_id"`
	Model              string              `json:"model"`
	RecommendedActions []RecommendedAction `json:"recommended_actions"`
	Reasoning          string              `json:"reasoning"`
	Confidence         float64             `json:"confidence"`
	RiskLevel          string              `json:"risk_level"`
	RequiresApproval   bool                `json:"requires_approval"`
	MetricsAnalyzed    int                 `json:"metrics_analyzed"`
	CreatedAt          time.Time           `json:"created_at"`
}

type ActionFilters struct {
	Kind       string
	ActiveOnly bool
}

type ExecutionFilters struct {
	ServerID string
	Trigger  string
	Limit    int
}

// ExecutionStats summarizes the execution log for one server, fed to the
// decision backend as context.
type ExecutionStats struct {
	TotalExecutions      int     `json:"total_executions"`
	SuccessfulExecutions int     `json:"successful_executions"`
	FailedExecutions     int     `json:"failed_executions"`
	AvgElapsedSeconds    float64 `json:"avg_elapsed_seconds"`
}
