// internal/decision/client.go - turn server context into a Decision
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"smartops/internal/database"
	"smartops/internal/queue"
)

const (
	defaultTemperature = 0.3
	defaultMaxAttempts = 3
)

const systemPrompt = `You are an expert server operations assistant. Analyze the provided
server metrics, execution history and prior decisions, then recommend actions.

Safety rules: prefer read-only probes over state changes; only recommend state-changing
actions when the data shows a clear problem; classify every recommendation by risk; flag
high-risk plans as requiring human approval. Only recommend actions from the assigned or
available lists.

Respond with a JSON object:
{
  "recommended_actions": [
    {"action_id": "<string>", "action_name": "<string>", "priority": <int 1-10>,
     "parameters": {"<name>": "<value>"}, "reasoning": "<one line>"}
  ],
  "reasoning": "<overall reasoning>",
  "confidence": <float 0.0-1.0>,
  "risk_level": "<low|medium|high>",
  "requires_approval": <boolean>
}`

// Input is the full context for one analysis cycle of one server.
type Input struct {
	Server           *database.Server
	AssignedActions  []database.Action
	AvailableActions []database.Action
	ExecutionHistory []database.ExecutionLog
	Stats            *database.ExecutionStats
	LatestMetrics    *queue.Snapshot
	RecentMetrics    []queue.Snapshot
	PriorDecisions   []database.Decision
}

// Client selects a backend model, sends the analysis request and parses the
// structured decision. Transient backend failures rotate through distinct
// candidate models; a fully failed analysis degrades to a safe high-risk
// decision instead of an error.
type Client struct {
	backend     Backend
	models      []string
	blacklist   *Blacklist
	temperature float64
	maxAttempts int

	// OnBlacklist, when set, is called once per blacklist event.
	OnBlacklist func()
}

func NewClient(backend Backend, models []string, temperature float64, blacklistTTL time.Duration) *Client {
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	return &Client{
		backend:     backend,
		models:      models,
		blacklist:   NewBlacklist(blacklistTTL),
		temperature: temperature,
		maxAttempts: defaultMaxAttempts,
	}
}

// Analyze never returns an error: if every attempt fails the result is an
// empty, high-risk, approval-required decision whose reasoning names the
// attempted models and the final failure.
func (c *Client) Analyze(ctx context.Context, input *Input) *database.Decision {
	user := c.buildUserMessage(input)

	var (
		attempted []string
		lastErr   error
	)

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		model := c.pickModel()
		attempted = append(attempted, model)

		logrus.WithFields(logrus.Fields{
			"server":  input.Server.Name,
			"model":   model,
			"attempt": attempt + 1,
		}).Debug("Requesting analysis")

		resp, err := c.backend.Chat(ctx, ChatRequest{
			Model:       model,
			System:      systemPrompt,
			User:        user,
			Temperature: c.temperature,
			JSONOutput:  true,
		})
		if err == nil {
			decision, perr := parseDecision(resp.Content)
			if perr == nil {
				decision.ServerID = input.Server.ID
				decision.Model = model
				decision.CreatedAt = time.Now()

				logrus.WithFields(logrus.Fields{
					"server":      input.Server.Name,
					"model":       model,
					"recommended": len(decision.RecommendedActions),
					"risk":        decision.RiskLevel,
					"confidence":  decision.Confidence,
				}).Info("Analysis completed")
				return decision
			}
			err = perr
		}

		lastErr = &BackendError{Model: model, Err: err}
		c.blacklist.Add(model)
		if c.OnBlacklist != nil {
			c.OnBlacklist()
		}
		logrus.WithError(lastErr).WithFields(logrus.Fields{
			"server": input.Server.Name,
			"model":  model,
		}).Warn("Analysis attempt failed, model blacklisted")
	}

	logrus.WithError(lastErr).WithField("server", input.Server.Name).
		Error("All analysis attempts failed, returning safe default decision")

	return &database.Decision{
		ServerID:           input.Server.ID,
		Model:              strings.Join(attempted, ","),
		RecommendedActions: []database.RecommendedAction{},
		Reasoning: fmt.Sprintf("analysis failed after %d attempts (models tried: %s): %v",
			len(attempted), strings.Join(attempted, ", "), lastErr),
		Confidence:       0,
		RiskLevel:        "high",
		RequiresApproval: true,
		CreatedAt:        time.Now(),
	}
}

// pickModel selects a random candidate that is not blacklisted. When every
// model is blacklisted, selection falls back to the full pool so analysis
// keeps running in a degraded mode.
func (c *Client) pickModel() string {
	var eligible []string
	for _, model := range c.models {
		if !c.blacklist.Contains(model) {
			eligible = append(eligible, model)
		}
	}

	if len(eligible) == 0 {
		logrus.Warn("All candidate models blacklisted, selecting from full pool")
		eligible = c.models
	}
	return eligible[rand.Intn(len(eligible))]
}

// serverContext is the server identity sent to the backend. The private key
// never leaves the process.
type serverContext struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	Port        int    `json:"port"`
	Description string `json:"description,omitempty"`
}

type actionContext struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}

func (c *Client) buildUserMessage(input *Input) string {
	payload := map[string]interface{}{
		"server": serverContext{
			ID:          input.Server.ID,
			Name:        input.Server.Name,
			Address:     input.Server.Address,
			Port:        input.Server.Port,
			Description: input.Server.Description,
		},
		"assigned_actions":  actionContexts(input.AssignedActions),
		"available_actions": actionContexts(input.AvailableActions),
		"execution_history": input.ExecutionHistory,
		"server_statistics": input.Stats,
		"current_metrics": map[string]interface{}{
			"latest":         input.LatestMetrics,
			"recent_history": input.RecentMetrics,
			"prior_analyses": input.PriorDecisions,
		},
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf(`{"server": %q}`, input.Server.Name))
	}

	return "Analyze this server and recommend appropriate actions. Only the assigned_actions " +
		"are authorized for this server; available_actions are listed for context.\n\n" + string(data)
}

func actionContexts(actions []database.Action) []actionContext {
	out := make([]actionContext, 0, len(actions))
	for _, a := range actions {
		out = append(out, actionContext{
			ID:          a.ID,
			Name:        a.Name,
			Kind:        a.Kind,
			Description: a.Description,
		})
	}
	return out
}

type decisionPayload struct {
	RecommendedActions []database.RecommendedAction `json:"recommended_actions"`
	Reasoning          string                       `json:"reasoning"`
	Confidence         float64                      `json:"confidence"`
	RiskLevel          string                       `json:"risk_level"`
	RequiresApproval   *bool                        `json:"requires_approval"`
}

func parseDecision(content string) (*database.Decision, error) {
	var payload decisionPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("malformed decision JSON: %w", err)
	}

	if payload.Confidence < 0 {
		payload.Confidence = 0
	}
	if payload.Confidence > 1 {
		payload.Confidence = 1
	}

	switch payload.RiskLevel {
	case "low", "medium", "high":
	default:
		payload.RiskLevel = "medium"
	}

	requiresApproval := true
	if payload.RequiresApproval != nil {
		requiresApproval = *payload.RequiresApproval
	}

	recommended := payload.RecommendedActions
	if recommended == nil {
		recommended = []database.RecommendedAction{}
	}

	return &database.Decision{
		RecommendedActions: recommended,
		Reasoning:          payload.Reasoning,
		Confidence:         payload.Confidence,
		RiskLevel:          payload.RiskLevel,
		RequiresApproval:   requiresApproval,
	}, nil
}
