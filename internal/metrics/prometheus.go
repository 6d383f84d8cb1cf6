// internal/metrics/prometheus.go
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"smartops/internal/database"
)

// Prometheus metrics
var (
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smartops_execution_duration_seconds",
			Help:    "Time spent executing actions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server", "kind", "status"},
	)

	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartops_executions_total",
			Help: "Total number of action executions",
		},
		[]string{"server", "kind", "status"},
	)

	CrawlCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smartops_crawl_cycle_duration_seconds",
			Help:    "Time spent completing one metrics crawl cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	AnalysisCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smartops_analysis_cycle_duration_seconds",
			Help:    "Time spent completing one analysis cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartops_decisions_total",
			Help: "Total decisions produced, by risk level",
		},
		[]string{"risk_level"},
	)

	ModelsBlacklisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smartops_models_blacklisted_total",
			Help: "Total number of decision model blacklist events",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smartops_metrics_queue_depth",
			Help: "Number of metric snapshots queued per server",
		},
		[]string{"server"},
	)

	ActiveServers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartops_active_servers_total",
			Help: "Number of servers registered for operations",
		},
	)

	ActiveActions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartops_active_actions_total",
			Help: "Number of active actions in the catalog",
		},
	)

	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartops_database_operations_total",
			Help: "Total database operations performed",
		},
		[]string{"operation", "status"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartops_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

type Collector struct {
	store database.Store
}

func NewCollector(store database.Store) *Collector {
	return &Collector{store: store}
}

func (c *Collector) RecordExecution(server, kind string, success bool, duration time.Duration) {
	status := "failure"
	if success {
		status = "success"
	}
	ExecutionDuration.WithLabelValues(server, kind, status).Observe(duration.Seconds())
	ExecutionsTotal.WithLabelValues(server, kind, status).Inc()
}

func (c *Collector) RecordDecision(riskLevel string) {
	DecisionsTotal.WithLabelValues(riskLevel).Inc()
}

func (c *Collector) RecordModelBlacklisted() {
	ModelsBlacklisted.Inc()
}

func (c *Collector) SetQueueDepth(server string, depth int) {
	QueueDepth.WithLabelValues(server).Set(float64(depth))
}

func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	servers, err := c.store.GetServers(ctx)
	if err != nil {
		DatabaseOperations.WithLabelValues("get_servers", "error").Inc()
		return err
	}
	DatabaseOperations.WithLabelValues("get_servers", "success").Inc()
	ActiveServers.Set(float64(len(servers)))

	actions, err := c.store.GetActions(ctx, database.ActionFilters{ActiveOnly: true})
	if err != nil {
		DatabaseOperations.WithLabelValues("get_actions", "error").Inc()
		return err
	}
	DatabaseOperations.WithLabelValues("get_actions", "success").Inc()
	ActiveActions.Set(float64(len(actions)))

	return nil
}

func (c *Collector) RecordWebSocketConnection(delta int) {
	WebSocketConnections.Add(float64(delta))
}
