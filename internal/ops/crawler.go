// internal/ops/crawler.go - periodic metrics collection loop
package ops

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"smartops/internal/catalog"
	"smartops/internal/database"
	"smartops/internal/executor"
	"smartops/internal/metrics"
	"smartops/internal/queue"
)

const (
	DefaultCrawlInterval = 60 * time.Second
	DefaultQueueLimit    = 20
	DefaultQueueTTL      = 24 * time.Hour
)

// CrawlerOptions tune the collection loop. Zero values take the defaults.
type CrawlerOptions struct {
	Interval   time.Duration
	QueueLimit int
	QueueTTL   time.Duration
}

// Crawler walks every server at a fixed interval, batch-executes its bound
// read-only actions over one shared session, and pushes the outcomes as a
// snapshot onto the server's bounded metrics queue. One server's failure
// never aborts the cycle for the others.
type Crawler struct {
	store    database.Store
	queue    queue.Store
	catalog  *catalog.Catalog
	executor *executor.Executor
	metrics  *metrics.Collector

	interval   time.Duration
	queueLimit int
	queueTTL   time.Duration

	// OnExecution, when set, receives every action outcome for live event
	// streaming. Crawler outcomes are not persisted as execution log rows.
	OnExecution func(*database.ExecutionLog)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

func NewCrawler(store database.Store, q queue.Store, cat *catalog.Catalog, exec *executor.Executor, collector *metrics.Collector, opts CrawlerOptions) *Crawler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultCrawlInterval
	}
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = DefaultQueueLimit
	}
	if opts.QueueTTL <= 0 {
		opts.QueueTTL = DefaultQueueTTL
	}
	return &Crawler{
		store:      store,
		queue:      q,
		catalog:    cat,
		executor:   exec,
		metrics:    collector,
		interval:   opts.Interval,
		queueLimit: opts.QueueLimit,
		queueTTL:   opts.QueueTTL,
	}
}

func (c *Crawler) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	c.running = true

	ctx, c.cancel = context.WithCancel(ctx)
	logrus.WithField("interval", c.interval).Info("Starting metrics crawler")

	go c.run(ctx)
	return nil
}

func (c *Crawler) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}

	logrus.Info("Stopping metrics crawler")
	c.cancel()
	c.running = false
}

func (c *Crawler) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Crawler) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.crawlAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.crawlAll(ctx)
		}
	}
}

func (c *Crawler) crawlAll(ctx context.Context) {
	start := time.Now()

	servers, err := c.store.GetServers(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to list servers for crawl cycle")
		return
	}

	collected := 0
	for i := range servers {
		if ctx.Err() != nil {
			return
		}
		if err := c.crawlServer(ctx, &servers[i]); err != nil {
			logrus.WithError(err).WithField("server", servers[i].Name).
				Warn("Crawl failed for server")
			continue
		}
		collected++
	}

	metrics.CrawlCycleDuration.Observe(time.Since(start).Seconds())
	logrus.WithFields(logrus.Fields{
		"servers":  len(servers),
		"crawled":  collected,
		"duration": time.Since(start),
	}).Debug("Crawl cycle completed")
}

func (c *Crawler) crawlServer(ctx context.Context, server *database.Server) error {
	actions, err := c.boundInfoActions(ctx, server.ID)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		logrus.WithField("server", server.Name).Debug("No bound info actions, skipping")
		return nil
	}

	results, dialErr := c.executor.RunBatch(ctx, server, actions, nil)

	snapshot := queue.Snapshot{
		ServerID:   server.ID,
		ServerName: server.Name,
		Timestamp:  time.Now(),
		Source:     queue.SourceCrawler,
		Data:       make(map[string]queue.Metric, len(actions)),
	}

	for _, action := range actions {
		outcome := results[action.ID]
		snapshot.Data[action.Name] = queue.Metric{
			Output:         outcome.Output,
			Error:          outcome.Error,
			ElapsedSeconds: outcome.ElapsedSeconds,
			CollectedAt:    time.Now(),
		}

		c.metrics.RecordExecution(server.Name, action.Kind, outcome.Success,
			time.Duration(outcome.ElapsedSeconds*float64(time.Second)))
		if c.OnExecution != nil {
			c.OnExecution(outcome.Log(server.ID, action.ID, "", database.TriggerCrawler))
		}
	}

	// A batch where nothing ran (connection refused, bad key) yields no
	// snapshot. Failed commands did run; their error entries are exactly
	// what the analyzer needs to see.
	if dialErr != nil {
		logrus.WithError(dialErr).WithField("server", server.Name).
			Warn("Session could not be opened, no snapshot produced")
		return nil
	}

	if err := c.queue.Push(ctx, server.ID, &snapshot, c.queueLimit, c.queueTTL); err != nil {
		return err
	}

	if depth, err := c.queue.Peek(ctx, server.ID, c.queueLimit); err == nil {
		c.metrics.SetQueueDepth(server.Name, len(depth))
	}

	logrus.WithFields(logrus.Fields{
		"server":  server.Name,
		"metrics": len(snapshot.Data),
	}).Debug("Pushed metrics snapshot")
	return nil
}

// boundInfoActions resolves the server's bindings down to active read-only
// actions. State-changing bindings are the analyzer's business.
func (c *Crawler) boundInfoActions(ctx context.Context, serverID string) ([]database.Action, error) {
	bindings, err := c.store.GetBindings(ctx, serverID)
	if err != nil {
		return nil, err
	}

	var actions []database.Action
	for _, binding := range bindings {
		action, err := c.catalog.Get(ctx, binding.ActionID)
		if err != nil {
			logrus.WithError(err).WithField("action_id", binding.ActionID).
				Warn("Bound action not found, skipping")
			continue
		}
		if !action.IsActive || action.Kind != database.KindGetInfo {
			continue
		}
		actions = append(actions, *action)
	}
	return actions, nil
}
