// internal/web/server.go
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"smartops/internal/catalog"
	"smartops/internal/config"
	"smartops/internal/database"
	"smartops/internal/executor"
	"smartops/internal/metrics"
	"smartops/internal/ops"
	"smartops/internal/queue"
)

type Server struct {
	config   *config.Config
	store    database.Store
	queue    queue.Store
	catalog  *catalog.Catalog
	executor *executor.Executor
	crawler  *ops.Crawler
	analyzer *ops.Analyzer
	metrics  *metrics.Collector
	router   *gin.Engine
	server   *http.Server

	wsMu      sync.Mutex
	wsClients map[*WSClient]bool
}

func NewServer(cfg *config.Config, store database.Store, q queue.Store, cat *catalog.Catalog, exec *executor.Executor, crawler *ops.Crawler, analyzer *ops.Analyzer, metricsCollector *metrics.Collector) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	server := &Server{
		config:    cfg,
		store:     store,
		queue:     q,
		catalog:   cat,
		executor:  exec,
		crawler:   crawler,
		analyzer:  analyzer,
		metrics:   metricsCollector,
		router:    router,
		wsClients: make(map[*WSClient]bool),
	}

	server.setupRoutes()
	return server
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Server.Port,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	logrus.WithField("port", s.config.Server.Port).Info("Starting web server")

	go s.updateMetricsRoutine(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.POST("/executions", s.createExecution)
		api.POST("/executions/batch", s.createExecutionBatch)
		api.GET("/executions", s.getExecutions)

		api.GET("/actions", s.getActions)
		api.GET("/actions/:id", s.getAction)
		api.POST("/actions", s.createAction)
		api.PUT("/actions/:id", s.updateAction)
		api.DELETE("/actions/:id", s.deleteAction)

		api.GET("/servers", s.getServers)
		api.GET("/servers/:id", s.getServer)
		api.POST("/servers", s.createServer)
		api.PUT("/servers/:id", s.updateServer)
		api.DELETE("/servers/:id", s.deleteServer)

		api.PUT("/servers/:id/actions/:aid", s.putBinding)
		api.DELETE("/servers/:id/actions/:aid", s.deleteBinding)
		api.GET("/servers/:id/decisions", s.getDecisions)
		api.GET("/servers/:id/metrics", s.getQueuedMetrics)

		api.POST("/crawler/start", s.startCrawler)
		api.POST("/crawler/stop", s.stopCrawler)
		api.POST("/analyzer/start", s.startAnalyzer)
		api.POST("/analyzer/stop", s.stopAnalyzer)

		api.GET("/stats", s.getStats)
		api.GET("/health", s.healthCheck)
	}

	s.router.GET("/ws", s.handleWebSocket)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"crawler":   s.crawler.Running(),
		"analyzer":  s.analyzer.Running(),
	})
}

func (s *Server) getStats(c *gin.Context) {
	servers, err := s.store.GetServers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get servers"})
		return
	}

	perServer := make(map[string]*database.ExecutionStats, len(servers))
	totals := database.ExecutionStats{}

	for _, server := range servers {
		stats, err := s.store.GetExecutionStats(c.Request.Context(), server.ID)
		if err != nil {
			logrus.WithError(err).WithField("server", server.Name).Error("Failed to get execution stats")
			continue
		}
		perServer[server.Name] = stats
		totals.TotalExecutions += stats.TotalExecutions
		totals.SuccessfulExecutions += stats.SuccessfulExecutions
		totals.FailedExecutions += stats.FailedExecutions
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"servers": perServer,
			"totals":  totals,
		},
	})
}

func (s *Server) startCrawler(c *gin.Context) {
	if err := s.crawler.Start(context.Background()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (s *Server) stopCrawler(c *gin.Context) {
	s.crawler.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

func (s *Server) startAnalyzer(c *gin.Context) {
	if err := s.analyzer.Start(context.Background()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (s *Server) stopAnalyzer(c *gin.Context) {
	s.analyzer.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

func (s *Server) updateMetricsRoutine(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.metrics.UpdateSystemMetrics(ctx); err != nil {
				logrus.WithError(err).Error("Failed to update system metrics")
			}
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
