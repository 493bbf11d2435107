// Package httpapi is Memorose's external surface: the mutation
// API for ingesting events and managing cluster membership, the query API
// for search/read, and the status API. Grounded in SuperAgent's
// cmd/api/main.go gin route-group-per-resource layout and gin.H response
// shape.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/memorose/memorose/internal/config"
	"github.com/memorose/memorose/internal/memerr"
	"github.com/memorose/memorose/internal/metrics"
)

// Cluster is everything a handler needs to serve a request: the shard map
// plus the tenant-to-shard router that picks which one to hit.
type Cluster struct {
	Shards map[uint64]*Shard
	Router ShardLocator
	NodeID string
	Addr   string
}

// ShardLocator maps a tenant to its shard id; implemented by
// shardrouter.Router, narrowed here so httpapi doesn't need the rest of
// its dispatch/health surface.
type ShardLocator interface {
	ShardFor(tenant string) uint64
}

// Server wires gin route groups to the Cluster.
type Server struct {
	engine  *gin.Engine
	httpSrv *http.Server
	cluster *Cluster
	logger  *logrus.Logger
	cfg     config.Server
	metrics *metrics.Collector
}

// NewServer builds the gin engine and registers every route. collector
// may be nil, in which case request/search/propose metrics are skipped
// and no /metrics route is registered.
func NewServer(cluster *Cluster, cfg config.Server, logger *logrus.Logger, collector *metrics.Collector) *Server {
	gin.SetMode(cfg.Mode)
	engine := gin.New()

	s := &Server{engine: engine, cluster: cluster, cfg: cfg, logger: logger, metrics: collector}
	engine.Use(gin.Recovery(), requestLogger(logger), s.instrumentRequest())

	for id, shard := range cluster.Shards {
		shard.logger = logger.WithField("shard", id)
		shard.metrics = collector
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.engine.Group("/v1")
	{
		users := v1.Group("/users/:tenant/apps/:app/streams/:stream")
		users.POST("/events", s.handleIngestEvent)

		cluster := v1.Group("/cluster")
		cluster.POST("/initialize", s.handleClusterInitialize)
		cluster.POST("/join", s.handleClusterJoin)
		cluster.GET("/status", s.handleClusterStatus)

		v1.POST("/search", s.handleSearch)
		v1.GET("/memories", s.handleListMemories)
		v1.GET("/memories/:id", s.handleGetMemory)
		v1.GET("/graph", s.handleGraph)
	}
}

// instrumentRequest records request duration/count against the
// metrics.Collector; a no-op middleware when no collector was provided.
func (s *Server) instrumentRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.metrics == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		s.metrics.RequestDuration.WithLabelValues(c.Request.Method, c.FullPath(), status).Observe(time.Since(start).Seconds())
		s.metrics.RequestCount.WithLabelValues(c.Request.Method, c.FullPath(), status).Inc()
	}
}

// Run starts the HTTP listener, blocking until it exits or Shutdown is
// called.
func (s *Server) Run() error {
	addr := s.cfg.Host + ":" + s.cfg.Port
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.WithField("addr", addr).Info("memorose http api listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests before closing the
// listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		}).Debug("http request")
	}
}

// shardFor resolves the tenant path param to its owning Shard, or writes
// a 404 and returns false.
func (s *Server) shardFor(c *gin.Context, tenant string) (*Shard, bool) {
	id := s.cluster.Router.ShardFor(tenant)
	shard, ok := s.cluster.Shards[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"kind": "unavailable", "reason": "no shard owns this tenant on this node"}})
		return nil, false
	}
	return shard, true
}

// writeError renders the memerr taxonomy's kind, reason, and (for
// NotLeader) leader_hint as the error envelope.
func writeError(c *gin.Context, err error) {
	me, ok := err.(*memerr.Error)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"kind": "internal", "reason": err.Error()}})
		return
	}

	status := http.StatusInternalServerError
	switch me.Kind {
	case memerr.KindValidation:
		status = http.StatusBadRequest
	case memerr.KindNotLeader:
		status = http.StatusTemporaryRedirect
	case memerr.KindTimeout:
		status = http.StatusGatewayTimeout
	case memerr.KindCapacity, memerr.KindUnavailable:
		status = http.StatusServiceUnavailable
	case memerr.KindRejected:
		status = http.StatusConflict
	}

	body := gin.H{"kind": string(me.Kind), "reason": me.Reason}
	if me.Kind == memerr.KindNotLeader && me.LeaderHint != "" {
		body["leader_hint"] = me.LeaderHint
	}
	c.JSON(status, gin.H{"error": body})
}
