// Package api exposes run ingestion, event history and aggregates over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaxxstorm/hopwatch/internal/aggregate"
	"github.com/jaxxstorm/hopwatch/internal/config"
	"github.com/jaxxstorm/hopwatch/internal/model"
	"github.com/jaxxstorm/hopwatch/internal/pipeline"
	"github.com/jaxxstorm/hopwatch/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Gateway is the read side of persistence used by the HTTP handlers.
type Gateway interface {
	ListEvents(ctx context.Context, filter store.EventFilter) ([]model.AnomalyEvent, error)
	GetEvent(ctx context.Context, id string) (model.AnomalyEvent, error)
	DeleteEvent(ctx context.Context, id string) error
	Timeline(ctx context.Context, filter store.EventFilter, width time.Duration) ([]store.TimelineBucket, error)
	ListAggregates(ctx context.Context, filter store.AggregateFilter) ([]model.HopAggregate, error)
	Ping(ctx context.Context) error
}

type Flusher interface {
	Flush(ctx context.Context) aggregate.FlushReport
}

// Config wires the router. A nil Gateway puts the API in degraded mode:
// runs are still classified and buffered, persistence routes answer 503.
type Config struct {
	Pipeline *pipeline.Pipeline
	Gateway  Gateway
	Flusher  Flusher
	Runtime  *config.Runtime
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type Server struct {
	cfg Config
}

func NewRouter(cfg Config) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Runtime == nil {
		cfg.Runtime = config.NewRuntime(config.Default())
	}
	s := &Server{cfg: cfg}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(cfg.Logger))

	router.GET("/healthz", s.health)
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	v1.POST("/runs", s.createRun)
	v1.GET("/settings/logging", s.getLogging)
	v1.PUT("/settings/logging", s.putLogging)
	v1.POST("/flush", s.flush)

	persisted := v1.Group("", s.requireGateway)
	persisted.GET("/events", s.listEvents)
	persisted.GET("/events.csv", s.eventsCSV)
	persisted.GET("/events/timeline", s.timeline)
	persisted.GET("/events/:id", s.getEvent)
	persisted.DELETE("/events/:id", s.deleteEvent)
	persisted.GET("/aggregates", s.listAggregates)

	return router
}

func (s *Server) requireGateway(c *gin.Context) {
	if s.cfg.Gateway == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "persistence unavailable"})
		return
	}
	c.Next()
}

func (s *Server) health(c *gin.Context) {
	if s.cfg.Gateway == nil {
		c.JSON(http.StatusOK, gin.H{"status": "degraded", "persistence": false})
		return
	}
	if err := s.cfg.Gateway.Ping(c.Request.Context()); err != nil {
		s.cfg.Logger.Warn("database ping failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "persistence": true, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "persistence": true})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
