package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaxxstorm/hopwatch/internal/model"
	"github.com/jaxxstorm/hopwatch/internal/output"
	"github.com/jaxxstorm/hopwatch/internal/store"
	"go.uber.org/zap"
)

type runRequest struct {
	Target string `json:"target" binding:"required"`
	Output string `json:"output"`
}

type loggingSetting struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) createRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.cfg.Pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pipeline not configured"})
		return
	}
	c.JSON(http.StatusOK, s.cfg.Pipeline.Process(c.Request.Context(), req.Target, req.Output))
}

func (s *Server) listEvents(c *gin.Context) {
	filter, err := eventFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	events, err := s.cfg.Gateway.ListEvents(c.Request.Context(), filter)
	if err != nil {
		s.internalError(c, "list events", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) eventsCSV(c *gin.Context) {
	filter, err := eventFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	events, err := s.cfg.Gateway.ListEvents(c.Request.Context(), filter)
	if err != nil {
		s.internalError(c, "list events", err)
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Status(http.StatusOK)
	if err := output.WriteEventsCSV(c.Writer, events); err != nil {
		s.cfg.Logger.Warn("events csv write failed", zap.Error(err))
	}
}

func (s *Server) getEvent(c *gin.Context) {
	event, err := s.cfg.Gateway.GetEvent(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	if err != nil {
		s.internalError(c, "get event", err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (s *Server) deleteEvent(c *gin.Context) {
	err := s.cfg.Gateway.DeleteEvent(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	if err != nil {
		s.internalError(c, "delete event", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) timeline(c *gin.Context) {
	filter, err := eventFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	width := time.Hour
	if raw := c.Query("width"); raw != "" {
		width, err = time.ParseDuration(raw)
		if err != nil || width <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid width %q", raw)})
			return
		}
	}
	buckets, err := s.cfg.Gateway.Timeline(c.Request.Context(), filter, width)
	if err != nil {
		s.internalError(c, "timeline", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"width": width.String(), "buckets": buckets})
}

func (s *Server) listAggregates(c *gin.Context) {
	since, until, limit, err := window(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter := store.AggregateFilter{Target: c.Query("target"), Since: since, Until: until, Limit: limit}
	aggs, err := s.cfg.Gateway.ListAggregates(c.Request.Context(), filter)
	if err != nil {
		s.internalError(c, "list aggregates", err)
		return
	}

	if c.Query("format") == "csv" {
		c.Header("Content-Type", "text/csv")
		c.Status(http.StatusOK)
		if err := output.WriteAggregatesCSV(c.Writer, aggs); err != nil {
			s.cfg.Logger.Warn("aggregates csv write failed", zap.Error(err))
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"aggregates": aggs, "count": len(aggs)})
}

func (s *Server) getLogging(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled": s.cfg.Runtime.LoggingEnabled()})
}

func (s *Server) putLogging(c *gin.Context) {
	var req loggingSetting
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.cfg.Runtime.SetLoggingEnabled(*req.Enabled)
	s.cfg.Logger.Info("event logging toggled", zap.Bool("enabled", *req.Enabled))
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

func (s *Server) flush(c *gin.Context) {
	if s.cfg.Flusher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "flusher not configured"})
		return
	}
	// Drained buckets must not be lost to a client that goes away; the
	// flusher applies its own deadline.
	report := s.cfg.Flusher.Flush(context.WithoutCancel(c.Request.Context()))
	c.JSON(http.StatusOK, gin.H{
		"buckets":     report.Buckets,
		"merged":      report.Merged,
		"failed":      report.Failed,
		"duration_ms": report.Duration.Milliseconds(),
	})
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.cfg.Logger.Error(op+" failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
}

func eventFilter(c *gin.Context) (store.EventFilter, error) {
	since, until, limit, err := window(c)
	if err != nil {
		return store.EventFilter{}, err
	}
	return store.EventFilter{
		Target:    c.Query("target"),
		IssueKind: model.IssueKind(c.Query("issue")),
		Since:     since,
		Until:     until,
		Limit:     limit,
	}, nil
}

func window(c *gin.Context) (since, until time.Time, limit int, err error) {
	if raw := c.Query("since"); raw != "" {
		if since, err = time.Parse(time.RFC3339, raw); err != nil {
			return since, until, 0, fmt.Errorf("invalid since %q", raw)
		}
	}
	if raw := c.Query("until"); raw != "" {
		if until, err = time.Parse(time.RFC3339, raw); err != nil {
			return since, until, 0, fmt.Errorf("invalid until %q", raw)
		}
	}
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return since, until, 0, fmt.Errorf("invalid limit %q", raw)
		}
	}
	return since, until, limit, nil
}
