package aggregate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jaxxstorm/hopwatch/internal/metrics"
	"github.com/jaxxstorm/hopwatch/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval    = 60 * time.Second
	DefaultTimeout     = 30 * time.Second
	DefaultParallelism = 4
)

// Merger upserts one drained bucket into its persisted counterpart.
type Merger interface {
	MergeHopAggregate(ctx context.Context, agg model.HopAggregate) error
}

type Config struct {
	Interval    time.Duration
	Timeout     time.Duration
	Parallelism int
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

type FlushReport struct {
	Buckets  int           `json:"buckets"`
	Merged   int           `json:"merged"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Flusher drains the buffer into a Merger on a fixed cadence. Flushes are
// serialized: a manual Flush waits for a running one to finish.
type Flusher struct {
	buffer *Buffer
	merger Merger
	config Config

	flushMu sync.Mutex
	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewFlusher builds a flusher. A nil merger means persistence is unavailable
// and drained buckets are discarded.
func NewFlusher(buffer *Buffer, merger Merger, cfg Config) *Flusher {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Flusher{
		buffer: buffer,
		merger: merger,
		config: cfg,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Flush drains the buffer and merges every bucket under a per-flush deadline.
// A failed merge is logged and dropped; the buffer is empty afterwards either way.
func (f *Flusher) Flush(ctx context.Context) FlushReport {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()

	start := time.Now()
	drained := f.buffer.Drain()
	f.config.Metrics.Buffered(f.buffer.Len())
	report := FlushReport{Buckets: len(drained)}
	if len(drained) == 0 {
		return report
	}

	if f.merger == nil {
		f.config.Logger.Warn("persistence unavailable, discarding drained buckets", zap.Int("buckets", len(drained)))
		report.Duration = time.Since(start)
		f.config.Metrics.Flushed(report.Duration, 0, 0, len(drained))
		return report
	}

	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	var merged, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(f.config.Parallelism)
	for _, agg := range drained {
		g.Go(func() error {
			if err := f.merger.MergeHopAggregate(ctx, agg); err != nil {
				failed.Add(1)
				f.config.Logger.Warn("hop aggregate merge failed",
					zap.String("target", agg.Key.Target),
					zap.Int("hop", agg.Key.HopNumber),
					zap.String("address", agg.Key.HopAddress),
					zap.Time("minute", agg.Key.Minute),
					zap.Error(err),
				)
				return nil
			}
			merged.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report.Merged = int(merged.Load())
	report.Failed = int(failed.Load())
	report.Duration = time.Since(start)
	f.config.Metrics.Flushed(report.Duration, report.Merged, report.Failed, 0)
	f.config.Logger.Info("aggregation flush complete",
		zap.Int("buckets", report.Buckets),
		zap.Int("merged", report.Merged),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)
	return report
}

// Start runs the periodic flush loop until ctx is done or Stop is called.
func (f *Flusher) Start(ctx context.Context) {
	if !f.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(f.done)
		ticker := time.NewTicker(f.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.stop:
				return
			case <-ticker.C:
				f.Flush(ctx)
			}
		}
	}()
}

// Stop ends the loop and runs one last flush so buffered buckets are not lost
// on shutdown.
func (f *Flusher) Stop(ctx context.Context) FlushReport {
	f.once.Do(func() { close(f.stop) })
	if f.started.Load() {
		select {
		case <-f.done:
		case <-ctx.Done():
		}
	}
	return f.Flush(ctx)
}
