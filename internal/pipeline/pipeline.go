// Package pipeline turns raw path-tracing output into a classified run,
// records anomalies and feeds the aggregation buffer.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/jaxxstorm/hopwatch/internal/aggregate"
	"github.com/jaxxstorm/hopwatch/internal/analyze"
	"github.com/jaxxstorm/hopwatch/internal/config"
	"github.com/jaxxstorm/hopwatch/internal/metrics"
	"github.com/jaxxstorm/hopwatch/internal/model"
	"github.com/jaxxstorm/hopwatch/internal/parse"
	"go.uber.org/zap"
)

// EventWriter persists anomaly events.
type EventWriter interface {
	RecordAnomalyEvent(ctx context.Context, event model.AnomalyEvent) (string, model.InsertSummary, error)
}

// Enricher fills in hop hostnames.
type Enricher interface {
	Enrich(ctx context.Context, hops []model.HopObservation) []model.HopObservation
}

type Config struct {
	Thresholds analyze.Thresholds
	Runtime    *config.Runtime
	Buffer     *aggregate.Buffer
	Events     EventWriter
	Enricher   Enricher
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Now        func() time.Time
}

type Pipeline struct {
	cfg Config
}

// Result describes what happened to one run. Persistence problems show up in
// LoggingError; they never fail the run.
type Result struct {
	Target         string                 `json:"target"`
	ObservedAt     time.Time              `json:"observed_at"`
	Hops           []model.HopObservation `json:"hops"`
	Classification analyze.Classification `json:"classification"`
	EventID        string                 `json:"event_id,omitempty"`
	Summary        *model.InsertSummary   `json:"insert_summary,omitempty"`
	LoggingError   string                 `json:"logging_error,omitempty"`
	ParseError     string                 `json:"parse_error,omitempty"`
}

func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{cfg: cfg}
}

func (p *Pipeline) Process(ctx context.Context, target, raw string) Result {
	now := p.cfg.Now().UTC()
	hops, parseErr := parse.ParseReader(strings.NewReader(raw))
	if parseErr != nil {
		p.cfg.Logger.Warn("run output truncated", zap.String("target", target), zap.Int("hops", len(hops)), zap.Error(parseErr))
	}
	if p.cfg.Enricher != nil {
		hops = p.cfg.Enricher.Enrich(ctx, hops)
	}

	c := analyze.Classify(hops, p.cfg.Thresholds)
	result := Result{
		Target:         target,
		ObservedAt:     now,
		Hops:           hops,
		Classification: c,
	}
	if parseErr != nil {
		result.ParseError = parseErr.Error()
	}

	p.cfg.Metrics.RunProcessed()
	for _, f := range c.Findings {
		p.cfg.Metrics.Finding(string(f.Kind))
	}

	if c.Anomalous() {
		p.recordEvent(ctx, &result)
	}

	if p.cfg.Buffer != nil {
		p.cfg.Buffer.Record(target, hops, now)
		p.cfg.Metrics.Buffered(p.cfg.Buffer.Len())
	}

	p.cfg.Logger.Debug("run processed",
		zap.String("target", target),
		zap.Int("hops", len(hops)),
		zap.Int("findings", len(c.Findings)),
		zap.String("issue", string(c.IssueKind)),
	)
	return result
}

func (p *Pipeline) recordEvent(ctx context.Context, result *Result) {
	if p.cfg.Events == nil || !p.cfg.Runtime.LoggingEnabled() {
		return
	}

	event := analyze.BuildEvent(result.Target, result.Hops, result.Classification, result.ObservedAt)
	id, summary, err := p.cfg.Events.RecordAnomalyEvent(ctx, event)
	if err != nil {
		p.cfg.Metrics.EventFailed()
		p.cfg.Logger.Warn("anomaly event not recorded", zap.String("target", result.Target), zap.Error(err))
		result.LoggingError = err.Error()
		return
	}

	p.cfg.Metrics.EventRecorded(summary.Skipped)
	if summary.Skipped > 0 {
		p.cfg.Logger.Warn("anomaly event hop rows skipped",
			zap.String("event", id),
			zap.Int("inserted", summary.Inserted),
			zap.Int("skipped", summary.Skipped),
		)
	}
	result.EventID = id
	result.Summary = &summary
}
