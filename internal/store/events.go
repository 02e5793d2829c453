package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jaxxstorm/hopwatch/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EventFilter struct {
	Target    string
	IssueKind model.IssueKind
	Since     time.Time
	Until     time.Time
	Limit     int
}

// RecordAnomalyEvent inserts the event, then each hop row on its own. A hop
// row that conflicts or fails is counted as skipped and does not abort the
// remaining rows or the event.
func (s *Store) RecordAnomalyEvent(ctx context.Context, event model.AnomalyEvent) (string, model.InsertSummary, error) {
	summary := model.InsertSummary{}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	rec := eventRecord{
		ID:              event.ID,
		Target:          event.Target,
		DestinationAddr: event.DestinationAddr,
		IssueKind:       string(event.IssueKind),
		HopCount:        event.HopCount,
		ProblemHop:      event.ProblemHop,
		MeanLatencyMs:   event.MeanLatencyMs,
		LossPct:         event.LossPct,
		CreatedAt:       event.CreatedAt.UTC(),
	}
	if err := s.orm.WithContext(ctx).Omit(clause.Associations).Create(&rec).Error; err != nil {
		return "", summary, fmt.Errorf("insert event: %w", err)
	}

	for _, hop := range event.Hops {
		row := eventHopRecord{
			EventID:   rec.ID,
			HopNumber: hop.HopNumber,
			Address:   hop.Address,
			Hostname:  hop.Hostname,
			LatencyMs: hop.LatencyMs,
			TimedOut:  hop.TimedOut,
		}
		res := s.orm.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		switch {
		case res.Error != nil:
			summary.Skipped++
			s.logger.Debug("event hop insert failed", zap.String("event", rec.ID), zap.Int("hop", hop.HopNumber), zap.Error(res.Error))
		case res.RowsAffected == 0:
			summary.Skipped++
			s.logger.Debug("event hop already present", zap.String("event", rec.ID), zap.Int("hop", hop.HopNumber))
		default:
			summary.Inserted++
		}
	}

	return rec.ID, summary, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (model.AnomalyEvent, error) {
	var rec eventRecord
	err := s.orm.WithContext(ctx).Preload("Hops", orderHops).Take(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.AnomalyEvent{}, ErrNotFound
	}
	if err != nil {
		return model.AnomalyEvent{}, err
	}
	return rec.toModel(), nil
}

// ListEvents returns matching events newest first with their hop paths.
func (s *Store) ListEvents(ctx context.Context, filter EventFilter) ([]model.AnomalyEvent, error) {
	var recs []eventRecord
	q := s.filterEvents(s.orm.WithContext(ctx), filter).Preload("Hops", orderHops).Order("created_at desc")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}

	events := make([]model.AnomalyEvent, 0, len(recs))
	for _, rec := range recs {
		events = append(events, rec.toModel())
	}
	return events, nil
}

// DeleteEvent removes an event; its hop rows go with it.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	res := s.orm.WithContext(ctx).Delete(&eventRecord{ID: id})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type TimelineBucket struct {
	Start   time.Time               `json:"start"`
	Total   int                     `json:"total"`
	ByIssue map[model.IssueKind]int `json:"by_issue"`
}

// Timeline counts matching events per fixed-width time bucket, oldest first.
func (s *Store) Timeline(ctx context.Context, filter EventFilter, width time.Duration) ([]TimelineBucket, error) {
	if width <= 0 {
		width = time.Hour
	}
	var rows []struct {
		IssueKind string
		CreatedAt time.Time
	}
	q := s.filterEvents(s.orm.WithContext(ctx).Model(&eventRecord{}), filter).Select("issue_kind", "created_at")
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	buckets := map[time.Time]*TimelineBucket{}
	for _, row := range rows {
		start := row.CreatedAt.UTC().Truncate(width)
		b, ok := buckets[start]
		if !ok {
			b = &TimelineBucket{Start: start, ByIssue: map[model.IssueKind]int{}}
			buckets[start] = b
		}
		b.Total++
		b.ByIssue[model.IssueKind(row.IssueKind)]++
	}

	out := make([]TimelineBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *Store) filterEvents(q *gorm.DB, filter EventFilter) *gorm.DB {
	if filter.Target != "" {
		q = q.Where("target = ?", filter.Target)
	}
	if filter.IssueKind != "" {
		q = q.Where("issue_kind = ?", string(filter.IssueKind))
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		q = q.Where("created_at <= ?", filter.Until.UTC())
	}
	return q
}

func orderHops(db *gorm.DB) *gorm.DB {
	return db.Order("hop_number asc")
}

func (rec eventRecord) toModel() model.AnomalyEvent {
	hops := make([]model.HopObservation, 0, len(rec.Hops))
	for _, h := range rec.Hops {
		hops = append(hops, model.HopObservation{
			HopNumber: h.HopNumber,
			Address:   h.Address,
			Hostname:  h.Hostname,
			LatencyMs: h.LatencyMs,
			TimedOut:  h.TimedOut,
		})
	}
	return model.AnomalyEvent{
		ID:              rec.ID,
		Target:          rec.Target,
		DestinationAddr: rec.DestinationAddr,
		IssueKind:       model.IssueKind(rec.IssueKind),
		HopCount:        rec.HopCount,
		ProblemHop:      rec.ProblemHop,
		MeanLatencyMs:   rec.MeanLatencyMs,
		LossPct:         rec.LossPct,
		CreatedAt:       rec.CreatedAt.UTC(),
		Hops:            hops,
	}
}
