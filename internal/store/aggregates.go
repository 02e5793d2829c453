package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jaxxstorm/hopwatch/internal/model"
	"gorm.io/gorm"
)

type AggregateFilter struct {
	Target string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// MergeHopAggregate folds a drained bucket into the persisted row for its key,
// creating the row from the bucket when none exists.
func (s *Store) MergeHopAggregate(ctx context.Context, agg model.HopAggregate) error {
	key := agg.Key
	key.Minute = model.MinuteOf(key.Minute)

	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing aggregateRecord
		err := tx.Where("target = ? AND hop_number = ? AND hop_address = ? AND minute = ?",
			key.Target, key.HopNumber, key.HopAddress, key.Minute).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			agg.Key = key
			rec := toAggregateRecord(model.MergeAggregate(nil, agg))
			return tx.Create(&rec).Error
		}
		if err != nil {
			return err
		}

		current := existing.toModel()
		merged := model.MergeAggregate(&current, agg)
		existing.Attempts = merged.Attempts
		existing.Losses = merged.Losses
		existing.Samples = merged.Samples
		existing.MeanMs = merged.MeanMs
		existing.MinMs = merged.MinMs
		existing.MaxMs = merged.MaxMs
		return tx.Save(&existing).Error
	})
	if err != nil {
		return fmt.Errorf("merge aggregate %s hop %d: %w", key.Target, key.HopNumber, err)
	}
	return nil
}

// ListAggregates returns persisted buckets ordered by minute, then hop.
func (s *Store) ListAggregates(ctx context.Context, filter AggregateFilter) ([]model.HopAggregate, error) {
	q := s.orm.WithContext(ctx).Model(&aggregateRecord{})
	if filter.Target != "" {
		q = q.Where("target = ?", filter.Target)
	}
	if !filter.Since.IsZero() {
		q = q.Where("minute >= ?", model.MinuteOf(filter.Since))
	}
	if !filter.Until.IsZero() {
		q = q.Where("minute <= ?", filter.Until.UTC())
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var recs []aggregateRecord
	if err := q.Order("minute asc").Order("target asc").Order("hop_number asc").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]model.HopAggregate, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toModel())
	}
	return out, nil
}

func toAggregateRecord(agg model.HopAggregate) aggregateRecord {
	return aggregateRecord{
		Target:     agg.Key.Target,
		HopNumber:  agg.Key.HopNumber,
		HopAddress: agg.Key.HopAddress,
		Minute:     model.MinuteOf(agg.Key.Minute),
		Attempts:   agg.Attempts,
		Losses:     agg.Losses,
		Samples:    agg.Samples,
		MeanMs:     agg.MeanMs,
		MinMs:      agg.MinMs,
		MaxMs:      agg.MaxMs,
	}
}

func (rec aggregateRecord) toModel() model.HopAggregate {
	return model.HopAggregate{
		Key: model.BucketKey{
			Target:     rec.Target,
			HopNumber:  rec.HopNumber,
			HopAddress: rec.HopAddress,
			Minute:     rec.Minute.UTC(),
		},
		Attempts: rec.Attempts,
		Losses:   rec.Losses,
		Samples:  rec.Samples,
		MeanMs:   rec.MeanMs,
		MinMs:    rec.MinMs,
		MaxMs:    rec.MaxMs,
	}
}
