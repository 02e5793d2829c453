package model

import "time"

// BucketKey identifies one minute-wide aggregation window for a hop.
type BucketKey struct {
	Target     string    `json:"target"`
	HopNumber  int       `json:"hop_number"`
	HopAddress string    `json:"hop_address"`
	Minute     time.Time `json:"minute"`
}

// MinuteOf returns the UTC wall-clock minute containing t.
func MinuteOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// HopAggregate is a rolling summary for one bucket. Samples is the number of
// latency values behind MeanMs; it is the weight used when merging means.
type HopAggregate struct {
	Key      BucketKey `json:"key"`
	Attempts int64     `json:"attempts"`
	Losses   int64     `json:"losses"`
	Samples  int64     `json:"samples"`
	MeanMs   *float64  `json:"mean_ms"`
	MinMs    *float64  `json:"min_ms"`
	MaxMs    *float64  `json:"max_ms"`
}

// MergeAggregate folds drained into persisted. Attempts and losses add up over
// the full attempt count while the mean is weighted by latency sample count.
// A nil persisted yields drained unchanged.
func MergeAggregate(persisted *HopAggregate, drained HopAggregate) HopAggregate {
	if persisted == nil {
		return drained
	}

	out := HopAggregate{
		Key:      persisted.Key,
		Attempts: persisted.Attempts + drained.Attempts,
		Losses:   persisted.Losses + drained.Losses,
		Samples:  persisted.Samples + drained.Samples,
		MinMs:    minPtr(persisted.MinMs, drained.MinMs),
		MaxMs:    maxPtr(persisted.MaxMs, drained.MaxMs),
	}

	switch {
	case persisted.MeanMs == nil || persisted.Samples == 0:
		out.MeanMs = copyPtr(drained.MeanMs)
	case drained.MeanMs == nil || drained.Samples == 0:
		out.MeanMs = copyPtr(persisted.MeanMs)
	default:
		weighted := *persisted.MeanMs*float64(persisted.Samples) + *drained.MeanMs*float64(drained.Samples)
		mean := weighted / float64(out.Samples)
		out.MeanMs = &mean
	}
	return out
}

func minPtr(a, b *float64) *float64 {
	switch {
	case a == nil:
		return copyPtr(b)
	case b == nil:
		return copyPtr(a)
	case *b < *a:
		return copyPtr(b)
	default:
		return copyPtr(a)
	}
}

func maxPtr(a, b *float64) *float64 {
	switch {
	case a == nil:
		return copyPtr(b)
	case b == nil:
		return copyPtr(a)
	case *b > *a:
		return copyPtr(b)
	default:
		return copyPtr(a)
	}
}

func copyPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
