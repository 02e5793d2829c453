// Package aggregate keeps minute-bucketed per-hop statistics in memory and
// periodically merges them into the store.
package aggregate

import (
	"sort"
	"sync"
	"time"

	"github.com/jaxxstorm/hopwatch/internal/model"
)

type bucket struct {
	attempts int64
	losses   int64
	samples  int64
	sum      float64
	min      float64
	max      float64
}

func (b *bucket) observe(hop model.HopObservation) {
	b.attempts++
	if hop.TimedOut {
		b.losses++
	}
	if !hop.HasLatency() {
		return
	}
	v := *hop.LatencyMs
	if b.samples == 0 || v < b.min {
		b.min = v
	}
	if b.samples == 0 || v > b.max {
		b.max = v
	}
	b.sum += v
	b.samples++
}

func (b *bucket) aggregate(key model.BucketKey) model.HopAggregate {
	agg := model.HopAggregate{
		Key:      key,
		Attempts: b.attempts,
		Losses:   b.losses,
		Samples:  b.samples,
	}
	if b.samples > 0 {
		mean := b.sum / float64(b.samples)
		agg.MeanMs = &mean
		agg.MinMs = model.Float(b.min)
		agg.MaxMs = model.Float(b.max)
	}
	return agg
}

// Buffer is the shared in-memory accumulator. Only Record and Drain touch the
// table, both under the same mutex.
type Buffer struct {
	mu      sync.Mutex
	buckets map[model.BucketKey]*bucket
	now     func() time.Time
}

func NewBuffer() *Buffer {
	return &Buffer{buckets: map[model.BucketKey]*bucket{}, now: time.Now}
}

// Record folds every address-bearing hop into the bucket for the minute
// containing at. A zero at means now.
func (b *Buffer) Record(target string, hops []model.HopObservation, at time.Time) {
	if at.IsZero() {
		at = b.now()
	}
	minute := model.MinuteOf(at)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, hop := range hops {
		if !hop.HasAddress() {
			continue
		}
		key := model.BucketKey{Target: target, HopNumber: hop.HopNumber, HopAddress: hop.Address, Minute: minute}
		bk, ok := b.buckets[key]
		if !ok {
			bk = &bucket{}
			b.buckets[key] = bk
		}
		bk.observe(hop)
	}
}

// Drain swaps out the whole table and returns its buckets as aggregates.
// Records arriving after the swap land in the fresh table.
func (b *Buffer) Drain() []model.HopAggregate {
	b.mu.Lock()
	drained := b.buckets
	b.buckets = make(map[model.BucketKey]*bucket, len(drained))
	b.mu.Unlock()

	out := make([]model.HopAggregate, 0, len(drained))
	for key, bk := range drained {
		out = append(out, bk.aggregate(key))
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i].Key, out[j].Key
		if !a.Minute.Equal(c.Minute) {
			return a.Minute.Before(c.Minute)
		}
		if a.Target != c.Target {
			return a.Target < c.Target
		}
		if a.HopNumber != c.HopNumber {
			return a.HopNumber < c.HopNumber
		}
		return a.HopAddress < c.HopAddress
	})
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buckets)
}
