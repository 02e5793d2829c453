package aggregate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaxxstorm/hopwatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryMerger struct {
	mu      sync.Mutex
	rows    map[model.BucketKey]model.HopAggregate
	failFor map[int]bool
	active  atomic.Int32
	overlap atomic.Bool
	delay   time.Duration
}

func newMemoryMerger() *memoryMerger {
	return &memoryMerger{rows: map[model.BucketKey]model.HopAggregate{}, failFor: map[int]bool{}}
}

func (m *memoryMerger) MergeHopAggregate(ctx context.Context, agg model.HopAggregate) error {
	if m.active.Add(1) > 1 && m.delay > 0 {
		m.overlap.Store(true)
	}
	defer m.active.Add(-1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.failFor[agg.Key.HopNumber] {
		return errors.New("boom")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rows[agg.Key]
	if ok {
		m.rows[agg.Key] = model.MergeAggregate(&existing, agg)
	} else {
		m.rows[agg.Key] = model.MergeAggregate(nil, agg)
	}
	return nil
}

func TestFlushMergesIntoExisting(t *testing.T) {
	b := NewBuffer()
	merger := newMemoryMerger()
	f := NewFlusher(b, merger, Config{})

	b.Record("t", []model.HopObservation{hopAt(1, "10.0.0.1", 10)}, minute)
	report := f.Flush(context.Background())
	assert.Equal(t, FlushReport{Buckets: 1, Merged: 1, Duration: report.Duration}, report)

	b.Record("t", []model.HopObservation{hopAt(1, "10.0.0.1", 30), {HopNumber: 1, Address: "10.0.0.1", TimedOut: true}}, minute)
	b.Record("t", []model.HopObservation{{HopNumber: 1, Address: "10.0.0.1", TimedOut: true}}, minute)
	f.Flush(context.Background())

	row := merger.rows[model.BucketKey{Target: "t", HopNumber: 1, HopAddress: "10.0.0.1", Minute: minute}]
	assert.EqualValues(t, 3, row.Attempts)
	assert.EqualValues(t, 2, row.Losses)
	assert.InDelta(t, 20, *row.MeanMs, 1e-9)
	assert.Equal(t, 10.0, *row.MinMs)
	assert.Equal(t, 30.0, *row.MaxMs)
}

func TestFlushIsolatesFailuresAndEmptiesBuffer(t *testing.T) {
	b := NewBuffer()
	merger := newMemoryMerger()
	merger.failFor[2] = true
	f := NewFlusher(b, merger, Config{Parallelism: 2})

	b.Record("t", []model.HopObservation{
		hopAt(1, "10.0.0.1", 1),
		hopAt(2, "10.0.0.2", 2),
		hopAt(3, "10.0.0.3", 3),
	}, minute)

	report := f.Flush(context.Background())
	assert.Equal(t, 3, report.Buckets)
	assert.Equal(t, 2, report.Merged)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, b.Len())
	assert.Len(t, merger.rows, 2)

	// failed buckets are not retried
	merger.failFor[2] = false
	again := f.Flush(context.Background())
	assert.Equal(t, 0, again.Buckets)
	assert.Len(t, merger.rows, 2)
}

func TestFlushWithoutMergerDiscards(t *testing.T) {
	b := NewBuffer()
	f := NewFlusher(b, nil, Config{})
	b.Record("t", []model.HopObservation{hopAt(1, "10.0.0.1", 1)}, minute)

	report := f.Flush(context.Background())
	assert.Equal(t, 1, report.Buckets)
	assert.Equal(t, 0, report.Merged)
	assert.Equal(t, 0, b.Len())
}

func TestFlushesDoNotOverlap(t *testing.T) {
	b := NewBuffer()
	merger := newMemoryMerger()
	merger.delay = 20 * time.Millisecond
	f := NewFlusher(b, merger, Config{Parallelism: 1})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		b.Record("t", []model.HopObservation{hopAt(1, "10.0.0.1", float64(i))}, minute.Add(time.Duration(i)*time.Minute))
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Flush(context.Background())
		}()
	}
	wg.Wait()
	f.Flush(context.Background())

	assert.False(t, merger.overlap.Load())
	assert.Len(t, merger.rows, 4)
}

func TestStartAndStopRunsFinalFlush(t *testing.T) {
	b := NewBuffer()
	merger := newMemoryMerger()
	f := NewFlusher(b, merger, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	b.Record("t", []model.HopObservation{hopAt(1, "10.0.0.1", 1)}, minute)
	require.Eventually(t, func() bool {
		merger.mu.Lock()
		defer merger.mu.Unlock()
		return len(merger.rows) == 1
	}, time.Second, 5*time.Millisecond)

	b.Record("t", []model.HopObservation{hopAt(2, "10.0.0.2", 1)}, minute)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	f.Stop(stopCtx)

	merger.mu.Lock()
	defer merger.mu.Unlock()
	assert.Len(t, merger.rows, 2)
	assert.Equal(t, 0, b.Len())
}
