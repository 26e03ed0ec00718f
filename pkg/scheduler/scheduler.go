// Package scheduler fires reducer calls bound to rows in scheduled
// tables, at the time recorded in each row's schedule_at column (§4.6).
// It maintains an in-memory min-heap keyed by next-fire-time, rebuilt
// from the scheduled tables on host start; inserts add entries, deletes
// cancel them, and every Interval firing, whether or not the call
// succeeds, re-enqueues itself from the firing time rather than the
// original target time.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/log"
	"github.com/spacetimedb/core/pkg/metrics"
)

// scheduleTag discriminates the two variants of the schedule_at sum type
// (§4.1: "sum of Time(instant)/Interval(duration)").
const (
	tagTime     uint32 = 0
	tagInterval uint32 = 1
)

// ReducerCaller is implemented by the module host: Scheduler calls it
// when a scheduled entry fires. CallScheduledReducer runs the named
// reducer as its own transaction, exactly like any externally-invoked
// reducer call.
type ReducerCaller interface {
	CallScheduledReducer(reducer string, row algebra.Row) error
}

// entry is one scheduled call waiting to fire.
type entry struct {
	table    algebra.TableId
	key      algebra.DataKey
	reducer  string
	row      algebra.Row
	fireAt   int64 // unix nanoseconds
	interval int64 // 0 for a one-shot Time entry
	index    int   // heap.Interface bookkeeping
}

type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].fireAt < h[j].fireAt }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler owns one replica's scheduled-call queue.
type Scheduler struct {
	caller ReducerCaller
	logger zerolog.Logger

	mu    sync.Mutex
	queue entryHeap
	byKey map[algebra.DataKey]*entry

	tickInterval time.Duration
	stopCh       chan struct{}
}

// New builds a Scheduler that invokes reducers through caller.
func New(caller ReducerCaller) *Scheduler {
	return &Scheduler{
		caller:       caller,
		logger:       log.WithComponent("scheduler"),
		byKey:        make(map[algebra.DataKey]*entry),
		tickInterval: 50 * time.Millisecond,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the firing loop on a background ticker.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop halts the firing loop. Entries already in the queue are dropped;
// a fresh Scheduler is rebuilt from the scheduled tables on next launch.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// Enqueue schedules row, reported as a newly committed row in a
// scheduled table. now is the commit's wall-clock time in unix
// nanoseconds: an Interval entry's first firing is now+interval, exactly
// like every subsequent re-firing.
func (s *Scheduler) Enqueue(table algebra.TableId, key algebra.DataKey, reducer string, row algebra.Row, scheduleAt algebra.Value, now int64) {
	if scheduleAt.Sum == nil {
		return
	}

	e := &entry{table: table, key: key, reducer: reducer, row: row}
	switch scheduleAt.Sum.Tag {
	case tagTime:
		ts, _ := scheduleAt.Sum.Inner.Int.(int64)
		e.fireAt = ts
	case tagInterval:
		interval, _ := scheduleAt.Sum.Inner.Int.(int64)
		e.interval = interval
		e.fireAt = now + interval
	default:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.queue, e)
	s.byKey[key] = e
	metrics.SchedulerQueueDepth.Set(float64(s.queue.Len()))
}

// Cancel removes a scheduled entry by its row's data key, reported when
// the row is deleted from a scheduled table before it fires.
func (s *Scheduler) Cancel(key algebra.DataKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byKey[key]
	if !ok || e.index < 0 {
		return
	}
	heap.Remove(&s.queue, e.index)
	delete(s.byKey, key)
	metrics.SchedulerQueueDepth.Set(float64(s.queue.Len()))
}

// QueueDepth satisfies pkg/metrics.SchedulerStats.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.fireDue()
		case <-s.stopCh:
			return
		}
	}
}

// fireDue pops and fires every entry whose target time has passed. A
// missed firing (e.g. the host was down past the target time) coalesces
// to a single firing right now rather than one per missed interval.
func (s *Scheduler) fireDue() {
	now := time.Now().UnixNano()
	for {
		e, ok := s.popDue(now)
		if !ok {
			return
		}

		start := time.Now()
		err := s.caller.CallScheduledReducer(e.reducer, e.row)
		metrics.SchedulerFiredTotal.Inc()
		metrics.SchedulerLatency.Observe(time.Since(start).Seconds() + float64(now-e.fireAt)/1e9)
		if err != nil {
			s.logger.Error().Err(err).Str("reducer", e.reducer).Msg("scheduled reducer call failed")
		}

		if e.interval > 0 {
			s.mu.Lock()
			e.fireAt = now + e.interval
			heap.Push(&s.queue, e)
			s.byKey[e.key] = e
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) popDue(now int64) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.Len() == 0 || s.queue[0].fireAt > now {
		return nil, false
	}
	e := heap.Pop(&s.queue).(*entry)
	delete(s.byKey, e.key)
	metrics.SchedulerQueueDepth.Set(float64(s.queue.Len()))
	return e, true
}
