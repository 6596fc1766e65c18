// Package velocity maintains per-entity sliding-window transaction
// aggregates (count and amount sum) for the 1h, 24h and 7d windows.
//
// The 1h and 24h windows are exact: each key holds a time-ordered append
// log whose expired entries are evicted at the window boundary on every
// access. These windows feed blocking decisions. The 7d window uses 168
// hourly ring buckets instead, trading up to one bucket-width of error for
// O(1) memory per key; it only feeds reporting-grade signals.
package velocity

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

const shardCount = 64

// weekBuckets is one bucket per hour over seven days.
const weekBuckets = 7 * 24

// Key identifies one entity dimension of one transaction party.
type Key struct {
	Entity domain.EntityType
	ID     string
}

// Aggregator answers, for a key and window, how many transactions and how
// much total amount occurred in the trailing window. Safe for concurrent
// use: unrelated keys never contend, updates to the same key are
// serialized by a per-key mutex.
type Aggregator struct {
	shards [shardCount]shard

	// now is injectable so tests can advance time.
	now func() time.Time
}

type shard struct {
	mu   sync.RWMutex
	keys map[Key]*keyState
}

type keyState struct {
	mu   sync.Mutex
	hour *eventLog
	day  *eventLog
	week *ringWindow
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	a := &Aggregator{now: time.Now}
	for i := range a.shards {
		a.shards[i].keys = make(map[Key]*keyState)
	}
	return a
}

// Record appends a transaction's contribution to every window for the key.
// The update is atomic per key: once the per-key lock is held the whole
// mutation completes, so a cancelled caller either contributes fully or
// not at all.
func (a *Aggregator) Record(ctx context.Context, key Key, amount float64, ts time.Time) error {
	if key.ID == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	st := a.state(key)

	st.mu.Lock()
	defer st.mu.Unlock()

	st.hour.add(ts, amount)
	st.day.add(ts, amount)
	st.week.add(ts, amount)
	return nil
}

// Query returns the current aggregate for a key and window, pruning
// expired entries first. A missing key returns a zero aggregate, never an
// error: a first-ever transaction for an entity must be scorable.
func (a *Aggregator) Query(key Key, window domain.Window) (count int64, sum float64) {
	sh := &a.shards[a.shardIndex(key)]

	sh.mu.RLock()
	st, ok := sh.keys[key]
	sh.mu.RUnlock()
	if !ok {
		return 0, 0
	}

	now := a.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	switch window {
	case domain.Window1h:
		return st.hour.totals(now)
	case domain.Window24h:
		return st.day.totals(now)
	case domain.Window7d:
		return st.week.totals(now)
	}
	return 0, 0
}

// Getter adapts the aggregator to the signature the rule engine consumes.
func (a *Aggregator) Getter() func(ctx context.Context, entity domain.EntityType, entityID string, window domain.Window) (int64, float64) {
	return func(ctx context.Context, entity domain.EntityType, entityID string, window domain.Window) (int64, float64) {
		return a.Query(Key{Entity: entity, ID: entityID}, window)
	}
}

// KeyCount returns the number of tracked keys, for diagnostics.
func (a *Aggregator) KeyCount() int {
	total := 0
	for i := range a.shards {
		a.shards[i].mu.RLock()
		total += len(a.shards[i].keys)
		a.shards[i].mu.RUnlock()
	}
	return total
}

func (a *Aggregator) shardIndex(key Key) int {
	h := fnv.New32a()
	h.Write([]byte(key.Entity))
	h.Write([]byte{':'})
	h.Write([]byte(key.ID))
	return int(h.Sum32() % shardCount)
}

// state returns the key's window state, creating it on first use.
func (a *Aggregator) state(key Key) *keyState {
	sh := &a.shards[a.shardIndex(key)]

	sh.mu.RLock()
	st, ok := sh.keys[key]
	sh.mu.RUnlock()
	if ok {
		return st
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if st, ok = sh.keys[key]; ok {
		return st
	}
	st = &keyState{
		hour: newEventLog(time.Hour),
		day:  newEventLog(24 * time.Hour),
		week: newRingWindow(),
	}
	sh.keys[key] = st
	return st
}

// eventLog is an exact trailing-window aggregate over a time-ordered
// append log. Memory is bounded by the key's transaction volume inside the
// window span.
type eventLog struct {
	span   time.Duration
	events []event
	sum    float64
}

type event struct {
	ts     time.Time
	amount float64
}

func newEventLog(span time.Duration) *eventLog {
	return &eventLog{span: span}
}

func (l *eventLog) add(ts time.Time, amount float64) {
	l.events = append(l.events, event{ts: ts, amount: amount})
	l.sum += amount
}

// totals evicts everything older than the window boundary and returns the
// remaining aggregate. Appends are usually time-ordered but eviction scans
// the whole log, so a caller-supplied historical timestamp cannot pin
// expired entries behind fresh ones.
func (l *eventLog) totals(now time.Time) (int64, float64) {
	boundary := now.Add(-l.span)

	kept := l.events[:0]
	for _, e := range l.events {
		if e.ts.Before(boundary) {
			l.sum -= e.amount
			continue
		}
		kept = append(kept, e)
	}
	l.events = kept
	if len(l.events) == 0 {
		// Avoid float drift accumulating on idle keys.
		l.sum = 0
	}
	return int64(len(l.events)), l.sum
}

// ringWindow is an approximate 7d aggregate over hourly buckets. A bucket
// is reused for a new hour by overwriting, so expired contributions cost
// nothing to evict.
type ringWindow struct {
	buckets [weekBuckets]bucket
}

type bucket struct {
	hour  int64 // unix hour this bucket currently holds
	count int64
	sum   float64
}

func newRingWindow() *ringWindow {
	return &ringWindow{}
}

func (r *ringWindow) add(ts time.Time, amount float64) {
	hour := ts.Unix() / 3600
	b := &r.buckets[hour%weekBuckets]
	if b.hour != hour {
		b.hour = hour
		b.count = 0
		b.sum = 0
	}
	b.count++
	b.sum += amount
}

func (r *ringWindow) totals(now time.Time) (int64, float64) {
	nowHour := now.Unix() / 3600
	oldest := nowHour - weekBuckets + 1

	var count int64
	var sum float64
	for i := range r.buckets {
		b := &r.buckets[i]
		if b.hour >= oldest && b.hour <= nowHour {
			count += b.count
			sum += b.sum
		}
	}
	return count, sum
}
