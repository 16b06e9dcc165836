// Package correlate groups scored alerts that share entities into incidents.
package correlate

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/oklog/ulid/v2"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
	"github.com/gyaneshwarpardhi/aria/internal/metrics"
)

// Outcome describes what Ingest did with an alert.
type Outcome string

const (
	Created   Outcome = "created"
	Appended  Outcome = "appended"
	Duplicate Outcome = "duplicate"
)

// Settings configures a Correlator.
type Settings struct {
	Window       time.Duration
	Shards       int
	RetainClosed int              // closed incidents kept for lookup
	Now          func() time.Time // wall clock, defaults to time.Now
}

type shard struct {
	mu    sync.Mutex
	index map[string]map[*Incident]struct{} // entity key -> open incidents
}

// Correlator owns all incident state. Lock order: shard (ascending index),
// then incident, then registry. No lock is held while close handlers run.
type Correlator struct {
	window atomic.Int64
	shards []*shard
	clock  *clock
	seq    atomic.Uint64
	reg    *registry

	handlersMu sync.RWMutex
	onClose    []func(Snapshot)
}

// New creates a Correlator.
func New(s Settings) *Correlator {
	if s.Window <= 0 {
		s.Window = 30 * time.Minute
	}
	if s.Shards <= 0 {
		s.Shards = 64
	}
	c := &Correlator{
		shards: make([]*shard, s.Shards),
		clock:  newClock(s.Now),
		reg:    newRegistry(s.RetainClosed),
	}
	for i := range c.shards {
		c.shards[i] = &shard{index: make(map[string]map[*Incident]struct{})}
	}
	c.window.Store(int64(s.Window))
	return c
}

// Window returns the current correlation window.
func (c *Correlator) Window() time.Duration { return time.Duration(c.window.Load()) }

// SetWindow changes the correlation window. Open incidents are kept.
func (c *Correlator) SetWindow(w time.Duration) {
	if w > 0 {
		c.window.Store(int64(w))
	}
}

// OnClose registers fn to receive every closed incident.
func (c *Correlator) OnClose(fn func(Snapshot)) {
	c.handlersMu.Lock()
	c.onClose = append(c.onClose, fn)
	c.handlersMu.Unlock()
}

func (c *Correlator) shardFor(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(c.shards)))
}

// lockShards locks the shards covering keys in ascending order and returns the unlock func.
func (c *Correlator) lockShards(keys []string) func() {
	seen := make(map[int]struct{}, len(keys))
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		i := c.shardFor(k)
		if _, ok := seen[i]; !ok {
			seen[i] = struct{}{}
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		c.shards[i].mu.Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			c.shards[idx[j]].mu.Unlock()
		}
	}
}

type candidate struct {
	inc      *Incident
	lastSeen time.Time
	seq      uint64
}

func better(a, b candidate) bool {
	if !a.lastSeen.Equal(b.lastSeen) {
		return a.lastSeen.After(b.lastSeen)
	}
	return a.seq < b.seq
}

// Ingest correlates one scored alert and returns a snapshot of the incident
// it now belongs to. Cancellation is honoured only before the incident is mutated.
func (c *Correlator) Ingest(ctx context.Context, sa *alert.Scored) (Snapshot, Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, "", err
	}
	now := c.clock.observe(sa.Timestamp)
	w := c.Window()

	known := sa.KnownEntities()
	if len(known) == 0 {
		inc := c.create(sa)
		return inc.snapshot(), Created, nil
	}
	keys := make([]string, len(known))
	for i, e := range known {
		keys[i] = e.Key()
	}

	var closed []Snapshot
	snap, outcome, err := func() (Snapshot, Outcome, error) {
		unlock := c.lockShards(keys)
		defer unlock()

		excluded := make(map[*Incident]struct{})
		for {
			cands, dup, justClosed := c.scan(keys, sa, now, w, excluded)
			closed = append(closed, justClosed...)
			if dup != nil {
				return dup.snapshot(), Duplicate, nil
			}
			if len(cands) == 0 {
				inc := c.create(sa)
				c.index(keys, inc)
				return inc.snapshot(), Created, nil
			}

			best := cands[0]
			for _, cand := range cands[1:] {
				if better(cand, best) {
					best = cand
				}
			}

			inc := best.inc
			inc.mu.Lock()
			if inc.status != StatusOpen || !within(sa.Timestamp, inc.lastSeen, w) {
				// Closed by a sweep or moved past the window since the scan.
				inc.mu.Unlock()
				excluded[inc] = struct{}{}
				continue
			}
			if err := inc.appendLocked(sa); err != nil {
				inc.mu.Unlock()
				return Snapshot{}, "", c.violation(inc.id, "append", err)
			}
			s := inc.snapshotLocked()
			inc.mu.Unlock()
			c.index(keys, inc)
			return s, Appended, nil
		}
	}()

	c.finalize(closed)
	return snap, outcome, err
}

// scan collects the open, in-window incidents indexed under keys. Expired
// incidents found on the way are closed and returned. Caller holds the shards.
func (c *Correlator) scan(keys []string, sa *alert.Scored, now time.Time, w time.Duration, excluded map[*Incident]struct{}) ([]candidate, *Incident, []Snapshot) {
	var (
		cands  []candidate
		closed []Snapshot
		seen   = make(map[*Incident]struct{})
	)
	for _, key := range keys {
		sh := c.shards[c.shardFor(key)]
		set := sh.index[key]
		for inc := range set {
			if _, ok := excluded[inc]; ok {
				continue
			}
			if _, ok := seen[inc]; ok {
				continue
			}
			seen[inc] = struct{}{}

			inc.mu.Lock()
			if inc.status != StatusOpen {
				inc.mu.Unlock()
				delete(set, inc)
				continue
			}
			if inc.expired(now, w) {
				inc.closeLocked(now)
				closed = append(closed, inc.snapshotLocked())
				inc.mu.Unlock()
				delete(set, inc)
				continue
			}
			if inc.hasAlert(sa) {
				inc.mu.Unlock()
				return nil, inc, closed
			}
			if within(sa.Timestamp, inc.lastSeen, w) {
				cands = append(cands, candidate{inc: inc, lastSeen: inc.lastSeen, seq: inc.seq})
			}
			inc.mu.Unlock()
		}
		if len(set) == 0 {
			delete(sh.index, key)
		}
	}
	return cands, nil, closed
}

func (c *Correlator) create(sa *alert.Scored) *Incident {
	inc := newIncident(ulid.Make().String(), c.seq.Add(1), sa)
	c.reg.add(inc)
	metrics.IncidentsCreated.Inc()
	metrics.IncidentsOpen.Set(float64(c.reg.openCount()))
	return inc
}

// index adds inc under keys. Caller holds the shards.
func (c *Correlator) index(keys []string, inc *Incident) {
	inc.mu.Lock()
	for _, k := range keys {
		inc.keys[k] = struct{}{}
	}
	inc.mu.Unlock()
	for _, k := range keys {
		sh := c.shards[c.shardFor(k)]
		set, ok := sh.index[k]
		if !ok {
			set = make(map[*Incident]struct{})
			sh.index[k] = set
		}
		set[inc] = struct{}{}
	}
}

func (c *Correlator) violation(id, op string, err error) error {
	metrics.InvariantViolations.Inc()
	ierr := &InvariantError{IncidentID: id, Op: op, Err: err}
	slog.Error("correlation invariant violated", "incident_id", id, "op", op, "err", err)
	return ierr
}

// finalize moves closed incidents to the retained set and notifies handlers.
func (c *Correlator) finalize(closed []Snapshot) {
	if len(closed) == 0 {
		return
	}
	for _, s := range closed {
		c.reg.close(s)
		metrics.IncidentsClosed.Inc()
	}
	metrics.IncidentsOpen.Set(float64(c.reg.openCount()))

	c.handlersMu.RLock()
	handlers := append([]func(Snapshot){}, c.onClose...)
	c.handlersMu.RUnlock()
	for _, s := range closed {
		for _, fn := range handlers {
			fn(s)
		}
	}
}

// Sweep closes every open incident whose window has expired and prunes
// closed incidents from the entity index. Returns the number closed.
func (c *Correlator) Sweep() int {
	now := c.clock.now()
	w := c.Window()

	var closed []Snapshot
	for _, inc := range c.reg.openIncidents() {
		inc.mu.Lock()
		if inc.status == StatusOpen && inc.expired(now, w) {
			inc.closeLocked(now)
			closed = append(closed, inc.snapshotLocked())
		}
		inc.mu.Unlock()
	}

	for _, sh := range c.shards {
		sh.mu.Lock()
		for key, set := range sh.index {
			for inc := range set {
				inc.mu.Lock()
				stale := inc.status != StatusOpen
				inc.mu.Unlock()
				if stale {
					delete(set, inc)
				}
			}
			if len(set) == 0 {
				delete(sh.index, key)
			}
		}
		sh.mu.Unlock()
	}

	c.finalize(closed)
	return len(closed)
}

// Run sweeps every interval until ctx is cancelled.
func (c *Correlator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				slog.Debug("incidents closed by sweep", "count", n)
			}
		}
	}
}

// Open returns snapshots of the open incidents, highest priority first,
// then most recently active.
func (c *Correlator) Open() []Snapshot {
	incs := c.reg.openIncidents()
	out := make([]Snapshot, 0, len(incs))
	for _, inc := range incs {
		s := inc.snapshot()
		if s.Status == StatusOpen {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].PriorityBucket.Rank(), out[j].PriorityBucket.Rank()
		if ri != rj {
			return ri > rj
		}
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns an open or recently closed incident.
func (c *Correlator) Get(id string) (Snapshot, bool) {
	return c.reg.get(id)
}

// OpenCount returns the number of open incidents.
func (c *Correlator) OpenCount() int { return c.reg.openCount() }
