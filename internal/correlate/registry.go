package correlate

import "sync"

// registry tracks incidents by id: open ones live, closed ones as bounded FIFO snapshots.
type registry struct {
	mu          sync.RWMutex
	open        map[string]*Incident
	closed      map[string]Snapshot
	closedOrder []string
	retain      int
}

func newRegistry(retain int) *registry {
	return &registry{
		open:   make(map[string]*Incident),
		closed: make(map[string]Snapshot),
		retain: retain,
	}
}

func (r *registry) add(inc *Incident) {
	r.mu.Lock()
	r.open[inc.id] = inc
	r.mu.Unlock()
}

func (r *registry) close(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, s.ID)
	if r.retain <= 0 {
		return
	}
	if _, ok := r.closed[s.ID]; !ok {
		r.closedOrder = append(r.closedOrder, s.ID)
	}
	r.closed[s.ID] = s
	for len(r.closedOrder) > r.retain {
		delete(r.closed, r.closedOrder[0])
		r.closedOrder = r.closedOrder[1:]
	}
}

func (r *registry) openIncidents() []*Incident {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Incident, 0, len(r.open))
	for _, inc := range r.open {
		out = append(out, inc)
	}
	return out
}

func (r *registry) openCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.open)
}

func (r *registry) get(id string) (Snapshot, bool) {
	r.mu.RLock()
	inc, ok := r.open[id]
	if !ok {
		s, found := r.closed[id]
		r.mu.RUnlock()
		return s, found
	}
	r.mu.RUnlock()
	return inc.snapshot(), true
}
