package correlate

import (
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
)

// Status is the lifecycle state of an incident.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

type alertKey struct {
	id string
	ts int64
}

// Incident groups scored alerts that share entities within the correlation window.
// All fields are guarded by mu and only the Correlator touches them.
type Incident struct {
	mu sync.Mutex

	id  string
	seq uint64 // creation order, breaks last-seen ties

	alerts     []alert.Scored
	createdAt  time.Time
	lastSeen   time.Time
	entities   map[string]string
	entitySeen map[string]time.Time
	bucket     alert.Bucket
	status     Status
	closedAt   time.Time

	keys      map[string]struct{} // entity keys this incident is indexed under
	alertKeys map[alertKey]struct{}
}

// Snapshot is an immutable copy of an incident.
type Snapshot struct {
	ID             string            `json:"incident_id"`
	Alerts         []alert.Scored    `json:"alerts"`
	CreatedAt      time.Time         `json:"created_at"`
	LastSeen       time.Time         `json:"last_seen"`
	Entities       map[string]string `json:"entities"`
	PriorityBucket alert.Bucket      `json:"priority_bucket"`
	Status         Status            `json:"status"`
	ClosedAt       *time.Time        `json:"closed_at,omitempty"`
}

// AlertIDs returns the constituent alert ids in arrival order.
func (s Snapshot) AlertIDs() []string {
	ids := make([]string, len(s.Alerts))
	for i, a := range s.Alerts {
		ids[i] = a.ID
	}
	return ids
}

func newIncident(id string, seq uint64, sa *alert.Scored) *Incident {
	inc := &Incident{
		id:         id,
		seq:        seq,
		createdAt:  sa.Timestamp,
		lastSeen:   sa.Timestamp,
		entities:   make(map[string]string, len(sa.Entities)),
		entitySeen: make(map[string]time.Time, len(sa.Entities)),
		bucket:     sa.PriorityBucket,
		status:     StatusOpen,
		keys:       make(map[string]struct{}),
		alertKeys:  make(map[alertKey]struct{}),
	}
	inc.add(sa)
	return inc
}

func keyOf(sa *alert.Scored) (alertKey, bool) {
	if sa.ID == "" || sa.ID == alert.Unknown {
		return alertKey{}, false
	}
	return alertKey{id: sa.ID, ts: sa.Timestamp.UnixNano()}, true
}

// hasAlert reports whether sa is already a constituent. Caller holds mu.
func (inc *Incident) hasAlert(sa *alert.Scored) bool {
	k, ok := keyOf(sa)
	if !ok {
		return false
	}
	_, dup := inc.alertKeys[k]
	return dup
}

// appendLocked adds sa to an open incident. Caller holds mu.
func (inc *Incident) appendLocked(sa *alert.Scored) error {
	if inc.status != StatusOpen {
		return ErrIncidentClosed
	}
	inc.add(sa)
	return nil
}

func (inc *Incident) add(sa *alert.Scored) {
	inc.alerts = append(inc.alerts, *sa)
	if k, ok := keyOf(sa); ok {
		inc.alertKeys[k] = struct{}{}
	}
	if sa.Timestamp.After(inc.lastSeen) {
		inc.lastSeen = sa.Timestamp
	}
	inc.bucket = alert.MaxBucket(inc.bucket, sa.PriorityBucket)

	for kind, v := range sa.Entities {
		if v == "" || v == alert.Unknown {
			if _, ok := inc.entities[kind]; !ok {
				inc.entities[kind] = alert.Unknown
			}
			continue
		}
		if seen, ok := inc.entitySeen[kind]; ok && sa.Timestamp.Before(seen) {
			continue
		}
		inc.entities[kind] = v
		inc.entitySeen[kind] = sa.Timestamp
	}
}

// expired reports whether no constituent arrived within w of now. Caller holds mu.
func (inc *Incident) expired(now time.Time, w time.Duration) bool {
	return now.Sub(inc.lastSeen) > w
}

// closeLocked transitions an open incident to closed. Caller holds mu.
func (inc *Incident) closeLocked(at time.Time) bool {
	if inc.status != StatusOpen {
		return false
	}
	inc.status = StatusClosed
	inc.closedAt = at
	return true
}

// snapshotLocked copies the incident. Caller holds mu.
func (inc *Incident) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:             inc.id,
		Alerts:         make([]alert.Scored, len(inc.alerts)),
		CreatedAt:      inc.createdAt,
		LastSeen:       inc.lastSeen,
		Entities:       make(map[string]string, len(inc.entities)),
		PriorityBucket: inc.bucket,
		Status:         inc.status,
	}
	copy(s.Alerts, inc.alerts)
	for k, v := range inc.entities {
		s.Entities[k] = v
	}
	if inc.status == StatusClosed {
		at := inc.closedAt
		s.ClosedAt = &at
	}
	return s
}

func (inc *Incident) snapshot() Snapshot {
	inc.mu.Lock()
	defer inc.mu.Unlock()
	return inc.snapshotLocked()
}

func within(a, b time.Time, w time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= w
}
