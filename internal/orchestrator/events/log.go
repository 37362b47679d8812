// Package events keeps a bounded history of capture cycles and fans new
// cycles out to subscribers.
package events

import (
	"sync"
	"time"
)

// Outcome is the terminal decision of a cycle.
type Outcome string

const (
	Commit Outcome = "commit"
	Reject Outcome = "reject"
)

// Reject reasons.
const (
	ReasonReadFailed         = "read_failed"
	ReasonOccluded           = "occluded"
	ReasonInsufficientChange = "insufficient_change"
	ReasonSizeMismatch       = "size_mismatch"
	ReasonAnalysisError      = "analysis_error"
	ReasonRecordFailed       = "record_failed"
)

// Event describes one completed cycle.
type Event struct {
	Cycle      uint64        `json:"cycle"`
	Time       time.Time     `json:"time"`
	Outcome    Outcome       `json:"outcome"`
	Reason     string        `json:"reason,omitempty"`
	Metric     float64       `json:"metric"`
	SnapshotID *uint64       `json:"snapshot_id,omitempty"`
	Path       string        `json:"path,omitempty"`
	PHash      string        `json:"phash,omitempty"`
	Regions    int           `json:"regions,omitempty"`
	TraceID    string        `json:"trace_id,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// Committed reports whether the cycle produced a snapshot.
func (e Event) Committed() bool { return e.Outcome == Commit }

// Log is an in-memory ring of events with non-blocking fan-out.
type Log struct {
	mu      sync.RWMutex
	entries []Event
	maxSize int

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewLog creates a log keeping the last maxEntries events.
func NewLog(maxEntries int) *Log {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Log{
		entries: make([]Event, 0, maxEntries),
		maxSize: maxEntries,
		subs:    make(map[int]chan Event),
	}
}

// Add stores e and offers it to every subscriber. Slow subscribers miss
// events rather than stall the caller.
func (l *Log) Add(e Event) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.maxSize {
		l.entries = l.entries[len(l.entries)-l.maxSize:]
	}
	l.mu.Unlock()

	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Recent returns up to n most recent events, oldest first. n <= 0 returns all.
func (l *Log) Recent(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Event, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Subscribe returns a channel receiving future events and a cancel func
// that closes it.
func (l *Log) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	l.subMu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs, id)
			l.subMu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (l *Log) Subscribers() int {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	return len(l.subs)
}
