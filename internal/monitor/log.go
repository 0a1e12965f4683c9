package monitor

import (
	"time"

	"github.com/kursadbilgin/push-relay/internal/domain"
)

// LogEntry is one immutable delivery record.
type LogEntry struct {
	ID         string
	Timestamp  time.Time
	Kind       domain.Kind
	Recipients int
	Success    bool
	Latency    time.Duration
	Retries    int
	ErrorKind  domain.ErrorKind
}

// deliveryLog is a fixed-capacity ring buffer of delivery records. Appends are
// O(1); the oldest entry is evicted on overflow. Not safe for concurrent use;
// the Monitor guards it.
type deliveryLog struct {
	entries []LogEntry
	head    int
	size    int
}

func newDeliveryLog(capacity int) *deliveryLog {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &deliveryLog{
		entries: make([]LogEntry, capacity),
	}
}

func (l *deliveryLog) append(entry LogEntry) {
	tail := (l.head + l.size) % len(l.entries)
	l.entries[tail] = entry
	if l.size < len(l.entries) {
		l.size++
		return
	}
	l.head = (l.head + 1) % len(l.entries)
}

// snapshot returns the entries oldest-first as a copy, so readers never touch
// live buffer slots.
func (l *deliveryLog) snapshot() []LogEntry {
	out := make([]LogEntry, 0, l.size)
	for i := 0; i < l.size; i++ {
		out = append(out, l.entries[(l.head+i)%len(l.entries)])
	}
	return out
}

// purgeOlderThan drops entries with timestamps before cutoff. Entries are
// appended in time order, so this only ever advances the head.
func (l *deliveryLog) purgeOlderThan(cutoff time.Time) int {
	purged := 0
	for l.size > 0 {
		oldest := l.entries[l.head]
		if !oldest.Timestamp.Before(cutoff) {
			break
		}
		l.entries[l.head] = LogEntry{}
		l.head = (l.head + 1) % len(l.entries)
		l.size--
		purged++
	}
	return purged
}

func (l *deliveryLog) len() int { return l.size }
