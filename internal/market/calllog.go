package market

import (
	"sync"
	"time"
)

// CallRecord is the outcome of one upstream API call.
type CallRecord struct {
	Endpoint string
	At       time.Time
	Success  bool
	Kind     ErrorKind
	Status   int
	Latency  time.Duration
}

// CallLog is a bounded ring of recent call outcomes.
type CallLog struct {
	mu      sync.Mutex
	records []CallRecord
	next    int
	full    bool
}

// NewCallLog keeps at most size records.
func NewCallLog(size int) *CallLog {
	if size <= 0 {
		size = 1000
	}
	return &CallLog{records: make([]CallRecord, size)}
}

// Record appends an outcome, overwriting the oldest when full.
func (l *CallLog) Record(rec CallRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[l.next] = rec
	l.next = (l.next + 1) % len(l.records)
	if l.next == 0 {
		l.full = true
	}
}

// Since returns records at or after t, in recording order.
func (l *CallLog) Since(t time.Time) []CallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ordered []CallRecord
	if l.full {
		ordered = append(ordered, l.records[l.next:]...)
	}
	ordered = append(ordered, l.records[:l.next]...)

	out := make([]CallRecord, 0, len(ordered))
	for _, rec := range ordered {
		if !rec.At.Before(t) {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of stored records.
func (l *CallLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.records)
	}
	return l.next
}
