// Package debounce suppresses single-frame false positives by requiring
// temporal consistency across nearby frames. Detection results may arrive
// out of order or be dropped entirely, so the check sorts by sequence id
// and tolerates one missing frame between two true positives.
package debounce

import "sort"

// DefaultCapacity is the default bounded history size.
const DefaultCapacity = 10

// maxSeqGap is the largest sequence id difference for two entries to count
// as consecutive: a gap of 2 allows exactly one intervening frame to be
// missing or non-elevated.
const maxSeqGap = 2

// Entry is one recorded detection verdict.
type Entry struct {
	Seq      uint64
	Elevated bool
}

// Buffer is a fixed-capacity ring of detection history entries with
// oldest-first eviction. It is owned by a single client session and is not
// safe for concurrent use.
type Buffer struct {
	capacity int
	entries  []Entry
}

// New creates a buffer with the given capacity; non-positive values fall
// back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		entries:  make([]Entry, 0, capacity),
	}
}

// Record appends an entry, evicting the oldest when the buffer is full.
func (b *Buffer) Record(seq uint64, elevated bool) {
	if len(b.entries) == b.capacity {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:len(b.entries)-1]
	}
	b.entries = append(b.entries, Entry{Seq: seq, Elevated: elevated})
}

// Consecutive reports whether two elevated entries sit close enough in
// sequence, ignoring non-elevated entries between them. It is false with
// fewer than two elevated entries.
func (b *Buffer) Consecutive() bool {
	elevated := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		if e.Elevated {
			elevated = append(elevated, e)
		}
	}
	if len(elevated) < 2 {
		return false
	}
	sort.Slice(elevated, func(i, j int) bool { return elevated[i].Seq < elevated[j].Seq })

	for i := 0; i < len(elevated)-1; i++ {
		if elevated[i+1].Seq-elevated[i].Seq <= maxSeqGap {
			return true
		}
	}
	return false
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int { return len(b.entries) }

// Entries returns a copy of the buffered entries in arrival order.
func (b *Buffer) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}
