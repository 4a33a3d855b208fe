// Package history keeps the ordered log of distinct logo states.
package history

import (
	"sync"
)

// Observer is told about every appended state, in append order. Notify is
// called with the log's write lock held and must not block or call back
// into the log's mutating methods.
type Observer interface {
	Notify(state LogoState)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(LogoState)

func (f ObserverFunc) Notify(state LogoState) { f(state) }

// Options configures a Log.
type Options struct {
	// Capacity bounds the number of retained entries. Zero keeps everything.
	Capacity int
}

// Log is an append-only sequence of LogoState with absolute indices.
// When bounded it is a ring buffer: the oldest entry is evicted and its
// index is never reused.
type Log struct {
	mu        sync.RWMutex
	capacity  int
	entries   []LogoState
	head      int // ring position of the oldest entry
	first     int // absolute index of the oldest entry
	total     int
	observers []Observer
}

// New creates an empty log.
func New(opts Options) *Log {
	l := &Log{capacity: opts.Capacity}
	if l.capacity > 0 {
		l.entries = make([]LogoState, 0, l.capacity)
	}
	return l
}

// AddObserver registers o for every later Append.
func (l *Log) AddObserver(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, o)
}

// Append stores state and returns it with its assigned index and clamped
// timestamp. Observers run before the lock is released, so an entry becomes
// readable and is published in one step.
func (l *Log) Append(state LogoState) LogoState {
	l.mu.Lock()
	defer l.mu.Unlock()

	state.Index = l.total
	state.Time = state.Time.UTC()
	if tail, ok := l.latestLocked(); ok && state.Time.Before(tail.Time) {
		state.Time = tail.Time
	}

	if l.capacity == 0 || len(l.entries) < l.capacity {
		l.entries = append(l.entries, state)
	} else {
		l.entries[l.head] = state
		l.head = (l.head + 1) % l.capacity
		l.first++
	}
	l.total++

	for _, o := range l.observers {
		o.Notify(state)
	}
	return state
}

// Get returns the entry at absolute index i.
func (l *Log) Get(i int) (LogoState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if i < l.first || i >= l.total {
		return LogoState{}, ErrNotFound
	}
	return l.entries[l.position(i)], nil
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Total returns the number of entries ever appended.
func (l *Log) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Latest returns the newest entry, if any.
func (l *Log) Latest() (LogoState, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latestLocked()
}

// Snapshot copies the retained entries, oldest first.
func (l *Log) Snapshot() []LogoState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

// View calls fn with the retained entries while holding the read lock.
// No Append can happen until fn returns.
func (l *Log) View(fn func(entries []LogoState)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn(l.snapshotLocked())
}

func (l *Log) position(i int) int {
	pos := i - l.first
	if l.capacity > 0 {
		pos = (l.head + pos) % len(l.entries)
	}
	return pos
}

func (l *Log) latestLocked() (LogoState, bool) {
	if l.total == 0 {
		return LogoState{}, false
	}
	return l.entries[l.position(l.total-1)], true
}

func (l *Log) snapshotLocked() []LogoState {
	out := make([]LogoState, 0, len(l.entries))
	out = append(out, l.entries[l.head:]...)
	return append(out, l.entries[:l.head]...)
}
