package model

import (
	"sync"
	"sync/atomic"
)

// versionedSnapshot pairs a Snapshot with a refcount tracking how many
// readers (audio-thread Load calls, in-flight non-realtime operations)
// might still be holding it. Ported from original_source's audio_sync<T>,
// which keeps a vector of shared_ptr and garbage-collects entries whose
// use_count has dropped to 1 (no external holder left besides the
// vector itself).
type versionedSnapshot struct {
	snap     *Snapshot
	refs     atomic.Int32
	onRetire []func() // OS-level shm teardown deferred until this version is unreachable
}

// Publisher is the left-right-style publisher of spec §4.6: writers
// serialize through Modify, readers call Load without ever blocking or
// allocating (spec §5's audio-thread constraint).
type Publisher struct {
	current atomic.Pointer[versionedSnapshot]

	writerMu sync.Mutex
	versions []*versionedSnapshot // oldest first; current is always versions[len-1]

	// minRetained resolves spec §9's Open Question #2: an OS-level shm
	// segment is never removed until at least this many newer published
	// buffers exist behind it, so a reader that grabbed a stale pointer
	// a moment ago still sees valid memory.
	minRetained int
}

// NewPublisher seeds the publisher with an initial, typically empty,
// Snapshot.
func NewPublisher(initial *Snapshot) *Publisher {
	p := &Publisher{minRetained: 2}
	v := &versionedSnapshot{snap: initial}
	p.current.Store(v)
	p.versions = append(p.versions, v)
	return p
}

// Load is the realtime read path: one atomic pointer load, no locks.
func (p *Publisher) Load() *Snapshot {
	return p.current.Load().snap
}

// UpdateFn transforms the current snapshot into the next one. It must
// not mutate its argument in place; use the free functions in model.go
// or Snapshot.clone-based helpers, which always return a fresh value.
type UpdateFn func(*Snapshot) *Snapshot

// Modify applies fn to the current snapshot and publishes the result.
// onRetire, if non-nil, is attached to the version being replaced (the
// last one that can still reference whatever fn removed) and is called
// once that version is collected (e.g. to unlink OS shm segments for an
// erased entity).
func (p *Publisher) Modify(fn UpdateFn, onRetire ...func()) {
	p.writerMu.Lock()
	defer p.writerMu.Unlock()

	prev := p.versions[len(p.versions)-1]
	prev.onRetire = append(prev.onRetire, onRetire...)
	next := &versionedSnapshot{snap: fn(prev.snap)}
	p.current.Store(next)
	p.versions = append(p.versions, next)
	p.collect()
}

// Set is the simple non-incremental form of Modify.
func (p *Publisher) Set(snap *Snapshot) {
	p.Modify(func(*Snapshot) *Snapshot { return snap })
}

// collect runs the low-frequency GC pass: anything older than the
// last minRetained published versions, with a zero refcount, is
// dropped and its retirement callbacks fire. Must be called with
// writerMu held.
func (p *Publisher) collect() {
	for len(p.versions) > p.minRetained {
		oldest := p.versions[0]
		if oldest.refs.Load() != 0 {
			break
		}
		p.versions = p.versions[1:]
		for _, fn := range oldest.onRetire {
			fn()
		}
	}
}

// GC runs a collection pass outside of a Modify call, for a ticker-driven
// background sweep (spec §4.6's "low-frequency GC goroutine").
func (p *Publisher) GC() {
	p.writerMu.Lock()
	defer p.writerMu.Unlock()
	p.collect()
}

// Acquire pins the currently published version for a reader that needs
// to hold onto it across more than a single atomic load (e.g. a
// non-realtime operation spanning several steps), and returns a release
// function. The realtime audio path should prefer the allocation-free
// Load instead.
func (p *Publisher) Acquire() (*Snapshot, func()) {
	v := p.current.Load()
	v.refs.Add(1)
	return v.snap, func() { v.refs.Add(-1) }
}
