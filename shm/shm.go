// Package shm implements the named, process-OS-visible byte segments that
// back groups, sandboxes, and devices (spec §4.1). A Segment is addressed
// by a string id of the form "<instance>+<kind>+<id>" (see Name); the
// creator may request remove-on-close semantics so the OS-level name is
// unlinked when the creator's handle is closed.
//
// The real backing store is platform specific (shm_open+mmap on Linux,
// see shm_linux.go); GOOS that have no such realization in the retrieved
// example pack use the in-process fallback in shm_fallback.go, which
// needs no root or real multi-process harness.
package shm

import (
	"fmt"
	"sync"
)

// Name builds the "<instance>+<kind>+<id>" segment name convention of
// spec §6.
func Name(instance string, kind string, id int64) string {
	return fmt.Sprintf("%s+%s+%d", instance, kind, id)
}

// NameWithSuffix extends Name with an additional per-object suffix, used
// for device audio-port and param-info segments (spec §6).
func NameWithSuffix(instance string, kind string, id int64, suffix string) string {
	return fmt.Sprintf("%s+%s+%d+%s", instance, kind, id, suffix)
}

// Segment is a named region of bytes shared between this process and any
// peer that opens the same name. Segment itself only manages the backing
// bytes and their lifetime; typed records (GroupRecord, SandboxRecord,
// DeviceRecord) are placed over the bytes by their owners.
type Segment struct {
	id       string
	bytes    []byte
	removeOn bool
	backend  backend
}

// backend abstracts the OS-level creation primitive so tests and non-Linux
// builds can run against an in-process store. See shm_linux.go and
// shm_fallback.go for the two realizations.
type backend interface {
	create(id string, size int) ([]byte, error)
	open(id string) ([]byte, error)
	remove(id string)
}

var active backend = defaultBackend()

// New creates (create=true) or opens (create=false) a segment. When
// create is true and removeOnClose is true, Close unlinks the OS-level
// name; openers of an already-created segment should pass removeOnClose
// false so only the creator tears it down.
func New(id string, size int, create bool, removeOnClose bool) (*Segment, error) {
	var b []byte
	var err error
	if create {
		b, err = active.create(id, size)
	} else {
		b, err = active.open(id)
	}
	if err != nil {
		return nil, fmt.Errorf("shm: %s: %w", id, err)
	}
	return &Segment{id: id, bytes: b, removeOn: create && removeOnClose}, nil
}

// ID returns the segment's name.
func (s *Segment) ID() string { return s.id }

// Bytes exposes the raw backing storage. Callers place typed records at a
// fixed offset via package-level helpers (GroupRecord, SandboxRecord,
// DeviceRecord) rather than mutating this slice directly.
func (s *Segment) Bytes() []byte { return s.bytes }

// Close drops this process's handle to the segment. If this segment was
// created with removeOnClose, the OS-level name is unlinked; spec §4.1's
// "remove on close" semantics.
func (s *Segment) Close() {
	if s.removeOn {
		active.remove(s.id)
	}
}

// registry is a tiny process-local directory used by the in-process
// fallback backend (and by tests that want to simulate two "processes" in
// one Go test binary opening the same segment by name).
type registry struct {
	mu   sync.Mutex
	segs map[string][]byte
}

func newRegistry() *registry { return &registry{segs: make(map[string][]byte)} }
