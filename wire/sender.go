package wire

import (
	"sync"

	"github.com/shaban/scuffgo/shm"
)

// Sender serializes outgoing messages onto a shm.Ring, matching spec
// §4.3: messages are queued, then drained into the ring's free space a
// partial frame at a time — a full ring is normal backpressure, not an
// error, and the sender resumes mid-frame on the next drain.
type Sender struct {
	mu      sync.Mutex
	ring    *shm.Ring
	pending [][]byte // queued, not-yet-fully-written frames, in order
	scratch []byte   // bytes of pending[0] not yet written to the ring
}

// NewSender wraps a ring for one direction of traffic.
func NewSender(ring *shm.Ring) *Sender {
	return &Sender{ring: ring}
}

// Enqueue appends one message's encoded frame to the send queue. It
// never blocks: if the ring is full, the bytes simply wait in pending
// until Drain is next called.
func (s *Sender) Enqueue(m Message) {
	frame := EncodeFrame(m)
	s.mu.Lock()
	s.pending = append(s.pending, frame)
	s.mu.Unlock()
}

// Drain pushes as many queued bytes into the ring as currently fit.
// Call it once per audio epoch or I/O tick. Returns the number of
// frames fully flushed.
func (s *Sender) Drain() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	flushed := 0
	for len(s.pending) > 0 {
		if s.scratch == nil {
			s.scratch = s.pending[0]
		}
		n := s.ring.Write(s.scratch)
		s.scratch = s.scratch[n:]
		if len(s.scratch) > 0 {
			// Ring is full; resume here next Drain.
			break
		}
		s.scratch = nil
		s.pending = s.pending[1:]
		flushed++
	}
	return flushed
}

// Pending reports how many frames are still queued (including a
// partially-written one), for diagnostics and tests.
func (s *Sender) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
