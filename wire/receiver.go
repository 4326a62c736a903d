package wire

import (
	"github.com/shaban/scuffgo/shm"
)

type receiverState int

const (
	awaitingHeader receiverState = iota
	awaitingPayload
)

// Receiver reassembles frames out of a shm.Ring, one partial Read at a
// time. It mirrors Sender: a Read returning fewer bytes than asked for
// is normal and simply leaves the state machine where it was.
type Receiver struct {
	dir   Direction
	ring  *shm.Ring
	state receiverState
	buf   []byte // accumulated bytes of the piece currently in progress
	size  uint64 // decoded payload size, valid once state==awaitingPayload
	tag   uint64
}

// NewReceiver wraps a ring for one direction of traffic.
func NewReceiver(dir Direction, ring *shm.Ring) *Receiver {
	return &Receiver{dir: dir, ring: ring, state: awaitingHeader}
}

// Poll pulls whatever bytes are currently available and returns every
// complete message assembled so far. Call it once per tick; it never
// blocks.
func (r *Receiver) Poll() ([]Message, error) {
	var out []Message
	tmp := make([]byte, 4096)
	for {
		if r.state == awaitingPayload && r.size == 0 {
			m, err := DecodeFrame(r.dir, r.tag, nil)
			if err != nil {
				return out, err
			}
			out = append(out, m)
			r.state = awaitingHeader
			continue
		}
		want := r.remaining()
		if want == 0 {
			break
		}
		if want > len(tmp) {
			tmp = make([]byte, want)
		}
		n := r.ring.Read(tmp[:want])
		if n == 0 {
			break
		}
		r.buf = append(r.buf, tmp[:n]...)

		if r.state == awaitingHeader && len(r.buf) == FrameHeaderSize {
			r.size = order.Uint64(r.buf[0:8])
			r.tag = order.Uint64(r.buf[8:16])
			r.buf = r.buf[:0]
			r.state = awaitingPayload
			continue
		}
		if r.state == awaitingPayload && uint64(len(r.buf)) == r.size {
			m, err := DecodeFrame(r.dir, r.tag, r.buf)
			if err != nil {
				return out, err
			}
			out = append(out, m)
			r.buf = r.buf[:0]
			r.state = awaitingHeader
			continue
		}
	}
	return out, nil
}

// remaining is how many more bytes complete the piece currently being
// accumulated (a header or a payload).
func (r *Receiver) remaining() int {
	if r.state == awaitingHeader {
		return FrameHeaderSize - len(r.buf)
	}
	return int(r.size) - len(r.buf)
}
