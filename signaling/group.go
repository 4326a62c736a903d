package signaling

import (
	"sync/atomic"
	"time"
)

// GroupState is the portion of a group's shared segment this package
// owns: the processing epoch, the fan-in counter, and the two event
// words ("start", "done"). shm.GroupLayout embeds this struct so the
// bytes live inside the group's Segment and are visible to every
// sandbox that opens it.
type GroupState struct {
	Epoch               uint64
	SandboxesProcessing uint32
	_                   uint32
	StartWord           uint32
	DoneWord            uint32
}

// MaxWait bounds how long the client's audio thread spins waiting for a
// buffer's sandboxes to finish before degrading to silence (spec §4.5
// step 4's "short spin-wait budget").
const MaxWait = 50 * time.Millisecond

// GroupSignal wraps a GroupState with the four operations spec §4.2
// names.
type GroupSignal struct {
	state *GroupState
	start Event
	done  Event
}

// NewGroupSignal binds a GroupSignal to a GroupState living inside a
// shared segment.
func NewGroupSignal(state *GroupState) *GroupSignal {
	return &GroupSignal{
		state: state,
		start: NewEvent(&state.StartWord),
		done:  NewEvent(&state.DoneWord),
	}
}

// SignalSandboxProcessing initializes the fan-in counter to sandboxCount,
// stores the new epoch with release ordering, and fires the start event
// — spec §4.5 step 3, performed by the client's audio thread.
func (g *GroupSignal) SignalSandboxProcessing(epoch uint64, sandboxCount int32) {
	atomic.StoreUint32(&g.state.SandboxesProcessing, uint32(sandboxCount))
	atomic.StoreUint64(&g.state.Epoch, epoch) // release: paired with Epoch() acquire load
	g.start.Set()
}

// WaitForAllSandboxesDone blocks until the fan-in counter reaches 0 or
// the done event fires, whichever the platform naturally provides, up
// to timeout. Returns false on timeout (spec §4.5 step 4).
func (g *GroupSignal) WaitForAllSandboxesDone(timeout time.Duration) bool {
	if atomic.LoadUint32(&g.state.SandboxesProcessing) == 0 {
		return true
	}
	if !g.done.Wait(timeout) {
		return atomic.LoadUint32(&g.state.SandboxesProcessing) == 0
	}
	return true
}

// WaitForSignaled is called by a sandbox's audio worker to consume the
// start event, read the current epoch, and report whether it changed
// (Signaled), a shutdown was requested (StopRequested), or no signal
// arrived within timeout (Timeout). Spec §4.2/§4.5 step 1.
func (g *GroupSignal) WaitForSignaled(localEpoch *uint64, timeout time.Duration, stop <-chan struct{}) Result {
	for {
		select {
		case <-stop:
			return StopRequested
		default:
		}
		if !g.start.Wait(timeout) {
			return Timeout
		}
		epoch := atomic.LoadUint64(&g.state.Epoch) // acquire
		if epoch > *localEpoch {
			*localEpoch = epoch
			return Signaled
		}
		// Spurious wake (another sandbox self-signaled while shutting
		// down): loop and wait again.
		select {
		case <-stop:
			return StopRequested
		default:
		}
	}
}

// NotifySandboxFinishedProcessing decrements the fan-in counter with
// release ordering; if this sandbox was the last one, it fires the done
// event (spec §4.5 step 4).
func (g *GroupSignal) NotifySandboxFinishedProcessing() {
	remaining := atomic.AddUint32(&g.state.SandboxesProcessing, ^uint32(0)) // -1
	if remaining == 0 {
		g.done.Set()
	}
}

// Epoch returns the current epoch with acquire ordering.
func (g *GroupSignal) Epoch() uint64 {
	return atomic.LoadUint64(&g.state.Epoch)
}

// SandboxesProcessing returns the live fan-in counter value.
func (g *GroupSignal) SandboxesProcessing() int32 {
	return int32(atomic.LoadUint32(&g.state.SandboxesProcessing))
}
