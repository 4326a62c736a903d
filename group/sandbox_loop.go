package group

import (
	"github.com/shaban/scuffgo/events"
	"github.com/shaban/scuffgo/ids"
	"github.com/shaban/scuffgo/shm"
	"github.com/shaban/scuffgo/signaling"
)

// Adapter is the minimal per-device hook SandboxLoop needs from a
// plugin-format host adapter: run one process block reading events_in
// and audio input at side, writing events_out and audio output at the
// opposite side. The concrete CLAP/VST3 adapter is out of scope (spec
// §1, §9); SandboxLoop only needs this much of its surface.
type Adapter interface {
	Process(side int, rec *shm.DeviceRecord) error
}

// ManagedDevice pairs an opened device segment with the adapter
// instance hosting it and its outgoing intra-sandbox connections.
type ManagedDevice struct {
	ID      ids.Device
	Rec     *shm.DeviceRecord
	Adapter Adapter
	// Outputs lists (my port -> peer device/port) this device feeds,
	// used for intra-sandbox routing (spec §4.5 step 3).
	Outputs []Route
	// RemoteInputs lists inputs fed by a device hosted in a different
	// sandbox of the same group (spec §4.5's cross-sandbox connections
	// paragraph): since both sandboxes see the same group segment and
	// the peer's device segment by name, Peer is this sandbox's own
	// opened handle onto that remote device's segment, and RunOnce
	// copies from it every buffer instead of aliasing it.
	RemoteInputs []RemoteRoute
	// DrainMainThreadEvents, if set, is polled once per buffer for
	// events queued from the sandbox's main/dispatch thread (e.g. a
	// GUI-driven parameter change) that must reach events_in[B] before
	// the adapter runs (spec §4.5 step 3).
	DrainMainThreadEvents func() []events.Event
}

// Route is one outgoing audio connection from a device's output port
// to a peer device's input port.
type Route struct {
	FromPort int
	To       ids.Device
	ToPort   int
}

// RemoteRoute is one incoming audio connection fed by a device hosted
// in a different sandbox process. Peer is opened read-only by this
// sandbox (shm.OpenDevice) against the writer's device segment name.
type RemoteRoute struct {
	FromPort int
	Peer     *shm.DeviceRecord
	ToPort   int
}

// SandboxLoop runs the mirrored four-step worker loop of spec §4.5 on
// a sandbox's dedicated audio-processing goroutine.
type SandboxLoop struct {
	signal     *signaling.GroupSignal
	localEpoch uint64

	devices map[ids.Device]*ManagedDevice
	order   []ids.Device // topologically sorted, recomputed by SetTopology
}

// NewSandboxLoop binds a loop to one group's signal.
func NewSandboxLoop(signal *signaling.GroupSignal) *SandboxLoop {
	return &SandboxLoop{signal: signal, devices: map[ids.Device]*ManagedDevice{}}
}

// SetTopology installs the current device set and their intra-sandbox
// connection graph, recomputing the processing order (spec §4.5 step
// 2). Called from the main/dispatch thread whenever topology changes;
// the audio worker only reads l.order between buffers.
func (l *SandboxLoop) SetTopology(devices []*ManagedDevice) {
	l.devices = make(map[ids.Device]*ManagedDevice, len(devices))
	devIDs := make([]ids.Device, 0, len(devices))
	var edges []Edge
	for _, d := range devices {
		l.devices[d.ID] = d
		devIDs = append(devIDs, d.ID)
		for _, r := range d.Outputs {
			edges = append(edges, Edge{From: d.ID, To: r.To})
		}
	}
	l.order = TopoSort(devIDs, edges)
}

// RunOnce executes one buffer of the mirrored worker loop. stop lets
// the caller request shutdown between buffers (spec §4.2's
// stop-requested result); it returns false once StopRequested is
// observed so the caller's for-loop can exit.
func (l *SandboxLoop) RunOnce(stop <-chan struct{}) (bool, error) {
	// Step 1: consume the start event, handling spurious wakes and stop
	// requests (epoch-skew recovery is implicit: WaitForSignaled always
	// reports the *current* epoch, so a sandbox waking late after
	// multiple missed epochs simply processes the current buffer and
	// silently discards the ones it missed).
	switch l.signal.WaitForSignaled(&l.localEpoch, signaling.MaxWait, stop) {
	case signaling.StopRequested:
		return false, nil
	case signaling.Timeout:
		return true, nil
	}

	// WaitForSignaled left localEpoch at the epoch the client signalled,
	// one past the epoch the client used to pick its sides for this
	// buffer; step back to it so both processes agree on B and F.
	epoch := l.localEpoch - 1
	backside := int(epoch & 1)
	frontside := int((epoch + 1) & 1)

	// Step 3: process devices in topological order.
	for _, id := range l.order {
		d, ok := l.devices[id]
		if !ok {
			continue
		}
		d.Rec.ResetEventsOut(frontside)
		if d.DrainMainThreadEvents != nil {
			for _, e := range d.DrainMainThreadEvents() {
				d.Rec.PushEventIn(backside, e.ToRaw())
			}
		}
		// Cross-sandbox inputs: the writer-side sandbox may run its own
		// step before or after this one (ordering across sandboxes is
		// not guaranteed within a single buffer), so this reads the peer's
		// backside, which holds its output from the previous round
		// whether or not the peer has run yet this round: one buffer of
		// additional latency.
		for _, rr := range d.RemoteInputs {
			for ch := 0; ch < shm.ChannelCount; ch++ {
				src := rr.Peer.ReadAudioOut(rr.FromPort, backside, ch)
				d.Rec.WriteAudioIn(rr.ToPort, backside, ch, src)
			}
		}
		if err := d.Adapter.Process(backside, d.Rec); err != nil {
			l.signal.NotifySandboxFinishedProcessing()
			return true, err
		}
		for _, r := range d.Outputs {
			peer, ok := l.devices[r.To]
			if !ok {
				continue
			}
			for ch := 0; ch < shm.ChannelCount; ch++ {
				src := d.Rec.ReadAudioOut(r.FromPort, frontside, ch)
				peer.Rec.WriteAudioIn(r.ToPort, backside, ch, src)
			}
		}
	}

	// Step 4: fan in.
	l.signal.NotifySandboxFinishedProcessing()
	return true, nil
}
