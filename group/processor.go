package group

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shaban/scuffgo/events"
	"github.com/shaban/scuffgo/ids"
	"github.com/shaban/scuffgo/model"
	"github.com/shaban/scuffgo/shm"
	"github.com/shaban/scuffgo/signaling"
)

// DeviceResult is one device's output audio and events for a buffer.
type DeviceResult struct {
	Device ids.Device
	Ports  map[int]PortAudio
	Events []events.Event
}

// Processor is the client-side realtime core of spec §4.5: its
// AudioProcess method is meant to be called once per host audio
// buffer, from the host's own realtime thread. The sample and event
// storage it reads into is pre-sized per device at RegisterDevice time
// (package shm's fixed-capacity layout bounds it) and reused in place
// every buffer, so AudioProcess's own read/write/wait steps allocate no
// sample or event data (spec §5's "no heap allocation" for the audio
// thread). AudioProcess does still allocate its small, bounded
// result-slice header to hand results back to the caller; that slice's
// backing array is reused across calls the same way the per-device
// scratch is. It takes no locks beyond a read-lock over the registered-
// device table and never blocks longer than its configured spin-wait
// budget.
type Processor struct {
	publisher *model.Publisher
	groupID   ids.Group
	signal    *signaling.GroupSignal

	mu      sync.RWMutex
	devices map[ids.Device]*shm.DeviceRecord
	scratch map[ids.Device]*deviceScratch

	results []DeviceResult

	timeoutCount atomic.Int64
}

// TimeoutCount reports how many buffers degraded to silence because
// the sandboxes did not finish within the spin-wait budget (testable
// property 6 of spec §8).
func (p *Processor) TimeoutCount() int64 { return p.timeoutCount.Load() }

// NewProcessor builds a Processor bound to one group's shared segment.
func NewProcessor(publisher *model.Publisher, groupID ids.Group, groupRec *shm.GroupRecord) *Processor {
	return &Processor{
		publisher: publisher,
		groupID:   groupID,
		signal:    groupRec.Signal,
		devices:   map[ids.Device]*shm.DeviceRecord{},
		scratch:   map[ids.Device]*deviceScratch{},
	}
}

// RegisterDevice makes a device's opened shared segment available to
// AudioProcess, allocating its fixed-size read scratch up front. The
// client opens device segments (package shm) outside the realtime path
// and registers them here once.
func (p *Processor) RegisterDevice(id ids.Device, rec *shm.DeviceRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices[id] = rec
	p.scratch[id] = newDeviceScratch()
}

// UnregisterDevice drops a device opened via RegisterDevice.
func (p *Processor) UnregisterDevice(id ids.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.devices, id)
	delete(p.scratch, id)
}

// AudioProcess implements spec §4.5's five-step client sequence
// exactly. requestedOutputs names which (device, ports) the caller
// wants read back; devices/ports not named are still processed (they
// may feed cross-sandbox connections) but not copied out.
func (p *Processor) AudioProcess(
	inputs []DeviceAudio,
	inputEvents []DeviceEvents,
	requestedOutputs map[ids.Device][]int,
) ([]DeviceResult, error) {
	// Step 1: snapshot the published model, lock-free.
	snap := p.publisher.Load()
	g, ok := snap.Groups[p.groupID]
	if !ok {
		return nil, fmt.Errorf("group: unknown group %d", p.groupID)
	}

	epoch := p.signal.Epoch()
	backside := int(epoch & 1)
	frontside := int((epoch + 1) & 1)

	// Step 2: write inputs to the backside.
	p.mu.RLock()
	for _, in := range inputs {
		if rec, ok := p.devices[in.Device]; ok {
			writeAudioIn(rec, backside, in)
		}
	}
	for _, de := range inputEvents {
		if rec, ok := p.devices[de.Device]; ok {
			writeEventsIn(rec, backside, de)
		}
	}
	p.mu.RUnlock()

	// Step 3: initialize fan-in, publish the new epoch, signal start.
	p.signal.SignalSandboxProcessing(epoch+1, int32(len(g.Sandboxes)))

	// Step 4: wait for completion, degrading to silence on timeout.
	timedOut := !p.signal.WaitForAllSandboxesDone(signaling.MaxWait)
	if timedOut {
		p.timeoutCount.Add(1)
	}

	// Step 5: read outputs from the frontside (or emit silence).
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.results = p.results[:0]
	for dev, ports := range requestedOutputs {
		rec, ok := p.devices[dev]
		if !ok {
			continue
		}
		sc := p.scratch[dev]
		var portAudio map[int]PortAudio
		var evs []events.Event
		if timedOut {
			portAudio = silencePorts(ports, sc)
		} else {
			portAudio = readAudioOut(rec, frontside, ports, sc)
			evs = readEventsOut(rec, frontside, sc)
		}
		p.results = append(p.results, DeviceResult{Device: dev, Ports: portAudio, Events: evs})
	}
	return p.results, nil
}
