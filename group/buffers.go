package group

import (
	"github.com/shaban/scuffgo/events"
	"github.com/shaban/scuffgo/ids"
	"github.com/shaban/scuffgo/shm"
)

// PortAudio always holds exactly shm.ChannelCount channels of
// shm.VectorSize samples, matching the fixed layout of shm.DeviceLayout
// (spec §4.1: ports are never variable-channel).
type PortAudio [shm.ChannelCount][]float32

// DeviceAudio is the audio half of one device's traffic for a single
// buffer, keyed by port index.
type DeviceAudio struct {
	Device ids.Device
	Ports  map[int]PortAudio
}

// DeviceEvents is the event half of one device's traffic.
type DeviceEvents struct {
	Device ids.Device
	Events []events.Event
}

func writeAudioIn(rec *shm.DeviceRecord, side int, in DeviceAudio) {
	for port, pa := range in.Ports {
		for ch := 0; ch < shm.ChannelCount; ch++ {
			rec.WriteAudioIn(port, side, ch, pa[ch])
		}
	}
}

func writeEventsIn(rec *shm.DeviceRecord, side int, de DeviceEvents) {
	rec.ResetEventsIn(side)
	for _, e := range de.Events {
		rec.PushEventIn(side, e.ToRaw())
	}
}

// zeroSamples is a shared, never-mutated all-zero buffer silencePorts
// hands out instead of allocating fresh zeroed slices on timeout.
var zeroSamples = make([]float32, shm.VectorSize)

// deviceScratch holds every buffer AudioProcess's steady-state read
// path writes into for one registered device: the per-port sample
// storage copied out of shared memory each buffer, a reused view map
// sized to the requested ports, and a reused raw/decoded event scratch.
// Allocated once in Processor.RegisterDevice (a non-realtime call) and
// reused for the life of the registration, so the realtime audio
// thread's AudioProcess call itself never allocates (spec §5).
type deviceScratch struct {
	samples map[int]PortAudio // fixed per-port-index backing sample storage
	view    map[int]PortAudio // this buffer's result, re-keyed in place each call
	rawOut  []shm.RawEvent    // capacity shm.MaxEvents
	events  []events.Event    // capacity shm.MaxEvents
}

func newDeviceScratch() *deviceScratch {
	samples := make(map[int]PortAudio, shm.MaxPorts)
	for port := 0; port < shm.MaxPorts; port++ {
		var pa PortAudio
		for ch := 0; ch < shm.ChannelCount; ch++ {
			pa[ch] = make([]float32, shm.VectorSize)
		}
		samples[port] = pa
	}
	return &deviceScratch{
		samples: samples,
		view:    make(map[int]PortAudio, shm.MaxPorts),
		rawOut:  make([]shm.RawEvent, shm.MaxEvents),
		events:  make([]events.Event, 0, shm.MaxEvents),
	}
}

// readAudioOut copies every requested port (by index) out of the
// layout's output side into sc's pre-sized per-port storage, returning
// sc.view re-keyed to exactly the requested ports. The returned map is
// only valid until the next call using the same scratch.
func readAudioOut(rec *shm.DeviceRecord, side int, ports []int, sc *deviceScratch) map[int]PortAudio {
	clear(sc.view)
	for _, port := range ports {
		pa := sc.samples[port]
		for ch := 0; ch < shm.ChannelCount; ch++ {
			copy(pa[ch], rec.ReadAudioOut(port, side, ch))
		}
		sc.view[port] = pa
	}
	return sc.view
}

// silencePorts re-keys sc.view to the requested ports, all pointing at
// the shared zeroSamples buffer, used when a buffer times out and the
// processor must emit silence instead of reading (possibly stale)
// plugin output (spec §4.5 step 4).
func silencePorts(ports []int, sc *deviceScratch) map[int]PortAudio {
	clear(sc.view)
	for _, port := range ports {
		var pa PortAudio
		for ch := 0; ch < shm.ChannelCount; ch++ {
			pa[ch] = zeroSamples
		}
		sc.view[port] = pa
	}
	return sc.view
}

func readEventsOut(rec *shm.DeviceRecord, side int, sc *deviceScratch) []events.Event {
	raw := rec.PopEventsOut(side, sc.rawOut)
	sc.events = sc.events[:0]
	for _, r := range raw {
		sc.events = append(sc.events, events.FromRaw(r))
	}
	return sc.events
}
