package sandbox

import (
	"github.com/shaban/scuffgo/group"
	"github.com/shaban/scuffgo/ids"
	"github.com/shaban/scuffgo/shm"
)

// adapterBridge makes a sandbox.Adapter satisfy group.Adapter by
// decoding a DeviceRecord's raw shared-memory buffers into
// DeviceBuffers/[]shm.RawEvent before the call, and encoding the
// result back after — the seam between the fixed-size shared-memory
// layout (package shm) and the plugin host's own buffer shape.
type adapterBridge struct {
	inner Adapter
	ports []int
}

func newAdapterBridge(inner Adapter, ports []int) *adapterBridge {
	return &adapterBridge{inner: inner, ports: ports}
}

func (b *adapterBridge) Process(side int, rec *shm.DeviceRecord) error {
	in := DeviceBuffers{Ports: make(map[int][shm.ChannelCount][]float32, len(b.ports))}
	for _, port := range b.ports {
		var chans [shm.ChannelCount][]float32
		for ch := 0; ch < shm.ChannelCount; ch++ {
			chans[ch] = rec.ReadAudioIn(port, side, ch)
		}
		in.Ports[port] = chans
	}
	inEvents := rec.EventsIn(side)

	out, outEvents, err := b.inner.Process(in, inEvents)
	if err != nil {
		return err
	}

	outSide := (side + 1) & 1
	for port, chans := range out.Ports {
		for ch := 0; ch < shm.ChannelCount; ch++ {
			rec.WriteAudioOut(port, outSide, ch, chans[ch])
		}
	}
	for _, e := range outEvents {
		rec.PushEventOut(outSide, e)
	}
	return nil
}

// NewManagedDevice wraps a device segment and its Adapter into a
// group.ManagedDevice ready for group.SandboxLoop.SetTopology, filling
// in the bridging Adapter that speaks the shm.DeviceRecord surface.
func NewManagedDevice(id ids.Device, rec *shm.DeviceRecord, adapter Adapter, ports []int, outputs []group.Route, remoteInputs []group.RemoteRoute) *group.ManagedDevice {
	return &group.ManagedDevice{
		ID:           id,
		Rec:          rec,
		Adapter:      newAdapterBridge(adapter, ports),
		Outputs:      outputs,
		RemoteInputs: remoteInputs,
	}
}
