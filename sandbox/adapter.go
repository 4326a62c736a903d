// Package sandbox implements the child process of spec §4.8: it opens
// its group and sandbox shared segments, runs the message dispatch loop
// over SandboxRecord's rings, and drives group.SandboxLoop on a
// dedicated audio-processing goroutine, with a heartbeat watchdog that
// self-terminates a sandbox whose client has gone silent.
package sandbox

import (
	"fmt"

	"github.com/shaban/scuffgo/plugins"
	"github.com/shaban/scuffgo/shm"
)

// DeviceBuffers is the decoded, per-port view of one device's audio for
// a single buffer — what an Adapter actually reads and writes, as
// opposed to the raw fixed-size shared-memory layout group.Adapter's
// lower-level Process works over.
type DeviceBuffers struct {
	Ports map[int][shm.ChannelCount][]float32
}

// Adapter is the out-of-scope "host side" boundary spec.md §1 and §9
// describe: the real CLAP/VST3 plugin host callback surface. Sandbox
// ships only NullAdapter; a concrete host library adapter is wired in
// by whatever build actually loads plugins.
type Adapter interface {
	Process(in DeviceBuffers, events []shm.RawEvent) (out DeviceBuffers, outEvents []shm.RawEvent, err error)
	LoadState(blob []byte) error
	SaveState() ([]byte, error)
	ParamCount() int
	Format() plugins.Type
	// ValueText formats a parameter's value the way the plugin's own UI
	// would display it (spec §4.7's GetParamValueText).
	ValueText(paramID uint32, value float64) string
	// HasGUI reports whether the plugin exposes an editor window
	// (spec §4.7's has_gui).
	HasGUI() bool
}

// NullAdapter is the always-silent passthrough: it never produces audio
// or events and reports no parameters, standing in for a device whose
// real plugin failed to load (spec §4.8's device_error path).
type NullAdapter struct{}

func (NullAdapter) Process(in DeviceBuffers, events []shm.RawEvent) (DeviceBuffers, []shm.RawEvent, error) {
	out := DeviceBuffers{Ports: make(map[int][shm.ChannelCount][]float32, len(in.Ports))}
	for port, chans := range in.Ports {
		var silence [shm.ChannelCount][]float32
		for ch := range chans {
			silence[ch] = make([]float32, len(chans[ch]))
		}
		out.Ports[port] = silence
	}
	return out, nil, nil
}

func (NullAdapter) LoadState([]byte) error     { return nil }
func (NullAdapter) SaveState() ([]byte, error) { return nil, nil }
func (NullAdapter) ParamCount() int            { return 0 }
func (NullAdapter) Format() plugins.Type       { return plugins.Unknown }
func (NullAdapter) ValueText(paramID uint32, value float64) string {
	return fmt.Sprintf("%g", value)
}
func (NullAdapter) HasGUI() bool { return false }
