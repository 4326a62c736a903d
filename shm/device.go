package shm

import "unsafe"

// Fixed capacities from spec §4.1 and §8's boundary behaviors.
const (
	VectorSize   = 64  // samples per buffer
	ChannelCount = 2   // channels per port
	MaxPorts     = 16  // audio ports per device, each direction
	MaxEvents    = 128 // events per double-buffer side, per direction
	MaxParams    = 512 // parameter metadata entries
)

// Device capability flags (spec §4.1 control record).
const (
	FlagHasGUI    uint32 = 1 << 0
	FlagHasParams uint32 = 1 << 1
)

// FlagIsActive is the one atomic flag a device's audio worker toggles
// from the sandbox side independent of the client-set capability flags.
const FlagIsActive uint32 = 1 << 0

// RawEvent is the fixed-size, POD wire shape for one event slot inside
// an events ring (spec §4.1's "fixed-capacity vector of up to 128
// events"). Kind distinguishes note-on/off, CC, param-change, etc.; the
// concrete translation to/from a plugin-format-native event lives in
// package events and the (out-of-scope) plugin adapter.
type RawEvent struct {
	Kind    uint32
	Port    uint32
	Channel uint32
	Key     uint32
	Value   float64
	Time    uint32
	_       uint32 // pad to 8-byte alignment
}

// eventSide is one side of a double-buffered event ring: a count
// followed by a fixed array of events. Surplus events past MaxEvents
// are dropped; events already present are preserved (spec §8).
type eventSide struct {
	Count uint32
	_     uint32
	Slots [MaxEvents]RawEvent
}

// audioPort is one port's double-buffered sample storage, addressed
// [side][channel*VectorSize+sample] per spec §4.1.
type audioPort struct {
	Sides [2][ChannelCount * VectorSize]float32
}

// ParamEntry is one row of the parameter metadata table (spec §3's
// "parameter metadata shared segments").
type ParamEntry struct {
	ExternalID   uint32
	Flags        uint32
	MinValue     float32
	MaxValue     float32
	DefaultValue float32
	_            float32
	Name         [64]byte
}

// DeviceLayout is the device control/param/event/audio block of spec
// §4.1. ParamGeneration increments every time the parameter table is
// rewritten wholesale (spec §3's "replaced atomically... when a plugin
// rescans its parameters").
type DeviceLayout struct {
	Flags           uint32
	AtomicFlags     uint32
	ParamGeneration uint32
	ParamCount      uint32

	EventsIn  [2]eventSide
	EventsOut [2]eventSide

	AudioIn  [MaxPorts]audioPort
	AudioOut [MaxPorts]audioPort

	Params [MaxParams]ParamEntry
}

// DeviceLayoutSize is the fixed, known-at-creation footprint of a device
// segment (spec §4.1's "bounded and known at creation").
const DeviceLayoutSize = int(unsafe.Sizeof(DeviceLayout{}))

// DeviceRecord is a device segment opened/created by name.
type DeviceRecord struct {
	seg    *Segment
	Layout *DeviceLayout
}

// DeviceUID normalizes a plugin identifier into the uid component of a
// device segment's name (spec §6), so a peer sandbox opening a device
// it doesn't host (shm.OpenDevice, for a cross-sandbox connection) can
// reconstruct the exact same name from the plugin id alone.
func DeviceUID(pluginID string) string {
	if pluginID == "" {
		return "plugin"
	}
	return pluginID
}

// CreateDevice creates a new device segment named
// "<instance>+sbox+<sboxID>+dev+<id>+<uid>" (spec §6).
func CreateDevice(instance string, sboxID, id int64, uid string) (*DeviceRecord, error) {
	return openDevice(NameWithSuffix(Name(instance, "sbox", sboxID), "dev", id, uid), true)
}

// OpenDevice opens an existing device segment by the same name.
func OpenDevice(instance string, sboxID, id int64, uid string) (*DeviceRecord, error) {
	return openDevice(NameWithSuffix(Name(instance, "sbox", sboxID), "dev", id, uid), false)
}

func openDevice(name string, create bool) (*DeviceRecord, error) {
	seg, err := New(name, DeviceLayoutSize, create, true)
	if err != nil {
		return nil, err
	}
	return &DeviceRecord{
		seg:    seg,
		Layout: (*DeviceLayout)(unsafe.Pointer(&seg.Bytes()[0])),
	}, nil
}

// Close drops this process's handle (see Segment.Close).
func (d *DeviceRecord) Close() { d.seg.Close() }

// ID returns the segment's name.
func (d *DeviceRecord) ID() string { return d.seg.ID() }
