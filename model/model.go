// Package model holds the persistent, copy-on-write system topology
// (spec §4.6): groups, sandboxes, devices and the connections between
// them. Every mutation produces a new Snapshot rather than editing one
// in place, so a Snapshot already handed to the audio thread via
// Publisher.Load is safe to read for as long as the caller holds onto
// it, with no locking on the read path.
package model

import "github.com/shaban/scuffgo/ids"

// Group mirrors original_source's scuff::group: the set of sandboxes
// sharing one realtime epoch. The cross-sandbox audio connections
// themselves live in Snapshot.Connections (and Device.Outputs), not
// here — a group is just the membership scope Connect/Disconnect
// validate against (both endpoints' sandboxes must share a group).
type Group struct {
	ID         ids.Group
	Sandboxes  []ids.Sandbox
	RenderMode RenderMode
	Flags      GroupFlags
}

// RenderMode distinguishes a group's processing mode (spec §4.7's
// set_render_mode). original_source/client/include/scuff/client.hpp
// declares the operation but its render_mode.hpp enum isn't part of
// the filtered source tree, so this names only the realtime/offline
// split spec.md §1's framing requires.
type RenderMode int

const (
	RenderRealtime RenderMode = iota
	RenderOffline
)

// GroupFlags tracks lifecycle bits for a Group, mirroring SandboxFlags.
type GroupFlags uint32

const GroupActive GroupFlags = 1 << 0

// SandboxFlags tracks lifecycle bits for a Sandbox (mirrors
// original_source's sbox_flags).
type SandboxFlags uint32

const SandboxRunning SandboxFlags = 1 << 0

// Sandbox is a child process hosting zero or more Devices.
type Sandbox struct {
	ID      ids.Sandbox
	Group   ids.Group
	Error   string
	Devices []ids.Device
	Flags   SandboxFlags
}

// PluginType distinguishes the plugin formats spec §1 names.
type PluginType int

const (
	PluginUnknown PluginType = iota
	PluginCLAP
	PluginVST3
)

func (t PluginType) String() string {
	switch t {
	case PluginCLAP:
		return "clap"
	case PluginVST3:
		return "vst3"
	default:
		return "unknown"
	}
}

// PluginTypeFromString maps the scanner/wire string form of a plugin
// type onto the model's own enum, so callers outside this package don't
// need to hardcode "clap"/"vst3" themselves.
func PluginTypeFromString(s string) PluginType {
	switch s {
	case "clap":
		return PluginCLAP
	case "vst3":
		return PluginVST3
	default:
		return PluginUnknown
	}
}

// Device is one plugin instance hosted inside a Sandbox.
type Device struct {
	ID         ids.Device
	Plugin     ids.Plugin
	Sandbox    ids.Sandbox
	Type       PluginType
	ExternalID string
	Error      string
	Name       string
	Loaded     bool // mirrors device-state.hpp's "awaiting" flag inverted
	// Outputs is this device's output connections list (spec §3:
	// "this-port, peer-device, peer-port"), kept in sync with
	// Snapshot.Connections by AddConnection/RemoveConnection.
	Outputs []Connection
}

// Connection is one directed audio edge (out_device, out_port) ->
// (in_device, in_port), spec §3/§4.5. The edge may cross a sandbox
// boundary; both endpoints' owning sandboxes must share a group.
type Connection struct {
	OutDevice ids.Device
	OutPort   int
	InDevice  ids.Device
	InPort    int
}

// Plugfile is a single scanned plugin binary/bundle, which may host
// more than one Plugin (e.g. a CLAP file with several factory entries).
type Plugfile struct {
	ID    ids.Plugfile
	Error string
	Path  string
}

// Plugin is one pluggable unit discovered inside a Plugfile.
type Plugin struct {
	ID         ids.Plugin
	Plugfile   ids.Plugfile
	ExternalID string
	Error      string
	Name       string
	Vendor     string
	Version    string
}

// Snapshot is the whole topology at one instant, addressed only by
// ids values so it never embeds pointers into shared memory directly;
// owners look up the live shm records (in shm.GroupRecord etc.) by ID
// when they need them.
type Snapshot struct {
	Groups      map[ids.Group]Group
	Sandboxes   map[ids.Sandbox]Sandbox
	Devices     map[ids.Device]Device
	Plugfiles   map[ids.Plugfile]Plugfile
	Plugins     map[ids.Plugin]Plugin
	Connections map[Connection]struct{}
}

// Empty returns a Snapshot with all maps allocated but empty, the
// starting point for a fresh Publisher.
func Empty() *Snapshot {
	return &Snapshot{
		Groups:      map[ids.Group]Group{},
		Sandboxes:   map[ids.Sandbox]Sandbox{},
		Devices:     map[ids.Device]Device{},
		Plugfiles:   map[ids.Plugfile]Plugfile{},
		Plugins:     map[ids.Plugin]Plugin{},
		Connections: map[Connection]struct{}{},
	}
}

// clone makes a shallow copy of s whose top-level maps are distinct,
// so a mutator can edit the clone without disturbing any Snapshot
// already published. Entry values (Group, Sandbox, ...) are plain
// structs copied by value on map assignment, so editing one entry
// inside the clone never touches the original's entry.
func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{
		Groups:      make(map[ids.Group]Group, len(s.Groups)),
		Sandboxes:   make(map[ids.Sandbox]Sandbox, len(s.Sandboxes)),
		Devices:     make(map[ids.Device]Device, len(s.Devices)),
		Plugfiles:   make(map[ids.Plugfile]Plugfile, len(s.Plugfiles)),
		Plugins:     make(map[ids.Plugin]Plugin, len(s.Plugins)),
		Connections: make(map[Connection]struct{}, len(s.Connections)),
	}
	for k, v := range s.Groups {
		out.Groups[k] = v
	}
	for k, v := range s.Sandboxes {
		out.Sandboxes[k] = v
	}
	for k, v := range s.Devices {
		out.Devices[k] = v
	}
	for k, v := range s.Plugfiles {
		out.Plugfiles[k] = v
	}
	for k, v := range s.Plugins {
		out.Plugins[k] = v
	}
	for k := range s.Connections {
		out.Connections[k] = struct{}{}
	}
	return out
}

// The following free functions are the copy-on-write edits applied
// under Publisher.Modify, ported from original_source/client/src/data.hpp's
// free functions of the same name.

func AddDeviceToSandbox(s *Snapshot, sbox ids.Sandbox, dev ids.Device, typ PluginType, externalID string) *Snapshot {
	out := s.clone()
	sb := out.Sandboxes[sbox]
	sb.Devices = append(append([]ids.Device{}, sb.Devices...), dev)
	out.Sandboxes[sbox] = sb
	out.Devices[dev] = Device{ID: dev, Sandbox: sbox, Type: typ, ExternalID: externalID}
	return out
}

// SetDeviceLoaded marks a device as having finished instantiating inside
// its sandbox, flipping device-state.hpp's "awaiting" flag off.
func SetDeviceLoaded(s *Snapshot, id ids.Device) *Snapshot {
	out := s.clone()
	dev := out.Devices[id]
	dev.Loaded = true
	out.Devices[id] = dev
	return out
}

func AddSandboxToGroup(s *Snapshot, group ids.Group, sbox ids.Sandbox) *Snapshot {
	out := s.clone()
	g := out.Groups[group]
	g.Sandboxes = append(append([]ids.Sandbox{}, g.Sandboxes...), sbox)
	out.Groups[group] = g
	return out
}

func RemoveDeviceFromSandbox(s *Snapshot, sbox ids.Sandbox, dev ids.Device) *Snapshot {
	out := s.clone()
	sb := out.Sandboxes[sbox]
	sb.Devices = removeDevice(sb.Devices, dev)
	out.Sandboxes[sbox] = sb
	return out
}

// AddConnection records a directed audio edge, updating both the
// top-level Connections set and the source device's own Outputs list.
func AddConnection(s *Snapshot, c Connection) *Snapshot {
	out := s.clone()
	out.Connections[c] = struct{}{}
	dev := out.Devices[c.OutDevice]
	dev.Outputs = append(append([]Connection{}, dev.Outputs...), c)
	out.Devices[c.OutDevice] = dev
	return out
}

// RemoveConnection drops one edge, mirroring AddConnection.
func RemoveConnection(s *Snapshot, c Connection) *Snapshot {
	out := s.clone()
	delete(out.Connections, c)
	dev := out.Devices[c.OutDevice]
	dev.Outputs = removeConnection(dev.Outputs, c)
	out.Devices[c.OutDevice] = dev
	return out
}

// RemoveConnectionsForDevice drops every connection touching id on
// either end, called when a device is erased so no dangling edge
// survives it (spec §3 invariant: "both endpoints must exist").
func RemoveConnectionsForDevice(s *Snapshot, id ids.Device) *Snapshot {
	out := s.clone()
	for c := range out.Connections {
		if c.OutDevice == id || c.InDevice == id {
			delete(out.Connections, c)
		}
	}
	for devID, dev := range out.Devices {
		if devID == id || len(dev.Outputs) == 0 {
			continue
		}
		filtered := make([]Connection, 0, len(dev.Outputs))
		changed := false
		for _, c := range dev.Outputs {
			if c.OutDevice == id || c.InDevice == id {
				changed = true
				continue
			}
			filtered = append(filtered, c)
		}
		if changed {
			dev.Outputs = append([]Connection{}, filtered...)
			out.Devices[devID] = dev
		}
	}
	return out
}

func RemoveSandboxFromGroup(s *Snapshot, group ids.Group, sbox ids.Sandbox) *Snapshot {
	out := s.clone()
	g := out.Groups[group]
	g.Sandboxes = removeSandbox(g.Sandboxes, sbox)
	out.Groups[group] = g
	return out
}

func SetDeviceError(s *Snapshot, id ids.Device, errMsg string) *Snapshot {
	out := s.clone()
	dev := out.Devices[id]
	dev.Error = errMsg
	out.Devices[id] = dev
	return out
}

// SetDeviceName sets a device's display name (spec §4.7's get/set name).
func SetDeviceName(s *Snapshot, id ids.Device, name string) *Snapshot {
	out := s.clone()
	dev := out.Devices[id]
	dev.Name = name
	out.Devices[id] = dev
	return out
}

// SetGroupRenderMode changes a group's processing mode (spec §4.7).
func SetGroupRenderMode(s *Snapshot, id ids.Group, mode RenderMode) *Snapshot {
	out := s.clone()
	g := out.Groups[id]
	g.RenderMode = mode
	out.Groups[id] = g
	return out
}

// SetGroupActive flips a group's active flag (spec §4.7's
// activate/deactivate). Only the model records the flag: the client's
// Processor and the sandboxes' worker loops run the same way whether or
// not it is set.
func SetGroupActive(s *Snapshot, id ids.Group, active bool) *Snapshot {
	out := s.clone()
	g := out.Groups[id]
	if active {
		g.Flags |= GroupActive
	} else {
		g.Flags &^= GroupActive
	}
	out.Groups[id] = g
	return out
}

// EraseGroup drops a group entirely. Callers must have already erased
// every sandbox it owns (spec §3: "erased only when no sandbox
// references it").
func EraseGroup(s *Snapshot, id ids.Group) *Snapshot {
	out := s.clone()
	delete(out.Groups, id)
	return out
}

// EraseSandbox drops a sandbox, every device it hosts, and any
// connection touching one of those devices (spec §3: "when a sandbox
// is erased, its devices are erased with it").
func EraseSandbox(s *Snapshot, group ids.Group, sbox ids.Sandbox) *Snapshot {
	out := s.clone()
	g := out.Groups[group]
	g.Sandboxes = removeSandbox(g.Sandboxes, sbox)
	out.Groups[group] = g

	sb := out.Sandboxes[sbox]
	devs := append([]ids.Device{}, sb.Devices...)
	delete(out.Sandboxes, sbox)
	for _, did := range devs {
		delete(out.Devices, did)
	}
	for c := range out.Connections {
		if _, ok := out.Devices[c.OutDevice]; ok {
			if _, ok := out.Devices[c.InDevice]; ok {
				continue
			}
		}
		delete(out.Connections, c)
	}
	for devID, dev := range out.Devices {
		if len(dev.Outputs) == 0 {
			continue
		}
		filtered := make([]Connection, 0, len(dev.Outputs))
		changed := false
		for _, c := range dev.Outputs {
			if _, ok := out.Devices[c.InDevice]; !ok {
				changed = true
				continue
			}
			filtered = append(filtered, c)
		}
		if changed {
			dev.Outputs = append([]Connection{}, filtered...)
			out.Devices[devID] = dev
		}
	}
	return out
}

func removeDevice(list []ids.Device, target ids.Device) []ids.Device {
	out := make([]ids.Device, 0, len(list))
	for _, d := range list {
		if d != target {
			out = append(out, d)
		}
	}
	return out
}

func removeSandbox(list []ids.Sandbox, target ids.Sandbox) []ids.Sandbox {
	out := make([]ids.Sandbox, 0, len(list))
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func removeConnection(list []Connection, target Connection) []Connection {
	out := make([]Connection, 0, len(list))
	for _, c := range list {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}
