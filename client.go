// Package scuffgo is the client control plane of spec §4.7: the
// process embedding this module creates groups, sandboxes, and devices,
// wires connections between them, and polls Reports for anything that
// happened asynchronously (a device finished loading, a sandbox
// crashed, a scan found a plugin). All topology-changing operations are
// serialized onto one goroutine via package queue, the same discipline
// dispatcher.go used to serialize engine graph mutations.
package scuffgo

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/shaban/scuffgo/ids"
	"github.com/shaban/scuffgo/model"
	"github.com/shaban/scuffgo/plugins"
	"github.com/shaban/scuffgo/queue"
	"github.com/shaban/scuffgo/scanner"
	"github.com/shaban/scuffgo/shm"
	"github.com/shaban/scuffgo/slotbuffer"
	"github.com/shaban/scuffgo/wire"
)

// replyTimeout bounds how long a synchronous-feeling call built on top of
// the async reply-token scheme (Duplicate's save-state round trip) waits
// for a sandbox to answer before giving up.
const replyTimeout = 5 * time.Second

// SandboxLauncher is the seam between the client and the OS process
// that actually runs cmd/sbox, injectable so tests can run an in-process
// fake instead of forking a real child (spec §8's test plan).
type SandboxLauncher interface {
	Launch(instance string, groupID, sboxID int64) (SandboxHandle, error)
}

// SandboxHandle is a running sandbox's control surface as seen by the
// client: a place to enqueue outgoing wire.Message values, a channel of
// inbound replies/notifications, and a channel that closes when the
// process has exited.
type SandboxHandle interface {
	Send(m wire.Message)
	Messages() <-chan wire.Message
	Done() <-chan struct{}
	Stop()
}

// ReportKind distinguishes the reporter events spec §4.7/§7 describe.
type ReportKind int

const (
	ReportDeviceCreated ReportKind = iota
	ReportDeviceError
	ReportSandboxCrashed
	ReportSandboxRestarted
	ReportPlugfileScanned
	ReportPluginScanned
	ReportPlugfileBroken
	ReportPluginBroken
	ReportScanStarted
	ReportScanComplete
	ReportDeviceLateCreate // spec §8 scenario 1: a failed device can now be retried
)

// Report is one item drained by Client.Poll.
type Report struct {
	Kind     ReportKind
	GroupID  ids.Group
	SandboxID ids.Sandbox
	DeviceID ids.Device
	Message  string
	Plugin   *plugins.Plugin
	Plugfile *plugins.Plugfile
}

// Client is the root handle applications hold: it owns the immutable
// model publisher, the serialized dispatch queue, the set of live
// sandboxes, and the two reporter queues spec §4.7 names (General and
// PerGroup collapse to one ordered slice here since Go callers can
// filter Poll's result by GroupID themselves).
type Client struct {
	Instance string

	publisher *model.Publisher
	dispatch  *queue.Queue
	launcher  SandboxLauncher

	counters struct {
		groups    ids.GroupCounter
		sandboxes ids.SandboxCounter
		devices   ids.DeviceCounter
		plugfiles ids.PlugfileCounter
		plugins   ids.PluginCounter
	}

	mu             sync.Mutex
	groups         map[ids.Group]*shm.GroupRecord
	sandboxes      map[ids.Sandbox]SandboxHandle
	pending        *slotbuffer.Growable[chan wire.Message]
	plugfileIDs    map[string]ids.Plugfile       // scanned path -> stable id across rescans
	pluginIDs      map[string]ids.Plugin         // scanned external id -> stable id across rescans
	deviceRecs     map[ids.Device]*shm.DeviceRecord // opened for introspection once a device finishes loading
	devicePluginID map[ids.Device]string            // plugin id a device was created with, for shm.DeviceUID

	scanMu   sync.Mutex
	scanning bool

	reportsMu sync.Mutex
	reports   []Report

	logger  *log.Logger
	onError ErrorHandler
}

// New creates a client for instance, using launcher to start sandbox
// child processes on demand. onError, if non-nil, is notified of
// client-level failures that don't correspond to a single device or
// sandbox (e.g. a launcher that can't start a process at all);
// DefaultErrorHandler is used when nil.
func New(instance string, launcher SandboxLauncher, onError ErrorHandler) *Client {
	if onError == nil {
		onError = DefaultErrorHandler{}
	}
	c := &Client{
		Instance:       instance,
		publisher:      model.NewPublisher(model.Empty()),
		dispatch:       queue.New(64),
		launcher:       launcher,
		groups:         map[ids.Group]*shm.GroupRecord{},
		sandboxes:      map[ids.Sandbox]SandboxHandle{},
		pending:        slotbuffer.NewGrowable[chan wire.Message](),
		plugfileIDs:    map[string]ids.Plugfile{},
		pluginIDs:      map[string]ids.Plugin{},
		deviceRecs:     map[ids.Device]*shm.DeviceRecord{},
		devicePluginID: map[ids.Device]string{},
		logger:         log.With("instance", instance),
		onError:        onError,
	}
	c.dispatch.Start()
	return c
}

// Close stops the dispatch queue and every live sandbox.
func (c *Client) Close() {
	c.mu.Lock()
	for _, h := range c.sandboxes {
		h.Stop()
	}
	for _, g := range c.groups {
		g.Close()
	}
	for _, rec := range c.deviceRecs {
		rec.Close()
	}
	c.mu.Unlock()
	c.dispatch.Close()
}

// Snapshot returns the current immutable model, safe to read from any
// thread including the audio thread's caller (spec §4.6).
func (c *Client) Snapshot() *model.Snapshot { return c.publisher.Load() }

// Poll drains every report queued since the last call.
func (c *Client) Poll() []Report {
	c.reportsMu.Lock()
	defer c.reportsMu.Unlock()
	out := c.reports
	c.reports = nil
	return out
}

func (c *Client) report(r Report) {
	c.reportsMu.Lock()
	c.reports = append(c.reports, r)
	c.reportsMu.Unlock()
}

// CreateGroup allocates a new processing group with the given number of
// sandboxes, synchronously serialized through the dispatch queue (spec
// §4.7).
func (c *Client) CreateGroup(sandboxCount int) (ids.Group, error) {
	gid := c.counters.groups.Next()
	err := c.dispatch.RunSync(func(ctx context.Context) error {
		groupRec, err := shm.CreateGroup(c.Instance, int64(gid))
		if err != nil {
			return fmt.Errorf("create group %d: %w", gid, err)
		}
		c.mu.Lock()
		c.groups[gid] = groupRec
		c.mu.Unlock()

		sboxIDs := make([]ids.Sandbox, 0, sandboxCount)
		for i := 0; i < sandboxCount; i++ {
			sboxIDs = append(sboxIDs, c.counters.sandboxes.Next())
		}
		c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
			next := cloneSnapshot(s)
			next.Groups[gid] = model.Group{ID: gid, Sandboxes: sboxIDs}
			for _, sid := range sboxIDs {
				next.Sandboxes[sid] = model.Sandbox{ID: sid, Group: gid}
			}
			return next
		})
		for _, sid := range sboxIDs {
			if err := c.startSandbox(gid, sid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ids.Invalid, err
	}
	return gid, nil
}

func (c *Client) startSandbox(gid ids.Group, sid ids.Sandbox) error {
	h, err := c.launcher.Launch(c.Instance, int64(gid), int64(sid))
	if err != nil {
		werr := fmt.Errorf("start sandbox %d: %w", sid, err)
		c.onError.HandleError(werr)
		return werr
	}
	c.mu.Lock()
	c.sandboxes[sid] = h
	c.mu.Unlock()
	go c.watchSandbox(gid, sid, h)
	return nil
}

// watchSandbox pumps inbound wire messages into the client (resolving
// async replies, surfacing device errors) until the sandbox's process
// exits, at which point it reports a crash and removes the handle
// (spec §4.8, §7's Fatal error kind propagating to the client).
func (c *Client) watchSandbox(gid ids.Group, sid ids.Sandbox, h SandboxHandle) {
	for {
		select {
		case m, ok := <-h.Messages():
			if !ok {
				continue
			}
			c.handleSandboxMessage(gid, sid, m)
		case <-h.Done():
			c.mu.Lock()
			delete(c.sandboxes, sid)
			c.mu.Unlock()
			c.report(Report{Kind: ReportSandboxCrashed, GroupID: gid, SandboxID: sid, Message: "sandbox process exited"})
			return
		}
	}
}

// handleSandboxMessage dispatches one inbound SandboxToClient message:
// tokened replies resolve a pending GetParamValue-style call, device-
// scoped errors update the model and surface a Report, and
// ReportFatalError marks the sandbox's devices errored and surfaces as
// a sandbox crash (the process exiting
// itself is reported separately by watchSandbox's Done case).
func (c *Client) handleSandboxMessage(gid ids.Group, sid ids.Sandbox, m wire.Message) {
	switch msg := m.(type) {
	case wire.ReturnDouble:
		c.resolveReply(msg.ReplyToken, msg)
	case wire.ReturnString:
		c.resolveReply(msg.ReplyToken, msg)
	case wire.ReturnBytes:
		c.resolveReply(msg.ReplyToken, msg)
	case wire.ReturnCreatedDevice:
		did := ids.Device(msg.DeviceID)
		if msg.Success {
			c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
				return model.SetDeviceLoaded(s, did)
			})
			c.mu.Lock()
			pluginID := c.devicePluginID[did]
			c.mu.Unlock()
			if rec, err := shm.OpenDevice(c.Instance, int64(sid), int64(did), shm.DeviceUID(pluginID)); err == nil {
				c.mu.Lock()
				c.deviceRecs[did] = rec
				c.mu.Unlock()
			}
			c.report(Report{Kind: ReportDeviceCreated, GroupID: gid, SandboxID: sid, DeviceID: did})
			return
		}
		c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
			return model.SetDeviceError(s, did, msg.ErrMessage)
		})
		c.report(Report{Kind: ReportDeviceError, GroupID: gid, SandboxID: sid, DeviceID: did, Message: msg.ErrMessage})
	case wire.DeviceError:
		did := ids.Device(msg.DeviceID)
		c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
			return model.SetDeviceError(s, did, msg.Message)
		})
		c.report(Report{Kind: ReportDeviceError, GroupID: gid, SandboxID: sid, DeviceID: did, Message: msg.Message})
	case wire.ReportFatalError:
		c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
			for _, did := range s.Sandboxes[sid].Devices {
				s = model.SetDeviceError(s, did, msg.Message)
			}
			return s
		})
		c.report(Report{Kind: ReportSandboxCrashed, GroupID: gid, SandboxID: sid, Message: msg.Message})
	case wire.HeartbeatAck:
		// liveness only; nothing to surface to the application.
	}
}

// RestartSandbox relaunches the process of a sandbox the model still
// holds (e.g. after a crash), under the same id and group. Only the
// process is relaunched: devices the model lists for sid are not
// re-created in it.
func (c *Client) RestartSandbox(sid ids.Sandbox) error {
	return c.dispatch.RunSync(func(ctx context.Context) error {
		snap := c.publisher.Load()
		sbox, ok := snap.Sandboxes[sid]
		if !ok {
			return fmt.Errorf("restart sandbox %d: not found", sid)
		}
		return c.startSandbox(sbox.Group, sid)
	})
}

// IsRunning reports whether sid currently has a live sandbox handle.
func (c *Client) IsRunning(sid ids.Sandbox) bool {
	c.mu.Lock()
	_, ok := c.sandboxes[sid]
	c.mu.Unlock()
	return ok
}

// EraseSandbox stops sid's process (if running) and drops it, every
// device it hosts, and any connection touching one of those devices
// from the model (spec §3/§4.7).
func (c *Client) EraseSandbox(sid ids.Sandbox) error {
	return c.dispatch.RunSync(func(ctx context.Context) error {
		snap := c.publisher.Load()
		sb, ok := snap.Sandboxes[sid]
		if !ok {
			return fmt.Errorf("erase sandbox %d: not found", sid)
		}
		return c.eraseSandboxInternal(sb.Group, sid)
	})
}

// eraseSandboxInternal does the actual teardown for both EraseSandbox and
// EraseGroup; the caller must already be running on the dispatch
// goroutine (via RunSync).
func (c *Client) eraseSandboxInternal(gid ids.Group, sid ids.Sandbox) error {
	c.mu.Lock()
	h, ok := c.sandboxes[sid]
	delete(c.sandboxes, sid)
	c.mu.Unlock()
	if ok {
		h.Stop()
	}

	snap := c.publisher.Load()
	sb := snap.Sandboxes[sid]
	c.mu.Lock()
	for _, did := range sb.Devices {
		if rec, ok := c.deviceRecs[did]; ok {
			rec.Close()
			delete(c.deviceRecs, did)
		}
		delete(c.devicePluginID, did)
	}
	c.mu.Unlock()

	c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
		return model.EraseSandbox(s, gid, sid)
	})
	return nil
}

// EraseGroup tears down every sandbox in gid and then the group itself
// (spec §3: "erased only when no sandbox references it").
func (c *Client) EraseGroup(gid ids.Group) error {
	return c.dispatch.RunSync(func(ctx context.Context) error {
		snap := c.publisher.Load()
		g, ok := snap.Groups[gid]
		if !ok {
			return fmt.Errorf("erase group %d: not found", gid)
		}
		for _, sid := range append([]ids.Sandbox{}, g.Sandboxes...) {
			if err := c.eraseSandboxInternal(gid, sid); err != nil {
				return err
			}
		}
		c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
			return model.EraseGroup(s, gid)
		})
		c.mu.Lock()
		if rec, ok := c.groups[gid]; ok {
			rec.Close()
			delete(c.groups, gid)
		}
		c.mu.Unlock()
		return nil
	})
}

// SetRenderMode changes a group's processing mode (spec §4.7).
func (c *Client) SetRenderMode(gid ids.Group, mode model.RenderMode) error {
	return c.dispatch.RunSync(func(ctx context.Context) error {
		c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
			return model.SetGroupRenderMode(s, gid, mode)
		})
		return nil
	})
}

// Activate/Deactivate flip a group's active flag (spec §4.7).
func (c *Client) Activate(gid ids.Group) error {
	return c.dispatch.RunSync(func(ctx context.Context) error {
		c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
			return model.SetGroupActive(s, gid, true)
		})
		return nil
	})
}

func (c *Client) Deactivate(gid ids.Group) error {
	return c.dispatch.RunSync(func(ctx context.Context) error {
		c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
			return model.SetGroupActive(s, gid, false)
		})
		return nil
	})
}

// CreateDevice asynchronously instantiates a plugin inside sbox,
// returning immediately; completion arrives via Poll as
// ReportDeviceCreated or ReportDeviceError (spec §4.7's async device
// creation).
func (c *Client) CreateDevice(sbox ids.Sandbox, pluginType plugins.Type, pluginID string) (ids.Device, error) {
	did := c.counters.devices.Next()
	err := c.dispatch.RunSync(func(ctx context.Context) error {
		c.mu.Lock()
		h, ok := c.sandboxes[sbox]
		c.mu.Unlock()
		if !ok {
			return fmt.Errorf("create device: sandbox %d not running", sbox)
		}
		c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
			return model.AddDeviceToSandbox(s, sbox, did, model.PluginTypeFromString(string(pluginType)), pluginID)
		})
		c.mu.Lock()
		c.devicePluginID[did] = pluginID
		c.mu.Unlock()
		h.Send(wire.CreateDevice{DeviceID: int64(did), PluginType: string(pluginType), PluginID: pluginID})
		return nil
	})
	if err != nil {
		return ids.Invalid, err
	}
	return did, nil
}

// EraseDevice drops a device from its sandbox and the model, scrubbing
// any connection that touched it (spec §3's "both endpoints must
// exist" invariant).
func (c *Client) EraseDevice(sbox ids.Sandbox, did ids.Device) error {
	return c.dispatch.RunSync(func(ctx context.Context) error {
		c.mu.Lock()
		h, ok := c.sandboxes[sbox]
		rec, hasRec := c.deviceRecs[did]
		delete(c.deviceRecs, did)
		delete(c.devicePluginID, did)
		c.mu.Unlock()
		if ok {
			h.Send(wire.EraseDevice{DeviceID: int64(did)})
		}
		if hasRec {
			rec.Close()
		}
		c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
			next := model.RemoveDeviceFromSandbox(s, sbox, did)
			return model.RemoveConnectionsForDevice(next, did)
		})
		return nil
	})
}

// Connect establishes one (out_device,out_port) -> (in_device,in_port)
// audio edge (spec §3/§4.7). Both devices' owning sandboxes must
// already share a group (spec §3 invariant); the wire message is sent
// to the writer's sandbox and, when it differs, also to the reader's
// sandbox so it can open the writer's device segment directly for the
// cross-sandbox mechanism spec §4.5 describes.
func (c *Client) Connect(outDevice ids.Device, outPort int, inDevice ids.Device, inPort int) error {
	return c.dispatch.RunSync(func(ctx context.Context) error {
		snap := c.publisher.Load()
		outDev, ok := snap.Devices[outDevice]
		if !ok {
			return fmt.Errorf("connect: out device %d not found", outDevice)
		}
		inDev, ok := snap.Devices[inDevice]
		if !ok {
			return fmt.Errorf("connect: in device %d not found", inDevice)
		}
		outSbox, ok := snap.Sandboxes[outDev.Sandbox]
		if !ok {
			return fmt.Errorf("connect: out sandbox %d not found", outDev.Sandbox)
		}
		inSbox, ok := snap.Sandboxes[inDev.Sandbox]
		if !ok {
			return fmt.Errorf("connect: in sandbox %d not found", inDev.Sandbox)
		}
		if outSbox.Group != inSbox.Group {
			return fmt.Errorf("connect: devices %d and %d are in different groups", outDevice, inDevice)
		}

		c.mu.Lock()
		outPluginID := c.devicePluginID[outDevice]
		outH, outOK := c.sandboxes[outDev.Sandbox]
		inH, inOK := c.sandboxes[inDev.Sandbox]
		c.mu.Unlock()
		if !outOK && !inOK {
			return fmt.Errorf("connect: neither sandbox %d nor %d is running", outDev.Sandbox, inDev.Sandbox)
		}

		msg := wire.Connect{
			OutDevice:  int64(outDevice),
			OutSandbox: int64(outDev.Sandbox),
			OutUID:     shm.DeviceUID(outPluginID),
			OutPort:    uint32(outPort),
			InDevice:   int64(inDevice),
			InPort:     uint32(inPort),
		}
		if outOK {
			outH.Send(msg)
		}
		if inDev.Sandbox != outDev.Sandbox && inOK {
			inH.Send(msg)
		}

		c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
			return model.AddConnection(s, model.Connection{OutDevice: outDevice, OutPort: outPort, InDevice: inDevice, InPort: inPort})
		})
		return nil
	})
}

// GetParamValue asynchronously asks sbox for a device's current
// parameter value and returns a channel for the reply, correlated via
// the slot-buffer token scheme of spec §4.4. The sandbox main loop does
// not answer GetParamValue, so nothing is delivered on the channel.
func (c *Client) GetParamValue(sbox ids.Sandbox, did ids.Device, paramID uint32) (<-chan wire.Message, error) {
	c.mu.Lock()
	h, ok := c.sandboxes[sbox]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("get param value: sandbox %d not running", sbox)
	}
	reply := make(chan wire.Message, 1)
	token := c.pending.Put(reply)
	h.Send(wire.GetParamValue{DeviceID: int64(did), ParamID: paramID, ReplyToken: wire.Token(token)})
	return reply, nil
}

// SetParamValue asynchronously changes a device's parameter; the
// returned channel receives the sandbox's wire.ReturnDouble ack (spec
// §4.7's async param write).
func (c *Client) SetParamValue(sbox ids.Sandbox, did ids.Device, paramID uint32, value float64) (<-chan wire.Message, error) {
	c.mu.Lock()
	h, ok := c.sandboxes[sbox]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("set param value: sandbox %d not running", sbox)
	}
	reply := make(chan wire.Message, 1)
	token := c.pending.Put(reply)
	h.Send(wire.SetParamValue{DeviceID: int64(did), ParamID: paramID, Value: value, ReplyToken: wire.Token(token)})
	return reply, nil
}

// GetParamValueText asks the sandbox to format value the way the
// plugin's own UI would display it; the returned channel receives a
// wire.ReturnString (spec §4.7).
func (c *Client) GetParamValueText(sbox ids.Sandbox, did ids.Device, paramID uint32, value float64) (<-chan wire.Message, error) {
	c.mu.Lock()
	h, ok := c.sandboxes[sbox]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("get param value text: sandbox %d not running", sbox)
	}
	reply := make(chan wire.Message, 1)
	token := c.pending.Put(reply)
	h.Send(wire.GetParamValueText{DeviceID: int64(did), ParamID: paramID, Value: value, ReplyToken: wire.Token(token)})
	return reply, nil
}

// SaveState asks a device to serialize its opaque state blob; the
// returned channel receives a wire.ReturnBytes (spec §4.7).
func (c *Client) SaveState(sbox ids.Sandbox, did ids.Device) (<-chan wire.Message, error) {
	c.mu.Lock()
	h, ok := c.sandboxes[sbox]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("save state: sandbox %d not running", sbox)
	}
	reply := make(chan wire.Message, 1)
	token := c.pending.Put(reply)
	h.Send(wire.SaveState{DeviceID: int64(did), ReplyToken: wire.Token(token)})
	return reply, nil
}

// LoadState restores a device's opaque state blob; the returned
// channel receives a wire.ReturnBytes ack (spec §4.7).
func (c *Client) LoadState(sbox ids.Sandbox, did ids.Device, blob []byte) (<-chan wire.Message, error) {
	c.mu.Lock()
	h, ok := c.sandboxes[sbox]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("load state: sandbox %d not running", sbox)
	}
	reply := make(chan wire.Message, 1)
	token := c.pending.Put(reply)
	h.Send(wire.LoadState{DeviceID: int64(did), Blob: blob, ReplyToken: wire.Token(token)})
	return reply, nil
}

// ShowEditor/HideEditor ask the sandbox to toggle the plugin's editor
// window; plugin GUI embedding itself is out of scope (spec §1), so
// these are fire-and-forget requests the sandbox ignores without reply.
func (c *Client) ShowEditor(sbox ids.Sandbox, did ids.Device) error {
	c.mu.Lock()
	h, ok := c.sandboxes[sbox]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("show editor: sandbox %d not running", sbox)
	}
	h.Send(wire.ShowGUI{DeviceID: int64(did)})
	return nil
}

func (c *Client) HideEditor(sbox ids.Sandbox, did ids.Device) error {
	c.mu.Lock()
	h, ok := c.sandboxes[sbox]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("hide editor: sandbox %d not running", sbox)
	}
	h.Send(wire.HideGUI{DeviceID: int64(did)})
	return nil
}

// SetName/GetName set and read a device's display name (spec §4.7).
func (c *Client) SetName(sbox ids.Sandbox, did ids.Device, name string) error {
	return c.dispatch.RunSync(func(ctx context.Context) error {
		c.mu.Lock()
		h, ok := c.sandboxes[sbox]
		c.mu.Unlock()
		if ok {
			h.Send(wire.SetDeviceName{DeviceID: int64(did), Name: name})
		}
		c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
			return model.SetDeviceName(s, did, name)
		})
		return nil
	})
}

func (c *Client) GetName(did ids.Device) string {
	return c.publisher.Load().Devices[did].Name
}

// HasGUI/HasParams/GetParamCount read a device's capability flags and
// parameter count straight out of its shared-memory control record
// (spec §4.1's control block, §4.7's capability queries).
func (c *Client) HasGUI(did ids.Device) bool {
	c.mu.Lock()
	rec, ok := c.deviceRecs[did]
	c.mu.Unlock()
	return ok && rec.Layout.Flags&shm.FlagHasGUI != 0
}

func (c *Client) HasParams(did ids.Device) bool {
	c.mu.Lock()
	rec, ok := c.deviceRecs[did]
	c.mu.Unlock()
	return ok && rec.Layout.Flags&shm.FlagHasParams != 0
}

func (c *Client) GetParamCount(did ids.Device) int {
	c.mu.Lock()
	rec, ok := c.deviceRecs[did]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	return int(rec.Layout.ParamCount)
}

// FindParamByExternalID scans a device's parameter metadata table for
// the row matching externalID, returning its index (spec §4.7).
func (c *Client) FindParamByExternalID(did ids.Device, externalID uint32) (paramIndex int, ok bool) {
	c.mu.Lock()
	rec, found := c.deviceRecs[did]
	c.mu.Unlock()
	if !found {
		return 0, false
	}
	n := int(rec.Layout.ParamCount)
	if n > shm.MaxParams {
		n = shm.MaxParams
	}
	for i := 0; i < n; i++ {
		if rec.Layout.Params[i].ExternalID == externalID {
			return i, true
		}
	}
	return 0, false
}

// Duplicate clones a device by saving its state, creating a fresh
// device of the same plugin type inside sbox, and loading the saved
// state back in (spec §4.7).
func (c *Client) Duplicate(sbox ids.Sandbox, did ids.Device) (ids.Device, error) {
	snap := c.publisher.Load()
	dev, ok := snap.Devices[did]
	if !ok {
		return ids.Invalid, fmt.Errorf("duplicate: device %d not found", did)
	}

	reply, err := c.SaveState(dev.Sandbox, did)
	if err != nil {
		return ids.Invalid, fmt.Errorf("duplicate: %w", err)
	}
	var blob []byte
	select {
	case m := <-reply:
		if rb, ok := m.(wire.ReturnBytes); ok {
			blob = rb.Value
		}
	case <-time.After(replyTimeout):
		return ids.Invalid, fmt.Errorf("duplicate: save state timed out")
	}

	newID, err := c.CreateDevice(sbox, plugins.Type(dev.Type.String()), dev.ExternalID)
	if err != nil {
		return ids.Invalid, fmt.Errorf("duplicate: %w", err)
	}
	if len(blob) > 0 {
		if _, err := c.LoadState(sbox, newID, blob); err != nil {
			return newID, fmt.Errorf("duplicate: load state: %w", err)
		}
	}
	return newID, nil
}

// resolveReply is called by a sandbox transport reader when a
// correlated reply (ReturnDouble/ReturnString/ReturnBytes) arrives,
// delivering it to the channel SetParamValue
// (or an equivalent async call) handed out for that token.
func (c *Client) resolveReply(token wire.Token, m wire.Message) {
	reply := c.pending.Take(slotbuffer.Token(token))
	if reply == nil {
		return
	}
	select {
	case reply <- m:
	default:
	}
}

// Disconnect removes a previously established edge, sent to both
// endpoints' sandboxes when they differ, mirroring Connect.
func (c *Client) Disconnect(outDevice ids.Device, outPort int, inDevice ids.Device, inPort int) error {
	return c.dispatch.RunSync(func(ctx context.Context) error {
		snap := c.publisher.Load()
		outDev, hasOut := snap.Devices[outDevice]
		inDev, hasIn := snap.Devices[inDevice]

		msg := wire.Disconnect{OutDevice: int64(outDevice), OutPort: uint32(outPort), InDevice: int64(inDevice), InPort: uint32(inPort)}
		c.mu.Lock()
		var outH, inH SandboxHandle
		var outOK, inOK bool
		if hasOut {
			outH, outOK = c.sandboxes[outDev.Sandbox]
		}
		if hasIn {
			inH, inOK = c.sandboxes[inDev.Sandbox]
		}
		c.mu.Unlock()
		if outOK {
			outH.Send(msg)
		}
		if (!hasOut || !hasIn || inDev.Sandbox != outDev.Sandbox) && inOK {
			inH.Send(msg)
		}

		c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
			return model.RemoveConnection(s, model.Connection{OutDevice: outDevice, OutPort: outPort, InDevice: inDevice, InPort: inPort})
		})
		return nil
	})
}

// ScannerBinaryPath is the path to the cmd/scanner binary StartScan
// spawns. Set it before the first StartScan call; it defaults to
// "scanner" (resolved via PATH) so embedding applications that ship
// their own build don't need to touch it.
var ScannerBinaryPath = "scanner"

// StartScan runs a full-system plugin scan in its own child process and
// surfaces its records as reports (spec §4.9) via a scanner.Reader.
// reload, if true, queues a ReportDeviceLateCreate for every device the
// client has marked errored (scenario 1's "reload-failed-devices");
// those devices are not re-created in their sandboxes.
func (c *Client) StartScan(reload bool, additionalPaths []string) {
	c.scanMu.Lock()
	c.scanning = true
	c.scanMu.Unlock()
	go func() {
		defer func() {
			c.scanMu.Lock()
			c.scanning = false
			c.scanMu.Unlock()
		}()
		args := []string{}
		if len(additionalPaths) > 0 {
			args = append(args, "--search-paths", strings.Join(additionalPaths, ";"))
		}
		cmd := exec.Command(ScannerBinaryPath, args...)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			c.logger.Error("scan failed to start", "err", err)
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			c.logger.Error("scan failed to start", "err", err)
			return
		}
		if err := cmd.Start(); err != nil {
			c.logger.Error("scan failed to start", "err", err)
			return
		}

		reader := scanner.NewReader(func(rec scanner.Record) { c.handleScanRecord(rec) })
		go reader.Run(stderr)
		if err := reader.Run(stdout); err != nil {
			c.logger.Error("scan reader error", "err", err)
		}
		if err := cmd.Wait(); err != nil {
			c.logger.Error("scan process exited with error", "err", err)
		}
		if reload {
			c.reloadFailedDevices()
		}
	}()
}

// IsScanning reports whether a scan started by StartScan is still
// running (spec §4.9).
func (c *Client) IsScanning() bool {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	return c.scanning
}

// handleScanRecord turns one scanner.Record line into model updates and
// a Report, matching spec §4.9's record-to-reporter-event mapping.
func (c *Client) handleScanRecord(rec scanner.Record) {
	switch rec.Type {
	case "scan_started":
		c.report(Report{Kind: ReportScanStarted, Message: rec.ScanID})
	case "scan_complete":
		c.report(Report{Kind: ReportScanComplete, Message: rec.ScanID})
	case "plugfile":
		rich := plugins.Plugfile{Type: plugins.Type(rec.PlugfileType), Path: rec.Path}
		c.mu.Lock()
		pfID, ok := c.plugfileIDs[rec.Path]
		if !ok {
			pfID = c.counters.plugfiles.Next()
			c.plugfileIDs[rec.Path] = pfID
		}
		c.mu.Unlock()
		c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
			next := cloneSnapshot(s)
			next.Plugfiles[pfID] = model.Plugfile{ID: pfID, Path: rec.Path}
			return next
		})
		c.report(Report{Kind: ReportPlugfileScanned, Plugfile: &rich})
	case "broken-plugfile":
		c.report(Report{Kind: ReportPlugfileBroken, Message: rec.Error})
	case "plugin":
		rich := plugins.Plugin{
			PlugfileType: plugins.Type(rec.PlugfileType), Path: rec.Path, Name: rec.Name,
			ExternalID: rec.ID, Vendor: rec.Vendor, Version: rec.Version, Features: rec.Features,
			HasGUI: rec.HasGUI, HasParams: rec.HasParams,
		}
		c.mu.Lock()
		pfID := c.plugfileIDs[rec.Path]
		pID, ok := c.pluginIDs[rec.ID]
		if !ok {
			pID = c.counters.plugins.Next()
			c.pluginIDs[rec.ID] = pID
		}
		c.mu.Unlock()
		c.publisher.Modify(func(s *model.Snapshot) *model.Snapshot {
			next := cloneSnapshot(s)
			next.Plugins[pID] = model.Plugin{
				ID: pID, Plugfile: pfID, ExternalID: rec.ID, Name: rec.Name,
				Vendor: rec.Vendor, Version: rec.Version,
			}
			return next
		})
		c.report(Report{Kind: ReportPluginScanned, Plugin: &rich})
	case "broken-plugin":
		c.report(Report{Kind: ReportPluginBroken, Message: rec.Error})
	}
}

func (c *Client) reloadFailedDevices() {
	snap := c.publisher.Load()
	for did, dev := range snap.Devices {
		if dev.Error == "" {
			continue
		}
		c.report(Report{Kind: ReportDeviceLateCreate, DeviceID: did, SandboxID: dev.Sandbox})
	}
}

func cloneSnapshot(s *model.Snapshot) *model.Snapshot {
	// model.Snapshot's clone is unexported; Empty()+merge keeps this file
	// from reaching into model's internals while still working off the
	// latest published snapshot.
	next := model.Empty()
	for k, v := range s.Groups {
		next.Groups[k] = v
	}
	for k, v := range s.Sandboxes {
		next.Sandboxes[k] = v
	}
	for k, v := range s.Devices {
		next.Devices[k] = v
	}
	for k, v := range s.Plugfiles {
		next.Plugfiles[k] = v
	}
	for k, v := range s.Plugins {
		next.Plugins[k] = v
	}
	for k := range s.Connections {
		next.Connections[k] = struct{}{}
	}
	return next
}
