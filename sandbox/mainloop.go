package sandbox

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/shaban/scuffgo/group"
	"github.com/shaban/scuffgo/ids"
	"github.com/shaban/scuffgo/shm"
	"github.com/shaban/scuffgo/wire"
)

// MaxMissedHeartbeats resolves spec.md §9's third Open Question: a
// sandbox that goes this many heartbeat intervals without hearing from
// its client self-terminates rather than leaking a child process
// forever.
const MaxMissedHeartbeats = 5

// HeartbeatInterval is how often the client is expected to send a
// Heartbeat message.
const HeartbeatInterval = 500 * time.Millisecond

// deviceEntry tracks one hosted device's segment, adapter, and current
// routing, mutated only from the main loop goroutine.
type deviceEntry struct {
	id           ids.Device
	rec          *shm.DeviceRecord
	adapter      Adapter
	ports        []int
	outputs      []group.Route
	remoteInputs []remoteInput
	name         string
}

// remoteInput is one input fed by a device hosted in a different
// sandbox of the same group (spec §4.5's cross-sandbox connections
// paragraph). peer is this sandbox's own read-only handle onto the
// writer's device segment, opened by name via shm.OpenDevice.
type remoteInput struct {
	outDevice ids.Device
	fromPort  int
	toPort    int
	peerKey   string
	peer      *shm.DeviceRecord
}

// mainLoop owns the control-plane side of one sandbox process: it reads
// ClientToSandbox messages off SandboxRecord.MsgsIn, applies them
// (device create/erase/param changes/etc.), replies over MsgsOut, and
// feeds topology changes to the audio worker's SandboxLoop.
type mainLoop struct {
	instance string
	sboxID   int64

	sbox   *shm.SandboxRecord
	sender *wire.Sender
	recv   *wire.Receiver

	loop    *group.SandboxLoop
	devices map[ids.Device]*deviceEntry

	// remotePeers dedupes opened peer-device segments across possibly
	// several connections sharing the same writer device, refcounted so
	// the last Disconnect referencing a peer closes it.
	remotePeers map[string]*remotePeer

	newDevice func(id ids.Device, pluginType, pluginID string) (Adapter, error)

	lastHeartbeat time.Time
	missed        int

	logger *log.Logger
}

// remotePeer is one opened peer-device segment, refcounted by however
// many remoteInput entries currently reference it.
type remotePeer struct {
	rec  *shm.DeviceRecord
	refs int
}

func newMainLoop(instance string, sboxID int64, sbox *shm.SandboxRecord, loop *group.SandboxLoop, newDevice func(ids.Device, string, string) (Adapter, error)) *mainLoop {
	return &mainLoop{
		instance:      instance,
		sboxID:        sboxID,
		sbox:          sbox,
		sender:        wire.NewSender(sbox.MsgsOut),
		recv:          wire.NewReceiver(wire.ClientToSandbox, sbox.MsgsIn),
		loop:          loop,
		devices:       map[ids.Device]*deviceEntry{},
		remotePeers:   map[string]*remotePeer{},
		newDevice:     newDevice,
		lastHeartbeat: time.Now(),
	}
}

// Tick processes one round of incoming messages and drains replies. It
// returns false once a Stop message has been handled or the heartbeat
// watchdog has fired, telling the caller to shut down.
func (m *mainLoop) Tick() bool {
	msgs, err := m.recv.Poll()
	if err != nil {
		m.sender.Enqueue(wire.ReportFatalError{Message: fmt.Sprintf("wire decode: %v", err)})
		m.sender.Drain()
		return false
	}
	cont := true
	for _, msg := range msgs {
		if !m.apply(msg) {
			cont = false
		}
	}
	if time.Since(m.lastHeartbeat) > HeartbeatInterval {
		m.missed++
		m.lastHeartbeat = time.Now()
		if m.missed >= MaxMissedHeartbeats {
			cont = false
		}
	}
	m.sender.Drain()
	return cont
}

func (m *mainLoop) apply(msg wire.Message) bool {
	switch v := msg.(type) {
	case wire.Heartbeat:
		m.missed = 0
		m.lastHeartbeat = time.Now()
		m.sender.Enqueue(wire.HeartbeatAck{SentAtUnixNano: v.SentAtUnixNano})

	case wire.CreateDevice:
		id := ids.Device(v.DeviceID)
		uid := shm.DeviceUID(v.PluginID)
		rec, err := shm.CreateDevice(m.instance, m.sboxID, v.DeviceID, uid)
		if err != nil {
			m.sender.Enqueue(wire.ReturnCreatedDevice{DeviceID: v.DeviceID, Success: false, ErrMessage: err.Error(), ReplyToken: wire.Token(v.ReplyToken)})
			return true
		}
		adapter, err := m.newDevice(id, v.PluginType, v.PluginID)
		if err != nil {
			adapter = NullAdapter{}
			if m.logger != nil {
				m.logger.Warn("device falling back to NullAdapter", "device", v.DeviceID, "plugin", v.PluginID, "err", err)
			}
			m.sender.Enqueue(wire.DeviceError{DeviceID: v.DeviceID, Message: err.Error()})
		}
		rec.Layout.ParamCount = uint32(adapter.ParamCount())
		if adapter.HasGUI() {
			rec.Layout.Flags |= shm.FlagHasGUI
		}
		if adapter.ParamCount() > 0 {
			rec.Layout.Flags |= shm.FlagHasParams
		}
		entry := &deviceEntry{id: id, rec: rec, adapter: adapter, ports: []int{0}, name: v.PluginID}
		m.devices[id] = entry
		m.resyncTopology()
		m.sender.Enqueue(wire.ReturnCreatedDevice{DeviceID: v.DeviceID, Success: true, ReplyToken: wire.Token(v.ReplyToken)})

	case wire.EraseDevice:
		id := ids.Device(v.DeviceID)
		if e, ok := m.devices[id]; ok {
			for _, rr := range e.remoteInputs {
				m.releaseRemotePeer(rr.peerKey)
			}
			e.rec.Close()
			delete(m.devices, id)
			m.resyncTopology()
		}

	case wire.SetDeviceName:
		if e, ok := m.devices[ids.Device(v.DeviceID)]; ok {
			e.name = v.Name
		}

	// Connect is sent to both endpoints' sandboxes when they differ
	// (spec §4.7). Whichever sandbox hosts the writer device registers a
	// local group.Route, used for same-process copying (spec §4.5 step
	// 3). Whichever sandbox hosts the reader device, if that's a
	// *different* sandbox than the writer's, opens the writer's device
	// segment by name and registers a remoteInput instead — the
	// mechanism spec §4.5's cross-sandbox connections paragraph
	// describes: "the reader-side sandbox copies from the writer-side
	// sandbox's output buffer during its own step".
	case wire.Connect:
		from := ids.Device(v.OutDevice)
		to := ids.Device(v.InDevice)
		if e, ok := m.devices[from]; ok {
			e.outputs = append(e.outputs, group.Route{FromPort: int(v.OutPort), To: to, ToPort: int(v.InPort)})
			m.resyncTopology()
		}
		if e, ok := m.devices[to]; ok && v.OutSandbox != m.sboxID {
			key := remotePeerKey(v.OutSandbox, v.OutDevice, v.OutUID)
			peer, err := m.openRemotePeer(key, v.OutSandbox, v.OutDevice, v.OutUID)
			if err != nil {
				m.sender.Enqueue(wire.DeviceError{DeviceID: v.InDevice, Message: fmt.Sprintf("connect: open remote device %s: %v", key, err)})
			} else {
				e.remoteInputs = append(e.remoteInputs, remoteInput{outDevice: from, fromPort: int(v.OutPort), toPort: int(v.InPort), peerKey: key, peer: peer})
				m.resyncTopology()
			}
		}

	case wire.Disconnect:
		from := ids.Device(v.OutDevice)
		to := ids.Device(v.InDevice)
		if e, ok := m.devices[from]; ok {
			kept := e.outputs[:0]
			for _, r := range e.outputs {
				if r.To == to && r.FromPort == int(v.OutPort) && r.ToPort == int(v.InPort) {
					continue
				}
				kept = append(kept, r)
			}
			e.outputs = kept
			m.resyncTopology()
		}
		if e, ok := m.devices[to]; ok {
			kept := e.remoteInputs[:0]
			for _, rr := range e.remoteInputs {
				if rr.outDevice == from && rr.fromPort == int(v.OutPort) && rr.toPort == int(v.InPort) {
					m.releaseRemotePeer(rr.peerKey)
					continue
				}
				kept = append(kept, rr)
			}
			e.remoteInputs = kept
			m.resyncTopology()
		}

	case wire.SetParamValue:
		// The value is not passed on to the adapter (Adapter has no
		// parameter setter); the sandbox only echoes it back as the reply.
		m.sender.Enqueue(wire.ReturnDouble{Value: v.Value, ReplyToken: wire.Token(v.ReplyToken)})

	case wire.GetParamValueText:
		text := ""
		if e, ok := m.devices[ids.Device(v.DeviceID)]; ok {
			text = e.adapter.ValueText(v.ParamID, v.Value)
		}
		m.sender.Enqueue(wire.ReturnString{Value: text, ReplyToken: wire.Token(v.ReplyToken)})

	case wire.SaveState:
		if e, ok := m.devices[ids.Device(v.DeviceID)]; ok {
			blob, err := e.adapter.SaveState()
			if err != nil {
				m.sender.Enqueue(wire.DeviceError{DeviceID: v.DeviceID, Message: err.Error()})
			} else {
				m.sender.Enqueue(wire.ReturnBytes{Value: blob, ReplyToken: wire.Token(v.ReplyToken)})
			}
		}

	case wire.LoadState:
		if e, ok := m.devices[ids.Device(v.DeviceID)]; ok {
			if err := e.adapter.LoadState(v.Blob); err != nil {
				m.sender.Enqueue(wire.DeviceError{DeviceID: v.DeviceID, Message: err.Error()})
				return true
			}
		}
		m.sender.Enqueue(wire.ReturnBytes{ReplyToken: wire.Token(v.ReplyToken)})

	case wire.ShowGUI, wire.HideGUI:
		// Plugin GUI embedding is out of scope (spec §1); the sandbox
		// ignores these requests and sends no reply.

	case wire.Crash:
		panic("sandbox: fault injected by test-only Crash message")

	case wire.Stop:
		return false
	}
	return true
}

// resyncTopology rebuilds the audio worker's device graph from the
// current set of hosted devices, called from the main loop goroutine
// whenever a device or connection changes (spec §4.5 step 2).
func (m *mainLoop) resyncTopology() {
	managed := make([]*group.ManagedDevice, 0, len(m.devices))
	for _, e := range m.devices {
		remoteInputs := make([]group.RemoteRoute, 0, len(e.remoteInputs))
		for _, rr := range e.remoteInputs {
			remoteInputs = append(remoteInputs, group.RemoteRoute{FromPort: rr.fromPort, Peer: rr.peer, ToPort: rr.toPort})
		}
		managed = append(managed, NewManagedDevice(e.id, e.rec, e.adapter, e.ports, e.outputs, remoteInputs))
	}
	m.loop.SetTopology(managed)
}

// remotePeerKey identifies one cross-sandbox peer device segment,
// deduplicating opens shared by several remoteInput entries.
func remotePeerKey(sboxID, deviceID int64, uid string) string {
	return fmt.Sprintf("%d:%d:%s", sboxID, deviceID, uid)
}

func (m *mainLoop) openRemotePeer(key string, sboxID, deviceID int64, uid string) (*shm.DeviceRecord, error) {
	if p, ok := m.remotePeers[key]; ok {
		p.refs++
		return p.rec, nil
	}
	rec, err := shm.OpenDevice(m.instance, sboxID, deviceID, uid)
	if err != nil {
		return nil, err
	}
	m.remotePeers[key] = &remotePeer{rec: rec, refs: 1}
	return rec, nil
}

func (m *mainLoop) releaseRemotePeer(key string) {
	p, ok := m.remotePeers[key]
	if !ok {
		return
	}
	p.refs--
	if p.refs <= 0 {
		p.rec.Close()
		delete(m.remotePeers, key)
	}
}
