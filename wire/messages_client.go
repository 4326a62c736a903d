package wire

// Tags in the client→sandbox space (spec §4.7, §4.8).
const (
	TagCreateDevice uint64 = iota + 1
	TagEraseDevice
	TagSetDeviceName
	TagConnect
	TagDisconnect
	TagSetParamValue
	TagGetParamValue
	TagGetParamValueText
	TagLoadState
	TagSaveState
	TagShowGUI
	TagHideGUI
	TagHeartbeat
	TagCrash // test-only fault injection, spec §8 scenario 4
	TagStop
)

func init() {
	Register(ClientToSandbox, TagCreateDevice, decodeCreateDevice)
	Register(ClientToSandbox, TagEraseDevice, decodeEraseDevice)
	Register(ClientToSandbox, TagSetDeviceName, decodeSetDeviceName)
	Register(ClientToSandbox, TagConnect, decodeConnect)
	Register(ClientToSandbox, TagDisconnect, decodeDisconnect)
	Register(ClientToSandbox, TagSetParamValue, decodeSetParamValue)
	Register(ClientToSandbox, TagGetParamValue, decodeGetParamValue)
	Register(ClientToSandbox, TagGetParamValueText, decodeGetParamValueText)
	Register(ClientToSandbox, TagLoadState, decodeLoadState)
	Register(ClientToSandbox, TagSaveState, decodeSaveState)
	Register(ClientToSandbox, TagShowGUI, decodeShowGUI)
	Register(ClientToSandbox, TagHideGUI, decodeHideGUI)
	Register(ClientToSandbox, TagHeartbeat, decodeHeartbeat)
	Register(ClientToSandbox, TagCrash, decodeCrash)
	Register(ClientToSandbox, TagStop, decodeStop)
}

// Token is the slot-buffer correlation token carried by every message
// expecting a reply (spec §4.3's "Correlation").
type Token uint32

// CreateDevice asks the sandbox to instantiate a plugin (spec §4.7).
type CreateDevice struct {
	DeviceID   int64
	PluginType string // "clap", "vst3", "unknown"
	PluginID   string
	ReplyToken Token
}

func (m CreateDevice) Tag() uint64 { return TagCreateDevice }
func (m CreateDevice) Encode() []byte {
	return newEncoder().i64(m.DeviceID).str(m.PluginType).str(m.PluginID).u32(uint32(m.ReplyToken)).bytesOut()
}
func decodeCreateDevice(b []byte) (Message, error) {
	d := newDecoder(b)
	return CreateDevice{DeviceID: d.i64(), PluginType: d.str(), PluginID: d.str(), ReplyToken: Token(d.u32())}, nil
}

// EraseDevice tells the sandbox to drop a device it hosts.
type EraseDevice struct {
	DeviceID int64
}

func (m EraseDevice) Tag() uint64     { return TagEraseDevice }
func (m EraseDevice) Encode() []byte  { return newEncoder().i64(m.DeviceID).bytesOut() }
func decodeEraseDevice(b []byte) (Message, error) {
	return EraseDevice{DeviceID: newDecoder(b).i64()}, nil
}

// SetDeviceName sets a device's display name.
type SetDeviceName struct {
	DeviceID int64
	Name     string
}

func (m SetDeviceName) Tag() uint64    { return TagSetDeviceName }
func (m SetDeviceName) Encode() []byte { return newEncoder().i64(m.DeviceID).str(m.Name).bytesOut() }
func decodeSetDeviceName(b []byte) (Message, error) {
	d := newDecoder(b)
	return SetDeviceName{DeviceID: d.i64(), Name: d.str()}, nil
}

// Connect establishes one (out_device,out_port) -> (in_device,in_port)
// audio edge (spec §4.7). OutSandbox/OutUID identify the writer
// device's owning sandbox and segment uid so a sandbox that only hosts
// the reader device can open that sandbox's device segment by name
// (shm.OpenDevice) for a cross-sandbox connection (spec §4.5). This
// message is sent to both endpoints' sandboxes when they differ.
type Connect struct {
	OutDevice  int64
	OutSandbox int64
	OutUID     string
	OutPort    uint32
	InDevice   int64
	InPort     uint32
}

func (m Connect) Tag() uint64 { return TagConnect }
func (m Connect) Encode() []byte {
	return newEncoder().i64(m.OutDevice).i64(m.OutSandbox).str(m.OutUID).u32(m.OutPort).i64(m.InDevice).u32(m.InPort).bytesOut()
}
func decodeConnect(b []byte) (Message, error) {
	d := newDecoder(b)
	return Connect{
		OutDevice: d.i64(), OutSandbox: d.i64(), OutUID: d.str(), OutPort: d.u32(),
		InDevice: d.i64(), InPort: d.u32(),
	}, nil
}

// Disconnect removes a previously established edge.
type Disconnect struct {
	OutDevice int64
	OutPort   uint32
	InDevice  int64
	InPort    uint32
}

func (m Disconnect) Tag() uint64 { return TagDisconnect }
func (m Disconnect) Encode() []byte {
	return newEncoder().i64(m.OutDevice).u32(m.OutPort).i64(m.InDevice).u32(m.InPort).bytesOut()
}
func decodeDisconnect(b []byte) (Message, error) {
	d := newDecoder(b)
	return Disconnect{OutDevice: d.i64(), OutPort: d.u32(), InDevice: d.i64(), InPort: d.u32()}, nil
}

// SetParamValue is async (spec §4.7); the reply carries ReplyToken.
type SetParamValue struct {
	DeviceID   int64
	ParamID    uint32
	Value      float64
	ReplyToken Token
}

func (m SetParamValue) Tag() uint64 { return TagSetParamValue }
func (m SetParamValue) Encode() []byte {
	return newEncoder().i64(m.DeviceID).u32(m.ParamID).f64(m.Value).u32(uint32(m.ReplyToken)).bytesOut()
}
func decodeSetParamValue(b []byte) (Message, error) {
	d := newDecoder(b)
	return SetParamValue{DeviceID: d.i64(), ParamID: d.u32(), Value: d.f64(), ReplyToken: Token(d.u32())}, nil
}

// GetParamValue asks for a parameter's current value.
type GetParamValue struct {
	DeviceID   int64
	ParamID    uint32
	ReplyToken Token
}

func (m GetParamValue) Tag() uint64 { return TagGetParamValue }
func (m GetParamValue) Encode() []byte {
	return newEncoder().i64(m.DeviceID).u32(m.ParamID).u32(uint32(m.ReplyToken)).bytesOut()
}
func decodeGetParamValue(b []byte) (Message, error) {
	d := newDecoder(b)
	return GetParamValue{DeviceID: d.i64(), ParamID: d.u32(), ReplyToken: Token(d.u32())}, nil
}

// GetParamValueText asks for a parameter's display text at a given
// value (spec §4.7).
type GetParamValueText struct {
	DeviceID   int64
	ParamID    uint32
	Value      float64
	ReplyToken Token
}

func (m GetParamValueText) Tag() uint64 { return TagGetParamValueText }
func (m GetParamValueText) Encode() []byte {
	return newEncoder().i64(m.DeviceID).u32(m.ParamID).f64(m.Value).u32(uint32(m.ReplyToken)).bytesOut()
}
func decodeGetParamValueText(b []byte) (Message, error) {
	d := newDecoder(b)
	return GetParamValueText{DeviceID: d.i64(), ParamID: d.u32(), Value: d.f64(), ReplyToken: Token(d.u32())}, nil
}

// LoadState restores a device's opaque state blob.
type LoadState struct {
	DeviceID   int64
	Blob       []byte
	ReplyToken Token
}

func (m LoadState) Tag() uint64 { return TagLoadState }
func (m LoadState) Encode() []byte {
	return newEncoder().i64(m.DeviceID).bytes(m.Blob).u32(uint32(m.ReplyToken)).bytesOut()
}
func decodeLoadState(b []byte) (Message, error) {
	d := newDecoder(b)
	return LoadState{DeviceID: d.i64(), Blob: d.bytesIn(), ReplyToken: Token(d.u32())}, nil
}

// SaveState asks a device to serialize its opaque state blob.
type SaveState struct {
	DeviceID   int64
	ReplyToken Token
}

func (m SaveState) Tag() uint64    { return TagSaveState }
func (m SaveState) Encode() []byte { return newEncoder().i64(m.DeviceID).u32(uint32(m.ReplyToken)).bytesOut() }
func decodeSaveState(b []byte) (Message, error) {
	d := newDecoder(b)
	return SaveState{DeviceID: d.i64(), ReplyToken: Token(d.u32())}, nil
}

// ShowGUI/HideGUI control the plugin's editor window.
type ShowGUI struct{ DeviceID int64 }

func (m ShowGUI) Tag() uint64    { return TagShowGUI }
func (m ShowGUI) Encode() []byte { return newEncoder().i64(m.DeviceID).bytesOut() }
func decodeShowGUI(b []byte) (Message, error) { return ShowGUI{DeviceID: newDecoder(b).i64()}, nil }

type HideGUI struct{ DeviceID int64 }

func (m HideGUI) Tag() uint64    { return TagHideGUI }
func (m HideGUI) Encode() []byte { return newEncoder().i64(m.DeviceID).bytesOut() }
func decodeHideGUI(b []byte) (Message, error) { return HideGUI{DeviceID: newDecoder(b).i64()}, nil }

// Heartbeat is sent periodically; a sandbox missing too many
// heartbeats self-terminates (spec §4.8, §9 Open Question 3).
type Heartbeat struct{ SentAtUnixNano int64 }

func (m Heartbeat) Tag() uint64    { return TagHeartbeat }
func (m Heartbeat) Encode() []byte { return newEncoder().i64(m.SentAtUnixNano).bytesOut() }
func decodeHeartbeat(b []byte) (Message, error) {
	return Heartbeat{SentAtUnixNano: newDecoder(b).i64()}, nil
}

// Crash is a test-only fault-injection message (spec §8 scenario 4).
type Crash struct{}

func (m Crash) Tag() uint64             { return TagCrash }
func (m Crash) Encode() []byte          { return nil }
func decodeCrash(b []byte) (Message, error) { return Crash{}, nil }

// Stop requests cooperative shutdown of the sandbox's worker threads.
type Stop struct{}

func (m Stop) Tag() uint64            { return TagStop }
func (m Stop) Encode() []byte         { return nil }
func decodeStop(b []byte) (Message, error) { return Stop{}, nil }
