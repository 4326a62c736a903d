package wire

// Tags in the sandbox→client space (spec §4.7, §4.8).
const (
	TagReturnCreatedDevice uint64 = iota + 1
	TagReturnDouble
	TagReturnString
	TagReturnBytes
	TagDeviceParamInfoChanged
	TagDeviceError
	TagReportFatalError
	TagHeartbeatAck
)

func init() {
	Register(SandboxToClient, TagReturnCreatedDevice, decodeReturnCreatedDevice)
	Register(SandboxToClient, TagReturnDouble, decodeReturnDouble)
	Register(SandboxToClient, TagReturnString, decodeReturnString)
	Register(SandboxToClient, TagReturnBytes, decodeReturnBytes)
	Register(SandboxToClient, TagDeviceParamInfoChanged, decodeDeviceParamInfoChanged)
	Register(SandboxToClient, TagDeviceError, decodeDeviceError)
	Register(SandboxToClient, TagReportFatalError, decodeReportFatalError)
	Register(SandboxToClient, TagHeartbeatAck, decodeHeartbeatAck)
}

// ReturnCreatedDevice replies to CreateDevice. Success is false when the
// device's shared segment could not be created. A plugin that fails to
// load is reported with a DeviceError instead; the device is then hosted
// by a NullAdapter and the reply carries Success true.
type ReturnCreatedDevice struct {
	DeviceID   int64
	Success    bool
	ErrMessage string
	ReplyToken Token
}

func (m ReturnCreatedDevice) Tag() uint64 { return TagReturnCreatedDevice }
func (m ReturnCreatedDevice) Encode() []byte {
	return newEncoder().i64(m.DeviceID).boolean(m.Success).str(m.ErrMessage).u32(uint32(m.ReplyToken)).bytesOut()
}
func decodeReturnCreatedDevice(b []byte) (Message, error) {
	d := newDecoder(b)
	return ReturnCreatedDevice{DeviceID: d.i64(), Success: d.boolean(), ErrMessage: d.str(), ReplyToken: Token(d.u32())}, nil
}

// ReturnDouble answers SetParamValue, echoing the value it was sent.
// The sandbox sends no reply to GetParamValue.
type ReturnDouble struct {
	Value      float64
	ReplyToken Token
}

func (m ReturnDouble) Tag() uint64    { return TagReturnDouble }
func (m ReturnDouble) Encode() []byte { return newEncoder().f64(m.Value).u32(uint32(m.ReplyToken)).bytesOut() }
func decodeReturnDouble(b []byte) (Message, error) {
	d := newDecoder(b)
	return ReturnDouble{Value: d.f64(), ReplyToken: Token(d.u32())}, nil
}

// ReturnString answers GetParamValueText.
type ReturnString struct {
	Value      string
	ReplyToken Token
}

func (m ReturnString) Tag() uint64    { return TagReturnString }
func (m ReturnString) Encode() []byte { return newEncoder().str(m.Value).u32(uint32(m.ReplyToken)).bytesOut() }
func decodeReturnString(b []byte) (Message, error) {
	d := newDecoder(b)
	return ReturnString{Value: d.str(), ReplyToken: Token(d.u32())}, nil
}

// ReturnBytes answers SaveState.
type ReturnBytes struct {
	Value      []byte
	ReplyToken Token
}

func (m ReturnBytes) Tag() uint64 { return TagReturnBytes }
func (m ReturnBytes) Encode() []byte {
	return newEncoder().bytes(m.Value).u32(uint32(m.ReplyToken)).bytesOut()
}
func decodeReturnBytes(b []byte) (Message, error) {
	d := newDecoder(b)
	return ReturnBytes{Value: d.bytesIn(), ReplyToken: Token(d.u32())}, nil
}

// DeviceParamInfoChanged is an unsolicited notification a plugin can
// raise when its param layout changes after load (e.g. a preset swap
// that adds/removes params).
type DeviceParamInfoChanged struct {
	DeviceID int64
}

func (m DeviceParamInfoChanged) Tag() uint64    { return TagDeviceParamInfoChanged }
func (m DeviceParamInfoChanged) Encode() []byte { return newEncoder().i64(m.DeviceID).bytesOut() }
func decodeDeviceParamInfoChanged(b []byte) (Message, error) {
	return DeviceParamInfoChanged{DeviceID: newDecoder(b).i64()}, nil
}

// DeviceError reports a non-fatal, device-scoped error (plugin threw
// during a control operation, but the sandbox process survives).
type DeviceError struct {
	DeviceID int64
	Message  string
}

func (m DeviceError) Tag() uint64    { return TagDeviceError }
func (m DeviceError) Encode() []byte { return newEncoder().i64(m.DeviceID).str(m.Message).bytesOut() }
func decodeDeviceError(b []byte) (Message, error) {
	d := newDecoder(b)
	return DeviceError{DeviceID: d.i64(), Message: d.str()}, nil
}

// ReportFatalError is the last message a sandbox sends before exiting
// (spec §4.8, §7): the client marks every device owned by that sandbox
// as errored and may later revive the sandbox.
type ReportFatalError struct {
	Message string
}

func (m ReportFatalError) Tag() uint64    { return TagReportFatalError }
func (m ReportFatalError) Encode() []byte { return newEncoder().str(m.Message).bytesOut() }
func decodeReportFatalError(b []byte) (Message, error) {
	return ReportFatalError{Message: newDecoder(b).str()}, nil
}

// HeartbeatAck answers Heartbeat, echoing its timestamp. The client
// ignores it: the missed-beat watchdog (Open Question 3: self-terminate
// after 5 consecutive missed heartbeats) runs in the sandbox and resets
// when a Heartbeat arrives.
type HeartbeatAck struct{ SentAtUnixNano int64 }

func (m HeartbeatAck) Tag() uint64    { return TagHeartbeatAck }
func (m HeartbeatAck) Encode() []byte { return newEncoder().i64(m.SentAtUnixNano).bytesOut() }
func decodeHeartbeatAck(b []byte) (Message, error) {
	return HeartbeatAck{SentAtUnixNano: newDecoder(b).i64()}, nil
}
