package shm

// MsgRingCapacity is the per-direction message ring capacity (spec §4.1:
// "capacity ≈ 4 KiB").
const MsgRingCapacity = 4096

const sandboxLayoutSize = 2 * (RingHeaderSize + MsgRingCapacity)

// SandboxRecord is the two-ring sandbox segment of spec §4.1: one byte
// ring per direction, client→sandbox (MsgsIn) and sandbox→client
// (MsgsOut). The names are sandbox-centric, matching spec's own
// "msgs_in"/"msgs_out" naming.
type SandboxRecord struct {
	seg     *Segment
	MsgsIn  *Ring
	MsgsOut *Ring
}

// CreateSandbox creates a new sandbox segment named
// "<instance>+sbox+<id>".
func CreateSandbox(instance string, id int64) (*SandboxRecord, error) {
	return openSandbox(Name(instance, "sbox", id), true)
}

// OpenSandbox opens an existing sandbox segment by the same name.
func OpenSandbox(instance string, id int64) (*SandboxRecord, error) {
	return openSandbox(Name(instance, "sbox", id), false)
}

func openSandbox(name string, create bool) (*SandboxRecord, error) {
	seg, err := New(name, sandboxLayoutSize, create, true)
	if err != nil {
		return nil, err
	}
	ringSize := RingHeaderSize + MsgRingCapacity
	return &SandboxRecord{
		seg:     seg,
		MsgsIn:  NewRing(seg.Bytes()[0:ringSize], MsgRingCapacity),
		MsgsOut: NewRing(seg.Bytes()[ringSize:2*ringSize], MsgRingCapacity),
	}, nil
}

// Close drops this process's handle (see Segment.Close).
func (s *SandboxRecord) Close() { s.seg.Close() }

// ID returns the segment's name.
func (s *SandboxRecord) ID() string { return s.seg.ID() }
