package shm

import (
	"unsafe"

	"github.com/shaban/scuffgo/signaling"
)

// GroupLayout is the one-record group segment of spec §4.1: the epoch,
// fan-in counter, and platform-dependent signaling fields all live
// inside signaling.GroupState so package signaling can bind a
// GroupSignal directly over shared-memory bytes.
type GroupLayout struct {
	signaling.GroupState
}

// GroupLayoutSize is the fixed footprint of a group segment.
const GroupLayoutSize = int(unsafe.Sizeof(GroupLayout{}))

// GroupRecord is a group segment opened/created by name, with its
// GroupLayout placed at offset 0.
type GroupRecord struct {
	seg    *Segment
	layout *GroupLayout
	Signal *signaling.GroupSignal
}

// CreateGroup creates a new group segment named "<instance>+group+<id>".
func CreateGroup(instance string, id int64) (*GroupRecord, error) {
	return openGroup(Name(instance, "group", id), true)
}

// OpenGroup opens an existing group segment by the same name.
func OpenGroup(instance string, id int64) (*GroupRecord, error) {
	return openGroup(Name(instance, "group", id), false)
}

func openGroup(name string, create bool) (*GroupRecord, error) {
	seg, err := New(name, GroupLayoutSize, create, true)
	if err != nil {
		return nil, err
	}
	layout := (*GroupLayout)(unsafe.Pointer(&seg.Bytes()[0]))
	return &GroupRecord{
		seg:    seg,
		layout: layout,
		Signal: signaling.NewGroupSignal(&layout.GroupState),
	}, nil
}

// Close drops this process's handle (see Segment.Close).
func (g *GroupRecord) Close() { g.seg.Close() }

// ID returns the segment's name.
func (g *GroupRecord) ID() string { return g.seg.ID() }
