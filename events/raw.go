package events

import "github.com/shaban/scuffgo/shm"

// isParamKind reports whether e.Param (not e.Key) is the meaningful
// identifier for this event, so ToRaw/FromRaw know which Go field maps
// onto RawEvent's shared Key slot (spec §4.1's event record has no
// spare field for a both a note key and a parameter id at once, mirroring
// the original's per-variant structs collapsed into one POD shape).
func (k Kind) isParamKind() bool {
	switch k {
	case KindParamValue, KindParamMod, KindParamGestureBegin, KindParamGestureEnd:
		return true
	default:
		return false
	}
}

// ToRaw packs an Event into the fixed-size wire shape stored directly
// in a device's shared-memory event ring (spec §4.1).
func (e Event) ToRaw() shm.RawEvent {
	key := uint32(e.Key)
	if e.Kind.isParamKind() {
		key = e.Param
	}
	return shm.RawEvent{
		Kind:    uint32(e.Kind),
		Port:    uint32(e.Port),
		Channel: uint32(e.Channel),
		Key:     key,
		Value:   e.Value,
		Time:    e.Time,
	}
}

// FromRaw unpacks a shm.RawEvent back into an Event.
func FromRaw(r shm.RawEvent) Event {
	e := Event{
		Kind:    Kind(r.Kind),
		Port:    int16(r.Port),
		Channel: int16(r.Channel),
		Value:   r.Value,
		Time:    r.Time,
	}
	if e.Kind.isParamKind() {
		e.Param = r.Key
	} else {
		e.Key = int16(r.Key)
	}
	return e
}
