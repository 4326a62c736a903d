// Package events is scuffgo's plugin event representation: a
// CLAP-event-shaped tagged union (ported from
// original_source/common/include/common/events.hpp, which itself
// borrows CLAP's event shapes so either CLAP or VST3 adapters can
// consume it without the client depending on either SDK directly), plus
// conversions to/from the raw fixed-size record that lives in shared
// memory (package shm) and to/from gitlab.com/gomidi/midi/v2 wire bytes
// for the plain 3-byte Kind channel-voice events.
package events

import "gitlab.com/gomidi/midi/v2"

// Kind enumerates the event variants carried across the group
// protocol. It is a strict subset of events.hpp's variant: sysex and
// midi2 events have no Kind here and are not carried, since neither
// CLAP nor VST3 adapters in this fabric's scope need to interpret them.
type Kind uint32

const (
	KindMIDI Kind = iota
	KindNoteExpression
	KindParamValue
	KindParamMod
	KindParamGestureBegin
	KindParamGestureEnd
	KindTransport
)

// Event is the in-memory, GC-friendly form used by the client and
// sandbox event queues. Transcoding to/from shm.RawEvent happens at
// the shared-memory boundary (see ToRaw/FromRaw).
type Event struct {
	Kind    Kind
	Time    uint32 // sample-accurate offset within the current process epoch
	Port    int16
	Channel int16
	Key     int16
	NoteID  int32
	Param   uint32
	Value   float64
}

// MIDI builds a plain channel-voice Event out of a 3-byte MIDI message
// (spec's events::midi), using gomidi/midi/v2 to decode it so the
// fabric never hand-rolls MIDI status-byte parsing.
func MIDI(port int16, msg midi.Message) (Event, bool) {
	var channel, key, velocity uint8
	switch {
	case msg.GetNoteOn(&channel, &key, &velocity):
		return Event{Kind: KindMIDI, Port: port, Channel: int16(channel), Key: int16(key), Value: float64(velocity)}, true
	case msg.GetNoteOff(&channel, &key, &velocity):
		return Event{Kind: KindMIDI, Port: port, Channel: int16(channel), Key: int16(key), Value: 0}, true
	}
	var cc, val uint8
	if msg.GetControlChange(&channel, &cc, &val) {
		return Event{Kind: KindMIDI, Port: port, Channel: int16(channel), Key: int16(cc), Value: float64(val)}, true
	}
	return Event{}, false
}

// ToMIDI renders a KindMIDI Event back to wire bytes. Non-MIDI kinds
// have no MIDI representation and return ok=false.
func (e Event) ToMIDI() (midi.Message, bool) {
	if e.Kind != KindMIDI {
		return nil, false
	}
	if e.Value == 0 {
		return midi.NoteOff(uint8(e.Channel), uint8(e.Key)), true
	}
	return midi.NoteOn(uint8(e.Channel), uint8(e.Key), uint8(e.Value)), true
}
