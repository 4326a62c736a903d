package events

import (
	"testing"

	"gitlab.com/gomidi/midi/v2"
)

func TestMIDI_NoteOnRoundTrip(t *testing.T) {
	msg := midi.NoteOn(2, 60, 100)
	e, ok := MIDI(0, msg)
	if !ok {
		t.Fatal("want ok=true decoding a note-on message")
	}
	if e.Channel != 2 || e.Key != 60 || e.Value != 100 {
		t.Fatalf("got %+v", e)
	}

	back, ok := e.ToMIDI()
	if !ok {
		t.Fatal("want ok=true re-encoding a KindMIDI event")
	}
	if len(back) != len(msg) {
		t.Fatalf("got %v, want %v", back, msg)
	}
}

func TestRawEvent_RoundTrip(t *testing.T) {
	e := Event{Kind: KindParamValue, Time: 12, Port: 1, Channel: 2, Key: 3, Param: 9, Value: 0.5}
	got := FromRaw(e.ToRaw())
	if got.Kind != e.Kind || got.Time != e.Time || got.Port != e.Port || got.Value != e.Value {
		t.Fatalf("got %+v, want %+v", got, e)
	}
}
