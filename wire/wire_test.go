package wire

import (
	"reflect"
	"testing"

	"github.com/shaban/scuffgo/shm"
	"pgregory.net/rapid"
)

func genToken(t *rapid.T, label string) Token {
	return Token(rapid.Uint32().Draw(t, label))
}

// TestMessageRoundTrip checks spec §8's framing property directly:
// deserialize(serialize(m)) == m, for a sample of message kinds from
// both directions, including the zero-payload Crash message.
func TestMessageRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		kind := rapid.IntRange(0, 8).Draw(t, "kind")
		var dir Direction
		var m Message
		switch kind {
		case 0:
			dir = ClientToSandbox
			m = CreateDevice{
				DeviceID:   rapid.Int64().Draw(t, "id"),
				PluginType: rapid.StringN(0, 8, -1).Draw(t, "ptype"),
				PluginID:   rapid.StringN(0, 16, -1).Draw(t, "pid"),
				ReplyToken: genToken(t, "tok"),
			}
		case 1:
			dir = ClientToSandbox
			m = Connect{
				OutDevice: rapid.Int64().Draw(t, "od"),
				OutPort:   rapid.Uint32().Draw(t, "op"),
				InDevice:  rapid.Int64().Draw(t, "id"),
				InPort:    rapid.Uint32().Draw(t, "ip"),
			}
		case 2:
			dir = ClientToSandbox
			m = SetParamValue{
				DeviceID:   rapid.Int64().Draw(t, "id"),
				ParamID:    rapid.Uint32().Draw(t, "pid"),
				Value:      rapid.Float64().Draw(t, "v"),
				ReplyToken: genToken(t, "tok"),
			}
		case 3:
			dir = ClientToSandbox
			m = LoadState{
				DeviceID:   rapid.Int64().Draw(t, "id"),
				Blob:       rapid.SliceOf(rapid.Byte()).Draw(t, "blob"),
				ReplyToken: genToken(t, "tok"),
			}
		case 4:
			dir = ClientToSandbox
			m = Heartbeat{SentAtUnixNano: rapid.Int64().Draw(t, "ts")}
		case 5:
			dir = ClientToSandbox
			m = Crash{}
		case 6:
			dir = SandboxToClient
			m = ReturnCreatedDevice{
				DeviceID:   rapid.Int64().Draw(t, "id"),
				Success:    rapid.Bool().Draw(t, "ok"),
				ErrMessage: rapid.StringN(0, 32, -1).Draw(t, "err"),
				ReplyToken: genToken(t, "tok"),
			}
		case 7:
			dir = SandboxToClient
			m = ReturnBytes{
				Value:      rapid.SliceOf(rapid.Byte()).Draw(t, "v"),
				ReplyToken: genToken(t, "tok"),
			}
		case 8:
			dir = SandboxToClient
			m = ReportFatalError{Message: rapid.StringN(0, 64, -1).Draw(t, "msg")}
		}

		frame := EncodeFrame(m)
		size := order.Uint64(frame[0:8])
		tag := order.Uint64(frame[8:16])
		if int(size) != len(frame)-FrameHeaderSize {
			t.Fatalf("frame size header %d does not match payload length %d", size, len(frame)-FrameHeaderSize)
		}
		got, err := DecodeFrame(dir, tag, frame[FrameHeaderSize:])
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !reflect.DeepEqual(got, m) {
			t.Fatalf("round trip mismatch: got %#v, want %#v", got, m)
		}
	})
}

func TestSenderReceiver_PartialRingTransfers(t *testing.T) {
	// A ring far smaller than a frame forces multiple partial
	// Write/Read cycles, exercising the resumable scratch-cursor and
	// awaiting-payload paths together.
	const capacity = 24
	buf := make([]byte, shm.RingHeaderSize+capacity)
	ring := shm.NewRing(buf, capacity)

	sender := NewSender(ring)
	receiver := NewReceiver(ClientToSandbox, ring)

	want := Heartbeat{SentAtUnixNano: 123456789}
	sender.Enqueue(want)

	var got []Message
	for i := 0; i < 64 && len(got) == 0; i++ {
		sender.Drain()
		msgs, err := receiver.Poll()
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		got = append(got, msgs...)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 message reassembled, got %d", len(got))
	}
	if got[0] != want {
		t.Fatalf("got %#v, want %#v", got[0], want)
	}
}
