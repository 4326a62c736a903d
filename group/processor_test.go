package group

import (
	"testing"
	"time"

	"github.com/shaban/scuffgo/ids"
	"github.com/shaban/scuffgo/model"
	"github.com/shaban/scuffgo/shm"
)

// gainAdapter multiplies its input samples by a constant, mirroring
// sandbox.testAdapter's role but kept local so this package's tests
// don't depend on package sandbox.
type gainAdapter struct{ gain float32 }

func (a gainAdapter) Process(side int, rec *shm.DeviceRecord) error {
	for ch := 0; ch < shm.ChannelCount; ch++ {
		in := rec.ReadAudioIn(0, side, ch)
		out := make([]float32, len(in))
		for i, v := range in {
			out[i] = v * a.gain
		}
		rec.WriteAudioOut(0, (side+1)&1, ch, out)
	}
	return nil
}

func TestProcessorAndSandboxLoop_SingleDeviceGain(t *testing.T) {
	instance := "wiretest-group"
	groupRec, err := shm.CreateGroup(instance, 1)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	defer groupRec.Close()

	devRec, err := shm.CreateDevice(instance, 1, 1, "gain")
	if err != nil {
		t.Fatalf("create device: %v", err)
	}
	defer devRec.Close()

	snap := model.Empty()
	snap.Groups[1] = model.Group{ID: 1, Sandboxes: []ids.Sandbox{1}}
	pub := model.NewPublisher(snap)

	proc := NewProcessor(pub, 1, groupRec)
	proc.RegisterDevice(1, devRec)

	loop := NewSandboxLoop(groupRec.Signal)
	loop.SetTopology([]*ManagedDevice{
		{ID: 1, Rec: devRec, Adapter: gainAdapter{gain: 2}},
	})

	stop := make(chan struct{})
	loopDone := make(chan error, 1)
	go func() {
		for i := 0; i < 3; i++ {
			if cont, err := loop.RunOnce(stop); err != nil || !cont {
				loopDone <- err
				return
			}
		}
		loopDone <- nil
	}()

	input := DeviceAudio{
		Device: 1,
		Ports: map[int]PortAudio{
			0: {fillSamples(1), fillSamples(1)},
		},
	}
	results, err := proc.AudioProcess(
		[]DeviceAudio{input},
		nil,
		map[ids.Device][]int{1: {0}},
	)
	if err != nil {
		t.Fatalf("audio process: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("want 1 result, got %d", len(results))
	}
	got := results[0].Ports[0][0]
	for i, v := range got {
		if v != 2 {
			t.Fatalf("sample %d: got %v, want 2 (input=1, gain=2)", i, got[i])
			break
		}
		_ = i
	}

	close(stop)
	select {
	case err := <-loopDone:
		if err != nil {
			t.Fatalf("sandbox loop: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sandbox loop did not exit after stop")
	}
}

func fillSamples(v float32) []float32 {
	out := make([]float32, shm.VectorSize)
	for i := range out {
		out[i] = v
	}
	return out
}
