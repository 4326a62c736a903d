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

// MainLoopTick is how often the control-plane goroutine polls its
// message ring.
const MainLoopTick = 2 * time.Millisecond

// NewDeviceFunc constructs the Adapter for a newly created device; the
// real CLAP/VST3 loading happens behind this seam (spec §1, §9).
type NewDeviceFunc func(id ids.Device, pluginType, pluginID string) (Adapter, error)

// Process opens the group and sandbox segments named for instance/ids,
// then runs the control-plane main loop and the realtime audio worker
// until a Stop message, a fatal error, or the heartbeat watchdog ends
// it (spec §4.8). It returns the fatal error, if any, that caused exit.
func Process(instance string, groupID, sboxID int64, newDevice NewDeviceFunc, stop <-chan struct{}) error {
	logger := log.With("instance", instance, "group", groupID, "sandbox", sboxID)

	groupRec, err := shm.OpenGroup(instance, groupID)
	if err != nil {
		return fmt.Errorf("sandbox: open group: %w", err)
	}
	defer groupRec.Close()

	sboxRec, err := shm.OpenSandbox(instance, sboxID)
	if err != nil {
		return fmt.Errorf("sandbox: open sandbox: %w", err)
	}
	defer sboxRec.Close()

	logger.Info("sandbox process started")
	defer logger.Info("sandbox process exiting")

	loop := group.NewSandboxLoop(groupRec.Signal)
	ml := newMainLoop(instance, sboxID, sboxRec, loop, newDevice)
	ml.logger = logger

	audioDone := make(chan error, 1)
	go runAudioWorker(loop, stop, audioDone)

	ticker := time.NewTicker(MainLoopTick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			<-audioDone
			return nil
		case err := <-audioDone:
			if err != nil {
				ml.reportFatal(err)
			}
			return err
		case <-ticker.C:
			if !ml.Tick() {
				err := fmt.Errorf("sandbox: heartbeat watchdog fired after %d missed beats", ml.missed)
				logger.Error("heartbeat watchdog fired", "missed", ml.missed)
				ml.reportFatal(err)
				return err
			}
		}
	}
}

func runAudioWorker(loop *group.SandboxLoop, stop <-chan struct{}, done chan<- error) {
	for {
		cont, err := loop.RunOnce(stop)
		if err != nil {
			done <- err
			return
		}
		if !cont {
			done <- nil
			return
		}
	}
}

// reportFatal sends ReportFatalError over the sandbox->client ring as a
// best-effort final message; the process is expected to exit shortly
// after (spec §4.8, §7's Fatal error kind).
func (m *mainLoop) reportFatal(err error) {
	m.sender.Enqueue(wire.ReportFatalError{Message: err.Error()})
	m.sender.Drain()
}
