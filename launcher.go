package scuffgo

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/shaban/scuffgo/shm"
	"github.com/shaban/scuffgo/wire"
)

// pollTick matches sandbox.MainLoopTick: the client side of the wire
// protocol polls its rings on the same cadence the sandbox side does.
const pollTick = 2 * time.Millisecond

// heartbeatSendInterval is comfortably shorter than
// sandbox.HeartbeatInterval (500ms) so a missed tick or two of
// scheduling jitter never trips the sandbox's missed-heartbeat
// watchdog.
const heartbeatSendInterval = 150 * time.Millisecond

// ExecLauncher is the production SandboxLauncher (spec §4.8): it
// creates the sandbox's shared-memory segment itself, since cmd/sbox
// only ever opens segments its parent already created, then spawns the
// sbox binary pointed at by BinaryPath with the instance/group/sandbox
// ids it needs to open that segment and the group segment in turn.
type ExecLauncher struct {
	BinaryPath string
}

func (l ExecLauncher) Launch(instance string, groupID, sboxID int64) (SandboxHandle, error) {
	rec, err := shm.CreateSandbox(instance, sboxID)
	if err != nil {
		return nil, fmt.Errorf("create sandbox segment: %w", err)
	}
	cmd := exec.Command(l.BinaryPath,
		"--instance", instance,
		"--group", fmt.Sprint(groupID),
		"--sandbox", fmt.Sprint(sboxID),
	)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		rec.Close()
		return nil, fmt.Errorf("start sbox: %w", err)
	}

	h := &execHandle{
		rec:      rec,
		sender:   wire.NewSender(rec.MsgsIn),
		recv:     wire.NewReceiver(wire.SandboxToClient, rec.MsgsOut),
		cmd:      cmd,
		send:     make(chan wire.Message, 64),
		messages: make(chan wire.Message, 64),
		done:     make(chan struct{}),
	}
	go h.pumpOut()
	go h.pumpIn()
	go h.wait()
	return h, nil
}

// execHandle is the SandboxHandle backing a real child process: pumpOut
// drains queued messages into the shared-memory ring, pumpIn polls the
// reply ring, and wait reports process exit.
type execHandle struct {
	rec    *shm.SandboxRecord
	sender *wire.Sender
	recv   *wire.Receiver
	cmd    *exec.Cmd

	send     chan wire.Message
	messages chan wire.Message
	done     chan struct{}
}

func (h *execHandle) Send(m wire.Message) { h.send <- m }

func (h *execHandle) Messages() <-chan wire.Message { return h.messages }

func (h *execHandle) Done() <-chan struct{} { return h.done }

func (h *execHandle) Stop() {
	_ = h.cmd.Process.Kill()
}

func (h *execHandle) pumpOut() {
	ticker := time.NewTicker(pollTick)
	defer ticker.Stop()
	heartbeat := time.NewTicker(heartbeatSendInterval)
	defer heartbeat.Stop()
	for {
		select {
		case m := <-h.send:
			h.sender.Enqueue(m)
			h.sender.Drain()
		case <-ticker.C:
			h.sender.Drain()
		case <-heartbeat.C:
			h.sender.Enqueue(wire.Heartbeat{SentAtUnixNano: time.Now().UnixNano()})
			h.sender.Drain()
		case <-h.done:
			return
		}
	}
}

func (h *execHandle) pumpIn() {
	ticker := time.NewTicker(pollTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			msgs, err := h.recv.Poll()
			if err != nil {
				return
			}
			for _, m := range msgs {
				select {
				case h.messages <- m:
				case <-h.done:
					return
				}
			}
		case <-h.done:
			return
		}
	}
}

func (h *execHandle) wait() {
	_ = h.cmd.Wait()
	h.rec.Close()
	close(h.done)
}
