//go:build linux

package signaling

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// futexEvent realizes Event as a 32-bit futex word: Set stores 1 and
// wakes all waiters, Wait blocks while the word is 0 then resets it to 0
// (auto-reset), exactly as spec §4.2's Linux realization describes.
//
// There is no high-level futex wrapper in golang.org/x/sys/unix, so the
// two operations are issued directly via the raw syscall, the same way
// the kernel's own futex(2) man page documents FUTEX_WAIT/FUTEX_WAKE.
type futexEvent struct {
	word *uint32
}

func newPlatformEvent(word *uint32) Event {
	return futexEvent{word: word}
}

func futexWait(word *uint32, expected uint32, timeout *unix.Timespec) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(word)),
		uintptr(unix.FUTEX_WAIT),
		uintptr(expected),
		uintptr(unsafe.Pointer(timeout)),
		0, 0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

func futexWake(word *uint32, count int) {
	unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(word)),
		uintptr(unix.FUTEX_WAKE),
		uintptr(count),
		0, 0, 0,
	)
}

func (e futexEvent) Set() {
	*e.word = 1
	futexWake(e.word, 1<<30)
}

func (e futexEvent) Wait(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if *e.word == 1 {
			*e.word = 0
			return true
		}
		var ts *unix.Timespec
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return *e.word == 1
			}
			t := unix.NsecToTimespec(remaining.Nanoseconds())
			ts = &t
		}
		err := futexWait(e.word, 0, ts)
		if timeout > 0 && time.Now().After(deadline) {
			if *e.word == 1 {
				*e.word = 0
				return true
			}
			return false
		}
		if err != nil && err != unix.EAGAIN && err != unix.EINTR && err != unix.ETIMEDOUT {
			return *e.word == 1
		}
	}
}
