//go:build !linux

package shm

import "fmt"

// fallbackBackend realizes segments as plain heap-allocated byte slices
// shared through a process-local registry. It stands in for the
// Windows-event/macOS-named-semaphore segment realizations the spec
// describes (§4.2) but which the retrieved example pack carries no cgo
// bindings for; see DESIGN.md. On those GOOS it is also what the unit
// tests run against, since a single test binary can "open" a segment
// another goroutine "created" without any OS privileges.
type fallbackBackend struct {
	reg *registry
}

var fallbackReg = newRegistry()

func defaultBackend() backend { return fallbackBackend{reg: fallbackReg} }

func (f fallbackBackend) create(id string, size int) ([]byte, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	if _, exists := f.reg.segs[id]; exists {
		return nil, fmt.Errorf("segment %s already exists", id)
	}
	b := make([]byte, size)
	f.reg.segs[id] = b
	return b, nil
}

func (f fallbackBackend) open(id string) ([]byte, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	b, ok := f.reg.segs[id]
	if !ok {
		return nil, fmt.Errorf("segment %s does not exist", id)
	}
	return b, nil
}

func (f fallbackBackend) remove(id string) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	delete(f.reg.segs, id)
}
