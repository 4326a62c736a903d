//go:build linux

package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// linuxBackend realizes segments as POSIX shared memory objects
// (shm_open + ftruncate + mmap), matching spec §4.1's "named,
// process-OS-visible byte region" on Linux targets.
type linuxBackend struct{}

func defaultBackend() backend { return linuxBackend{} }

func shmPath(id string) string {
	// shm_open names must start with '/' and contain no further slashes;
	// the segment id's '+' separators already avoid that.
	return "/" + id
}

func (linuxBackend) create(id string, size int) ([]byte, error) {
	path := shmPath(id)
	fd, err := unix.ShmOpen(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm_open create %s: %w", path, err)
	}
	defer unix.Close(fd)
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("ftruncate %s: %w", path, err)
	}
	return mapFD(fd, size)
}

func (linuxBackend) open(id string) ([]byte, error) {
	path := shmPath(id)
	fd, err := unix.ShmOpen(path, unix.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm_open open %s: %w", path, err)
	}
	defer unix.Close(fd)
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("fstat %s: %w", path, err)
	}
	return mapFD(fd, int(st.Size))
}

func (linuxBackend) remove(id string) {
	_ = unix.ShmUnlink(shmPath(id))
}

func mapFD(fd int, size int) ([]byte, error) {
	b, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return b, nil
}
