// Package physmem provides the machine memory that backs guest frames when
// the kernel runs hosted. The memory is reserved as a single anonymous
// mapping so frame addresses never move.
package physmem

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"gopherxen/kernel"
	"gopherxen/kernel/mm"
)

var (
	// the following functions are mocked by tests.
	mmapFn   = unix.Mmap
	munmapFn = unix.Munmap

	errNoFrames        = &kernel.Error{Module: "physmem", Message: "arena must contain at least one frame"}
	errInvalidFrame    = &kernel.Error{Module: "physmem", Message: "machine frame is outside the arena"}
	errArenaReleased   = &kernel.Error{Module: "physmem", Message: "arena has been released"}
	errHostPageSize    = &kernel.Error{Module: "physmem", Message: "host page size is not a multiple of the kernel page size"}
	errArenaMisaligned = &kernel.Error{Module: "physmem", Message: "arena base address is not page-aligned"}
)

// Arena is a contiguous block of machine memory split into mm.PageSize
// frames. Machine frame n lives at byte offset n*mm.PageSize.
type Arena struct {
	mem    []byte
	frames uint64
}

// NewArena reserves frameCount zero-filled machine frames.
func NewArena(frameCount uint64) (*Arena, *kernel.Error) {
	if frameCount == 0 {
		return nil, errNoFrames
	}

	if hostPageSize := uintptr(unix.Getpagesize()); hostPageSize%mm.PageSize != 0 && mm.PageSize%hostPageSize != 0 {
		return nil, errHostPageSize
	}

	mem, err := mmapFn(-1, 0, int(frameCount*uint64(mm.PageSize)),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, &kernel.Error{Module: "physmem", Message: "unable to reserve machine memory: " + err.Error()}
	}

	if uintptr(unsafe.Pointer(&mem[0]))&(mm.PageSize-1) != 0 {
		_ = munmapFn(mem)
		return nil, errArenaMisaligned
	}

	return &Arena{mem: mem, frames: frameCount}, nil
}

// FrameCount returns the number of machine frames in the arena.
func (a *Arena) FrameCount() uint64 {
	if a == nil {
		return 0
	}
	return a.frames
}

// FrameAddr returns the host address where the contents of machine frame mfn
// are stored. A nil arena behaves like a released one.
func (a *Arena) FrameAddr(mfn mm.Frame) (uintptr, *kernel.Error) {
	if a == nil || a.mem == nil {
		return 0, errArenaReleased
	}

	if !mfn.Valid() || uint64(mfn) >= a.frames {
		return 0, errInvalidFrame
	}

	return uintptr(unsafe.Pointer(&a.mem[0])) + mfn.Address(), nil
}

// Release returns the arena memory to the host. Any address previously
// returned by FrameAddr becomes invalid.
func (a *Arena) Release() *kernel.Error {
	if a == nil || a.mem == nil {
		return errArenaReleased
	}

	if err := munmapFn(a.mem); err != nil {
		return &kernel.Error{Module: "physmem", Message: "unable to release machine memory: " + err.Error()}
	}

	a.mem = nil
	return nil
}
