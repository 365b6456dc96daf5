// Package pmm implements the physical frame allocator that frames are
// released into once the kernel has finished bringing up its memory zones.
package pmm

import (
	"math/bits"

	"gopherxen/kernel"
	"gopherxen/kernel/kfmt"
	"gopherxen/kernel/mm"
	"gopherxen/kernel/sync"
)

var (
	errOutOfMemory     = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errInvalidRegion   = &kernel.Error{Module: "pmm", Message: "region end frame precedes its start frame"}
	errRegionOverlap   = &kernel.Error{Module: "pmm", Message: "region overlaps an already registered pool"}
	errUnknownFrame    = &kernel.Error{Module: "pmm", Message: "frame does not belong to any registered pool"}
	errDoubleFree      = &kernel.Error{Module: "pmm", Message: "frame is already free"}
	errAlreadyReserved = &kernel.Error{Module: "pmm", Message: "frame is already reserved"}
)

type framePool struct {
	// node is the memory node that the pool's frames belong to.
	node int

	// startFrame is the frame number for the first page in this pool.
	// each free bitmap entry i corresponds to frame (startFrame + i).
	startFrame mm.Frame

	// endFrame is the first frame past the end of the pool.
	endFrame mm.Frame

	// freeCount tracks the available pages in this pool. The allocator
	// can use this field to skip fully allocated pools without the need
	// to scan the free bitmap.
	freeCount uint64

	// freeBitmap tracks used/free pages in the pool. A set bit marks a
	// reserved frame.
	freeBitmap []uint64
}

func (pool *framePool) contains(frame mm.Frame) bool {
	return frame >= pool.startFrame && frame < pool.endFrame
}

// bit returns the bitmap block index and mask for frame.
func (pool *framePool) bit(frame mm.Frame) (int, uint64) {
	rel := uint64(frame - pool.startFrame)
	return int(rel >> 6), 1 << (rel & 63)
}

// FramePool implements a physical frame allocator that tracks frame
// reservations across the registered memory pools using bitmaps. It is safe
// for concurrent use.
type FramePool struct {
	lock sync.Spinlock

	// totalPages tracks the total number of pages across all pools.
	totalPages uint64

	// reservedPages tracks the number of reserved pages across all pools.
	reservedPages uint64

	pools []framePool
}

// AddHighPages registers the frames in [start, end) on node as free and
// returns the number of frames added (add_highpages_with_active_regions).
func (alloc *FramePool) AddHighPages(node int, start, end mm.Frame) uint64 {
	count, err := alloc.AddRegion(node, start, end)
	if err != nil {
		kfmt.Printf("[pmm] unable to register frames %x:%x for node %d: %s\n", uint64(start), uint64(end), node, err.Message)
		return 0
	}
	return count
}

// AddRegion registers the frames in [start, end) on node as free.
func (alloc *FramePool) AddRegion(node int, start, end mm.Frame) (uint64, *kernel.Error) {
	if end < start {
		return 0, errInvalidRegion
	}

	count := uint64(end - start)
	if count == 0 {
		return 0, nil
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()

	for i := range alloc.pools {
		if start < alloc.pools[i].endFrame && alloc.pools[i].startFrame < end {
			return 0, errRegionOverlap
		}
	}

	// To represent the free page bitmap we need count bits rounded up to
	// a multiple of 64.
	alloc.pools = append(alloc.pools, framePool{
		node:       node,
		startFrame: start,
		endFrame:   end,
		freeCount:  count,
		freeBitmap: make([]uint64, (count+63)>>6),
	})
	alloc.totalPages += count

	return count, nil
}

// ReserveFrame marks frame as in use so it is never handed out by AllocFrame.
// Reserving a frame outside the registered pools or one that is already
// reserved is a no-op.
func (alloc *FramePool) ReserveFrame(frame mm.Frame) {
	_ = alloc.markFrame(frame)
}

func (alloc *FramePool) markFrame(frame mm.Frame) *kernel.Error {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	pool := alloc.poolForFrame(frame)
	if pool == nil {
		return errUnknownFrame
	}

	block, mask := pool.bit(frame)
	if pool.freeBitmap[block]&mask != 0 {
		return errAlreadyReserved
	}

	pool.freeBitmap[block] |= mask
	pool.freeCount--
	alloc.reservedPages++
	return nil
}

// AllocFrame reserves and returns the lowest free frame across all pools.
func (alloc *FramePool) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	for i := range alloc.pools {
		pool := &alloc.pools[i]
		if pool.freeCount == 0 {
			continue
		}

		for block, bitmap := range pool.freeBitmap {
			if bitmap == ^uint64(0) {
				continue
			}

			frame := pool.startFrame + mm.Frame(block<<6+bits.TrailingZeros64(^bitmap))
			if frame >= pool.endFrame {
				break
			}

			pool.freeBitmap[block] |= 1 << (uint64(frame-pool.startFrame) & 63)
			pool.freeCount--
			alloc.reservedPages++
			return frame, nil
		}
	}

	return mm.InvalidFrame, errOutOfMemory
}

// FreeFrame releases a frame previously returned by AllocFrame or marked by
// ReserveFrame.
func (alloc *FramePool) FreeFrame(frame mm.Frame) *kernel.Error {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	pool := alloc.poolForFrame(frame)
	if pool == nil {
		return errUnknownFrame
	}

	block, mask := pool.bit(frame)
	if pool.freeBitmap[block]&mask == 0 {
		return errDoubleFree
	}

	pool.freeBitmap[block] &^= mask
	pool.freeCount++
	alloc.reservedPages--
	return nil
}

// IsReserved returns true if frame belongs to a pool and is not free.
func (alloc *FramePool) IsReserved(frame mm.Frame) bool {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	pool := alloc.poolForFrame(frame)
	if pool == nil {
		return false
	}

	block, mask := pool.bit(frame)
	return pool.freeBitmap[block]&mask != 0
}

// TotalPages returns the number of frames across all registered pools.
func (alloc *FramePool) TotalPages() uint64 {
	alloc.lock.Acquire()
	defer alloc.lock.Release()
	return alloc.totalPages
}

// FreePages returns the number of frames that can still be allocated.
func (alloc *FramePool) FreePages() uint64 {
	alloc.lock.Acquire()
	defer alloc.lock.Release()
	return alloc.totalPages - alloc.reservedPages
}

// PrintPools prints out the registered pools and their utilization.
func (alloc *FramePool) PrintPools() {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	kfmt.Printf("[pmm] frame pools:\n")
	for _, pool := range alloc.pools {
		kfmt.Printf("\t[node %d] frames [0x%8x - 0x%8x], free: %d\n", pool.node, uint64(pool.startFrame), uint64(pool.endFrame), pool.freeCount)
	}
	kfmt.Printf("[pmm] available memory: %dKb\n", uint64(mm.Size(alloc.totalPages-alloc.reservedPages)*mm.Size(mm.PageSize)/mm.Kb))
}

// poolForFrame returns the pool that contains frame or nil. Callers must
// hold the allocator lock.
func (alloc *FramePool) poolForFrame(frame mm.Frame) *framePool {
	for i := range alloc.pools {
		if alloc.pools[i].contains(frame) {
			return &alloc.pools[i]
		}
	}
	return nil
}
