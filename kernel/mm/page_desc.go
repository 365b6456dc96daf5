package mm

import (
	"sync/atomic"

	"gopherxen/kernel"
)

// PageFlag describes a state bit tracked by a PageDesc.
type PageFlag uint32

const (
	// PageReserved is set for pages that must never be handed out by the
	// page allocator. All pages start out reserved until bring-up code
	// releases them.
	PageReserved PageFlag = 1 << iota

	// PageHighMem is set for pages that lie outside the permanently
	// mapped kernel direct-map and need a temporary mapping before they
	// can be accessed.
	PageHighMem
)

var errMemMapTooSmall = &kernel.Error{Module: "mm", Message: "mem_map must contain at least one frame and the lowmem limit must not exceed its size"}

// PageDesc is the descriptor (struct page) that the kernel keeps for every
// guest pseudo-physical frame. Descriptors are owned by a MemMap.
type PageDesc struct {
	frame    Frame
	flags    uint32
	refCount int32
}

// Frame returns the frame that this descriptor describes.
func (p *PageDesc) Frame() Frame {
	return p.frame
}

// HasFlags returns true if all input flags are set.
func (p *PageDesc) HasFlags(flags PageFlag) bool {
	return PageFlag(atomic.LoadUint32(&p.flags))&flags == flags
}

// SetFlags sets the input list of flags.
func (p *PageDesc) SetFlags(flags PageFlag) {
	for {
		old := atomic.LoadUint32(&p.flags)
		if atomic.CompareAndSwapUint32(&p.flags, old, old|uint32(flags)) {
			return
		}
	}
}

// ClearFlags unsets the input list of flags.
func (p *PageDesc) ClearFlags(flags PageFlag) {
	for {
		old := atomic.LoadUint32(&p.flags)
		if atomic.CompareAndSwapUint32(&p.flags, old, old&^uint32(flags)) {
			return
		}
	}
}

// HighMem returns true if the page is not covered by the direct map.
func (p *PageDesc) HighMem() bool {
	return p.HasFlags(PageHighMem)
}

// Reserved returns true if the page is reserved.
func (p *PageDesc) Reserved() bool {
	return p.HasFlags(PageReserved)
}

// ClearReserved releases the page so that it can be managed by the page
// allocator.
func (p *PageDesc) ClearReserved() {
	p.ClearFlags(PageReserved)
}

// InitRefCount sets the reference count of a freshly released page to one.
func (p *PageDesc) InitRefCount() {
	atomic.StoreInt32(&p.refCount, 1)
}

// RefCount returns the current reference count.
func (p *PageDesc) RefCount() int32 {
	return atomic.LoadInt32(&p.refCount)
}

// Get increments the reference count and returns the new value.
func (p *PageDesc) Get() int32 {
	return atomic.AddInt32(&p.refCount, 1)
}

// Put decrements the reference count and returns the new value.
func (p *PageDesc) Put() int32 {
	return atomic.AddInt32(&p.refCount, -1)
}

// MemMap is the array of page descriptors indexed by frame number
// (mem_map). Frames at or above the lowmem limit are flagged as high memory.
type MemMap struct {
	pages       []PageDesc
	maxLowFrame Frame
}

// NewMemMap allocates descriptors for frameCount frames. Frames in
// [maxLowFrame, frameCount) are flagged as PageHighMem. All descriptors start
// out reserved with a zero reference count.
func NewMemMap(frameCount uint64, maxLowFrame Frame) (*MemMap, *kernel.Error) {
	if frameCount == 0 || uint64(maxLowFrame) > frameCount {
		return nil, errMemMapTooSmall
	}

	m := &MemMap{
		pages:       make([]PageDesc, frameCount),
		maxLowFrame: maxLowFrame,
	}

	for index := range m.pages {
		m.pages[index].frame = Frame(index)
		m.pages[index].flags = uint32(PageReserved)
		if Frame(index) >= maxLowFrame {
			m.pages[index].flags |= uint32(PageHighMem)
		}
	}

	return m, nil
}

// Len returns the number of frames tracked by the map.
func (m *MemMap) Len() uint64 {
	return uint64(len(m.pages))
}

// MaxLowFrame returns the first frame that is not covered by the direct map.
func (m *MemMap) MaxLowFrame() Frame {
	return m.maxLowFrame
}

// FrameToPage returns the descriptor for frame or nil if the frame is not
// tracked by this map (pfn_to_page).
func (m *MemMap) FrameToPage(frame Frame) *PageDesc {
	if uint64(frame) >= uint64(len(m.pages)) {
		return nil
	}
	return &m.pages[frame]
}

// PageToFrame returns the frame described by page (page_to_pfn). It returns
// InvalidFrame if page does not belong to this map.
func (m *MemMap) PageToFrame(page *PageDesc) Frame {
	if page == nil || m.FrameToPage(page.frame) != page {
		return InvalidFrame
	}
	return page.frame
}
