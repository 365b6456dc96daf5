// Package highmem provides temporary kernel mappings for pages that lie
// outside the direct map.
//
// Two mapping flavors are offered. Atomic mappings (KmapAtomic) use a small
// per-CPU stack of fixmap slots; they never sleep and must be released in
// reverse order by the same context. Persistent mappings (Kmap) come from a
// shared window of pkmap slots; they may block until a slot is released and
// can be held across sleeps.
package highmem

import (
	"gopherxen/kernel"
	"gopherxen/kernel/kfmt"
	"gopherxen/kernel/mm"
	"gopherxen/kernel/mm/vmm"
)

var (
	// panicFn is mocked by tests. Every contract violation detected by
	// this package is reported through it.
	panicFn = kfmt.Panic

	errLayoutMismatch      = &kernel.Error{Module: "highmem", Message: "mem_map and address space disagree on the lowmem limit"}
	errInvalidCPU          = &kernel.Error{Module: "highmem", Message: "cpu index is outside the configured CPU range"}
	errForeignPage         = &kernel.Error{Module: "highmem", Message: "page descriptor does not belong to mem_map"}
	errKmapInAtomic        = &kernel.Error{Module: "highmem", Message: "kmap called from atomic context"}
	errKunmapInInterrupt   = &kernel.Error{Module: "highmem", Message: "kunmap called from interrupt context"}
	errKunmapNotMapped     = &kernel.Error{Module: "highmem", Message: "kunmap of a page without a persistent mapping"}
	errAtomicStackOverflow = &kernel.Error{Module: "highmem", Message: "kmap_atomic nesting depth exceeded"}
	errAtomicSlotBusy      = &kernel.Error{Module: "highmem", Message: "kmap_atomic slot already holds a mapping"}
	errKunmapAtomicOrder   = &kernel.Error{Module: "highmem", Message: "kunmap_atomic address does not match the innermost mapping"}
	errKunmapAtomicAddr    = &kernel.Error{Module: "highmem", Message: "kunmap_atomic address is outside the direct map and the kmap slots"}
	errMappingMissing      = &kernel.Error{Module: "highmem", Message: "kmap address does not resolve to a mapped page"}
)

// Context describes the execution context that a mapping request runs on.
// It is implemented by *smp.CPU.
type Context interface {
	// ID returns the index of the CPU the context runs on. The value
	// must remain stable between a map call and its matching unmap.
	ID() int

	// InAtomic returns true if the context is not allowed to sleep.
	InAtomic() bool

	// InInterrupt returns true if the context services an interrupt.
	InInterrupt() bool

	// PagefaultDisable disables page-fault handling (and preemption).
	PagefaultDisable()

	// PagefaultEnable undoes a prior call to PagefaultDisable.
	PagefaultEnable()
}

// Kmap manages the temporary mappings of high memory pages into the kernel
// address space.
type Kmap struct {
	as     *vmm.AddressSpace
	memMap *mm.MemMap

	slotsPerCPU int
	stacks      []atomicStack

	pkmap pkmapRegistry
}

// New returns a Kmap that installs its mappings in as for the pages tracked
// by memMap.
func New(as *vmm.AddressSpace, memMap *mm.MemMap) (*Kmap, *kernel.Error) {
	layout := as.Layout()
	if layout.MaxLowFrame != memMap.MaxLowFrame() {
		return nil, errLayoutMismatch
	}

	k := &Kmap{
		as:          as,
		memMap:      memMap,
		slotsPerCPU: layout.SlotsPerCPU,
		stacks:      make([]atomicStack, layout.NumCPUs),
	}
	k.pkmap.init(layout.PkmapEntries)

	return k, nil
}

// AddressSpace returns the address space that k installs mappings in.
func (k *Kmap) AddressSpace() *vmm.AddressSpace {
	return k.as
}

// MemMap returns the page descriptors that k maps.
func (k *Kmap) MemMap() *mm.MemMap {
	return k.memMap
}

// Kmap returns a kernel virtual address for page that stays valid until the
// matching call to Kunmap. Pages in the direct map are returned as is. The
// call may sleep waiting for a free pkmap slot so it must not be invoked from
// atomic context.
func (k *Kmap) Kmap(ctx Context, page *mm.PageDesc) uintptr {
	if ctx.InAtomic() {
		panicFn(errKmapInAtomic)
		return 0
	}

	frame := k.memMap.PageToFrame(page)
	if !frame.Valid() {
		panicFn(errForeignPage)
		return 0
	}

	if !page.HighMem() {
		return k.as.DirectAddr(frame)
	}

	return k.mapHigh(page, frame)
}

// Kunmap releases a mapping obtained by Kmap. Releasing the last holder of a
// high page tears the mapping down and wakes up any tasks waiting for a free
// pkmap slot.
func (k *Kmap) Kunmap(ctx Context, page *mm.PageDesc) {
	if ctx.InInterrupt() {
		panicFn(errKunmapInInterrupt)
		return
	}

	if !page.HighMem() {
		return
	}

	k.unmapHigh(page)
}

// PageAddress returns the kernel virtual address of page: its direct map
// address for lowmem pages, its persistent mapping for mapped high pages and
// 0 otherwise.
func (k *Kmap) PageAddress(page *mm.PageDesc) uintptr {
	frame := k.memMap.PageToFrame(page)
	if !frame.Valid() {
		return 0
	}

	if !page.HighMem() {
		return k.as.DirectAddr(frame)
	}

	return k.pkmapAddress(page)
}

// Bytes returns the page-sized window that starts at the page containing
// vaddr as seen by ctx. The address must be covered by a live mapping.
func (k *Kmap) Bytes(ctx Context, vaddr uintptr) []byte {
	b, err := k.as.Bytes(ctx.ID(), vaddr&mm.PageMask, mm.PageSize)
	if err != nil {
		panicFn(errMappingMissing)
		return nil
	}
	return b
}

func (k *Kmap) hostAddr(ctx Context, vaddr uintptr) (uintptr, bool) {
	addr, err := k.as.Translate(ctx.ID(), vaddr)
	if err != nil {
		panicFn(errMappingMissing)
		return 0, false
	}
	return addr, true
}
