package vmm

import (
	"gopherxen/kernel"
	"gopherxen/kernel/mm"
)

var (
	errInvalidCPU     = &kernel.Error{Module: "vmm", Message: "cpu index is outside the configured CPU range"}
	errInvalidSlot    = &kernel.Error{Module: "vmm", Message: "kmap slot index is out of range"}
	errUnbackedFrame  = &kernel.Error{Module: "vmm", Message: "frame is not backed by a machine frame"}
	errCrossPageRange = &kernel.Error{Module: "vmm", Message: "requested range crosses a page boundary"}
)

// FrameTranslator converts between guest pseudo-physical frames and machine
// frames.
type FrameTranslator interface {
	PFNToMFN(pfn mm.Frame) mm.Frame
	MFNToPFN(mfn mm.Frame) mm.Frame
}

// MachineMemory provides access to the contents of machine frames.
type MachineMemory interface {
	FrameAddr(mfn mm.Frame) (uintptr, *kernel.Error)
}

// AddressSpace models the kernel half of the virtual address space: the
// direct map, the persistent kmap window and the atomic kmap fixmap slots
// together with their page tables and a software TLB for every CPU.
//
// Fixmap entries belonging to a CPU are only modified by that CPU. Pkmap
// entries are modified by their owner under a lock but are read by every
// CPU, so all entry accesses are atomic.
type AddressSpace struct {
	layout Layout
	regions

	p2m FrameTranslator
	mem MachineMemory

	// fixmap holds the kmap fixmap entries; entry idx maps FixToVirt(idx).
	fixmap []PageTableEntry

	// pkmap holds the pkmap page table; entry nr maps PkmapAddr(nr).
	pkmap []PageTableEntry

	tlbs []tlb
}

// NewAddressSpace sets up the kernel address space described by layout.
// Frames are translated to machine frames via p2m and accessed through mem.
func NewAddressSpace(layout Layout, p2m FrameTranslator, mem MachineMemory) (*AddressSpace, *kernel.Error) {
	layout = layout.withDefaults()
	r, err := layout.regions()
	if err != nil {
		return nil, err
	}

	as := &AddressSpace{
		layout:  layout,
		regions: r,
		p2m:     p2m,
		mem:     mem,
		fixmap:  make([]PageTableEntry, layout.NumCPUs*layout.SlotsPerCPU),
		pkmap:   make([]PageTableEntry, layout.PkmapEntries),
		tlbs:    make([]tlb, layout.NumCPUs),
	}

	for cpu := range as.tlbs {
		as.tlbs[cpu].entries = make(map[mm.Page]PageTableEntry)
	}

	return as, nil
}

// Layout returns the layout of the address space with defaults applied.
func (as *AddressSpace) Layout() Layout {
	return as.layout
}

// HighMemory returns the first virtual address past the direct map
// (high_memory).
func (as *AddressSpace) HighMemory() uintptr {
	return as.highMemory
}

// PkmapBase returns the start of the persistent kmap window.
func (as *AddressSpace) PkmapBase() uintptr {
	return as.pkmapBase
}

// DirectAddr returns the direct map address of frame or 0 if the frame lies
// in high memory.
func (as *AddressSpace) DirectAddr(frame mm.Frame) uintptr {
	if frame >= as.layout.MaxLowFrame {
		return 0
	}
	return PageOffset + frame.Address()
}

// IsDirect returns true if virtAddr belongs to the direct map.
func (as *AddressSpace) IsDirect(virtAddr uintptr) bool {
	return virtAddr >= PageOffset && virtAddr < as.highMemory
}

// DirectFrame returns the frame that the direct map address virtAddr points
// to (__pa). The result is only meaningful when IsDirect(virtAddr) is true.
func (as *AddressSpace) DirectFrame(virtAddr uintptr) mm.Frame {
	return mm.FrameFromAddress(virtAddr - PageOffset)
}

// KmapSlots returns the total number of atomic kmap fixmap slots.
func (as *AddressSpace) KmapSlots() int {
	return len(as.fixmap)
}

// FixToVirt returns the virtual address of fixmap slot idx. Addresses grow
// downwards from FixAddrTop as idx increases.
func (as *AddressSpace) FixToVirt(idx int) uintptr {
	return FixAddrTop - uintptr(idx)<<mm.PageShift
}

// VirtToFix returns the fixmap slot that contains virtAddr.
func (as *AddressSpace) VirtToFix(virtAddr uintptr) int {
	return int((FixAddrTop - (virtAddr & mm.PageMask)) >> mm.PageShift)
}

// IsKmapFixmap returns true if virtAddr belongs to one of the atomic kmap
// fixmap slots.
func (as *AddressSpace) IsKmapFixmap(virtAddr uintptr) bool {
	return virtAddr >= as.fixAddrStart+mm.PageSize && virtAddr < FixAddrTop+mm.PageSize
}

// FixmapEntry returns the entry for fixmap slot idx.
func (as *AddressSpace) FixmapEntry(idx int) (PageTableEntry, *kernel.Error) {
	if idx < 0 || idx >= len(as.fixmap) {
		return 0, errInvalidSlot
	}
	return as.fixmap[idx].load(), nil
}

// SetFixmapEntry maps fixmap slot idx to the machine frame that backs frame
// (set_pte_at). Any previous mapping is silently replaced; callers check the
// slot with FixmapEntry first.
func (as *AddressSpace) SetFixmapEntry(idx int, frame mm.Frame, prot PageTableEntryFlag) *kernel.Error {
	if idx < 0 || idx >= len(as.fixmap) {
		return errInvalidSlot
	}

	mfn := as.p2m.PFNToMFN(frame)
	if !mfn.Valid() {
		return errUnbackedFrame
	}

	as.fixmap[idx].store(MakeEntry(mfn, prot))
	return nil
}

// ClearFixmapEntry clears fixmap slot idx and flushes its translation from
// the TLB of cpu (kpte_clear_flush). Fixmap slots are private to the CPU
// owning them so no other TLB can hold the translation.
func (as *AddressSpace) ClearFixmapEntry(cpu, idx int) *kernel.Error {
	if cpu < 0 || cpu >= len(as.tlbs) {
		return errInvalidCPU
	}
	if idx < 0 || idx >= len(as.fixmap) {
		return errInvalidSlot
	}

	as.fixmap[idx].store(0)
	return as.FlushTLBEntry(cpu, as.FixToVirt(idx))
}

// PkmapAddr returns the virtual address of pkmap slot nr.
func (as *AddressSpace) PkmapAddr(nr int) uintptr {
	return as.pkmapBase + uintptr(nr)<<mm.PageShift
}

// PkmapNr returns the pkmap slot that contains virtAddr.
func (as *AddressSpace) PkmapNr(virtAddr uintptr) int {
	return int((virtAddr - as.pkmapBase) >> mm.PageShift)
}

// IsPkmap returns true if virtAddr belongs to the persistent kmap window.
func (as *AddressSpace) IsPkmap(virtAddr uintptr) bool {
	return virtAddr >= as.pkmapBase && virtAddr < as.PkmapAddr(len(as.pkmap))
}

// PkmapEntry returns the entry for pkmap slot nr.
func (as *AddressSpace) PkmapEntry(nr int) (PageTableEntry, *kernel.Error) {
	if nr < 0 || nr >= len(as.pkmap) {
		return 0, errInvalidSlot
	}
	return as.pkmap[nr].load(), nil
}

// SetPkmapEntry maps pkmap slot nr to the machine frame that backs frame.
func (as *AddressSpace) SetPkmapEntry(nr int, frame mm.Frame, prot PageTableEntryFlag) *kernel.Error {
	if nr < 0 || nr >= len(as.pkmap) {
		return errInvalidSlot
	}

	mfn := as.p2m.PFNToMFN(frame)
	if !mfn.Valid() {
		return errUnbackedFrame
	}

	as.pkmap[nr].store(MakeEntry(mfn, prot))
	return nil
}

// ClearPkmapEntry clears pkmap slot nr and shoots down its translation on
// every CPU since any of them may have accessed the mapping.
func (as *AddressSpace) ClearPkmapEntry(nr int) *kernel.Error {
	if nr < 0 || nr >= len(as.pkmap) {
		return errInvalidSlot
	}

	as.pkmap[nr].store(0)
	as.FlushTLBKernelRange(as.PkmapAddr(nr), as.PkmapAddr(nr+1))
	return nil
}

// EntryFrame returns the guest frame that entry points to by translating its
// machine frame back with the M2P table.
func (as *AddressSpace) EntryFrame(pte PageTableEntry) mm.Frame {
	if !pte.HasFlags(FlagPresent) {
		return mm.InvalidFrame
	}
	return as.p2m.MFNToPFN(pte.Frame())
}

// FlushTLBEntry drops the cached translation for virtAddr from the TLB of
// cpu (__flush_tlb_one).
func (as *AddressSpace) FlushTLBEntry(cpu int, virtAddr uintptr) *kernel.Error {
	if cpu < 0 || cpu >= len(as.tlbs) {
		return errInvalidCPU
	}

	page := mm.PageFromAddress(virtAddr)
	as.tlbs[cpu].flush(page, page+1)
	return nil
}

// FlushTLBKernelRange drops cached translations for [start, end) from the
// TLB of every CPU (flush_tlb_kernel_range).
func (as *AddressSpace) FlushTLBKernelRange(start, end uintptr) {
	startPage := mm.PageFromAddress(start)
	endPage := mm.PageFromAddress(end + mm.PageSize - 1)
	for cpu := range as.tlbs {
		as.tlbs[cpu].flush(startPage, endPage)
	}
}

// TLBFlushes returns the number of flushes performed on the TLB of cpu.
func (as *AddressSpace) TLBFlushes(cpu int) uint64 {
	if cpu < 0 || cpu >= len(as.tlbs) {
		return 0
	}
	return as.tlbs[cpu].flushCount()
}
