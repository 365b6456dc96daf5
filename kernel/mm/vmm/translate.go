package vmm

import (
	"unsafe"

	"gopherxen/kernel"
	"gopherxen/kernel/mm"
)

// Translate returns the host address that virtAddr resolves to when accessed
// by cpu. Direct map addresses are translated arithmetically. Kmap addresses
// are resolved through the TLB of cpu first and fall back to a page table
// walk whose result is cached; stale TLB entries therefore remain visible
// until flushed.
func (as *AddressSpace) Translate(cpu int, virtAddr uintptr) (uintptr, *kernel.Error) {
	if cpu < 0 || cpu >= len(as.tlbs) {
		return 0, errInvalidCPU
	}

	if as.IsDirect(virtAddr) {
		mfn := as.p2m.PFNToMFN(as.DirectFrame(virtAddr))
		if !mfn.Valid() {
			return 0, ErrInvalidMapping
		}
		return as.machineAddr(mfn, virtAddr)
	}

	page := mm.PageFromAddress(virtAddr)
	if pte, ok := as.tlbs[cpu].lookup(page); ok {
		return as.machineAddr(pte.Frame(), virtAddr)
	}

	pte, err := as.walk(virtAddr)
	if err != nil {
		return 0, err
	}

	as.tlbs[cpu].insert(page, pte)
	return as.machineAddr(pte.Frame(), virtAddr)
}

// Bytes returns a slice of size bytes starting at virtAddr as seen by cpu.
// The range must not cross a page boundary.
func (as *AddressSpace) Bytes(cpu int, virtAddr uintptr, size uintptr) ([]byte, *kernel.Error) {
	if offsetInPage(virtAddr)+size > mm.PageSize {
		return nil, errCrossPageRange
	}

	hostAddr, err := as.Translate(cpu, virtAddr)
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(hostAddr)), size), nil
}

// walk looks up the entry that maps virtAddr in the kmap page tables.
func (as *AddressSpace) walk(virtAddr uintptr) (PageTableEntry, *kernel.Error) {
	var pte PageTableEntry

	switch {
	case as.IsKmapFixmap(virtAddr):
		pte = as.fixmap[as.VirtToFix(virtAddr)].load()
	case as.IsPkmap(virtAddr):
		pte = as.pkmap[as.PkmapNr(virtAddr)].load()
	}

	if !pte.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}
	return pte, nil
}

func (as *AddressSpace) machineAddr(mfn mm.Frame, virtAddr uintptr) (uintptr, *kernel.Error) {
	base, err := as.mem.FrameAddr(mfn)
	if err != nil {
		return 0, err
	}
	return base + offsetInPage(virtAddr), nil
}

func offsetInPage(addr uintptr) uintptr {
	return addr & (mm.PageSize - 1)
}
