package vmm

import (
	"gopherxen/kernel"
	"gopherxen/kernel/mm"
)

var (
	errLayoutNoCPUs       = &kernel.Error{Module: "vmm", Message: "layout requires at least one CPU"}
	errLayoutNoSlots      = &kernel.Error{Module: "vmm", Message: "layout requires at least one atomic kmap slot per CPU"}
	errLayoutNoPkmap      = &kernel.Error{Module: "vmm", Message: "layout requires at least one persistent kmap slot"}
	errLayoutFixmapTooBig = &kernel.Error{Module: "vmm", Message: "fixmap area does not fit in the kernel address space"}
	errLayoutOverlap      = &kernel.Error{Module: "vmm", Message: "direct map overlaps the pkmap and fixmap areas"}
)

// Layout describes the kernel virtual address space above PageOffset:
//
//	PageOffset   HighMemory     PkmapBase            FixAddrStart  FixAddrTop
//	| direct map | ... vmalloc  | pkmap window |     | kmap fixmap slots |
//
// Zero fields are replaced by their defaults.
type Layout struct {
	// MaxLowFrame is the first frame that is not covered by the direct
	// map.
	MaxLowFrame mm.Frame

	// NumCPUs is the number of CPUs that own atomic kmap slots.
	NumCPUs int

	// SlotsPerCPU is the number of atomic kmap slots owned by each CPU
	// and therefore the maximum kmap_atomic nesting depth.
	SlotsPerCPU int

	// PkmapEntries is the size of the persistent kmap pool.
	PkmapEntries int
}

func (l Layout) withDefaults() Layout {
	if l.MaxLowFrame == 0 {
		l.MaxLowFrame = DefaultMaxLowFrame
	}
	if l.NumCPUs == 0 {
		l.NumCPUs = 1
	}
	if l.SlotsPerCPU == 0 {
		l.SlotsPerCPU = DefaultSlotsPerCPU
	}
	if l.PkmapEntries == 0 {
		l.PkmapEntries = DefaultPkmapEntries
	}
	return l
}

// regions holds the boundaries derived from a Layout.
type regions struct {
	highMemory   uintptr
	fixAddrStart uintptr
	pkmapBase    uintptr
}

func (l Layout) regions() (regions, *kernel.Error) {
	var r regions

	switch {
	case l.NumCPUs < 0:
		return r, errLayoutNoCPUs
	case l.SlotsPerCPU < 0:
		return r, errLayoutNoSlots
	case l.PkmapEntries < 0:
		return r, errLayoutNoPkmap
	}

	fixmapSize := uintptr(l.NumCPUs*l.SlotsPerCPU) << mm.PageShift
	pkmapSize := uintptr(l.PkmapEntries+1) << mm.PageShift
	if fixmapSize+pkmapSize+pmdSize > FixAddrTop-PageOffset {
		return r, errLayoutFixmapTooBig
	}

	r.fixAddrStart = FixAddrTop - fixmapSize
	r.pkmapBase = (r.fixAddrStart - pkmapSize) &^ (pmdSize - 1)

	lowSize := l.MaxLowFrame.Address()
	if uint64(l.MaxLowFrame) >= uint64(FixAddrTop-PageOffset)>>mm.PageShift || lowSize > r.pkmapBase-PageOffset {
		return r, errLayoutOverlap
	}
	r.highMemory = PageOffset + lowSize

	return r, nil
}
