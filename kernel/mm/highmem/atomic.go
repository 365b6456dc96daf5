package highmem

import (
	"gopherxen/kernel"
	"gopherxen/kernel/mm"
	"gopherxen/kernel/mm/vmm"
)

// atomicStack tracks the kmap_atomic nesting depth of one CPU. It is only
// accessed by the context running on that CPU.
type atomicStack struct {
	depth int
}

func (k *Kmap) stack(ctx Context) *atomicStack {
	id := ctx.ID()
	if id < 0 || id >= len(k.stacks) {
		panicFn(errInvalidCPU)
		return nil
	}
	return &k.stacks[id]
}

// KmapAtomic maps page with the default kernel protection. See
// KmapAtomicProt.
func (k *Kmap) KmapAtomic(ctx Context, page *mm.PageDesc) uintptr {
	return k.KmapAtomicProt(ctx, page, vmm.KmapProt)
}

// KmapAtomicProt maps page into the next free atomic slot of the CPU that
// ctx runs on and returns its virtual address. Page faults stay disabled
// until the matching KunmapAtomic call. Lowmem pages return their direct map
// address without consuming a slot.
func (k *Kmap) KmapAtomicProt(ctx Context, page *mm.PageDesc, prot vmm.PageTableEntryFlag) uintptr {
	ctx.PagefaultDisable()

	frame := k.memMap.PageToFrame(page)
	if !frame.Valid() {
		panicFn(errForeignPage)
		return 0
	}

	if !page.HighMem() {
		return k.as.DirectAddr(frame)
	}

	return k.pushAtomic(ctx, frame, prot)
}

// KmapAtomicPFN maps frame with the default kernel protection. See
// KmapAtomicProtPFN.
func (k *Kmap) KmapAtomicPFN(ctx Context, frame mm.Frame) uintptr {
	return k.KmapAtomicProtPFN(ctx, frame, vmm.KmapProt)
}

// KmapAtomicProtPFN behaves like KmapAtomicProt for a frame that may have no
// page descriptor.
func (k *Kmap) KmapAtomicProtPFN(ctx Context, frame mm.Frame, prot vmm.PageTableEntryFlag) uintptr {
	ctx.PagefaultDisable()

	if vaddr := k.as.DirectAddr(frame); vaddr != 0 {
		return vaddr
	}

	return k.pushAtomic(ctx, frame, prot)
}

func (k *Kmap) pushAtomic(ctx Context, frame mm.Frame, prot vmm.PageTableEntryFlag) uintptr {
	stack := k.stack(ctx)
	if stack == nil {
		return 0
	}

	if stack.depth >= k.slotsPerCPU {
		panicFn(errAtomicStackOverflow)
		return 0
	}

	idx := stack.depth + k.slotsPerCPU*ctx.ID()
	if pte, _ := k.as.FixmapEntry(idx); !pte.None() {
		panicFn(errAtomicSlotBusy)
		return 0
	}

	if err := k.as.SetFixmapEntry(idx, frame, prot); err != nil {
		panicFn(err)
		return 0
	}

	stack.depth++
	return k.as.FixToVirt(idx)
}

// KunmapAtomic releases the innermost atomic mapping of the CPU that ctx runs
// on and re-enables page faults. vaddr must be the address returned by the
// matching map call; addresses in the direct map only re-enable page faults.
func (k *Kmap) KunmapAtomic(ctx Context, vaddr uintptr) {
	vaddr &= mm.PageMask

	switch {
	case k.as.IsKmapFixmap(vaddr):
		stack := k.stack(ctx)
		if stack == nil {
			return
		}

		idx := stack.depth - 1 + k.slotsPerCPU*ctx.ID()
		if stack.depth == 0 || vaddr != k.as.FixToVirt(idx) {
			panicFn(errKunmapAtomicOrder)
			return
		}

		// Drop the translation so the slot can not be reached through
		// a stale TLB entry once it is reused.
		if err := k.as.ClearFixmapEntry(ctx.ID(), idx); err != nil {
			panicFn(err)
			return
		}
		stack.depth--
	case !k.as.IsDirect(vaddr):
		panicFn(errKunmapAtomicAddr)
		return
	}

	ctx.PagefaultEnable()
}

// AtomicDepth returns the number of atomic mappings currently held by the
// CPU that ctx runs on.
func (k *Kmap) AtomicDepth(ctx Context) int {
	stack := k.stack(ctx)
	if stack == nil {
		return 0
	}
	return stack.depth
}

// KmapAtomicToPage returns the descriptor of the page mapped at vaddr or nil
// if vaddr is not backed by a kernel mapping.
func (k *Kmap) KmapAtomicToPage(vaddr uintptr) *mm.PageDesc {
	var (
		pte vmm.PageTableEntry
		err *kernel.Error
	)

	switch {
	case k.as.IsDirect(vaddr):
		return k.memMap.FrameToPage(k.as.DirectFrame(vaddr))
	case k.as.IsKmapFixmap(vaddr):
		pte, err = k.as.FixmapEntry(k.as.VirtToFix(vaddr))
	case k.as.IsPkmap(vaddr):
		pte, err = k.as.PkmapEntry(k.as.PkmapNr(vaddr))
	default:
		return nil
	}

	if err != nil {
		return nil
	}

	return k.memMap.FrameToPage(k.as.EntryFrame(pte))
}
