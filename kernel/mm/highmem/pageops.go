package highmem

import (
	"sync/atomic"

	"gopherxen/kernel"
	"gopherxen/kernel/hal/xen"
	"gopherxen/kernel/mm"
	"gopherxen/kernel/mm/vmm"
)

// PageOperator clears and copies the contents of pages that may live in high
// memory.
type PageOperator interface {
	// ClearPage zero-fills page (clear_highpage).
	ClearPage(ctx Context, page *mm.PageDesc)

	// CopyPage copies the contents of src into dst (copy_highpage).
	CopyPage(ctx Context, dst, src *mm.PageDesc)

	// Stats returns the operation counters of the operator.
	Stats() PageOpStats
}

// PageOpStats reports which path served the operations of a PageOperator.
type PageOpStats struct {
	// HostOps counts operations completed by the hypervisor.
	HostOps uint64

	// Fallbacks counts operations that were attempted by the hypervisor
	// but had to be redone by the CPU.
	Fallbacks uint64

	// SoftwareOps counts operations performed through atomic mappings.
	SoftwareOps uint64
}

type pageOpCounters struct {
	hostOps     uint64
	fallbacks   uint64
	softwareOps uint64
}

func (c *pageOpCounters) snapshot() PageOpStats {
	return PageOpStats{
		HostOps:     atomic.LoadUint64(&c.hostOps),
		Fallbacks:   atomic.LoadUint64(&c.fallbacks),
		SoftwareOps: atomic.LoadUint64(&c.softwareOps),
	}
}

// NewPageOperator returns the PageOperator suited to the platform. When hv
// advertises xen.FeatHighmemAssist, operations on high pages are offloaded
// to the hypervisor with the frames translated through p2m; otherwise all
// operations go through atomic mappings.
func NewPageOperator(k *Kmap, hv xen.Hypervisor, p2m vmm.FrameTranslator) PageOperator {
	sw := &softwarePageOps{k: k}
	if hv == nil || p2m == nil || !hv.Features().Has(xen.FeatHighmemAssist) {
		return sw
	}

	return &hostPageOps{softwarePageOps: sw, hv: hv, p2m: p2m}
}

// softwarePageOps performs page operations with the CPU through atomic
// mappings.
type softwarePageOps struct {
	k     *Kmap
	stats pageOpCounters
}

func (op *softwarePageOps) ClearPage(ctx Context, page *mm.PageDesc) {
	vaddr := op.k.KmapAtomic(ctx, page)
	if addr, ok := op.k.hostAddr(ctx, vaddr); ok {
		kernel.Memset(addr, 0, mm.PageSize)
	}
	op.k.KunmapAtomic(ctx, vaddr)

	atomic.AddUint64(&op.stats.softwareOps, 1)
}

// CopyPage maps dst before src and releases the mappings in reverse order.
func (op *softwarePageOps) CopyPage(ctx Context, dst, src *mm.PageDesc) {
	vto := op.k.KmapAtomic(ctx, dst)
	vfrom := op.k.KmapAtomic(ctx, src)

	if to, ok := op.k.hostAddr(ctx, vto); ok {
		if from, ok := op.k.hostAddr(ctx, vfrom); ok {
			kernel.Memcopy(from, to, mm.PageSize)
		}
	}

	op.k.KunmapAtomic(ctx, vfrom)
	op.k.KunmapAtomic(ctx, vto)

	atomic.AddUint64(&op.stats.softwareOps, 1)
}

func (op *softwarePageOps) Stats() PageOpStats {
	return op.stats.snapshot()
}

// hostPageOps offloads operations on high pages to the hypervisor and falls
// back to softwarePageOps whenever the hypervisor can not complete them.
type hostPageOps struct {
	*softwarePageOps

	hv  xen.Hypervisor
	p2m vmm.FrameTranslator
}

func (op *hostPageOps) ClearPage(ctx Context, page *mm.PageDesc) {
	if page.HighMem() {
		if op.hostClear(page) {
			atomic.AddUint64(&op.stats.hostOps, 1)
			return
		}
		atomic.AddUint64(&op.stats.fallbacks, 1)
	}

	op.softwarePageOps.ClearPage(ctx, page)
}

func (op *hostPageOps) CopyPage(ctx Context, dst, src *mm.PageDesc) {
	if dst.HighMem() || src.HighMem() {
		if op.hostCopy(dst, src) {
			atomic.AddUint64(&op.stats.hostOps, 1)
			return
		}
		atomic.AddUint64(&op.stats.fallbacks, 1)
	}

	op.softwarePageOps.CopyPage(ctx, dst, src)
}

func (op *hostPageOps) hostClear(page *mm.PageDesc) bool {
	mfn := op.p2m.PFNToMFN(op.k.memMap.PageToFrame(page))
	if !mfn.Valid() {
		return false
	}

	return op.hv.MMUExtOp([]xen.MMUExtOp{{Cmd: xen.MMUExtClearPage, Arg1: mfn}}, xen.DomIDSelf) == nil
}

// hostCopy asks the hypervisor to copy src to dst. The machine frames are
// only trusted while they still translate back to the pages they were
// derived from; this is checked before the request is issued and again once
// it completes since the P2M table can be updated concurrently.
func (op *hostPageOps) hostCopy(dst, src *mm.PageDesc) bool {
	var (
		toPFN   = op.k.memMap.PageToFrame(dst)
		fromPFN = op.k.memMap.PageToFrame(src)
		req     = xen.MMUExtOp{
			Cmd:  xen.MMUExtCopyPage,
			Arg1: op.p2m.PFNToMFN(toPFN),
			Arg2: op.p2m.PFNToMFN(fromPFN),
		}
	)

	if !req.Arg1.Valid() || !req.Arg2.Valid() || !op.framesMatch(req, toPFN, fromPFN) {
		return false
	}

	if err := op.hv.MMUExtOp([]xen.MMUExtOp{req}, xen.DomIDSelf); err != nil {
		return false
	}

	return op.framesMatch(req, toPFN, fromPFN)
}

func (op *hostPageOps) framesMatch(req xen.MMUExtOp, toPFN, fromPFN mm.Frame) bool {
	return op.p2m.MFNToPFN(req.Arg2) == fromPFN && op.p2m.MFNToPFN(req.Arg1) == toPFN
}
