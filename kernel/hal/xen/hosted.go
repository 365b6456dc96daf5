package xen

import (
	"sync/atomic"

	"gopherxen/kernel"
	"gopherxen/kernel/mm"
)

var (
	errUnsupportedCmd = &kernel.Error{Module: "xen", Message: "unsupported mmuext command"}
	errForeignDomain  = &kernel.Error{Module: "xen", Message: "mmuext operations on foreign domains are not permitted"}
	errNotAdvertised  = &kernel.Error{Module: "xen", Message: "requested operation requires a feature that is not advertised"}
)

// MachineMemory provides access to the contents of machine frames.
type MachineMemory interface {
	FrameAddr(mfn mm.Frame) (uintptr, *kernel.Error)
}

// HostedHypervisor is a Hypervisor that executes MMU extension operations
// directly against a block of machine memory. It stands in for the real
// hypercall interface when the kernel runs hosted.
type HostedHypervisor struct {
	mem      MachineMemory
	features Features

	issued uint64
}

// NewHostedHypervisor returns a hypervisor that advertises features and
// operates on mem.
func NewHostedHypervisor(mem MachineMemory, features Features) *HostedHypervisor {
	return &HostedHypervisor{mem: mem, features: features}
}

// Features implements Hypervisor.
func (h *HostedHypervisor) Features() Features {
	return h.features
}

// Issued returns the number of operations executed successfully.
func (h *HostedHypervisor) Issued() uint64 {
	return atomic.LoadUint64(&h.issued)
}

// MMUExtOp implements Hypervisor.
func (h *HostedHypervisor) MMUExtOp(ops []MMUExtOp, dom DomID) *kernel.Error {
	if dom != DomIDSelf {
		return errForeignDomain
	}

	for _, op := range ops {
		if err := h.exec(op); err != nil {
			return err
		}
		atomic.AddUint64(&h.issued, 1)
	}

	return nil
}

func (h *HostedHypervisor) exec(op MMUExtOp) *kernel.Error {
	switch op.Cmd {
	case MMUExtClearPage, MMUExtCopyPage:
		if !h.features.Has(FeatHighmemAssist) {
			return errNotAdvertised
		}
	default:
		return errUnsupportedCmd
	}

	dst, err := h.mem.FrameAddr(op.Arg1)
	if err != nil {
		return err
	}

	if op.Cmd == MMUExtClearPage {
		kernel.Memset(dst, 0, mm.PageSize)
		return nil
	}

	src, err := h.mem.FrameAddr(op.Arg2)
	if err != nil {
		return err
	}

	kernel.Memcopy(src, dst, mm.PageSize)
	return nil
}
