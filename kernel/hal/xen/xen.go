// Package xen implements the guest side of the Xen paravirtualized memory
// interface: feature discovery, the pseudo-physical to machine frame
// translation tables and the MMU extension hypercall.
package xen

import (
	"gopherxen/kernel"
	"gopherxen/kernel/mm"
)

// Feature identifies an optional capability advertised by the hypervisor
// (XENFEAT_*).
type Feature uint32

const (
	// FeatWritablePageTables allows the guest to update its page tables
	// without going through the hypervisor.
	FeatWritablePageTables Feature = 1 << iota

	// FeatAutoTranslatedPhysmap is set when the hypervisor maintains the
	// pfn to mfn translation on behalf of the guest.
	FeatAutoTranslatedPhysmap

	// FeatSupervisorModeKernel is set when the guest kernel runs in ring 0.
	FeatSupervisorModeKernel

	// FeatHighmemAssist is set when the hypervisor can clear and copy
	// pages by machine frame (MMUEXT_CLEAR_PAGE, MMUEXT_COPY_PAGE).
	FeatHighmemAssist
)

// Features is a set of Feature flags.
type Features uint32

// Has returns true if all input features are present.
func (f Features) Has(feat Feature) bool {
	return uint32(f)&uint32(feat) == uint32(feat)
}

// With returns a copy of f that also includes feat.
func (f Features) With(feat Feature) Features {
	return Features(uint32(f) | uint32(feat))
}

// DomID identifies a Xen domain.
type DomID uint16

// DomIDSelf refers to the calling domain.
const DomIDSelf = DomID(0x7ff0)

// MMUExtCmd selects the operation performed by an MMUExtOp.
type MMUExtCmd uint32

const (
	// MMUExtClearPage zero-fills the machine frame in Arg1.
	MMUExtClearPage MMUExtCmd = 16

	// MMUExtCopyPage copies the machine frame in Arg2 to the machine
	// frame in Arg1.
	MMUExtCopyPage MMUExtCmd = 17
)

// String implements fmt.Stringer.
func (c MMUExtCmd) String() string {
	switch c {
	case MMUExtClearPage:
		return "clear_page"
	case MMUExtCopyPage:
		return "copy_page"
	default:
		return "unknown"
	}
}

// MMUExtOp describes a single MMU extension request (struct mmuext_op).
type MMUExtOp struct {
	Cmd MMUExtCmd

	// Arg1 is the target machine frame.
	Arg1 mm.Frame

	// Arg2 is the source machine frame for MMUExtCopyPage.
	Arg2 mm.Frame
}

// Hypervisor is the privileged host channel used by the guest kernel.
type Hypervisor interface {
	// Features returns the capabilities advertised by the hypervisor.
	Features() Features

	// MMUExtOp executes ops on behalf of domain dom. Operations run in
	// order; an error aborts the batch and reports the first failure.
	MMUExtOp(ops []MMUExtOp, dom DomID) *kernel.Error
}
