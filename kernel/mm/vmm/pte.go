package vmm

import (
	"sync/atomic"

	"gopherxen/kernel"
	"gopherxen/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// PageTableEntry describes a page table entry. Entries encode a machine
// frame address and a set of flags.
type PageTableEntry uintptr

// MakeEntry returns an entry that maps machine frame mfn with the supplied
// flags (mk_pte).
func MakeEntry(mfn mm.Frame, flags PageTableEntryFlag) PageTableEntry {
	var pte PageTableEntry
	pte.SetFrame(mfn)
	pte.SetFlags(flags)
	return pte
}

// None returns true if the entry is completely clear (pte_none).
func (pte PageTableEntry) None() bool {
	return pte == 0
}

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *PageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *PageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Flags returns the flag bits of the entry.
func (pte PageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uintptr(pte) &^ ptePhysPageMask)
}

// Frame returns the machine frame that this page table entry points to.
func (pte PageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given machine frame.
func (pte *PageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (PageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | (frame.Address() & ptePhysPageMask))
}

// load atomically reads the entry. Page table entries live in tables that
// are shared by all CPUs, so every access goes through load and store.
func (pte *PageTableEntry) load() PageTableEntry {
	return PageTableEntry(atomic.LoadUintptr((*uintptr)(pte)))
}

// store atomically replaces the entry.
func (pte *PageTableEntry) store(val PageTableEntry) {
	atomic.StoreUintptr((*uintptr)(pte), uintptr(val))
}
