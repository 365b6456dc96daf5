package xen

import (
	"gopherxen/kernel"
	"gopherxen/kernel/mm"
	"gopherxen/kernel/sync"
)

var (
	errP2MEmpty        = &kernel.Error{Module: "xen", Message: "p2m table must map at least one frame"}
	errP2MBadMFN       = &kernel.Error{Module: "xen", Message: "p2m entry points outside machine memory"}
	errP2MDuplicateMFN = &kernel.Error{Module: "xen", Message: "machine frame is mapped by more than one pseudo-physical frame"}
	errP2MBadPFN       = &kernel.Error{Module: "xen", Message: "pseudo-physical frame is not covered by the p2m table"}
)

// P2M holds the pseudo-physical to machine (phys_to_machine_mapping) and the
// machine to pseudo-physical (machine_to_phys_mapping) frame tables of a
// guest. Entries may be reassigned at run-time (e.g. by the balloon driver)
// so lookups are serialized with updates.
type P2M struct {
	lock sync.Spinlock
	p2m  []mm.Frame
	m2p  []mm.Frame
}

// NewP2M creates the translation tables for a guest with len(mfns)
// pseudo-physical frames where frame i is backed by machine frame mfns[i].
// machineFrames is the number of machine frames available to the host.
func NewP2M(machineFrames uint64, mfns []mm.Frame) (*P2M, *kernel.Error) {
	if len(mfns) == 0 {
		return nil, errP2MEmpty
	}

	t := &P2M{
		p2m: make([]mm.Frame, len(mfns)),
		m2p: make([]mm.Frame, machineFrames),
	}

	for mfn := range t.m2p {
		t.m2p[mfn] = mm.InvalidFrame
	}

	for pfn, mfn := range mfns {
		if !mfn.Valid() || uint64(mfn) >= machineFrames {
			return nil, errP2MBadMFN
		}

		if t.m2p[mfn].Valid() {
			return nil, errP2MDuplicateMFN
		}

		t.p2m[pfn] = mfn
		t.m2p[mfn] = mm.Frame(pfn)
	}

	return t, nil
}

// NewIdentityP2M creates translation tables where pseudo-physical frame i is
// backed by machine frame i.
func NewIdentityP2M(frameCount uint64) (*P2M, *kernel.Error) {
	mfns := make([]mm.Frame, frameCount)
	for pfn := range mfns {
		mfns[pfn] = mm.Frame(pfn)
	}

	return NewP2M(frameCount, mfns)
}

// Len returns the number of pseudo-physical frames covered by the table.
func (t *P2M) Len() uint64 {
	return uint64(len(t.p2m))
}

// PFNToMFN returns the machine frame backing pfn or mm.InvalidFrame
// (pfn_to_mfn).
func (t *P2M) PFNToMFN(pfn mm.Frame) mm.Frame {
	t.lock.Acquire()
	defer t.lock.Release()

	if uint64(pfn) >= uint64(len(t.p2m)) {
		return mm.InvalidFrame
	}
	return t.p2m[pfn]
}

// MFNToPFN returns the pseudo-physical frame that is backed by mfn or
// mm.InvalidFrame (mfn_to_pfn).
func (t *P2M) MFNToPFN(mfn mm.Frame) mm.Frame {
	t.lock.Acquire()
	defer t.lock.Release()

	if uint64(mfn) >= uint64(len(t.m2p)) {
		return mm.InvalidFrame
	}
	return t.m2p[mfn]
}

// Set points pfn to machine frame mfn and updates the reverse table. The
// machine frame previously backing pfn is left unowned, while the previous
// owner of mfn (if any) loses its backing frame. Passing mm.InvalidFrame
// releases pfn's backing frame without assigning a new one.
func (t *P2M) Set(pfn, mfn mm.Frame) *kernel.Error {
	t.lock.Acquire()
	defer t.lock.Release()

	if uint64(pfn) >= uint64(len(t.p2m)) {
		return errP2MBadPFN
	}

	if mfn.Valid() && uint64(mfn) >= uint64(len(t.m2p)) {
		return errP2MBadMFN
	}

	if old := t.p2m[pfn]; old.Valid() {
		t.m2p[old] = mm.InvalidFrame
	}

	if mfn.Valid() {
		if prevOwner := t.m2p[mfn]; prevOwner.Valid() {
			t.p2m[prevOwner] = mm.InvalidFrame
		}
		t.m2p[mfn] = pfn
	}

	t.p2m[pfn] = mfn
	return nil
}

// Exchange swaps the machine frames backing pfnA and pfnB
// (XENMEM_exchange).
func (t *P2M) Exchange(pfnA, pfnB mm.Frame) *kernel.Error {
	t.lock.Acquire()
	defer t.lock.Release()

	if uint64(pfnA) >= uint64(len(t.p2m)) || uint64(pfnB) >= uint64(len(t.p2m)) {
		return errP2MBadPFN
	}

	mfnA, mfnB := t.p2m[pfnA], t.p2m[pfnB]
	t.p2m[pfnA], t.p2m[pfnB] = mfnB, mfnA

	if mfnB.Valid() {
		t.m2p[mfnB] = pfnA
	}
	if mfnA.Valid() {
		t.m2p[mfnA] = pfnB
	}

	return nil
}
