package vmm

import "gopherxen/kernel/mm"

const (
	// PageOffset is the virtual address where the kernel direct map
	// begins. Frame f below the lowmem limit is permanently mapped at
	// PageOffset + f*PageSize.
	PageOffset = uintptr(0xc0000000)

	// FixAddrTop is the highest fixmap address. It sits two pages below
	// the start of the hypervisor hole reserved by Xen for PAE guests
	// (HYPERVISOR_VIRT_START = 0xf5800000).
	FixAddrTop = uintptr(0xf57fe000)

	// pmdSize is the span covered by a single PAE page middle directory
	// entry. The pkmap window is aligned to it so that it is served by a
	// single page table.
	pmdSize = uintptr(1 << 21)

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For PAE, bits 12-51
	// contain the machine address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// DefaultMaxLowFrame is the default lowmem limit (768M).
	DefaultMaxLowFrame = mm.Frame(0x30000)

	// DefaultSlotsPerCPU is the default number of atomic kmap slots that
	// each CPU owns (KM_TYPE_NR).
	DefaultSlotsPerCPU = 20

	// DefaultPkmapEntries is the default number of persistent kmap slots
	// (LAST_PKMAP for PAE).
	DefaultPkmapEntries = 512
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagPAT selects the page attribute table entry for this page.
	FlagPAT

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when switching page tables.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute = 1 << 63
)

// KmapProt is the protection used for kmap and kmap_atomic mappings
// (PAGE_KERNEL).
const KmapProt = FlagPresent | FlagRW | FlagAccessed | FlagDirty | FlagNoExecute
