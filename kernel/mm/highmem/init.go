package highmem

import (
	"gopherxen/kernel/kfmt"
	"gopherxen/kernel/mm"
)

// FrameRegistrar is the page allocator that high memory frames are released
// into during bring-up. It is implemented by *pmm.FramePool.
type FrameRegistrar interface {
	// AddHighPages registers the frames in [start, end) of node as
	// available and returns the number of frames added.
	AddHighPages(node int, start, end mm.Frame) uint64
}

// InitStats summarizes the page accounting performed by
// SetHighmemPagesInit.
type InitStats struct {
	// HighPages is the number of pages spanned by high memory zones
	// (totalhigh_pages).
	HighPages uint64

	// TotalRAMPages is the system-wide page count including high memory
	// (totalram_pages).
	TotalRAMPages uint64
}

// SetHighmemPagesInit releases every frame of each high memory zone to
// registrar. The descriptors of frames below initialPages belong to the
// initial domain allocation and are left untouched; all other descriptors are
// marked unreserved with a single reference. totalRAM is the page count
// accounted before high memory was brought up.
//
// SetHighmemPagesInit must be called exactly once while the system is still
// single threaded.
func SetHighmemPagesInit(zones []mm.Zone, memMap *mm.MemMap, registrar FrameRegistrar, initialPages mm.Frame, totalRAM uint64) InitStats {
	var stats InitStats

	for i := range zones {
		zone := &zones[i]
		if !zone.HighMem {
			continue
		}

		start, end := zone.StartFrame, zone.EndFrame()
		kfmt.Printf("[highmem] initializing %s for node %d (%8x:%8x)\n", zone.Name, zone.Node, uint64(start), uint64(end))

		registrar.AddHighPages(zone.Node, start, end)

		if start < initialPages {
			start = initialPages
		}

		for ; start < end; start++ {
			page := memMap.FrameToPage(start)
			if page == nil {
				break
			}
			page.ClearReserved()
			page.InitRefCount()
		}

		stats.HighPages += zone.SpannedPages
	}

	stats.TotalRAMPages = totalRAM + stats.HighPages
	return stats
}
