// Package kmain brings up a hosted gopherxen kernel: machine memory, the
// Xen translation tables, the kernel address space, the CPUs and the
// highmem mapping layer.
package kmain

import (
	"io"
	"os"

	"gopherxen/kernel"
	"gopherxen/kernel/hal"
	"gopherxen/kernel/hal/xen"
	"gopherxen/kernel/kfmt"
	"gopherxen/kernel/mm"
	"gopherxen/kernel/mm/highmem"
	"gopherxen/kernel/mm/physmem"
	"gopherxen/kernel/mm/pmm"
	"gopherxen/kernel/mm/vmm"
	"gopherxen/kernel/smp"
)

var (
	errKmainReturned      = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errMaxLowFrame        = &kernel.Error{Module: "kmain", Message: "lowmem limit exceeds the number of frames"}
	errInitialFrames      = &kernel.Error{Module: "kmain", Message: "initial allocation exceeds the number of frames"}
	errNoHypervisor       = &kernel.Error{Module: "kmain", Message: "no hypervisor interface detected"}
	errBootSelfTestFailed = &kernel.Error{Module: "kmain", Message: "highmem self test failed"}

	// newArenaFn is mocked by tests.
	newArenaFn = physmem.NewArena

	// consoleSink receives the kernel output once Kmain starts. It is
	// mocked by tests.
	consoleSink io.Writer = os.Stdout
)

// Config describes the hosted machine to boot. Zero sizes and counts are
// replaced by the values returned by DefaultConfig.
type Config struct {
	// Frames is the number of guest frames (and machine frames) of the
	// domain.
	Frames uint64

	// MaxLowFrame is the first frame not covered by the direct map.
	MaxLowFrame mm.Frame

	// InitialFrames is the size of the initial domain allocation
	// (start_info.nr_pages). The descriptors of high frames below it are
	// not initialized during bring-up.
	InitialFrames mm.Frame

	// NumCPUs is the number of online CPUs.
	NumCPUs int

	// SlotsPerCPU is the kmap_atomic nesting limit.
	SlotsPerCPU int

	// PkmapEntries is the number of persistent kmap slots.
	PkmapEntries int

	// HighmemAssist enables the hypervisor clear/copy page
	// operations.
	HighmemAssist bool

	// Node is the memory node that all frames belong to.
	Node int
}

// DefaultConfig returns the configuration of a 1G domain with 768M of
// lowmem running on two CPUs with highmem assist enabled.
func DefaultConfig() Config {
	return Config{
		Frames:        0x40000,
		MaxLowFrame:   vmm.DefaultMaxLowFrame,
		InitialFrames: vmm.DefaultMaxLowFrame,
		NumCPUs:       2,
		SlotsPerCPU:   vmm.DefaultSlotsPerCPU,
		PkmapEntries:  vmm.DefaultPkmapEntries,
		HighmemAssist: true,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.Frames == 0 {
		cfg.Frames = def.Frames
	}
	if cfg.MaxLowFrame == 0 {
		cfg.MaxLowFrame = def.MaxLowFrame
		if uint64(cfg.MaxLowFrame) > cfg.Frames {
			cfg.MaxLowFrame = mm.Frame(cfg.Frames)
		}
	}
	if cfg.NumCPUs == 0 {
		cfg.NumCPUs = def.NumCPUs
	}
	if cfg.SlotsPerCPU == 0 {
		cfg.SlotsPerCPU = def.SlotsPerCPU
	}
	if cfg.PkmapEntries == 0 {
		cfg.PkmapEntries = def.PkmapEntries
	}
	return cfg
}

func (cfg Config) validate() *kernel.Error {
	switch {
	case uint64(cfg.MaxLowFrame) > cfg.Frames:
		return errMaxLowFrame
	case uint64(cfg.InitialFrames) > cfg.Frames:
		return errInitialFrames
	}
	return nil
}

// System holds the subsystems of a booted kernel.
type System struct {
	Config Config

	Arena        *physmem.Arena
	P2M          *xen.P2M
	Hypervisor   xen.Hypervisor
	Drivers      []hal.Driver
	MemMap       *mm.MemMap
	AddressSpace *vmm.AddressSpace
	CPUs         *smp.Set
	Frames       *pmm.FramePool
	Kmap         *highmem.Kmap
	PageOps      highmem.PageOperator
	Stats        highmem.InitStats
}

// Boot brings up a kernel for cfg. The returned System must be released with
// Shutdown.
func Boot(cfg Config) (*System, *kernel.Error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	arena, err := newArenaFn(cfg.Frames)
	if err != nil {
		return nil, err
	}

	sys := &System{Config: cfg, Arena: arena, Frames: &pmm.FramePool{}}
	if err = sys.init(); err != nil {
		if relErr := arena.Release(); relErr != nil {
			kfmt.Printf("[kmain] unable to release machine memory after failed boot: %s\n", relErr.Message)
		}
		return nil, err
	}

	return sys, nil
}

func (sys *System) init() *kernel.Error {
	var (
		cfg = sys.Config
		err *kernel.Error
	)

	if sys.P2M, err = xen.NewIdentityP2M(cfg.Frames); err != nil {
		return err
	}

	features := xen.Features(0).With(xen.FeatWritablePageTables)
	if cfg.HighmemAssist {
		features = features.With(xen.FeatHighmemAssist)
	}

	sys.Drivers = hal.Probe(hal.DriverInfoList{
		{Order: hal.DetectOrderEarly, Probe: xen.ProbeForHostedHypervisor(sys.Arena, features)},
	})
	for _, drv := range sys.Drivers {
		if hv, ok := drv.(xen.Hypervisor); ok {
			sys.Hypervisor = hv
			break
		}
	}
	if sys.Hypervisor == nil {
		return errNoHypervisor
	}

	if sys.MemMap, err = mm.NewMemMap(cfg.Frames, cfg.MaxLowFrame); err != nil {
		return err
	}

	layout := vmm.Layout{
		MaxLowFrame:  cfg.MaxLowFrame,
		NumCPUs:      cfg.NumCPUs,
		SlotsPerCPU:  cfg.SlotsPerCPU,
		PkmapEntries: cfg.PkmapEntries,
	}
	if sys.AddressSpace, err = vmm.NewAddressSpace(layout, sys.P2M, sys.Arena); err != nil {
		return err
	}

	if sys.CPUs, err = smp.NewSet(cfg.NumCPUs); err != nil {
		return err
	}

	if sys.Kmap, err = highmem.New(sys.AddressSpace, sys.MemMap); err != nil {
		return err
	}

	zones := mm.SplitZones(cfg.Node, cfg.Frames, cfg.MaxLowFrame)
	sys.Stats = highmem.SetHighmemPagesInit(zones, sys.MemMap, sys.Frames, cfg.InitialFrames, uint64(cfg.MaxLowFrame))
	sys.PageOps = highmem.NewPageOperator(sys.Kmap, sys.Hypervisor, sys.P2M)

	sys.printSummary()
	return nil
}

// Shutdown releases the machine memory of the system.
func (sys *System) Shutdown() *kernel.Error {
	return sys.Arena.Release()
}

func (sys *System) printSummary() {
	w := kfmt.PrefixWriter{Sink: kfmt.Writer(), Prefix: []byte("[kmain] ")}
	layout := sys.AddressSpace.Layout()

	kfmt.Fprintf(&w, "memory: %d frames, lowmem: %dKb, highmem: %dKb\n",
		sys.Config.Frames,
		uint64(mm.Size(layout.MaxLowFrame)*mm.Size(mm.PageSize)/mm.Kb),
		uint64(mm.Size(sys.Stats.HighPages)*mm.Size(mm.PageSize)/mm.Kb),
	)
	kfmt.Fprintf(&w, "high_memory: 0x%8x, pkmap: 0x%8x (%d slots), fixmap: 0x%8x (%d slots)\n",
		sys.AddressSpace.HighMemory(),
		sys.AddressSpace.PkmapBase(), layout.PkmapEntries,
		sys.AddressSpace.FixToVirt(sys.AddressSpace.KmapSlots()-1), sys.AddressSpace.KmapSlots(),
	)
	kfmt.Fprintf(&w, "cpus: %d, totalram: %d pages, highmem assist: %t\n",
		sys.CPUs.Len(), sys.Stats.TotalRAMPages, sys.Hypervisor.Features().Has(xen.FeatHighmemAssist),
	)
}

// SelfTest exercises the mapping layer on every CPU: each CPU clears a high
// page, fills it through a persistent mapping and copies it to a second high
// page. It returns an error if the pages do not hold the expected contents.
func (sys *System) SelfTest() *kernel.Error {
	var (
		result  *kernel.Error
		high    = sys.Config.MaxLowFrame
		pairs   = uint64(sys.Config.Frames-uint64(high)) / 2
		visited int
	)

	sys.CPUs.Visit(func(cpu *smp.CPU) bool {
		if uint64(visited) >= pairs {
			return false
		}

		src := sys.MemMap.FrameToPage(high + mm.Frame(2*visited))
		dst := sys.MemMap.FrameToPage(high + mm.Frame(2*visited+1))
		visited++

		sys.PageOps.ClearPage(cpu, src)

		pattern := byte(0xa0 + cpu.ID())
		vaddr := sys.Kmap.Kmap(cpu, src)
		b := sys.Kmap.Bytes(cpu, vaddr)
		for i := range b {
			b[i] = pattern
		}
		sys.Kmap.Kunmap(cpu, src)

		sys.PageOps.CopyPage(cpu, dst, src)

		vaddr = sys.Kmap.KmapAtomic(cpu, dst)
		for _, b := range sys.Kmap.Bytes(cpu, vaddr) {
			if b != pattern {
				result = errBootSelfTestFailed
				break
			}
		}
		sys.Kmap.KunmapAtomic(cpu, vaddr)

		return result == nil
	})

	if result == nil {
		stats := sys.PageOps.Stats()
		kfmt.Printf("[kmain] highmem self test passed on %d cpus (host ops: %d, fallbacks: %d, software ops: %d)\n",
			visited, stats.HostOps, stats.Fallbacks, stats.SoftwareOps)
	}

	return result
}

// Kmain redirects the kernel output to the console, boots the default
// configuration, runs the mapping self test and shuts the system down. Kmain
// is not expected to return; the calling context is halted once the system
// has been shut down.
func Kmain() {
	kfmt.SetOutputSink(consoleSink)

	sys, err := Boot(DefaultConfig())
	if err != nil {
		kfmt.Panic(err)
		return
	}

	if err = sys.SelfTest(); err != nil {
		kfmt.Panic(err)
		return
	}

	if err = sys.Shutdown(); err != nil {
		kfmt.Panic(err)
		return
	}

	kfmt.Panic(errKmainReturned)
}
