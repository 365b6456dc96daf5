package highmem

import (
	"testing"

	"gopherxen/kernel/mm"
	"gopherxen/kernel/mm/vmm"
	"gopherxen/kernel/smp"
)

func TestKmapAtomicLowmem(t *testing.T) {
	expectNoPanic(t)
	m := newTestMachine(t, vmm.Layout{})
	ctx := m.cpus.CPU(0)

	for frame := mm.Frame(0); frame < testMaxLowFrame; frame++ {
		vaddr := m.k.KmapAtomic(ctx, m.page(frame))
		if exp := m.as.DirectAddr(frame); vaddr != exp {
			t.Fatalf("[frame %d] expected identity address 0x%x; got 0x%x", frame, exp, vaddr)
		}

		if !ctx.PagefaultDisabled() {
			t.Fatalf("[frame %d] expected page faults to be disabled while the mapping is held", frame)
		}

		if m.k.AtomicDepth(ctx) != 0 {
			t.Fatalf("[frame %d] expected lowmem mapping to use no slot", frame)
		}

		m.k.KunmapAtomic(ctx, vaddr)
		if ctx.PagefaultDisabled() || ctx.InAtomic() {
			t.Fatalf("[frame %d] expected page faults to be enabled after unmap", frame)
		}
	}
}

func TestKmapAtomicNested(t *testing.T) {
	expectNoPanic(t)
	m := newTestMachine(t, vmm.Layout{})
	ctx := m.cpus.CPU(1)

	frames := []mm.Frame{4, 9, 11}
	addrs := make([]uintptr, len(frames))

	for depth, frame := range frames {
		m.fill(t, frame, byte(depth))

		addrs[depth] = m.k.KmapAtomic(ctx, m.page(frame))
		if exp := m.as.FixToVirt(depth + 4*ctx.ID()); addrs[depth] != exp {
			t.Fatalf("[depth %d] expected slot address 0x%x; got 0x%x", depth, exp, addrs[depth])
		}

		if got := m.k.KmapAtomicToPage(addrs[depth] + 17); got != m.page(frame) {
			t.Fatalf("[depth %d] expected reverse lookup to return page %d", depth, frame)
		}
	}

	if m.k.AtomicDepth(ctx) != len(frames) || m.k.AtomicDepth(m.cpus.CPU(0)) != 0 {
		t.Fatal("expected slots to be accounted to the mapping CPU only")
	}

	for depth, vaddr := range addrs {
		b := m.k.Bytes(ctx, vaddr)
		for i := range b {
			if exp := byte(depth) + byte(i%251); b[i] != exp {
				t.Fatalf("[depth %d] expected byte %d to be 0x%x; got 0x%x", depth, i, exp, b[i])
			}
		}
	}

	for depth := len(addrs) - 1; depth >= 0; depth-- {
		m.k.KunmapAtomic(ctx, addrs[depth]+5)

		idx := depth + 4*ctx.ID()
		if pte, _ := m.as.FixmapEntry(idx); !pte.None() {
			t.Fatalf("[depth %d] expected slot %d to be cleared", depth, idx)
		}
	}

	if m.k.AtomicDepth(ctx) != 0 || ctx.InAtomic() {
		t.Fatal("expected all atomic mappings to be released")
	}

	if exp, got := uint64(len(frames)), m.as.TLBFlushes(ctx.ID()); got != exp {
		t.Fatalf("expected %d local TLB flushes; got %d", exp, got)
	}

	if m.as.TLBFlushes(0) != 0 {
		t.Fatal("expected atomic unmaps to leave other CPUs alone")
	}
}

func TestKmapAtomicSlotReuse(t *testing.T) {
	expectNoPanic(t)
	m := newTestMachine(t, vmm.Layout{})
	ctx := m.cpus.CPU(0)

	m.fill(t, 5, 0x10)
	m.fill(t, 6, 0x20)

	vaddr := m.k.KmapAtomic(ctx, m.page(5))
	if b := m.k.Bytes(ctx, vaddr); b[0] != 0x10 {
		t.Fatalf("expected to read 0x10; got 0x%x", b[0])
	}
	m.k.KunmapAtomic(ctx, vaddr)

	if again := m.k.KmapAtomic(ctx, m.page(6)); again != vaddr {
		t.Fatalf("expected slot at 0x%x to be reused; got 0x%x", vaddr, again)
	}

	if b := m.k.Bytes(ctx, vaddr); b[0] != 0x20 {
		t.Fatalf("expected reused slot to expose the new page; got 0x%x", b[0])
	}
	m.k.KunmapAtomic(ctx, vaddr)
}

func TestKmapAtomicPFN(t *testing.T) {
	expectNoPanic(t)
	m := newTestMachine(t, vmm.Layout{})
	ctx := m.cpus.CPU(0)

	low := m.k.KmapAtomicPFN(ctx, 2)
	if exp := m.as.DirectAddr(2); low != exp {
		t.Fatalf("expected identity address 0x%x; got 0x%x", exp, low)
	}

	high := m.k.KmapAtomicPFN(ctx, 10)
	if !m.as.IsKmapFixmap(high) || m.k.KmapAtomicToPage(high) != m.page(10) {
		t.Fatalf("expected frame 10 to be mapped in a kmap slot; got 0x%x", high)
	}

	m.k.KunmapAtomic(ctx, high)
	m.k.KunmapAtomic(ctx, low)

	if ctx.InAtomic() {
		t.Fatal("expected page faults to be enabled")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	expectNoPanic(t)
	m := newTestMachine(t, vmm.Layout{})
	ctx := m.cpus.CPU(0)

	for frame := mm.Frame(0); frame < testFrames; frame++ {
		page := m.page(frame)
		if m.memMap.FrameToPage(m.memMap.PageToFrame(page)) != page {
			t.Fatalf("[frame %d] frame/page translation does not round-trip", frame)
		}

		vaddr := m.k.KmapAtomic(ctx, page)
		if got := m.k.KmapAtomicToPage(vaddr); got != page {
			t.Fatalf("[frame %d] expected kmap_atomic_to_page to return the mapped page", frame)
		}
		m.k.KunmapAtomic(ctx, vaddr)
	}

	specs := []uintptr{0, vmm.PageOffset - 1, m.as.HighMemory(), m.as.PkmapAddr(1)}
	for specIndex, vaddr := range specs {
		if got := m.k.KmapAtomicToPage(vaddr); got != nil {
			t.Errorf("[spec %d] expected no page for 0x%x; got frame %d", specIndex, vaddr, got.Frame())
		}
	}
}

func TestKmapAtomicContractViolations(t *testing.T) {
	specs := []struct {
		descr  string
		fn     func(*testing.T, *testMachine)
		expErr interface{}
	}{
		{
			"out of order unmap",
			func(t *testing.T, m *testMachine) {
				ctx := m.cpus.CPU(0)
				var addrs []uintptr
				for _, frame := range []mm.Frame{4, 5, 6} {
					addrs = append(addrs, m.k.KmapAtomic(ctx, m.page(frame)))
				}
				m.k.KunmapAtomic(ctx, addrs[0])
			},
			errKunmapAtomicOrder,
		},
		{
			"unmap without mapping",
			func(t *testing.T, m *testMachine) {
				m.k.KunmapAtomic(m.cpus.CPU(0), m.as.FixToVirt(0))
			},
			errKunmapAtomicOrder,
		},
		{
			"unmap of another CPU's slot",
			func(t *testing.T, m *testMachine) {
				vaddr := m.k.KmapAtomic(m.cpus.CPU(1), m.page(8))
				m.k.KmapAtomic(m.cpus.CPU(0), m.page(9))
				m.k.KunmapAtomic(m.cpus.CPU(0), vaddr)
			},
			errKunmapAtomicOrder,
		},
		{
			"nesting overflow",
			func(t *testing.T, m *testMachine) {
				ctx := m.cpus.CPU(1)
				for i := 0; i < 4; i++ {
					m.k.KmapAtomic(ctx, m.page(mm.Frame(4+i)))
				}
				if vaddr := m.k.KmapAtomic(ctx, m.page(10)); vaddr != 0 {
					t.Errorf("expected overflowing map to fail; got 0x%x", vaddr)
				}
			},
			errAtomicStackOverflow,
		},
		{
			"slot already in use",
			func(t *testing.T, m *testMachine) {
				if err := m.as.SetFixmapEntry(0, 7, vmm.KmapProt); err != nil {
					t.Fatal(err)
				}
				m.k.KmapAtomic(m.cpus.CPU(0), m.page(6))
			},
			errAtomicSlotBusy,
		},
		{
			"unmap of pkmap address",
			func(t *testing.T, m *testMachine) {
				m.k.KunmapAtomic(m.cpus.CPU(0), m.as.PkmapAddr(0))
			},
			errKunmapAtomicAddr,
		},
		{
			"unmap of user address",
			func(t *testing.T, m *testMachine) {
				m.k.KunmapAtomic(m.cpus.CPU(0), 0x1000)
			},
			errKunmapAtomicAddr,
		},
		{
			"cpu outside the layout",
			func(t *testing.T, m *testMachine) {
				cpus, err := smp.NewSet(3)
				if err != nil {
					t.Fatal(err)
				}
				m.k.KmapAtomic(cpus.CPU(2), m.page(6))
			},
			errInvalidCPU,
		},
		{
			"foreign page",
			func(t *testing.T, m *testMachine) {
				m.k.KmapAtomic(m.cpus.CPU(0), &mm.PageDesc{})
			},
			errForeignPage,
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			m := newTestMachine(t, vmm.Layout{})
			errs := recordPanics(t)

			spec.fn(t, m)

			if len(*errs) != 1 || (*errs)[0] != spec.expErr {
				t.Fatalf("expected a single fatal error %v; got %v", spec.expErr, *errs)
			}
		})
	}
}
