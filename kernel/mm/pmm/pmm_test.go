package pmm

import (
	"bytes"
	"strings"
	"testing"

	"gopherxen/kernel"
	"gopherxen/kernel/kfmt"
	"gopherxen/kernel/mm"
)

func TestFramePoolAllocFree(t *testing.T) {
	var alloc FramePool

	if _, err := alloc.AllocFrame(); err != errOutOfMemory {
		t.Fatalf("expected error %v; got %v", errOutOfMemory, err)
	}

	if count, err := alloc.AddRegion(0, 100, 170); err != nil || count != 70 {
		t.Fatalf("expected to register 70 frames; got %d, %v", count, err)
	}

	if exp, got := uint64(70), alloc.TotalPages(); got != exp {
		t.Fatalf("expected total pages to be %d; got %d", exp, got)
	}

	alloc.ReserveFrame(100)
	alloc.ReserveFrame(100)
	alloc.ReserveFrame(99)

	for exp := mm.Frame(101); exp < 170; exp++ {
		frame, err := alloc.AllocFrame()
		if err != nil {
			t.Fatal(err)
		}
		if frame != exp {
			t.Fatalf("expected to allocate frame %d; got %d", exp, frame)
		}
	}

	if _, err := alloc.AllocFrame(); err != errOutOfMemory {
		t.Fatalf("expected error %v; got %v", errOutOfMemory, err)
	}

	if err := alloc.FreeFrame(130); err != nil {
		t.Fatal(err)
	}
	if alloc.IsReserved(130) || !alloc.IsReserved(131) || alloc.IsReserved(99) {
		t.Fatal("unexpected reservation state")
	}
	if exp, got := uint64(1), alloc.FreePages(); got != exp {
		t.Fatalf("expected %d free pages; got %d", exp, got)
	}

	if frame, err := alloc.AllocFrame(); err != nil || frame != 130 {
		t.Fatalf("expected to reallocate frame 130; got %d, %v", frame, err)
	}
}

func TestFramePoolErrors(t *testing.T) {
	var alloc FramePool

	if _, err := alloc.AddRegion(0, 10, 5); err != errInvalidRegion {
		t.Fatalf("expected error %v; got %v", errInvalidRegion, err)
	}

	if count, err := alloc.AddRegion(0, 10, 10); err != nil || count != 0 {
		t.Fatalf("expected empty region to be ignored; got %d, %v", count, err)
	}

	if _, err := alloc.AddRegion(0, 10, 20); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		start, end mm.Frame
		expErr     *kernel.Error
	}{
		{5, 11, errRegionOverlap},
		{19, 30, errRegionOverlap},
		{0, 100, errRegionOverlap},
		{20, 30, nil},
	}

	for specIndex, spec := range specs {
		if _, err := alloc.AddRegion(1, spec.start, spec.end); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}

	if err := alloc.FreeFrame(12); err != errDoubleFree {
		t.Fatalf("expected error %v; got %v", errDoubleFree, err)
	}
	if err := alloc.FreeFrame(500); err != errUnknownFrame {
		t.Fatalf("expected error %v; got %v", errUnknownFrame, err)
	}
	if err := alloc.markFrame(500); err != errUnknownFrame {
		t.Fatalf("expected error %v; got %v", errUnknownFrame, err)
	}
}

func TestAddHighPages(t *testing.T) {
	defer kfmt.SetOutputSink(nil)

	var (
		buf   bytes.Buffer
		alloc FramePool
	)
	kfmt.SetOutputSink(&buf)

	if got := alloc.AddHighPages(0, 0x100, 0x200); got != 0x100 {
		t.Fatalf("expected 0x100 frames to be added; got 0x%x", got)
	}

	if got := alloc.AddHighPages(0, 0x180, 0x280); got != 0 {
		t.Fatalf("expected overlapping region to be rejected; got 0x%x", got)
	}

	if exp := errRegionOverlap.Message; !strings.Contains(buf.String(), exp) {
		t.Fatalf("expected output to contain %q; got %q", exp, buf.String())
	}

	buf.Reset()
	alloc.PrintPools()

	exp := "[pmm] frame pools:\n\t[node 0] frames [0x00000100 - 0x00000200], free: 256\n[pmm] available memory: 1024Kb\n"
	if got := buf.String(); got != exp {
		t.Fatalf("expected output:\n%q\ngot:\n%q", exp, got)
	}
}
