package xen

import (
	"sync"
	"testing"

	"gopherxen/kernel/mm"
)

func TestNewP2M(t *testing.T) {
	specs := []struct {
		machineFrames uint64
		mfns          []mm.Frame
		expErr        error
	}{
		{4, nil, errP2MEmpty},
		{4, []mm.Frame{0, 4}, errP2MBadMFN},
		{4, []mm.Frame{mm.InvalidFrame}, errP2MBadMFN},
		{4, []mm.Frame{1, 1}, errP2MDuplicateMFN},
	}

	for specIndex, spec := range specs {
		if _, err := NewP2M(spec.machineFrames, spec.mfns); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}

	// Frames are backed in reverse order
	table, err := NewP2M(8, []mm.Frame{7, 6, 5, 4})
	if err != nil {
		t.Fatal(err)
	}

	if exp, got := uint64(4), table.Len(); got != exp {
		t.Fatalf("expected table to cover %d frames; got %d", exp, got)
	}

	for pfn := mm.Frame(0); pfn < 4; pfn++ {
		mfn := table.PFNToMFN(pfn)
		if exp := 7 - pfn; mfn != exp {
			t.Errorf("[pfn %d] expected mfn %d; got %d", pfn, exp, mfn)
		}

		if got := table.MFNToPFN(mfn); got != pfn {
			t.Errorf("[pfn %d] expected reverse lookup to return %d; got %d", pfn, pfn, got)
		}
	}

	for _, mfn := range []mm.Frame{0, 3, 8} {
		if got := table.MFNToPFN(mfn); got != mm.InvalidFrame {
			t.Errorf("[mfn %d] expected unowned mfn lookup to return InvalidFrame; got %d", mfn, got)
		}
	}

	if got := table.PFNToMFN(4); got != mm.InvalidFrame {
		t.Errorf("expected out of range pfn lookup to return InvalidFrame; got %d", got)
	}
}

func TestP2MSet(t *testing.T) {
	table, err := NewIdentityP2M(4)
	if err != nil {
		t.Fatal(err)
	}

	if err := table.Set(4, 0); err != errP2MBadPFN {
		t.Fatalf("expected error %v; got %v", errP2MBadPFN, err)
	}

	if err := table.Set(0, 4); err != errP2MBadMFN {
		t.Fatalf("expected error %v; got %v", errP2MBadMFN, err)
	}

	// Point pfn 1 to mfn 2; pfn 2 loses its backing frame and mfn 1 is
	// left unowned.
	if err := table.Set(1, 2); err != nil {
		t.Fatal(err)
	}

	if exp, got := mm.Frame(2), table.PFNToMFN(1); got != exp {
		t.Errorf("expected pfn 1 to map to mfn %d; got %d", exp, got)
	}
	if exp, got := mm.Frame(1), table.MFNToPFN(2); got != exp {
		t.Errorf("expected mfn 2 to map to pfn %d; got %d", exp, got)
	}
	if got := table.PFNToMFN(2); got != mm.InvalidFrame {
		t.Errorf("expected pfn 2 to lose its backing frame; got %d", got)
	}
	if got := table.MFNToPFN(1); got != mm.InvalidFrame {
		t.Errorf("expected mfn 1 to be unowned; got %d", got)
	}

	if err := table.Set(1, mm.InvalidFrame); err != nil {
		t.Fatal(err)
	}
	if got := table.MFNToPFN(2); got != mm.InvalidFrame {
		t.Errorf("expected releasing pfn 1 to leave mfn 2 unowned; got %d", got)
	}
}

func TestP2MExchange(t *testing.T) {
	table, _ := NewIdentityP2M(4)

	if err := table.Exchange(0, 4); err != errP2MBadPFN {
		t.Fatalf("expected error %v; got %v", errP2MBadPFN, err)
	}

	if err := table.Exchange(0, 3); err != nil {
		t.Fatal(err)
	}

	if table.PFNToMFN(0) != 3 || table.PFNToMFN(3) != 0 {
		t.Fatal("expected backing frames of pfn 0 and 3 to be swapped")
	}
	if table.MFNToPFN(3) != 0 || table.MFNToPFN(0) != 3 {
		t.Fatal("expected reverse table to reflect the exchange")
	}
}

func TestP2MConcurrentAccess(t *testing.T) {
	table, _ := NewIdentityP2M(16)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = table.Exchange(mm.Frame(i%16), mm.Frame((i+1)%16))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			pfn := mm.Frame(i % 16)
			_ = table.MFNToPFN(table.PFNToMFN(pfn))
		}
	}()
	wg.Wait()

	// The tables must still describe a permutation
	for pfn := mm.Frame(0); pfn < 16; pfn++ {
		if got := table.MFNToPFN(table.PFNToMFN(pfn)); got != pfn {
			t.Fatalf("[pfn %d] expected round-trip lookup to return %d; got %d", pfn, pfn, got)
		}
	}
}
