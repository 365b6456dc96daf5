package highmem

import (
	"gopherxen/kernel/mm"
	"gopherxen/kernel/mm/vmm"
	"gopherxen/kernel/sync"
)

// pkmapRegistry tracks the persistent kmap slots and the pages that occupy
// them. All fields are protected by lock.
type pkmapRegistry struct {
	lock sync.Spinlock

	// wait holds the tasks that are sleeping until a slot is released.
	wait sync.WaitQueue

	// holders[nr] is the number of outstanding Kmap calls for the page in
	// slot nr. A zero value marks a free slot.
	holders []int

	// slots maps a page to the slot that holds its persistent mapping.
	// A page owns at most one slot.
	slots map[*mm.PageDesc]int

	// lastNr is the most recently allocated slot. The slot search
	// resumes after it.
	lastNr int
}

func (r *pkmapRegistry) init(entries int) {
	r.holders = make([]int, entries)
	r.slots = make(map[*mm.PageDesc]int)
	r.lastNr = entries - 1
}

// freeSlot returns the next free slot after lastNr or -1 if every slot is in
// use.
func (r *pkmapRegistry) freeSlot() int {
	count := len(r.holders)
	for i := 1; i <= count; i++ {
		nr := (r.lastNr + i) % count
		if r.holders[nr] == 0 {
			return nr
		}
	}
	return -1
}

// mapHigh returns the persistent mapping of page, creating it if needed
// (kmap_high). The caller sleeps while all slots are in use.
func (k *Kmap) mapHigh(page *mm.PageDesc, frame mm.Frame) uintptr {
	r := &k.pkmap

	r.lock.Acquire()
	for {
		// Another task may have mapped the page while we were asleep.
		if nr, ok := r.slots[page]; ok {
			r.holders[nr]++
			r.lock.Release()
			return k.as.PkmapAddr(nr)
		}

		if nr := r.freeSlot(); nr >= 0 {
			if err := k.as.SetPkmapEntry(nr, frame, vmm.KmapProt); err != nil {
				r.lock.Release()
				panicFn(err)
				return 0
			}

			r.holders[nr] = 1
			r.slots[page] = nr
			r.lastNr = nr
			r.lock.Release()
			return k.as.PkmapAddr(nr)
		}

		r.wait.Wait(&r.lock)
	}
}

// unmapHigh drops one holder of the persistent mapping of page
// (kunmap_high). The mapping is torn down and waiters are woken up when the
// last holder goes away.
func (k *Kmap) unmapHigh(page *mm.PageDesc) {
	r := &k.pkmap

	r.lock.Acquire()
	nr, ok := r.slots[page]
	if !ok {
		r.lock.Release()
		panicFn(errKunmapNotMapped)
		return
	}

	var needWakeup bool
	if r.holders[nr]--; r.holders[nr] == 0 {
		if err := k.as.ClearPkmapEntry(nr); err != nil {
			r.lock.Release()
			panicFn(err)
			return
		}

		delete(r.slots, page)
		needWakeup = r.wait.Active()
	}
	r.lock.Release()

	if needWakeup {
		r.wait.WakeAll()
	}
}

func (k *Kmap) pkmapAddress(page *mm.PageDesc) uintptr {
	r := &k.pkmap

	r.lock.Acquire()
	defer r.lock.Release()

	if nr, ok := r.slots[page]; ok {
		return k.as.PkmapAddr(nr)
	}
	return 0
}

// Holders returns the number of outstanding Kmap calls for page. Lowmem
// pages never have holders.
func (k *Kmap) Holders(page *mm.PageDesc) int {
	r := &k.pkmap

	r.lock.Acquire()
	defer r.lock.Release()

	if nr, ok := r.slots[page]; ok {
		return r.holders[nr]
	}
	return 0
}

// FreePkmapSlots returns the number of persistent kmap slots that are not
// in use.
func (k *Kmap) FreePkmapSlots() int {
	r := &k.pkmap

	r.lock.Acquire()
	defer r.lock.Release()

	var free int
	for _, holders := range r.holders {
		if holders == 0 {
			free++
		}
	}
	return free
}
