package vmm

import (
	"gopherxen/kernel/mm"
	"gopherxen/kernel/sync"
)

// tlb is a per-CPU translation cache for the kmap areas. Like its hardware
// counterpart it is not kept coherent with the page tables: entries stay
// cached until explicitly flushed.
type tlb struct {
	lock    sync.Spinlock
	entries map[mm.Page]PageTableEntry
	flushes uint64
}

func (t *tlb) lookup(page mm.Page) (PageTableEntry, bool) {
	t.lock.Acquire()
	pte, ok := t.entries[page]
	t.lock.Release()
	return pte, ok
}

func (t *tlb) insert(page mm.Page, pte PageTableEntry) {
	t.lock.Acquire()
	t.entries[page] = pte
	t.lock.Release()
}

// flush drops cached translations for pages in [start, end).
func (t *tlb) flush(start, end mm.Page) {
	t.lock.Acquire()
	for page := range t.entries {
		if page >= start && page < end {
			delete(t.entries, page)
		}
	}
	t.flushes++
	t.lock.Release()
}

func (t *tlb) flushCount() uint64 {
	t.lock.Acquire()
	defer t.lock.Release()
	return t.flushes
}
