// Package smp models the per-CPU execution contexts that kernel code runs on.
//
// Each CPU value is owned by exactly one task at a time (the task currently
// scheduled on that processor) and its counters are only ever touched by that
// task, so none of the methods below synchronize.
package smp

import (
	"gopherxen/kernel"
	"gopherxen/kernel/kfmt"
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errPreemptCountUnderflow   = &kernel.Error{Module: "smp", Message: "preempt count underflow"}
	errPagefaultCountUnderflow = &kernel.Error{Module: "smp", Message: "pagefault_enable without matching pagefault_disable"}
	errIRQCountUnderflow       = &kernel.Error{Module: "smp", Message: "irq_exit without matching irq_enter"}
	errNoCPUs                  = &kernel.Error{Module: "smp", Message: "at least one CPU is required"}
)

// CPU describes the execution state of a single logical processor.
type CPU struct {
	id int

	preemptCount   int
	pagefaultCount int
	hardIRQCount   int
}

// ID returns the logical index of this CPU (smp_processor_id).
func (c *CPU) ID() int {
	return c.id
}

// PreemptDisable prevents the current task from being migrated to another
// CPU. Calls nest.
func (c *CPU) PreemptDisable() {
	c.preemptCount++
}

// PreemptEnable undoes a previous call to PreemptDisable.
func (c *CPU) PreemptEnable() {
	if c.preemptCount == 0 {
		panicFn(errPreemptCountUnderflow)
		return
	}
	c.preemptCount--
}

// PagefaultDisable disables page-fault handling for the current task. While
// page faults are disabled the task also cannot be preempted so it must not
// sleep.
func (c *CPU) PagefaultDisable() {
	c.preemptCount++
	c.pagefaultCount++
}

// PagefaultEnable undoes a previous call to PagefaultDisable.
func (c *CPU) PagefaultEnable() {
	if c.pagefaultCount == 0 {
		panicFn(errPagefaultCountUnderflow)
		return
	}
	c.pagefaultCount--
	c.preemptCount--
}

// PagefaultDisabled returns true if page-fault handling is disabled.
func (c *CPU) PagefaultDisabled() bool {
	return c.pagefaultCount != 0
}

// IRQEnter marks the start of an interrupt handler running on this CPU.
func (c *CPU) IRQEnter() {
	c.hardIRQCount++
}

// IRQExit marks the end of an interrupt handler running on this CPU.
func (c *CPU) IRQExit() {
	if c.hardIRQCount == 0 {
		panicFn(errIRQCountUnderflow)
		return
	}
	c.hardIRQCount--
}

// InInterrupt returns true while the CPU services an interrupt.
func (c *CPU) InInterrupt() bool {
	return c.hardIRQCount != 0
}

// InAtomic returns true if the current task is not allowed to sleep.
func (c *CPU) InAtomic() bool {
	return c.preemptCount != 0 || c.hardIRQCount != 0
}

// Set holds the CPUs that are online.
type Set struct {
	cpus []*CPU
}

// NewSet returns a Set with count online CPUs numbered from 0.
func NewSet(count int) (*Set, *kernel.Error) {
	if count <= 0 {
		return nil, errNoCPUs
	}

	s := &Set{cpus: make([]*CPU, count)}
	for id := range s.cpus {
		s.cpus[id] = &CPU{id: id}
	}
	return s, nil
}

// Len returns the number of online CPUs.
func (s *Set) Len() int {
	return len(s.cpus)
}

// CPU returns the CPU with the given index or nil if no such CPU exists.
func (s *Set) CPU(id int) *CPU {
	if id < 0 || id >= len(s.cpus) {
		return nil
	}
	return s.cpus[id]
}

// Visit invokes visitor for each online CPU in index order. Visiting stops
// when visitor returns false.
func (s *Set) Visit(visitor func(*CPU) bool) {
	for _, c := range s.cpus {
		if !visitor(c) {
			return
		}
	}
}
