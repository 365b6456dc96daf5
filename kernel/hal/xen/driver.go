package xen

import (
	"io"

	"gopherxen/kernel"
	"gopherxen/kernel/hal"
	"gopherxen/kernel/kfmt"
)

var errNoMachineMemory = &kernel.Error{Module: "xen", Message: "machine memory is not accessible"}

var featureNames = []struct {
	feat Feature
	name string
}{
	{FeatWritablePageTables, "writable_page_tables"},
	{FeatAutoTranslatedPhysmap, "auto_translated_physmap"},
	{FeatSupervisorModeKernel, "supervisor_mode_kernel"},
	{FeatHighmemAssist, "highmem_assist"},
}

// DriverName implements hal.Driver.
func (h *HostedHypervisor) DriverName() string {
	return "xen_hosted"
}

// DriverVersion implements hal.Driver.
func (h *HostedHypervisor) DriverVersion() (uint16, uint16, uint16) {
	return 3, 4, 0
}

// DriverInit implements hal.Driver. It checks that machine memory can be
// reached and reports the advertised features.
func (h *HostedHypervisor) DriverInit(w io.Writer) *kernel.Error {
	if h.mem == nil {
		return errNoMachineMemory
	}

	if _, err := h.mem.FrameAddr(0); err != nil {
		return errNoMachineMemory
	}

	kfmt.Fprintf(w, "features:")
	for _, entry := range featureNames {
		if h.features.Has(entry.feat) {
			kfmt.Fprintf(w, " %s", entry.name)
		}
	}
	kfmt.Fprintf(w, "\n")

	return nil
}

// ProbeForHostedHypervisor returns a hal.ProbeFn that detects a hosted
// hypervisor operating on mem. The probe fails when mem is a nil interface;
// memory that cannot serve frames (for example a nil or released
// *physmem.Arena) is rejected later by DriverInit.
func ProbeForHostedHypervisor(mem MachineMemory, features Features) hal.ProbeFn {
	return func() hal.Driver {
		if mem == nil {
			return nil
		}
		return NewHostedHypervisor(mem, features)
	}
}
