// Package hal detects the platform devices that the kernel depends on and
// initializes their drivers.
package hal

import (
	"bytes"
	"io"
	"sort"

	"gopherxen/kernel"
	"gopherxen/kernel/kfmt"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it.
type ProbeFn func() Driver

// DetectOrder specifies when a driver is probed relative to the others.
type DetectOrder int8

const (
	// DetectOrderEarly is used by drivers that other drivers depend on,
	// such as the hypervisor interface.
	DetectOrderEarly DetectOrder = -128

	// DetectOrderNormal is used by regular device drivers.
	DetectOrderNormal DetectOrder = 0

	// DetectOrderLast is used by drivers that must be probed after all
	// other drivers.
	DetectOrderLast DetectOrder = 127
)

// DriverInfo describes a driver that can be probed.
type DriverInfo struct {
	// Order specifies at which stage the driver is probed.
	Order DetectOrder

	// Probe checks for the presence of the device and returns its
	// driver or nil if the device is absent.
	Probe ProbeFn
}

// DriverInfoList is a list of DriverInfo entries that can be sorted by
// detection order.
type DriverInfoList []*DriverInfo

// Len is the number of elements in the collection.
func (l DriverInfoList) Len() int { return len(l) }

// Less reports whether the element with index i should sort before the
// element with index j.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

// Swap swaps the elements with indexes i and j.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Probe executes the probe function of each driver in detection order and
// returns the drivers that were detected and initialized successfully. The
// output of each driver is prefixed with its name and version.
func Probe(drivers DriverInfoList) []Driver {
	var (
		active []Driver
		strBuf bytes.Buffer
		w      = kfmt.PrefixWriter{Sink: kfmt.Writer()}
	)

	sorted := append(DriverInfoList(nil), drivers...)
	sort.Stable(sorted)

	for _, info := range sorted {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		active = append(active, drv)
	}

	return active
}
