// Package device defines the driver contract shared by all hardware
// drivers and the probe mechanism the HAL uses to discover them.
package device

import (
	"io"

	"eduos/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. Drivers log their
	// initialization output to the supplied writer.
	DriverInit(w io.Writer) *kernel.Error
}

// ProbeFn checks for the presence of a particular piece of hardware and
// returns an uninitialized driver for it, or nil if the hardware is absent.
type ProbeFn func() Driver
