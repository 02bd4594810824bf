// Package hal discovers the output devices the kernel talks to and wires
// the active terminal into the kernel's formatted output path.
package hal

import (
	"bytes"

	"eduos/device"
	"eduos/device/tty"
	"eduos/device/video/console"
	"eduos/kernel/kfmt"
)

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	activeConsole console.Device
	activeTTY     tty.Device

	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver
}

var (
	devices managedDevices
	strBuf  bytes.Buffer
)

// ActiveTTY returns the currently active TTY.
func ActiveTTY() tty.Device {
	return devices.activeTTY
}

// DetectHardware probes for output hardware and initializes the appropriate
// drivers: consoles first so that a discovered TTY can be linked to one
// immediately.
func DetectHardware() {
	probe(console.ProbeFuncs)
	probe(tty.ProbeFuncs)
}

// probe executes the supplied probe functions and invokes onDriverInit for
// each successfully initialized driver.
func probe(probeFns []device.ProbeFn) {
	var w = kfmt.PrefixWriter{Sink: kfmt.GetOutputSink()}

	for _, probeFn := range probeFns {
		drv := probeFn()
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
		onDriverInit(drv)
		devices.activeDrivers = append(devices.activeDrivers, drv)
	}
}

// onDriverInit promotes the first discovered console and TTY to active and
// links them together as soon as both exist.
func onDriverInit(drv device.Driver) {
	switch drvImpl := drv.(type) {
	case console.Device:
		if devices.activeConsole != nil {
			return
		}

		devices.activeConsole = drvImpl
		if devices.activeTTY != nil {
			linkTTYToConsole()
		}
	case tty.Device:
		if devices.activeTTY != nil {
			return
		}

		devices.activeTTY = drvImpl
		if devices.activeConsole != nil {
			linkTTYToConsole()
		}
	}
}

// linkTTYToConsole connects the active TTY device to the active console
// device and redirects the kernel's formatted output to the terminal. Any
// output buffered before this point is replayed onto the screen.
func linkTTYToConsole() {
	devices.activeTTY.AttachTo(devices.activeConsole)
	devices.activeTTY.SetState(tty.StateActive)
	kfmt.SetOutputSink(devices.activeTTY)
}
