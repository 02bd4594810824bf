package vmm

import (
	"eduos/kernel/cpu"
	"eduos/kernel/irq"
	"eduos/kernel/kfmt"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	readCR2Fn          = cpu.ReadCR2
	haltFn             = cpu.Halt
	installHandlerFn   = irq.InstallHandler
	uninstallHandlerFn = irq.UninstallHandler

	// currentTaskIDFn reports the id of the task on whose behalf a fault
	// is handled. The scheduler installs the real provider once the task
	// table exists; until then faults are attributed to task 0.
	currentTaskIDFn = func() uint32 { return 0 }
)

// SetCurrentTaskProvider registers the function used to attribute page
// faults to the task that triggered them.
func SetCurrentTaskProvider(provider func() uint32) {
	currentTaskIDFn = provider
}

// installFaultHandler replaces any handler on the page fault vector with the
// paging subsystem's own.
func installFaultHandler() {
	uninstallHandlerFn(irq.PageFaultException)
	installHandlerFn(irq.PageFaultException, pageFaultHandler)
}

// pageFaultHandler reports the fault location, the owning task and the
// decoded error bits in a single diagnostic line and halts the CPU. Fault
// recovery is not attempted: any page fault is fatal.
func pageFaultHandler(regs *irq.Registers) {
	faultAddr := readCR2Fn()

	var accessKind string
	switch {
	case regs.Error&0x2 != 0:
		accessKind = "write"
	case regs.Error&0x10 != 0:
		accessKind = "fetch"
	default:
		accessKind = "read"
	}

	kfmt.Printf(
		"[vmm] page fault (%d) at cs:eip = %x:%x, task = %d, addr = %x, error = %x [ %s %s %s %s ]\n",
		regs.IntNo, regs.CS, regs.EIP, currentTaskIDFn(), faultAddr, regs.Error,
		faultOrigin(regs.Error), faultData(regs.Error), accessKind, faultCause(regs.Error),
	)

	haltFn()
}

func faultOrigin(errorCode uint32) string {
	if errorCode&0x4 != 0 {
		return "user"
	}
	return "supervisor"
}

func faultData(errorCode uint32) string {
	if errorCode&0x10 != 0 {
		return "instruction"
	}
	return "data"
}

func faultCause(errorCode uint32) string {
	switch {
	case errorCode&0x8 != 0:
		return "reserved bit"
	case errorCode&0x1 != 0:
		return "protection"
	default:
		return "not present"
	}
}
