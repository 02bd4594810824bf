// Package irq provides the registration surface for interrupt and exception
// handlers. The IDT itself and the per-vector trampolines live in the entry
// stub; the trampolines funnel into Dispatch with a snapshot of the
// interrupted register state.
package irq

import (
	"io"

	"eduos/kernel/cpu"
	"eduos/kernel/kfmt"
)

// vectorCount is the number of usable IDT slots.
const vectorCount = 256

var (
	// The privileged flag-manipulation routines are installed by Init
	// once the entry stub has the IDT and trampolines in place. Until
	// then interrupt masking is a no-op: nothing can fire yet. Tests
	// substitute their own recorders.
	saveFlagsFn         = func() uintptr { return 0 }
	restoreFlagsFn      = func(uintptr) {}
	disableInterruptsFn = func() {}

	handlers [vectorCount]Handler
)

// Init installs the hardware interrupt-flag routines. It must be invoked by
// the kernel entry point before any interrupt source is unmasked.
func Init() {
	saveFlagsFn = cpu.SaveFlags
	restoreFlagsFn = cpu.RestoreFlags
	disableInterruptsFn = cpu.DisableInterrupts
}

// Registers contains a snapshot of the register values pushed by the
// interrupt trampolines when an interrupt, exception or trap occurs. The
// layout matches the frame constructed by the entry stub (and by the
// scheduler when it forges the initial frame for a new task): segment
// registers first, then the PUSHAL block, the vector and error code, and
// finally the frame used by IRET. UserESP and SS are only pushed by the CPU
// for interrupts raised from ring 3.
type Registers struct {
	GS uint32
	FS uint32
	ES uint32
	DS uint32

	EDI uint32
	ESI uint32
	EBP uint32
	ESP uint32
	EBX uint32
	EDX uint32
	ECX uint32
	EAX uint32

	// IntNo is the vector number; Error the exception error code (0 for
	// vectors that do not push one).
	IntNo uint32
	Error uint32

	EIP    uint32
	CS     uint32
	EFlags uint32

	UserESP uint32
	SS      uint32
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "EAX = %8x EBX = %8x ECX = %8x EDX = %8x\n", r.EAX, r.EBX, r.ECX, r.EDX)
	kfmt.Fprintf(w, "ESI = %8x EDI = %8x EBP = %8x ESP = %8x\n", r.ESI, r.EDI, r.EBP, r.ESP)
	kfmt.Fprintf(w, "EIP = %8x CS  = %8x EFL = %8x\n", r.EIP, r.CS, r.EFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// NMI is a hardware interrupt that indicates issues with RAM or
	// unrecoverable hardware problems.
	NMI = InterruptNumber(2)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DoubleFault occurs when an exception is unhandled or when an
	// exception occurs while the CPU is trying to call an exception
	// handler.
	DoubleFault = InterruptNumber(8)

	// GPFException is raised when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException is raised when a page directory or table entry
	// is not present or when a privilege and/or RW protection check
	// fails.
	PageFaultException = InterruptNumber(14)

	// TimerInterrupt is the remapped vector for IRQ0, the programmable
	// interval timer.
	TimerInterrupt = InterruptNumber(32)
)

// Handler is a function invoked to service an interrupt or exception. If the
// handler returns, any modifications to the supplied Registers pointer are
// propagated back to the location where the interrupt occurred.
type Handler func(regs *Registers)

// InstallHandler registers a handler for the given vector, replacing any
// previously installed one.
func InstallHandler(num InterruptNumber, handler Handler) {
	handlers[num] = handler
}

// UninstallHandler removes the handler for the given vector. Until a new
// handler is installed, Dispatch logs and ignores that vector.
func UninstallHandler(num InterruptNumber) {
	handlers[num] = nil
}

// Dispatch routes an interrupt frame pushed by the entry stub trampolines to
// the registered handler. Unhandled vectors are logged and dropped; handlers
// never block.
func Dispatch(regs *Registers) {
	if handler := handlers[regs.IntNo&(vectorCount-1)]; handler != nil {
		handler(regs)
		return
	}

	kfmt.Printf("[irq] spurious interrupt %d; no handler installed\n", regs.IntNo)
}

// NestedDisable disables interrupts on the local CPU and returns the previous
// flag state so that critical sections can nest. The value must be passed to
// the matching NestedEnable call.
func NestedDisable() uintptr {
	flags := saveFlagsFn()
	disableInterruptsFn()
	return flags
}

// NestedEnable restores the interrupt flag state captured by the matching
// NestedDisable call.
func NestedEnable(flags uintptr) {
	restoreFlagsFn(flags)
}
