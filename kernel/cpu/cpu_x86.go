// Package cpu exposes the privileged x86 instructions that the kernel core
// depends on. The routines are implemented in assembly (cpu_386.s); anything
// the boot stub provides instead (the context switch) is declared as an
// assignable hook that the entry code installs before the core starts.
package cpu

var (
	cpuidFn = ID

	// SwitchContext saves the callee-saved registers and flags of the
	// current task onto its stack, stores the resulting stack pointer in
	// *oldSPSlot, and resumes the task selected by the scheduler from its
	// saved stack pointer (reloading CR3 from its page map). The routine
	// lives in the entry stub next to the interrupt trampolines; the stub
	// installs it here during early boot.
	SwitchContext func(oldSPSlot *uintptr)
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// SaveFlags returns the current EFLAGS value. It is used together with
// DisableInterrupts and RestoreFlags to implement interrupt-saving critical
// sections.
func SaveFlags() uintptr

// RestoreFlags loads the supplied value into the EFLAGS register.
func RestoreFlags(flags uintptr)

// Halt disables interrupts and stops instruction execution.
func Halt()

// WaitForInterrupt suspends the CPU until the next interrupt arrives. It is
// the body of the idle loop.
func WaitForInterrupt()

// FlushTLBEntry flushes the TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// FlushTLB flushes all non-global entries from the TLB by reloading CR3.
func FlushTLB()

// SwitchPageDirectory sets the root page directory to the specified physical
// address and flushes the TLB.
func SwitchPageDirectory(pdPhysAddr uintptr)

// ActivePageDirectory returns the physical address of the currently active
// root page directory.
func ActivePageDirectory() uintptr

// ReadCR2 returns the linear address that caused the last page fault.
func ReadCR2() uintptr

// PortWriteByte writes value to the given I/O port.
func PortWriteByte(port uint16, value uint8)

// PortReadByte reads a byte from the given I/O port.
func PortReadByte(port uint16) uint8

// MemoryBarrier orders all prior loads and stores before any that follow it.
func MemoryBarrier()

// ReadBarrier orders loads issued before the barrier against loads after it.
func ReadBarrier()

// WriteBarrier orders stores issued before the barrier against stores after it.
func WriteBarrier()

// ID returns information about the CPU and its features. It is implemented
// as a CPUID instruction with EAX=leaf and returns the values in EAX, EBX,
// ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}
