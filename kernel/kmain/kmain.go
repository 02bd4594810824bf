// Package kmain hosts the kernel entry point: subsystem bring-up in
// dependency order followed by the demo task set and the idle loop.
package kmain

import (
	"eduos/kernel"
	"eduos/kernel/cpu"
	"eduos/kernel/hal"
	"eduos/kernel/irq"
	"eduos/kernel/kfmt"
	"eduos/kernel/mm/pmm"
	"eduos/kernel/mm/vmm"
	"eduos/kernel/sched"
	"eduos/kernel/sem"
	"eduos/multiboot"
)

var (
	// readySem gates the consumer task on the two greeter tasks.
	readySem sem.Semaphore
)

// greeterTask prints a bunch of greetings and posts the ready semaphore
// before exiting.
func greeterTask(arg uintptr) {
	for i := 0; i < 10; i++ {
		kfmt.Printf("hello from task %d\n", uint32(sched.CurrentTask().ID()))
		sched.Reschedule()
	}

	readySem.Post()
}

// consumerTask waits until every greeter has finished.
func consumerTask(arg uintptr) {
	for i := uintptr(0); i < arg; i++ {
		readySem.Wait()
	}

	kfmt.Printf("all %d greeters finished\n", uint32(arg))
}

// Kmain is the only Go symbol that is visible (exported) from the entry
// stub. The stub invokes it after setting up the GDT, the IDT trampolines, a
// boot stack and the bootstrap page tables with their self-reference.
//
// The stub passes the physical address of the multiboot information record
// as well as the physical addresses for the kernel start/end.
//
// Kmain never returns.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	irq.Init()
	hal.DetectHardware()

	kfmt.Printf("eduos: kernel at 0x%x - 0x%x\n", kernelStart, kernelEnd)

	var err *kernel.Error
	if err = pmm.Init(kernelStart, kernelEnd); err != nil {
		kernel.Panic(err)
	} else if err = vmm.Init(kernelStart, kernelEnd); err != nil {
		kernel.Panic(err)
	} else if err = sched.Init(); err != nil {
		kernel.Panic(err)
	}

	readySem.Init(0)

	const greeters = 2
	for i := 0; i < greeters; i++ {
		if err = sched.CreateKernelTask(nil, greeterTask, 0, sched.NormalPrio); err != nil {
			kernel.Panic(err)
		}
	}
	if err = sched.CreateKernelTask(nil, consumerTask, greeters, sched.LowPrio); err != nil {
		kernel.Panic(err)
	}

	cpu.EnableInterrupts()

	// Idle loop: the timer tick preempts into the ready tasks and wakes
	// us back up when nothing is runnable.
	for {
		cpu.WaitForInterrupt()
	}
}
