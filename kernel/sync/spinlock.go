// Package sync provides the synchronization primitives used by the kernel
// core: plain spinlocks and spinlocks that save and disable the local
// interrupt flag while held.
package sync

import (
	"sync/atomic"

	"eduos/kernel/irq"
)

var (
	// yieldFn is invoked while busy-waiting for a contended lock. It is
	// nil on the single-CPU target (the holder can only be an interrupt
	// handler which never blocks) and is overridden by tests to avoid
	// spinning a host CPU.
	yieldFn func()

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	nestedDisableFn = irq.NestedDisable
	nestedEnableFn  = irq.NestedEnable
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		if yieldFn != nil {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// IRQSpinlock couples a spinlock with the local interrupt flag: acquiring the
// lock first saves and disables interrupts so that neither the timer tick nor
// a device IRQ can preempt the critical section. Locks of this kind guard all
// state that is shared between task context and interrupt context (the ready
// queues, semaphore queues and per-address-space page tables).
type IRQSpinlock struct {
	lock  Spinlock
	flags uintptr
}

// Acquire saves the interrupt flag state, disables interrupts on the local
// CPU and then acquires the lock.
func (l *IRQSpinlock) Acquire() {
	flags := nestedDisableFn()
	l.lock.Acquire()
	l.flags = flags
}

// Release releases the lock and restores the interrupt flag state captured by
// the matching Acquire call.
func (l *IRQSpinlock) Release() {
	flags := l.flags
	l.lock.Release()
	nestedEnableFn(flags)
}
