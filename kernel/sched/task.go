// Package sched implements the task model and the preemptive priority
// scheduler: a fixed table of task control blocks, per-priority FIFO ready
// queues tracked by a priority bitmap, and the handoff protocol around the
// low-level context switch.
package sched

import (
	"eduos/kernel/mm/vmm"
)

const (
	// MaxTasks bounds the number of concurrently existing tasks. A
	// task's id doubles as its index in the task table.
	MaxTasks = 16

	// KernelStackSize is the size of the per-task kernel stack.
	KernelStackSize = 8192
)

// Task priorities. Priority 0 is reserved for the idle task which runs only
// when no other task is ready.
const (
	IdlePrio     = uint8(0)
	LowPrio      = uint8(1)
	NormalPrio   = uint8(8)
	HighPrio     = uint8(16)
	RealtimePrio = uint8(31)

	// MaxPrio is the highest priority a task can be created with.
	MaxPrio = uint8(31)
)

// TaskID identifies a task; it is the task's index in the task table.
type TaskID uint32

// InvalidTaskID is used as a sentinel in wait queues. Free slots of the task
// table are marked by StateInvalid, not by this value.
const InvalidTaskID = TaskID(MaxTasks)

// TaskState describes the lifecycle state of a task table slot.
type TaskState uint32

const (
	// StateInvalid marks a free task table slot.
	StateInvalid = TaskState(iota)

	// StateReady marks a task linked into a ready queue.
	StateReady

	// StateRunning marks the task that owns the CPU. At most one task is
	// running and it is the current task.
	StateRunning

	// StateBlocked marks a task parked on a wait queue; some other code
	// path is responsible for waking it.
	StateBlocked

	// StateFinished marks a task that exited and waits for its resources
	// to be reclaimed after the final switch away from it.
	StateFinished

	// StateIdle marks the idle task. It is never enqueued.
	StateIdle
)

// EntryFunc is the signature of a task entry point.
type EntryFunc func(arg uintptr)

// Task is the process control block: everything the scheduler and the
// memory subsystems need to know about one task.
type Task struct {
	id    TaskID
	state TaskState
	prio  uint8

	// lastStackPointer holds the stack pointer captured by the context
	// switch when the task was suspended.
	lastStackPointer uintptr

	// stack is the task's kernel stack. The idle task keeps nil here and
	// runs on the boot stack provided by the entry stub.
	stack *[KernelStackSize]byte

	// space is the task's address space; its root directory is loaded
	// into CR3 whenever the task is resumed.
	space vmm.AddressSpace

	// Ready queue links: task ids with -1 as the nil sentinel. Using
	// indices over the fixed table keeps the intrusive lists free of
	// aliasing pointers.
	next int8
	prev int8
}

// ID returns the task's id.
func (t *Task) ID() TaskID {
	return t.id
}

// State returns the task's lifecycle state.
func (t *Task) State() TaskState {
	return t.state
}

// Priority returns the task's scheduling priority.
func (t *Task) Priority() uint8 {
	return t.prio
}

// AddressSpace returns the task's address space.
func (t *Task) AddressSpace() *vmm.AddressSpace {
	return &t.space
}
