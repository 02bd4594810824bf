package sched

import (
	"testing"

	"eduos/kernel"
	"eduos/kernel/mm/vmm"
)

// initSchedForTest resets the scheduler state, neutralizes the vmm and
// context switch interactions and returns a teardown function.
func initSchedForTest() func() {
	origSwitch := switchContextFn
	origHalt := haltFn
	origCopy := copySpaceFn
	origDrop := dropUserFn
	origAllocRoot := allocRootFn
	origAdopt := adoptBootFn

	copySpaceFn = func(*vmm.AddressSpace) *kernel.Error { return nil }
	dropUserFn = func() {}
	allocRootFn = func(*vmm.AddressSpace) *kernel.Error { return nil }
	adoptBootFn = func(*vmm.AddressSpace) {}
	haltFn = func() {}

	taskTable = [MaxTasks]Task{}
	runqueue = readyQueues{}
	Init()

	return func() {
		switchContextFn = origSwitch
		haltFn = origHalt
		copySpaceFn = origCopy
		dropUserFn = origDrop
		allocRootFn = origAllocRoot
		adoptBootFn = origAdopt

		taskTable = [MaxTasks]Task{}
		runqueue = readyQueues{}
		currentTask = &taskTable[0]
	}
}

// installSwitchRecorder replaces the context switch with a recorder that
// logs the task the scheduler picked and simulates the resumed task's
// prologue by invoking FinishTaskSwitch.
func installSwitchRecorder(log *[]TaskID) {
	switchContextFn = func(oldSPSlot *uintptr) {
		*log = append(*log, currentTask.id)
		FinishTaskSwitch()
	}
}

// assertQueueBitmapInvariant checks that bit p of the priority bitmap is set
// iff queue p is non-empty.
func assertQueueBitmapInvariant(t *testing.T) {
	t.Helper()

	for prio := uint8(1); prio <= MaxPrio; prio++ {
		bitSet := runqueue.prioBitmap&(1<<prio) != 0
		nonEmpty := runqueue.queue[prio-1].first >= 0

		if bitSet != nonEmpty {
			t.Fatalf("prio bitmap invariant violated for priority %d: bit=%t queue non-empty=%t", prio, bitSet, nonEmpty)
		}
	}
}

func dummyEntry(uintptr) {}

func TestInitSeedsIdleTask(t *testing.T) {
	defer initSchedForTest()()

	idle := CurrentTask()
	if idle.ID() != 0 || idle.State() != StateIdle || idle.Priority() != IdlePrio {
		t.Fatalf("unexpected idle task: id=%d state=%d prio=%d", idle.ID(), idle.State(), idle.Priority())
	}

	if NumTasks() != 0 {
		t.Fatalf("expected no ready tasks after init; got %d", NumTasks())
	}
}

func TestCreateKernelTaskValidation(t *testing.T) {
	defer initSchedForTest()()

	if err := CreateKernelTask(nil, nil, 0, NormalPrio); err != kernel.ErrInvalidArgument {
		t.Fatalf("expected nil entry point to fail with ErrInvalidArgument; got %v", err)
	}

	if err := CreateKernelTask(nil, dummyEntry, 0, IdlePrio); err != kernel.ErrInvalidArgument {
		t.Fatalf("expected idle priority to fail with ErrInvalidArgument; got %v", err)
	}

	// Out of range priorities fall back to NormalPrio
	var id TaskID
	if err := CreateKernelTask(&id, dummyEntry, 0, MaxPrio+1); err != nil {
		t.Fatal(err)
	}
	if got := taskTable[id].Priority(); got != NormalPrio {
		t.Fatalf("expected fallback to NormalPrio; got %d", got)
	}

	assertQueueBitmapInvariant(t)
}

func TestCreateKernelTaskTableFull(t *testing.T) {
	defer initSchedForTest()()

	for i := 1; i < MaxTasks; i++ {
		if err := CreateKernelTask(nil, dummyEntry, 0, NormalPrio); err != nil {
			t.Fatalf("unexpected failure creating task %d: %v", i, err)
		}
	}

	if err := CreateKernelTask(nil, dummyEntry, 0, NormalPrio); err != kernel.ErrNoMemory {
		t.Fatalf("expected full table to fail with ErrNoMemory; got %v", err)
	}
}

func TestCreateTaskCleansUpOnCopyFailure(t *testing.T) {
	defer initSchedForTest()()

	copySpaceFn = func(*vmm.AddressSpace) *kernel.Error { return kernel.ErrNoMemory }

	if err := CreateKernelTask(nil, dummyEntry, 0, NormalPrio); err != kernel.ErrNoMemory {
		t.Fatalf("expected ErrNoMemory; got %v", err)
	}

	if taskTable[1].State() != StateInvalid {
		t.Fatal("expected the claimed slot to be returned on failure")
	}

	if NumTasks() != 0 {
		t.Fatalf("expected no ready tasks after failed create; got %d", NumTasks())
	}
}

func TestSchedulerRoundRobinFIFO(t *testing.T) {
	defer initSchedForTest()()

	var log []TaskID
	installSwitchRecorder(&log)

	var a, b, c TaskID
	for _, spec := range []struct {
		id  *TaskID
		arg uintptr
	}{{&a, 0}, {&b, 1}, {&c, 2}} {
		if err := CreateKernelTask(spec.id, dummyEntry, spec.arg, NormalPrio); err != nil {
			t.Fatal(err)
		}
	}
	assertQueueBitmapInvariant(t)

	// Two full rounds: every Reschedule preempts the equal-priority
	// running task and picks the queue head
	for i := 0; i < 6; i++ {
		Reschedule()
		assertQueueBitmapInvariant(t)
	}

	exp := []TaskID{a, b, c, a, b, c}
	if len(log) != len(exp) {
		t.Fatalf("expected %d switches; got %d (%v)", len(exp), len(log), log)
	}
	for i := range exp {
		if log[i] != exp[i] {
			t.Fatalf("expected FIFO round-robin order %v; got %v", exp, log)
		}
	}
}

func TestSchedulerKeepsHigherPriorityTask(t *testing.T) {
	defer initSchedForTest()()

	var log []TaskID
	installSwitchRecorder(&log)

	var high TaskID
	if err := CreateKernelTask(&high, dummyEntry, 0, HighPrio); err != nil {
		t.Fatal(err)
	}

	Reschedule()
	if len(log) != 1 || log[0] != high {
		t.Fatalf("expected switch to the high priority task; got %v", log)
	}

	// A lower priority task becoming ready must not preempt
	if err := CreateKernelTask(nil, dummyEntry, 0, LowPrio); err != nil {
		t.Fatal(err)
	}

	Reschedule()
	if len(log) != 1 {
		t.Fatalf("expected the high priority task to keep the CPU; got %v", log)
	}
}

func TestSchedulerPriorityPreemption(t *testing.T) {
	defer initSchedForTest()()

	var log []TaskID
	installSwitchRecorder(&log)

	var low TaskID
	if err := CreateKernelTask(&low, dummyEntry, 0, LowPrio); err != nil {
		t.Fatal(err)
	}

	Reschedule()

	// A spawns a high priority task; the next reschedule must hand the
	// CPU over before A runs again
	var high TaskID
	if err := CreateKernelTask(&high, dummyEntry, 0, HighPrio); err != nil {
		t.Fatal(err)
	}

	Reschedule()
	if exp := []TaskID{low, high}; log[len(log)-1] != high {
		t.Fatalf("expected preemption by the high priority task (%v); got %v", exp, log)
	}

	// The high priority task exits; the low priority task resumes and
	// the finished slot is reaped
	Exit(0)

	if log[len(log)-1] != low {
		t.Fatalf("expected the low priority task to resume after exit; got %v", log)
	}

	if taskTable[high].State() != StateInvalid {
		t.Fatalf("expected exited task slot to be invalid; got %d", taskTable[high].State())
	}
	if taskTable[high].stack != nil {
		t.Fatal("expected exited task stack to be released")
	}

	assertQueueBitmapInvariant(t)
}

func TestBlockAndWakeup(t *testing.T) {
	defer initSchedForTest()()

	var log []TaskID
	installSwitchRecorder(&log)

	var id TaskID
	if err := CreateKernelTask(&id, dummyEntry, 0, NormalPrio); err != nil {
		t.Fatal(err)
	}

	Reschedule()

	if err := BlockCurrentTask(); err != nil {
		t.Fatal(err)
	}
	if taskTable[id].State() != StateBlocked {
		t.Fatalf("expected task to be blocked; got state %d", taskTable[id].State())
	}
	if NumTasks() != 0 {
		t.Fatalf("expected no ready tasks while blocked; got %d", NumTasks())
	}

	// Blocking a non-running task is rejected
	if err := BlockCurrentTask(); err != kernel.ErrInvalidArgument {
		t.Fatalf("expected second block to fail with ErrInvalidArgument; got %v", err)
	}

	// With nothing ready the scheduler falls back to idle
	Reschedule()
	if log[len(log)-1] != 0 {
		t.Fatalf("expected a switch to the idle task; got %v", log)
	}

	if err := WakeupTask(id); err != nil {
		t.Fatal(err)
	}
	assertQueueBitmapInvariant(t)

	// Waking a task that is not blocked is rejected
	if err := WakeupTask(id); err != kernel.ErrInvalidArgument {
		t.Fatalf("expected second wakeup to fail with ErrInvalidArgument; got %v", err)
	}
	if err := WakeupTask(InvalidTaskID); err != kernel.ErrInvalidArgument {
		t.Fatalf("expected out of range wakeup to fail with ErrInvalidArgument; got %v", err)
	}

	Reschedule()
	if log[len(log)-1] != id {
		t.Fatalf("expected the woken task to run; got %v", log)
	}
}

func TestIdleRunsOnlyWhenBitmapEmpty(t *testing.T) {
	defer initSchedForTest()()

	var log []TaskID
	installSwitchRecorder(&log)

	// With no ready task the idle task keeps the CPU without a switch
	Reschedule()
	if len(log) != 0 {
		t.Fatalf("expected no switch while idle with an empty bitmap; got %v", log)
	}

	if err := CreateKernelTask(nil, dummyEntry, 0, NormalPrio); err != nil {
		t.Fatal(err)
	}
	if runqueue.prioBitmap == 0 {
		t.Fatal("expected the priority bitmap to be non-empty")
	}

	Reschedule()
	if len(log) != 1 {
		t.Fatalf("expected a switch away from idle; got %v", log)
	}
}

func TestMsb(t *testing.T) {
	specs := []struct {
		input uint32
		exp   uint32
	}{
		{0, invalidPrio},
		{1, 0},
		{1 << 8, 8},
		{(1 << 8) | (1 << 3), 8},
		{1 << 31, 31},
	}

	for specIndex, spec := range specs {
		if got := msb(spec.input); got != spec.exp {
			t.Errorf("[spec %d] expected msb(%x) to return %d; got %d", specIndex, spec.input, spec.exp, got)
		}
	}
}
