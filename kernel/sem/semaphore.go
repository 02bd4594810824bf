// Package sem provides the counting semaphore used to serialize access to
// finite kernel resources. Semaphores park waiting tasks through the
// scheduler's block/wake protocol and are safe to post from interrupt
// context: the internal state is guarded by a spinlock that saves and
// disables interrupts.
package sem

import (
	"eduos/kernel"
	"eduos/kernel/sched"
	"eduos/kernel/sync"
)

var (
	// ErrBusy is returned by TryWait when the semaphore cannot be
	// acquired without blocking.
	ErrBusy = &kernel.Error{Module: "sem", Message: "semaphore is busy"}

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	blockCurrentTaskFn = sched.BlockCurrentTask
	wakeupTaskFn       = sched.WakeupTask
	rescheduleFn       = sched.Reschedule
	currentTaskIDFn    = func() sched.TaskID { return sched.CurrentTask().ID() }
)

// Semaphore is a counting semaphore. The wait queue is a ring of task ids
// with one slot per possible task: a task can park on at most one semaphore
// at a time, so the ring never overflows.
type Semaphore struct {
	lock sync.IRQSpinlock

	value uint32

	queue [sched.MaxTasks]sched.TaskID
	pos   uint32
}

// Init resets the semaphore to the supplied resource count and empties the
// wait queue. A semaphore must be initialized before first use.
func (s *Semaphore) Init(value uint32) *kernel.Error {
	if s == nil {
		return kernel.ErrInvalidArgument
	}

	s.lock.Acquire()
	s.value = value
	s.pos = 0
	for i := range s.queue {
		s.queue[i] = sched.InvalidTaskID
	}
	s.lock.Release()

	return nil
}

// Destroy only checks that s is not nil; it leaves the semaphore's count and
// wait queue untouched. Tasks must not be parked on it when it is destroyed.
func (s *Semaphore) Destroy() *kernel.Error {
	if s == nil {
		return kernel.ErrInvalidArgument
	}

	return nil
}

// TryWait attempts to take the semaphore without blocking. It returns
// ErrBusy when the counter is exhausted.
func (s *Semaphore) TryWait() *kernel.Error {
	if s == nil {
		return kernel.ErrInvalidArgument
	}

	err := ErrBusy

	s.lock.Acquire()
	if s.value > 0 {
		s.value--
		err = nil
	}
	s.lock.Release()

	return err
}

// Wait takes the semaphore, blocking the calling task while the counter is
// exhausted. A woken task re-attempts the acquisition, so a racing TryWait
// stealing the posted resource only causes another round trip through the
// wait queue.
func (s *Semaphore) Wait() *kernel.Error {
	if s == nil {
		return kernel.ErrInvalidArgument
	}

	for {
		s.lock.Acquire()
		if s.value > 0 {
			s.value--
			s.lock.Release()
			return nil
		}

		s.queue[s.pos] = currentTaskIDFn()
		s.pos = (s.pos + 1) % sched.MaxTasks
		blockCurrentTaskFn()
		s.lock.Release()
		rescheduleFn()
	}
}

// Post returns one resource to the semaphore and wakes the longest-waiting
// task, if any. The scan starts at the ring position one past the most
// recent enqueue and therefore wraps around to the oldest occupied slot
// first, preserving FIFO wake order.
func (s *Semaphore) Post() *kernel.Error {
	if s == nil {
		return kernel.ErrInvalidArgument
	}

	s.lock.Acquire()

	s.value++
	if s.value == 1 {
		// There may be parked waiters; hand the resource to the
		// oldest one.
		i := s.pos
		for k := 0; k < sched.MaxTasks; k++ {
			if s.queue[i] != sched.InvalidTaskID {
				wakeupTaskFn(s.queue[i])
				s.queue[i] = sched.InvalidTaskID
				break
			}
			i = (i + 1) % sched.MaxTasks
		}
	}

	s.lock.Release()
	return nil
}
