// Package runtime implements the single-threaded cooperative scheduler
// of spec.md §4.1 (C3): a runqueue of ready tasks, a deadline-ordered
// timer wheel, and explicit suspension points (yield, wait_on_waker,
// sleep_until). Grounded on the teacher's internal/queue.Runner, whose
// single pinned goroutine drives one ublk queue's FETCH_REQ/COMMIT
// cycle the same way this scheduler's poll loop drives protocol tasks
// — generalized from "one ublk queue" to "one LibOS instance."
package runtime

import "time"

// TaskID identifies a spawned task within one Scheduler.
type TaskID uint64

// PollResult is what a Task's Poll returns: either it made progress
// and wants another turn once something wakes it, or it is finished.
type PollResult int

const (
	// Pending means the task suspended; it will not run again until
	// something calls its Waker's Wake, or a timer it armed fires.
	Pending PollResult = iota
	// Complete means the task is finished and is removed from the
	// scheduler; it will never be polled again.
	Complete
	// Cancelled means the task observed its own cancellation flag and
	// unwound; like Complete it is removed from the scheduler.
	Cancelled
)

// Task is the scheduler's unit of work: a lazy sequence of resumption
// points (spec.md §9) rather than an OS thread. Implementations hold
// whatever state they need between Poll calls (e.g. a TCP sender's
// cwnd/ssthresh) and must not block.
type Task interface {
	Poll() PollResult
}

// Waker lets a task be woken from outside the scheduler's own Poll
// loop — by an ARP reply arriving, a segment being ACKed, or a user
// calling push. Wake is idempotent and safe to call from the same
// goroutine that is driving the scheduler (which is the only goroutine
// that should ever call it, per spec.md §5: no internal locks on the
// data path).
type Waker struct {
	sched *Scheduler
	id    TaskID
}

func (w Waker) Wake() {
	if w.sched == nil {
		return
	}
	w.sched.wake(w.id)
}

// taskState tracks cancellation alongside the task itself; cancelling
// a qtoken sets this flag, and the owning task observes it the next
// time it's polled (spec.md §5).
type taskState struct {
	task       Task
	cancelled  bool
}

// Scheduler is one LibOS instance's cooperative runtime. It owns no
// goroutines of its own — ServiceTimers and RunReady must be driven by
// the embedding poll loop.
type Scheduler struct {
	nextID   TaskID
	tasks    map[TaskID]*taskState
	runnable []TaskID
	queued   map[TaskID]bool
	timers   *timerWheel
}

func New() *Scheduler {
	return &Scheduler{
		tasks:  make(map[TaskID]*taskState),
		queued: make(map[TaskID]bool),
		timers: newTimerWheel(),
	}
}

// Spawn registers a new task in the runnable state (it gets its first
// Poll on the next RunReady) and returns its id and a Waker for later
// re-arming.
func (s *Scheduler) Spawn(t Task) (TaskID, Waker) {
	s.nextID++
	id := s.nextID
	s.tasks[id] = &taskState{task: t}
	s.runnable = append(s.runnable, id)
	s.queued[id] = true
	return id, Waker{sched: s, id: id}
}

// NewWaker returns an additional Waker for an already-spawned task —
// used when more than one event source (e.g. both a timer and an ARP
// reply) can wake the same task.
func (s *Scheduler) NewWaker(id TaskID) Waker {
	return Waker{sched: s, id: id}
}

func (s *Scheduler) wake(id TaskID) {
	if _, ok := s.tasks[id]; !ok {
		return
	}
	if s.queued[id] {
		return
	}
	s.runnable = append(s.runnable, id)
	s.queued[id] = true
}

// SleepUntil arms a timer that wakes task id at deadline, returning a
// handle usable with CancelTimer. This is the sleep_until suspension
// point of spec.md §4.1.
func (s *Scheduler) SleepUntil(id TaskID, deadline time.Time) uint64 {
	return s.timers.Arm(deadline, id)
}

// CancelTimer disarms a previously armed timer if it hasn't fired.
func (s *Scheduler) CancelTimer(handle uint64) {
	s.timers.Cancel(handle)
}

// Cancel marks task id cancelled and wakes it so it observes the flag
// on its next Poll and unwinds (spec.md §5's cooperative cancellation).
func (s *Scheduler) Cancel(id TaskID) {
	st, ok := s.tasks[id]
	if !ok {
		return
	}
	st.cancelled = true
	s.wake(id)
}

// Cancelled reports whether task id has been marked for cancellation.
// A task should check this near the top of each Poll and, if true,
// unwind and return Cancelled.
func (s *Scheduler) Cancelled(id TaskID) bool {
	st, ok := s.tasks[id]
	return ok && st.cancelled
}

// ServiceTimers wakes every task whose deadline has elapsed by now —
// step (a) of spec.md §4.1's poll loop.
func (s *Scheduler) ServiceTimers(now time.Time) {
	for _, id := range s.timers.PopDue(now) {
		s.wake(id)
	}
}

// NextDeadline reports the earliest armed timer deadline, letting the
// embedding poll loop avoid busy-spinning when idle.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	return s.timers.NextDeadline()
}

// RunReady polls every task currently in the runqueue exactly once —
// step (c) of spec.md §4.1's poll loop. Tasks that re-wake themselves
// or others mid-tick are picked up on the next RunReady call, not this
// one, so one tick can't starve the timer/device phases around it.
func (s *Scheduler) RunReady() {
	batch := s.runnable
	s.runnable = nil
	for _, id := range batch {
		s.queued[id] = false
		st, ok := s.tasks[id]
		if !ok {
			continue
		}
		result := st.task.Poll()
		if result == Complete || result == Cancelled {
			delete(s.tasks, id)
		}
	}
}

// NumTasks reports the number of live (not yet completed) tasks, used
// by tests asserting no task leaks across a flow's lifecycle.
func (s *Scheduler) NumTasks() int {
	return len(s.tasks)
}
