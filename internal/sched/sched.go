// Package sched is the preemptive scheduler (component E): task
// selection by priority, timer-driven preemption, and the
// fork/exec/wait/exit operations built on top of the frame allocator,
// address-space manager, and task table. Grounded on
// original_source's kernel/sched/sched.c (pick_next_task/schedule/
// sched_tick/sched_yield) for selection and preemption, and on
// kernel/core/syscall.c's dispatch cases for fork/exec/wait/exit
// semantics, reworked per spec.md §9's Open Questions: fork performs
// an eager clone (no copy-on-write), wait blocks the caller on a
// per-task wait channel instead of busy-returning, and exit reparents
// orphans to the idle task instead of leaving them dangling.
package sched

import (
	"microkern/internal/defs"
	"microkern/internal/elfload"
	"microkern/internal/frame"
	"microkern/internal/ipc"
	"microkern/internal/mem"
	"microkern/internal/task"
	"microkern/internal/vmm"
)

const timeSlice = 10 // ticks per quantum, spec.md §4.3

// Scheduler owns the task table and the subsystems fork/exec/exit need
// to mutate: the frame allocator and address-space manager.
type Scheduler struct {
	Tasks  *task.Table
	Ports  *ipc.Table
	vmm    *vmm.Manager
	frames *frame.Allocator
	ram    *mem.RAM

	current *task.Task_t
	idle    *task.Task_t
	ticks   int64
}

// New builds a scheduler over an already-populated task table, the
// port table sharing it, and the memory subsystems fork/exec use.
func New(tasks *task.Table, ports *ipc.Table, vmm *vmm.Manager, frames *frame.Allocator, ram *mem.RAM, idle *task.Task_t) *Scheduler {
	return &Scheduler{Tasks: tasks, Ports: ports, vmm: vmm, frames: frames, ram: ram, idle: idle, current: idle}
}

// Current returns the presently running task.
func (s *Scheduler) Current() *task.Task_t { return s.current }

// pickNext chooses the READY task with the highest priority, ties
// broken by ascending tid (task.Table.Ready's deterministic order),
// falling back to the idle task (pick_next_task + the idle fallback
// spec.md §4.3 adds).
func (s *Scheduler) pickNext() *task.Task_t {
	ready := s.Tasks.Ready()
	var best *task.Task_t
	for _, t := range ready {
		if t == s.idle {
			continue
		}
		if best == nil || t.Priority > best.Priority {
			best = t
		}
	}
	if best == nil {
		return s.idle
	}
	return best
}

// Schedule demotes the current task to READY (unless it is already
// terminal or blocked), picks the next READY task by priority, resets
// its quantum, and installs it as current (schedule()). Switching the
// address-space root is the caller's responsibility via Current().Vm;
// this core has no real CPU to load CR3 on, so Schedule only updates
// the bookkeeping a platform layer would act on.
func (s *Scheduler) Schedule() *task.Task_t {
	if s.current != nil {
		if st := s.current.GetState(); st == task.Running {
			s.current.SetState(task.Ready)
		}
	}
	next := s.pickNext()
	next.SetState(task.Running)
	next.Lock()
	next.Slice = timeSlice
	next.Unlock()
	s.current = next
	return next
}

// Yield is the voluntary-preemption syscall: schedule() directly
// (sched_yield).
func (s *Scheduler) Yield() {
	s.Schedule()
}

// Tick advances the tick counter and the current task's quantum,
// calling Schedule when it expires (sched_tick).
func (s *Scheduler) Tick() {
	s.ticks++
	if s.current == nil {
		return
	}
	s.current.Lock()
	s.current.Slice--
	expired := s.current.Slice <= 0
	s.current.Unlock()
	s.current.Accnt.Runadd(1)
	if expired {
		s.Schedule()
	}
}

// Ticks returns the number of timer ticks observed so far.
func (s *Scheduler) Ticks() int64 { return s.ticks }

// Fork duplicates caller's address space by clone, allocates a fresh
// task record, copies the register frame so the child's syscall
// return value is patched to 0 and the parent's to the child's pid,
// links the child under caller, and marks it READY.
func (s *Scheduler) Fork(caller *task.Task_t) (defs.Pid_t, defs.Err_t) {
	childVm, err := s.vmm.Clone(caller.Vm)
	if err != 0 {
		return 0, err
	}
	child := s.Tasks.New(caller.Priority, childVm, caller.Tid)
	child.Regs = caller.Regs
	child.Regs.SetReturn(0)
	child.State = task.Ready
	return child.Pid, 0
}

// Exec replaces caller's address space with a freshly loaded ELF32
// image found at path in initrd, and its instruction pointer/stack
// with the loaded entry point and a newly mapped user stack. On any
// failure the caller's existing address space is left untouched.
func (s *Scheduler) Exec(caller *task.Task_t, path string, initrd elfload.FileSystem) defs.Err_t {
	img, ok := initrd.Lookup(path)
	if !ok {
		return defs.ENOENT
	}
	newVm, entry, err := elfload.Load(s.vmm, img)
	if err != 0 {
		return err
	}
	const userStackTop = 0xB0000000 // near the top of the private lower three quarters
	const userStackSize = 4 * mem.PGSIZE
	for va := uint32(userStackTop - userStackSize); va < userStackTop; va += mem.PGSIZE {
		if err := newVm.MapNew(va, vmm.P|vmm.W|vmm.U); err != 0 {
			s.vmm.Destroy(newVm)
			return err
		}
	}
	oldVm := caller.Vm
	caller.Vm = newVm
	caller.Regs.Eip = entry
	caller.Regs.Esp = userStackTop
	s.vmm.Destroy(oldVm)
	return 0
}

// Wait waits on one of caller's children: the child whose pid is pid,
// or any child when pid is negative. If a matching child is already
// ZOMBIE, its exit code is collected and the record
// reaped immediately; otherwise caller blocks on its wait channel
// until Exit wakes it (Open Question 2: true blocking, no
// non-blocking ABI variant).
func (s *Scheduler) Wait(caller *task.Task_t, pid defs.Pid_t) (defs.Pid_t, int, defs.Err_t) {
	if zpid, code, ok := s.collectZombieChild(caller, pid); ok {
		return zpid, code, 0
	}
	caller.Block(task.BlockedOnWait, int(pid))
	return 0, 0, defs.EAGAIN
}

func (s *Scheduler) collectZombieChild(caller *task.Task_t, pid defs.Pid_t) (defs.Pid_t, int, bool) {
	caller.Lock()
	kids := append([]defs.Tid_t(nil), caller.Children...)
	caller.Unlock()
	for _, ktid := range kids {
		if pid >= 0 && defs.Pid_t(ktid) != pid {
			continue
		}
		c, ok := s.Tasks.Get(ktid)
		if !ok || c.GetState() != task.Zombie {
			continue
		}
		code := c.ExitCode
		caller.Lock()
		for i, k := range caller.Children {
			if k == ktid {
				caller.Children = append(caller.Children[:i], caller.Children[i+1:]...)
				break
			}
		}
		caller.Unlock()
		s.Tasks.Reap(ktid)
		return c.Pid, code, true
	}
	return 0, 0, false
}

// Exit marks caller ZOMBIE, tears down its user address space, destroys
// its ports, reparents its live children to the idle task, and wakes a
// parent blocked in Wait if its target matches (exit, extended for
// Open Question 3's reparenting and Open Question 2's wait-wakeup).
func (s *Scheduler) Exit(caller *task.Task_t, code int) {
	caller.Lock()
	caller.State = task.Zombie
	caller.ExitCode = code
	vm := caller.Vm
	caller.Unlock()

	if vm != nil {
		s.vmm.Destroy(vm)
	}
	s.Ports.DestroyAllOwnedBy(caller.Pid)
	s.Tasks.Reparent(caller.Tid)

	if parent, ok := s.Tasks.Get(caller.Parent); ok {
		parent.Lock()
		blocked := parent.State == task.Blocked && parent.Reason == task.BlockedOnWait
		target := defs.Pid_t(parent.WaitArg)
		parent.Unlock()
		if blocked && (target < 0 || target == caller.Pid) {
			parent.Unblock()
		}
	}
	s.Schedule()
}
