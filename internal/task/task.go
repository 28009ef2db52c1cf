// Package task is the task table and per-task record (component D):
// one entry per schedulable execution context, plus the bookkeeping
// the scheduler needs to pick among them and switch their saved
// register state. Grounded on original_source's kernel/sched/sched.h
// (struct task, struct task_context) and kernel/sched/sched.c
// (task_create/task_destroy's linked list), reshaped into the
// teacher's idiom: an exported `_t`-suffixed struct with an embedded
// mutex (biscuit/src/mem/mem.go's Physmem_t) and a table type owning a
// map instead of a hand-rolled linked list.
package task

import (
	"sync"

	"microkern/internal/accnt"
	"microkern/internal/defs"
	"microkern/internal/trapiface"
	"microkern/internal/vmm"
)

// State is a task's scheduling state (sched.h's TASK_RUNNING/_READY/
// _BLOCKED/_ZOMBIE).
type State uint8

const (
	Unused State = iota
	Ready
	Running
	Blocked
	Zombie
)

func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Zombie:
		return "zombie"
	default:
		return "?"
	}
}

// BlockReason records why a task is Blocked, so the component that
// eventually wakes it (ipc, or task_wait) knows it owns that wakeup
// (sched.h's sched_block(reason) parameter).
type BlockReason uint8

const (
	NotBlocked BlockReason = iota
	BlockedOnRecv
	BlockedOnSend
	BlockedOnWait
)

// Task_t is one schedulable execution context: a process, in this
// single-threaded-processes system (spec.md's GLOSSARY: "Task — one
// schedulable execution context (equivalent to a process)").
type Task_t struct {
	sync.Mutex

	Tid      defs.Tid_t
	Pid      defs.Pid_t
	State    State
	Priority int
	Slice    int // remaining ticks in the current quantum

	Vm   *vmm.Vm_t
	Regs trapiface.Frame

	Parent   defs.Tid_t
	Children []defs.Tid_t
	ExitCode int

	Reason  BlockReason
	WaitArg int // port id or child tid the task is blocked waiting on

	Accnt accnt.Accnt_t

	// Ports is the set of port ids this task owns, maintained by the
	// ipc package so exit can tear them all down (spec.md §4.3's exit:
	// "destroy the task's ports").
	Ports []int
}

// SetState transitions the task's state under its own lock.
func (t *Task_t) SetState(s State) {
	t.Lock()
	t.State = s
	t.Unlock()
}

// GetState reads the task's current state.
func (t *Task_t) GetState() State {
	t.Lock()
	defer t.Unlock()
	return t.State
}

// Block marks the task Blocked for the given reason, recording arg
// (the port id or child tid being waited on) so the waker can match it
// (sched_block).
func (t *Task_t) Block(reason BlockReason, arg int) {
	t.Lock()
	t.State = Blocked
	t.Reason = reason
	t.WaitArg = arg
	t.Unlock()
}

// Unblock moves a Blocked task back to Ready (sched_unblock).
func (t *Task_t) Unblock() {
	t.Lock()
	if t.State == Blocked {
		t.State = Ready
		t.Reason = NotBlocked
	}
	t.Unlock()
}

// AddPort records ownership of a newly created port.
func (t *Task_t) AddPort(id int) {
	t.Lock()
	t.Ports = append(t.Ports, id)
	t.Unlock()
}

// RemovePort drops ownership of a destroyed port.
func (t *Task_t) RemovePort(id int) {
	t.Lock()
	defer t.Unlock()
	for i, p := range t.Ports {
		if p == id {
			t.Ports = append(t.Ports[:i], t.Ports[i+1:]...)
			return
		}
	}
}

// OwnedPorts returns a snapshot of the port ids this task owns.
func (t *Task_t) OwnedPorts() []int {
	t.Lock()
	defer t.Unlock()
	out := make([]int, len(t.Ports))
	copy(out, t.Ports)
	return out
}

// Table is the system-wide task table (task_queue's linked list,
// reshaped as a map keyed by tid for O(1) lookup).
type Table struct {
	sync.Mutex
	tasks   map[defs.Tid_t]*Task_t
	nextTid defs.Tid_t
}

// NewTable builds an empty task table. Tids below defs.IdleTid+1 are
// reserved (0 = no task, defs.IdleTid = the idle task).
func NewTable() *Table {
	return &Table{tasks: make(map[defs.Tid_t]*Task_t), nextTid: defs.IdleTid + 1}
}

// New allocates a fresh task record with the given priority and
// address space, parented under parent, and inserts it into the table
// (task_create, minus the stack/entry-point setup this package leaves
// to the scheduler's fork/exec implementation).
func (tt *Table) New(priority int, vm *vmm.Vm_t, parent defs.Tid_t) *Task_t {
	tt.Lock()
	defer tt.Unlock()
	tid := tt.nextTid
	tt.nextTid++
	t := &Task_t{
		Tid:      tid,
		Pid:      defs.Pid_t(tid),
		State:    Ready,
		Priority: priority,
		Vm:       vm,
		Parent:   parent,
	}
	tt.tasks[tid] = t
	if parent != defs.NoTask {
		if p, ok := tt.tasks[parent]; ok {
			p.Lock()
			p.Children = append(p.Children, tid)
			p.Unlock()
		}
	}
	return t
}

// NewIdle installs the fixed-tid idle task (priority 0, always
// present, never exits): "the idle task — always present, priority 0,
// executes the halt instruction in a loop" (spec.md §4.3).
func (tt *Table) NewIdle(vm *vmm.Vm_t) *Task_t {
	tt.Lock()
	defer tt.Unlock()
	t := &Task_t{Tid: defs.IdleTid, Pid: defs.Pid_t(defs.IdleTid), State: Ready, Priority: 0, Vm: vm, Parent: defs.NoTask}
	tt.tasks[defs.IdleTid] = t
	return t
}

// Get looks up a task by tid.
func (tt *Table) Get(tid defs.Tid_t) (*Task_t, bool) {
	tt.Lock()
	defer tt.Unlock()
	t, ok := tt.tasks[tid]
	return t, ok
}

// Ready returns every task currently in the Ready state, in
// unspecified-but-deterministic map iteration order matched against
// ascending tid so tie-breaks are reproducible (spec.md §4.3's "ties
// broken by list traversal order").
func (tt *Table) Ready() []*Task_t {
	tt.Lock()
	defer tt.Unlock()
	var out []*Task_t
	for _, t := range tt.tasks {
		if t.GetState() == Ready {
			out = append(out, t)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Tid < out[j-1].Tid; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Reap fully removes a Zombie task's record from the table (spec.md
// §4.3's wait: "the kernel stack and task record persist until
// collected" — collection is this call, driven by wait()).
func (tt *Table) Reap(tid defs.Tid_t) {
	tt.Lock()
	defer tt.Unlock()
	delete(tt.tasks, tid)
}

// Each calls f for every live task record, for introspection (stat's
// TaskInfo dump).
func (tt *Table) Each(f func(*Task_t)) {
	tt.Lock()
	tasks := make([]*Task_t, 0, len(tt.tasks))
	for _, t := range tt.tasks {
		tasks = append(tasks, t)
	}
	tt.Unlock()
	for _, t := range tasks {
		f(t)
	}
}

// Reparent points every child of tid at the idle task (spec.md §9's
// Open Question 3 resolution: "explicit reparent-to-idle-task with
// idle-task sweep reaping"), returning the reparented tids.
func (tt *Table) Reparent(tid defs.Tid_t) []defs.Tid_t {
	t, ok := tt.Get(tid)
	if !ok {
		return nil
	}
	t.Lock()
	kids := append([]defs.Tid_t(nil), t.Children...)
	t.Children = nil
	t.Unlock()
	idle, ok := tt.Get(defs.IdleTid)
	if ok {
		idle.Lock()
		idle.Children = append(idle.Children, kids...)
		idle.Unlock()
	}
	for _, k := range kids {
		if c, ok := tt.Get(k); ok {
			c.Lock()
			c.Parent = defs.IdleTid
			c.Unlock()
		}
	}
	return kids
}

// ReapZombieChildren removes every Zombie child of the task of,
// returning how many were reaped. Called with defs.IdleTid it is the
// sweep of orphans reparented to the idle task; nothing in this core
// calls it automatically.
func (tt *Table) ReapZombieChildren(of defs.Tid_t) int {
	t, ok := tt.Get(of)
	if !ok {
		return 0
	}
	t.Lock()
	kids := append([]defs.Tid_t(nil), t.Children...)
	t.Unlock()
	n := 0
	var remaining []defs.Tid_t
	for _, k := range kids {
		if c, ok := tt.Get(k); ok && c.GetState() == Zombie {
			tt.Reap(k)
			n++
		} else {
			remaining = append(remaining, k)
		}
	}
	t.Lock()
	t.Children = remaining
	t.Unlock()
	return n
}
