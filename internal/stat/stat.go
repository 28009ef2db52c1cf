// Package stat is the task/system introspection snapshot: TaskInfo for
// a single task and SystemInfo for the whole machine. Grounded on
// biscuit's stat package (Stat_t's private fields with Wxxx/Rxxx
// accessor methods and a raw Bytes() encoder) and on original_source's
// kernel/sys/sysmon.c, which this kernel has no filesystem to report
// stat(2) on, so the byte-accessor shape is repurposed for process and
// memory accounting instead (sysmon_get_process_stats,
// sysmon_get_memory_stats, sysmon_get_cpu_stats) — a feature the
// distillation dropped, supplementing the task record.
package stat

import (
	"microkern/internal/defs"
	"microkern/internal/frame"
	"microkern/internal/heap"
	"microkern/internal/sched"
	"microkern/internal/task"
	"microkern/internal/util"
)

// TaskInfo is a read-only snapshot of a task's identity and run state,
// taken under the task's lock so a caller never observes a torn
// update.
type TaskInfo struct {
	_tid      uint
	_pid      uint
	_parent   uint
	_state    uint
	_priority uint
	_exitcode int
	_runticks int64
	_systicks int64
}

// Tid returns the stored task id.
func (ti *TaskInfo) Tid() defs.Tid_t { return defs.Tid_t(ti._tid) }

// Pid returns the stored process id.
func (ti *TaskInfo) Pid() defs.Pid_t { return defs.Pid_t(ti._pid) }

// Parent returns the stored parent task id.
func (ti *TaskInfo) Parent() defs.Tid_t { return defs.Tid_t(ti._parent) }

// State returns the stored scheduler state.
func (ti *TaskInfo) State() task.State { return task.State(ti._state) }

// Priority returns the stored scheduling priority.
func (ti *TaskInfo) Priority() int { return int(ti._priority) }

// ExitCode returns the stored exit code (only meaningful once State is
// task.Zombie).
func (ti *TaskInfo) ExitCode() int { return ti._exitcode }

// RunTicks returns the task's accumulated run ticks.
func (ti *TaskInfo) RunTicks() int64 { return ti._runticks }

// SysTicks returns the task's accumulated in-syscall ticks.
func (ti *TaskInfo) SysTicks() int64 { return ti._systicks }

// Bytes encodes the snapshot as a flat byte record: five 4-byte
// fields (tid, pid, parent, state, priority), a 4-byte exit code, then
// two 8-byte fields (run ticks, sys ticks), mirroring the fixed layout
// Accnt_t.Fetch uses.
func (ti *TaskInfo) Bytes() []uint8 {
	b := make([]uint8, 4*5+4+8+8)
	util.Writen(b, 4, 0, int(ti._tid))
	util.Writen(b, 4, 4, int(ti._pid))
	util.Writen(b, 4, 8, int(ti._parent))
	util.Writen(b, 4, 12, int(ti._state))
	util.Writen(b, 4, 16, int(ti._priority))
	util.Writen(b, 4, 20, ti._exitcode)
	util.Writen(b, 8, 24, int(ti._runticks))
	util.Writen(b, 8, 32, int(ti._systicks))
	return b
}

// Snapshot takes a TaskInfo of t.
func Snapshot(t *task.Task_t) TaskInfo {
	t.Lock()
	defer t.Unlock()
	return TaskInfo{
		_tid:      uint(t.Tid),
		_pid:      uint(t.Pid),
		_parent:   uint(t.Parent),
		_state:    uint(t.State),
		_priority: uint(t.Priority),
		_exitcode: t.ExitCode,
		_runticks: t.Accnt.RunTicks,
		_systicks: t.Accnt.SysTicks,
	}
}

// SystemInfo is a point-in-time snapshot of memory, CPU, and process
// counts, the fields sysmon_print_summary reports.
type SystemInfo struct {
	_framestotal  uint
	_framesfree   uint
	_heapsize     uint
	_heapused     uint
	_uptimeticks  int64
	_totaltasks   uint
	_runningtasks uint
	_blockedtasks uint
	_zombietasks  uint
}

func (si *SystemInfo) FramesTotal() int   { return int(si._framestotal) }
func (si *SystemInfo) FramesFree() int    { return int(si._framesfree) }
func (si *SystemInfo) HeapSize() uint32   { return uint32(si._heapsize) }
func (si *SystemInfo) HeapUsed() uint32   { return uint32(si._heapused) }
func (si *SystemInfo) UptimeTicks() int64 { return si._uptimeticks }
func (si *SystemInfo) TotalTasks() int    { return int(si._totaltasks) }
func (si *SystemInfo) RunningTasks() int  { return int(si._runningtasks) }
func (si *SystemInfo) BlockedTasks() int  { return int(si._blockedtasks) }
func (si *SystemInfo) ZombieTasks() int   { return int(si._zombietasks) }

// SystemSnapshot walks tt the way sysmon_get_process_stats walks the
// kernel's task list, tallying state counts alongside the frame
// allocator and heap's own counters.
func SystemSnapshot(tt *task.Table, fa *frame.Allocator, hp *heap.Heap, sc *sched.Scheduler) SystemInfo {
	var si SystemInfo
	si._framestotal = uint(fa.NFrames())
	si._framesfree = uint(fa.Free())
	si._heapsize = uint(hp.Size())
	si._heapused = uint(hp.Used())
	si._uptimeticks = sc.Ticks()

	tt.Each(func(t *task.Task_t) {
		si._totaltasks++
		switch t.GetState() {
		case task.Ready, task.Running:
			si._runningtasks++
		case task.Blocked:
			si._blockedtasks++
		case task.Zombie:
			si._zombietasks++
		}
	})
	return si
}
