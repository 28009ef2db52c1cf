// Package kernel wires every subsystem into a running core: the boot
// sequence original_source's kernel/kernel.c performs in kernel_main
// (memory, then IPC, then the scheduler, then syscalls, then the first
// tasks), reshaped into a constructor a host test or a platform's real
// entry stub can call instead of a bare-metal _start. Grounded on
// kernel_main's ordering and on the teacher's own boot narration style
// (biscuit's kernel/chentry.go prints a line per subsystem as it comes
// up) via klog instead of direct console writes.
package kernel

import (
	"io"

	"microkern/internal/bootcfg"
	"microkern/internal/defs"
	"microkern/internal/elfload"
	"microkern/internal/frame"
	"microkern/internal/heap"
	"microkern/internal/ipc"
	"microkern/internal/klog"
	"microkern/internal/mem"
	"microkern/internal/sched"
	"microkern/internal/syscall"
	"microkern/internal/task"
	"microkern/internal/trapiface"
	"microkern/internal/vmm"
)

// logCap is the number of entries the boot log ring retains, sized the
// way log.c's LOG_BUFFER_SIZE is: enough for a boot narration plus a
// few hundred runtime events.
const logCap = 512

// Kernel owns every subsystem instance a running core needs: the
// physical and virtual memory managers, the task and port tables, the
// scheduler, and the syscall dispatcher sitting on top of all of them.
type Kernel struct {
	Cfg bootcfg.Config
	Log *klog.Ring

	Ram    *mem.RAM
	Frames *frame.Allocator
	Vmm    *vmm.Manager
	Heap   *heap.Heap

	Tasks *task.Table
	Ports *ipc.Table
	Sched *sched.Scheduler

	Syscalls *syscall.Dispatcher
}

// Boot assembles a Kernel following kernel_main's ordering: GDT/IDT are
// a real platform's concern and have no host-testable equivalent here,
// so this starts where pmm_init does.
//
//   - mark every frame used, then re-mark cfg's usable regions free
//     (the bootstrap inversion spec.md §4.1 requires)
//   - reserve the kernel image's own frames
//   - build the kernel's shared upper-quarter page directory
//   - size the kernel heap
//   - bring up the task table, idle task, port table, and scheduler
//   - bring up the syscall dispatcher
//
// Boot does not create or exec the init task; callers that want one
// call StartInit once Boot returns.
func Boot(cfg bootcfg.Config, console io.Writer) (*Kernel, defs.Err_t) {
	k := &Kernel{Cfg: cfg}
	k.Log = klog.NewRing(logCap, console)
	k.Log.Infof(0, "boot sequence started")

	k.Ram = mem.NewRAM(cfg.TotalMemBytes)
	k.Frames = frame.New(cfg.TotalMemBytes)
	k.Frames.MarkRegionUsed(0, cfg.TotalMemBytes)
	for _, r := range cfg.UsableRegions {
		k.Frames.MarkRegionFree(r.Base, r.Size)
	}
	k.Frames.MarkRegionUsed(cfg.KernelImage.Base, cfg.KernelImage.Size)
	k.Log.Infof(0, "physical memory manager initialized: %d frames free", k.Frames.Free())

	k.Vmm = vmm.NewManager(k.Ram, k.Frames)
	kvm, err := k.Vmm.InitKernelDirectory(cfg.KernelImage.Base, cfg.KernelImage.Size)
	if err != 0 {
		return nil, err
	}
	k.Log.Infof(0, "virtual memory manager initialized")

	k.Heap = heap.NewDefault()
	k.Log.Infof(0, "kernel heap initialized: %d bytes", k.Heap.Size())

	k.Tasks = task.NewTable()
	idle := k.Tasks.NewIdle(kvm)
	k.Ports = ipc.NewTable(k.Tasks)
	k.Sched = sched.New(k.Tasks, k.Ports, k.Vmm, k.Frames, k.Ram, idle)
	k.Log.Infof(0, "ipc subsystem initialized")
	k.Log.Infof(0, "scheduler initialized")

	k.Syscalls = &syscall.Dispatcher{Sched: k.Sched, Ports: k.Ports, Console: console}
	k.Log.Infof(0, "syscall interface initialized")

	k.Log.Infof(0, "boot sequence complete")
	return k, 0
}

// StartInit creates the first user task, points it at the named
// program in initrd via exec, and marks it schedulable, mirroring
// kernel_main's task_create(init_task, 1, true) followed immediately by
// the shell it runs. Unlike the idle task, init has no fixed tid; it
// gets the next one the task table hands out.
func (k *Kernel) StartInit(path string, initrd elfload.FileSystem) (*task.Task_t, defs.Err_t) {
	k.Syscalls.Initrd = initrd
	vm, verr := k.Vmm.New()
	if verr != 0 {
		return nil, verr
	}
	initTask := k.Tasks.New(1, vm, defs.IdleTid)
	if err := k.Sched.Exec(initTask, path, initrd); err != 0 {
		return nil, err
	}
	initTask.SetState(task.Ready)
	k.Log.Infof(k.Sched.Ticks(), "init task created and exec'd: %s", path)
	return initTask, 0
}

// Step advances the machine by one timer tick and, if a syscall trap is
// pending for the current task, dispatches it. It returns the task the
// scheduler is left running and whether that task is now parked
// (blocked mid-syscall, per syscall.Dispatcher.Dispatch's "retry the
// same trap" contract), mirroring what a platform's timer ISR plus trap
// handler would do each tick in kernel_main's sti(); schedule() tail.
func (k *Kernel) Step(pendingTrap *trapiface.Frame) (current *task.Task_t, blocked bool) {
	k.Sched.Tick()
	if pendingTrap != nil {
		blocked = k.Syscalls.Dispatch(pendingTrap)
	}
	return k.Sched.Current(), blocked
}
