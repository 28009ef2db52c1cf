package sched

import (
	"testing"

	"microkern/internal/defs"
	"microkern/internal/frame"
	"microkern/internal/ipc"
	"microkern/internal/mem"
	"microkern/internal/task"
	"microkern/internal/vmm"
)

func newFixture(t *testing.T) (*Scheduler, *task.Table, *vmm.Manager) {
	t.Helper()
	total := uint32(64 * mem.PGSIZE)
	ram := mem.NewRAM(total)
	fa := frame.New(total)
	fa.MarkRegionFree(0, total)
	vm := vmm.NewManager(ram, fa)
	kvm, err := vm.InitKernelDirectory(0, 4*mem.PGSIZE)
	if err != 0 {
		t.Fatalf("init kernel dir failed: %d", err)
	}
	tt := task.NewTable()
	idle := tt.NewIdle(kvm)
	pt := ipc.NewTable(tt)
	sc := New(tt, pt, vm, fa, ram, idle)
	return sc, tt, vm
}

func TestScheduleAlwaysReturnsHighestPriorityReady(t *testing.T) {
	sc, tt, vm := newFixture(t)
	uvm1, _ := vm.New()
	uvm2, _ := vm.New()
	low := tt.New(1, uvm1, defs.NoTask)
	high := tt.New(9, uvm2, defs.NoTask)

	next := sc.Schedule()
	if next != high {
		t.Fatalf("want highest-priority task scheduled, got tid %d want %d", next.Tid, high.Tid)
	}
	if next.GetState() != task.Running {
		t.Fatalf("want scheduled task running, got %v", next.GetState())
	}
	if low.GetState() != task.Ready {
		t.Fatalf("want loser still ready, got %v", low.GetState())
	}
}

func TestScheduleFallsBackToIdleWhenNoneReady(t *testing.T) {
	sc, tt, _ := newFixture(t)
	idle, _ := tt.Get(defs.IdleTid)
	next := sc.Schedule()
	if next != idle {
		t.Fatalf("want idle task when nothing else ready, got tid %d", next.Tid)
	}
}

func TestTickExpiresQuantumAndReschedules(t *testing.T) {
	sc, tt, vm := newFixture(t)
	uvm, _ := vm.New()
	tsk := tt.New(5, uvm, defs.NoTask)
	sc.Schedule()
	if sc.Current() != tsk {
		t.Fatalf("want tsk current")
	}
	for i := 0; i < timeSlice; i++ {
		sc.Tick()
	}
	if sc.Ticks() != int64(timeSlice) {
		t.Fatalf("want %d ticks observed, got %d", timeSlice, sc.Ticks())
	}
	// Quantum expired: tsk should have cycled back through Ready and be
	// running again since it's still the only/highest-priority task.
	if tsk.GetState() != task.Running {
		t.Fatalf("want tsk still running after quantum reset, got %v", tsk.GetState())
	}
}

func TestForkDuplicatesAddressSpaceAndZeroesChildReturn(t *testing.T) {
	sc, tt, vm := newFixture(t)
	uvm, _ := vm.New()
	parent := tt.New(5, uvm, defs.NoTask)
	if err := parent.Vm.MapNew(0x9000, vmm.P|vmm.W|vmm.U); err != 0 {
		t.Fatalf("mapnew failed: %d", err)
	}
	parent.Regs.Eax = 999 // syscall number slot, arbitrary nonzero marker

	childPid, err := sc.Fork(parent)
	if err != 0 {
		t.Fatalf("fork failed: %d", err)
	}
	child, ok := tt.Get(defs.Tid_t(childPid))
	if !ok {
		t.Fatalf("child task not found")
	}
	if child.Parent != parent.Tid {
		t.Fatalf("want child parented under %d, got %d", parent.Tid, child.Parent)
	}
	if child.Regs.Eax != 0 {
		t.Fatalf("want child's return value patched to 0, got %d", child.Regs.Eax)
	}
	if !child.Vm.IsMapped(0x9000) {
		t.Fatalf("want child to inherit parent's mapped page by clone")
	}
	if child.Vm.Dir == parent.Vm.Dir {
		t.Fatalf("want child to have its own address space, not share the parent's")
	}
}

func TestWaitCollectsAlreadyZombieChild(t *testing.T) {
	sc, tt, vm := newFixture(t)
	puvm, _ := vm.New()
	parent := tt.New(5, puvm, defs.NoTask)
	cuvm, _ := vm.New()
	child := tt.New(5, cuvm, parent.Tid)
	parent.Lock()
	parent.Children = append(parent.Children, child.Tid)
	parent.Unlock()
	child.SetState(task.Zombie)
	child.ExitCode = 42

	pid, code, err := sc.Wait(parent, -1)
	if err != 0 {
		t.Fatalf("wait failed: %d", err)
	}
	if pid != child.Pid || code != 42 {
		t.Fatalf("want pid %d code 42, got pid %d code %d", child.Pid, pid, code)
	}
	if _, ok := tt.Get(child.Tid); ok {
		t.Fatalf("want child reaped after wait collects it")
	}
}

func TestWaitBlocksWhenNoZombieChild(t *testing.T) {
	sc, tt, vm := newFixture(t)
	puvm, _ := vm.New()
	parent := tt.New(5, puvm, defs.NoTask)
	cuvm, _ := vm.New()
	child := tt.New(5, cuvm, parent.Tid)
	parent.Lock()
	parent.Children = append(parent.Children, child.Tid)
	parent.Unlock()

	_, _, err := sc.Wait(parent, -1)
	if err != defs.EAGAIN {
		t.Fatalf("want EAGAIN (parked), got %d", err)
	}
	if parent.GetState() != task.Blocked {
		t.Fatalf("want parent blocked, got %v", parent.GetState())
	}
}

func TestExitWakesBlockedParentAndReparentsChildren(t *testing.T) {
	sc, tt, vm := newFixture(t)
	puvm, _ := vm.New()
	parent := tt.New(5, puvm, defs.NoTask)
	cuvm, _ := vm.New()
	child := tt.New(5, cuvm, parent.Tid)
	parent.Lock()
	parent.Children = append(parent.Children, child.Tid)
	parent.Unlock()

	guvm, _ := vm.New()
	grandchild := tt.New(5, guvm, child.Tid)
	child.Lock()
	child.Children = append(child.Children, grandchild.Tid)
	child.Unlock()

	if _, _, err := sc.Wait(parent, -1); err != defs.EAGAIN {
		t.Fatalf("want parent parked, got %d", err)
	}

	sc.Exit(child, 7)

	if parent.GetState() == task.Blocked {
		t.Fatalf("want parent unblocked after child exit")
	}
	if grandchild.Parent != defs.IdleTid {
		t.Fatalf("want grandchild reparented to idle, got %d", grandchild.Parent)
	}
	if child.GetState() != task.Zombie {
		t.Fatalf("want exited child zombie, got %v", child.GetState())
	}
}

func TestExitDestroysOwnedPorts(t *testing.T) {
	sc, tt, vm := newFixture(t)
	uvm, _ := vm.New()
	tsk := tt.New(5, uvm, defs.NoTask)
	id, err := sc.Ports.Create(tsk.Pid)
	if err != 0 {
		t.Fatalf("port create failed: %d", err)
	}
	tsk.AddPort(id)

	sc.Exit(tsk, 0)

	if _, ok := sc.Ports.Owner(id); ok {
		t.Fatalf("want port destroyed on exit")
	}
}
