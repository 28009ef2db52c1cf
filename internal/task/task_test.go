package task

import (
	"testing"

	"microkern/internal/defs"
)

func TestNewAssignsIncreasingTidsAndLinksParent(t *testing.T) {
	tt := NewTable()
	idle := tt.NewIdle(nil)
	child := tt.New(5, nil, idle.Tid)
	if child.Tid <= idle.Tid {
		t.Fatalf("want child tid greater than idle tid, got %d <= %d", child.Tid, idle.Tid)
	}
	if child.Parent != idle.Tid {
		t.Fatalf("want parent %d, got %d", idle.Tid, child.Parent)
	}
	idle.Lock()
	kids := append([]defs.Tid_t(nil), idle.Children...)
	idle.Unlock()
	if len(kids) != 1 || kids[0] != child.Tid {
		t.Fatalf("want idle's children to list %d, got %v", child.Tid, kids)
	}
}

func TestReadyReturnsOnlyReadyTasksSortedByTid(t *testing.T) {
	tt := NewTable()
	idle := tt.NewIdle(nil)
	idle.SetState(Blocked)
	a := tt.New(1, nil, defs.NoTask)
	b := tt.New(1, nil, defs.NoTask)
	b.SetState(Zombie)
	c := tt.New(1, nil, defs.NoTask)

	ready := tt.Ready()
	if len(ready) != 2 {
		t.Fatalf("want 2 ready tasks, got %d", len(ready))
	}
	if ready[0].Tid != a.Tid || ready[1].Tid != c.Tid {
		t.Fatalf("want ascending-tid order [%d %d], got [%d %d]", a.Tid, c.Tid, ready[0].Tid, ready[1].Tid)
	}
}

func TestBlockThenUnblockRestoresReady(t *testing.T) {
	tt := NewTable()
	tsk := tt.New(3, nil, defs.NoTask)
	tsk.Block(BlockedOnRecv, 7)
	if tsk.GetState() != Blocked {
		t.Fatalf("want blocked, got %v", tsk.GetState())
	}
	if tsk.Reason != BlockedOnRecv || tsk.WaitArg != 7 {
		t.Fatalf("want reason/arg recorded, got %v/%d", tsk.Reason, tsk.WaitArg)
	}
	tsk.Unblock()
	if tsk.GetState() != Ready {
		t.Fatalf("want ready after unblock, got %v", tsk.GetState())
	}
	if tsk.Reason != NotBlocked {
		t.Fatalf("want reason cleared, got %v", tsk.Reason)
	}
}

func TestUnblockOnNonBlockedTaskIsNoop(t *testing.T) {
	tt := NewTable()
	tsk := tt.New(3, nil, defs.NoTask)
	tsk.Unblock()
	if tsk.GetState() != Ready {
		t.Fatalf("want still ready, got %v", tsk.GetState())
	}
}

func TestAddAndRemovePort(t *testing.T) {
	tt := NewTable()
	tsk := tt.New(3, nil, defs.NoTask)
	tsk.AddPort(1)
	tsk.AddPort(2)
	if got := tsk.OwnedPorts(); len(got) != 2 {
		t.Fatalf("want 2 owned ports, got %v", got)
	}
	tsk.RemovePort(1)
	got := tsk.OwnedPorts()
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("want only port 2 left, got %v", got)
	}
}

func TestReapRemovesTaskFromTable(t *testing.T) {
	tt := NewTable()
	tsk := tt.New(3, nil, defs.NoTask)
	tt.Reap(tsk.Tid)
	if _, ok := tt.Get(tsk.Tid); ok {
		t.Fatalf("want task reaped")
	}
}

func TestReparentMovesChildrenToIdleAndClearsOriginal(t *testing.T) {
	tt := NewTable()
	idle := tt.NewIdle(nil)
	parent := tt.New(2, nil, idle.Tid)
	child := tt.New(2, nil, parent.Tid)

	reparented := tt.Reparent(parent.Tid)
	if len(reparented) != 1 || reparented[0] != child.Tid {
		t.Fatalf("want child reparented, got %v", reparented)
	}
	if child.Parent != idle.Tid {
		t.Fatalf("want child's parent now idle, got %d", child.Parent)
	}
	parent.Lock()
	remaining := len(parent.Children)
	parent.Unlock()
	if remaining != 0 {
		t.Fatalf("want parent's children cleared, got %d remaining", remaining)
	}
}

func TestReapZombieChildrenOnlyReapsZombies(t *testing.T) {
	tt := NewTable()
	idle := tt.NewIdle(nil)
	a := tt.New(1, nil, idle.Tid)
	b := tt.New(1, nil, idle.Tid)
	a.SetState(Zombie)

	n := tt.ReapZombieChildren(idle.Tid)
	if n != 1 {
		t.Fatalf("want 1 zombie reaped, got %d", n)
	}
	if _, ok := tt.Get(a.Tid); ok {
		t.Fatalf("want zombie task gone from table")
	}
	if _, ok := tt.Get(b.Tid); !ok {
		t.Fatalf("want non-zombie task still present")
	}
}

func TestEachVisitsEveryLiveTask(t *testing.T) {
	tt := NewTable()
	tt.NewIdle(nil)
	tt.New(1, nil, defs.NoTask)
	tt.New(1, nil, defs.NoTask)
	count := 0
	tt.Each(func(*Task_t) { count++ })
	if count != 3 {
		t.Fatalf("want 3 tasks visited, got %d", count)
	}
}
