// Adapted in coverage from original_source's tests/ipc/test_ipc.c:
// port create/destroy, send/receive round trip, full/empty signaling,
// invalid port ids, reuse after destroy, plus this core's added
// blocking-mode wait-queue behavior.
package ipc

import (
	"testing"

	"microkern/internal/defs"
	"microkern/internal/task"
)

func newTestFixture() (*Table, *task.Table) {
	tasks := task.NewTable()
	return NewTable(tasks), tasks
}

func mkTask(tasks *task.Table, prio int) *task.Task_t {
	return tasks.New(prio, nil, defs.NoTask)
}

func TestPortCreateDestroy(t *testing.T) {
	pt, _ := newTestFixture()
	p, err := pt.Create(1)
	if err != 0 || p < 0 {
		t.Fatalf("create failed: %d %d", p, err)
	}
	if err := pt.Destroy(p); err != 0 {
		t.Fatalf("destroy failed: %d", err)
	}
}

func TestPortCreateMultipleDistinctIds(t *testing.T) {
	pt, _ := newTestFixture()
	p1, _ := pt.Create(1)
	p2, _ := pt.Create(1)
	p3, _ := pt.Create(1)
	if p1 == p2 || p2 == p3 || p1 == p3 {
		t.Fatalf("expected distinct port ids, got %d %d %d", p1, p2, p3)
	}
}

func TestPortDestroyInvalid(t *testing.T) {
	pt, _ := newTestFixture()
	if err := pt.Destroy(-1); err != defs.EINVAL {
		t.Fatalf("want EINVAL for negative id, got %d", err)
	}
	if err := pt.Destroy(9999); err != defs.EINVAL {
		t.Fatalf("want EINVAL for out-of-range id, got %d", err)
	}
}

func TestSendReceiveRoundTrip(t *testing.T) {
	pt, tasks := newTestFixture()
	sender := mkTask(tasks, 5)
	receiver := mkTask(tasks, 5)
	p, _ := pt.Create(receiver.Pid)

	var msg Message
	msg.Type = 0x42
	msg.Len = 4
	copy(msg.Payload[:], []byte{1, 2, 3, 4})
	if err := pt.Send(p, msg, NONBLOCK, sender); err != 0 {
		t.Fatalf("send failed: %d", err)
	}
	got, err := pt.Receive(p, NONBLOCK, receiver)
	if err != 0 {
		t.Fatalf("receive failed: %d", err)
	}
	if got.Sender != sender.Pid {
		t.Fatalf("want stamped sender %d, got %d", sender.Pid, got.Sender)
	}
	if got.Type != 0x42 || got.Len != 4 {
		t.Fatalf("unexpected message header: %+v", got)
	}
	if got.Payload[0] != 1 || got.Payload[3] != 4 {
		t.Fatalf("payload mismatch: %v", got.Payload[:4])
	}
}

func TestReceiveNonblockEmptyFails(t *testing.T) {
	pt, tasks := newTestFixture()
	receiver := mkTask(tasks, 5)
	p, _ := pt.Create(receiver.Pid)
	if _, err := pt.Receive(p, NONBLOCK, receiver); err != defs.EAGAIN {
		t.Fatalf("want EAGAIN on empty nonblock receive, got %d", err)
	}
}

func TestSendInvalidPortFails(t *testing.T) {
	pt, tasks := newTestFixture()
	sender := mkTask(tasks, 5)
	if err := pt.Send(-1, Message{}, NONBLOCK, sender); err != defs.EINVAL {
		t.Fatalf("want EINVAL for invalid port, got %d", err)
	}
}

func TestQueueFillToCapacityThenFull(t *testing.T) {
	pt, tasks := newTestFixture()
	sender := mkTask(tasks, 5)
	receiver := mkTask(tasks, 5)
	p, _ := pt.Create(receiver.Pid)
	for i := 0; i < 16; i++ {
		if err := pt.Send(p, Message{Type: uint32(i)}, NONBLOCK, sender); err != 0 {
			t.Fatalf("send %d failed: %d", i, err)
		}
	}
	if err := pt.Send(p, Message{}, NONBLOCK, sender); err != defs.EAGAIN {
		t.Fatalf("want EAGAIN on 17th nonblock send, got %d", err)
	}
	if _, err := pt.Receive(p, NONBLOCK, receiver); err != 0 {
		t.Fatalf("receive after full should unblock one slot: %d", err)
	}
	if err := pt.Send(p, Message{}, NONBLOCK, sender); err != 0 {
		t.Fatalf("send should now succeed after one receive: %d", err)
	}
}

func TestBlockingSendParksCallerAndWakesOnReceive(t *testing.T) {
	pt, tasks := newTestFixture()
	sender := mkTask(tasks, 5)
	receiver := mkTask(tasks, 5)
	p, _ := pt.Create(receiver.Pid)
	for i := 0; i < 16; i++ {
		pt.Send(p, Message{}, NONBLOCK, sender)
	}
	if err := pt.Send(p, Message{}, 0, sender); err != defs.EAGAIN {
		t.Fatalf("want EAGAIN (parked) for blocking send on full queue, got %d", err)
	}
	if sender.GetState() != task.Blocked {
		t.Fatalf("want sender parked as Blocked, got %s", sender.GetState())
	}
	if _, err := pt.Receive(p, NONBLOCK, receiver); err != 0 {
		t.Fatalf("receive failed: %d", err)
	}
	if sender.GetState() != task.Ready {
		t.Fatalf("want sender woken to Ready after receive freed a slot, got %s", sender.GetState())
	}
}

func TestReplyFindsPortOwnedByDest(t *testing.T) {
	pt, tasks := newTestFixture()
	a := mkTask(tasks, 5)
	b := mkTask(tasks, 5)
	pa, _ := pt.Create(a.Pid)
	pb, _ := pt.Create(b.Pid)

	var req Message
	req.Type = 1
	pt.Send(pb, req, NONBLOCK, a)
	got, _ := pt.Receive(pb, NONBLOCK, b)

	var reply Message
	reply.Type = 2
	if err := pt.Reply(got.Sender, reply, b); err != 0 {
		t.Fatalf("reply failed: %d", err)
	}
	if n := pt.QueueLen(pa); n != 1 {
		t.Fatalf("want reply queued on port %d owned by dest, got %d queued", pa, n)
	}
}

func TestDestroyAllOwnedByFreesEveryPort(t *testing.T) {
	pt, _ := newTestFixture()
	const owner = defs.Pid_t(7)
	p1, _ := pt.Create(owner)
	p2, _ := pt.Create(owner)
	pt.DestroyAllOwnedBy(owner)
	if _, ok := pt.Owner(p1); ok {
		t.Fatalf("expected port %d destroyed", p1)
	}
	if _, ok := pt.Owner(p2); ok {
		t.Fatalf("expected port %d destroyed", p2)
	}
}
