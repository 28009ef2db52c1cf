// Package syscall is the syscall dispatcher (component G): decode the
// trap-entry register frame into (number, arguments), route to the
// owning subsystem, write the result back into eax. Grounded on
// original_source's kernel/core/syscall.c (a switch over the syscall
// number reading ebx/ecx/edx and writing eax) and on spec.md §6's ABI
// table. Propagation policy (spec.md §7): "subsystems return codes to
// the syscall dispatcher, which forwards them unchanged."
package syscall

import (
	"io"

	"microkern/internal/defs"
	"microkern/internal/elfload"
	"microkern/internal/ipc"
	"microkern/internal/sched"
	"microkern/internal/task"
	"microkern/internal/trapiface"
	"microkern/internal/ustr"
)

// Syscall numbers (spec.md §6).
const (
	SysExit        = 0
	SysWrite       = 1
	SysRead        = 2
	SysYield       = 3
	SysGetpid      = 4
	SysFork        = 5
	SysWait        = 6
	SysExec        = 7
	SysSend        = 10
	SysRecv        = 11
	SysPortCreate  = 12
	SysPortDestroy = 13
)

// Dispatcher wires the syscall table to the scheduler, port table, and
// the console/initrd collaborators it needs for write and exec.
type Dispatcher struct {
	Sched   *sched.Scheduler
	Ports   *ipc.Table
	Initrd  elfload.FileSystem
	Console io.Writer
}

// Dispatch decodes f for the currently running task and executes the
// named syscall, writing its result into f.Eax (spec.md §6). It
// returns true if the caller was left blocked (parked in the
// scheduler) rather than completed, so the caller knows not to advance
// past this trap until the task is rescheduled.
func (d *Dispatcher) Dispatch(f *trapiface.Frame) (blocked bool) {
	cur := d.Sched.Current()
	num := f.SyscallNumber()
	a0, a1, a2 := f.Args()

	switch num {
	case SysExit:
		d.Sched.Exit(cur, int(int32(a0)))
		return false

	case SysWrite:
		n, err := d.write(cur, a0, a1)
		if err != 0 {
			f.SetReturn(int32(err))
		} else {
			f.SetReturn(int32(n))
		}
		return false

	case SysRead:
		f.SetReturn(0)
		return false

	case SysYield:
		d.Sched.Yield()
		f.SetReturn(0)
		return false

	case SysGetpid:
		f.SetReturn(int32(cur.Pid))
		return false

	case SysFork:
		pid, err := d.Sched.Fork(cur)
		if err != 0 {
			f.SetReturn(int32(err))
		} else {
			f.SetReturn(int32(pid))
		}
		return false

	case SysWait:
		pid, code, err := d.Sched.Wait(cur, defs.Pid_t(int32(a0)))
		if err == defs.EAGAIN {
			return true
		}
		if err != 0 {
			f.SetReturn(int32(err))
			return false
		}
		if cerr := cur.Vm.CopyOut(a1, int32bytes(int32(code))); cerr != 0 {
			f.SetReturn(int32(defs.EFAULT))
			return false
		}
		f.SetReturn(int32(pid))
		return false

	case SysExec:
		path, err := d.readPath(cur, a0)
		if err != 0 {
			f.SetReturn(int32(err))
			return false
		}
		if err := d.Sched.Exec(cur, path, d.Initrd); err != 0 {
			f.SetReturn(int32(err))
		}
		return false

	case SysSend:
		msg, err := d.readMessage(cur, a1)
		if err != 0 {
			f.SetReturn(int32(err))
			return false
		}
		serr := d.Ports.Send(int(int32(a0)), msg, a2, cur)
		if serr == defs.EAGAIN && a2&ipc.NONBLOCK == 0 {
			return true
		}
		f.SetReturn(int32(serr))
		return false

	case SysRecv:
		msg, rerr := d.Ports.Receive(int(int32(a0)), a2, cur)
		if rerr == defs.EAGAIN && a2&ipc.NONBLOCK == 0 {
			return true
		}
		if rerr != 0 {
			f.SetReturn(int32(rerr))
			return false
		}
		if werr := d.writeMessage(cur, a1, msg); werr != 0 {
			f.SetReturn(int32(defs.EFAULT))
			return false
		}
		f.SetReturn(0)
		return false

	case SysPortCreate:
		id, err := d.Ports.Create(cur.Pid)
		if err != 0 {
			f.SetReturn(int32(err))
		} else {
			cur.AddPort(id)
			f.SetReturn(int32(id))
		}
		return false

	case SysPortDestroy:
		id := int(int32(a0))
		if err := d.Ports.Destroy(id); err != 0 {
			f.SetReturn(int32(err))
		} else {
			cur.RemovePort(id)
			f.SetReturn(0)
		}
		return false

	default:
		f.SetReturn(int32(defs.EINVAL))
		return false
	}
}

func (d *Dispatcher) write(cur *task.Task_t, va, length uint32) (int, defs.Err_t) {
	buf := make([]byte, length)
	if err := cur.Vm.CopyIn(va, buf); err != 0 {
		return 0, defs.EFAULT
	}
	if d.Console != nil {
		d.Console.Write(buf)
	}
	return len(buf), 0
}

// readPath copies a NUL-terminated path string in from user memory one
// byte at a time, per spec.md §6's "path of exec is validated readable
// with length 1" — only the first byte is validated up front; any
// fault on a later byte is caught by the ordinary CopyIn fault check.
func (d *Dispatcher) readPath(cur *task.Task_t, va uint32) (string, defs.Err_t) {
	var buf []byte
	one := make([]byte, 1)
	for i := 0; i < ustr.MaxPathLen; i++ {
		if err := cur.Vm.CopyIn(va+uint32(i), one); err != 0 {
			return "", defs.EFAULT
		}
		if one[0] == 0 {
			break
		}
		buf = append(buf, one[0])
	}
	return ustr.MkUstrSlice(buf).String(), 0
}

func (d *Dispatcher) readMessage(cur *task.Task_t, va uint32) (ipc.Message, defs.Err_t) {
	var msg ipc.Message
	raw := make([]byte, messageWireSize)
	if err := cur.Vm.CopyIn(va, raw); err != 0 {
		return msg, defs.EFAULT
	}
	decodeMessage(raw, &msg)
	return msg, 0
}

func (d *Dispatcher) writeMessage(cur *task.Task_t, va uint32, msg ipc.Message) defs.Err_t {
	raw := make([]byte, messageWireSize)
	encodeMessage(msg, raw)
	if err := cur.Vm.CopyOut(va, raw); err != 0 {
		return defs.EFAULT
	}
	return 0
}

func int32bytes(v int32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
