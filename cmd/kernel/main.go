// Command kernel boots the microkernel core against a synthetic memory
// map and initrd image, execs the init task, drives the scheduler for up
// to -ticks timer ticks, and prints a system summary. No user
// instruction is executed, so init never reaches its own exit syscall
// and the run ends when the tick budget is spent. Real bare-metal boot hands the kernel a GRUB-supplied
// memory map and an initrd loaded by the bootloader (spec.md §6); this
// entry point builds stand-ins for both so the core's boot sequence and
// scheduler loop can run and be observed without real hardware, the way
// chentry.go stands in for the build-time tool the original's Makefile
// invokes rather than a tool that runs on the target.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"

	"microkern/internal/bootcfg"
	"microkern/internal/kernel"
	"microkern/internal/stat"
	"microkern/internal/syscall"
	"microkern/internal/task"
	"microkern/internal/trapiface"
)

func main() {
	memMB := flag.Int("mem", 16, "simulated RAM size in MiB")
	initPath := flag.String("initrd", "", "path to a flat ELF32 binary to run as the init task (synthetic binary used if empty)")
	maxTicks := flag.Int("ticks", 10000, "maximum timer ticks to run before giving up on init exiting")
	flag.Parse()

	cfg := bootcfg.Default()
	cfg.TotalMemBytes = uint32(*memMB) << 20
	cfg.UsableRegions[0].Size = cfg.TotalMemBytes - cfg.UsableRegions[0].Base

	k, err := kernel.Boot(cfg, os.Stdout)
	if err != 0 {
		log.Fatalf("boot failed: %d", err)
	}

	img, err2 := loadInitImage(*initPath)
	if err2 != nil {
		log.Fatal(err2)
	}
	initrd := fakeInitrd{"/init": img}

	initTask, serr := k.StartInit("/init", initrd)
	if serr != 0 {
		log.Fatalf("exec of init failed: %d", serr)
	}

	run(k, initTask, *maxTicks)

	si := stat.SystemSnapshot(k.Tasks, k.Frames, k.Heap, k.Sched)
	fmt.Printf("\n=== System Summary ===\n")
	fmt.Printf("frames: %d/%d free\n", si.FramesFree(), si.FramesTotal())
	fmt.Printf("heap:   %d/%d used\n", si.HeapUsed(), si.HeapSize())
	fmt.Printf("tasks:  %d total, %d running, %d blocked, %d zombie\n",
		si.TotalTasks(), si.RunningTasks(), si.BlockedTasks(), si.ZombieTasks())
	fmt.Printf("uptime: %d ticks\n", si.UptimeTicks())
}

type fakeInitrd map[string][]byte

func (f fakeInitrd) Lookup(path string) ([]byte, bool) {
	b, ok := f[path]
	return b, ok
}

// run drives the scheduler one tick at a time until initTask reaches
// ZOMBIE or maxTicks is exhausted. A synthetic harness has no real CPU
// to trap instructions from, so every tick carries the same yield
// trap for whichever task the scheduler selects; this exercises the
// preemption path without a real interrupt controller beneath it, but
// never the exit path, so initTask stays alive and the loop ends at
// maxTicks with a warning.
func run(k *kernel.Kernel, initTask *task.Task_t, maxTicks int) {
	var frame trapiface.Frame
	for i := 0; i < maxTicks; i++ {
		if initTask.GetState() == task.Zombie {
			return
		}
		frame = trapiface.Frame{Eax: syscall.SysYield}
		k.Step(&frame)
	}
	fmt.Fprintf(os.Stderr, "warning: init task did not exit within %d ticks\n", maxTicks)
}

// loadInitImage reads path, or if path is empty synthesizes a minimal
// ELF32 program whose only instruction is an immediate exit(0)
// syscall, enough to exercise boot and exec without needing a real
// userland toolchain.
func loadInitImage(path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return synthInitELF(), nil
}

// synthInitELF hand-assembles a tiny ELF32/EM_386/ET_EXEC image whose
// code is "mov eax, 0; int 0x80" (exit(0)), the smallest program this
// core's ABI can run to completion.
func synthInitELF() []byte {
	const vaddr = 0x08048000
	code := []byte{
		0xb8, 0x00, 0x00, 0x00, 0x00, // mov eax, 0
		0xcd, 0x80, // int 0x80
	}

	const ehsize = 52
	const phsize = 32
	fileOff := uint32(ehsize + phsize)
	buf := make([]byte, fileOff+uint32(len(code)))

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4], buf[5], buf[6] = 1, 1, 1 // ELFCLASS32, ELFDATA2LSB, EV_CURRENT

	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2)      // ET_EXEC
	le.PutUint16(buf[18:], 3)      // EM_386
	le.PutUint32(buf[20:], 1)      // EV_CURRENT
	le.PutUint32(buf[24:], vaddr)  // e_entry
	le.PutUint32(buf[28:], ehsize) // e_phoff
	le.PutUint16(buf[40:], ehsize)
	le.PutUint16(buf[42:], phsize)
	le.PutUint16(buf[44:], 1)

	ph := buf[ehsize:]
	le.PutUint32(ph[0:], 1)                  // PT_LOAD
	le.PutUint32(ph[4:], fileOff)             // p_offset
	le.PutUint32(ph[8:], vaddr)               // p_vaddr
	le.PutUint32(ph[12:], vaddr)              // p_paddr
	le.PutUint32(ph[16:], uint32(len(code)))  // p_filesz
	le.PutUint32(ph[20:], uint32(len(code)))  // p_memsz
	le.PutUint32(ph[24:], 5)                  // PF_R|PF_X
	le.PutUint32(ph[28:], 0x1000)             // p_align

	copy(buf[fileOff:], code)
	return buf
}
