// Package trapiface defines the boundary type the platform trap
// dispatcher hands the kernel core on every interrupt, exception, and
// syscall: one saved register frame. Grounded on original_source's
// kernel/core/syscall.c (which reads eax/ebx/ecx/edx out of a trapframe
// to decode a syscall) and on the teacher's practice of a single
// plain data struct carried across the kernel/platform boundary
// (biscuit/src/kernel's use of a Trapframe-shaped type).
package trapiface

// Frame is the saved i386 register state at trap entry (spec.md §6):
// eax carries the syscall number on entry and the return value on
// exit; ebx, ecx, edx carry up to three arguments.
type Frame struct {
	Eax, Ebx, Ecx, Edx uint32
	Esi, Edi, Ebp, Esp uint32
	Eip, Eflags        uint32
	Cs, Ds, Es, Fs, Gs, Ss uint32
	// ErrorCode and FaultAddr are only meaningful on a page-fault trap
	// (error code pushed by the CPU, faulting address from CR2).
	ErrorCode uint32
	FaultAddr uint32
}

// SyscallNumber returns the syscall number carried in eax at trap
// entry.
func (f *Frame) SyscallNumber() uint32 { return f.Eax }

// Args returns the three syscall arguments carried in ebx, ecx, edx.
func (f *Frame) Args() (uint32, uint32, uint32) { return f.Ebx, f.Ecx, f.Edx }

// SetReturn writes a syscall's result back into eax, the only frame
// field a syscall handler is allowed to mutate (spec.md §6).
func (f *Frame) SetReturn(v int32) { f.Eax = uint32(v) }
