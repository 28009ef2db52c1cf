// Package elfload is the ELF32 loader exec uses to bring a user
// program's image into a freshly created address space. Grounded on
// original_source's kernel/core/elf.c (elf_validate's magic/class/
// data/type/machine checks, elf_load's per-PT_LOAD-segment mapping and
// BSS zeroing) but parsed with the standard library's debug/elf
// instead of hand-rolled header structs, the way the teacher's own
// kernel/chentry.go reads ELF headers (adapted there from 64-bit to
// this core's 32-bit/i386 subset, per spec.md §6: "ELF magic, class=32-
// bit, data=little-endian, type=EXEC, machine=i386").
package elfload

import (
	"bytes"
	"debug/elf"
	"io"

	"microkern/internal/defs"
	"microkern/internal/mem"
	"microkern/internal/vmm"
)

// FileSystem resolves an exec path to its raw ELF image bytes. The
// initrd collaborator (spec.md §6) implements this; it is the only
// notion of a "filesystem" this core depends on.
type FileSystem interface {
	Lookup(path string) ([]byte, bool)
}

// Validate checks the subset of the ELF32 format spec.md §6 requires:
// 32-bit, little-endian, executable, i386.
func Validate(f *elf.File) defs.Err_t {
	if f.Class != elf.ELFCLASS32 {
		return defs.EINVAL
	}
	if f.Data != elf.ELFDATA2LSB {
		return defs.EINVAL
	}
	if f.Type != elf.ET_EXEC {
		return defs.EINVAL
	}
	if f.Machine != elf.EM_386 {
		return defs.EINVAL
	}
	return 0
}

// Load parses img as an ELF32 executable, builds a new address space
// via m, maps and populates every PT_LOAD segment (elf_load), and
// returns the new Vm_t and the entry virtual address. On any failure
// the partially built address space is torn down and the error
// returned; the caller's existing address space is never touched by
// Load itself.
func Load(m *vmm.Manager, img []byte) (*vmm.Vm_t, uint32, defs.Err_t) {
	f, err := elf.NewFile(bytes.NewReader(img))
	if err != nil {
		return nil, 0, defs.EINVAL
	}
	defer f.Close()
	if verr := Validate(f); verr != 0 {
		return nil, 0, verr
	}

	vm, verr := m.New()
	if verr != 0 {
		return nil, 0, verr
	}

	for _, ph := range f.Progs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		if ph.Memsz == 0 {
			continue
		}
		if uint32(ph.Vaddr) >= mem.KernelBase {
			m.Destroy(vm)
			return nil, 0, defs.EINVAL
		}

		flags := vmm.P | vmm.U
		if ph.Flags&elf.PF_W != 0 {
			flags |= vmm.W
		}

		vaStart := uint32(ph.Vaddr) &^ uint32(mem.PGOFFSET)
		vaEnd := (uint32(ph.Vaddr) + uint32(ph.Memsz) + uint32(mem.PGOFFSET)) &^ uint32(mem.PGOFFSET)
		for va := vaStart; va < vaEnd; va += mem.PGSIZE {
			if vm.IsMapped(va) {
				continue
			}
			if merr := vm.MapNew(va, flags); merr != 0 {
				m.Destroy(vm)
				return nil, 0, merr
			}
		}

		if ph.Filesz > 0 {
			data := make([]byte, ph.Filesz)
			if _, rerr := io.ReadFull(ph.Open(), data); rerr != nil {
				m.Destroy(vm)
				return nil, 0, defs.EINVAL
			}
			// A read-only/executable segment has no PTE_W, but the
			// loader still has to put its bytes in place; LoadInto
			// writes through a fresh mapping the way elf_load's
			// memcpy does, not through the user-pointer path.
			if cerr := vm.LoadInto(uint32(ph.Vaddr), data); cerr != 0 {
				m.Destroy(vm)
				return nil, 0, cerr
			}
		}

		if ph.Memsz > ph.Filesz {
			bssStart := uint32(ph.Vaddr) + uint32(ph.Filesz)
			bssLen := uint32(ph.Memsz - ph.Filesz)
			zeros := make([]byte, bssLen)
			if cerr := vm.LoadInto(bssStart, zeros); cerr != 0 {
				m.Destroy(vm)
				return nil, 0, cerr
			}
		}
	}

	return vm, uint32(f.Entry), 0
}
