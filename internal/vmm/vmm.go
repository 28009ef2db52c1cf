// Package vmm is the virtual memory manager (component B): per-task
// two-level page directories over the shared physical frame allocator,
// grounded on original_source's kernel/mm/vmm.c (get_page_table,
// vmm_map_page/vmm_unmap_page/vmm_get_physical_address/vmm_is_mapped,
// vmm_create_address_space/vmm_clone_address_space/
// vmm_destroy_address_space/vmm_switch_address_space) and expressed in
// the shape of biscuit's Vm_t (biscuit/src/vm/as.go): an exported
// struct wrapping a directory physical address, with Pa_t/defs.Err_t
// threaded through every operation instead of C's pointer-or-NULL.
package vmm

import (
	"sync"

	"microkern/internal/defs"
	"microkern/internal/frame"
	"microkern/internal/mem"
)

// Flag is a page-mapping permission/attribute bit, re-exported from mem
// so callers of this package never need to import mem directly for
// trivial mapping calls.
type Flag = mem.Pa_t

const (
	P   = mem.PTE_P
	W   = mem.PTE_W
	U   = mem.PTE_U
	PCD = mem.PTE_PCD
)

// Vm_t is one task's address space: a page directory plus the shared
// resources (backing RAM, frame allocator) every address space draws
// frames from. The kernel half of every directory (entries
// mem.KernelDirIdx..1023) is kept identical across every Vm_t by
// construction, mirroring vmm_create_address_space copying the kernel
// directory's upper entries into every new space (spec.md §3: "the
// upper quarter ... is identical and shared across every address
// space"). Only page tables the kernel directory already holds when an
// address space is created are shared this way; a kernel-region table
// created later through one Vm_t belongs to that Vm_t alone.
type Vm_t struct {
	sync.Mutex
	Dir mem.Pa_t

	ram    *mem.RAM
	frames *frame.Allocator
}

// Manager owns the one kernel directory every Vm_t shares its upper
// quarter with, plus the frame/RAM resources address spaces are built
// from.
type Manager struct {
	ram       *mem.RAM
	frames    *frame.Allocator
	kernelDir mem.Pa_t
	haveKdir  bool
}

// NewManager builds a vmm Manager over the given backing RAM and frame
// allocator.
func NewManager(ram *mem.RAM, frames *frame.Allocator) *Manager {
	return &Manager{ram: ram, frames: frames}
}

// InitKernelDirectory allocates the template page directory whose
// upper-quarter entries every later address space inherits, and maps
// the kernel image range [imgBase, imgBase+imgSize) into it twice: 1:1
// (vmm's implicit identity map of the kernel set up before
// vmm_create_address_space is ever called) and at KernelBase plus its
// physical address, so the upper quarter holds the page tables later
// address spaces share.
func (m *Manager) InitKernelDirectory(imgBase, imgSize uint32) (*Vm_t, defs.Err_t) {
	dirPa, err := m.frames.Alloc(m.ram)
	if err != 0 {
		return nil, err
	}
	m.kernelDir = dirPa
	m.haveKdir = true
	vm := &Vm_t{Dir: dirPa, ram: m.ram, frames: m.frames}

	base := imgBase &^ uint32(mem.PGOFFSET)
	end := (imgBase + imgSize + uint32(mem.PGOFFSET)) &^ uint32(mem.PGOFFSET)
	for va := base; va < end; va += mem.PGSIZE {
		if err := vm.Map(va, mem.Pa_t(va), P|W); err != 0 {
			return nil, err
		}
		if err := vm.Map(mem.KernelBase+va, mem.Pa_t(va), P|W); err != 0 {
			return nil, err
		}
	}
	return vm, 0
}

// getTable returns the page table covering va within dir, allocating
// and linking a fresh one if create is true and none exists yet
// (get_page_table).
func (v *Vm_t) getTable(dir mem.Pa_t, va uint32, create bool) (*mem.PageTable, defs.Err_t) {
	d := v.ram.Table(dir)
	idx := mem.PDX(va)
	ent := d[idx]
	if ent&mem.PTE_P != 0 {
		return v.ram.Table(ent & mem.PTE_ADDR), 0
	}
	if !create {
		return nil, defs.EINVAL
	}
	tablePa, err := v.frames.Alloc(v.ram)
	if err != 0 {
		return nil, err
	}
	flags := mem.PTE_P | mem.PTE_W
	if va < mem.KernelBase {
		flags |= mem.PTE_U
	}
	d[idx] = tablePa | flags
	return v.ram.Table(tablePa), 0
}

// Map installs a mapping from va to pa with the given flags
// (vmm_map_page). va and pa are truncated down to frame boundaries.
func (v *Vm_t) Map(va uint32, pa mem.Pa_t, flags Flag) defs.Err_t {
	v.Lock()
	defer v.Unlock()
	va &^= uint32(mem.PGOFFSET)
	pa &^= mem.PGOFFSET
	t, err := v.getTable(v.Dir, va, true)
	if err != 0 {
		return err
	}
	t[mem.PTX(va)] = pa | flags | mem.PTE_P
	return 0
}

// MapNew allocates a fresh frame and maps va to it (vmm_alloc_page),
// freeing the frame again if the mapping step fails.
func (v *Vm_t) MapNew(va uint32, flags Flag) defs.Err_t {
	pa, err := v.frames.Alloc(v.ram)
	if err != 0 {
		return err
	}
	if err := v.Map(va, pa, flags|mem.PTE_P); err != 0 {
		v.frames.FreeFrame(pa)
		return err
	}
	return 0
}

// Unmap clears the mapping for va, leaving the underlying frame
// untouched (vmm_unmap_page). Unmapping an already-absent page is a
// no-op.
func (v *Vm_t) Unmap(va uint32) {
	v.Lock()
	defer v.Unlock()
	va &^= uint32(mem.PGOFFSET)
	t, err := v.getTable(v.Dir, va, false)
	if err != 0 {
		return
	}
	t[mem.PTX(va)] = 0
}

// UnmapFree clears the mapping for va and returns its backing frame to
// the allocator (vmm_free_page).
func (v *Vm_t) UnmapFree(va uint32) {
	v.Lock()
	pa, ok := v.translateLocked(va)
	v.Unlock()
	if ok {
		v.frames.FreeFrame(pa)
	}
	v.Unmap(va)
}

func (v *Vm_t) translateLocked(va uint32) (mem.Pa_t, bool) {
	t, err := v.getTable(v.Dir, va&^uint32(mem.PGOFFSET), false)
	if err != 0 {
		return 0, false
	}
	ent := t[mem.PTX(va)]
	if ent&mem.PTE_P == 0 {
		return 0, false
	}
	return (ent & mem.PTE_ADDR) | mem.Pa_t(va)&mem.PGOFFSET, true
}

// Translate returns the physical address va maps to, and whether va is
// currently mapped (vmm_get_physical_address/vmm_is_mapped combined).
func (v *Vm_t) Translate(va uint32) (mem.Pa_t, bool) {
	v.Lock()
	defer v.Unlock()
	return v.translateLocked(va)
}

// IsMapped reports whether va is present in this address space.
func (v *Vm_t) IsMapped(va uint32) bool {
	_, ok := v.Translate(va)
	return ok
}

// Perm reports the permission bits of the mapping covering va, and
// whether va is mapped at all.
func (v *Vm_t) Perm(va uint32) (Flag, bool) {
	v.Lock()
	defer v.Unlock()
	t, err := v.getTable(v.Dir, va&^uint32(mem.PGOFFSET), false)
	if err != 0 {
		return 0, false
	}
	ent := t[mem.PTX(va)]
	if ent&mem.PTE_P == 0 {
		return 0, false
	}
	return ent &^ mem.PTE_ADDR, true
}

// New allocates a fresh address space whose lower three quarters are
// empty and whose upper quarter (entries mem.KernelDirIdx..1023) is
// copied from the kernel template directory (vmm_create_address_space).
func (m *Manager) New() (*Vm_t, defs.Err_t) {
	dirPa, err := m.frames.Alloc(m.ram)
	if err != 0 {
		return nil, err
	}
	vm := &Vm_t{Dir: dirPa, ram: m.ram, frames: m.frames}
	if m.haveKdir {
		src := m.ram.Table(m.kernelDir)
		dst := m.ram.Table(dirPa)
		for i := mem.KernelDirIdx; i < mem.NPTENTRIES; i++ {
			dst[i] = src[i]
		}
	}
	return vm, 0
}

// Destroy frees every frame owned by an address space's lower three
// quarters: each present page table's mapped frames, then the table
// itself, then the directory (vmm_destroy_address_space). The shared
// kernel upper quarter is never touched or freed.
func (m *Manager) Destroy(v *Vm_t) {
	v.Lock()
	dir := v.ram.Table(v.Dir)
	for i := 0; i < mem.KernelDirIdx; i++ {
		ent := dir[i]
		if ent&mem.PTE_P == 0 {
			continue
		}
		tablePa := ent & mem.PTE_ADDR
		table := v.ram.Table(tablePa)
		for j := 0; j < mem.NPTENTRIES; j++ {
			if table[j]&mem.PTE_P != 0 {
				v.frames.FreeFrame(table[j] & mem.PTE_ADDR)
			}
		}
		v.frames.FreeFrame(tablePa)
	}
	v.Unlock()
	v.frames.FreeFrame(v.Dir)
}

// Clone deep-copies an address space's private lower three quarters,
// allocating fresh tables and fresh frames and eagerly copying their
// contents (vmm_clone_address_space). The spec (§9) replaces the
// original's copy-on-write fork with eager copy: every page a fork
// shares with its parent on the original's design is duplicated here,
// in full, before Clone returns.
func (m *Manager) Clone(src *Vm_t) (*Vm_t, defs.Err_t) {
	dst, err := m.New()
	if err != 0 {
		return nil, err
	}
	src.Lock()
	defer src.Unlock()
	srcDir := src.ram.Table(src.Dir)
	dstDir := dst.ram.Table(dst.Dir)
	for i := 0; i < mem.KernelDirIdx; i++ {
		srcEnt := srcDir[i]
		if srcEnt&mem.PTE_P == 0 {
			continue
		}
		srcTable := src.ram.Table(srcEnt & mem.PTE_ADDR)
		dstTablePa, err := m.frames.Alloc(m.ram)
		if err != 0 {
			m.Destroy(dst)
			return nil, err
		}
		dstTable := m.ram.Table(dstTablePa)
		for j := 0; j < mem.NPTENTRIES; j++ {
			se := srcTable[j]
			if se&mem.PTE_P == 0 {
				dstTable[j] = 0
				continue
			}
			newPa, err := m.frames.Alloc(m.ram)
			if err != 0 {
				m.Destroy(dst)
				return nil, err
			}
			copy(m.ram.Dmap(newPa), m.ram.Dmap(se&mem.PTE_ADDR))
			dstTable[j] = newPa | (se &^ mem.PTE_ADDR)
		}
		dstDir[i] = dstTablePa | (srcEnt &^ mem.PTE_ADDR)
	}
	return dst, 0
}

// CopyIn copies len(dst) bytes from virtual address va in this address
// space into dst, failing with EFAULT if any touched page is unmapped
// or not user-accessible (spec.md §9's per-access length validation).
func (v *Vm_t) CopyIn(va uint32, dst []byte) defs.Err_t {
	return v.copy(va, dst, true, false)
}

// CopyOut copies src into virtual address va in this address space,
// failing with EFAULT under the same conditions as CopyIn.
func (v *Vm_t) CopyOut(va uint32, src []byte) defs.Err_t {
	return v.copy(va, src, false, false)
}

// LoadInto writes src into virtual address va the way elf_load's
// memcpy into a freshly mapped segment does: it skips the PTE_U/PTE_W
// checks CopyOut enforces for user syscall arguments, since the loader
// is kernel code populating a brand-new address space, not a syscall
// validating a pointer a task handed it. The page must still be
// mapped; only the permission check is bypassed.
func (v *Vm_t) LoadInto(va uint32, src []byte) defs.Err_t {
	return v.copy(va, src, false, true)
}

func (v *Vm_t) copy(va uint32, buf []byte, in, privileged bool) defs.Err_t {
	remaining := len(buf)
	off := 0
	cur := va
	for remaining > 0 {
		pa, mapped := v.Translate(cur)
		if !mapped {
			return defs.EFAULT
		}
		if !privileged {
			perm, _ := v.Perm(cur)
			if perm&mem.PTE_U == 0 {
				return defs.EFAULT
			}
			if !in && perm&mem.PTE_W == 0 {
				return defs.EFAULT
			}
		}
		pageOff := cur & uint32(mem.PGOFFSET)
		n := int(mem.PGSIZE) - int(pageOff)
		if n > remaining {
			n = remaining
		}
		frameBytes := v.ram.Dmap(pa &^ mem.PGOFFSET)
		if in {
			copy(buf[off:off+n], frameBytes[pageOff:int(pageOff)+n])
		} else {
			copy(frameBytes[pageOff:int(pageOff)+n], buf[off:off+n])
		}
		off += n
		remaining -= n
		cur += uint32(n)
	}
	return 0
}
