// Package mem defines the physical-memory types, page-table bit layout,
// and direct-map accessor the rest of the kernel core builds on,
// adapted from biscuit's mem package (Pa_t, PTE_* flags, Dmap) to the
// spec's 32-bit, two-level, single-CPU page-table model (spec.md §3–4.2).
package mem

import "unsafe"

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page/frame in bytes.
const PGSIZE = 1 << PGSHIFT

// PGOFFSET masks the intra-page offset bits of an address.
const PGOFFSET Pa_t = PGSIZE - 1

// PGMASK masks the page-aligned bits of an address.
const PGMASK Pa_t = ^PGOFFSET

// PDXSHIFT/PTXSHIFT select the directory/table index out of a virtual
// address per spec.md §4.2: bits 22..31 index the directory, bits
// 12..21 index the table.
const (
	PDXSHIFT = 22
	PTXSHIFT = 12
	PDXMASK  = 0x3ff
	PTXMASK  = 0x3ff
)

// PDX returns the page-directory index for a virtual address.
func PDX(va uint32) int { return int((va >> PDXSHIFT) & PDXMASK) }

// PTX returns the page-table index for a virtual address.
func PTX(va uint32) int { return int((va >> PTXSHIFT) & PTXMASK) }

// NPTENTRIES is the number of entries in a directory or table (1024).
const NPTENTRIES = 1024

// KernelBase is the virtual address of the kernel/user split: entries
// >= 768 (3 GiB) are the shared kernel region (spec.md §3).
const KernelBase uint32 = 0xC0000000

// KernelDirIdx is the first page-directory entry belonging to the
// kernel region (768 = 0xC0000000 >> 22).
const KernelDirIdx = 768

// Pa_t is a physical address. Kept distinct from virtual addresses so a
// paddr->vaddr conversion (Dmap) is always an explicit, auditable step,
// per spec.md §9's re-architecture note on raw pointer casts.
type Pa_t uint32

// Page table entry flag bits (spec.md §3: present, writable,
// user-accessible, cache-disable, dirty, accessed).
const (
	PTE_P   Pa_t = 1 << 0 // present
	PTE_W   Pa_t = 1 << 1 // writable
	PTE_U   Pa_t = 1 << 2 // user-accessible
	PTE_PCD Pa_t = 1 << 4 // cache-disable
	PTE_A   Pa_t = 1 << 5 // accessed
	PTE_D   Pa_t = 1 << 6 // dirty
)

// PTE_ADDR extracts the frame address bits of a page-table entry.
const PTE_ADDR = PGMASK

// PageTable is one 4 KiB page directory or page table: 1024 32-bit
// entries, each either absent (0) or PTE_ADDR|flags.
type PageTable [NPTENTRIES]Pa_t

// RAM is the kernel's simulated physical memory: a single flat byte
// slice standing in for the machine's installed RAM, the bootstrap
// trampoline's BIOS-reported range (spec.md §6). Every physical address
// the kernel core produces indexes into it via Dmap, mirroring how
// biscuit's Physmem_t.Dmap turns a Pa_t into a *Pg_t through a fixed
// direct-map offset instead of ever storing a bare pointer.
type RAM struct {
	bytes []byte
}

// NewRAM allocates size bytes of backing physical memory, zeroed.
func NewRAM(size uint32) *RAM {
	return &RAM{bytes: make([]byte, size)}
}

// Size returns the number of bytes of backing memory.
func (r *RAM) Size() uint32 { return uint32(len(r.bytes)) }

// Dmap returns a byte slice of exactly PGSIZE bytes representing the
// frame at physical address p. p must be frame-aligned.
func (r *RAM) Dmap(p Pa_t) []byte {
	if p&PGOFFSET != 0 {
		panic("mem: Dmap of unaligned frame")
	}
	if uint32(p)+PGSIZE > uint32(len(r.bytes)) {
		panic("mem: Dmap out of range")
	}
	return r.bytes[p : uint32(p)+PGSIZE]
}

// Table returns the frame at physical address p reinterpreted as a
// page table/directory.
func (r *RAM) Table(p Pa_t) *PageTable {
	b := r.Dmap(p)
	return (*PageTable)(unsafe.Pointer(&b[0]))
}

// ReadAt copies len(dst) bytes from physical address p.
func (r *RAM) ReadAt(p Pa_t, dst []byte) {
	copy(dst, r.bytes[p:uint32(p)+uint32(len(dst))])
}

// WriteAt copies src into physical memory starting at p.
func (r *RAM) WriteAt(p Pa_t, src []byte) {
	copy(r.bytes[p:uint32(p)+uint32(len(src))], src)
}

// Zero clears the frame at physical address p.
func (r *RAM) Zero(p Pa_t) {
	b := r.Dmap(p)
	for i := range b {
		b[i] = 0
	}
}
