// Package frame is the physical frame allocator (component A): a
// bitmap over every frame in the machine's RAM, one bit per frame,
// scanned a word at a time. Grounded on original_source's
// kernel/mm/pmm.c (bitmap_set/bitmap_unset/bitmap_test,
// bitmap_first_free, pmm_init/pmm_init_region/pmm_deinit_region,
// pmm_alloc_block/pmm_alloc_blocks/pmm_free_block(s)), expressed in the
// teacher's idiom: an exported struct with an embedded mutex, Pa_t
// addresses, and Err_t-returning operations (biscuit/src/mem/mem.go's
// Physmem_t).
package frame

import (
	"sync"

	"microkern/internal/defs"
	"microkern/internal/mem"
	"microkern/internal/util"
)

const wordBits = 32

// Allocator is the system-wide frame bitmap. One bit per frame; a set
// bit means the frame is in use (allocated or permanently reserved).
// It starts fully marked used, then the boot sequence frees the usable
// regions reported by the memory map, mirroring pmm_init's invert step.
type Allocator struct {
	sync.Mutex
	bitmap   []uint32
	nframes  int
	lastHint int // word index to resume scanning from, for amortized allocation
	free     int
}

// frameOf/pagedown helpers convert between physical addresses and frame
// indices.
func frameOf(p mem.Pa_t) int   { return int(p) >> mem.PGSHIFT }
func paOf(frame int) mem.Pa_t  { return mem.Pa_t(frame << mem.PGSHIFT) }

// New builds an allocator covering totalBytes of physical address space
// starting at 0, with every frame initially marked used (pmm_init:
// "mark all usable memory as used by default").
func New(totalBytes uint32) *Allocator {
	nframes := int(util.Roundup(totalBytes, uint32(mem.PGSIZE))) / mem.PGSIZE
	nwords := (nframes + wordBits - 1) / wordBits
	a := &Allocator{
		bitmap:  make([]uint32, nwords),
		nframes: nframes,
	}
	for i := range a.bitmap {
		a.bitmap[i] = ^uint32(0)
	}
	return a
}

// MarkRegionFree clears the bits for every whole frame inside
// [base, base+size), the re-inversion step pmm_init_region performs for
// each usable range the boot memory map reports.
func (a *Allocator) MarkRegionFree(base, size uint32) {
	a.Lock()
	defer a.Unlock()
	start := frameOf(mem.Pa_t(util.Roundup(base, uint32(mem.PGSIZE))))
	end := frameOf(mem.Pa_t(util.Rounddown(base+size, uint32(mem.PGSIZE))))
	for f := start; f < end && f < a.nframes; f++ {
		if a.testLocked(f) {
			a.clearLocked(f)
			a.free++
		}
	}
	if w := start / wordBits; start < end && w < a.lastHint {
		a.lastHint = w
	}
}

// MarkRegionUsed sets the bits for every frame touching [base, base+size),
// the counterpart pmm_init_region uses to reserve the kernel image and
// other permanently-owned ranges after the usable regions are freed.
func (a *Allocator) MarkRegionUsed(base, size uint32) {
	a.Lock()
	defer a.Unlock()
	start := frameOf(mem.Pa_t(util.Rounddown(base, uint32(mem.PGSIZE))))
	end := frameOf(mem.Pa_t(util.Roundup(base+size, uint32(mem.PGSIZE))))
	for f := start; f < end && f < a.nframes; f++ {
		if !a.testLocked(f) {
			a.setLocked(f)
			a.free--
		}
	}
}

func (a *Allocator) testLocked(f int) bool {
	return a.bitmap[f/wordBits]&(1<<uint(f%wordBits)) != 0
}
func (a *Allocator) setLocked(f int) {
	a.bitmap[f/wordBits] |= 1 << uint(f%wordBits)
}
func (a *Allocator) clearLocked(f int) {
	a.bitmap[f/wordBits] &^= 1 << uint(f%wordBits)
}

// NFrames returns the total number of frames the bitmap covers.
func (a *Allocator) NFrames() int { return a.nframes }

// Free returns the number of currently unallocated frames.
func (a *Allocator) Free() int {
	a.Lock()
	defer a.Unlock()
	return a.free
}

// firstFreeLocked scans the bitmap a word at a time starting at
// a.lastHint, returning the lowest-indexed free frame it finds
// (bitmap_first_free's word-then-bit scan; spec.md §4.1's
// lowest-address tie-break).
func (a *Allocator) firstFreeLocked() (int, bool) {
	nwords := len(a.bitmap)
	for i := 0; i < nwords; i++ {
		w := (a.lastHint + i) % nwords
		word := a.bitmap[w]
		if word == ^uint32(0) {
			continue
		}
		for b := 0; b < wordBits; b++ {
			f := w*wordBits + b
			if f >= a.nframes {
				break
			}
			if word&(1<<uint(b)) == 0 {
				return f, true
			}
		}
	}
	return 0, false
}

// Alloc reserves and returns the lowest-addressed free frame, zeroing
// it before handing it back (pmm_alloc_block zeroes newly granted
// frames so stale kernel data never leaks to a new owner).
func (a *Allocator) Alloc(ram *mem.RAM) (mem.Pa_t, defs.Err_t) {
	a.Lock()
	f, ok := a.firstFreeLocked()
	if !ok {
		a.Unlock()
		return 0, defs.ENOMEM
	}
	a.setLocked(f)
	a.free--
	a.lastHint = f / wordBits
	a.Unlock()
	pa := paOf(f)
	if ram != nil {
		ram.Zero(pa)
	}
	return pa, 0
}

// AllocContig reserves n contiguous frames (pmm_alloc_blocks). It
// scans linearly for the first run of n consecutive free frames.
func (a *Allocator) AllocContig(ram *mem.RAM, n int) (mem.Pa_t, defs.Err_t) {
	if n <= 0 {
		return 0, defs.EINVAL
	}
	a.Lock()
	run := 0
	start := -1
	for f := 0; f < a.nframes; f++ {
		if !a.testLocked(f) {
			if run == 0 {
				start = f
			}
			run++
			if run == n {
				for i := start; i < start+n; i++ {
					a.setLocked(i)
				}
				a.free -= n
				a.Unlock()
				pa := paOf(start)
				if ram != nil {
					for i := 0; i < n; i++ {
						ram.Zero(pa + mem.Pa_t(i*mem.PGSIZE))
					}
				}
				return pa, 0
			}
		} else {
			run = 0
		}
	}
	a.Unlock()
	return 0, defs.ENOMEM
}

// FreeFrame releases the frame at physical address p back to the pool
// (pmm_free_block). Freeing an already-free frame is a no-op, matching
// the original's idempotent unset.
func (a *Allocator) FreeFrame(p mem.Pa_t) defs.Err_t {
	if p&mem.PGOFFSET != 0 {
		return defs.EINVAL
	}
	f := frameOf(p)
	a.Lock()
	defer a.Unlock()
	if f < 0 || f >= a.nframes {
		return defs.EINVAL
	}
	if a.testLocked(f) {
		a.clearLocked(f)
		a.free++
		if w := f / wordBits; w < a.lastHint {
			a.lastHint = w
		}
	}
	return 0
}

// FreeContig releases n contiguous frames starting at p
// (pmm_free_blocks).
func (a *Allocator) FreeContig(p mem.Pa_t, n int) defs.Err_t {
	for i := 0; i < n; i++ {
		if err := a.FreeFrame(p + mem.Pa_t(i*mem.PGSIZE)); err != 0 {
			return err
		}
	}
	return 0
}

// Used reports whether the frame at p is currently allocated.
func (a *Allocator) Used(p mem.Pa_t) bool {
	f := frameOf(p)
	a.Lock()
	defer a.Unlock()
	if f < 0 || f >= a.nframes {
		return true
	}
	return a.testLocked(f)
}
