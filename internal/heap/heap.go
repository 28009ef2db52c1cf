// Package heap is the kernel heap (component C): a fixed-size region
// carved into blocks by an intrusive, first-fit free list, grounded on
// original_source's kernel/mm/heap.c (heap_init/kmalloc/split_block/
// kfree/merge_free_blocks). The C version overlays a header struct
// directly on the backing bytes; here the header is a Go struct linked
// by list pointers instead, since nothing outside this package ever
// needs to read the heap's raw bytes.
package heap

import (
	"microkern/internal/defs"
	"microkern/internal/limits"
)

const blockHeaderSize = 12 // size(4) + used(1, padded) + next-pointer(4), kept for Used()/Free() accounting parity with heap.c

const minSplitRemainder = 16

// block is one node of the heap's intrusive free list.
type block struct {
	offset uint32
	size   uint32
	used   bool
	next   *block
}

// Heap is a single fixed-size arena, carved on demand (heap_init +
// kmalloc/kfree). Size is checked against limits.Syslimit.KheapBytes by
// the caller that sizes it; this type has no opinion on the bound.
type Heap struct {
	start *block
	size  uint32
	usedB uint32
}

// New creates a heap of the given size, starting as one large free
// block (heap_init).
func New(size uint32) *Heap {
	h := &Heap{size: size}
	h.start = &block{offset: 0, size: size - blockHeaderSize}
	h.usedB = blockHeaderSize
	return h
}

// NewDefault creates a heap sized to the system's default kernel heap
// budget (limits.Syslimit.KheapBytes).
func NewDefault() *Heap {
	return New(uint32(limits.Syslimit.KheapBytes))
}

func align4(n uint32) uint32 { return (n + 3) &^ 3 }

// splitBlock carves size bytes off the front of b if the remainder
// would still be large enough to be useful as its own free block
// (split_block's "size + header + 16" slack).
func (h *Heap) splitBlock(b *block, size uint32) {
	if b.size < size+blockHeaderSize+minSplitRemainder {
		return
	}
	nb := &block{
		offset: b.offset + blockHeaderSize + size,
		size:   b.size - size - blockHeaderSize,
		next:   b.next,
	}
	b.size = size
	b.next = nb
}

// Alloc reserves size bytes from the first free block big enough to
// hold them (kmalloc's first-fit walk), returning the offset of the
// usable region within the heap's address range.
func (h *Heap) Alloc(size uint32) (uint32, defs.Err_t) {
	if size == 0 {
		return 0, defs.EINVAL
	}
	size = align4(size)
	for b := h.start; b != nil; b = b.next {
		if !b.used && b.size >= size {
			h.splitBlock(b, size)
			b.used = true
			h.usedB += b.size + blockHeaderSize
			return b.offset, 0
		}
	}
	return 0, defs.ENOMEM
}

// Free releases the block starting at offset back to the free list and
// coalesces adjacent free blocks (kfree + merge_free_blocks).
func (h *Heap) Free(offset uint32) defs.Err_t {
	for b := h.start; b != nil; b = b.next {
		if b.offset == offset {
			if !b.used {
				return 0
			}
			h.usedB -= b.size + blockHeaderSize
			b.used = false
			h.mergeFree()
			return 0
		}
	}
	return defs.EINVAL
}

// mergeFree coalesces every run of adjacent free blocks into one
// (merge_free_blocks).
func (h *Heap) mergeFree() {
	for b := h.start; b != nil && b.next != nil; {
		if !b.used && !b.next.used {
			b.size += blockHeaderSize + b.next.size
			b.next = b.next.next
		} else {
			b = b.next
		}
	}
}

// Used returns the number of bytes currently accounted as allocated,
// including per-block header overhead (heap_get_used).
func (h *Heap) Used() uint32 { return h.usedB }

// FreeBytes returns the number of bytes still available (heap_get_free).
func (h *Heap) FreeBytes() uint32 { return h.size - h.usedB }

// Size returns the heap's total size in bytes.
func (h *Heap) Size() uint32 { return h.size }
