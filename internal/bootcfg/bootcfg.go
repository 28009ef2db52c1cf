// Package bootcfg describes the configuration handed to the kernel core
// at boot, grounded on original_source's kernel/include/config.h and the
// boot handshake of spec.md §6.
package bootcfg

// MemRegion is one usable physical range from the early memory map the
// boot collaborator hands the kernel (spec.md §6: "a usable-RAM map with
// its upper bound").
type MemRegion struct {
	Base uint32 // physical base address, frame-aligned
	Size uint32 // size in bytes, frame-aligned
}

// Initrd describes the boot collaborator's initrd blob as a base+size
// pair in kernel virtual memory (spec.md §6).
type Initrd struct {
	Data []byte
}

// Config collects every system-wide constant and boot input the kernel
// core needs, following biscuit's Syslimit_t pattern of one struct of
// named values instead of scattered constants.
type Config struct {
	// TotalMemBytes is the contiguous physical range the frame bitmap
	// covers, starting at physical address 0 (spec.md §3).
	TotalMemBytes uint32
	// UsableRegions is re-marked free after the bootstrap inversion
	// (spec.md §4.1: "mark all frames used, then ... re-mark usable
	// physical ranges as free").
	UsableRegions []MemRegion
	// KernelImage is the frame range the kernel image itself occupies;
	// permanently reserved regardless of the memory map.
	KernelImage MemRegion
	// TickHz is the timer interrupt frequency (spec.md §4.3: 100Hz).
	TickHz int
	// TimeSlice is the fixed quantum in ticks (spec.md §4.3: 10).
	TimeSlice int
	// Initrd carries the first user program.
	Initrd Initrd
}

// Default returns a Config sized for a small, test-friendly machine:
// 16 MiB of RAM, a 1 MiB kernel image, 100 Hz ticks, 10-tick quantum.
func Default() Config {
	const memBytes = 16 << 20
	return Config{
		TotalMemBytes: memBytes,
		UsableRegions: []MemRegion{{Base: 0x100000, Size: memBytes - 0x100000}},
		KernelImage:   MemRegion{Base: 0, Size: 0x100000},
		TickHz:        100,
		TimeSlice:     10,
	}
}
