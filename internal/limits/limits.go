// Package limits tracks system-wide resource bounds, adapted from
// biscuit's limits package (Syslimit_t/Sysatomic_t) and grounded on
// original_source's kernel/include/config.h constants.
package limits

import "sync/atomic"

// Sysatomic_t is an atomically adjustable resource counter. Given/Taken
// mirror the teacher's API: Taken fails (without side effect) when the
// counter would go negative.
type Sysatomic_t int64

// Given increases the limit by n.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64((*int64)(s), int64(n))
}

// Taken tries to decrement the limit by n, returning false (unchanged)
// if that would make it negative.
func (s *Sysatomic_t) Taken(n uint) bool {
	if atomic.AddInt64((*int64)(s), -int64(n)) >= 0 {
		return true
	}
	atomic.AddInt64((*int64)(s), int64(n))
	return false
}

// Take decrements the limit by one.
func (s *Sysatomic_t) Take() bool { return s.Taken(1) }

// Give increments the limit by one.
func (s *Sysatomic_t) Give() { s.Given(1) }

// Value returns the current value.
func (s *Sysatomic_t) Value() int64 { return atomic.LoadInt64((*int64)(s)) }

// Syslimit_t collects every system-wide bound the kernel core enforces.
// Shaped directly on biscuit's Syslimit_t: one struct of named limits
// consulted by every subsystem instead of scattered magic numbers.
type Syslimit_t struct {
	// Tasks is the budget of simultaneously live task records; task.Table
	// does not consult it when creating tasks.
	Tasks Sysatomic_t
	// Ports is the number of port-table slots (spec.md §4.4: 256).
	Ports int
	// QueueCap is each port's fixed message-queue capacity (spec: 16).
	QueueCap int
	// MaxMsgPayload is the largest payload a message may carry (spec: 256).
	MaxMsgPayload int
	// KheapBytes sizes the fixed region the kernel heap carves blocks from.
	KheapBytes int
}

// Syslimit holds the default system-wide limits.
var Syslimit = MkSysLimit()

// MkSysLimit returns the default limit set.
func MkSysLimit() *Syslimit_t {
	sl := &Syslimit_t{
		Ports:         256,
		QueueCap:      16,
		MaxMsgPayload: 256,
		KheapBytes:    4 << 20,
	}
	sl.Tasks.Given(4096)
	return sl
}
