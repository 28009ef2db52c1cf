// Package diag prints kernel diagnostics, adapted from biscuit's caller
// package (runtime.Callers-based stack dumps) for the kernel-fault path
// of spec.md §4.2: "print diagnostic, disable interrupts, halt."
package diag

import (
	"fmt"
	"runtime"
	"strings"
)

// Stacktrace renders the Go call stack starting skip frames above the
// caller, one frame per line, the way caller.Callerdump walks
// runtime.Caller. Unlike Callerdump it returns the string instead of
// printing it, so callers can fold it into a panic message or a klog
// entry.
func Stacktrace(skip int) string {
	var b strings.Builder
	for i := skip + 1; ; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\t<- ")
		}
		fmt.Fprintf(&b, "%s:%d", file, line)
	}
	return b.String()
}

// KernelFault formats the diagnostic banner for a fault taken in kernel
// mode (spec.md §4.2/§7: unrecoverable, the kernel contains no
// fault-recovery logic). Callers halt immediately after printing this.
func KernelFault(reason string, faultAddr uint32, ecode uint32) string {
	return fmt.Sprintf(
		"*** KERNEL FAULT ***\n%s\nfault address: 0x%08x  error code: 0x%x\n%s\nSystem halted.",
		reason, faultAddr, ecode, Stacktrace(1))
}
