// Package cpu exposes the operations that act on the processor executing the
// caller.
package cpu

import "runtime"

var (
	// exitFn is mocked by tests.
	exitFn = runtime.Goexit
)

// Halt stops instruction execution on the calling execution context. Halt
// never returns; when the kernel runs hosted, the execution context is the
// calling goroutine and it is terminated after its deferred calls run.
func Halt() {
	exitFn()
}
