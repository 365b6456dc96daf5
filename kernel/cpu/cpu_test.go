package cpu

import (
	"runtime"
	"sync"
	"testing"
)

func TestHalt(t *testing.T) {
	defer func() { exitFn = runtime.Goexit }()

	t.Run("mocked exit", func(t *testing.T) {
		var exitCalled bool
		exitFn = func() { exitCalled = true }

		Halt()

		if !exitCalled {
			t.Fatal("expected Halt to invoke exitFn")
		}
	})

	t.Run("terminates calling goroutine", func(t *testing.T) {
		exitFn = runtime.Goexit

		var (
			wg          sync.WaitGroup
			deferRan    bool
			reachedTail bool
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { deferRan = true }()
			Halt()
			reachedTail = true
		}()
		wg.Wait()

		if !deferRan {
			t.Error("expected deferred calls to run when the context halts")
		}
		if reachedTail {
			t.Error("expected Halt to never return")
		}
	})
}
