package main

import "gopherxen/kernel/kmain"

// main boots a hosted kernel with the default configuration. Kmain halts the
// execution context it runs on, so it gets a goroutine of its own and main
// exits once that context has been halted.
func main() {
	halted := make(chan struct{})

	go func() {
		defer close(halted)
		kmain.Kmain()
	}()

	<-halted
}
