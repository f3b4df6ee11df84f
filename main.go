// sockproxyd is a TCP proxy multiplexer daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sockproxyd/cmd"
	ncerr "sockproxyd/internal/errors"
)

func main() {
	os.Exit(run())
}

// run separates main's exit-code decision from process teardown so a
// deferred recover can still observe and report a panic before main
// exits. Per spec §6: 0 on a clean STOP-driven shutdown, 127 on an
// uncaught fatal error, any other non-zero only for a pre-flight
// failure (bad -c, bind failure) that never reached the run loop.
func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "sockproxyd: panic: %v\n", r)
			code = 127
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := cmd.Execute(ctx, os.Args[1:])
	if err == nil {
		return 0
	}

	fmt.Fprintf(os.Stderr, "sockproxyd: %v\n", err)

	var fatal *ncerr.FatalStartupError
	if ncerr.As(err, &fatal) {
		return 2
	}
	return 127
}
