// Command doppelganger turns a recorded software tutorial, split into segment
// directories of audio and screenshots, into a generalized step-by-step
// procedure that a computer-use agent can follow.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "doppelganger: %v\n", err)
		}
		return 1
	}
	return 0
}
