// wsproxy - a WebSocket server that relays, echoes or executes per
// session, with graceful connection draining on shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wsproxy/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "wsproxy: %v\n", err)
		os.Exit(1)
	}
}
