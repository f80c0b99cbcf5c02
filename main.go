// esplog - a TCP log sink for ESP32 devices.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"esplog/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "esplog: %v\n", err)
		os.Exit(1)
	}
}
