package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"censord/internal/client"
	"censord/internal/infra"
)

// probecheck answers one question from the command line: is the realtime
// endpoint at -url accepting sessions right now? Exit code 0 means yes.
func main() {
	url := flag.String("url", "ws://127.0.0.1:8080/ws", "realtime endpoint to probe")
	timeout := flag.Duration("timeout", 15*time.Second, "overall probe deadline")
	flag.Parse()

	logger := infra.NewLogger(os.Getenv("APP_ENV"))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	available, diagnostic := client.Probe(ctx, *url, logger)
	if !available {
		fmt.Fprintf(os.Stderr, "unavailable: %s\n", diagnostic)
		os.Exit(1)
	}
	fmt.Println("available")
}
