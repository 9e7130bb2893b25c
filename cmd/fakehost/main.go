// fakehost serves the Unity bridge protocol with a scripted handler so the
// bridge can be exercised without an editor.
// Usage: go run ./cmd/fakehost -addr 127.0.0.1:7777 -latency 200ms
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seantiz/unitybridge/internal/unity"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7777", "listen address")
	latency := flag.Duration("latency", 100*time.Millisecond, "simulated execution time per call")
	flag.Parse()

	if v := os.Getenv("UNITYBRIDGE_UNITY_ADDR"); v != "" && !isFlagSet("addr") {
		*addr = v
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	host := unity.NewHost(ln, unity.ScriptedHandler(*latency), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		host.Close()
	}()

	logger.Info("fakehost: starting", "addr", host.Addr(), "latency", *latency)
	if err := host.Serve(); err != nil && ctx.Err() == nil {
		log.Fatalf("serve: %v", err)
	}
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
