package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gamegineer/tablenet/pkg/client"
)

func main() {
	serverAddr := flag.String("server", "localhost:7465", "Server address: host[:port], tcp:// or ws://")
	password := flag.String("password", "", "Table password (default $"+client.PasswordEnvVar+")")
	host := flag.String("host", "host", "Host player name; the first bot uses it")
	numClients := flag.Int("clients", 10, "Number of concurrent bots")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between operations")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between operations")
	timeout := flag.Duration("timeout", 5*time.Second, "Dial and handshake timeout")
	flag.Parse()

	// Ramp up over 25% of the test duration
	staggerDelay := (*duration / 4) / time.Duration(*numClients)
	if staggerDelay < time.Millisecond {
		staggerDelay = time.Millisecond
	}

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", *serverAddr)
	log.Printf("  Bots: %d", *numClients)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v per bot", staggerDelay)
	log.Printf("  Delay: %v - %v", *minDelay, *maxDelay)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &botConfig{
		server:   *serverAddr,
		password: client.ResolvePassword(*password),
		players:  playerNames(*host, *numClients),
		duration: *duration,
		minDelay: *minDelay,
		maxDelay: *maxDelay,
		timeout:  *timeout,
	}
	stats := &Stats{}

	reporterCtx, stopReporter := context.WithCancel(ctx)
	go reportStats(reporterCtx, stats, 5*time.Second)

	start := time.Now()
	failed := runBots(ctx, cfg, stats, staggerDelay)
	stopReporter()

	elapsed := time.Since(start)
	ops := stats.operations()

	log.Printf("=== Final Results ===")
	log.Printf("Duration: %v", elapsed.Round(time.Millisecond))
	log.Printf("Bots bound: %d of %d", stats.bound.Load(), *numClients)
	log.Printf("  - Connection errors: %d", stats.connectionErrors.Load())
	log.Printf("  - Handshake failures: %d", stats.handshakeFailures.Load())
	log.Printf("Average handshake: %v", stats.avgHandshake())
	log.Printf("Operations sent: %d (%.1f/s)", ops, float64(ops)/elapsed.Seconds())
	log.Printf("  - RequestControl: %d", stats.requests.Load())
	log.Printf("  - CancelControlRequest: %d", stats.cancels.Load())
	log.Printf("  - GiveControl: %d", stats.gives.Load())
	log.Printf("Send failures: %d", stats.sendFailures.Load())
	log.Printf("Unexpected disconnections: %d", stats.disconnections.Load())

	if failed > 0 {
		os.Exit(1)
	}
}

// runBots starts a bot every stagger and waits for all of them. It returns the
// number of bots that failed to join.
func runBots(ctx context.Context, cfg *botConfig, stats *Stats, stagger time.Duration) int {
	var g errgroup.Group
	var failed int64

	results := make(chan error, len(cfg.players))
	for i := range cfg.players {
		bot := newBot(i, cfg, stats)
		g.Go(func() error {
			err := bot.Run(ctx)
			results <- err
			return err
		})

		select {
		case <-time.After(stagger):
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	if err := g.Wait(); err != nil {
		log.Printf("First failure: %v", err)
	}
	close(results)
	for err := range results {
		if err != nil {
			failed++
		}
	}
	return int(failed)
}

func reportStats(ctx context.Context, stats *Stats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ticker.C:
			ops := stats.operations()
			log.Printf("Stats: %d bound, %d ops (%.1f/s), %d send failures, %d disconnections",
				stats.bound.Load(), ops, float64(ops)/time.Since(start).Seconds(),
				stats.sendFailures.Load(), stats.disconnections.Load())
		case <-ctx.Done():
			return
		}
	}
}
