package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/gamegineer/tablenet/pkg/client"
)

type operation int

const (
	opRequest operation = iota
	opCancel
	opGive
)

// botConfig is shared by every bot in a run
type botConfig struct {
	server   string
	password string
	players  []string
	duration time.Duration
	minDelay time.Duration
	maxDelay time.Duration
	timeout  time.Duration
}

// Bot is one simulated player contending for control
type Bot struct {
	id    int
	name  string
	cfg   *botConfig
	stats *Stats
	rng   *rand.Rand
}

func newBot(id int, cfg *botConfig, stats *Stats) *Bot {
	return &Bot{
		id:    id,
		name:  cfg.players[id],
		cfg:   cfg,
		stats: stats,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
	}
}

// pickOperation chooses the next action. Requests dominate so the token keeps
// changing hands.
func (b *Bot) pickOperation() (operation, string) {
	switch n := b.rng.Intn(10); {
	case n < 6:
		return opRequest, ""
	case n < 8:
		return opCancel, ""
	default:
		target := b.cfg.players[b.rng.Intn(len(b.cfg.players))]
		return opGive, target
	}
}

func (b *Bot) delay() time.Duration {
	spread := b.cfg.maxDelay - b.cfg.minDelay
	if spread <= 0 {
		return b.cfg.minDelay
	}
	return b.cfg.minDelay + time.Duration(b.rng.Int63n(int64(spread)))
}

// Run joins the table and contends for control until the duration elapses or
// ctx is cancelled. Only a failure to join is returned as an error.
func (b *Bot) Run(ctx context.Context) error {
	start := time.Now()
	c, err := client.Dial(b.cfg.server, client.Options{
		PlayerName:  b.name,
		Password:    b.cfg.password,
		DialTimeout: b.cfg.timeout,
	})
	if err != nil {
		b.stats.connectionErrors.Add(1)
		return fmt.Errorf("bot %d: %w", b.id, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.cfg.timeout)
	err = c.WaitBound(waitCtx)
	cancel()
	if err != nil {
		b.stats.handshakeFailures.Add(1)
		c.Goodbye()
		return fmt.Errorf("bot %d (%s): %w", b.id, b.name, err)
	}
	b.stats.recordBound(time.Since(start))

	if b.id%100 == 0 {
		log.Printf("[Bot %d] Bound as %s", b.id, b.name)
	}

	deadline := time.NewTimer(b.cfg.duration)
	defer deadline.Stop()

	for {
		op, target := b.pickOperation()
		var err error
		switch op {
		case opRequest:
			err = c.RequestControl()
		case opCancel:
			err = c.CancelControlRequest()
		case opGive:
			err = c.GiveControl(target)
		}
		b.stats.recordOperation(op, err)
		if errors.Is(err, client.ErrClosed) {
			b.stats.disconnections.Add(1)
			log.Printf("[Bot %d] Disconnected: %v", b.id, c.Wait())
			return nil
		}

		select {
		case <-time.After(b.delay()):
		case <-c.Closed():
			b.stats.disconnections.Add(1)
			log.Printf("[Bot %d] Disconnected: %v", b.id, c.Wait())
			return nil
		case <-deadline.C:
			c.Goodbye()
			return nil
		case <-ctx.Done():
			c.Goodbye()
			return nil
		}
	}
}

// playerNames returns count distinct bot names. The first is host so the
// token can be handed out while nobody holds it.
func playerNames(host string, count int) []string {
	names := make([]string, count)
	for i := range names {
		if i == 0 && host != "" {
			names[i] = host
			continue
		}
		names[i] = fmt.Sprintf("bot-%04d", i)
	}
	return names
}
