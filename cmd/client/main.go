package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gamegineer/tablenet/pkg/client"
	"github.com/gamegineer/tablenet/pkg/protocol"
)

func main() {
	configPath := flag.String("config", client.DefaultConfigPath(), "Path to config file")
	serverAddr := flag.String("server", "", "Server address: host[:port], tcp://, ws:// or wss:// (overrides config)")
	playerName := flag.String("name", "", "Player name (overrides config and the last name used)")
	password := flag.String("password", "", "Table password (default $"+client.PasswordEnvVar+")")
	statePath := flag.String("state", "", "Path to state database (overrides config)")
	debug := flag.Bool("debug", false, "Log protocol messages to stderr")
	flag.Parse()

	config, err := client.LoadClientConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *statePath != "" {
		config.Local.StateDB = *statePath
	}

	dbPath, err := config.GetStateDBPath()
	if err != nil {
		log.Fatalf("Failed to resolve state path: %v", err)
	}
	state, err := client.OpenState(dbPath)
	if err != nil {
		log.Fatalf("Failed to open state database: %v", err)
	}
	defer state.Close()

	settings, err := resolveSettings(config, state, flags{
		server:     *serverAddr,
		playerName: *playerName,
		password:   client.ResolvePassword(*password),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	opts := client.Options{
		PlayerName:  settings.playerName,
		Password:    settings.password,
		DialTimeout: config.DialTimeout(),
	}
	if *debug {
		opts.Logger = log.New(os.Stderr, "DEBUG: ", log.Ltime|log.Lmicroseconds)
	}

	c, err := client.Dial(settings.server, opts)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout())
	err = c.WaitBound(ctx)
	cancel()
	if err != nil {
		c.Close(protocol.ErrClientShutdown)
		log.Fatalf("Failed to join table at %s: %v", c.Address(), err)
	}

	if err := state.RecordBound(settings.server, settings.playerName); err != nil {
		log.Printf("Warning: failed to save state: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		c.Goodbye()
	}()

	final, err := tea.NewProgram(newModel(c)).Run()
	if err != nil {
		c.Goodbye()
		log.Fatalf("Error running program: %v", err)
	}
	if m, ok := final.(model); ok && m.err != nil {
		fmt.Fprintf(os.Stderr, "Disconnected: %v\n", m.err)
		os.Exit(1)
	}
}
