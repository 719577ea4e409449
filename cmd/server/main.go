package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gamegineer/tablenet/pkg/server"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	// Configure logger with microsecond precision
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	// Command line flags
	configPath := flag.String("config", "~/.tablenet/server.toml", "Path to config file")
	port := flag.Int("port", 0, "TCP port to listen on (overrides config)")
	httpPort := flag.Int("http-port", 0, "HTTP/WebSocket port, -1 disables (overrides config)")
	dbPath := flag.String("db", "", "Path to SQLite journal (overrides config)")
	host := flag.String("host", "", "Host player name (overrides config)")
	password := flag.String("password", "", "Table password (overrides config and "+server.PasswordEnvVar+")")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Table Server %s\n", Version)
		os.Exit(0)
	}

	// Load configuration (creates default if not found)
	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command-line flags override config file
	if *port != 0 {
		config.Server.TCPPort = *port
	}
	if *httpPort != 0 {
		config.Server.HTTPPort = *httpPort
	}
	if *dbPath != "" {
		config.Server.DatabasePath = *dbPath
	}
	if *host != "" {
		config.Table.HostPlayer = *host
	}
	if *password != "" {
		config.Table.Password = *password
	} else if env := os.Getenv(server.PasswordEnvVar); env != "" {
		config.Table.Password = env
	}

	finalDBPath, err := config.GetDatabasePath()
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(finalDBPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	serverConfig := config.ToServerConfig()
	if serverConfig.Password == "" {
		log.Printf("Warning: table password is empty; anyone can join")
	}

	srv, err := server.NewServer(finalDBPath, serverConfig)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if *debug {
		srv.EnableDebugLogging()
		log.Printf("Debug logging enabled")
	}

	log.Printf("Config: %s", *configPath)
	log.Printf("Journal: %s", finalDBPath)

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Printf("Table server %s started, host player %q", Version, serverConfig.HostPlayer)
	log.Printf("Available connection methods:")
	log.Printf("  - Binary Protocol (TCP): %s", srv.Addr())
	if addr := srv.HTTPAddr(); addr != nil {
		log.Printf("  - WebSocket: ws://%s/ws", addr)
		log.Printf("  - HTTP: /health, /players, /connections, /journal, /metrics on %s", addr)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	if err := srv.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server stopped")
}
