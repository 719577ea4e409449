package client

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	configLastPlayerName = "last_player_name"
	configLastServer     = "last_server"
)

// State is the client's persistent state: the last player name and server,
// and which name was used on each server.
type State struct {
	db  *sql.DB
	dir string // Directory where state is stored
}

// ServerHistory is one server the client has bound to
type ServerHistory struct {
	ServerAddress string
	PlayerName    string
	LastBoundAt   int64 // Unix seconds
	BindCount     int
}

// OpenState opens or creates the client state database
func OpenState(path string) (*State, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// Client only needs one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := migrateState(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &State{db: db, dir: dir}, nil
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// GetConfig retrieves a configuration value, "" if unset
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetConfig stores a configuration value
func (s *State) SetConfig(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)`, key, value)
	return err
}

// GetLastPlayerName returns the player name of the last successful bind
func (s *State) GetLastPlayerName() string {
	name, _ := s.GetConfig(configLastPlayerName)
	return name
}

// GetLastServer returns the address of the last server bound to
func (s *State) GetLastServer() string {
	server, _ := s.GetConfig(configLastServer)
	return server
}

// RecordBound remembers a successful bind as the new defaults and in the
// server's history
func (s *State) RecordBound(serverAddress, playerName string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?), (?, ?)`,
		configLastPlayerName, playerName, configLastServer, serverAddress); err != nil {
		return fmt.Errorf("failed to save defaults: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO ServerHistory (server_address, player_name, last_bound_at)
		VALUES (?, ?, ?)
		ON CONFLICT(server_address) DO UPDATE SET
			player_name = excluded.player_name,
			last_bound_at = excluded.last_bound_at,
			bind_count = bind_count + 1
	`, serverAddress, playerName, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to save server history: %w", err)
	}

	return tx.Commit()
}

// PlayerNameFor returns the name last used on serverAddress, "" if never bound
func (s *State) PlayerNameFor(serverAddress string) (string, error) {
	var name string
	err := s.db.QueryRow(`SELECT player_name FROM ServerHistory WHERE server_address = ?`, serverAddress).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return name, err
}

// ListServers returns known servers, most recently bound first
func (s *State) ListServers(limit int) ([]ServerHistory, error) {
	rows, err := s.db.Query(`
		SELECT server_address, player_name, last_bound_at, bind_count
		FROM ServerHistory
		ORDER BY last_bound_at DESC, server_address
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []ServerHistory
	for rows.Next() {
		var h ServerHistory
		if err := rows.Scan(&h.ServerAddress, &h.PlayerName, &h.LastBoundAt, &h.BindCount); err != nil {
			return nil, err
		}
		servers = append(servers, h)
	}
	return servers, rows.Err()
}

// GetStateDir returns the directory where state is stored
func (s *State) GetStateDir() string {
	return s.dir
}
