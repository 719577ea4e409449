package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"go.uber.org/multierr"
	_ "modernc.org/sqlite"
)

// ErrConnectionNotFound indicates the journal has no such connection.
var ErrConnectionNotFound = errors.New("connection not found")

// pragmas are applied to every connection pool
var pragmas = []struct {
	stmt string
	desc string
}{
	// WAL allows multiple readers and one writer at the same time
	{"PRAGMA journal_mode = WAL", "enable WAL mode"},
	// Wait and retry instead of immediately failing with SQLITE_BUSY
	{"PRAGMA busy_timeout = 5000", "set busy timeout"},
	{"PRAGMA foreign_keys = ON", "enable foreign keys"},
	{"PRAGMA synchronous = NORMAL", "set synchronous mode"},
}

// DB is the server's connection journal, stored in SQLite
type DB struct {
	conn        *sql.DB // Read connection pool
	writeConn   *sql.DB // Dedicated write connection (1 connection)
	snowflake   *Snowflake
	WriteBuffer *WriteBuffer
}

// Connection is one journaled table connection
type Connection struct {
	ID             int64  `json:"id"`
	RemoteAddr     string `json:"remote_addr"`
	ConnectionType string `json:"connection_type"`       // "tcp" or "websocket"
	PlayerName     string `json:"player_name,omitempty"` // Empty if the connection never bound a player
	OpenedAt       int64  `json:"opened_at"`             // Unix timestamp in milliseconds
	BoundAt        *int64 `json:"bound_at,omitempty"`
	ClosedAt       *int64 `json:"closed_at,omitempty"`
	CloseReason    string `json:"close_reason,omitempty"`
}

// ControlEvent is one journaled change to the control token
type ControlEvent struct {
	ID             int64  `json:"id"`
	Kind           string `json:"kind"`
	PlayerName     string `json:"player_name"`
	PreviousHolder string `json:"previous_holder,omitempty"`
	CreatedAt      int64  `json:"created_at"` // Unix timestamp in milliseconds
}

// Open opens the journal at the given path and migrates it to the latest
// schema
func Open(path string) (*DB, error) {
	conn, err := openPool(path)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	writeConn, err := openPool(path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("write connection: %w", err)
	}
	// Exactly 1 connection, never expires
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	// Backs up the database if migrations are pending
	if err := runMigrations(conn, path); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Snowflake ID generator (epoch: 2024-01-01, workerID: 0)
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	db := &DB{
		conn:      conn,
		writeConn: writeConn,
		snowflake: NewSnowflake(epoch, 0),
	}
	db.WriteBuffer = NewWriteBuffer(db, 100*time.Millisecond)

	return db, nil
}

func openPool(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p.stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.desc, err)
		}
	}
	return conn, nil
}

// Close flushes queued writes and closes the database
func (db *DB) Close() error {
	db.WriteBuffer.Close()
	return multierr.Combine(db.writeConn.Close(), db.conn.Close())
}

// nowMillis returns current time as Unix timestamp in milliseconds
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// RecordConnectionOpened journals a new connection and returns its ID. The
// row is written on the next flush.
func (db *DB) RecordConnectionOpened(remoteAddr, connType string) int64 {
	return db.WriteBuffer.OpenConnection(remoteAddr, connType)
}

// RecordPlayerBound journals the player name a connection bound to
func (db *DB) RecordPlayerBound(connectionID int64, playerName string) {
	db.WriteBuffer.BindConnection(connectionID, playerName)
}

// RecordConnectionClosed journals why a connection closed
func (db *DB) RecordConnectionClosed(connectionID int64, reason string) {
	db.WriteBuffer.CloseConnection(connectionID, reason)
}

// RecordControlEvent journals a control token change
func (db *DB) RecordControlEvent(kind, playerName, previousHolder string) {
	db.WriteBuffer.AddControlEvent(kind, playerName, previousHolder)
}

// CloseAbandonedConnections marks connections left open by a previous run as
// closed with reason. Returns the number of connections updated.
func (db *DB) CloseAbandonedConnections(reason string) (int64, error) {
	result, err := db.writeConn.Exec(`
		UPDATE Connection
		SET closed_at = ?, close_reason = ?
		WHERE closed_at IS NULL
	`, nowMillis(), reason)
	if err != nil {
		return 0, fmt.Errorf("failed to close abandoned connections: %w", err)
	}
	return result.RowsAffected()
}

// CleanupExpired deletes closed connections and control events older than
// retention. Returns the number of rows deleted.
func (db *DB) CleanupExpired(retention time.Duration) (int64, error) {
	start := time.Now()
	cutoff := nowMillis() - retention.Milliseconds()

	tx, err := db.writeConn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin cleanup: %w", err)
	}
	defer tx.Rollback()

	connections, err := tx.Exec(`DELETE FROM Connection WHERE closed_at IS NOT NULL AND closed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup connections: %w", err)
	}
	events, err := tx.Exec(`DELETE FROM ControlEvent WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup control events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}

	connectionCount, _ := connections.RowsAffected()
	eventCount, _ := events.RowsAffected()

	log.Printf("DB: CleanupExpired took %v", time.Since(start))
	return connectionCount + eventCount, nil
}

const connectionColumns = `id, remote_addr, connection_type, player_name, opened_at, bound_at, closed_at, close_reason`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row rowScanner) (*Connection, error) {
	c := &Connection{}
	var playerName, closeReason sql.NullString
	var boundAt, closedAt sql.NullInt64

	err := row.Scan(
		&c.ID,
		&c.RemoteAddr,
		&c.ConnectionType,
		&playerName,
		&c.OpenedAt,
		&boundAt,
		&closedAt,
		&closeReason,
	)
	if err != nil {
		return nil, err
	}

	c.PlayerName = playerName.String
	c.CloseReason = closeReason.String
	if boundAt.Valid {
		c.BoundAt = &boundAt.Int64
	}
	if closedAt.Valid {
		c.ClosedAt = &closedAt.Int64
	}
	return c, nil
}

// GetConnection returns one journaled connection
func (db *DB) GetConnection(id int64) (*Connection, error) {
	c, err := scanConnection(db.conn.QueryRow(`SELECT `+connectionColumns+` FROM Connection WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConnectionNotFound
	}
	return c, err
}

// ListConnections returns the most recently opened connections, newest first
func (db *DB) ListConnections(limit int) ([]*Connection, error) {
	rows, err := db.conn.Query(`
		SELECT `+connectionColumns+`
		FROM Connection
		ORDER BY opened_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var connections []*Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, c)
	}
	return connections, rows.Err()
}

// ListPlayerConnections returns a player's connections, newest first
func (db *DB) ListPlayerConnections(playerName string, limit int) ([]*Connection, error) {
	rows, err := db.conn.Query(`
		SELECT `+connectionColumns+`
		FROM Connection
		WHERE player_name = ?
		ORDER BY opened_at DESC, id DESC
		LIMIT ?
	`, playerName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var connections []*Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, c)
	}
	return connections, rows.Err()
}

// ListControlEvents returns the most recent control events in the order they
// happened
func (db *DB) ListControlEvents(limit int) ([]*ControlEvent, error) {
	rows, err := db.conn.Query(`
		SELECT id, kind, player_name, previous_holder, created_at
		FROM (
			SELECT * FROM ControlEvent ORDER BY id DESC LIMIT ?
		)
		ORDER BY id ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*ControlEvent
	for rows.Next() {
		ev := &ControlEvent{}
		var previous sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.PlayerName, &previous, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.PreviousHolder = previous.String
		events = append(events, ev)
	}
	return events, rows.Err()
}
