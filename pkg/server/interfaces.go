package server

import (
	"time"

	"github.com/gamegineer/tablenet/pkg/database"
)

// Journal records connection and control history. *database.DB implements it.
// Record methods queue their writes and never block on the database.
type Journal interface {
	RecordConnectionOpened(remoteAddr, connType string) int64
	RecordPlayerBound(connectionID int64, playerName string)
	RecordConnectionClosed(connectionID int64, reason string)
	RecordControlEvent(kind, playerName, previousHolder string)

	// History
	GetConnection(id int64) (*database.Connection, error)
	ListConnections(limit int) ([]*database.Connection, error)
	ListPlayerConnections(playerName string, limit int) ([]*database.Connection, error)
	ListControlEvents(limit int) ([]*database.ControlEvent, error)

	// Housekeeping
	CloseAbandonedConnections(reason string) (int64, error)
	CleanupExpired(retention time.Duration) (int64, error)

	// Close flushes pending writes and closes the database
	Close() error
}
