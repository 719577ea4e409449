package database

import (
	"database/sql"
	"log"
	"sync"
	"time"
)

// WriteBuffer batches journal writes so connection handling never waits on
// SQLite. IDs are assigned when a write is queued.
type WriteBuffer struct {
	db            *DB
	flushInterval time.Duration

	mu              sync.Mutex
	connectionOpens []*pendingConnection
	bindings        []*pendingBinding
	closes          []*pendingClose
	controlEvents   []*pendingControlEvent

	// Serializes flushes so queued order is preserved across batches
	flushMu sync.Mutex

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type pendingConnection struct {
	id         int64
	remoteAddr string
	connType   string
	timestamp  int64
}

type pendingBinding struct {
	connectionID int64
	playerName   string
	timestamp    int64
}

type pendingClose struct {
	connectionID int64
	reason       string
	timestamp    int64
}

type pendingControlEvent struct {
	id             int64
	kind           string
	playerName     string
	previousHolder string
	timestamp      int64
}

// NewWriteBuffer creates a new write buffer with the given flush interval
func NewWriteBuffer(db *DB, flushInterval time.Duration) *WriteBuffer {
	wb := &WriteBuffer{
		db:            db,
		flushInterval: flushInterval,
		shutdown:      make(chan struct{}),
	}

	wb.wg.Add(1)
	go wb.flushLoop()

	return wb
}

// OpenConnection queues a connection insert and returns its ID
func (wb *WriteBuffer) OpenConnection(remoteAddr, connType string) int64 {
	id := wb.db.snowflake.NextID()

	wb.mu.Lock()
	wb.connectionOpens = append(wb.connectionOpens, &pendingConnection{
		id:         id,
		remoteAddr: remoteAddr,
		connType:   connType,
		timestamp:  nowMillis(),
	})
	wb.mu.Unlock()

	return id
}

// BindConnection queues recording the player a connection bound to
func (wb *WriteBuffer) BindConnection(connectionID int64, playerName string) {
	wb.mu.Lock()
	wb.bindings = append(wb.bindings, &pendingBinding{
		connectionID: connectionID,
		playerName:   playerName,
		timestamp:    nowMillis(),
	})
	wb.mu.Unlock()
}

// CloseConnection queues recording a connection's close
func (wb *WriteBuffer) CloseConnection(connectionID int64, reason string) {
	wb.mu.Lock()
	wb.closes = append(wb.closes, &pendingClose{
		connectionID: connectionID,
		reason:       reason,
		timestamp:    nowMillis(),
	})
	wb.mu.Unlock()
}

// AddControlEvent queues a control event insert
func (wb *WriteBuffer) AddControlEvent(kind, playerName, previousHolder string) {
	id := wb.db.snowflake.NextID()

	wb.mu.Lock()
	wb.controlEvents = append(wb.controlEvents, &pendingControlEvent{
		id:             id,
		kind:           kind,
		playerName:     playerName,
		previousHolder: previousHolder,
		timestamp:      nowMillis(),
	})
	wb.mu.Unlock()
}

// Pending returns the number of queued writes
func (wb *WriteBuffer) Pending() int {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return len(wb.connectionOpens) + len(wb.bindings) + len(wb.closes) + len(wb.controlEvents)
}

// flushLoop periodically flushes buffered writes
func (wb *WriteBuffer) flushLoop() {
	defer wb.wg.Done()

	ticker := time.NewTicker(wb.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wb.Flush()
		case <-wb.shutdown:
			// Final flush on shutdown
			wb.Flush()
			return
		}
	}
}

// requeue puts a failed batch back in front of anything queued since
func (wb *WriteBuffer) requeue(opens []*pendingConnection, bindings []*pendingBinding, closes []*pendingClose, events []*pendingControlEvent) {
	wb.mu.Lock()
	wb.connectionOpens = append(opens, wb.connectionOpens...)
	wb.bindings = append(bindings, wb.bindings...)
	wb.closes = append(closes, wb.closes...)
	wb.controlEvents = append(events, wb.controlEvents...)
	wb.mu.Unlock()
}

// Flush writes all buffered updates to the database in a single transaction.
// Inserts are applied before updates so a connection opened and closed within
// one interval is journaled completely.
func (wb *WriteBuffer) Flush() {
	wb.flushMu.Lock()
	defer wb.flushMu.Unlock()

	start := time.Now()

	wb.mu.Lock()
	opens, bindings, closes, events := wb.connectionOpens, wb.bindings, wb.closes, wb.controlEvents
	wb.connectionOpens, wb.bindings, wb.closes, wb.controlEvents = nil, nil, nil, nil
	wb.mu.Unlock()

	totalItems := len(opens) + len(bindings) + len(closes) + len(events)
	if totalItems == 0 {
		return
	}

	// Measure time waiting for transaction lock
	lockStart := time.Now()
	tx, err := wb.db.writeConn.Begin()
	lockWait := time.Since(lockStart)
	if err != nil {
		log.Printf("WriteBuffer: failed to begin transaction: %v", err)
		wb.requeue(opens, bindings, closes, events)
		return
	}
	defer tx.Rollback()

	// 1. Connection inserts
	if len(opens) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO Connection (id, remote_addr, connection_type, opened_at)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			log.Printf("WriteBuffer: failed to prepare connection insert: %v", err)
		} else {
			defer stmt.Close()
			for _, c := range opens {
				if _, err := stmt.Exec(c.id, c.remoteAddr, c.connType, c.timestamp); err != nil {
					log.Printf("WriteBuffer: failed to insert connection %d: %v", c.id, err)
				}
			}
		}
	}

	// 2. Player bindings
	if len(bindings) > 0 {
		stmt, err := tx.Prepare(`UPDATE Connection SET player_name = ?, bound_at = ? WHERE id = ?`)
		if err != nil {
			log.Printf("WriteBuffer: failed to prepare binding statement: %v", err)
		} else {
			defer stmt.Close()
			for _, b := range bindings {
				if _, err := stmt.Exec(b.playerName, b.timestamp, b.connectionID); err != nil {
					log.Printf("WriteBuffer: failed to record binding for connection %d: %v", b.connectionID, err)
				}
			}
		}
	}

	// 3. Closes
	if len(closes) > 0 {
		stmt, err := tx.Prepare(`UPDATE Connection SET closed_at = ?, close_reason = ? WHERE id = ? AND closed_at IS NULL`)
		if err != nil {
			log.Printf("WriteBuffer: failed to prepare close statement: %v", err)
		} else {
			defer stmt.Close()
			for _, c := range closes {
				if _, err := stmt.Exec(c.timestamp, c.reason, c.connectionID); err != nil {
					log.Printf("WriteBuffer: failed to record close for connection %d: %v", c.connectionID, err)
				}
			}
		}
	}

	// 4. Control events
	if len(events) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO ControlEvent (id, kind, player_name, previous_holder, created_at)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			log.Printf("WriteBuffer: failed to prepare control event insert: %v", err)
		} else {
			defer stmt.Close()
			for _, ev := range events {
				var previous sql.NullString
				if ev.previousHolder != "" {
					previous.Valid = true
					previous.String = ev.previousHolder
				}
				if _, err := stmt.Exec(ev.id, ev.kind, ev.playerName, previous, ev.timestamp); err != nil {
					log.Printf("WriteBuffer: failed to insert control event %d: %v", ev.id, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("WriteBuffer: failed to commit transaction: %v", err)
		wb.requeue(opens, bindings, closes, events)
		return
	}

	elapsed := time.Since(start)

	// Only log slow flushes (those that exceed the flush interval)
	if elapsed > wb.flushInterval {
		log.Printf("WriteBuffer: flushed %d items (connection_open:%d, binding:%d, close:%d, control_event:%d) lock_wait=%v total=%v",
			totalItems, len(opens), len(bindings), len(closes), len(events), lockWait, elapsed)
	}
}

// Close shuts down the write buffer and flushes remaining writes
func (wb *WriteBuffer) Close() {
	wb.closeOnce.Do(func() {
		close(wb.shutdown)
		wb.wg.Wait()
	})
}
