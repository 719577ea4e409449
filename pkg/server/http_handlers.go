package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gamegineer/tablenet/pkg/database"
	"github.com/gamegineer/tablenet/pkg/transport"
)

// Journal listings return this many rows unless ?limit= asks otherwise
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// PlayerInfo describes a bound player on the /players endpoint
type PlayerInfo struct {
	Name           string `json:"name"`
	HoldsControl   bool   `json:"holds_control"`
	PendingRequest bool   `json:"pending_request"`
}

func (s *Server) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(transport.WebSocketPath, s.HandleWebSocket)
	mux.HandleFunc("/health", s.HealthHandler)
	mux.HandleFunc("/players", s.PlayersHandler)
	mux.HandleFunc("GET /connections", s.ConnectionsHandler)
	mux.HandleFunc("GET /connections/{id}", s.ConnectionHandler)
	mux.HandleFunc("GET /journal/connections", s.JournalConnectionsHandler)
	mux.HandleFunc("GET /journal/connections/{id}", s.JournalConnectionHandler)
	mux.HandleFunc("GET /journal/control", s.JournalControlHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// HealthHandler serves health check status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	control, sessionActive := s.node.Control()

	health := map[string]interface{}{
		"status":             "healthy",
		"uptime_seconds":     int64(time.Since(s.startTime).Seconds()),
		"active_connections": s.connections.Count(),
		"bound_players":      len(s.node.Players()),
		"session_active":     sessionActive,
		"control_holder":     control.Holder,
		"pending_request":    control.Pending,
		"journal_enabled":    s.journal != nil,
	}

	writeJSON(w, health)
}

// PlayersHandler lists the bound players and their relation to the control token
func (s *Server) PlayersHandler(w http.ResponseWriter, r *http.Request) {
	control, _ := s.node.Control()

	names := s.node.Players()
	players := make([]PlayerInfo, 0, len(names))
	for _, name := range names {
		players = append(players, PlayerInfo{
			Name:           name,
			HoldsControl:   name == control.Holder,
			PendingRequest: name == control.Pending,
		})
	}

	writeJSON(w, map[string]interface{}{
		"players": players,
		"count":   len(players),
	})
}

// ConnectionInfo describes a live connection on the /connections endpoints
type ConnectionInfo struct {
	ID             uint64 `json:"id"`
	RemoteAddr     string `json:"remote_addr"`
	ConnectionType string `json:"connection_type"`
	PlayerName     string `json:"player_name,omitempty"`
	State          string `json:"state"`
}

func connectionInfo(c *Controller) ConnectionInfo {
	return ConnectionInfo{
		ID:             c.ID,
		RemoteAddr:     c.RemoteAddr,
		ConnectionType: c.ConnType,
		PlayerName:     c.PlayerName(),
		State:          c.State().String(),
	}
}

// ConnectionsHandler lists every live connection, bound or not
func (s *Server) ConnectionsHandler(w http.ResponseWriter, r *http.Request) {
	all := s.connections.All()
	connections := make([]ConnectionInfo, 0, len(all))
	for _, c := range all {
		connections = append(connections, connectionInfo(c))
	}

	writeJSON(w, map[string]interface{}{
		"connections": connections,
		"count":       len(connections),
	})
}

// ConnectionHandler serves one live connection by session id
func (s *Server) ConnectionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid connection id", http.StatusBadRequest)
		return
	}

	c, ok := s.connections.Get(id)
	if !ok {
		http.Error(w, "Connection not found", http.StatusNotFound)
		return
	}
	writeJSON(w, connectionInfo(c))
}

// JournalConnectionsHandler lists journaled connections, newest first.
// ?player= narrows the list to one player.
func (s *Server) JournalConnectionsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireJournal(w) {
		return
	}
	limit, err := historyLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var connections []*database.Connection
	if player := r.URL.Query().Get("player"); player != "" {
		connections, err = s.journal.ListPlayerConnections(player, limit)
	} else {
		connections, err = s.journal.ListConnections(limit)
	}
	if err != nil {
		log.Printf("Error listing journaled connections: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if connections == nil {
		connections = []*database.Connection{}
	}

	writeJSON(w, map[string]interface{}{
		"connections": connections,
		"count":       len(connections),
	})
}

// JournalConnectionHandler serves one journaled connection
func (s *Server) JournalConnectionHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireJournal(w) {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid connection id", http.StatusBadRequest)
		return
	}

	conn, err := s.journal.GetConnection(id)
	if errors.Is(err, database.ErrConnectionNotFound) {
		http.Error(w, "Connection not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error reading journaled connection %d: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, conn)
}

// JournalControlHandler lists the latest control events in the order they
// happened
func (s *Server) JournalControlHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireJournal(w) {
		return
	}
	limit, err := historyLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	events, err := s.journal.ListControlEvents(limit)
	if err != nil {
		log.Printf("Error listing control events: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*database.ControlEvent{}
	}

	writeJSON(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) requireJournal(w http.ResponseWriter) bool {
	if s.journal == nil {
		http.Error(w, "Journal not enabled on this server", http.StatusNotImplemented)
		return false
	}
	return true
}

func historyLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(limit, maxHistoryLimit), nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
