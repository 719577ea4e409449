package server

import (
	"log"
	"net/http"

	"github.com/gamegineer/tablenet/pkg/transport"
)

// HandleWebSocket upgrades an HTTP request and serves it as a table
// connection. The connection runs on the request's goroutine.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.atCapacity() {
		s.metrics.RecordConnectionRefused()
		http.Error(w, "Server full", http.StatusServiceUnavailable)
		return
	}

	conn, err := transport.UpgradeWebSocket(w, r)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.handleConnection(conn, "websocket")
}
