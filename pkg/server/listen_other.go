//go:build !linux

package server

import "log"

// logListenBacklog logs the listen address (non-Linux systems)
func logListenBacklog(addr string) {
	log.Printf("TCP server listening on %s", addr)
}

// monitorListenOverflows has nothing to watch outside Linux
func (s *Server) monitorListenOverflows() {
	s.wg.Done()
}
