package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/gamegineer/tablenet/pkg/database"
	"github.com/gamegineer/tablenet/pkg/protocol"
	"github.com/gamegineer/tablenet/pkg/transport"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lmicroseconds)
	debugLog = log.New(io.Discard, "DEBUG: ", log.Ldate|log.Ltime|log.Lmicroseconds)
)

// Server accepts table connections over TCP and WebSocket and serves the
// HTTP status endpoints.
type Server struct {
	node        *Node
	connections *ConnectionManager
	journal     Journal
	metrics     *Metrics
	registry    *prometheus.Registry
	config      ServerConfig

	listener     net.Listener
	httpListener net.Listener
	httpServer   *http.Server
	startTime    time.Time

	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer creates a server. An empty dbPath runs without a journal.
func NewServer(dbPath string, config ServerConfig) (*Server, error) {
	var journal Journal
	if dbPath != "" {
		db, err := database.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		journal = db
	}
	return newServer(journal, config), nil
}

func newServer(journal Journal, config ServerConfig) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewMetrics(registry)

	connections := NewConnectionManager()
	connections.SetMetrics(metrics)

	s := &Server{
		node: NewNode(NodeConfig{
			Passwords:           StaticPassword(config.Password),
			SupportedVersions:   config.SupportedVersions,
			MaxPlayerNameLength: config.MaxPlayerNameLength,
			MaxConcurrentAuth:   config.MaxConcurrentAuth,
		}),
		connections: connections,
		journal:     journal,
		metrics:     metrics,
		registry:    registry,
		config:      config,
		shutdown:    make(chan struct{}),
	}
	s.node.AddControlListener(s)
	return s
}

// EnableDebugLogging turns on per-message logging
func (s *Server) EnableDebugLogging() {
	debugLog.SetOutput(os.Stderr)
}

// Node returns the server's table node.
func (s *Server) Node() *Node {
	return s.node
}

// Addr returns the TCP listen address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTPAddr returns the HTTP listen address, nil if HTTP is disabled.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// Start binds the listeners, opens the table session and begins accepting
// connections.
func (s *Server) Start() error {
	var g errgroup.Group
	g.Go(func() error {
		l, err := listenTCP(s.config.TCPPort)
		if err != nil {
			return fmt.Errorf("failed to listen on TCP port %d: %w", s.config.TCPPort, err)
		}
		s.listener = l
		return nil
	})
	if s.config.HTTPPort > 0 {
		g.Go(func() error {
			l, err := listenTCP(s.config.HTTPPort)
			if err != nil {
				return fmt.Errorf("failed to listen on HTTP port %d: %w", s.config.HTTPPort, err)
			}
			s.httpListener = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if s.listener != nil {
			s.listener.Close()
		}
		if s.httpListener != nil {
			s.httpListener.Close()
		}
		return err
	}

	if err := s.node.StartSession(s.config.HostPlayer); err != nil {
		s.listener.Close()
		if s.httpListener != nil {
			s.httpListener.Close()
		}
		return fmt.Errorf("failed to start table session: %w", err)
	}
	s.startTime = time.Now()
	logListenBacklog(s.listener.Addr().String())

	if s.journal != nil {
		if count, err := s.journal.CloseAbandonedConnections("SERVER_RESTART"); err != nil {
			errorLog.Printf("Failed to close abandoned journal entries: %v", err)
		} else if count > 0 {
			log.Printf("Marked %d connection(s) from a previous run as closed", count)
		}

		s.wg.Add(1)
		go s.retentionCleanupLoop()
	}

	s.wg.Add(1)
	go s.monitorListenOverflows()

	s.wg.Add(1)
	go s.acceptLoop()

	if s.httpListener != nil {
		s.httpServer = &http.Server{
			Handler:           s.httpHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errorLog.Printf("HTTP server error: %v", err)
			}
		}()
		log.Printf("HTTP server listening on %s", s.httpListener.Addr())
	}

	return nil
}

// Stop closes the listeners and every connection, ends the table session and
// flushes the journal.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.shutdown)

		if s.listener != nil {
			if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = multierr.Append(err, cerr)
			}
		}
		if s.httpServer != nil {
			err = multierr.Append(err, s.httpServer.Close())
		}

		s.connections.CloseAll(protocol.ErrTransportError)
		s.wg.Wait()

		s.node.EndSession()

		if s.journal != nil {
			err = multierr.Append(err, s.journal.Close())
		}
	})
	return err
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			errorLog.Printf("Accept error: %v", err)
			continue
		}

		// Disable Nagle's algorithm for immediate sends
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		if s.atCapacity() {
			log.Printf("Refusing connection from %s: %d connections open", conn.RemoteAddr(), s.connections.Count())
			s.metrics.RecordConnectionRefused()
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn, "tcp")
		}()
	}
}

func (s *Server) atCapacity() bool {
	return s.config.MaxConnections > 0 && s.connections.Count() >= s.config.MaxConnections
}

// handleConnection runs one connection until it closes. Messages are
// dispatched on this goroutine, one at a time, in arrival order.
func (s *Server) handleConnection(conn net.Conn, connType string) {
	tc := transport.NewConn(conn)
	c := newController(s.connections.NextID(), s.node, tc, tc.RemoteAddr(), connType, s)
	if s.journal != nil {
		c.journalID = s.journal.RecordConnectionOpened(c.RemoteAddr, connType)
	}

	if err := s.connections.Add(c); err != nil {
		c.Close(protocol.ErrTransportError)
		return
	}
	defer s.connections.Remove(c.ID)

	s.metrics.RecordConnectionOpened()
	debugLog.Printf("New %s connection from %s (session %d)", connType, c.RemoteAddr, c.ID)

	err := tc.ReceiveLoop(c.Dispatch)
	if !c.IsClosed() {
		switch {
		case errors.Is(err, transport.ErrMalformedFrame):
			failMalformed(c, err)
		case errors.Is(err, io.EOF):
			log.Printf("Session %d disconnected without goodbye", c.ID)
			c.Close(protocol.ErrTransportError)
		default:
			log.Printf("Session %d read error: %v", c.ID, err)
			c.Close(protocol.ErrTransportError)
		}
	}

	<-tc.Done()
}

// retentionCleanupLoop periodically drops journal entries past retention
func (s *Server) retentionCleanupLoop() {
	defer s.wg.Done()

	interval := time.Duration(s.config.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.cleanupExpiredJournal()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.cleanupExpiredJournal()
		}
	}
}

func (s *Server) cleanupExpiredJournal() {
	retention := time.Duration(s.config.JournalRetentionHours) * time.Hour
	if retention <= 0 {
		return
	}

	count, err := s.journal.CleanupExpired(retention)
	if err != nil {
		errorLog.Printf("Error cleaning up journal: %v", err)
		return
	}

	if count > 0 {
		log.Printf("Cleaned up %d expired journal entries", count)
	}
}

// Controller hooks

func (s *Server) messageReceived(c *Controller, msg *protocol.Message) {
	s.metrics.RecordMessageReceived(msg.Type().String())
}

func (s *Server) messageSent(c *Controller, msg *protocol.Message) {
	s.metrics.RecordMessageSent(msg.Type().String())
}

func (s *Server) playerBound(c *Controller) {
	log.Printf("Session %d bound to player %s", c.ID, c.PlayerName())
	s.metrics.RecordHandshakeCompleted()
	s.metrics.RecordBoundPlayers(len(s.node.Players()))
	if s.journal != nil {
		s.journal.RecordPlayerBound(c.journalID, c.PlayerName())
	}
}

func (s *Server) connectionClosed(c *Controller, code protocol.TableNetworkError) {
	s.metrics.RecordConnectionClosed(code.String())
	s.metrics.RecordBoundPlayers(len(s.node.Players()))
	if s.journal != nil {
		s.journal.RecordConnectionClosed(c.journalID, code.String())
	}
}

// ControlChanged records control token changes.
func (s *Server) ControlChanged(event ControlEvent) {
	switch event.Kind {
	case ControlTransferred:
		if event.From != "" {
			log.Printf("Control passed from %s to %s", event.From, event.Player)
		} else {
			log.Printf("Control given to %s", event.Player)
		}
	default:
		debugLog.Printf("Control %s by %s", event.Kind, event.Player)
	}

	s.metrics.RecordControlEvent(event.Kind.String())
	if s.journal != nil {
		s.journal.RecordControlEvent(event.Kind.String(), event.Player, event.From)
	}
}

func listenTCP(port int) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) { serr = setSocketOptions(fd) }); err != nil {
				return err
			}
			return serr
		},
	}
	return lc.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
}
