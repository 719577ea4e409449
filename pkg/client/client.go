// Package client is the player side of a table connection: it offers a
// protocol version, answers the server's challenge, and once bound lets the
// player contend for the table's control token.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gamegineer/tablenet/pkg/protocol"
	"github.com/gamegineer/tablenet/pkg/session"
	"github.com/gamegineer/tablenet/pkg/transport"
)

// DefaultDialTimeout bounds connecting to a server
const DefaultDialTimeout = 10 * time.Second

var (
	// ErrNotBound is returned by table operations before the handshake completes.
	ErrNotBound = errors.New("client is not bound to a player")
	// ErrClosed is returned once the connection has been closed.
	ErrClosed = errors.New("client connection closed")
)

// Options configure a Client.
type Options struct {
	PlayerName  string
	Password    string
	Version     protocol.ProtocolVersion // zero means protocol.CurrentVersion
	DialTimeout time.Duration            // zero means DefaultDialTimeout
	Logger      *log.Logger              // nil disables client logging
}

// Client is one player's connection to a table server.
type Client struct {
	address    string
	playerName string
	password   string
	version    protocol.ProtocolVersion

	conn    *transport.Conn
	machine *session.Machine[*Client]
	logger  *log.Logger

	startOnce sync.Once
	bound     chan struct{}
	closed    chan struct{}
	finished  chan struct{}
}

// Dial connects to address (host[:port], tcp://, ws:// or wss://) and starts
// the handshake. Use WaitBound to wait for it to complete.
func Dial(address string, opts Options) (*Client, error) {
	addr, err := transport.ParseAddress(address)
	if err != nil {
		return nil, err
	}

	timeout := opts.DialTimeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}

	conn, err := transport.Dial(addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c := New(conn, opts)
	c.address = addr.String()
	if err := c.Start(); err != nil {
		return nil, err
	}
	return c, nil
}

// New wraps an established connection. Nothing is sent until Start.
func New(conn net.Conn, opts Options) *Client {
	version := opts.Version
	if version == 0 {
		version = protocol.CurrentVersion
	}

	c := &Client{
		playerName: opts.PlayerName,
		password:   opts.Password,
		version:    version,
		conn:       transport.NewConn(conn),
		machine:    session.NewMachine[*Client](),
		logger:     opts.Logger,
		bound:      make(chan struct{}),
		closed:     make(chan struct{}),
		finished:   make(chan struct{}),
	}
	c.address = c.conn.RemoteAddr()
	return c
}

// Start sends Hello and begins reading from the server. Calling it more than
// once has no effect.
func (c *Client) Start() error {
	var err error
	c.startOnce.Do(func() {
		hello := c.NewMessage(&protocol.HelloMessage{SupportedVersion: c.version})
		c.machine.SetState(session.StateAwaitingHelloResponse)
		err = c.SendMessage(hello, handlers.Expect(protocol.TypeHelloResponse, func(c *Client, msg *protocol.Message) {
			handleHelloResponse(c, hello, msg)
		}))

		go c.receive()
	})
	return err
}

func (c *Client) receive() {
	defer close(c.finished)

	err := c.conn.ReceiveLoop(c.Dispatch)
	switch {
	case c.machine.IsClosed():
	case errors.Is(err, transport.ErrMalformedFrame):
		c.logf("Malformed frame from %s: %v", c.address, err)
		c.SendMessage(c.NewMessage(&protocol.ErrorMessage{Code: protocol.ErrUnexpectedMessage}), nil)
		c.Close(protocol.ErrUnexpectedMessage)
	default:
		c.logf("Connection to %s lost: %v", c.address, err)
		c.Close(protocol.ErrTransportError)
	}
	<-c.conn.Done()
}

// logf logs a message if a logger is set
func (c *Client) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Machine returns the connection's protocol state.
func (c *Client) Machine() *session.Machine[*Client] {
	return c.machine
}

func (c *Client) Address() string                       { return c.address }
func (c *Client) PlayerName() string                    { return c.playerName }
func (c *Client) State() session.State                  { return c.machine.State() }
func (c *Client) CloseCode() protocol.TableNetworkError { return c.machine.CloseCode() }
func (c *Client) BytesSent() uint64                     { return c.conn.BytesSent() }
func (c *Client) BytesReceived() uint64                 { return c.conn.BytesReceived() }

// NewMessage builds an unsolicited message with the next outgoing id.
func (c *Client) NewMessage(body protocol.Body) *protocol.Message {
	return protocol.NewMessage(c.machine.NextMessageID(), body)
}

// Reply builds a message answering request.
func (c *Client) Reply(request *protocol.Message, body protocol.Body) *protocol.Message {
	return protocol.NewReply(c.machine.NextMessageID(), request, body)
}

// SendMessage installs next as the handler for the following incoming message
// and queues msg. A send failure closes the connection with TRANSPORT_ERROR.
func (c *Client) SendMessage(msg *protocol.Message, next session.Handler[*Client]) error {
	if c.machine.IsClosed() {
		return ErrClosed
	}

	c.machine.SetNextHandler(next)

	c.logf("→ SEND: %s", msg)
	if err := c.conn.Send(msg); err != nil {
		c.logf("Send %s failed: %v", msg.Type(), err)
		c.Close(protocol.ErrTransportError)
		return err
	}
	return nil
}

// Dispatch hands msg to the handler installed for this connection.
func (c *Client) Dispatch(msg *protocol.Message) {
	if c.machine.IsClosed() {
		return
	}
	c.logf("← RECV: %s", msg)
	handlers.Dispatch(c, msg)
}

// Close terminates the connection with code without notifying the server.
// Only the first call has any effect.
func (c *Client) Close(code protocol.TableNetworkError) {
	if !c.machine.Close(code) {
		return
	}
	c.conn.Close()
	close(c.closed)
	c.logf("Connection to %s closed: %s", c.address, code)
}

// Goodbye tells the server the player is leaving and closes the connection.
// Messages already queued are delivered first.
func (c *Client) Goodbye() error {
	if c.machine.IsClosed() {
		return ErrClosed
	}
	err := c.SendMessage(c.NewMessage(&protocol.GoodbyeMessage{}), nil)
	c.Close(protocol.ErrClientShutdown)
	return err
}

// RequestControl asks for the table's control token.
func (c *Client) RequestControl() error {
	return c.sendBound(&protocol.RequestControlMessage{})
}

// CancelControlRequest withdraws a pending control request.
func (c *Client) CancelControlRequest() error {
	return c.sendBound(&protocol.CancelControlRequestMessage{})
}

// GiveControl hands the control token to target. The server ignores it unless
// this player holds the token.
func (c *Client) GiveControl(target string) error {
	if target == "" {
		return errors.New("target player name is empty")
	}
	return c.sendBound(&protocol.GiveControlMessage{TargetPlayerName: target})
}

func (c *Client) sendBound(body protocol.Body) error {
	switch c.machine.State() {
	case session.StateBound:
		return c.SendMessage(c.NewMessage(body), nil)
	case session.StateClosed:
		return ErrClosed
	default:
		return ErrNotBound
	}
}

// Err returns why the connection closed: nil while open or after a voluntary
// Goodbye, otherwise the protocol.TableNetworkError.
func (c *Client) Err() error {
	code := c.machine.CloseCode()
	if code == 0 || code == protocol.ErrClientShutdown {
		return nil
	}
	return code
}

// WaitBound blocks until the server accepts the player, the connection closes
// or ctx is done.
func (c *Client) WaitBound(ctx context.Context) error {
	select {
	case <-c.bound:
		return nil
	case <-c.closed:
		select {
		case <-c.bound:
			return nil
		default:
		}
		if err := c.Err(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed is closed when the connection closes.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// Wait blocks until the connection is closed and the socket released, then
// returns Err.
func (c *Client) Wait() error {
	<-c.closed
	select {
	case <-c.finished:
	case <-c.conn.Done():
	}
	return c.Err()
}
