package server

import (
	"errors"
	"log"

	"github.com/gamegineer/tablenet/pkg/protocol"
	"github.com/gamegineer/tablenet/pkg/session"
)

var errConnectionClosed = errors.New("connection closed")

// Transport is the outgoing half of a connection as the controller sees it.
// Send must not block.
type Transport interface {
	Send(msg *protocol.Message) error
	Close() error
}

// controllerHooks observes controller lifecycle for metrics and the journal.
type controllerHooks interface {
	messageReceived(c *Controller, msg *protocol.Message)
	messageSent(c *Controller, msg *protocol.Message)
	playerBound(c *Controller)
	connectionClosed(c *Controller, code protocol.TableNetworkError)
}

type nopHooks struct{}

func (nopHooks) messageReceived(*Controller, *protocol.Message)           {}
func (nopHooks) messageSent(*Controller, *protocol.Message)               {}
func (nopHooks) playerBound(*Controller)                                  {}
func (nopHooks) connectionClosed(*Controller, protocol.TableNetworkError) {}

// Controller is the server side of one client connection. It owns the
// connection's protocol state and is reachable from the node only by its bound
// player name.
type Controller struct {
	ID         uint64
	RemoteAddr string
	ConnType   string // "tcp", "websocket" or "pipe"

	node      *Node
	transport Transport
	machine   *session.Machine[*Controller]
	hooks     controllerHooks
	journalID int64
}

func newController(id uint64, node *Node, transport Transport, remoteAddr, connType string, hooks controllerHooks) *Controller {
	if hooks == nil {
		hooks = nopHooks{}
	}
	return &Controller{
		ID:         id,
		RemoteAddr: remoteAddr,
		ConnType:   connType,
		node:       node,
		transport:  transport,
		machine:    session.NewMachine[*Controller](),
		hooks:      hooks,
	}
}

// Machine returns the connection's protocol state.
func (c *Controller) Machine() *session.Machine[*Controller] {
	return c.machine
}

// LocalNode returns the node this connection belongs to.
func (c *Controller) LocalNode() *Node {
	return c.node
}

func (c *Controller) Challenge() []byte     { return c.machine.Challenge() }
func (c *Controller) SetChallenge(b []byte) { c.machine.SetChallenge(b) }
func (c *Controller) Salt() []byte          { return c.machine.Salt() }
func (c *Controller) SetSalt(b []byte)      { c.machine.SetSalt(b) }
func (c *Controller) PlayerName() string    { return c.machine.PlayerName() }
func (c *Controller) State() session.State  { return c.machine.State() }
func (c *Controller) IsClosed() bool        { return c.machine.IsClosed() }
func (c *Controller) CloseCode() protocol.TableNetworkError {
	return c.machine.CloseCode()
}

// Bind binds playerName to this connection on the node. It returns
// ErrDuplicatePlayerName if another connection holds the name, and ErrNotBound
// if this connection is already bound or closed.
func (c *Controller) Bind(playerName string) error {
	if err := c.node.bindPlayer(playerName, c); err != nil {
		return err
	}
	c.hooks.playerBound(c)
	return nil
}

// NewMessage builds an unsolicited message with the next outgoing id.
func (c *Controller) NewMessage(body protocol.Body) *protocol.Message {
	return protocol.NewMessage(c.machine.NextMessageID(), body)
}

// Reply builds a message answering request.
func (c *Controller) Reply(request *protocol.Message, body protocol.Body) *protocol.Message {
	return protocol.NewReply(c.machine.NextMessageID(), request, body)
}

// SendMessage installs next as the handler for the following incoming message
// (nil reverts to the default table) and queues msg. A send failure closes the
// connection with TRANSPORT_ERROR.
func (c *Controller) SendMessage(msg *protocol.Message, next session.Handler[*Controller]) error {
	if c.machine.IsClosed() {
		return errConnectionClosed
	}

	c.machine.SetNextHandler(next)

	debugLog.Printf("Session %d → SEND: %s", c.ID, msg)
	if err := c.transport.Send(msg); err != nil {
		errorLog.Printf("Session %d: send %s failed: %v", c.ID, msg.Type(), err)
		c.Close(protocol.ErrTransportError)
		return err
	}
	c.hooks.messageSent(c, msg)
	return nil
}

// Close terminates the connection with code. Only the first call has any
// effect. Queued messages are still flushed before the socket closes.
func (c *Controller) Close(code protocol.TableNetworkError) {
	if !c.machine.Close(code) {
		return
	}

	if name := c.machine.PlayerName(); name != "" {
		c.node.unbindPlayer(name, c)
	}

	if err := c.transport.Close(); err != nil {
		debugLog.Printf("Session %d: transport close: %v", c.ID, err)
	}

	logf := log.Printf
	if code == protocol.ErrClientShutdown {
		logf = debugLog.Printf
	}
	if name := c.machine.PlayerName(); name != "" {
		logf("Session %d (%s) closed: %s", c.ID, name, code)
	} else {
		logf("Session %d closed: %s", c.ID, code)
	}
	c.hooks.connectionClosed(c, code)
}

// Dispatch hands msg to the handler installed for this connection. Messages
// for one connection must be dispatched one at a time.
func (c *Controller) Dispatch(msg *protocol.Message) {
	if c.machine.IsClosed() {
		return
	}
	debugLog.Printf("Session %d ← RECV: %s", c.ID, msg)
	c.hooks.messageReceived(c, msg)
	handlers.Dispatch(c, msg)
}
