package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gamegineer/tablenet/pkg/protocol"
)

// WebSocketPath is where servers accept WebSocket connections
const WebSocketPath = "/ws"

const (
	// maxMessageSize is the largest frame plus its length prefix. Every frame
	// travels as exactly one binary message.
	maxMessageSize = 4 + protocol.MaxFrameSize

	wsBufferSize   = 64 * 1024
	wsCloseTimeout = time.Second
)

// ErrNonBinaryMessage reports a text message from the peer. Frames only travel
// as binary messages.
var ErrNonBinaryMessage = errors.New("websocket: non-binary message")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		// Table clients are not browsers bound to an origin
		return true
	},
}

// UpgradeWebSocket upgrades an HTTP request to a WebSocket connection
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request) (*WebSocketConn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocketConn(ws), nil
}

// DialWebSocket connects to a WebSocket server using the specified scheme (ws or wss)
func DialWebSocket(addr string, useTLS bool, timeout time.Duration) (*WebSocketConn, error) {
	scheme := "ws"
	if useTLS {
		scheme = "wss"
	}

	u := url.URL{Scheme: scheme, Host: addr, Path: WebSocketPath}

	dialer := &websocket.Dialer{
		HandshakeTimeout: timeout,
		ReadBufferSize:   wsBufferSize,
		WriteBufferSize:  wsBufferSize,
	}

	ws, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		if strings.Contains(err.Error(), "bad handshake") {
			if useTLS {
				return nil, fmt.Errorf("TLS handshake failed - server may not support WSS (try ws:// instead): %w", err)
			}
			return nil, fmt.Errorf("handshake failed - server may require WSS/TLS (try wss:// instead): %w", err)
		}
		return nil, err
	}

	return NewWebSocketConn(ws), nil
}

// WebSocketConn presents a WebSocket connection as a net.Conn byte stream.
// Reads stream each incoming binary message in turn; each Write becomes one
// binary message.
type WebSocketConn struct {
	ws *websocket.Conn

	readMu  sync.Mutex
	message io.Reader // remainder of the message being read

	writeMu sync.Mutex
	closed  bool
}

// NewWebSocketConn wraps ws and bounds incoming messages to one frame
func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	ws.SetReadLimit(maxMessageSize)
	return &WebSocketConn{ws: ws}
}

func (c *WebSocketConn) Read(b []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.message == nil {
			messageType, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				return 0, ErrNonBinaryMessage
			}
			c.message = r
		}

		n, err := c.message.Read(b)
		if err == io.EOF {
			c.message = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (c *WebSocketConn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return 0, net.ErrClosed
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close sends a normal closure to the peer, best effort, and closes the
// socket. It is idempotent.
func (c *WebSocketConn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsCloseTimeout))
	return c.ws.Close()
}

func (c *WebSocketConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *WebSocketConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *WebSocketConn) SetDeadline(t time.Time) error {
	return errors.Join(c.ws.SetReadDeadline(t), c.ws.SetWriteDeadline(t))
}

func (c *WebSocketConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *WebSocketConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
