// Package transport carries protocol messages over a byte stream. Sending only
// enqueues; a writer goroutine owns the socket's write side so a slow peer never
// blocks message handling.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gamegineer/tablenet/pkg/protocol"
)

const (
	// DefaultQueueSize is the number of frames that may wait for the writer
	DefaultQueueSize = 64
	// DefaultWriteTimeout bounds a single frame write
	DefaultWriteTimeout = 10 * time.Second
)

var (
	ErrClosed        = errors.New("transport closed")
	ErrSendQueueFull = errors.New("send queue full")
	// ErrMalformedFrame wraps a read that reached the peer but could not be
	// parsed as a frame. The stream cannot be resynchronised afterwards.
	ErrMalformedFrame = errors.New("malformed frame")
	errNilMessageSink = errors.New("nil receive callback")
)

// isMalformed reports whether a read error came from the peer's bytes rather
// than from the connection itself.
func isMalformed(err error) bool {
	return errors.Is(err, protocol.ErrInvalidVersion) ||
		errors.Is(err, protocol.ErrInvalidFrameLength) ||
		errors.Is(err, protocol.ErrFrameTooLarge) ||
		errors.Is(err, ErrNonBinaryMessage)
}

// Conn is a message-oriented connection over a net.Conn.
type Conn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writeTimeout time.Duration

	mu       sync.Mutex
	closed   bool
	outgoing chan *protocol.Frame
	done     chan struct{}

	// Traffic counters (bytes on the wire)
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

// NewConn wraps conn and starts its writer.
func NewConn(conn net.Conn) *Conn {
	c := &Conn{
		conn:         conn,
		writeTimeout: DefaultWriteTimeout,
		outgoing:     make(chan *protocol.Frame, DefaultQueueSize),
		done:         make(chan struct{}),
	}
	c.reader = bufio.NewReader(&countingReader{r: conn, counter: &c.bytesReceived})

	go c.writeLoop()
	return c
}

// Send queues msg for delivery. It never blocks.
func (c *Conn) Send(msg *protocol.Message) error {
	frame, err := msg.ToFrame()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	select {
	case c.outgoing <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close stops accepting messages. Frames already queued are still written
// before the underlying connection is closed. Close is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.outgoing)
	return nil
}

// Done is closed once the writer has flushed and the socket is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// ReceiveLoop reads messages and hands each to onReceive, one at a time and in
// arrival order, until the connection fails. A frame that cannot be decoded as
// a message is still delivered, carrying a protocol.InvalidMessage body. A
// frame header that cannot be parsed ends the loop with an error wrapping
// ErrMalformedFrame.
func (c *Conn) ReceiveLoop(onReceive func(*protocol.Message)) error {
	if onReceive == nil {
		return errNilMessageSink
	}

	for {
		frame, err := protocol.DecodeFrame(c.reader)
		if err != nil {
			if isMalformed(err) {
				return fmt.Errorf("%w: %w", ErrMalformedFrame, err)
			}
			return err
		}

		msg, _ := protocol.FromFrame(frame)
		onReceive(msg)
	}
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// BytesSent returns the number of bytes written to the wire
func (c *Conn) BytesSent() uint64 {
	return c.bytesSent.Load()
}

// BytesReceived returns the number of bytes read from the wire
func (c *Conn) BytesReceived() uint64 {
	return c.bytesReceived.Load()
}

func (c *Conn) writeLoop() {
	defer close(c.done)
	defer c.conn.Close()

	w := &countingWriter{w: c.conn, counter: &c.bytesSent}
	for frame := range c.outgoing {
		if c.writeTimeout > 0 {
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		}
		if err := protocol.EncodeFrame(w, frame); err != nil {
			// The reader will observe the failure once the socket closes
			c.abandon()
			return
		}
	}
}

// abandon marks the connection closed after a write failure and drops any
// frames still queued.
func (c *Conn) abandon() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.outgoing)
	}
	c.mu.Unlock()

	for range c.outgoing {
	}
}

type countingReader struct {
	r       net.Conn
	counter *atomic.Uint64
}

func (cr *countingReader) Read(p []byte) (n int, err error) {
	n, err = cr.r.Read(p)
	if n > 0 && cr.counter != nil {
		cr.counter.Add(uint64(n))
	}
	return n, err
}

type countingWriter struct {
	w       net.Conn
	counter *atomic.Uint64
}

func (cw *countingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.w.Write(p)
	if n > 0 {
		cw.counter.Add(uint64(n))
	}
	return n, err
}
