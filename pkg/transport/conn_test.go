package transport

import (
	"encoding/binary"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamegineer/tablenet/pkg/protocol"
)

// collect runs a receive loop and forwards messages to a channel
func collect(c *Conn) (<-chan *protocol.Message, <-chan error) {
	msgs := make(chan *protocol.Message, 16)
	errs := make(chan error, 1)
	go func() {
		errs <- c.ReceiveLoop(func(m *protocol.Message) { msgs <- m })
	}()
	return msgs, errs
}

func receive(t *testing.T, msgs <-chan *protocol.Message) *protocol.Message {
	t.Helper()
	select {
	case m := <-msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestConnSendReceive(t *testing.T) {
	a, b := net.Pipe()
	left, right := NewConn(a), NewConn(b)
	defer left.Close()
	defer right.Close()

	msgs, _ := collect(right)

	require.NoError(t, left.Send(protocol.NewMessage(1, &protocol.HelloMessage{SupportedVersion: 1})))
	require.NoError(t, left.Send(protocol.NewMessage(2, &protocol.GiveControlMessage{TargetPlayerName: "bob"})))

	first := receive(t, msgs)
	assert.Equal(t, protocol.TypeHello, first.Type())
	assert.Equal(t, protocol.MessageID(1), first.ID)

	second := receive(t, msgs)
	assert.Equal(t, protocol.TypeGiveControl, second.Type())
	assert.Equal(t, "bob", second.Body.(*protocol.GiveControlMessage).TargetPlayerName)
}

func TestConnCloseFlushesQueue(t *testing.T) {
	a, b := net.Pipe()
	left, right := NewConn(a), NewConn(b)
	defer right.Close()

	msgs, errs := collect(right)

	require.NoError(t, left.Send(protocol.NewMessage(1, &protocol.ErrorMessage{Code: protocol.ErrAuthenticationFailed})))
	require.NoError(t, left.Close())
	assert.NoError(t, left.Close())

	m := receive(t, msgs)
	assert.Equal(t, protocol.ErrAuthenticationFailed, m.Body.(*protocol.ErrorMessage).Code)

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not stop after peer closed")
	}

	<-left.Done()
	assert.ErrorIs(t, left.Send(protocol.NewMessage(2, &protocol.GoodbyeMessage{})), ErrClosed)
	assert.Greater(t, left.BytesSent(), uint64(0))
	assert.Greater(t, right.BytesReceived(), uint64(0))
}

func TestConnDeliversUndecodableFrames(t *testing.T) {
	a, b := net.Pipe()
	right := NewConn(b)
	defer right.Close()
	defer a.Close()

	msgs, _ := collect(right)

	go protocol.EncodeFrame(a, &protocol.Frame{Version: protocol.FrameVersion, Type: 0x7E, ID: 9})

	m := receive(t, msgs)
	assert.Equal(t, protocol.TypeInvalid, m.Type())
	assert.Equal(t, protocol.MessageID(9), m.ID)
}

func TestConnRejectsUnencodableMessage(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := NewConn(a)
	defer c.Close()

	assert.Error(t, c.Send(&protocol.Message{ID: 1}))
}

func TestWebSocketConn(t *testing.T) {
	serverSide := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := UpgradeWebSocket(w, r)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverSide <- NewConn(ws)
	}))
	defer srv.Close()

	raw, err := DialWebSocket(strings.TrimPrefix(srv.URL, "http://"), false, 2*time.Second)
	require.NoError(t, err)
	client := NewConn(raw)
	defer client.Close()

	server := <-serverSide
	defer server.Close()
	msgs, _ := collect(server)

	require.NoError(t, client.Send(protocol.NewMessage(1, &protocol.HelloMessage{SupportedVersion: 1})))

	m := receive(t, msgs)
	assert.Equal(t, protocol.TypeHello, m.Type())
}

// waitErr returns the error that ended a receive loop
func waitErr(t *testing.T, errs <-chan error) error {
	t.Helper()
	select {
	case err := <-errs:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not stop")
		return nil
	}
}

func TestConnReportsMalformedHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		cause  error
	}{
		{"bad version", []byte{0, 0, 0, 19, 9}, protocol.ErrInvalidVersion},
		{"short length", []byte{0, 0, 0, 3}, protocol.ErrInvalidFrameLength},
		{"oversized", binary.BigEndian.AppendUint32(nil, protocol.MaxFrameSize+1), protocol.ErrFrameTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := net.Pipe()
			right := NewConn(b)
			defer right.Close()
			defer a.Close()

			msgs, errs := collect(right)
			go a.Write(tt.header)

			err := waitErr(t, errs)
			assert.ErrorIs(t, err, ErrMalformedFrame)
			assert.ErrorIs(t, err, tt.cause)
			assert.Empty(t, msgs)
		})
	}
}

func TestConnClosedPeerIsNotMalformed(t *testing.T) {
	a, b := net.Pipe()
	right := NewConn(b)
	defer right.Close()

	_, errs := collect(right)
	a.Close()

	err := waitErr(t, errs)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedFrame)
}

func TestWebSocketConnRejectsTextMessages(t *testing.T) {
	serverSide := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := UpgradeWebSocket(w, r)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverSide <- NewConn(ws)
	}))
	defer srv.Close()

	raw, _, err := websocket.DefaultDialer.Dial("ws://"+strings.TrimPrefix(srv.URL, "http://")+"/", nil)
	require.NoError(t, err)
	defer raw.Close()

	server := <-serverSide
	defer server.Close()
	msgs, errs := collect(server)

	require.NoError(t, raw.WriteMessage(websocket.TextMessage, []byte("hello")))

	err = waitErr(t, errs)
	assert.ErrorIs(t, err, ErrMalformedFrame)
	assert.ErrorIs(t, err, ErrNonBinaryMessage)
	assert.Empty(t, msgs)
}

func TestWebSocketConnStreamsLargeFrames(t *testing.T) {
	serverSide := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := UpgradeWebSocket(w, r)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverSide <- NewConn(ws)
	}))
	defer srv.Close()

	raw, err := DialWebSocket(strings.TrimPrefix(srv.URL, "http://"), false, 2*time.Second)
	require.NoError(t, err)
	client := NewConn(raw)
	defer client.Close()

	server := <-serverSide
	defer server.Close()
	msgs, _ := collect(server)

	// Larger than a single WebSocket buffer
	name := strings.Repeat("x", 65535)
	require.NoError(t, client.Send(protocol.NewMessage(1, &protocol.GiveControlMessage{TargetPlayerName: name})))

	m := receive(t, msgs)
	assert.Equal(t, name, m.Body.(*protocol.GiveControlMessage).TargetPlayerName)
}
