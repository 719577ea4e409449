package server

import (
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamegineer/tablenet/pkg/auth"
	"github.com/gamegineer/tablenet/pkg/protocol"
	"github.com/gamegineer/tablenet/pkg/session"
)

const testPassword = "correct horse"

// initTestLoggers initializes package-level loggers for testing
func initTestLoggers(t *testing.T) {
	t.Helper()
	errorLog = log.New(io.Discard, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)

	out := log.Writer()
	log.SetOutput(io.Discard)
	t.Cleanup(func() { log.SetOutput(out) })
}

// fakeTransport records what a controller sends
type fakeTransport struct {
	mu      sync.Mutex
	sent    []*protocol.Message
	closes  int
	sendErr error
}

func (f *fakeTransport) Send(msg *protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) Sent() []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.Message(nil), f.sent...)
}

func (f *fakeTransport) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// countingHooks counts lifecycle callbacks
type countingHooks struct {
	nopHooks
	mu     sync.Mutex
	bound  int
	closed []protocol.TableNetworkError
}

func (h *countingHooks) playerBound(*Controller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bound++
}

func (h *countingHooks) connectionClosed(_ *Controller, code protocol.TableNetworkError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, code)
}

// testNode creates a node supporting version 1 with an active session hosted by host
func testNode(t *testing.T, host string) *Node {
	t.Helper()
	initTestLoggers(t)

	node := NewNode(NodeConfig{
		Passwords:         StaticPassword(testPassword),
		SupportedVersions: []protocol.ProtocolVersion{1},
	})
	require.NoError(t, node.StartSession(host))
	return node
}

// testPeer plays the client side against one controller
type testPeer struct {
	t         *testing.T
	c         *Controller
	transport *fakeTransport
	lastID    protocol.MessageID
}

var nextControllerID uint64
var nextControllerMu sync.Mutex

func newTestPeer(t *testing.T, node *Node) *testPeer {
	return newTestPeerWithHooks(t, node, nil)
}

func newTestPeerWithHooks(t *testing.T, node *Node, hooks controllerHooks) *testPeer {
	nextControllerMu.Lock()
	nextControllerID++
	id := nextControllerID
	nextControllerMu.Unlock()

	ft := &fakeTransport{}
	return &testPeer{
		t:         t,
		c:         newController(id, node, ft, "pipe", "pipe", hooks),
		transport: ft,
	}
}

// send dispatches a client message and returns it
func (p *testPeer) send(body protocol.Body) *protocol.Message {
	p.lastID++
	msg := protocol.NewMessage(p.lastID, body)
	p.c.Dispatch(msg)
	return msg
}

// reply dispatches a client message correlated to request
func (p *testPeer) reply(request *protocol.Message, body protocol.Body) *protocol.Message {
	p.lastID++
	msg := protocol.NewReply(p.lastID, request, body)
	p.c.Dispatch(msg)
	return msg
}

// hello performs the version exchange and returns the authentication request
func (p *testPeer) hello() *protocol.Message {
	p.t.Helper()
	p.send(&protocol.HelloMessage{SupportedVersion: 1})

	sent := p.transport.Sent()
	require.Len(p.t, sent, 2)
	require.Equal(p.t, protocol.TypeBeginAuthenticationRequest, sent[1].Type())
	return sent[1]
}

// authenticate answers the authentication request with password
func (p *testPeer) authenticate(request *protocol.Message, name, password string) *protocol.Message {
	body := request.Body.(*protocol.BeginAuthenticationRequestMessage)
	return p.reply(request, &protocol.BeginAuthenticationResponseMessage{
		PlayerName: name,
		Response:   auth.CreateResponse(body.Challenge, password, body.Salt),
	})
}

// join runs the whole handshake and requires the player to be bound
func (p *testPeer) join(name string) {
	p.t.Helper()
	p.authenticate(p.hello(), name, testPassword)
	require.Equal(p.t, session.StateBound, p.c.State())
}

// last returns the most recent message sent to the peer
func (p *testPeer) last() *protocol.Message {
	sent := p.transport.Sent()
	require.NotEmpty(p.t, sent)
	return sent[len(sent)-1]
}

func requireError(t *testing.T, msg *protocol.Message, code protocol.TableNetworkError, correlatesTo *protocol.Message) {
	t.Helper()
	require.Equal(t, protocol.TypeError, msg.Type())
	assert.Equal(t, code, msg.Body.(*protocol.ErrorMessage).Code)
	assert.Equal(t, correlatesTo.ID, msg.CorrelationID)
}

func TestHelloHappyPath(t *testing.T) {
	node := testNode(t, "host")
	p := newTestPeer(t, node)

	hello := p.send(&protocol.HelloMessage{SupportedVersion: 1})

	sent := p.transport.Sent()
	require.Len(t, sent, 2)

	assert.Equal(t, protocol.TypeHelloResponse, sent[0].Type())
	assert.Equal(t, protocol.ProtocolVersion(1), sent[0].Body.(*protocol.HelloResponseMessage).ChosenVersion)
	assert.Equal(t, hello.ID, sent[0].CorrelationID)

	assert.Equal(t, protocol.TypeBeginAuthenticationRequest, sent[1].Type())
	assert.Equal(t, protocol.NoCorrelation, sent[1].CorrelationID)
	request := sent[1].Body.(*protocol.BeginAuthenticationRequestMessage)
	assert.Len(t, request.Challenge, auth.ChallengeLength)
	assert.Len(t, request.Salt, auth.SaltLength)

	assert.NotEqual(t, sent[0].ID, sent[1].ID)
	assert.Equal(t, session.StateAwaitingAuthResponse, p.c.State())
	assert.Equal(t, request.Challenge, p.c.Challenge())
	assert.Equal(t, request.Salt, p.c.Salt())
}

func TestHelloUnsupportedVersion(t *testing.T) {
	node := testNode(t, "host")
	p := newTestPeer(t, node)

	hello := p.send(&protocol.HelloMessage{SupportedVersion: 0})

	sent := p.transport.Sent()
	require.Len(t, sent, 1)
	requireError(t, sent[0], protocol.ErrUnsupportedProtocolVersion, hello)

	assert.True(t, p.c.IsClosed())
	assert.Equal(t, protocol.ErrUnsupportedProtocolVersion, p.c.CloseCode())
	assert.Equal(t, 1, p.transport.Closes())
}

func TestAuthenticationBindsPlayer(t *testing.T) {
	node := testNode(t, "host")
	hooks := &countingHooks{}
	p := newTestPeerWithHooks(t, node, hooks)

	request := p.hello()
	response := p.authenticate(request, "alice", testPassword)

	end := p.last()
	assert.Equal(t, protocol.TypeEndAuthentication, end.Type())
	assert.Equal(t, response.ID, end.CorrelationID)

	assert.Equal(t, session.StateBound, p.c.State())
	assert.Equal(t, "alice", p.c.PlayerName())
	assert.True(t, node.IsPlayerConnected("alice"))
	assert.Nil(t, p.c.Challenge())
	assert.Nil(t, p.c.Salt())
	assert.Equal(t, 1, hooks.bound)
}

func TestAuthenticationDuplicatePlayerName(t *testing.T) {
	node := testNode(t, "host")
	first := newTestPeer(t, node)
	first.join("alice")

	second := newTestPeer(t, node)
	response := second.authenticate(second.hello(), "alice", testPassword)

	requireError(t, second.last(), protocol.ErrDuplicatePlayerName, response)
	assert.Equal(t, protocol.ErrDuplicatePlayerName, second.c.CloseCode())

	// The original connection is untouched
	assert.False(t, first.c.IsClosed())
	assert.Equal(t, session.StateBound, first.c.State())
	assert.True(t, node.IsPlayerConnected("alice"))
	assert.Equal(t, []string{"alice"}, node.Players())
}

func TestAuthenticationWrongPassword(t *testing.T) {
	node := testNode(t, "host")
	p := newTestPeer(t, node)

	response := p.authenticate(p.hello(), "alice", "wrong password")

	requireError(t, p.last(), protocol.ErrAuthenticationFailed, response)
	assert.Equal(t, protocol.ErrAuthenticationFailed, p.c.CloseCode())
	assert.False(t, node.IsPlayerConnected("alice"))
	assert.Nil(t, p.c.Challenge())
}

func TestAuthenticationRejectsReplayedResponse(t *testing.T) {
	node := testNode(t, "host")

	first := newTestPeer(t, node)
	request := first.hello()
	body := request.Body.(*protocol.BeginAuthenticationRequestMessage)
	proof := auth.CreateResponse(body.Challenge, testPassword, body.Salt)

	// A second connection gets fresh challenge material, so the captured proof is useless
	second := newTestPeer(t, node)
	secondRequest := second.hello()
	response := second.reply(secondRequest, &protocol.BeginAuthenticationResponseMessage{PlayerName: "mallory", Response: proof})

	requireError(t, second.last(), protocol.ErrAuthenticationFailed, response)
}

func TestAuthenticationInvalidPlayerName(t *testing.T) {
	tests := []struct {
		name   string
		player string
	}{
		{"empty", ""},
		{"too long", string(make([]byte, DefaultMaxPlayerNameLength+1))},
		{"control character", "bad\nname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := testNode(t, "host")
			p := newTestPeer(t, node)

			response := p.authenticate(p.hello(), tt.player, testPassword)

			requireError(t, p.last(), protocol.ErrUnexpectedMessage, response)
			assert.Equal(t, protocol.ErrUnexpectedMessage, p.c.CloseCode())
			assert.Empty(t, node.Players())
		})
	}
}

func TestAuthenticationChecksProofBeforeName(t *testing.T) {
	node := testNode(t, "host")
	p := newTestPeer(t, node)

	response := p.authenticate(p.hello(), "bad\nname", "wrong password")

	requireError(t, p.last(), protocol.ErrAuthenticationFailed, response)
	assert.Equal(t, protocol.ErrAuthenticationFailed, p.c.CloseCode())
}

func TestClientErrorClosesWithItsCode(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *testPeer)
		code  protocol.TableNetworkError
	}{
		{"before hello", func(p *testPeer) {}, protocol.ErrTransportError},
		{"during authentication", func(p *testPeer) { p.hello() }, protocol.ErrUnsupportedProtocolVersion},
		{"after binding", func(p *testPeer) { p.join("alice") }, protocol.ErrUnexpectedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := testNode(t, "host")
			hooks := &countingHooks{}
			p := newTestPeerWithHooks(t, node, hooks)
			tt.setup(p)
			sent := len(p.transport.Sent())

			p.send(&protocol.ErrorMessage{Code: tt.code})

			// The client's error is never answered
			assert.Len(t, p.transport.Sent(), sent)
			assert.True(t, p.c.IsClosed())
			assert.Equal(t, tt.code, p.c.CloseCode())
			assert.Equal(t, []protocol.TableNetworkError{tt.code}, hooks.closed)
			assert.Empty(t, node.Players())
		})
	}
}

func TestUnexpectedMessages(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *testPeer)
		body  protocol.Body
	}{
		{"request control before hello", func(p *testPeer) {}, &protocol.RequestControlMessage{}},
		{"goodbye before hello", func(p *testPeer) {}, &protocol.GoodbyeMessage{}},
		{"server message from client", func(p *testPeer) {}, &protocol.EndAuthenticationMessage{}},
		{"request control during authentication", func(p *testPeer) { p.hello() }, &protocol.RequestControlMessage{}},
		{"second hello during authentication", func(p *testPeer) { p.hello() }, &protocol.HelloMessage{SupportedVersion: 1}},
		{"hello after binding", func(p *testPeer) { p.join("alice") }, &protocol.HelloMessage{SupportedVersion: 1}},
		{"authentication response after binding", func(p *testPeer) { p.join("alice") }, &protocol.BeginAuthenticationResponseMessage{PlayerName: "alice"}},
		{"undecodable message", func(p *testPeer) {}, &protocol.InvalidMessage{RawType: 0x7E, Err: protocol.ErrUnknownMessageType}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := testNode(t, "host")
			p := newTestPeer(t, node)
			tt.setup(p)

			offending := p.send(tt.body)

			requireError(t, p.last(), protocol.ErrUnexpectedMessage, offending)
			assert.True(t, p.c.IsClosed())
			assert.Equal(t, protocol.ErrUnexpectedMessage, p.c.CloseCode())
			assert.Empty(t, node.Players())
		})
	}
}

func TestDispatchAfterCloseIsNoop(t *testing.T) {
	node := testNode(t, "host")
	p := newTestPeer(t, node)

	p.send(&protocol.HelloMessage{SupportedVersion: 0})
	sentBefore := len(p.transport.Sent())

	p.send(&protocol.HelloMessage{SupportedVersion: 1})
	p.send(&protocol.RequestControlMessage{})

	assert.Len(t, p.transport.Sent(), sentBefore)
	assert.Equal(t, protocol.ErrUnsupportedProtocolVersion, p.c.CloseCode())
}

func TestGoodbyeClosesWithoutError(t *testing.T) {
	node := testNode(t, "host")
	p := newTestPeer(t, node)
	p.join("alice")
	sentBefore := len(p.transport.Sent())

	p.send(&protocol.GoodbyeMessage{})

	assert.Len(t, p.transport.Sent(), sentBefore)
	assert.Equal(t, protocol.ErrClientShutdown, p.c.CloseCode())
	assert.False(t, node.IsPlayerConnected("alice"))
	assert.Equal(t, 1, p.transport.Closes())
}

func TestCloseIsIdempotent(t *testing.T) {
	node := testNode(t, "host")
	hooks := &countingHooks{}
	p := newTestPeerWithHooks(t, node, hooks)
	p.join("alice")

	p.c.Close(protocol.ErrTransportError)
	p.c.Close(protocol.ErrUnexpectedMessage)

	assert.Equal(t, protocol.ErrTransportError, p.c.CloseCode())
	assert.Equal(t, 1, p.transport.Closes())
	assert.Equal(t, []protocol.TableNetworkError{protocol.ErrTransportError}, hooks.closed)
	assert.ErrorIs(t, p.c.SendMessage(p.c.NewMessage(&protocol.GoodbyeMessage{}), nil), errConnectionClosed)
}

func TestSendFailureClosesWithTransportError(t *testing.T) {
	node := testNode(t, "host")
	p := newTestPeer(t, node)
	p.transport.sendErr = errors.New("queue full")

	p.send(&protocol.HelloMessage{SupportedVersion: 1})

	assert.True(t, p.c.IsClosed())
	assert.Equal(t, protocol.ErrTransportError, p.c.CloseCode())
	assert.Nil(t, p.c.Challenge())
}

func TestCloseReleasesNameForReuse(t *testing.T) {
	node := testNode(t, "host")
	first := newTestPeer(t, node)
	first.join("alice")
	first.send(&protocol.GoodbyeMessage{})

	second := newTestPeer(t, node)
	second.join("alice")
	assert.True(t, node.IsPlayerConnected("alice"))
}

func TestControlTransferThroughHandlers(t *testing.T) {
	node := testNode(t, "alice")
	alice := newTestPeer(t, node)
	alice.join("alice")
	bob := newTestPeer(t, node)
	bob.join("bob")
	sentToAlice, sentToBob := len(alice.transport.Sent()), len(bob.transport.Sent())

	// Nobody holds control: bob asks and the host hands it over
	bob.send(&protocol.RequestControlMessage{})
	assert.Equal(t, "bob", node.PendingRequester())

	// Only the requester can cancel
	alice.send(&protocol.CancelControlRequestMessage{})
	assert.Equal(t, "bob", node.PendingRequester())

	alice.send(&protocol.GiveControlMessage{TargetPlayerName: "bob"})
	assert.Equal(t, "bob", node.ControlHolder())
	assert.Empty(t, node.PendingRequester())

	// While bob holds control, requests are refused
	alice.send(&protocol.RequestControlMessage{})
	assert.Empty(t, node.PendingRequester())

	// A non-holder's give is ignored
	alice.send(&protocol.GiveControlMessage{TargetPlayerName: "alice"})
	assert.Equal(t, "bob", node.ControlHolder())

	// Giving to an unknown player is ignored
	bob.send(&protocol.GiveControlMessage{TargetPlayerName: "carol"})
	assert.Equal(t, "bob", node.ControlHolder())

	bob.send(&protocol.GiveControlMessage{TargetPlayerName: "alice"})
	assert.Equal(t, "alice", node.ControlHolder())

	// Control messages never produce replies and never close the connection
	assert.Len(t, alice.transport.Sent(), sentToAlice)
	assert.Len(t, bob.transport.Sent(), sentToBob)
	assert.False(t, alice.c.IsClosed())
	assert.False(t, bob.c.IsClosed())
}

func TestSecondRequestDoesNotOverwritePending(t *testing.T) {
	node := testNode(t, "host")
	alice := newTestPeer(t, node)
	alice.join("alice")
	bob := newTestPeer(t, node)
	bob.join("bob")

	alice.send(&protocol.RequestControlMessage{})
	bob.send(&protocol.RequestControlMessage{})
	assert.Equal(t, "alice", node.PendingRequester())

	alice.send(&protocol.CancelControlRequestMessage{})
	assert.Empty(t, node.PendingRequester())

	bob.send(&protocol.RequestControlMessage{})
	assert.Equal(t, "bob", node.PendingRequester())
}

func TestDisconnectReleasesControl(t *testing.T) {
	node := testNode(t, "alice")
	alice := newTestPeer(t, node)
	alice.join("alice")
	bob := newTestPeer(t, node)
	bob.join("bob")

	alice.send(&protocol.GiveControlMessage{TargetPlayerName: "bob"})
	require.Equal(t, "bob", node.ControlHolder())

	bob.c.Close(protocol.ErrTransportError)
	assert.Empty(t, node.ControlHolder())

	// The released token can be requested again; leaving drops the request
	alice.send(&protocol.RequestControlMessage{})
	require.Equal(t, "alice", node.PendingRequester())
	alice.send(&protocol.GoodbyeMessage{})
	assert.Empty(t, node.PendingRequester())
}

func TestConcurrentHandshakesBindNameOnce(t *testing.T) {
	node := testNode(t, "host")

	const peers = 8
	requests := make([]*protocol.Message, peers)
	all := make([]*testPeer, peers)
	for i := range all {
		all[i] = newTestPeer(t, node)
		requests[i] = all[i].hello()
	}

	var wg sync.WaitGroup
	for i, p := range all {
		wg.Add(1)
		go func(p *testPeer, request *protocol.Message) {
			defer wg.Done()
			p.authenticate(request, "alice", testPassword)
		}(p, requests[i])
	}
	wg.Wait()

	bound := 0
	for _, p := range all {
		if p.c.State() == session.StateBound {
			bound++
			continue
		}
		assert.Equal(t, protocol.ErrDuplicatePlayerName, p.c.CloseCode())
	}
	assert.Equal(t, 1, bound)
	assert.Equal(t, []string{"alice"}, node.Players())
}
