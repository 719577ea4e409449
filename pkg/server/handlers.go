package server

import (
	"log"

	"github.com/gamegineer/tablenet/pkg/auth"
	"github.com/gamegineer/tablenet/pkg/protocol"
	"github.com/gamegineer/tablenet/pkg/session"
)

// handlers is the server's dispatch table. It is built in init because the
// authentication handlers refer back to it.
var handlers *session.Registry[*Controller]

func init() {
	handlers = session.NewRegistry(session.Table[*Controller]{
		session.StateInit: {
			protocol.TypeHello: handleHello,
		},
		session.StateBound: {
			protocol.TypeGoodbye:              handleGoodbye,
			protocol.TypeRequestControl:       handleRequestControl,
			protocol.TypeCancelControlRequest: handleCancelControlRequest,
			protocol.TypeGiveControl:          handleGiveControl,
		},
	}, handleUnexpected)
}

// fail notifies the peer of code, correlated to the offending message, and
// closes the connection.
func fail(c *Controller, offending *protocol.Message, code protocol.TableNetworkError) {
	c.SendMessage(c.Reply(offending, &protocol.ErrorMessage{Code: code}), nil)
	c.Close(code)
}

// handleHello negotiates the protocol version and starts authentication.
func handleHello(c *Controller, msg *protocol.Message) {
	hello := msg.Body.(*protocol.HelloMessage)

	version, ok := protocol.ChooseVersion(c.LocalNode().SupportedVersions(), hello.SupportedVersion)
	if !ok {
		debugLog.Printf("Session %d: unsupported protocol version %d", c.ID, hello.SupportedVersion)
		fail(c, msg, protocol.ErrUnsupportedProtocolVersion)
		return
	}

	if err := c.SendMessage(c.Reply(msg, &protocol.HelloResponseMessage{ChosenVersion: version}), nil); err != nil {
		return
	}

	challenge := auth.CreateChallenge()
	salt := auth.CreateSalt()
	c.SetChallenge(challenge)
	c.SetSalt(salt)
	c.machine.SetState(session.StateAwaitingAuthResponse)

	request := c.NewMessage(&protocol.BeginAuthenticationRequestMessage{Challenge: challenge, Salt: salt})
	c.SendMessage(request, handlers.Expect(protocol.TypeBeginAuthenticationResponse, handleBeginAuthenticationResponse))
}

// handleBeginAuthenticationResponse verifies the player's proof and binds the
// player name. It runs as the continuation installed by handleHello.
func handleBeginAuthenticationResponse(c *Controller, msg *protocol.Message) {
	resp := msg.Body.(*protocol.BeginAuthenticationResponseMessage)
	node := c.LocalNode()

	challenge, salt := c.Challenge(), c.Salt()
	c.machine.ClearChallengeMaterial()

	if challenge == nil || !node.VerifyResponse(challenge, salt, resp.Response) {
		fail(c, msg, protocol.ErrAuthenticationFailed)
		return
	}

	if !node.ValidPlayerName(resp.PlayerName) {
		debugLog.Printf("Session %d: rejected player name %q", c.ID, resp.PlayerName)
		handlers.Unexpected(c, msg)
		return
	}

	if node.IsPlayerConnected(resp.PlayerName) {
		fail(c, msg, protocol.ErrDuplicatePlayerName)
		return
	}

	if err := c.Bind(resp.PlayerName); err != nil {
		// Lost a race with another connection binding the same name
		debugLog.Printf("Session %d: bind %q failed: %v", c.ID, resp.PlayerName, err)
		fail(c, msg, protocol.ErrDuplicatePlayerName)
		return
	}

	c.SendMessage(c.Reply(msg, &protocol.EndAuthenticationMessage{}), nil)
}

func handleGoodbye(c *Controller, msg *protocol.Message) {
	c.Close(protocol.ErrClientShutdown)
}

// The control handlers never reply. A refusal only affects the node's token.

func handleRequestControl(c *Controller, msg *protocol.Message) {
	if err := c.LocalNode().RequestControl(c.PlayerName()); err != nil {
		debugLog.Printf("Session %d: control request by %s refused: %v", c.ID, c.PlayerName(), err)
	}
}

func handleCancelControlRequest(c *Controller, msg *protocol.Message) {
	if err := c.LocalNode().CancelControlRequest(c.PlayerName()); err != nil {
		debugLog.Printf("Session %d: cancel by %s refused: %v", c.ID, c.PlayerName(), err)
	}
}

func handleGiveControl(c *Controller, msg *protocol.Message) {
	give := msg.Body.(*protocol.GiveControlMessage)
	if err := c.LocalNode().GiveControl(c.PlayerName(), give.TargetPlayerName); err != nil {
		debugLog.Printf("Session %d: %s giving control to %q refused: %v", c.ID, c.PlayerName(), give.TargetPlayerName, err)
	}
}

// failMalformed reports a byte stream that no longer parses as frames. There is
// no message to correlate the error with, so it goes out unsolicited.
func failMalformed(c *Controller, err error) {
	log.Printf("Session %d sent a malformed frame: %v", c.ID, err)
	c.SendMessage(c.NewMessage(&protocol.ErrorMessage{Code: protocol.ErrUnexpectedMessage}), nil)
	c.Close(protocol.ErrUnexpectedMessage)
}

// handleUnexpected is the fail-closed catch-all for messages that are unknown,
// malformed or out of sequence. An Error from the client is never answered: the
// connection closes with the client's code.
func handleUnexpected(c *Controller, msg *protocol.Message) {
	if e, ok := msg.Body.(*protocol.ErrorMessage); ok {
		debugLog.Printf("Session %d: client reported %s", c.ID, e.Code)
		c.Close(e.Code)
		return
	}
	if invalid, ok := msg.Body.(*protocol.InvalidMessage); ok {
		debugLog.Printf("Session %d: undecodable message type 0x%02X: %v", c.ID, invalid.RawType, invalid.Err)
	} else {
		debugLog.Printf("Session %d: unexpected %s in state %s", c.ID, msg.Type(), c.State())
	}
	fail(c, msg, protocol.ErrUnexpectedMessage)
}
