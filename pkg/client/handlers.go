package client

import (
	"github.com/gamegineer/tablenet/pkg/auth"
	"github.com/gamegineer/tablenet/pkg/protocol"
	"github.com/gamegineer/tablenet/pkg/session"
)

// handlers is the client's dispatch table. The handshake runs entirely on
// continuations, and a bound client expects nothing from the server but Error,
// so the static table is empty.
var handlers *session.Registry[*Client]

func init() {
	handlers = session.NewRegistry(session.Table[*Client]{}, handleUnexpected)
}

// handleHelloResponse checks the server accepted the offered version and waits
// for the challenge.
func handleHelloResponse(c *Client, hello, msg *protocol.Message) {
	resp := msg.Body.(*protocol.HelloResponseMessage)
	if !msg.IsReplyTo(hello) {
		handleUnexpected(c, msg)
		return
	}
	if resp.ChosenVersion != c.version {
		c.logf("Server chose protocol version %d, offered %d", resp.ChosenVersion, c.version)
		fail(c, msg, protocol.ErrUnsupportedProtocolVersion)
		return
	}

	c.machine.SetState(session.StateAwaitingAuthRequest)
	c.machine.SetNextHandler(handlers.Expect(protocol.TypeBeginAuthenticationRequest, handleBeginAuthenticationRequest))
}

// handleBeginAuthenticationRequest answers the server's challenge.
func handleBeginAuthenticationRequest(c *Client, msg *protocol.Message) {
	req := msg.Body.(*protocol.BeginAuthenticationRequestMessage)
	c.machine.SetChallenge(req.Challenge)
	c.machine.SetSalt(req.Salt)

	proof := auth.CreateResponse(c.machine.Challenge(), c.password, c.machine.Salt())
	c.machine.ClearChallengeMaterial()

	response := c.Reply(msg, &protocol.BeginAuthenticationResponseMessage{
		PlayerName: c.playerName,
		Response:   proof,
	})
	c.machine.SetState(session.StateAwaitingAuthResult)
	c.SendMessage(response, handlers.Expect(protocol.TypeEndAuthentication, func(c *Client, msg *protocol.Message) {
		handleEndAuthentication(c, response, msg)
	}))
}

// handleEndAuthentication completes the handshake.
func handleEndAuthentication(c *Client, response, msg *protocol.Message) {
	if !msg.IsReplyTo(response) {
		handleUnexpected(c, msg)
		return
	}
	if !c.machine.Bind(c.playerName) {
		return
	}
	close(c.bound)
	c.logf("Bound to %s as %s", c.address, c.playerName)
}

// fail notifies the server of code and closes the connection.
func fail(c *Client, offending *protocol.Message, code protocol.TableNetworkError) {
	c.SendMessage(c.Reply(offending, &protocol.ErrorMessage{Code: code}), nil)
	c.Close(code)
}

// handleUnexpected closes the connection. An Error from the server closes it
// with the server's code and is not answered; anything else is answered with
// UNEXPECTED_MESSAGE.
func handleUnexpected(c *Client, msg *protocol.Message) {
	if e, ok := msg.Body.(*protocol.ErrorMessage); ok {
		c.logf("Server closed the connection: %s", e.Code)
		c.Close(e.Code)
		return
	}
	if invalid, ok := msg.Body.(*protocol.InvalidMessage); ok {
		c.logf("Undecodable message type 0x%02X: %v", invalid.RawType, invalid.Err)
	} else {
		c.logf("Unexpected %s in state %s", msg.Type(), c.State())
	}
	fail(c, msg, protocol.ErrUnexpectedMessage)
}
