package protocol

import "fmt"

// TableNetworkError is the reason a table network connection terminated
// abnormally. The set is closed: every abnormal close carries exactly one value.
type TableNetworkError uint8

const (
	// ErrUnsupportedProtocolVersion: no protocol version is supported by both peers.
	ErrUnsupportedProtocolVersion TableNetworkError = iota + 1
	// ErrAuthenticationFailed: the challenge response did not verify.
	ErrAuthenticationFailed
	// ErrDuplicatePlayerName: the player name is already bound on the node.
	ErrDuplicatePlayerName
	// ErrUnexpectedMessage: a message arrived that the current state does not accept.
	ErrUnexpectedMessage
	// ErrClientShutdown: the peer said goodbye.
	ErrClientShutdown
	// ErrTransportError: the underlying connection failed.
	ErrTransportError
)

var tableNetworkErrorNames = map[TableNetworkError]string{
	ErrUnsupportedProtocolVersion: "UNSUPPORTED_PROTOCOL_VERSION",
	ErrAuthenticationFailed:       "AUTHENTICATION_FAILED",
	ErrDuplicatePlayerName:        "DUPLICATE_PLAYER_NAME",
	ErrUnexpectedMessage:          "UNEXPECTED_MESSAGE",
	ErrClientShutdown:             "CLIENT_SHUTDOWN",
	ErrTransportError:             "TRANSPORT_ERROR",
}

// AllTableNetworkErrors lists every error code in wire order.
func AllTableNetworkErrors() []TableNetworkError {
	return []TableNetworkError{
		ErrUnsupportedProtocolVersion,
		ErrAuthenticationFailed,
		ErrDuplicatePlayerName,
		ErrUnexpectedMessage,
		ErrClientShutdown,
		ErrTransportError,
	}
}

// Valid reports whether e is a member of the taxonomy.
func (e TableNetworkError) Valid() bool {
	_, ok := tableNetworkErrorNames[e]
	return ok
}

func (e TableNetworkError) String() string {
	if name, ok := tableNetworkErrorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(e))
}

func (e TableNetworkError) Error() string {
	return "table network error: " + e.String()
}
