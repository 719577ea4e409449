// Package session holds the role-agnostic core of a table network connection:
// the protocol state, the challenge material of an authentication attempt, the
// bound player name and the one-shot continuation handler used to pair a
// request with its reply.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/gamegineer/tablenet/pkg/protocol"
)

// State is the protocol state of one connection.
type State uint8

const (
	// StateInit: nothing exchanged yet
	StateInit State = iota
	// StateAwaitingHelloResponse: client sent Hello
	StateAwaitingHelloResponse
	// StateAwaitingAuthRequest: client accepted the version and waits for the challenge
	StateAwaitingAuthRequest
	// StateAwaitingAuthResponse: server issued the challenge
	StateAwaitingAuthResponse
	// StateAwaitingAuthResult: client answered the challenge
	StateAwaitingAuthResult
	// StateBound: the connection is bound to a player name
	StateBound
	// StateClosed: terminal
	StateClosed
)

var stateNames = [...]string{
	StateInit:                  "INIT",
	StateAwaitingHelloResponse: "AWAITING_HELLO_RESPONSE",
	StateAwaitingAuthRequest:   "AWAITING_AUTH_REQUEST",
	StateAwaitingAuthResponse:  "AWAITING_AUTH_RESPONSE",
	StateAwaitingAuthResult:    "AWAITING_AUTH_RESULT",
	StateBound:                 "BOUND",
	StateClosed:                "CLOSED",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Machine is the per-connection protocol state. C is the controller type that
// handlers receive.
//
// Dispatch for one connection is serialised by the transport, but Close may be
// called from other goroutines, so every field is guarded by mu.
type Machine[C any] struct {
	mu         sync.Mutex
	state      State
	challenge  []byte
	salt       []byte
	playerName string
	next       Handler[C]
	closeCode  protocol.TableNetworkError

	lastID atomic.Uint64
}

// NewMachine returns a machine in StateInit.
func NewMachine[C any]() *Machine[C] {
	return &Machine[C]{state: StateInit}
}

// State returns the current state.
func (m *Machine[C]) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetState moves to s. Moving out of StateClosed is ignored.
func (m *Machine[C]) SetState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return
	}
	m.state = s
}

// Challenge returns the stored challenge, nil if none.
func (m *Machine[C]) Challenge() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.challenge
}

// SetChallenge stores the challenge of the current authentication attempt.
func (m *Machine[C]) SetChallenge(challenge []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenge = challenge
}

// Salt returns the stored salt, nil if none.
func (m *Machine[C]) Salt() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.salt
}

// SetSalt stores the salt of the current authentication attempt.
func (m *Machine[C]) SetSalt(salt []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.salt = salt
}

// ClearChallengeMaterial forgets challenge and salt so they cannot be reused.
func (m *Machine[C]) ClearChallengeMaterial() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenge = nil
	m.salt = nil
}

// PlayerName returns the bound player name, or "" while unbound.
func (m *Machine[C]) PlayerName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playerName
}

// Bind records the player name and moves to StateBound. It fails if the
// machine is already bound or closed.
func (m *Machine[C]) Bind(playerName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playerName != "" || m.state == StateClosed {
		return false
	}
	m.playerName = playerName
	m.state = StateBound
	return true
}

// SetNextHandler installs a one-shot handler for the next message. nil reverts
// to the default table.
func (m *Machine[C]) SetNextHandler(h Handler[C]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return
	}
	m.next = h
}

// NextMessageID allocates an id for an outgoing message. Ids start at 1 so they
// never collide with protocol.NoCorrelation.
func (m *Machine[C]) NextMessageID() protocol.MessageID {
	return protocol.MessageID(m.lastID.Add(1))
}

// Close moves to StateClosed and records code. It returns false if the machine
// was already closed.
func (m *Machine[C]) Close(code protocol.TableNetworkError) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return false
	}
	m.state = StateClosed
	m.closeCode = code
	m.next = nil
	m.challenge = nil
	m.salt = nil
	return true
}

// CloseCode returns the reason recorded by Close, 0 while open.
func (m *Machine[C]) CloseCode() protocol.TableNetworkError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCode
}

// IsClosed reports whether Close has been called.
func (m *Machine[C]) IsClosed() bool {
	return m.State() == StateClosed
}

// take returns the current state and pops the continuation handler. ok is
// false once the machine is closed.
func (m *Machine[C]) take() (state State, next Handler[C], ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return StateClosed, nil, false
	}
	next = m.next
	m.next = nil
	return m.state, next, true
}
