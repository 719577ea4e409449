package session

import (
	"fmt"

	"github.com/gamegineer/tablenet/pkg/protocol"
)

// Handler reacts to one incoming message on controller c.
type Handler[C any] func(c C, msg *protocol.Message)

// Conn is implemented by controllers that own a Machine.
type Conn[C any] interface {
	Machine() *Machine[C]
}

// Table maps each state to the handlers valid in it.
type Table[C any] map[State]map[protocol.MessageType]Handler[C]

// Registry routes messages to handlers. A continuation installed with
// Machine.SetNextHandler takes precedence for exactly one message; otherwise the
// static table is consulted by state and message type. Anything else goes to
// the unexpected-message handler.
type Registry[C Conn[C]] struct {
	table      Table[C]
	unexpected Handler[C]
}

// NewRegistry builds a registry. It panics if table has entries for
// StateClosed or unexpected is nil.
func NewRegistry[C Conn[C]](table Table[C], unexpected Handler[C]) *Registry[C] {
	if unexpected == nil {
		panic("session: nil unexpected-message handler")
	}
	if _, ok := table[StateClosed]; ok {
		panic(fmt.Sprintf("session: handlers registered for %s", StateClosed))
	}
	return &Registry[C]{table: table, unexpected: unexpected}
}

// Dispatch delivers msg to the handler installed for c. It is a no-op once c
// is closed. Callers must not dispatch concurrently for the same controller.
func (r *Registry[C]) Dispatch(c C, msg *protocol.Message) {
	state, next, ok := c.Machine().take()
	if !ok {
		return
	}

	if next != nil {
		next(c, msg)
		return
	}

	r.Lookup(state, msg.Type())(c, msg)
}

// Lookup returns the default handler for t in state, or the unexpected-message
// handler.
func (r *Registry[C]) Lookup(state State, t protocol.MessageType) Handler[C] {
	if h, ok := r.table[state][t]; ok {
		return h
	}
	return r.unexpected
}

// Expect wraps h as a continuation that only accepts messages of type t. Any
// other type is handed to the unexpected-message handler.
func (r *Registry[C]) Expect(t protocol.MessageType, h Handler[C]) Handler[C] {
	return func(c C, msg *protocol.Message) {
		if msg.Type() != t {
			r.unexpected(c, msg)
			return
		}
		h(c, msg)
	}
}

// Unexpected invokes the unexpected-message handler directly.
func (r *Registry[C]) Unexpected(c C, msg *protocol.Message) {
	r.unexpected(c, msg)
}
