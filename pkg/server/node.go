package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/gamegineer/tablenet/pkg/auth"
	"github.com/gamegineer/tablenet/pkg/protocol"
)

var (
	// ErrDuplicatePlayerName indicates the name is already bound to another connection.
	ErrDuplicatePlayerName = errors.New("player name already connected")
	// ErrNotBound indicates the caller has no bound player on this node.
	ErrNotBound = errors.New("player not bound")
	// ErrNoSession indicates no table session is active, so there is no control token.
	ErrNoSession = errors.New("no table session active")
	// ErrSessionActive indicates StartSession was called while a session is running.
	ErrSessionActive = errors.New("table session already active")
	// ErrControlRequestPending indicates another player's control request is outstanding.
	ErrControlRequestPending = errors.New("control request already pending")
	// ErrAlreadyHoldsControl indicates the requester already holds control.
	ErrAlreadyHoldsControl = errors.New("player already holds control")
	// ErrControlHeld indicates another player holds control, so requests are refused.
	ErrControlHeld = errors.New("control is held by another player")
	// ErrNotControlHolder indicates the giver may not transfer control.
	ErrNotControlHolder = errors.New("player does not hold control")
	// ErrUnknownPlayer indicates the target player is not bound on this node.
	ErrUnknownPlayer = errors.New("unknown player")
)

// PasswordSource supplies the table password that players authenticate against.
type PasswordSource interface {
	Password() string
}

// StaticPassword is a fixed table password.
type StaticPassword string

func (p StaticPassword) Password() string { return string(p) }

// ControlState is a snapshot of the control token. Empty strings mean nobody.
type ControlState struct {
	Host    string
	Holder  string
	Pending string
}

// ControlPolicy decides whether control operations are legal. The node itself
// enforces that a session is active and that the players involved are bound.
type ControlPolicy interface {
	CanRequest(state ControlState, requester string) error
	CanGive(state ControlState, giver, target string) error
}

// DefaultControlPolicy accepts a request only while the token is unheld and no
// other request is pending. The holder gives control away, or the host when
// nobody holds it.
type DefaultControlPolicy struct{}

func (DefaultControlPolicy) CanRequest(state ControlState, requester string) error {
	if state.Holder == requester {
		return ErrAlreadyHoldsControl
	}
	if state.Holder != "" {
		return ErrControlHeld
	}
	if state.Pending != "" {
		return ErrControlRequestPending
	}
	return nil
}

func (DefaultControlPolicy) CanGive(state ControlState, giver, target string) error {
	if state.Holder != "" {
		if giver != state.Holder {
			return ErrNotControlHolder
		}
		return nil
	}
	if giver != state.Host {
		return ErrNotControlHolder
	}
	return nil
}

// ControlEventKind identifies a change to the control token.
type ControlEventKind uint8

const (
	ControlRequested ControlEventKind = iota + 1
	ControlRequestCancelled
	ControlTransferred
	ControlReleased
)

func (k ControlEventKind) String() string {
	switch k {
	case ControlRequested:
		return "requested"
	case ControlRequestCancelled:
		return "request_cancelled"
	case ControlTransferred:
		return "transferred"
	case ControlReleased:
		return "released"
	default:
		return "unknown"
	}
}

// ControlEvent describes a change to the control token. For transfers, From is
// the previous holder (possibly empty) and Player the new one.
type ControlEvent struct {
	Kind   ControlEventKind
	Player string
	From   string
}

// ControlListener is notified of control changes. Listeners are called after
// the node lock is released, in the order they were added.
type ControlListener interface {
	ControlChanged(event ControlEvent)
}

// NodeConfig configures a Node.
type NodeConfig struct {
	Passwords           PasswordSource
	SupportedVersions   []protocol.ProtocolVersion
	MaxPlayerNameLength int
	MaxConcurrentAuth   int
	Policy              ControlPolicy
}

// Node owns the player registry and the control token. All mutations happen
// under one lock so that checking and binding a name is atomic.
type Node struct {
	passwords           PasswordSource
	versions            []protocol.ProtocolVersion
	maxPlayerNameLength int
	policy              ControlPolicy
	authSlots           *semaphore.Weighted

	mu        sync.Mutex
	players   map[string]*Controller
	control   *ControlState // nil outside a table session
	listeners []ControlListener
}

// NewNode creates a node. Missing settings fall back to the current protocol
// version, a 32 byte name limit, DefaultMaxConcurrentAuth and
// DefaultControlPolicy.
func NewNode(cfg NodeConfig) *Node {
	n := &Node{
		passwords:           cfg.Passwords,
		versions:            cfg.SupportedVersions,
		maxPlayerNameLength: cfg.MaxPlayerNameLength,
		policy:              cfg.Policy,
		players:             make(map[string]*Controller),
	}
	if n.passwords == nil {
		n.passwords = StaticPassword("")
	}
	if len(n.versions) == 0 {
		n.versions = []protocol.ProtocolVersion{protocol.CurrentVersion}
	}
	if n.maxPlayerNameLength <= 0 {
		n.maxPlayerNameLength = DefaultMaxPlayerNameLength
	}
	if n.policy == nil {
		n.policy = DefaultControlPolicy{}
	}
	slots := cfg.MaxConcurrentAuth
	if slots <= 0 {
		slots = DefaultMaxConcurrentAuth
	}
	n.authSlots = semaphore.NewWeighted(int64(slots))
	return n
}

// AddControlListener registers l for control change notifications.
func (n *Node) AddControlListener(l ControlListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, l)
}

// Password returns the current table password.
func (n *Node) Password() string {
	return n.passwords.Password()
}

// VerifyResponse checks a player's proof against the table password. Each
// check derives an argon2id key (auth.KeyMemory bytes), so only
// MaxConcurrentAuth run at once and later callers wait for a slot.
func (n *Node) VerifyResponse(challenge, salt, response []byte) bool {
	if err := n.authSlots.Acquire(context.Background(), 1); err != nil {
		return false
	}
	defer n.authSlots.Release(1)
	return auth.VerifyResponse(challenge, n.Password(), salt, response)
}

// SupportedVersions returns the protocol versions this node accepts.
func (n *Node) SupportedVersions() []protocol.ProtocolVersion {
	return n.versions
}

// ValidPlayerName reports whether name is acceptable as a player identity.
func (n *Node) ValidPlayerName(name string) bool {
	if name == "" || len(name) > n.maxPlayerNameLength || !utf8.ValidString(name) {
		return false
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// IsPlayerConnected reports whether name is bound to a live connection.
func (n *Node) IsPlayerConnected(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.players[name]
	return ok
}

// Players returns the bound player names in sorted order.
func (n *Node) Players() []string {
	n.mu.Lock()
	names := make([]string, 0, len(n.players))
	for name := range n.players {
		names = append(names, name)
	}
	n.mu.Unlock()

	sort.Strings(names)
	return names
}

// bindPlayer registers c under name. The name check and the controller's own
// bind happen under the node lock.
func (n *Node) bindPlayer(name string, c *Controller) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, taken := n.players[name]; taken {
		return ErrDuplicatePlayerName
	}
	if !c.machine.Bind(name) {
		return ErrNotBound
	}
	n.players[name] = c
	return nil
}

// unbindPlayer removes name if it is still bound to c and releases anything
// the player held on the control token.
func (n *Node) unbindPlayer(name string, c *Controller) {
	var events []ControlEvent

	n.mu.Lock()
	if n.players[name] != c {
		n.mu.Unlock()
		return
	}
	delete(n.players, name)

	if n.control != nil {
		if n.control.Holder == name {
			n.control.Holder = ""
			events = append(events, ControlEvent{Kind: ControlReleased, Player: name})
		}
		if n.control.Pending == name {
			n.control.Pending = ""
			events = append(events, ControlEvent{Kind: ControlRequestCancelled, Player: name})
		}
	}
	listeners := n.listeners
	n.mu.Unlock()

	notify(listeners, events...)
}

// StartSession creates an unheld control token. host may give control while
// nobody holds it.
func (n *Node) StartSession(host string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.control != nil {
		return ErrSessionActive
	}
	n.control = &ControlState{Host: host}
	return nil
}

// EndSession destroys the control token.
func (n *Node) EndSession() {
	var events []ControlEvent

	n.mu.Lock()
	if n.control != nil && n.control.Holder != "" {
		events = append(events, ControlEvent{Kind: ControlReleased, Player: n.control.Holder})
	}
	n.control = nil
	listeners := n.listeners
	n.mu.Unlock()

	notify(listeners, events...)
}

// Control returns a snapshot of the control token. ok is false outside a
// session.
func (n *Node) Control() (state ControlState, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.control == nil {
		return ControlState{}, false
	}
	return *n.control, true
}

// ControlHolder returns the player holding control, or "".
func (n *Node) ControlHolder() string {
	state, _ := n.Control()
	return state.Holder
}

// PendingRequester returns the player with an outstanding request, or "".
func (n *Node) PendingRequester() string {
	state, _ := n.Control()
	return state.Pending
}

// RequestControl records requester as the pending requester.
func (n *Node) RequestControl(requester string) error {
	n.mu.Lock()
	if err := n.checkBoundLocked(requester); err != nil {
		n.mu.Unlock()
		return err
	}
	if err := n.policy.CanRequest(*n.control, requester); err != nil {
		n.mu.Unlock()
		return err
	}
	n.control.Pending = requester
	listeners := n.listeners
	n.mu.Unlock()

	notify(listeners, ControlEvent{Kind: ControlRequested, Player: requester})
	return nil
}

// CancelControlRequest clears caller's request. It is a no-op unless caller is
// the pending requester.
func (n *Node) CancelControlRequest(caller string) error {
	n.mu.Lock()
	if err := n.checkBoundLocked(caller); err != nil {
		n.mu.Unlock()
		return err
	}
	if n.control.Pending != caller {
		n.mu.Unlock()
		return nil
	}
	n.control.Pending = ""
	listeners := n.listeners
	n.mu.Unlock()

	notify(listeners, ControlEvent{Kind: ControlRequestCancelled, Player: caller})
	return nil
}

// GiveControl transfers the token from giver to target. A transfer settles the
// pending request: given to the requester it is satisfied, otherwise it is
// dropped, since requests are only accepted while the token is unheld.
func (n *Node) GiveControl(giver, target string) error {
	n.mu.Lock()
	if err := n.checkBoundLocked(giver); err != nil {
		n.mu.Unlock()
		return err
	}
	if _, ok := n.players[target]; !ok {
		n.mu.Unlock()
		return ErrUnknownPlayer
	}
	if err := n.policy.CanGive(*n.control, giver, target); err != nil {
		n.mu.Unlock()
		return err
	}

	var events []ControlEvent
	if pending := n.control.Pending; pending != "" && pending != target {
		events = append(events, ControlEvent{Kind: ControlRequestCancelled, Player: pending})
	}
	from := n.control.Holder
	n.control.Holder = target
	n.control.Pending = ""
	events = append(events, ControlEvent{Kind: ControlTransferred, Player: target, From: from})
	listeners := n.listeners
	n.mu.Unlock()

	notify(listeners, events...)
	return nil
}

func (n *Node) checkBoundLocked(name string) error {
	if n.control == nil {
		return ErrNoSession
	}
	if _, ok := n.players[name]; !ok || name == "" {
		return ErrNotBound
	}
	return nil
}

func notify(listeners []ControlListener, events ...ControlEvent) {
	for _, ev := range events {
		for _, l := range listeners {
			l.ControlChanged(ev)
		}
	}
}
