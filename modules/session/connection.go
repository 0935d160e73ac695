package session

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	domain "github.com/example/ephemeral-chat/domain/chat"
)

// Limits applied to inbound events.
const (
	MaxDisplayNameLength = 50
	MaxTextLength        = 5000
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateUnbound State = iota
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection binds one transport connection to at most one room.
//
// All transitions go through the methods below under mu, so the leave
// procedure runs exactly once per binding no matter which trigger comes first.
type Connection struct {
	id      string
	manager *Manager

	mu     sync.Mutex
	state  State
	roomID string
	name   string
}

// NewConnection creates an unbound connection.
func (m *Manager) NewConnection(connID string) *Connection {
	return &Connection{id: connID, manager: m}
}

// ID returns the connection id.
func (c *Connection) ID() string {
	return c.id
}

// State returns the current state and the bound room, if any.
func (c *Connection) State() (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.roomID
}

// Join binds the connection to roomID. Joining a different room while bound
// leaves the old room first; joining the bound room again is ignored.
func (c *Connection) Join(ctx context.Context, roomID, username string) error {
	if roomID == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return ErrConnectionClosed
	case StateBound:
		if c.roomID == roomID {
			return nil
		}
		c.manager.Leave(ctx, c.roomID, c.id, c.name, ReasonRebind)
	}

	name := NormalizeDisplayName(username)
	c.manager.Join(ctx, roomID, c.id, name)
	c.state = StateBound
	c.roomID = roomID
	c.name = name
	return nil
}

// Message sends text to the bound room. Messages for any other room, empty
// text and oversized text are dropped.
func (c *Connection) Message(ctx context.Context, roomID, text string) (*domain.Message, error) {
	if roomID == "" || text == "" || utf8.RuneCountInString(text) > MaxTextLength {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == StateClosed:
		return nil, ErrConnectionClosed
	case c.state != StateBound || c.roomID != roomID:
		return nil, ErrNotMember
	}
	return c.manager.SendMessage(ctx, c.roomID, c.id, c.name, text)
}

// Leave handles an explicit leave. The connection is closed afterwards.
func (c *Connection) Leave(ctx context.Context) {
	c.close(ctx, ReasonExplicit)
}

// Disconnect handles the transport going away.
func (c *Connection) Disconnect(ctx context.Context) {
	c.close(ctx, ReasonAbrupt)
}

func (c *Connection) close(ctx context.Context, reason LeaveReason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateBound {
		c.manager.Leave(ctx, c.roomID, c.id, c.name, reason)
	}
	c.state = StateClosed
	c.roomID = ""
}

// NormalizeDisplayName trims the name, substitutes the default for an empty
// one and caps its length.
func NormalizeDisplayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.DefaultDisplayName
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		name = string([]rune(name)[:MaxDisplayNameLength])
	}
	return name
}
