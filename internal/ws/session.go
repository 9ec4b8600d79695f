package ws

import (
	"errors"

	"github.com/supportchat/internal/model"
)

// Connection lifecycle. A connection is Connecting from upgrade until its
// credentials are inspected, Authorizing while identity and room access are
// checked, Joined once it is registered in a room, and Closed afterwards.
// Only Joined connections ever receive frames; every pre-Join failure closes
// the socket without sending anything, so a probing client cannot tell a
// missing room from a denied one.
type State int32

const (
	StateConnecting State = iota
	StateAuthorizing
	StateJoined
	StateClosed
)

var (
	// ErrUnauthenticated covers a missing, malformed or expired token, and a
	// token whose subject no longer exists.
	ErrUnauthenticated = errors.New("ws: unauthenticated")
	ErrRoomNotFound    = errors.New("ws: room not found")
	ErrAccessDenied    = errors.New("ws: access denied")
)

// Session is the immutable result of a successful handshake. It is captured
// once and never reloaded: a role or ownership change takes effect on the
// next connection, not mid-session.
type Session struct {
	UserID   string
	Username string
	Role     model.Role
	ChatID   string
}
