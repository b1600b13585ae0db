// Package store is the authoritative membership and presence record: rooms,
// room membership, and per-user online status. Implementations must be safe
// for concurrent use; callers route writes through a Dispatcher so store
// latency never blocks connection read loops directly.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomExists      = errors.New("room code already in use")
	ErrAlreadyMember   = errors.New("user is already a member of the room")
	ErrNotMember       = errors.New("user is not a member of the room")
	ErrProfileNotFound = errors.New("user profile not found")
)

// RoomStatusActive is the only status the relay creates; closed rooms are
// kept for bookkeeping by external tooling.
const (
	RoomStatusActive = "active"
	RoomStatusClosed = "closed"
)

type Room struct {
	Code      string
	AdminID   string
	Status    string
	MemberIDs []string
	CreatedAt time.Time
}

// User carries the identity fields the store persists alongside status
// changes, so a profile row can be created on first sight of a user.
type User struct {
	ID          string
	DisplayName string
	Google      bool
}

// Profile is the stored per-user record. RoomCode is empty when the user is
// not associated with any room.
type Profile struct {
	UserID      string
	DisplayName string
	Google      bool
	RoomCode    string
	Online      bool
	LastSeen    time.Time
}

// Store is the persistence boundary. Errors from these methods surface to
// callers; the store is authoritative and failures must not be papered over.
type Store interface {
	// GetRoom returns the room and its member ids, or ErrRoomNotFound.
	GetRoom(ctx context.Context, code string) (Room, error)

	// CreateRoom records a new active room with the given admin, who becomes
	// its first member. Returns ErrRoomExists on a code collision.
	CreateRoom(ctx context.Context, code, adminID string) error

	// AddMember adds the user to the room. Returns ErrRoomNotFound for an
	// unknown code and ErrAlreadyMember for a duplicate join.
	AddMember(ctx context.Context, code, userID string) error

	// RemoveMember removes the user from the room. Returns ErrNotMember when
	// the user was not a member.
	RemoveMember(ctx context.Context, code, userID string) error

	// SetOnline upserts the user's profile, recording online status, room
	// association (empty clears it), and last-seen time.
	SetOnline(ctx context.Context, user User, roomCode string, online bool) error

	// Profile returns the stored profile, or ErrProfileNotFound.
	Profile(ctx context.Context, userID string) (Profile, error)

	// ListOnline returns the profiles currently online. A non-empty roomCode
	// restricts the result to users associated with that room; an empty code
	// returns the global online set.
	ListOnline(ctx context.Context, roomCode string) ([]Profile, error)

	// Close releases underlying resources.
	Close() error
}
