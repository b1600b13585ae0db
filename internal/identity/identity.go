// Package identity resolves the caller of an HTTP or WebSocket request to a
// user identity. The relay does not run its own login flow: in production an
// authenticating reverse proxy injects trusted headers, and in dev mode a
// query-parameter provider stands in for it.
package identity

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

var ErrUnauthenticated = errors.New("request carries no identity")

// Trusted header names set by the fronting proxy.
const (
	HeaderUserID      = "X-Neoshare-User-Id"
	HeaderDisplayName = "X-Neoshare-Display-Name"
	HeaderGoogle      = "X-Neoshare-Google"
)

// Identity is a resolved caller. A zero UserID means the caller is anonymous
// and may only use guest-permitted surfaces.
type Identity struct {
	UserID      string
	DisplayName string
	Google      bool
}

func (i Identity) Authenticated() bool { return i.UserID != "" }

// Provider extracts an Identity from a request. ErrUnauthenticated means the
// request carried no identity at all; other errors mean the identity was
// present but unusable.
type Provider interface {
	Identify(r *http.Request) (Identity, error)
}

// HeaderProvider trusts identity headers injected by the fronting proxy.
// It must only be used behind a proxy that strips these headers from client
// traffic.
type HeaderProvider struct{}

func (HeaderProvider) Identify(r *http.Request) (Identity, error) {
	id := r.Header.Get(HeaderUserID)
	if id == "" {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{
		UserID:      id,
		DisplayName: r.Header.Get(HeaderDisplayName),
		Google:      r.Header.Get(HeaderGoogle) == "true",
	}, nil
}

// QueryProvider reads identity from query parameters. Dev mode only.
type QueryProvider struct{}

func (QueryProvider) Identify(r *http.Request) (Identity, error) {
	q := r.URL.Query()
	id := q.Get("user_id")
	if id == "" {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{
		UserID:      id,
		DisplayName: q.Get("display_name"),
		Google:      q.Get("google") == "true",
	}, nil
}

// NewConnectionID returns a fresh connection id for an authenticated user.
// Ids are unique, not ordered by creation time; presence dedup only needs a
// total order over the id strings.
func NewConnectionID(userID string) string {
	return fmt.Sprintf("%s-%s", userID, uuid.NewString())
}

// NewGuest synthesizes an identity for an anonymous dashboard viewer. The
// identity has no UserID; the connection id alone names the guest.
func NewGuest() (Identity, string) {
	connID := "guest-" + uuid.NewString()
	suffix := connID[len(connID)-4:]
	return Identity{DisplayName: "Guest-" + suffix}, connID
}
