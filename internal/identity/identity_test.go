package identity

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHeaderProvider(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/live", nil)
	r.Header.Set(HeaderUserID, "42")
	r.Header.Set(HeaderDisplayName, "Alice")
	r.Header.Set(HeaderGoogle, "true")

	id, err := HeaderProvider{}.Identify(r)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if id.UserID != "42" || id.DisplayName != "Alice" || !id.Google {
		t.Fatalf("Identify = %+v", id)
	}
	if !id.Authenticated() {
		t.Fatal("Authenticated() = false")
	}
}

func TestHeaderProviderMissingIdentity(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/live", nil)
	_, err := HeaderProvider{}.Identify(r)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Identify = %v; want ErrUnauthenticated", err)
	}
}

func TestQueryProvider(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/live?user_id=7&display_name=Bob", nil)
	id, err := QueryProvider{}.Identify(r)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if id.UserID != "7" || id.DisplayName != "Bob" || id.Google {
		t.Fatalf("Identify = %+v", id)
	}
}

func TestNewConnectionIDEmbedsUser(t *testing.T) {
	a := NewConnectionID("42")
	b := NewConnectionID("42")
	if !strings.HasPrefix(a, "42-") {
		t.Fatalf("id %q lacks user prefix", a)
	}
	if a == b {
		t.Fatal("two connection ids collided")
	}
}

func TestNewGuest(t *testing.T) {
	id, connID := NewGuest()
	if id.Authenticated() {
		t.Fatal("guest identity is authenticated")
	}
	if !strings.HasPrefix(connID, "guest-") {
		t.Fatalf("guest connection id %q lacks prefix", connID)
	}
	if !strings.HasPrefix(id.DisplayName, "Guest-") {
		t.Fatalf("guest display name %q lacks prefix", id.DisplayName)
	}
}
