package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryRoomLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.CreateRoom(ctx, "ABC123", "alice"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := m.CreateRoom(ctx, "ABC123", "bob"); !errors.Is(err, ErrRoomExists) {
		t.Fatalf("duplicate CreateRoom = %v; want ErrRoomExists", err)
	}

	room, err := m.GetRoom(ctx, "ABC123")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if room.AdminID != "alice" || room.Status != RoomStatusActive {
		t.Fatalf("GetRoom = %+v; want admin alice, status active", room)
	}
	if len(room.MemberIDs) != 1 || room.MemberIDs[0] != "alice" {
		t.Fatalf("MemberIDs = %v; want [alice]", room.MemberIDs)
	}

	if _, err := m.GetRoom(ctx, "ZZZZZZ"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("GetRoom(unknown) = %v; want ErrRoomNotFound", err)
	}
}

func TestMemoryMembership(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.CreateRoom(ctx, "ABC123", "alice"); err != nil {
		t.Fatal(err)
	}

	if err := m.AddMember(ctx, "ABC123", "bob"); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := m.AddMember(ctx, "ABC123", "bob"); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("duplicate AddMember = %v; want ErrAlreadyMember", err)
	}
	if err := m.AddMember(ctx, "NOPE00", "bob"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("AddMember(unknown room) = %v; want ErrRoomNotFound", err)
	}

	if err := m.RemoveMember(ctx, "ABC123", "bob"); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if err := m.RemoveMember(ctx, "ABC123", "bob"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("second RemoveMember = %v; want ErrNotMember", err)
	}
}

func TestMemoryOnlineStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	alice := User{ID: "alice", DisplayName: "Alice", Google: true}
	bob := User{ID: "bob", DisplayName: "Bob"}

	if err := m.SetOnline(ctx, alice, "ABC123", true); err != nil {
		t.Fatal(err)
	}
	if err := m.SetOnline(ctx, bob, "", true); err != nil {
		t.Fatal(err)
	}

	p, err := m.Profile(ctx, "alice")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if !p.Online || p.RoomCode != "ABC123" || !p.Google {
		t.Fatalf("Profile(alice) = %+v; want online in ABC123, google", p)
	}
	if _, err := m.Profile(ctx, "carol"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("Profile(unknown) = %v; want ErrProfileNotFound", err)
	}

	global, err := m.ListOnline(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(global) != 2 {
		t.Fatalf("global online = %d; want 2", len(global))
	}

	inRoom, err := m.ListOnline(ctx, "ABC123")
	if err != nil {
		t.Fatal(err)
	}
	if len(inRoom) != 1 || inRoom[0].UserID != "alice" {
		t.Fatalf("room online = %+v; want [alice]", inRoom)
	}

	if err := m.SetOnline(ctx, alice, "ABC123", false); err != nil {
		t.Fatal(err)
	}
	global, _ = m.ListOnline(ctx, "")
	if len(global) != 1 || global[0].UserID != "bob" {
		t.Fatalf("global online after alice left = %+v; want [bob]", global)
	}
}

// Going offline must not wipe a previously stored display name.
func TestMemorySetOnlineKeepsDisplayName(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.SetOnline(ctx, User{ID: "alice", DisplayName: "Alice"}, "", true); err != nil {
		t.Fatal(err)
	}
	if err := m.SetOnline(ctx, User{ID: "alice"}, "", false); err != nil {
		t.Fatal(err)
	}
	p, err := m.Profile(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.DisplayName != "Alice" {
		t.Fatalf("DisplayName = %q after offline upsert; want Alice", p.DisplayName)
	}
}
