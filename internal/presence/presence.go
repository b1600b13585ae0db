// Package presence derives who-is-here lists from the live connection
// registry and the authoritative membership store, and pushes them to feed
// subscribers as users_update events.
//
// A user with several simultaneous connections in a feed appears exactly
// once: the entry reports the lexicographically greatest of their connection
// ids, so every recipient resolves the same connection as canonical no
// matter in which order the connections arrived.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/lilsandesh/NeoShare/internal/metrics"
	"github.com/lilsandesh/NeoShare/internal/registry"
	"github.com/lilsandesh/NeoShare/internal/store"
)

// Entry is one row of a users_update payload.
type Entry struct {
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	Google       bool      `json:"is_google_identity"`
	ConnectionID string    `json:"connection_id"`
	JoinedAt     time.Time `json:"joined_at"`

	// Viewer-relative flags, filled in per recipient at broadcast time.
	IsCurrentUser bool `json:"is_current_user"`
	IsSuperUser   bool `json:"is_super_user"`
}

type usersUpdate struct {
	Type  string  `json:"type"`
	Users []Entry `json:"users"`
}

// Tracker builds and broadcasts presence snapshots.
type Tracker struct {
	store    store.Store
	dispatch *store.Dispatcher
	registry *registry.Registry
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewTracker(st store.Store, d *store.Dispatcher, reg *registry.Registry, log *slog.Logger, m *metrics.Metrics) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{store: st, dispatch: d, registry: reg, log: log, metrics: m}
}

// GlobalSnapshot returns the deduplicated global online set, viewer-neutral.
func (t *Tracker) GlobalSnapshot(ctx context.Context) ([]Entry, error) {
	return t.snapshot(ctx, "")
}

// RoomSnapshot returns the deduplicated online set of a room, including
// guests attached to the room's dashboard feed, viewer-neutral.
func (t *Tracker) RoomSnapshot(ctx context.Context, roomCode string) ([]Entry, error) {
	return t.snapshot(ctx, roomCode)
}

func (t *Tracker) snapshot(ctx context.Context, roomCode string) ([]Entry, error) {
	var (
		online  []store.Profile
		adminID string
	)
	err := t.dispatch.Do(ctx, func(ctx context.Context) error {
		var err error
		online, err = t.store.ListOnline(ctx, roomCode)
		if err != nil {
			return err
		}
		if roomCode != "" {
			room, err := t.store.GetRoom(ctx, roomCode)
			if err != nil && !errors.Is(err, store.ErrRoomNotFound) {
				return err
			}
			adminID = room.AdminID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	conns := t.registry.Members(groupFor(roomCode))

	// One canonical connection per user: the greatest id wins.
	latest := make(map[string]*registry.Connection)
	var guests []*registry.Connection
	for _, c := range conns {
		if !c.Authenticated() {
			guests = append(guests, c)
			continue
		}
		if cur, ok := latest[c.UserID]; !ok || c.ID > cur.ID {
			latest[c.UserID] = c
		}
	}

	entries := make([]Entry, 0, len(online)+len(guests))
	for _, p := range online {
		e := Entry{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Google:      p.Google,
			IsSuperUser: adminID != "" && p.UserID == adminID,
		}
		if c, ok := latest[p.UserID]; ok {
			e.ConnectionID = c.ID
			e.JoinedAt = c.JoinedAt
			if c.DisplayName != "" {
				e.DisplayName = c.DisplayName
			}
		}
		entries = append(entries, e)
	}
	for _, g := range guests {
		entries = append(entries, Entry{
			DisplayName:  g.DisplayName,
			ConnectionID: g.ID,
			JoinedAt:     g.JoinedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].UserID != entries[j].UserID {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].ConnectionID < entries[j].ConnectionID
	})
	t.metrics.Inc(metrics.PresenceSnapshots)
	return entries, nil
}

// BroadcastGlobal pushes the global online set to every live_users
// subscriber. Store errors are logged, not returned: a failed rebroadcast
// must not take down the connection that triggered it.
func (t *Tracker) BroadcastGlobal(ctx context.Context) {
	entries, err := t.GlobalSnapshot(ctx)
	if err != nil {
		t.log.Error("global presence snapshot failed", "err", err)
		return
	}
	t.deliver(registry.GroupLiveUsers, entries)
}

// BroadcastRoom pushes the room's online set to its dashboard subscribers.
func (t *Tracker) BroadcastRoom(ctx context.Context, roomCode string) {
	entries, err := t.RoomSnapshot(ctx, roomCode)
	if err != nil {
		t.log.Error("room presence snapshot failed", "room", roomCode, "err", err)
		return
	}
	t.deliver(registry.GroupDashboard(roomCode), entries)
}

// deliver tailors the viewer-relative flags per recipient, then sends each
// recipient its own copy of the list.
func (t *Tracker) deliver(group string, entries []Entry) {
	for _, c := range t.registry.Members(group) {
		tailored := make([]Entry, len(entries))
		copy(tailored, entries)
		for i := range tailored {
			if c.Authenticated() {
				tailored[i].IsCurrentUser = tailored[i].UserID == c.UserID
			} else {
				tailored[i].IsCurrentUser = tailored[i].ConnectionID == c.ID
			}
		}
		payload, err := json.Marshal(usersUpdate{Type: "users_update", Users: tailored})
		if err != nil {
			t.log.Error("encoding users_update failed", "err", err)
			return
		}
		c.Deliver(payload)
	}
}

func groupFor(roomCode string) string {
	if roomCode == "" {
		return registry.GroupLiveUsers
	}
	return registry.GroupDashboard(roomCode)
}
