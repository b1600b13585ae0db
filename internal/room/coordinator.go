// Package room coordinates room lifecycle: create, join, leave. The
// membership store is authoritative for every decision here; the cache only
// mirrors room directory entries so external tooling can look rooms up
// without touching the store.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lilsandesh/NeoShare/internal/cache"
	"github.com/lilsandesh/NeoShare/internal/identity"
	"github.com/lilsandesh/NeoShare/internal/metrics"
	"github.com/lilsandesh/NeoShare/internal/presence"
	"github.com/lilsandesh/NeoShare/internal/registry"
	"github.com/lilsandesh/NeoShare/internal/store"
)

var ErrCodeExhausted = errors.New("could not allocate an unused room code")

// mirrorEntry is the JSON shape written to the cache under RoomKey(code).
type mirrorEntry struct {
	Admin     string    `json:"admin"`
	Members   []string  `json:"members"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Coordinator drives room membership changes and the presence rebroadcasts
// they trigger.
type Coordinator struct {
	store    store.Store
	dispatch *store.Dispatcher
	cache    cache.Cache
	presence *presence.Tracker
	registry *registry.Registry
	log      *slog.Logger
	metrics  *metrics.Metrics

	codeLen int
	// genCode is swapped in tests to force collisions.
	genCode func(n int) (string, error)
}

type Options struct {
	Store    store.Store
	Dispatch *store.Dispatcher
	Cache    cache.Cache
	Presence *presence.Tracker
	Registry *registry.Registry
	Log      *slog.Logger
	Metrics  *metrics.Metrics
	CodeLen  int
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Cache == nil {
		opts.Cache = cache.Noop{}
	}
	codeLen := opts.CodeLen
	if codeLen < 1 || codeLen > MaxCodeLen {
		codeLen = DefaultCodeLen
	}
	return &Coordinator{
		store:    opts.Store,
		dispatch: opts.Dispatch,
		cache:    opts.Cache,
		presence: opts.Presence,
		registry: opts.Registry,
		log:      opts.Log,
		metrics:  opts.Metrics,
		codeLen:  codeLen,
		genCode:  newCode,
	}
}

// Create allocates an unused code, records the room with user as admin and
// first member, and associates the user with it. Collisions regenerate the
// code a bounded number of times before giving up.
func (c *Coordinator) Create(ctx context.Context, user identity.Identity) (store.Room, error) {
	for attempt := 0; attempt < codeGenAttempts; attempt++ {
		code, err := c.genCode(c.codeLen)
		if err != nil {
			return store.Room{}, err
		}

		err = c.dispatch.Do(ctx, func(ctx context.Context) error {
			if err := c.store.CreateRoom(ctx, code, user.UserID); err != nil {
				return err
			}
			return c.store.SetOnline(ctx, storeUser(user), code, true)
		})
		if errors.Is(err, store.ErrRoomExists) {
			c.log.Debug("room code collision, regenerating", "code", code)
			continue
		}
		if err != nil {
			return store.Room{}, fmt.Errorf("creating room: %w", err)
		}

		room, err := c.getRoom(ctx, code)
		if err != nil {
			return store.Room{}, err
		}
		c.mirror(ctx, room)
		c.metrics.Inc(metrics.RoomsCreated)
		c.log.Info("room created", "code", code, "admin", user.UserID)
		c.presence.BroadcastRoom(ctx, code)
		return room, nil
	}
	return store.Room{}, ErrCodeExhausted
}

// Join adds user to the room behind code. An unknown code returns
// store.ErrRoomNotFound; joining a room the user already belongs to returns
// store.ErrAlreadyMember so the caller can tell the client explicitly.
func (c *Coordinator) Join(ctx context.Context, user identity.Identity, code string) (store.Room, error) {
	err := c.dispatch.Do(ctx, func(ctx context.Context) error {
		if err := c.store.AddMember(ctx, code, user.UserID); err != nil {
			return err
		}
		return c.store.SetOnline(ctx, storeUser(user), code, true)
	})
	if err != nil {
		return store.Room{}, err
	}

	room, err := c.getRoom(ctx, code)
	if err != nil {
		return store.Room{}, err
	}
	c.mirror(ctx, room)
	c.metrics.Inc(metrics.RoomJoins)
	c.log.Info("user joined room", "code", code, "user_id", user.UserID)

	c.notifyAdmin(room, user)
	c.presence.BroadcastRoom(ctx, code)
	return room, nil
}

// Leave removes user from their current room and clears the association.
// Returns the code of the room that was left.
func (c *Coordinator) Leave(ctx context.Context, user identity.Identity) (string, error) {
	var code string
	err := c.dispatch.Do(ctx, func(ctx context.Context) error {
		prof, err := c.store.Profile(ctx, user.UserID)
		if err != nil {
			return err
		}
		if prof.RoomCode == "" {
			return store.ErrNotMember
		}
		code = prof.RoomCode
		if err := c.store.RemoveMember(ctx, code, user.UserID); err != nil {
			return err
		}
		return c.store.SetOnline(ctx, storeUser(user), "", prof.Online)
	})
	if err != nil {
		return "", err
	}

	if room, err := c.getRoom(ctx, code); err == nil {
		c.mirror(ctx, room)
	}
	c.metrics.Inc(metrics.RoomLeaves)
	c.log.Info("user left room", "code", code, "user_id", user.UserID)
	c.presence.BroadcastRoom(ctx, code)
	return code, nil
}

// Get returns the room behind code, consulting the store.
func (c *Coordinator) Get(ctx context.Context, code string) (store.Room, error) {
	return c.getRoom(ctx, code)
}

func (c *Coordinator) getRoom(ctx context.Context, code string) (store.Room, error) {
	var room store.Room
	err := c.dispatch.Do(ctx, func(ctx context.Context) error {
		var err error
		room, err = c.store.GetRoom(ctx, code)
		return err
	})
	return room, err
}

// mirror writes the room's directory entry to the cache. Best-effort: the
// cache client already logs and counts failures.
func (c *Coordinator) mirror(ctx context.Context, room store.Room) {
	entry, err := json.Marshal(mirrorEntry{
		Admin:     room.AdminID,
		Members:   room.MemberIDs,
		Status:    room.Status,
		CreatedAt: room.CreatedAt,
	})
	if err != nil {
		c.log.Error("encoding room mirror entry failed", "code", room.Code, "err", err)
		return
	}
	c.cache.Set(ctx, cache.RoomKey(room.Code), entry)
}

// notifyAdmin tells the room admin that someone joined, over the admin's
// private notify channel.
func (c *Coordinator) notifyAdmin(room store.Room, user identity.Identity) {
	if room.AdminID == "" || room.AdminID == user.UserID || c.registry == nil {
		return
	}
	name := user.DisplayName
	if name == "" {
		name = user.UserID
	}
	payload, err := json.Marshal(map[string]string{
		"type":    "notification",
		"message": fmt.Sprintf("%s joined room %s", name, room.Code),
		"user_id": user.UserID,
	})
	if err != nil {
		return
	}
	c.registry.SendToUser(room.AdminID, payload)
}

func storeUser(id identity.Identity) store.User {
	return store.User{ID: id.UserID, DisplayName: id.DisplayName, Google: id.Google}
}
