package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lilsandesh/NeoShare/internal/identity"
	"github.com/lilsandesh/NeoShare/internal/metrics"
	"github.com/lilsandesh/NeoShare/internal/presence"
	"github.com/lilsandesh/NeoShare/internal/ratelimit"
	"github.com/lilsandesh/NeoShare/internal/registry"
	"github.com/lilsandesh/NeoShare/internal/store"
)

// storeCallTimeout bounds each dispatched store operation triggered by a
// connect or disconnect.
const storeCallTimeout = 5 * time.Second

// Server owns the three WebSocket feeds: the global presence feed, per-room
// dashboard feeds, and the signaling transfer feed.
type Server struct {
	registry *registry.Registry
	presence *presence.Tracker
	router   *Router
	store    store.Store
	dispatch *store.Dispatcher
	identity identity.Provider
	log      *slog.Logger
	metrics  *metrics.Metrics
	clock    ratelimit.Clock

	upgrader        websocket.Upgrader
	sendBuffer      int
	maxMessageBytes int64
	msgsPerMinute   int
}

type ServerOptions struct {
	Registry *registry.Registry
	Presence *presence.Tracker
	Router   *Router
	Store    store.Store
	Dispatch *store.Dispatcher
	Identity identity.Provider
	Log      *slog.Logger
	Metrics  *metrics.Metrics

	// CheckOrigin decides whether a browser origin may upgrade. Nil falls
	// back to gorilla's same-host default.
	CheckOrigin func(r *http.Request) bool

	SendBuffer      int
	MaxMessageBytes int64
	MsgsPerMinute   int
}

func NewServer(opts ServerOptions) *Server {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.MsgsPerMinute < 1 {
		opts.MsgsPerMinute = ratelimit.DefaultMaxMessagesPerMinute
	}
	s := &Server{
		registry: opts.Registry,
		presence: opts.Presence,
		router:   opts.Router,
		store:    opts.Store,
		dispatch: opts.Dispatch,
		identity: opts.Identity,
		log:      opts.Log,
		metrics:  opts.Metrics,
		clock:    ratelimit.RealClock{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		sendBuffer:      opts.SendBuffer,
		maxMessageBytes: opts.MaxMessageBytes,
		msgsPerMinute:   opts.MsgsPerMinute,
	}
	// A connection that cannot keep up with its send buffer gets closed;
	// its read loop then unwinds through the normal disconnect path.
	s.registry.OnSlowConsumer(func(c *registry.Connection) {
		if cl, ok := c.Sink().(*Client); ok {
			cl.close()
		}
	})
	return s
}

// RegisterRoutes mounts the feed endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/live", s.handleLive)
	mux.HandleFunc("GET /ws/dashboard/{room_code}", s.handleDashboard)
	mux.HandleFunc("GET /ws/transfer", s.handleTransfer)
}

// handleLive serves the global presence feed. Authentication is required;
// the feed carries no inbound protocol, so client frames are read only to
// detect disconnect.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	id, err := s.identity.Identify(r)
	if err != nil {
		s.rejectUnauthenticated(w, r, err)
		return
	}

	client, conn, ok := s.admit(w, r, id, identity.NewConnectionID(id.UserID))
	if !ok {
		return
	}
	s.registry.Join(registry.GroupLiveUsers, conn.ID)
	s.markOnline(r.Context(), id, true)
	s.presence.BroadcastGlobal(r.Context())

	client.readLoop(s.maxMessageBytes, nil)

	s.registry.Unregister(conn.ID)
	s.markOnline(context.Background(), id, false)
	s.presence.BroadcastGlobal(context.Background())
}

// handleDashboard serves a room's presence feed. Unauthenticated callers are
// admitted as guests; they appear in the room's presence list but have no
// notify channel and no store record.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	roomCode := r.PathValue("room_code")
	if roomCode == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}

	id, err := s.identity.Identify(r)
	var connID string
	switch {
	case err == nil:
		connID = identity.NewConnectionID(id.UserID)
	case errors.Is(err, identity.ErrUnauthenticated):
		id, connID = identity.NewGuest()
	default:
		s.rejectUnauthenticated(w, r, err)
		return
	}

	client, conn, ok := s.admit(w, r, id, connID)
	if !ok {
		return
	}
	group := registry.GroupDashboard(roomCode)
	s.registry.Join(group, conn.ID)
	if id.Authenticated() {
		s.registry.Join(registry.GroupNotify(id.UserID), conn.ID)
		s.markOnline(r.Context(), id, true)
	}
	s.presence.BroadcastRoom(r.Context(), roomCode)

	limiter := ratelimit.NewSlidingWindow(s.clock, s.msgsPerMinute)
	client.readLoop(s.maxMessageBytes, func(data []byte) {
		s.router.Route(conn, limiter, data)
	})

	s.registry.Unregister(conn.ID)
	if id.Authenticated() {
		s.markOnline(context.Background(), id, false)
	}
	s.presence.BroadcastRoom(context.Background(), roomCode)
}

// handleTransfer serves the signaling feed. Authentication is required: the
// connection subscribes to the user's notify channel and every inbound
// message goes through the router.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := s.identity.Identify(r)
	if err != nil {
		s.rejectUnauthenticated(w, r, err)
		return
	}

	client, conn, ok := s.admit(w, r, id, identity.NewConnectionID(id.UserID))
	if !ok {
		return
	}
	s.registry.Join(registry.GroupNotify(id.UserID), conn.ID)

	limiter := ratelimit.NewSlidingWindow(s.clock, s.msgsPerMinute)
	client.readLoop(s.maxMessageBytes, func(data []byte) {
		s.router.Route(conn, limiter, data)
	})

	s.registry.Unregister(conn.ID)
}

// admit upgrades the request and registers the connection. On upgrade
// failure gorilla has already written the error response.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, id identity.Identity, connID string) (*Client, *registry.Connection, bool) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "path", r.URL.Path, "err", err)
		return nil, nil, false
	}
	client := newClient(ws, s.sendBuffer, s.log)
	go client.writePump()

	conn := registry.NewConnection(connID, id.UserID, id.DisplayName, id.Google, client)
	s.registry.Register(conn)
	return client, conn, true
}

func (s *Server) rejectUnauthenticated(w http.ResponseWriter, r *http.Request, err error) {
	s.metrics.Inc(metrics.AuthRejected)
	s.log.Warn("rejecting unauthenticated websocket", "path", r.URL.Path, "err", err)
	http.Error(w, "authentication required", http.StatusUnauthorized)
}

// markOnline records the user's status without disturbing their room
// association. Store failures are logged; presence will self-correct on the
// next successful status change.
func (s *Server) markOnline(ctx context.Context, id identity.Identity, online bool) {
	ctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
	defer cancel()

	err := s.dispatch.Do(ctx, func(ctx context.Context) error {
		roomCode := ""
		prof, err := s.store.Profile(ctx, id.UserID)
		if err == nil {
			roomCode = prof.RoomCode
		} else if !errors.Is(err, store.ErrProfileNotFound) {
			return err
		}
		return s.store.SetOnline(ctx, store.User{
			ID:          id.UserID,
			DisplayName: id.DisplayName,
			Google:      id.Google,
		}, roomCode, online)
	})
	if err != nil {
		s.log.Error("recording online status failed",
			"user_id", id.UserID, "online", online, "err", err)
	}
}
