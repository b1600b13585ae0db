// Package registry tracks live connections and the named delivery groups
// they belong to.
//
// The registry owns connection lifetime: a connection exists from Register
// until Unregister, and Unregister removes it from every group it joined so
// no group can hold a dangling member. Group names follow the wire contract:
// "live_users" for the global presence feed, "dashboard:<room_code>" for a
// room feed, and "notify:<user_id>" for a user's private signaling channel.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lilsandesh/NeoShare/internal/metrics"
)

// Group name constants and builders.
const GroupLiveUsers = "live_users"

func GroupDashboard(roomCode string) string { return "dashboard:" + roomCode }
func GroupNotify(userID string) string      { return "notify:" + userID }

// Sink is the delivery endpoint of a connection. Deliver must not block:
// implementations enqueue onto a bounded buffer and report false when the
// buffer is full or the connection is closed.
type Sink interface {
	Deliver(payload []byte) bool
}

// Connection is one live transport session. UserID is empty for guests;
// guests are identified by their ConnectionID alone.
type Connection struct {
	ID          string
	UserID      string
	DisplayName string
	Google      bool
	JoinedAt    time.Time

	sink Sink
}

func NewConnection(id, userID, displayName string, google bool, sink Sink) *Connection {
	return &Connection{
		ID:          id,
		UserID:      userID,
		DisplayName: displayName,
		Google:      google,
		JoinedAt:    time.Now(),
		sink:        sink,
	}
}

// Deliver hands payload to the connection's sink.
func (c *Connection) Deliver(payload []byte) bool {
	if c == nil || c.sink == nil {
		return false
	}
	return c.sink.Deliver(payload)
}

func (c *Connection) Authenticated() bool { return c.UserID != "" }

// Sink exposes the delivery endpoint, so the transport layer can tear down
// the underlying session of a connection the registry flagged.
func (c *Connection) Sink() Sink { return c.sink }

// Registry is the shared connection and group map. All methods are safe for
// concurrent use from independent connection goroutines.
type Registry struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	// onSlowConsumer is invoked (outside the lock) for each connection whose
	// sink rejected a delivery during Send. The server layer uses it to close
	// the underlying transport.
	onSlowConsumer func(*Connection)

	mu     sync.RWMutex
	conns  map[string]*Connection
	groups map[string]map[string]*Connection
	joined map[string]map[string]struct{} // connection id -> set of group names
}

func New(log *slog.Logger, m *metrics.Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:     log,
		metrics: m,
		conns:   make(map[string]*Connection),
		groups:  make(map[string]map[string]*Connection),
		joined:  make(map[string]map[string]struct{}),
	}
}

// OnSlowConsumer registers the callback invoked when a delivery is rejected.
// It must be set during startup, before connections are admitted.
func (r *Registry) OnSlowConsumer(fn func(*Connection)) { r.onSlowConsumer = fn }

// Register admits a connection and returns its id. Registering an id that is
// already present replaces the old entry; callers generate unique ids so this
// only happens in tests.
func (r *Registry) Register(c *Connection) string {
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()

	r.metrics.Inc(metrics.ConnectionsOpened)
	r.log.Debug("connection registered", "connection_id", c.ID, "user_id", c.UserID)
	return c.ID
}

// Unregister removes the connection and strips it from every group it joined.
// Unknown ids are a no-op: disconnect races are expected, not errors.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, id)
	for group := range r.joined[id] {
		r.removeFromGroupLocked(group, id)
	}
	delete(r.joined, id)
	r.mu.Unlock()

	r.metrics.Inc(metrics.ConnectionsClosed)
	r.log.Debug("connection unregistered", "connection_id", id, "user_id", c.UserID)
}

// Lookup returns the connection for id, if it is still registered.
func (r *Registry) Lookup(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Join adds a registered connection to a group, creating the group on first
// use. Joining with an unregistered id is a no-op (the connection may already
// be gone by the time a handler gets here).
func (r *Registry) Join(group, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return
	}
	members, ok := r.groups[group]
	if !ok {
		members = make(map[string]*Connection)
		r.groups[group] = members
	}
	members[id] = c

	joined, ok := r.joined[id]
	if !ok {
		joined = make(map[string]struct{})
		r.joined[id] = joined
	}
	joined[group] = struct{}{}
}

// Leave removes the connection from a group. Empty groups are deleted so the
// group map cannot grow without bound.
func (r *Registry) Leave(group, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeFromGroupLocked(group, id)
	if joined, ok := r.joined[id]; ok {
		delete(joined, group)
		if len(joined) == 0 {
			delete(r.joined, id)
		}
	}
}

func (r *Registry) removeFromGroupLocked(group, id string) {
	members, ok := r.groups[group]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.groups, group)
	}
}

// Members returns a snapshot of the group's current members. The slice is
// detached: concurrent joins and leaves do not affect it.
func (r *Registry) Members(group string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.groups[group]
	out := make([]*Connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Send delivers payload to every connection in the group at the moment of the
// call. A missing or empty group is a no-op. Connections whose sink rejects
// the delivery are reported to the slow-consumer callback; they are not
// removed here so the transport layer stays in charge of closing them.
//
// The return value is the number of successful deliveries.
func (r *Registry) Send(group string, payload []byte) int {
	members := r.Members(group)
	if len(members) == 0 {
		return 0
	}

	var failed []*Connection
	delivered := 0
	for _, c := range members {
		if c.Deliver(payload) {
			delivered++
			continue
		}
		failed = append(failed, c)
	}

	for _, c := range failed {
		r.metrics.Inc(metrics.DropReasonSlowConn)
		r.log.Warn("dropping slow consumer", "connection_id", c.ID, "group", group)
		if r.onSlowConsumer != nil {
			r.onSlowConsumer(c)
		}
	}
	return delivered
}

// SendToUser delivers payload to the user's private notify group.
func (r *Registry) SendToUser(userID string, payload []byte) int {
	return r.Send(GroupNotify(userID), payload)
}

// Groups returns the group names the connection currently belongs to, for
// diagnostics and tests.
func (r *Registry) Groups(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.joined[id]))
	for g := range r.joined[id] {
		out = append(out, g)
	}
	return out
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("registry(conns=%d groups=%d)", len(r.conns), len(r.groups))
}
