package metrics

import "sync"

// Event counter names used across the relay.
const (
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"

	MessagesForwarded   = "messages_forwarded"
	DropReasonMalformed = "malformed_dropped"
	DropReasonRateLimit = "rate_limited"
	DropReasonSlowConn  = "slow_consumer_dropped"

	RoomsCreated      = "rooms_created"
	RoomJoins         = "room_joins"
	RoomLeaves        = "room_leaves"
	PresenceSnapshots = "presence_snapshots"

	CacheMirrorFailures = "cache_mirror_failures"
	AuthRejected        = "auth_rejected"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay is expected to plug into a real metrics backend eventually; this
// type keeps enforcement and routing logic testable in the meantime.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
