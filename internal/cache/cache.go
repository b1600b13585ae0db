// Package cache is the auxiliary room directory mirror. It is best-effort by
// contract: every operation reports success or failure instead of returning
// an error, and callers log failures without aborting the request. The
// membership store stays authoritative.
package cache

import (
	"context"
	"time"
)

// Mirrored entries expire on their own if the relay never touches them again.
const MirrorTTL = 7 * 24 * time.Hour

// Cache stores small opaque values under string keys.
type Cache interface {
	// Set writes value under key and reports whether the write stuck.
	Set(ctx context.Context, key string, value []byte) bool

	// Get reads the value under key. The second result is false when the key
	// is absent or the backend is unreachable.
	Get(ctx context.Context, key string) ([]byte, bool)
}

// RoomKey is the mirror key for a room's directory entry.
func RoomKey(code string) string { return "room:" + code }

// Noop satisfies Cache while storing nothing. It is the backend when no
// cache is configured.
type Noop struct{}

func (Noop) Set(context.Context, string, []byte) bool   { return false }
func (Noop) Get(context.Context, string) ([]byte, bool) { return nil, false }
