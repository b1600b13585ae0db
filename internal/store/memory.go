package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is the in-process Store used in dev mode and tests. Single-node
// deployments can run on it; anything multi-node needs Postgres.
type Memory struct {
	mu       sync.RWMutex
	rooms    map[string]*memRoom
	profiles map[string]Profile
}

type memRoom struct {
	room    Room
	members map[string]time.Time // user id -> joined at
}

func NewMemory() *Memory {
	return &Memory{
		rooms:    make(map[string]*memRoom),
		profiles: make(map[string]Profile),
	}
}

func (m *Memory) GetRoom(_ context.Context, code string) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[code]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	out := r.room
	out.MemberIDs = make([]string, 0, len(r.members))
	for id := range r.members {
		out.MemberIDs = append(out.MemberIDs, id)
	}
	sort.Strings(out.MemberIDs)
	return out, nil
}

func (m *Memory) CreateRoom(_ context.Context, code, adminID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[code]; ok {
		return ErrRoomExists
	}
	now := time.Now()
	m.rooms[code] = &memRoom{
		room: Room{
			Code:      code,
			AdminID:   adminID,
			Status:    RoomStatusActive,
			CreatedAt: now,
		},
		members: map[string]time.Time{adminID: now},
	}
	return nil
}

func (m *Memory) AddMember(_ context.Context, code, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}
	if _, ok := r.members[userID]; ok {
		return ErrAlreadyMember
	}
	r.members[userID] = time.Now()
	return nil
}

func (m *Memory) RemoveMember(_ context.Context, code, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}
	if _, ok := r.members[userID]; !ok {
		return ErrNotMember
	}
	delete(r.members, userID)
	return nil
}

func (m *Memory) SetOnline(_ context.Context, user User, roomCode string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.profiles[user.ID]
	p.UserID = user.ID
	if user.DisplayName != "" {
		p.DisplayName = user.DisplayName
	}
	p.Google = user.Google
	p.RoomCode = roomCode
	p.Online = online
	p.LastSeen = time.Now()
	m.profiles[user.ID] = p
	return nil
}

func (m *Memory) Profile(_ context.Context, userID string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

func (m *Memory) ListOnline(_ context.Context, roomCode string) ([]Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Profile
	for _, p := range m.profiles {
		if !p.Online {
			continue
		}
		if roomCode != "" && p.RoomCode != roomCode {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *Memory) Close() error { return nil }
