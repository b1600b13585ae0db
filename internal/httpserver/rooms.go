package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/lilsandesh/NeoShare/internal/identity"
	"github.com/lilsandesh/NeoShare/internal/room"
	"github.com/lilsandesh/NeoShare/internal/store"
)

// roomResponse is the REST shape of a room.
type roomResponse struct {
	RoomCode  string    `json:"room_code"`
	AdminID   string    `json:"admin_id"`
	Status    string    `json:"status"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

func toRoomResponse(r store.Room) roomResponse {
	members := r.MemberIDs
	if members == nil {
		members = []string{}
	}
	return roomResponse{
		RoomCode:  r.Code,
		AdminID:   r.AdminID,
		Status:    r.Status,
		Members:   members,
		CreatedAt: r.CreatedAt,
	}
}

type joinRequest struct {
	RoomCode string `json:"room_code"`
}

// RegisterRoomRoutes mounts the room lifecycle REST API.
func (s *Server) RegisterRoomRoutes(coord *room.Coordinator, provider identity.Provider) {
	s.mux.HandleFunc("POST /rooms", s.withOriginPolicy(s.requireIdentity(provider,
		func(w http.ResponseWriter, r *http.Request, id identity.Identity) {
			created, err := coord.Create(r.Context(), id)
			if err != nil {
				s.writeRoomError(w, err)
				return
			}
			WriteJSON(w, http.StatusCreated, toRoomResponse(created))
		})))

	s.mux.HandleFunc("POST /rooms/join", s.withOriginPolicy(s.requireIdentity(provider,
		func(w http.ResponseWriter, r *http.Request, id identity.Identity) {
			var req joinRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			if !room.ValidCode(req.RoomCode) {
				WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid room code"})
				return
			}
			joined, err := coord.Join(r.Context(), id, req.RoomCode)
			if err != nil {
				s.writeRoomError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, toRoomResponse(joined))
		})))

	s.mux.HandleFunc("POST /rooms/leave", s.withOriginPolicy(s.requireIdentity(provider,
		func(w http.ResponseWriter, r *http.Request, id identity.Identity) {
			code, err := coord.Leave(r.Context(), id)
			if err != nil {
				s.writeRoomError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]any{"room_code": code})
		})))

	s.mux.HandleFunc("GET /rooms/{room_code}", s.withOriginPolicy(s.requireIdentity(provider,
		func(w http.ResponseWriter, r *http.Request, id identity.Identity) {
			code := r.PathValue("room_code")
			if !room.ValidCode(code) {
				WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid room code"})
				return
			}
			got, err := coord.Get(r.Context(), code)
			if err != nil {
				s.writeRoomError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, toRoomResponse(got))
		})))
}

type identityHandler func(w http.ResponseWriter, r *http.Request, id identity.Identity)

func (s *Server) requireIdentity(provider identity.Provider, next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := provider.Identify(r)
		if err != nil {
			WriteJSON(w, http.StatusUnauthorized, map[string]any{"error": "authentication required"})
			return
		}
		next(w, r, id)
	}
}

func (s *Server) writeRoomError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrRoomNotFound):
		WriteJSON(w, http.StatusNotFound, map[string]any{"error": "room not found"})
	case errors.Is(err, store.ErrAlreadyMember):
		WriteJSON(w, http.StatusConflict, map[string]any{"error": "already a member of this room"})
	case errors.Is(err, store.ErrNotMember), errors.Is(err, store.ErrProfileNotFound):
		WriteJSON(w, http.StatusConflict, map[string]any{"error": "not a member of any room"})
	case errors.Is(err, room.ErrCodeExhausted):
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "could not allocate a room code"})
	default:
		s.log.Error("room operation failed", "err", err)
		WriteJSON(w, http.StatusBadGateway, map[string]any{"error": "membership store unavailable"})
	}
}

// decodeJSON reads one strict JSON body. On failure it writes the 400 and
// reports false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed request body"})
		return false
	}
	return true
}
