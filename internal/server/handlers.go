package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/storage"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "room not found")
	case errors.Is(err, storage.ErrAmbiguous):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// NewRoomID returns 8 lowercase hex characters.
func NewRoomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// --- Room service ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRoomResponse struct {
	RoomID string `json:"room_id"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	id := NewRoomID()
	if s.store != nil {
		// Collisions are unlikely; retry a couple of times before giving up.
		var err error
		for attempt := 0; attempt < 3; attempt++ {
			if err = s.store.CreateRoom(r.Context(), &storage.Room{ID: id}); err == nil {
				break
			}
			id = NewRoomID()
		}
		if err != nil {
			s.logger.Error("registering room", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not register room")
			return
		}
	}
	s.metrics.RoomsCreated.Inc()
	writeJSON(w, http.StatusOK, createRoomResponse{RoomID: id})
}

// --- Registry administration ---

type roomView struct {
	storage.Room
	Members int `json:"members"`
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "room registry disabled")
		return false
	}
	return true
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	opts := storage.RoomListOptions{}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	rooms, err := s.store.ListRooms(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]roomView, 0, len(rooms))
	for _, room := range rooms {
		views = append(views, roomView{Room: room, Members: s.hub.Members(room.ID)})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	room, err := s.store.GetRoom(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomView{Room: *room, Members: s.hub.Members(room.ID)})
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	room, err := s.store.GetRoom(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Disconnect live members first
	s.hub.Evict(room.ID)

	if err := s.store.DeleteRoom(r.Context(), room.ID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLiveRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Rooms())
}
