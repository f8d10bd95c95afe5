package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/int-arsh/codenest/internal/db"
)

// Rooms that have saved version history, independent of whether they are live

type HistoryRoomResponse struct {
	ID           string    `json:"id"`
	VersionCount int       `json:"version_count"`
	Live         bool      `json:"live"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (a *API) historyRoom(r *db.Room) HistoryRoomResponse {
	count, err := a.database.GetVersionCount(r.ID)
	if err != nil {
		a.log.Warn("api.history.count", "room", r.ID, "err", err)
	}
	_, live := a.registry.Lookup(r.ID)
	return HistoryRoomResponse{
		ID:           r.ID,
		VersionCount: count,
		Live:         live,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (a *API) ListHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, offset := pagination(r, 20)

	rooms, err := a.database.ListRooms(limit, offset)
	if err != nil {
		a.log.Error("api.history.list", "err", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	response := make([]HistoryRoomResponse, len(rooms))
	for i := range rooms {
		response[i] = a.historyRoom(&rooms[i])
	}

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) GetHistoryHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	saved, err := a.database.GetRoom(roomID)
	if err != nil {
		a.errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}
	if saved == nil {
		a.errorResponse(w, http.StatusNotFound, "Room has no history")
		return
	}

	a.jsonResponse(w, http.StatusOK, a.historyRoom(saved))
}

// DeleteHistoryHandler drops every saved version of a room. The live room,
// if any, is untouched.
func (a *API) DeleteHistoryHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	if r.Method != http.MethodDelete {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := a.database.DeleteRoom(roomID); err != nil {
		a.log.Error("api.history.delete", "room", roomID, "err", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to delete history")
		return
	}
	a.log.Info("api.history.deleted", "room", roomID)

	a.jsonResponse(w, http.StatusOK, map[string]string{"message": "History deleted"})
}

func (a *API) HistoryRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/history")
	roomID := strings.Trim(path, "/")

	// /api/history or /api/history/
	if roomID == "" {
		a.ListHistoryHandler(w, r)
		return
	}

	// /api/history/{id}
	switch r.Method {
	case http.MethodDelete:
		a.DeleteHistoryHandler(w, r, roomID)
	default:
		a.GetHistoryHandler(w, r, roomID)
	}
}
