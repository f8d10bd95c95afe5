package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/int-arsh/codenest/internal/broadcast"
	"github.com/int-arsh/codenest/internal/db"
	"github.com/int-arsh/codenest/internal/room"
)

// ClientCounter reports the number of open websocket connections
type ClientCounter interface {
	GetClientCount() int
}

// AutoSaver writes auto versions of live rooms
type AutoSaver interface {
	SaveNow(roomID string) (bool, error)
	KeepAuto() int
}

type API struct {
	registry   *room.Registry
	clients    ClientCounter
	dispatcher *broadcast.Dispatcher
	database   *db.Database
	saver      AutoSaver
	log        *slog.Logger
}

func New(registry *room.Registry, clients ClientCounter, dispatcher *broadcast.Dispatcher, database *db.Database, saver AutoSaver, logger *slog.Logger) *API {
	return &API{
		registry:   registry,
		clients:    clients,
		dispatcher: dispatcher,
		database:   database,
		saver:      saver,
		log:        logger,
	}
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Error("api.encode", "err", err)
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) IndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		a.errorResponse(w, http.StatusNotFound, "Not found")
		return
	}
	a.jsonResponse(w, http.StatusOK, map[string]string{
		"message": "Collaborative Editor Backend Running",
	})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"active_rooms":   a.registry.ActiveCount(),
		"live_rooms":     a.registry.Count(),
		"active_clients": a.clients.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err != nil {
			a.log.Warn("api.stats", "err", err)
		} else {
			stats["saved_rooms"] = dbStats.RoomCount
			stats["total_versions"] = dbStats.VersionCount
		}
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID            string    `json:"id"`
	ActiveUsers   int       `json:"active_users"`
	ContentLength int       `json:"content_length"`
	Content       *string   `json:"content,omitempty"` // Single room view only
	Revision      uint64    `json:"revision"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func roomResponse(s room.Snapshot, withContent bool) RoomResponse {
	resp := RoomResponse{
		ID:            s.ID,
		ActiveUsers:   s.MemberCount,
		ContentLength: len(s.Content),
		Revision:      s.Revision,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if withContent {
		content := s.Content
		resp.Content = &content
	}
	return resp
}

func pagination(r *http.Request, def int) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = def
	}
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListRoomsHandler lists live rooms, most recently active first
func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, offset := pagination(r, 20)
	rooms := a.registry.Rooms()
	total := len(rooms)

	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	response := make([]RoomResponse, 0, end-offset)
	for _, s := range rooms[offset:end] {
		response = append(response, roomResponse(s, false))
	}

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"rooms":  response,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Extract room ID from path: /api/rooms/{id}
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	roomID := strings.TrimSuffix(path, "/")

	if roomID == "" {
		a.errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	snap, ok := a.registry.Lookup(roomID)
	if !ok {
		a.errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	a.jsonResponse(w, http.StatusOK, roomResponse(snap, true))
}

func (a *API) RoomsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms")

	// /api/rooms or /api/rooms/
	if path == "" || path == "/" {
		a.ListRoomsHandler(w, r)
		return
	}

	// /api/rooms/{id}
	a.GetRoomHandler(w, r)
}
