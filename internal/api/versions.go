package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/int-arsh/codenest/internal/db"
	"github.com/int-arsh/codenest/internal/metrics"
)

type CreateVersionRequest struct {
	RoomID      string  `json:"room_id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Content     *string `json:"content"` // Defaults to the room's live content
	CreatedBy   string  `json:"created_by"`
	IsAuto      bool    `json:"is_auto"`
}

type VersionResponse struct {
	ID          int       `json:"id"`
	RoomID      string    `json:"room_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Content     string    `json:"content,omitempty"` // Omit in list view
	ContentHash string    `json:"content_hash"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	IsAuto      bool      `json:"is_auto"`
}

func versionResponse(v *db.Version, withContent bool) VersionResponse {
	resp := VersionResponse{
		ID:          v.ID,
		RoomID:      v.RoomID,
		Name:        v.Name,
		Description: v.Description,
		ContentHash: v.ContentHash,
		CreatedBy:   v.CreatedBy,
		CreatedAt:   v.CreatedAt,
		IsAuto:      v.IsAuto,
	}
	if withContent {
		resp.Content = v.Content
	}
	return resp
}

func versionKind(isAuto bool) string {
	if isAuto {
		return "auto"
	}
	return "manual"
}

// ListVersionsHandler returns all versions for a room
func (a *API) ListVersionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		a.errorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}

	limit, offset := pagination(r, 50)

	versions, err := a.database.ListVersions(roomID, limit, offset)
	if err != nil {
		a.log.Error("api.versions.list", "room", roomID, "err", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to list versions")
		return
	}

	response := make([]VersionResponse, len(versions))
	for i := range versions {
		response[i] = versionResponse(&versions[i], false)
	}

	total, _ := a.database.GetVersionCount(roomID)

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"versions": response,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// CreateVersionHandler snapshots a room. Without an explicit content field the
// room must be live and its current document is saved.
func (a *API) CreateVersionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.RoomID == "" {
		a.errorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}

	var content string
	if req.Content != nil {
		content = *req.Content
	} else {
		snap, ok := a.registry.Lookup(req.RoomID)
		if !ok {
			a.errorResponse(w, http.StatusNotFound, "Room not found")
			return
		}
		content = snap.Content

		if req.IsAuto {
			a.autoSaveLive(w, req.RoomID)
			return
		}
	}

	if req.Name == "" {
		if req.IsAuto {
			req.Name = fmt.Sprintf("Auto-save %s", time.Now().Format("Jan 2, 3:04 PM"))
		} else {
			req.Name = fmt.Sprintf("Version %s", time.Now().Format("Jan 2, 3:04 PM"))
		}
	}

	// Skip duplicate auto-saves
	if req.IsAuto {
		latest, err := a.database.GetLatestVersion(req.RoomID)
		if err == nil && latest != nil && latest.ContentHash == db.HashContent(content) {
			a.jsonResponse(w, http.StatusOK, versionResponse(latest, false))
			return
		}
	}

	version, err := a.database.CreateVersion(req.RoomID, req.Name, req.Description, content, req.CreatedBy, req.IsAuto)
	if err != nil {
		a.log.Error("api.versions.create", "room", req.RoomID, "err", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to create version")
		return
	}
	metrics.VersionsSaved.WithLabelValues(versionKind(req.IsAuto)).Inc()

	if req.IsAuto {
		if err := a.database.DeleteOldAutoVersions(req.RoomID, a.saver.KeepAuto()); err != nil {
			a.log.Warn("api.versions.prune", "room", req.RoomID, "err", err)
		}
	}

	a.jsonResponse(w, http.StatusCreated, versionResponse(version, false))
}

// autoSaveLive hands a live room to the autosave service, which skips rooms
// unchanged since their last save.
func (a *API) autoSaveLive(w http.ResponseWriter, roomID string) {
	saved, err := a.saver.SaveNow(roomID)
	if err != nil {
		a.log.Error("api.versions.autosave", "room", roomID, "err", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to create version")
		return
	}

	latest, err := a.database.GetLatestVersion(roomID)
	if err != nil {
		a.errorResponse(w, http.StatusInternalServerError, "Failed to get version")
		return
	}
	if latest == nil {
		a.jsonResponse(w, http.StatusOK, map[string]string{"message": "No changes to save"})
		return
	}

	status := http.StatusOK
	if saved {
		status = http.StatusCreated
	}
	a.jsonResponse(w, status, versionResponse(latest, false))
}

func versionIDFromPath(path string) (int, error) {
	path = strings.TrimPrefix(path, "/api/versions/")
	path = strings.TrimSuffix(path, "/")
	path = strings.TrimSuffix(path, "/restore")
	return strconv.Atoi(path)
}

// GetVersionHandler retrieves a specific version with full content
func (a *API) GetVersionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	versionID, err := versionIDFromPath(r.URL.Path)
	if err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid version ID")
		return
	}

	version, err := a.database.GetVersion(versionID)
	if err != nil {
		a.errorResponse(w, http.StatusInternalServerError, "Failed to get version")
		return
	}
	if version == nil {
		a.errorResponse(w, http.StatusNotFound, "Version not found")
		return
	}

	a.jsonResponse(w, http.StatusOK, versionResponse(version, true))
}

func (a *API) DeleteVersionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	versionID, err := versionIDFromPath(r.URL.Path)
	if err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid version ID")
		return
	}

	if err := a.database.DeleteVersion(versionID); err != nil {
		a.errorResponse(w, http.StatusInternalServerError, "Failed to delete version")
		return
	}

	a.jsonResponse(w, http.StatusOK, map[string]string{"message": "Version deleted"})
}

// DiffVersionsHandler computes diff between two versions
func (a *API) DiffVersionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	fromID, err := strconv.Atoi(r.URL.Query().Get("from"))
	if err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid 'from' version ID")
		return
	}
	toID, err := strconv.Atoi(r.URL.Query().Get("to"))
	if err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid 'to' version ID")
		return
	}

	from, err := a.database.GetVersion(fromID)
	if err != nil || from == nil {
		a.errorResponse(w, http.StatusNotFound, "From version not found")
		return
	}
	to, err := a.database.GetVersion(toID)
	if err != nil || to == nil {
		a.errorResponse(w, http.StatusNotFound, "To version not found")
		return
	}

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"from": versionResponse(from, false),
		"to":   versionResponse(to, false),
		"diff": computeDiff(from.Content, to.Content),
	})
}

// RestoreVersionHandler records a restore version, then pushes its content to
// every member of the live room.
func (a *API) RestoreVersionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	versionID, err := versionIDFromPath(r.URL.Path)
	if err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid version ID")
		return
	}

	version, err := a.database.GetVersion(versionID)
	if err != nil {
		a.errorResponse(w, http.StatusInternalServerError, "Failed to get version")
		return
	}
	if version == nil {
		a.errorResponse(w, http.StatusNotFound, "Version not found")
		return
	}

	restored, err := a.database.CreateVersion(
		version.RoomID,
		fmt.Sprintf("Restored from: %s", version.Name),
		fmt.Sprintf("Restored to version %d (%s)", version.ID, version.Name),
		version.Content,
		"",
		false,
	)
	if err != nil {
		a.log.Error("api.versions.restore", "version", version.ID, "err", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to create restore version")
		return
	}
	metrics.VersionsSaved.WithLabelValues("restore").Inc()

	// No originator: every member gets the restored document
	notified := a.dispatcher.BroadcastUpdate(version.RoomID, version.Content, "")
	a.log.Info("api.versions.restored", "room", version.RoomID, "version", version.ID, "notified", notified)

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"message":       "Version restored",
		"restored_from": version.ID,
		"new_version":   restored.ID,
		"room_id":       version.RoomID,
		"notified":      notified,
		"content":       version.Content,
	})
}

func (a *API) VersionsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/versions")

	// /api/versions or /api/versions/
	if path == "" || path == "/" {
		switch r.Method {
		case http.MethodGet:
			a.ListVersionsHandler(w, r)
		case http.MethodPost:
			a.CreateVersionHandler(w, r)
		default:
			a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	if strings.HasPrefix(path, "/diff") {
		a.DiffVersionsHandler(w, r)
		return
	}

	if strings.HasSuffix(strings.TrimSuffix(path, "/"), "/restore") {
		a.RestoreVersionHandler(w, r)
		return
	}

	// /api/versions/{id}
	switch r.Method {
	case http.MethodGet:
		a.GetVersionHandler(w, r)
	case http.MethodDelete:
		a.DeleteVersionHandler(w, r)
	default:
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
