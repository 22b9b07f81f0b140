package http_transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/Deepesh-Tiwari/Rhythm/internal/dto"
)

type ServiceSearch interface {
	GetListTrack(ctx context.Context, query string) ([]*dto.Track, error)
}

type ServiceRoom interface {
	CreateRoom(hostID, hostName string) (string, error)
	Enqueue(ctx context.Context, code string, track dto.Track, memberID string) (dto.QueueItem, bool, error)
	VoteSkip(code, memberID string) (dto.VoteResult, error)
	RemoveFromQueue(code, itemID, memberID string) error
	SyncState(code string) (dto.PlaybackSync, error)
	GetAllRoomsInfo() []*dto.RoomInfo
	ServerTime() time.Time
}

type AudioStreamer interface {
	GetOrFetch(ctx context.Context, playableID string) (io.ReadCloser, error)
}

type Handler struct {
	servSearch ServiceSearch
	servRoom   ServiceRoom
	streamer   AudioStreamer
}

func NewHandler(servSearch ServiceSearch, servRoom ServiceRoom, streamer AudioStreamer) *Handler {
	return &Handler{servSearch: servSearch, servRoom: servRoom, streamer: streamer}
}

func (h *Handler) GetListTrack(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("name")
	if query == "" {
		WriteJsonError(w, http.StatusBadRequest, "query parameter name is required")
		return
	}

	res, err := h.servSearch.GetListTrack(r.Context(), query)
	if err != nil {
		WriteJsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJson(w, http.StatusOK, res)
}

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	hostID := r.URL.Query().Get("host")
	if hostID == "" {
		WriteJsonError(w, http.StatusBadRequest, "query parameter host is required")
		return
	}
	hostName := r.URL.Query().Get("name")

	code, err := h.servRoom.CreateRoom(hostID, hostName)
	if err != nil {
		WriteJsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJson(w, http.StatusCreated, dto.ResponseRoom{Code: code})
}

func (h *Handler) AddTrackInQueue(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	memberID := r.URL.Query().Get("member")
	if code == "" || memberID == "" {
		WriteJsonError(w, http.StatusBadRequest, "query parameters code and member are required")
		return
	}

	var track dto.Track
	if err := json.NewDecoder(r.Body).Decode(&track); err != nil {
		WriteJsonError(w, http.StatusBadRequest, "body is required")
		return
	}
	if track.ID == "" {
		WriteJsonError(w, http.StatusBadRequest, "track id is required")
		return
	}

	item, autoplayed, err := h.servRoom.Enqueue(r.Context(), code, track, memberID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJson(w, http.StatusOK, map[string]any{
		"item":       item,
		"autoplayed": autoplayed,
	})
}

func (h *Handler) VoteSkip(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	memberID := r.URL.Query().Get("member")
	if code == "" || memberID == "" {
		WriteJsonError(w, http.StatusBadRequest, "query parameters code and member are required")
		return
	}

	result, err := h.servRoom.VoteSkip(code, memberID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJson(w, http.StatusOK, result)
}

func (h *Handler) RemoveFromQueue(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	itemID := r.URL.Query().Get("item")
	memberID := r.URL.Query().Get("member")
	if code == "" || itemID == "" || memberID == "" {
		WriteJsonError(w, http.StatusBadRequest, "query parameters code, item and member are required")
		return
	}

	if err := h.servRoom.RemoveFromQueue(code, itemID, memberID); err != nil {
		WriteServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) GetSyncState(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		WriteJsonError(w, http.StatusBadRequest, "query parameter code is required")
		return
	}

	state, err := h.servRoom.SyncState(code)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJson(w, http.StatusOK, state)
}

func (h *Handler) GetAllRoomsInfo(w http.ResponseWriter, r *http.Request) {
	WriteJson(w, http.StatusOK, h.servRoom.GetAllRoomsInfo())
}

// GetServerTime serves the clock-sync exchange for HTTP clients.
func (h *Handler) GetServerTime(w http.ResponseWriter, r *http.Request) {
	now := h.servRoom.ServerTime()
	WriteJson(w, http.StatusOK, map[string]int64{"serverTime": now.UnixMilli()})
}

// Stream serves cached audio bytes for a playable id, fetching on first
// access.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	playableID := r.URL.Query().Get("id")
	if playableID == "" {
		WriteJsonError(w, http.StatusBadRequest, "query parameter id is required")
		return
	}

	rc, err := h.streamer.GetOrFetch(r.Context(), playableID)
	if err != nil {
		WriteJsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	if f, ok := rc.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
		}
	}

	if _, err := io.Copy(w, rc); err != nil {
		// Client went away mid-stream; nothing useful left to write.
		return
	}
}
