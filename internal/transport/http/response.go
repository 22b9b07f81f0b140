package http_transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Deepesh-Tiwari/Rhythm/internal/dto"
	"github.com/Deepesh-Tiwari/Rhythm/internal/service/resolve"
	"github.com/Deepesh-Tiwari/Rhythm/internal/service/room"
)

func WriteJson(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	_ = json.NewEncoder(w).Encode(v)
}

func WriteJsonError(w http.ResponseWriter, code int, message string) {
	WriteJson(w, code, dto.ErrorResponse{Message: message})
}

// WriteServiceError maps the service error taxonomy onto HTTP statuses.
func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrQueueItemNotFound):
		WriteJsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, room.ErrUnauthorized), errors.Is(err, room.ErrNotMember):
		WriteJsonError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, room.ErrAlreadyVoted):
		WriteJsonError(w, http.StatusConflict, err.Error())
	case errors.Is(err, room.ErrNothingPlaying):
		WriteJsonError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, resolve.ErrNoPlayableAudio):
		WriteJsonError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		WriteJsonError(w, http.StatusInternalServerError, err.Error())
	}
}
