package ws_transport

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"net/http"

	"github.com/Deepesh-Tiwari/Rhythm/internal/dto"
	http_transport "github.com/Deepesh-Tiwari/Rhythm/internal/transport/http"
)

type ServiceRoom interface {
	Join(code, memberID, name string) (int, <-chan dto.Event, error)
	Disconnect(code string, subID int, memberID string)
	Enqueue(ctx context.Context, code string, track dto.Track, memberID string) (dto.QueueItem, bool, error)
	VoteSkip(code, memberID string) (dto.VoteResult, error)
	HostPlay(code, memberID string, seekTime float64) error
	HostPause(code, memberID string, seekTime float64) error
	TrackEnded(code, memberID string) error
	SendChat(code, memberID, content string) error
	ServerTime() time.Time
}

type WSHandler struct {
	service ServiceRoom
	logger  *log.Logger
}

func NewWSHandler(service ServiceRoom, logger *log.Logger) *WSHandler {
	return &WSHandler{service: service, logger: logger}
}

// RoomWS is the room connection: the client joins on upgrade, receives the
// event stream, and submits tagged commands. Closing the socket starts the
// member's disconnect grace period.
func (h *WSHandler) RoomWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	code := r.URL.Query().Get("id")
	memberID := r.URL.Query().Get("member")
	name := r.URL.Query().Get("name")
	if code == "" || memberID == "" {
		http_transport.WriteJsonError(w, http.StatusBadRequest, "query parameters id and member are required")
		return
	}

	subID, chEvents, err := h.service.Join(code, memberID, name)
	if err != nil {
		h.logger.Warnf("ws join rejected: %v", err)
		http_transport.WriteServiceError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Errorf("ws accept failed: %v", err)
		h.service.Disconnect(code, subID, memberID)
		return
	}

	defer conn.Close(websocket.StatusNormalClosure, "bye")
	defer h.service.Disconnect(code, subID, memberID)

	go func() {
		for {
			select {
			case ev, ok := <-chEvents:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "room closed")
					return
				}
				if err := wsjson.Write(ctx, conn, ev); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var cmd dto.Command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			return
		}

		if err := h.dispatch(ctx, conn, code, memberID, cmd); err != nil {
			// Command rejections stay local to this client.
			_ = wsjson.Write(ctx, conn, dto.ErrorResponse{Message: err.Error()})
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, conn *websocket.Conn, code, memberID string, cmd dto.Command) error {
	switch cmd.Type {
	case dto.CommandPlay:
		return h.service.HostPlay(code, memberID, cmd.SeekTime)
	case dto.CommandPause:
		return h.service.HostPause(code, memberID, cmd.SeekTime)
	case dto.CommandVoteSkip:
		_, err := h.service.VoteSkip(code, memberID)
		return err
	case dto.CommandTrackEnded:
		return h.service.TrackEnded(code, memberID)
	case dto.CommandEnqueue:
		if cmd.Track == nil {
			return errTrackRequired
		}
		_, _, err := h.service.Enqueue(ctx, code, *cmd.Track, memberID)
		return err
	case dto.CommandChat:
		return h.service.SendChat(code, memberID, cmd.Content)
	case dto.CommandServerTime:
		now := h.service.ServerTime()
		return wsjson.Write(ctx, conn, dto.Event{Type: dto.EventServerTime, ServerTime: &now})
	default:
		return errUnknownCommand
	}
}
