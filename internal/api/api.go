package api

import (
	"net/http"

	http_transport "github.com/Deepesh-Tiwari/Rhythm/internal/transport/http"
	ws_transport "github.com/Deepesh-Tiwari/Rhythm/internal/transport/ws"
)

type API struct {
	mux *http.ServeMux
}

type Deps struct {
	HttpHandler *http_transport.Handler
	WsHandler   *ws_transport.WSHandler
}

func NewAPI(deps Deps) *API {
	apiMux := http.NewServeMux()

	apiMux.HandleFunc("/tracks", Method(http.MethodGet, deps.HttpHandler.GetListTrack))
	apiMux.HandleFunc("/rooms", Method(http.MethodPost, deps.HttpHandler.CreateRoom))
	apiMux.HandleFunc("/rooms/info", Method(http.MethodGet, deps.HttpHandler.GetAllRoomsInfo))
	apiMux.HandleFunc("/rooms/sync", Method(http.MethodGet, deps.HttpHandler.GetSyncState))
	apiMux.HandleFunc("/rooms/vote", Method(http.MethodPost, deps.HttpHandler.VoteSkip))
	apiMux.HandleFunc("/stream", Method(http.MethodGet, deps.HttpHandler.Stream))
	apiMux.HandleFunc("/time", Method(http.MethodGet, deps.HttpHandler.GetServerTime))
	apiMux.HandleFunc("/rooms/queue", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			deps.HttpHandler.AddTrackInQueue(w, r)
		case http.MethodDelete:
			deps.HttpHandler.RemoveFromQueue(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	rootMux := http.NewServeMux()

	rootMux.Handle("/api/v1/", http.StripPrefix("/api/v1", apiMux))

	rootMux.HandleFunc("/ws/room", deps.WsHandler.RoomWS)

	return &API{mux: rootMux}
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func Method(method string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		handler(w, r)
	}
}
