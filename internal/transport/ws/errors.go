package ws_transport

import "errors"

var (
	errTrackRequired  = errors.New("enqueue command requires a track")
	errUnknownCommand = errors.New("unknown command type")
)
