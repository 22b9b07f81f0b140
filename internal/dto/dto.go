package dto

import (
	"time"
)

// Track is an external track reference as supplied by the metadata provider.
// The ID belongs to the provider; playable audio is resolved separately.
type Track struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	Image      string `json:"image,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// QueueItem is one entry of a room's FIFO queue.
type QueueItem struct {
	ID         string    `json:"id"`
	Track      Track     `json:"track"`
	PlayableID string    `json:"playableId"`
	AddedBy    string    `json:"addedBy"`
	AddedAt    time.Time `json:"addedAt"`
}

type Role string

const (
	RoleHost      Role = "host"
	RoleModerator Role = "moderator"
	RoleListener  Role = "listener"
)

type Member struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// PlaybackAction discriminates playback_sync events.
type PlaybackAction string

const (
	ActionPlay  PlaybackAction = "play"
	ActionPause PlaybackAction = "pause"
	ActionStop  PlaybackAction = "stop"
)

// PlaybackSync is the anchor-point broadcast. For a play event the pair
// (SeekTime, ServerTime) is the anchor: the true position at any later
// server instant t is SeekTime + (t - ServerTime).
type PlaybackSync struct {
	Action     PlaybackAction `json:"action"`
	PlayableID string         `json:"playableId,omitempty"`
	SeekTime   float64        `json:"seekTime"`
	ServerTime time.Time      `json:"serverTime,omitempty"`
	Name       string         `json:"name,omitempty"`
	Artist     string         `json:"artist,omitempty"`
	Image      string         `json:"image,omitempty"`
}

type RoomUpdate struct {
	ActiveMembers []Member `json:"activeMembers"`
	NewHostID     string   `json:"newHostId,omitempty"`
}

type ChatMessage struct {
	ID      string    `json:"id"`
	Sender  string    `json:"sender,omitempty"` // empty for system notices
	Name    string    `json:"name,omitempty"`
	Content string    `json:"content"`
	Kind    string    `json:"kind"` // "text" or "system"
	SentAt  time.Time `json:"sentAt"`
}

// EventType identifies an outbound room event.
type EventType string

const (
	EventPlaybackSync EventType = "playback_sync"
	EventQueueUpdate  EventType = "queue_update"
	EventRoomUpdate   EventType = "room_update"
	EventNewMessage   EventType = "new_message"
	EventServerTime   EventType = "server_time"
)

// Event is the closed union broadcast to room subscribers. Exactly one
// payload field is set, matching Type.
type Event struct {
	Type       EventType     `json:"type"`
	Playback   *PlaybackSync `json:"playback,omitempty"`
	Queue      []QueueItem   `json:"queue,omitempty"`
	Room       *RoomUpdate   `json:"room,omitempty"`
	Message    *ChatMessage  `json:"message,omitempty"`
	ServerTime *time.Time    `json:"serverTime,omitempty"`
}

// CommandType identifies an inbound websocket command.
type CommandType string

const (
	CommandPlay       CommandType = "play"
	CommandPause      CommandType = "pause"
	CommandVoteSkip   CommandType = "vote_skip"
	CommandTrackEnded CommandType = "track_ended"
	CommandEnqueue    CommandType = "enqueue"
	CommandServerTime CommandType = "get_server_time"
	CommandChat       CommandType = "chat"
)

// Command is the inbound websocket message. Payload fields are read
// according to Type; unknown types are rejected.
type Command struct {
	Type     CommandType `json:"type"`
	SeekTime float64     `json:"seekTime,omitempty"`
	Track    *Track      `json:"track,omitempty"`
	Content  string      `json:"content,omitempty"`
}

type ResponseRoom struct {
	Code string `json:"code"`
}

// RoomInfo is the public snapshot returned by the rooms listing.
type RoomInfo struct {
	Code    string      `json:"code"`
	Host    string      `json:"host"`
	Current *QueueItem  `json:"current"`
	Queue   []QueueItem `json:"queue"`
	Playing bool        `json:"playing"`
	Members int         `json:"members"`
}

type VoteResult struct {
	Skipped bool `json:"skipped"`
	Votes   int  `json:"votes"`
	Needed  int  `json:"needed"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}
