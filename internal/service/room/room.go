package room

import (
	"sort"
	"sync"
	"time"

	"github.com/Deepesh-Tiwari/Rhythm/internal/dto"
)

type member struct {
	id       string
	name     string
	role     dto.Role
	joinedAt time.Time
	pending  *time.Timer // armed during the disconnect grace period
}

// anchor is the single playback anchor of a room. While playing, the true
// position at server instant t is position + (t - lastUpdated); while
// paused it is position exactly.
type anchor struct {
	playableID  string
	trackID     string
	name        string
	artist      string
	image       string
	playing     bool
	position    float64
	lastUpdated time.Time
	skipVotes   map[string]struct{}
}

func (a *anchor) idle() bool { return a.playableID == "" }

type Room struct {
	mu          sync.Mutex
	code        string
	host        string
	queue       []dto.QueueItem
	anchor      anchor
	members     map[string]*member
	subscribers map[int]chan dto.Event
	nextSubID   int
	isActive    bool
	createdAt   time.Time
	emptySince  time.Time // when the last subscriber went away; zero while occupied
}

// broadcastLocked delivers an event to every subscriber. A subscriber that
// cannot keep up with its buffer is dropped, as the websocket writer will
// notice the closed channel and tear the connection down.
func (r *Room) broadcastLocked(ev dto.Event) {
	for subID, ch := range r.subscribers {
		select {
		case ch <- ev:
		default:
			delete(r.subscribers, subID)
			close(ch)
		}
	}
}

func (r *Room) queueLocked() []dto.QueueItem {
	q := make([]dto.QueueItem, len(r.queue))
	copy(q, r.queue)
	return q
}

// membersLocked snapshots the roster ordered by join time. A member inside
// the disconnect grace window is still part of the room: removal becomes
// observable only once the grace timer finalizes it.
func (r *Room) membersLocked() []dto.Member {
	out := make([]dto.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, dto.Member{
			ID:       m.id,
			Name:     m.name,
			Role:     m.role,
			JoinedAt: m.joinedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (r *Room) activeCountLocked() int {
	return len(r.members)
}

func (r *Room) positionLocked(now time.Time) float64 {
	pos := r.anchor.position
	if r.anchor.playing {
		pos += now.Sub(r.anchor.lastUpdated).Seconds()
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

// playbackEventLocked renders the anchor as a playback_sync event. The raw
// (position, lastUpdated) pair is sent, not a computed position, so every
// client applies the same catch-up math against its own clock offset.
func (r *Room) playbackEventLocked() dto.Event {
	ps := dto.PlaybackSync{
		Action:     dto.ActionStop,
		SeekTime:   r.anchor.position,
		ServerTime: r.anchor.lastUpdated,
	}
	if !r.anchor.idle() {
		ps.PlayableID = r.anchor.playableID
		ps.Name = r.anchor.name
		ps.Artist = r.anchor.artist
		ps.Image = r.anchor.image
		if r.anchor.playing {
			ps.Action = dto.ActionPlay
		} else {
			ps.Action = dto.ActionPause
		}
	}
	return dto.Event{Type: dto.EventPlaybackSync, Playback: &ps}
}

func (r *Room) queueEventLocked() dto.Event {
	return dto.Event{Type: dto.EventQueueUpdate, Queue: r.queueLocked()}
}

func (r *Room) rosterEventLocked(newHostID string) dto.Event {
	return dto.Event{Type: dto.EventRoomUpdate, Room: &dto.RoomUpdate{
		ActiveMembers: r.membersLocked(),
		NewHostID:     newHostID,
	}}
}
