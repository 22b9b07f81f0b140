// Package room holds the authoritative state of every listening room and is
// the single mutation point for queue, playback anchor and membership. All
// mutations of one room run under that room's lock; long I/O (resolution,
// downloads) happens outside the lock and is re-injected as a mutation.
package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/Deepesh-Tiwari/Rhythm/internal/dto"
)

var (
	ErrRoomNotFound      = errors.New("room does not exist")
	ErrNotMember         = errors.New("not a member of this room")
	ErrNothingPlaying    = errors.New("nothing is playing")
	ErrAlreadyVoted      = errors.New("member already voted to skip")
	ErrUnauthorized      = errors.New("member is not allowed to do this")
	ErrQueueItemNotFound = errors.New("queue item not found")
)

// Resolver turns an external track reference into a playable audio id.
type Resolver interface {
	Resolve(ctx context.Context, track dto.Track) (string, error)
}

// Prefetcher warms the audio file cache in the background.
type Prefetcher interface {
	Prefetch(playableID string)
}

type Options struct {
	// Grace is how long a disconnected member is kept before removal.
	Grace time.Duration
	// EmptyRoomTTL is how long an empty room survives before the cleanup
	// worker reaps it.
	EmptyRoomTTL time.Duration
}

type Service struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	resolver   Resolver
	prefetcher Prefetcher
	opts       Options
	logger     *log.Logger
	now        func() time.Time
}

func NewService(resolver Resolver, prefetcher Prefetcher, opts Options, logger *log.Logger) *Service {
	if opts.Grace <= 0 {
		opts.Grace = 5 * time.Second
	}
	if opts.EmptyRoomTTL <= 0 {
		opts.EmptyRoomTTL = 5 * time.Minute
	}
	return &Service{
		rooms:      make(map[string]*Room),
		resolver:   resolver,
		prefetcher: prefetcher,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// ServerTime is the wall clock clients sync their offset against.
func (s *Service) ServerTime() time.Time {
	return s.now()
}

// CreateRoom registers a room with the creator as host and returns the join
// code.
func (s *Service) CreateRoom(hostID, hostName string) (string, error) {
	if hostID == "" {
		return "", fmt.Errorf("host id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var code string
	for {
		code = newCode()
		if _, taken := s.rooms[code]; !taken {
			break
		}
	}

	now := s.now()
	s.rooms[code] = &Room{
		code: code,
		host: hostID,
		members: map[string]*member{
			hostID: {id: hostID, name: hostName, role: dto.RoleHost, joinedAt: now},
		},
		anchor:      anchor{skipVotes: make(map[string]struct{}), lastUpdated: now},
		subscribers: make(map[int]chan dto.Event),
		nextSubID:   1,
		isActive:    true,
		createdAt:   now,
	}

	s.logger.Infof("room created: %s (host %s)", code, hostID)
	return code, nil
}

// newCode derives a 6-character upper-case join code from a uuid.
func newCode() string {
	id := uuid.NewString()
	return strings.ToUpper(strings.ReplaceAll(id, "-", "")[:6])
}

func (s *Service) getRoom(code string) (*Room, error) {
	s.mu.RLock()
	room, ok := s.rooms[code]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// Enqueue resolves the track, appends it to the queue and, if the room is
// idle, immediately dequeues it into the anchor (auto-play-on-idle). The
// resolved audio file is prefetched in the background either way.
func (s *Service) Enqueue(ctx context.Context, code string, track dto.Track, memberID string) (dto.QueueItem, bool, error) {
	room, err := s.getRoom(code)
	if err != nil {
		return dto.QueueItem{}, false, err
	}

	room.mu.Lock()
	if !room.isActive {
		room.mu.Unlock()
		return dto.QueueItem{}, false, ErrRoomNotFound
	}
	if _, ok := room.members[memberID]; !ok {
		room.mu.Unlock()
		return dto.QueueItem{}, false, ErrNotMember
	}
	room.mu.Unlock()

	// Resolution is slow I/O: never under the room lock.
	playableID, err := s.resolver.Resolve(ctx, track)
	if err != nil {
		return dto.QueueItem{}, false, err
	}

	if s.prefetcher != nil {
		s.prefetcher.Prefetch(playableID)
	}

	item := dto.QueueItem{
		ID:         uuid.NewString(),
		Track:      track,
		PlayableID: playableID,
		AddedBy:    memberID,
		AddedAt:    s.now(),
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	// The room may have changed during the slow resolve: re-validate.
	if !room.isActive {
		return dto.QueueItem{}, false, ErrRoomNotFound
	}
	if _, ok := room.members[memberID]; !ok {
		return dto.QueueItem{}, false, ErrNotMember
	}

	room.queue = append(room.queue, item)

	autoplayed := false
	if room.anchor.idle() {
		s.playNextLocked(room)
		autoplayed = true
	} else {
		room.broadcastLocked(room.queueEventLocked())
	}

	return item, autoplayed, nil
}

// playNextLocked pops the queue head into the anchor, or parks the room
// idle when the queue is empty. Skip votes are reset either way.
func (s *Service) playNextLocked(room *Room) {
	now := s.now()

	if len(room.queue) == 0 {
		room.anchor = anchor{
			skipVotes:   make(map[string]struct{}),
			lastUpdated: now,
		}
		room.broadcastLocked(room.playbackEventLocked())
		room.broadcastLocked(room.queueEventLocked())
		return
	}

	next := room.queue[0]
	room.queue = room.queue[1:]

	room.anchor = anchor{
		playableID:  next.PlayableID,
		trackID:     next.Track.ID,
		name:        next.Track.Name,
		artist:      next.Track.Artist,
		image:       next.Track.Image,
		playing:     true,
		position:    0,
		lastUpdated: now,
		skipVotes:   make(map[string]struct{}),
	}

	room.broadcastLocked(room.playbackEventLocked())
	room.broadcastLocked(dto.Event{Type: dto.EventNewMessage, Message: &dto.ChatMessage{
		ID:      uuid.NewString(),
		Content: fmt.Sprintf("Now Playing: %s - %s", next.Track.Name, next.Track.Artist),
		Kind:    "system",
		SentAt:  now,
	}})
	room.broadcastLocked(room.queueEventLocked())

	// Warm the cache for the upcoming head so transitions don't stall.
	if s.prefetcher != nil && len(room.queue) > 0 {
		s.prefetcher.Prefetch(room.queue[0].PlayableID)
	}

	s.logger.Infof("room %s now playing %q", room.code, next.Track.Name)
}

// VoteSkip registers a skip vote. The host always skips immediately; others
// skip once votes reach ceil(activeMembers/2).
func (s *Service) VoteSkip(code, memberID string) (dto.VoteResult, error) {
	room, err := s.getRoom(code)
	if err != nil {
		return dto.VoteResult{}, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if !room.isActive {
		return dto.VoteResult{}, ErrRoomNotFound
	}
	m, ok := room.members[memberID]
	if !ok {
		return dto.VoteResult{}, ErrNotMember
	}
	if room.anchor.idle() {
		return dto.VoteResult{}, ErrNothingPlaying
	}

	if m.role == dto.RoleHost {
		s.logger.Infof("room %s: host force-skip", code)
		s.playNextLocked(room)
		return dto.VoteResult{Skipped: true}, nil
	}

	if _, voted := room.anchor.skipVotes[memberID]; voted {
		return dto.VoteResult{}, ErrAlreadyVoted
	}
	room.anchor.skipVotes[memberID] = struct{}{}

	needed := voteThreshold(room.activeCountLocked())
	votes := len(room.anchor.skipVotes)

	if votes >= needed {
		s.logger.Infof("room %s: skip threshold reached (%d/%d)", code, votes, needed)
		s.playNextLocked(room)
		return dto.VoteResult{Skipped: true, Votes: votes, Needed: needed}, nil
	}

	return dto.VoteResult{Votes: votes, Needed: needed}, nil
}

// voteThreshold is ceil(n/2), so a simple majority always suffices and a
// minority can never block. An empty room degenerates to 1.
func voteThreshold(activeMembers int) int {
	if activeMembers <= 0 {
		return 1
	}
	return (activeMembers + 1) / 2
}

// RemoveFromQueue removes a queued item. Only the host or the original
// submitter may do so; the current anchor is never affected.
func (s *Service) RemoveFromQueue(code, itemID, memberID string) error {
	room, err := s.getRoom(code)
	if err != nil {
		return err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if !room.isActive {
		return ErrRoomNotFound
	}
	if _, ok := room.members[memberID]; !ok {
		return ErrNotMember
	}

	idx := -1
	for i, item := range room.queue {
		if item.ID == itemID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrQueueItemNotFound
	}

	isHost := room.host == memberID
	isSubmitter := room.queue[idx].AddedBy == memberID
	if !isHost && !isSubmitter {
		return ErrUnauthorized
	}

	room.queue = append(room.queue[:idx], room.queue[idx+1:]...)
	room.broadcastLocked(room.queueEventLocked())
	return nil
}

// HostPlay re-arms the anchor at the given position. On an idle room with a
// non-empty queue it starts the queue instead.
func (s *Service) HostPlay(code, memberID string, seekTime float64) error {
	room, err := s.getRoom(code)
	if err != nil {
		return err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if err := s.requireHostLocked(room, memberID); err != nil {
		return err
	}

	if room.anchor.idle() {
		if len(room.queue) == 0 {
			return ErrNothingPlaying
		}
		s.playNextLocked(room)
		return nil
	}

	if seekTime < 0 {
		seekTime = 0
	}

	room.anchor.position = seekTime
	room.anchor.playing = true
	room.anchor.lastUpdated = s.now()
	room.broadcastLocked(room.playbackEventLocked())
	return nil
}

// HostPause freezes the anchor at the given position.
func (s *Service) HostPause(code, memberID string, seekTime float64) error {
	room, err := s.getRoom(code)
	if err != nil {
		return err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if err := s.requireHostLocked(room, memberID); err != nil {
		return err
	}
	if room.anchor.idle() {
		return ErrNothingPlaying
	}

	if seekTime < 0 {
		seekTime = 0
	}

	room.anchor.position = seekTime
	room.anchor.playing = false
	room.anchor.lastUpdated = s.now()
	room.broadcastLocked(room.playbackEventLocked())
	return nil
}

// TrackEnded is the host client's signal that the current track finished.
func (s *Service) TrackEnded(code, memberID string) error {
	room, err := s.getRoom(code)
	if err != nil {
		return err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if err := s.requireHostLocked(room, memberID); err != nil {
		return err
	}

	s.playNextLocked(room)
	return nil
}

func (s *Service) requireHostLocked(room *Room, memberID string) error {
	if !room.isActive {
		return ErrRoomNotFound
	}
	m, ok := room.members[memberID]
	if !ok {
		return ErrNotMember
	}
	if m.role != dto.RoleHost {
		return ErrUnauthorized
	}
	return nil
}

// SendChat relays a chat message to the room.
func (s *Service) SendChat(code, memberID, content string) error {
	room, err := s.getRoom(code)
	if err != nil {
		return err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if !room.isActive {
		return ErrRoomNotFound
	}
	m, ok := room.members[memberID]
	if !ok {
		return ErrNotMember
	}

	room.broadcastLocked(dto.Event{Type: dto.EventNewMessage, Message: &dto.ChatMessage{
		ID:      uuid.NewString(),
		Sender:  m.id,
		Name:    m.name,
		Content: content,
		Kind:    "text",
		SentAt:  s.now(),
	}})
	return nil
}

// SyncState computes the effective playback state right now, for clients
// that poll over HTTP instead of holding a websocket.
func (s *Service) SyncState(code string) (dto.PlaybackSync, error) {
	room, err := s.getRoom(code)
	if err != nil {
		return dto.PlaybackSync{}, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if !room.isActive {
		return dto.PlaybackSync{}, ErrRoomNotFound
	}

	now := s.now()
	ev := room.playbackEventLocked()
	ps := *ev.Playback
	ps.SeekTime = room.positionLocked(now)
	ps.ServerTime = now
	return ps, nil
}

// GetAllRoomsInfo snapshots every active room.
func (s *Service) GetAllRoomsInfo() []*dto.RoomInfo {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.RUnlock()

	results := make([]*dto.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		room.mu.Lock()
		if !room.isActive {
			room.mu.Unlock()
			continue
		}

		info := &dto.RoomInfo{
			Code:    room.code,
			Host:    room.host,
			Queue:   room.queueLocked(),
			Playing: room.anchor.playing,
			Members: room.activeCountLocked(),
		}
		if !room.anchor.idle() {
			info.Current = &dto.QueueItem{
				Track: dto.Track{
					ID:     room.anchor.trackID,
					Name:   room.anchor.name,
					Artist: room.anchor.artist,
					Image:  room.anchor.image,
				},
				PlayableID: room.anchor.playableID,
			}
		}
		room.mu.Unlock()

		results = append(results, info)
	}
	return results
}

// RemoveRoom drops a room and closes every subscriber channel.
func (s *Service) RemoveRoom(code string) {
	s.mu.Lock()
	room, ok := s.rooms[code]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.rooms, code)
	s.mu.Unlock()

	room.mu.Lock()
	for subID, ch := range room.subscribers {
		delete(room.subscribers, subID)
		close(ch)
	}
	for _, m := range room.members {
		if m.pending != nil {
			m.pending.Stop()
		}
	}
	room.isActive = false
	room.mu.Unlock()

	s.logger.Infof("room removed: %s", code)
}

// StartCleanupWorker reaps deactivated rooms and rooms that stayed empty
// past the TTL.
func (s *Service) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupRooms()
		}
	}
}

func (s *Service) cleanupRooms() {
	now := s.now()

	s.mu.RLock()
	var codes []string
	for code, room := range s.rooms {
		room.mu.Lock()
		dead := !room.isActive
		// Idleness is measured from when the room last lost its final
		// subscriber, not from creation: brief zero-subscriber windows are
		// normal while members ride out the disconnect grace period.
		if len(room.subscribers) == 0 {
			if room.emptySince.IsZero() {
				room.emptySince = now
			}
		} else {
			room.emptySince = time.Time{}
		}
		idleTooLong := !room.emptySince.IsZero() && now.Sub(room.emptySince) > s.opts.EmptyRoomTTL
		room.mu.Unlock()

		if dead || idleTooLong {
			codes = append(codes, code)
		}
	}
	s.mu.RUnlock()

	for _, code := range codes {
		s.RemoveRoom(code)
	}
}
