package room

import (
	"time"

	"github.com/Deepesh-Tiwari/Rhythm/internal/dto"
)

// Join subscribes a member to a room's event stream and registers them in
// the roster. A rejoin during the disconnect grace period cancels the
// pending removal without any membership broadcast. The returned channel
// is primed with the current playback anchor, queue and roster.
func (s *Service) Join(code, memberID, name string) (int, <-chan dto.Event, error) {
	room, err := s.getRoom(code)
	if err != nil {
		return 0, nil, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if !room.isActive {
		return 0, nil, ErrRoomNotFound
	}
	if memberID == "" {
		return 0, nil, ErrNotMember
	}

	if m, ok := room.members[memberID]; ok {
		if m.pending != nil {
			// Rejoin within the grace window: the removal never happened.
			m.pending.Stop()
			m.pending = nil
			s.logger.Debugf("room %s: %s rejoined within grace period", code, memberID)
		}
		if name != "" {
			m.name = name
		}
	} else {
		role := dto.RoleListener
		if room.host == memberID {
			role = dto.RoleHost
		}
		room.members[memberID] = &member{
			id:       memberID,
			name:     name,
			role:     role,
			joinedAt: s.now(),
		}
		room.broadcastLocked(room.rosterEventLocked(""))
		s.logger.Infof("room %s: %s joined", code, memberID)
	}

	subID := room.nextSubID
	room.nextSubID++

	ch := make(chan dto.Event, 16)
	room.subscribers[subID] = ch
	room.emptySince = time.Time{}

	// Prime the new subscriber with the full current state.
	ch <- room.playbackEventLocked()
	ch <- room.queueEventLocked()
	ch <- room.rosterEventLocked("")

	return subID, ch, nil
}

// Disconnect tears down a subscription after an abrupt connection loss.
// The member enters the grace period instead of being removed outright, to
// tolerate refreshes and transient reconnects.
func (s *Service) Disconnect(code string, subID int, memberID string) {
	room, err := s.getRoom(code)
	if err != nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	s.dropSubscriberLocked(room, subID)

	m, ok := room.members[memberID]
	if !ok || m.pending != nil {
		return
	}

	m.pending = time.AfterFunc(s.opts.Grace, func() {
		s.expireMember(code, memberID)
	})
	s.logger.Debugf("room %s: %s disconnected, grace period armed", code, memberID)
}

// Leave is an explicit departure: no grace period.
func (s *Service) Leave(code string, subID int, memberID string) {
	room, err := s.getRoom(code)
	if err != nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	s.dropSubscriberLocked(room, subID)

	m, ok := room.members[memberID]
	if !ok {
		return
	}
	if m.pending != nil {
		m.pending.Stop()
	}
	s.finalizeRemovalLocked(room, memberID)
}

func (s *Service) dropSubscriberLocked(room *Room, subID int) {
	if ch, ok := room.subscribers[subID]; ok {
		delete(room.subscribers, subID)
		close(ch)
	}
}

// expireMember fires when a grace timer elapses without a rejoin.
func (s *Service) expireMember(code, memberID string) {
	room, err := s.getRoom(code)
	if err != nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	m, ok := room.members[memberID]
	if !ok || m.pending == nil {
		// Rejoined while the timer was firing.
		return
	}
	s.finalizeRemovalLocked(room, memberID)
}

// finalizeRemovalLocked removes a member for good. A departing host is
// replaced by the earliest-joined remaining member; an emptied room is
// deactivated and its anchor cleared.
func (s *Service) finalizeRemovalLocked(room *Room, memberID string) {
	if _, ok := room.members[memberID]; !ok {
		return
	}
	delete(room.members, memberID)
	delete(room.anchor.skipVotes, memberID)
	s.logger.Infof("room %s: %s left", room.code, memberID)

	newHostID := ""
	if room.host == memberID {
		if next := earliestMemberLocked(room); next != nil {
			room.host = next.id
			next.role = dto.RoleHost
			newHostID = next.id
			s.logger.Infof("room %s: host migrated to %s", room.code, next.id)
		} else {
			room.isActive = false
			room.anchor = anchor{
				skipVotes:   make(map[string]struct{}),
				lastUpdated: s.now(),
			}
			s.logger.Infof("room %s is empty, deactivating", room.code)
			return
		}
	}

	if len(room.members) == 0 {
		room.isActive = false
		return
	}

	room.broadcastLocked(room.rosterEventLocked(newHostID))
}

func earliestMemberLocked(room *Room) *member {
	var next *member
	for _, m := range room.members {
		if next == nil || m.joinedAt.Before(next.joinedAt) {
			next = m
		}
	}
	return next
}
