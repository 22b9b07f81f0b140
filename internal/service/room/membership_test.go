package room

import (
	"context"
	"testing"
	"time"

	"github.com/Deepesh-Tiwari/Rhythm/internal/dto"
)

func TestJoinUnknownRoom(t *testing.T) {
	svc, _ := newTestService(0)
	if _, _, err := svc.Join("NOPE42", "m0", "member"); err != ErrRoomNotFound {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestJoinPrimesSubscriber(t *testing.T) {
	svc, _ := newTestService(0)
	code, err := svc.CreateRoom("m0", "host")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	_, ch, err := svc.Join(code, "m0", "host")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	want := []dto.EventType{dto.EventPlaybackSync, dto.EventQueueUpdate, dto.EventRoomUpdate}
	for _, typ := range want {
		select {
		case ev := <-ch:
			if ev.Type != typ {
				t.Errorf("expected primed %s event, got %s", typ, ev.Type)
			}
		default:
			t.Fatalf("subscriber not primed with %s", typ)
		}
	}
}

func TestDisconnectGraceRejoin(t *testing.T) {
	svc, _ := newTestService(50 * time.Millisecond)
	code, _ := svc.CreateRoom("m0", "host")
	if _, _, err := svc.Join(code, "m0", "host"); err != nil {
		t.Fatalf("Join host: %v", err)
	}
	subID, _, err := svc.Join(code, "m1", "guest")
	if err != nil {
		t.Fatalf("Join guest: %v", err)
	}

	svc.Disconnect(code, subID, "m1")

	// A parked member is still part of the room until the grace expires.
	if n := svc.GetAllRoomsInfo()[0].Members; n != 2 {
		t.Errorf("expected 2 members during grace, got %d", n)
	}

	if _, _, err := svc.Join(code, "m1", "guest"); err != nil {
		t.Fatalf("rejoin within grace: %v", err)
	}

	// The pending removal was cancelled: the member survives past the window.
	time.Sleep(120 * time.Millisecond)
	if n := svc.GetAllRoomsInfo()[0].Members; n != 2 {
		t.Errorf("expected 2 active members after rejoin, got %d", n)
	}
}

func TestDisconnectGraceExpiry(t *testing.T) {
	svc, _ := newTestService(20 * time.Millisecond)
	code, _ := svc.CreateRoom("m0", "host")
	if _, _, err := svc.Join(code, "m0", "host"); err != nil {
		t.Fatalf("Join host: %v", err)
	}
	subID, _, err := svc.Join(code, "m1", "guest")
	if err != nil {
		t.Fatalf("Join guest: %v", err)
	}

	svc.Disconnect(code, subID, "m1")
	time.Sleep(100 * time.Millisecond)

	if n := svc.GetAllRoomsInfo()[0].Members; n != 1 {
		t.Errorf("expected member removed after grace expiry, got %d active", n)
	}
	if _, err := svc.VoteSkip(code, "m1"); err != ErrNotMember {
		t.Errorf("expired member must be gone, got %v", err)
	}
}

func TestGraceMemberStillCountsForVoteThreshold(t *testing.T) {
	svc, _ := newTestService(time.Minute)
	code, _ := svc.CreateRoom("m0", "host")
	if _, _, err := svc.Join(code, "m0", "host"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, _, err := svc.Join(code, "m1", "a"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	subID, _, err := svc.Join(code, "m2", "b")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	if _, _, err := svc.Enqueue(context.Background(), code, track("A"), "m0"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// A disconnect does not shrink the electorate: m2 rides out the grace
	// period as a full member, so the threshold stays at two.
	svc.Disconnect(code, subID, "m2")

	res, err := svc.VoteSkip(code, "m1")
	if err != nil {
		t.Fatalf("VoteSkip: %v", err)
	}
	if res.Skipped {
		t.Fatal("one vote of three members must not skip")
	}
	if res.Votes != 1 || res.Needed != 2 {
		t.Errorf("expected 1/2, got %d/%d", res.Votes, res.Needed)
	}
}

func TestGraceMemberRemainsInRoster(t *testing.T) {
	svc, _ := newTestService(time.Minute)
	code, _ := svc.CreateRoom("m0", "host")
	if _, _, err := svc.Join(code, "m0", "host"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	subID, _, err := svc.Join(code, "m1", "guest")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, _, err := svc.Join(code, "m2", "other"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	svc.Disconnect(code, subID, "m1")

	if n := svc.GetAllRoomsInfo()[0].Members; n != 3 {
		t.Errorf("expected 3 members during grace, got %d", n)
	}

	// A fresh joiner's primed roster must still list the parked member.
	_, ch, err := svc.Join(code, "m3", "late")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	var roster *dto.RoomUpdate
	for i := 0; i < 3; i++ {
		ev := <-ch
		if ev.Type == dto.EventRoomUpdate {
			roster = ev.Room
		}
	}
	if roster == nil {
		t.Fatal("no roster event primed")
	}
	found := false
	for _, m := range roster.ActiveMembers {
		if m.ID == "m1" {
			found = true
		}
	}
	if !found {
		t.Errorf("parked member missing from roster %v", roster.ActiveMembers)
	}
}

func TestLeaveMigratesHostToEarliestJoined(t *testing.T) {
	svc, _ := newTestService(0)
	code, _ := svc.CreateRoom("m0", "host")
	hostSub, _, err := svc.Join(code, "m0", "host")
	if err != nil {
		t.Fatalf("Join host: %v", err)
	}
	if _, _, err := svc.Join(code, "m1", "first"); err != nil {
		t.Fatalf("Join m1: %v", err)
	}
	_, ch2, err := svc.Join(code, "m2", "second")
	if err != nil {
		t.Fatalf("Join m2: %v", err)
	}

	svc.Leave(code, hostSub, "m0")

	if got := svc.GetAllRoomsInfo()[0].Host; got != "m1" {
		t.Errorf("expected host migrated to earliest-joined m1, got %s", got)
	}

	// The roster broadcast announces the new host.
	var announced string
	for {
		var ev dto.Event
		select {
		case ev = <-ch2:
		default:
			ev = dto.Event{}
		}
		if ev.Type == "" {
			break
		}
		if ev.Type == dto.EventRoomUpdate && ev.Room.NewHostID != "" {
			announced = ev.Room.NewHostID
		}
	}
	if announced != "m1" {
		t.Errorf("expected NewHostID m1 in roster broadcast, got %q", announced)
	}

	// Privileges moved with the role.
	if _, _, err := svc.Enqueue(context.Background(), code, track("A"), "m1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := svc.TrackEnded(code, "m2"); err != ErrUnauthorized {
		t.Errorf("old listener gained host rights: %v", err)
	}
	if err := svc.TrackEnded(code, "m1"); err != nil {
		t.Errorf("new host lost host rights: %v", err)
	}
}

func TestHostGraceExpiryMigratesHost(t *testing.T) {
	svc, _ := newTestService(20 * time.Millisecond)
	code, _ := svc.CreateRoom("m0", "host")
	hostSub, _, err := svc.Join(code, "m0", "host")
	if err != nil {
		t.Fatalf("Join host: %v", err)
	}
	if _, _, err := svc.Join(code, "m1", "guest"); err != nil {
		t.Fatalf("Join guest: %v", err)
	}

	svc.Disconnect(code, hostSub, "m0")
	time.Sleep(100 * time.Millisecond)

	if got := svc.GetAllRoomsInfo()[0].Host; got != "m1" {
		t.Errorf("expected host migrated to m1 after grace expiry, got %s", got)
	}
}

func TestLastMemberLeaveDeactivatesRoom(t *testing.T) {
	svc, _ := newTestService(0)
	code, _ := svc.CreateRoom("m0", "host")
	subID, _, err := svc.Join(code, "m0", "host")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, _, err := svc.Enqueue(context.Background(), code, track("A"), "m0"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	svc.Leave(code, subID, "m0")

	if _, err := svc.SyncState(code); err != ErrRoomNotFound {
		t.Errorf("deactivated room still answers sync: %v", err)
	}
	if n := len(svc.GetAllRoomsInfo()); n != 0 {
		t.Errorf("deactivated room still listed: %d", n)
	}

	// The cleanup worker reaps it for good.
	svc.cleanupRooms()
	if _, _, err := svc.Join(code, "m0", "host"); err != ErrRoomNotFound {
		t.Errorf("expected reaped room to be gone, got %v", err)
	}
}
