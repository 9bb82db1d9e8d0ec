package voice

import (
	"testing"
	"time"

	"roost/server/internal/protocol"
)

func TestLeaveBroadcastsToRemainingUsers(t *testing.T) {
	t.Parallel()
	s, conn := newTestServer(t, Hooks{})
	deliver(t, s, addrA, protocol.Join{Name: "alice", HWID: "HW-A", RoomID: 1})
	deliver(t, s, addrB, protocol.Join{Name: "bob", HWID: "HW-B", RoomID: 1})
	conn.reset()

	deliver(t, s, addrA, protocol.Leave{})

	// A voluntary leave carries no disconnect notice.
	if frames := conn.framesTo(addrA); len(frames) != 0 {
		t.Fatalf("leaver got %d frames, want 0", len(frames))
	}
	bFrames := conn.framesTo(addrB)
	if len(bFrames) != 1 {
		t.Fatalf("bob got %d frames, want the leave event", len(bFrames))
	}
	ev := decodeFrame(t, bFrames[0]).(protocol.Event)
	if ev != (protocol.Event{Seq: 3, RoomID: 1, UserID: 1, Name: "alice", Joined: false}) {
		t.Fatalf("leave event = %#v", ev)
	}

	if s.userCount() != 1 {
		t.Fatalf("user count = %d, want 1", s.userCount())
	}
	room, _ := s.room(1)
	if room.memberCount() != 1 {
		t.Fatalf("room 1 member count = %d, want 1", room.memberCount())
	}
	checkInvariants(t, s)
}

func TestLeaveFromUnknownEndpointIsHarmless(t *testing.T) {
	t.Parallel()
	s, conn := newTestServer(t, Hooks{})
	deliver(t, s, addrA, protocol.Join{Name: "alice", HWID: "HW-A", RoomID: 1})
	conn.reset()

	deliver(t, s, addrB, protocol.Leave{})

	if s.userCount() != 1 {
		t.Fatalf("user count = %d, want 1", s.userCount())
	}
	if len(conn.framesTo(addrA)) != 0 {
		t.Fatal("stray leave produced a broadcast")
	}
}

func TestSweepDisconnectsExpiredUsers(t *testing.T) {
	t.Parallel()
	s, conn := newTestServer(t, Hooks{})
	deliver(t, s, addrA, protocol.Join{Name: "alice", HWID: "HW-A", RoomID: 1})
	deliver(t, s, addrB, protocol.Join{Name: "bob", HWID: "HW-B", RoomID: 1})

	// Force alice past her deadline; bob's stays in the future.
	u, _ := s.user(addrA)
	u.lastSeen.Store(time.Now().Add(-time.Second).Unix())
	conn.reset()

	s.sweepExpired(time.Now().Unix())

	aFrames := conn.framesTo(addrA)
	if len(aFrames) != 1 {
		t.Fatalf("alice got %d frames, want the disconnect notice", len(aFrames))
	}
	disc, ok := decodeFrame(t, aFrames[0]).(protocol.Disconnect)
	if !ok || disc.Reason != "Inactivity timeout" {
		t.Fatalf("disconnect = %#v", decodeFrame(t, aFrames[0]))
	}
	if _, ok := s.user(addrA); ok {
		t.Fatal("expired user still tracked")
	}
	if _, ok := s.user(addrB); !ok {
		t.Fatal("fresh user was swept")
	}

	bFrames := conn.framesTo(addrB)
	if len(bFrames) != 1 {
		t.Fatalf("bob got %d frames, want the leave event", len(bFrames))
	}
	ev := decodeFrame(t, bFrames[0]).(protocol.Event)
	if ev.Joined || ev.UserID != 1 {
		t.Fatalf("bob saw %#v, want alice's leave", ev)
	}
	checkInvariants(t, s)
}

func TestSweepWithNoExpiredUsersIsQuiet(t *testing.T) {
	t.Parallel()
	s, conn := newTestServer(t, Hooks{})
	deliver(t, s, addrA, protocol.Join{Name: "alice", HWID: "HW-A", RoomID: 1})
	conn.reset()

	s.sweepExpired(time.Now().Unix())

	if s.userCount() != 1 {
		t.Fatalf("user count = %d, want 1", s.userCount())
	}
	if len(conn.framesTo(addrA)) != 0 {
		t.Fatal("quiet sweep produced frames")
	}
}

func TestDisconnectHookReceivesHWID(t *testing.T) {
	t.Parallel()
	var gone []string
	s, _ := newTestServer(t, Hooks{
		OnDisconnect: func(hwid string) { gone = append(gone, hwid) },
	})

	deliver(t, s, addrA, protocol.Join{Name: "alice", HWID: "HW-A", RoomID: 1})
	deliver(t, s, addrA, protocol.Leave{})

	if len(gone) != 1 || gone[0] != "HW-A" {
		t.Fatalf("disconnect hook saw %v, want [HW-A]", gone)
	}
}

func TestSnapshotReflectsState(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, Hooks{})
	deliver(t, s, addrA, protocol.Join{Name: "alice", HWID: "HW-A", RoomID: 1})
	deliver(t, s, addrB, protocol.Join{Name: "bob", HWID: "HW-B", RoomID: 2})

	snap := s.Snapshot()
	if len(snap.Users) != 2 || len(snap.Rooms) != 3 {
		t.Fatalf("snapshot has %d users and %d rooms", len(snap.Users), len(snap.Rooms))
	}
	if snap.Users[0].ID != 1 || snap.Users[0].Name != "alice" || snap.Users[0].RoomID != 1 {
		t.Fatalf("first user = %#v", snap.Users[0])
	}
	if snap.Users[1].ID != 2 || snap.Users[1].RoomID != 2 {
		t.Fatalf("second user = %#v", snap.Users[1])
	}
	for _, room := range snap.Rooms {
		want := 0
		if room.ID == 1 || room.ID == 2 {
			want = 1
		}
		if room.Members != want {
			t.Fatalf("room %d member count = %d, want %d", room.ID, room.Members, want)
		}
	}
}

func TestStatsSwapAndReset(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, Hooks{})
	deliver(t, s, addrA, protocol.Join{Name: "alice", HWID: "HW-A", RoomID: 1})

	_, _, dgOut, bytesOut, users := s.Stats()
	if dgOut == 0 || bytesOut == 0 {
		t.Fatal("join produced no counted outbound traffic")
	}
	if users != 1 {
		t.Fatalf("stats users = %d, want 1", users)
	}

	_, _, dgOut, bytesOut, _ = s.Stats()
	if dgOut != 0 || bytesOut != 0 {
		t.Fatalf("counters not reset: datagrams=%d bytes=%d", dgOut, bytesOut)
	}
}
