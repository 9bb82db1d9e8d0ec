package voice

import (
	"bytes"
	"net/netip"
	"testing"

	"roost/server/internal/protocol"
)

// growEvents appends n presence events addressed to a throwaway recipient and
// returns the encoded frames in order.
func growEvents(s *Server, n int) [][]byte {
	sink := netip.MustParseAddrPort("198.51.100.99:9")
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		s.broadcastEvent(func(seq uint64) []byte {
			pkt := protocol.Event{Seq: seq, RoomID: 1, UserID: 900, Name: "ghost", Joined: true}.Encode()
			out = append(out, pkt)
			return pkt
		}, []netip.AddrPort{sink})
	}
	return out
}

func TestAliveRefreshesDeadline(t *testing.T) {
	t.Parallel()
	s, conn := newTestServer(t, Hooks{})
	deliver(t, s, addrA, protocol.Join{Name: "alice", HWID: "HW-A", RoomID: 1})

	u, _ := s.user(addrA)
	u.lastSeen.Store(1)
	conn.reset()

	deliver(t, s, addrA, protocol.Alive{Seq: 0})

	if u.lastSeen.Load() <= 1 {
		t.Fatal("keepalive did not refresh the deadline")
	}
	frames := conn.framesTo(addrA)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want only the ack", len(frames))
	}
	if _, ok := decodeFrame(t, frames[0]).(protocol.Alived); !ok {
		t.Fatalf("reply = %#v", decodeFrame(t, frames[0]))
	}
}

func TestAliveFromUnknownEndpointIsIgnored(t *testing.T) {
	t.Parallel()
	s, conn := newTestServer(t, Hooks{})

	deliver(t, s, addrA, protocol.Alive{Seq: 5})

	if len(conn.framesTo(addrA)) != 0 {
		t.Fatal("unknown endpoint got a keepalive ack")
	}
}

func TestSyncResendReplaysMissedEventsByteExact(t *testing.T) {
	t.Parallel()
	s, conn := newTestServer(t, Hooks{})
	deliver(t, s, addrA, protocol.Join{Name: "alice", HWID: "HW-A", RoomID: 1})

	missed := growEvents(s, 4) // seqs 2..5
	conn.reset()

	deliver(t, s, addrA, protocol.Alive{Seq: 1})

	frames := conn.framesTo(addrA)
	if len(frames) != 5 {
		t.Fatalf("got %d frames, want ack + 4 resends", len(frames))
	}
	if _, ok := decodeFrame(t, frames[0]).(protocol.Alived); !ok {
		t.Fatalf("first frame = %#v", decodeFrame(t, frames[0]))
	}
	for i, want := range missed {
		if !bytes.Equal(frames[i+1], want) {
			t.Fatalf("resend %d differs from the original frame:\n got % x\nwant % x", i, frames[i+1], want)
		}
	}

	u, _ := s.user(addrA)
	if got := u.consecutiveBehind.Load(); got != 1 {
		t.Fatalf("lag counter = %d after one lagged keepalive, want 1", got)
	}

	// A caught-up keepalive clears the lag counter.
	conn.reset()
	deliver(t, s, addrA, protocol.Alive{Seq: 5})
	if got := u.consecutiveBehind.Load(); got != 0 {
		t.Fatalf("lag counter = %d after catching up, want 0", got)
	}
	if frames := conn.framesTo(addrA); len(frames) != 1 {
		t.Fatalf("caught-up keepalive produced %d frames, want only the ack", len(frames))
	}
}

func TestSyncTooFarBehindEvicts(t *testing.T) {
	t.Parallel()
	s, conn := newTestServer(t, Hooks{})
	deliver(t, s, addrA, protocol.Join{Name: "alice", HWID: "HW-A", RoomID: 1})

	growEvents(s, 101) // serverLast = 102, alice is 101 behind
	conn.reset()

	deliver(t, s, addrA, protocol.Alive{Seq: 1})

	frames := conn.framesTo(addrA)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want ack + disconnect", len(frames))
	}
	disc, ok := decodeFrame(t, frames[1]).(protocol.Disconnect)
	if !ok || disc.Reason != "Sync failure: Too far behind (101 events)" {
		t.Fatalf("disconnect = %#v", decodeFrame(t, frames[1]))
	}
	if s.userCount() != 0 {
		t.Fatalf("evicted user still tracked, count=%d", s.userCount())
	}
}

func TestSyncConsecutiveBehindEvicts(t *testing.T) {
	t.Parallel()
	s, conn := newTestServer(t, Hooks{})
	deliver(t, s, addrA, protocol.Join{Name: "alice", HWID: "HW-A", RoomID: 1})
	deliver(t, s, addrB, protocol.Join{Name: "bob", HWID: "HW-B", RoomID: 1})

	growEvents(s, 2)
	u, _ := s.user(addrA)

	// Two lagged keepalives resend; the third evicts.
	deliver(t, s, addrA, protocol.Alive{Seq: 1})
	deliver(t, s, addrA, protocol.Alive{Seq: 1})
	if got := u.consecutiveBehind.Load(); got != 2 {
		t.Fatalf("lag counter = %d after two lagged keepalives, want 2", got)
	}

	conn.reset()
	deliver(t, s, addrA, protocol.Alive{Seq: 1})

	frames := conn.framesTo(addrA)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want ack + disconnect", len(frames))
	}
	disc, ok := decodeFrame(t, frames[1]).(protocol.Disconnect)
	if !ok || disc.Reason != "Sync failure: Behind 3 consecutive times" {
		t.Fatalf("disconnect = %#v", decodeFrame(t, frames[1]))
	}
	if _, ok := s.user(addrA); ok {
		t.Fatal("evicted user still tracked")
	}

	// The peer observes the eviction as a leave event.
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

func TestSyncHistoryInconsistencyEvicts(t *testing.T) {
	t.Parallel()
	s, conn := newTestServer(t, Hooks{})
	deliver(t, s, addrA, protocol.Join{Name: "alice", HWID: "HW-A", RoomID: 1})
	growEvents(s, 3)

	// Punch a hole in the history: the count check must refuse to replay.
	s.events.mu.Lock()
	s.events.history = append(s.events.history[:1], s.events.history[2:]...)
	s.events.mu.Unlock()

	conn.reset()
	deliver(t, s, addrA, protocol.Alive{Seq: 1})

	frames := conn.framesTo(addrA)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want ack + disconnect", len(frames))
	}
	disc, ok := decodeFrame(t, frames[1]).(protocol.Disconnect)
	if !ok || disc.Reason != "Internal server error: Event history inconsistency" {
		t.Fatalf("disconnect = %#v", decodeFrame(t, frames[1]))
	}
	if s.userCount() != 0 {
		t.Fatal("evicted user still tracked")
	}
}

func TestEventHistoryStaysBounded(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, Hooks{})

	growEvents(s, 150)

	s.events.mu.Lock()
	defer s.events.mu.Unlock()
	if len(s.events.history) != MaxEventHistory {
		t.Fatalf("history holds %d events, want %d", len(s.events.history), MaxEventHistory)
	}
	if first := s.events.history[0].seq; first != 51 {
		t.Fatalf("oldest retained seq = %d, want 51", first)
	}
	for i := 1; i < len(s.events.history); i++ {
		if s.events.history[i].seq != s.events.history[i-1].seq+1 {
			t.Fatalf("history not contiguous at %d: %d then %d", i, s.events.history[i-1].seq, s.events.history[i].seq)
		}
	}
	if last := s.events.history[len(s.events.history)-1].seq; last != 150 {
		t.Fatalf("newest retained seq = %d, want 150", last)
	}
}

func TestBroadcastWithoutRecipientsConsumesNoSequence(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, Hooks{})

	s.broadcastEvent(func(seq uint64) []byte {
		t.Fatal("builder invoked with no recipients")
		return nil
	}, nil)

	if got := s.events.lastSeq(); got != 0 {
		t.Fatalf("lastSeq = %d, want 0", got)
	}
}

func TestDrainResetsSequencesAndUserIDs(t *testing.T) {
	t.Parallel()
	s, conn := newTestServer(t, Hooks{})

	deliver(t, s, addrA, protocol.Join{Name: "alice", HWID: "HW-A", RoomID: 1})
	if u, _ := s.user(addrA); u.ID != 1 {
		t.Fatalf("first user id = %d, want 1", u.ID)
	}
	deliver(t, s, addrA, protocol.Leave{})
	if s.userCount() != 0 {
		t.Fatalf("user count = %d after drain, want 0", s.userCount())
	}
	if got := s.events.lastSeq(); got != 0 {
		t.Fatalf("lastSeq = %d after drain, want 0", got)
	}

	// Post-drain allocation restarts from zero, sequencing from one.
	conn.reset()
	deliver(t, s, addrB, protocol.Join{Name: "bob", HWID: "HW-B", RoomID: 1})

	bFrames := conn.framesTo(addrB)
	accepted := decodeFrame(t, bFrames[len(bFrames)-1]).(protocol.Accepted)
	if accepted != (protocol.Accepted{LatestSeq: 1, UserID: 0}) {
		t.Fatalf("post-drain accepted = %#v", accepted)
	}
}
