package voice

import (
	"context"
	"log/slog"
	"math"
	"net/netip"
	"time"

	"roost/server/internal/protocol"
)

// roomsPageSize is how many rooms one Rooms request returns.
const roomsPageSize = 10

func (s *Server) handlePing(addr netip.AddrPort) error {
	s.sendTo(protocol.Pong{}.Encode(), addr)
	return nil
}

// handleRooms answers one page of the room listing. Ids are walked from the
// offset and the walk stops at the first gap; the canonical catalog uses
// dense small ids.
func (s *Server) handleRooms(addr netip.AddrPort, p protocol.Rooms) error {
	offset := int(p.Offset)
	if offset == 0 {
		offset = 1
	}

	var list []protocol.RoomEntry
	for id := offset; id < offset+roomsPageSize && id <= math.MaxUint16; id++ {
		room, ok := s.room(uint16(id))
		if !ok {
			break
		}
		list = append(list, protocol.RoomEntry{ID: uint16(id), Name: room.Name})
	}
	remaining := s.roomCount() >= offset+roomsPageSize

	s.sendTo(protocol.RoomsList{Remaining: remaining, List: list}.Encode(), addr)
	return nil
}

// handleJoin authorizes the hardware id, allocates the user, wires room
// membership, primes the joiner with every room's snapshot, broadcasts the
// join event, and confirms with Accepted.
func (s *Server) handleJoin(ctx context.Context, addr netip.AddrPort, p protocol.Join) error {
	if _, ok := s.user(addr); ok {
		return nil
	}

	if s.hooks.TryJoin != nil {
		if err := s.hooks.TryJoin(ctx, p.HWID); err != nil {
			slog.Info("join rejected", "addr", addr, "name", p.Name, "err", err)
			s.disconnectUser(addr, err.Error())
			return err
		}
	}

	u := &User{
		ID:   s.nextUserID.Add(1) - 1,
		Name: p.Name,
		HWID: p.HWID,
	}
	u.lastSeen.Store(time.Now().Add(UserTimeout).Unix())
	u.roomID.Store(uint32(p.RoomID))

	s.mu.Lock()
	s.users[addr] = u
	s.mu.Unlock()

	s.addrMu.Lock()
	s.connectedAddrs = append(s.connectedAddrs, addr)
	s.addrMu.Unlock()

	// An unknown room id leaves the user tracked globally but in no room;
	// a later Switch to a real room repairs membership.
	if room, ok := s.room(p.RoomID); ok {
		room.addMember(addr, u)
	}

	// Prime the joiner's initial view of every room.
	for _, room := range s.roomsByID() {
		s.sendTo(protocol.Joined{RoomID: room.ID, Users: room.snapshot()}.Encode(), addr)
	}

	s.broadcastEvent(func(seq uint64) []byte {
		return protocol.Event{Seq: seq, RoomID: p.RoomID, UserID: u.ID, Name: u.Name, Joined: true}.Encode()
	}, s.connectedSnapshot())

	s.sendTo(protocol.Accepted{LatestSeq: s.events.lastSeq(), UserID: u.ID}.Encode(), addr)

	slog.Info("user joined", "addr", addr, "user_id", u.ID, "name", u.Name, "room_id", p.RoomID, "total_users", s.userCount())
	return nil
}

// handleSwitch moves a user between rooms and broadcasts the leave/join
// event pair, in that order.
func (s *Server) handleSwitch(addr netip.AddrPort, p protocol.Switch) error {
	u := s.keepalive(addr)
	if u == nil {
		return nil
	}

	oldRoomID := u.RoomID()
	if oldRoomID == p.RoomID {
		return nil
	}
	newRoom, ok := s.room(p.RoomID)
	if !ok {
		return nil
	}

	u.roomID.Store(uint32(p.RoomID))

	if oldRoom, ok := s.room(oldRoomID); ok {
		oldRoom.removeMember(addr, u.ID)
	}
	newRoom.addMember(addr, u)

	s.sendTo(protocol.Joined{RoomID: p.RoomID, Users: newRoom.snapshot()}.Encode(), addr)

	recipients := s.connectedSnapshot()
	s.broadcastEvent(func(seq uint64) []byte {
		return protocol.Event{Seq: seq, RoomID: oldRoomID, UserID: u.ID, Name: u.Name, Joined: false}.Encode()
	}, recipients)
	s.broadcastEvent(func(seq uint64) []byte {
		return protocol.Event{Seq: seq, RoomID: p.RoomID, UserID: u.ID, Name: u.Name, Joined: true}.Encode()
	}, recipients)

	slog.Info("user switched room", "addr", addr, "user_id", u.ID, "from", oldRoomID, "to", p.RoomID)
	return nil
}

// handleTalk relays one audio frame to the sender's room peers. Audio is
// neither sequenced nor stored; delivery is lossy by contract.
func (s *Server) handleTalk(addr netip.AddrPort, p protocol.Talk) error {
	u := s.keepalive(addr)
	if u == nil {
		return nil
	}
	pkt := protocol.Talked{TalkerID: u.ID, Audio: p.Audio}.Encode()
	s.batchSendRoom(pkt, u.RoomID(), addr)
	return nil
}

func (s *Server) handleAlive(addr netip.AddrPort, p protocol.Alive) error {
	u := s.keepalive(addr)
	if u == nil {
		return nil
	}
	s.sendTo(protocol.Alived{}.Encode(), addr)
	if p.Seq > 0 {
		s.syncResend(addr, u, p.Seq)
	}
	return nil
}

func (s *Server) handleLeave(addr netip.AddrPort) error {
	slog.Info("user leaving voluntarily", "addr", addr)
	s.disconnectUser(addr, "")
	return nil
}
