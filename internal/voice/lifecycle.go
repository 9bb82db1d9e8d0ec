package voice

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"roost/server/internal/protocol"
)

// keepalive refreshes a user's timeout deadline and returns it, or nil when
// the endpoint has no session.
func (s *Server) keepalive(addr netip.AddrPort) *User {
	u, ok := s.user(addr)
	if !ok {
		return nil
	}
	u.lastSeen.Store(time.Now().Add(UserTimeout).Unix())
	return u
}

// disconnectUser is the single teardown path shared by voluntary leaves,
// the sweeper, sync eviction, and join rejection. A non-empty reason is
// sent to the peer best-effort before any state changes. Removing the last
// user resets event sequencing and user-id allocation: a quiescent server
// restarts numbering.
func (s *Server) disconnectUser(addr netip.AddrPort, reason string) {
	if reason != "" {
		s.sendWithTimeout(protocol.Disconnect{Reason: reason}.Encode(), addr, disconnectNotifyTimeout)
	}

	s.mu.Lock()
	u, ok := s.users[addr]
	if ok {
		delete(s.users, addr)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	roomID := u.RoomID()
	if room, ok := s.room(roomID); ok {
		room.removeMember(addr, u.ID)
	}

	s.addrMu.Lock()
	for i := range s.connectedAddrs {
		if s.connectedAddrs[i] == addr {
			s.connectedAddrs[i] = s.connectedAddrs[len(s.connectedAddrs)-1]
			s.connectedAddrs = s.connectedAddrs[:len(s.connectedAddrs)-1]
			break
		}
	}
	s.addrMu.Unlock()

	s.broadcastEvent(func(seq uint64) []byte {
		return protocol.Event{Seq: seq, RoomID: roomID, UserID: u.ID, Name: u.Name, Joined: false}.Encode()
	}, s.connectedSnapshot())

	if s.userCount() == 0 {
		s.events.reset()
		s.nextUserID.Store(0)
		slog.Info("last user left, sequence numbering reset")
	}

	slog.Info("user disconnected", "addr", addr, "user_id", u.ID, "name", u.Name, "reason", reason, "remaining_users", s.userCount())

	if s.hooks.OnDisconnect != nil {
		s.hooks.OnDisconnect(u.HWID)
	}
}

// RunSweeper disconnects users whose keepalive deadline has passed. It runs
// until ctx is canceled.
func (s *Server) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepExpired(time.Now().Unix())
		}
	}
}

// sweepExpired disconnects every user whose deadline is at or before now.
func (s *Server) sweepExpired(now int64) {
	var expired []netip.AddrPort
	s.mu.RLock()
	for addr, u := range s.users {
		if u.lastSeen.Load() <= now {
			expired = append(expired, addr)
		}
	}
	s.mu.RUnlock()

	for _, addr := range expired {
		slog.Info("removing inactive user", "addr", addr)
		s.disconnectUser(addr, "Inactivity timeout")
	}
}
