package voice

import (
	"fmt"
	"log/slog"
	"net/netip"
)

// broadcastEvent assigns the next sequence number, materializes the frame,
// appends it to the bounded history, and fans it out. The event-log lock is
// released before any socket I/O. Serialized calls get ascending sequence
// numbers and hit the socket in the same order; an empty recipient list
// consumes no sequence number.
func (s *Server) broadcastEvent(build func(seq uint64) []byte, recipients []netip.AddrPort) {
	if len(recipients) == 0 {
		return
	}

	s.events.mu.Lock()
	seq := s.events.nextSeq
	s.events.nextSeq++

	pkt := build(seq)

	if len(s.events.history) == MaxEventHistory {
		copy(s.events.history, s.events.history[1:])
		s.events.history[len(s.events.history)-1] = storedEvent{seq: seq, data: pkt}
	} else {
		s.events.history = append(s.events.history, storedEvent{seq: seq, data: pkt})
	}
	s.events.mu.Unlock()

	s.batchSend(pkt, recipients)
}

// syncResend runs on every keepalive that carries a sync cursor. An
// up-to-date client clears its lag counter; a recoverable lag replays the
// missed events byte-identically; anything past the history bound, three
// consecutive lags, or a history gap evicts the client.
func (s *Server) syncResend(addr netip.AddrPort, u *User, clientSeq uint64) {
	var (
		resend     [][]byte
		evictWith  string
		serverLast uint64
	)

	s.events.mu.Lock()
	serverLast = s.events.nextSeq - 1

	switch {
	case clientSeq >= serverLast:
		// Up to date; handled after unlock.
	case serverLast-clientSeq > MaxEventHistory:
		evictWith = fmt.Sprintf("Sync failure: Too far behind (%d events)", serverLast-clientSeq)
	default:
		behindBy := serverLast - clientSeq
		failures := u.consecutiveBehind.Add(1)
		if failures >= MaxConsecutiveBehind {
			evictWith = fmt.Sprintf("Sync failure: Behind %d consecutive times", failures)
			break
		}
		resend = make([][]byte, 0, behindBy)
		for _, ev := range s.events.history {
			if ev.seq > clientSeq {
				resend = append(resend, ev.data)
			}
		}
		if uint64(len(resend)) != behindBy {
			resend = nil
			evictWith = "Internal server error: Event history inconsistency"
		}
	}
	s.events.mu.Unlock()

	switch {
	case evictWith != "":
		slog.Info("evicting lagged user", "addr", addr, "user_id", u.ID, "reason", evictWith)
		s.disconnectUser(addr, evictWith)
	case resend != nil:
		slog.Debug("resending missed events", "addr", addr, "user_id", u.ID, "count", len(resend))
		for _, pkt := range resend {
			s.sendTo(pkt, addr)
		}
	default:
		if u.consecutiveBehind.Load() > 0 {
			u.consecutiveBehind.Store(0)
		}
	}
}
