package voice

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"roost/server/internal/protocol"
)

// DatagramConn is the subset of *net.UDPConn the engine needs. Tests inject
// a capturing fake instead of a real socket.
type DatagramConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// Hooks are the external collaborators consumed by the engine. Both are
// optional; nil hooks accept every join and ignore disconnects.
type Hooks struct {
	// TryJoin authorizes a hardware identifier before any user state is
	// allocated. A non-nil error rejects the join; the error text is sent
	// to the client as the Disconnect reason.
	TryJoin func(ctx context.Context, hwid string) error

	// OnDisconnect is invoked after a user has been fully removed,
	// regardless of cause.
	OnDisconnect func(hwid string)
}

// Server is the voice-chat engine: one UDP socket, the connection table,
// the room set, and the presence-event log.
type Server struct {
	conn  DatagramConn
	hooks Hooks

	mu    sync.RWMutex
	users map[netip.AddrPort]*User
	rooms map[uint16]*Room

	addrMu         sync.RWMutex
	connectedAddrs []netip.AddrPort

	nextUserID atomic.Uint64
	events     eventLog

	// Traffic counters, reset by Stats.
	datagramsIn  atomic.Uint64
	bytesIn      atomic.Uint64
	datagramsOut atomic.Uint64
	bytesOut     atomic.Uint64
}

// NewServer builds an engine around an already bound socket.
func NewServer(conn DatagramConn, hooks Hooks) *Server {
	s := &Server{
		conn:  conn,
		hooks: hooks,
		users: make(map[netip.AddrPort]*User),
		rooms: make(map[uint16]*Room),
	}
	s.nextUserID.Store(1)
	s.events.reset()
	return s
}

// AddRoomWithID registers a room from the catalog. Called at boot, before
// Run; rooms are never removed afterwards.
func (s *Server) AddRoomWithID(id uint16, name string) {
	s.mu.Lock()
	s.rooms[id] = newRoom(id, name)
	s.mu.Unlock()
	slog.Info("room registered", "room_id", id, "name", name)
}

// Run reads datagrams until the socket is closed or ctx is canceled. A
// failed receive never closes the socket; malformed or unhandled packets
// are logged and dropped, never disconnecting the peer.
func (s *Server) Run(ctx context.Context) error {
	buf := make([]byte, recvBufSize)
	for {
		n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			slog.Warn("udp receive failed", "err", err)
			continue
		}
		s.datagramsIn.Add(1)
		s.bytesIn.Add(uint64(n))

		if err := s.handleDatagram(ctx, addr, buf[:n]); err != nil {
			slog.Debug("datagram dropped", "addr", addr, "err", err)
		}
	}
}

// handleDatagram decodes one inbound frame and dispatches it.
func (s *Server) handleDatagram(ctx context.Context, addr netip.AddrPort, buf []byte) error {
	pkt, err := protocol.DecodeClient(buf)
	if err != nil {
		return err
	}

	switch p := pkt.(type) {
	case protocol.Ping:
		return s.handlePing(addr)
	case protocol.Rooms:
		return s.handleRooms(addr, p)
	case protocol.Join:
		return s.handleJoin(ctx, addr, p)
	case protocol.Switch:
		return s.handleSwitch(addr, p)
	case protocol.Talk:
		return s.handleTalk(addr, p)
	case protocol.Alive:
		return s.handleAlive(addr, p)
	case protocol.Leave:
		return s.handleLeave(addr)
	default:
		// Well-formed for the other direction but meaningless here.
		return nil
	}
}

func (s *Server) user(addr netip.AddrPort) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[addr]
	return u, ok
}

func (s *Server) room(id uint16) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	return r, ok
}

func (s *Server) roomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

func (s *Server) userCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// roomsByID returns all rooms in ascending id order.
func (s *Server) roomsByID() []*Room {
	s.mu.RLock()
	out := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// connectedSnapshot returns a copy of the global fanout target list.
func (s *Server) connectedSnapshot() []netip.AddrPort {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	out := make([]netip.AddrPort, len(s.connectedAddrs))
	copy(out, s.connectedAddrs)
	return out
}

// sendTo writes one frame to one endpoint. Send errors are ignored: the
// transport is lossy by contract.
func (s *Server) sendTo(buf []byte, addr netip.AddrPort) {
	if _, err := s.conn.WriteToUDPAddrPort(buf, addr); err != nil {
		slog.Debug("udp send dropped", "addr", addr, "err", err)
		return
	}
	s.datagramsOut.Add(1)
	s.bytesOut.Add(uint64(len(buf)))
}

// batchSend fans one frame out to a recipient list.
func (s *Server) batchSend(buf []byte, addrs []netip.AddrPort) {
	for _, addr := range addrs {
		s.sendTo(buf, addr)
	}
}

// batchSendRoom fans one frame out to a room's members, optionally skipping
// one endpoint. Unknown rooms fan out to nobody.
func (s *Server) batchSendRoom(buf []byte, roomID uint16, except netip.AddrPort) {
	room, ok := s.room(roomID)
	if !ok {
		return
	}
	for _, addr := range room.addrSnapshot() {
		if addr == except {
			continue
		}
		s.sendTo(buf, addr)
	}
}

// sendWithTimeout performs one best-effort send bounded by d. UDP writes
// rarely block, so the timer is a backstop, not a cancellation.
func (s *Server) sendWithTimeout(buf []byte, addr netip.AddrPort, d time.Duration) {
	done := make(chan struct{})
	go func() {
		s.sendTo(buf, addr)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
	}
}
