// Package voice implements the in-memory engine of the roost server: the
// user/room model, the UDP dispatch loop, per-packet handlers, the
// sequence-numbered presence-event broadcaster with bounded replay, and the
// liveness sweeper.
package voice

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"roost/server/internal/protocol"
)

const (
	// UserTimeout is the grace period refreshed by every handled packet;
	// the sweeper disconnects users whose deadline has passed.
	UserTimeout = 5 * time.Second

	// SweepInterval is the liveness sweeper cadence.
	SweepInterval = 500 * time.Millisecond

	// MaxEventHistory bounds the replay ring buffer.
	MaxEventHistory = 100

	// MaxConsecutiveBehind is the number of successive lagged keepalives
	// tolerated before a client is evicted.
	MaxConsecutiveBehind = 3

	// disconnectNotifyTimeout bounds the best-effort Disconnect send.
	disconnectNotifyTimeout = 50 * time.Millisecond

	// recvBufSize matches the Ethernet MTU; larger frames are truncated by
	// the socket and then rejected as malformed.
	recvBufSize = 1500
)

// User is one active participant, keyed by its UDP endpoint.
type User struct {
	ID   uint64
	Name string
	HWID string

	// lastSeen is the absolute unix-seconds deadline after which the user
	// is a timeout candidate. Advisory, updated without locks.
	lastSeen atomic.Int64

	// roomID holds the current room id (uint16). Zero-able and advisory;
	// room membership invariants are guarded by the room locks.
	roomID atomic.Uint32

	// consecutiveBehind counts successive lagged keepalives.
	consecutiveBehind atomic.Uint32
}

// RoomID returns the room the user currently belongs to.
func (u *User) RoomID() uint16 { return uint16(u.roomID.Load()) }

// Room is a named channel with a membership. Rooms are created at boot from
// the catalog and never destroyed at runtime.
type Room struct {
	ID   uint16
	Name string

	mu      sync.RWMutex
	members map[netip.AddrPort]*User
	// joined is the ordered (id, name) snapshot kept consistent with
	// members so initial room-state replies need no re-scan.
	joined []protocol.Member
	// addrs is the fanout target list for audio, kept consistent with
	// members.
	addrs []netip.AddrPort
}

func newRoom(id uint16, name string) *Room {
	return &Room{
		ID:      id,
		Name:    name,
		members: make(map[netip.AddrPort]*User),
	}
}

func (r *Room) addMember(addr netip.AddrPort, u *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[addr] = u
	r.joined = append(r.joined, protocol.Member{ID: u.ID, Name: u.Name})
	r.addrs = append(r.addrs, addr)
}

func (r *Room) removeMember(addr netip.AddrPort, userID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, addr)
	for i := range r.joined {
		if r.joined[i].ID == userID {
			r.joined[i] = r.joined[len(r.joined)-1]
			r.joined = r.joined[:len(r.joined)-1]
			break
		}
	}
	for i := range r.addrs {
		if r.addrs[i] == addr {
			r.addrs[i] = r.addrs[len(r.addrs)-1]
			r.addrs = r.addrs[:len(r.addrs)-1]
			break
		}
	}
}

// snapshot returns a copy of the (id, name) membership list.
func (r *Room) snapshot() []protocol.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Member, len(r.joined))
	copy(out, r.joined)
	return out
}

// addrSnapshot returns a copy of the member endpoint list.
func (r *Room) addrSnapshot() []netip.AddrPort {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]netip.AddrPort, len(r.addrs))
	copy(out, r.addrs)
	return out
}

func (r *Room) memberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

type storedEvent struct {
	seq  uint64
	data []byte
}

// eventLog is the bounded totally ordered presence stream. nextSeq and
// history evolve under one lock; splitting them would let nextSeq advance
// before the packet is appended and break replay exactness.
type eventLog struct {
	mu      sync.Mutex
	nextSeq uint64
	history []storedEvent
}

func (l *eventLog) reset() {
	l.mu.Lock()
	l.nextSeq = 1
	l.history = nil
	l.mu.Unlock()
}

// lastSeq returns the sequence number of the most recent event, or 0.
func (l *eventLog) lastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq - 1
}
