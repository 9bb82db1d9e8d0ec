// Package protocol implements the binary wire codec for the roost voice
// protocol. Every datagram is one frame: a 4-byte magic, a 4-byte big-endian
// opcode, and an opcode-specific payload. Strings are NUL-terminated UTF-8,
// integers are big-endian, booleans are single 0/1 bytes.
package protocol

import "errors"

// Magic prefixes every frame in both directions.
var Magic = [4]byte{0xde, 0xad, 0xc0, 0xde}

// Opcodes. Odd-ish numbering is historical: requests and their replies were
// assigned in pairs as the protocol grew.
const (
	OpPing       uint32 = 1
	OpPong       uint32 = 2
	OpJoin       uint32 = 3
	OpJoined     uint32 = 4
	OpTalk       uint32 = 5
	OpTalked     uint32 = 6
	OpAlive      uint32 = 7
	OpAlived     uint32 = 8
	OpRooms      uint32 = 9
	OpRoomsList  uint32 = 10
	OpEvent      uint32 = 11
	OpSwitch     uint32 = 12
	OpLeave      uint32 = 13
	OpDisconnect uint32 = 14
	OpAccepted   uint32 = 15
)

// HeaderLen is the length of the magic + opcode prefix.
const HeaderLen = 8

// ErrMalformed is returned by the decoders for any frame that cannot be
// parsed: short buffer, bad magic, unknown opcode for the direction, wrong
// payload length, missing NUL terminator, or invalid UTF-8.
var ErrMalformed = errors.New("malformed packet")

// Packet is one frame of the wire protocol, either direction.
type Packet interface {
	// Encode renders the full frame including magic and opcode.
	Encode() []byte
}

// Ping is a client connectivity probe.
type Ping struct{}

// Pong answers a Ping.
type Pong struct{}

// Join requests a session. RoomID may name a room that does not exist, in
// which case the server tracks the user without any room membership.
type Join struct {
	Name   string
	HWID   string
	RoomID uint16
}

// Member is one (user id, name) pair inside a Joined frame.
type Member struct {
	ID   uint64
	Name string
}

// Joined carries the membership snapshot of one room.
type Joined struct {
	RoomID uint16
	Users  []Member
}

// Talk carries one audio frame from a client. The payload is opaque to the
// server and is not validated, sequenced, or stored.
type Talk struct {
	Audio []byte
}

// Talked relays an audio frame to room peers. Flag is a reserved byte that
// is always zero today; it is kept explicit so the wire layout stays exact.
type Talked struct {
	Flag     byte
	TalkerID uint64
	Audio    []byte
}

// Alive is the keepalive. Seq is the highest event sequence number the
// client has observed; zero means the client opts out of sync checking.
type Alive struct {
	Seq uint64
}

// Alived answers an Alive.
type Alived struct{}

// Rooms requests a page of the room listing starting at room id Offset.
type Rooms struct {
	Offset uint16
}

// RoomEntry is one (room id, name) pair inside a RoomsList frame.
type RoomEntry struct {
	ID   uint16
	Name string
}

// RoomsList answers a Rooms request. Remaining is set when more rooms exist
// past the returned page.
type RoomsList struct {
	Remaining bool
	List      []RoomEntry
}

// Event is a sequence-numbered presence change fanned out to every
// connected client.
type Event struct {
	Seq    uint64
	RoomID uint16
	UserID uint64
	Name   string
	Joined bool
}

// Switch moves the sender to another room.
type Switch struct {
	RoomID uint16
}

// Leave ends the session voluntarily.
type Leave struct{}

// Disconnect tells a client its session is over and why.
type Disconnect struct {
	Reason string
}

// Accepted confirms a Join. LatestSeq is the sequence number of the join
// event that was just broadcast, so the client can keep its sync cursor
// aligned from the first keepalive.
type Accepted struct {
	LatestSeq uint64
	UserID    uint64
}
