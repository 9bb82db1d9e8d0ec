package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// DecodeClient parses a frame sent by a client. This is the only decoder the
// server's dispatch loop uses.
func DecodeClient(buf []byte) (Packet, error) {
	op, rest, err := splitHeader(buf)
	if err != nil {
		return nil, err
	}

	switch op {
	case OpPing:
		if len(rest) != 0 {
			return nil, fmt.Errorf("%w: ping with payload", ErrMalformed)
		}
		return Ping{}, nil
	case OpJoin:
		name, rest, err := takeCString(rest)
		if err != nil {
			return nil, err
		}
		hwid, rest, err := takeCString(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) < 2 {
			return nil, fmt.Errorf("%w: join truncated before room id", ErrMalformed)
		}
		return Join{Name: name, HWID: hwid, RoomID: binary.BigEndian.Uint16(rest)}, nil
	case OpTalk:
		return Talk{Audio: bytes.Clone(rest)}, nil
	case OpAlive:
		if len(rest) != 8 {
			return nil, fmt.Errorf("%w: alive payload must be 8 bytes, got %d", ErrMalformed, len(rest))
		}
		return Alive{Seq: binary.BigEndian.Uint64(rest)}, nil
	case OpRooms:
		if len(rest) != 2 {
			return nil, fmt.Errorf("%w: rooms payload must be 2 bytes, got %d", ErrMalformed, len(rest))
		}
		return Rooms{Offset: binary.BigEndian.Uint16(rest)}, nil
	case OpSwitch:
		if len(rest) != 2 {
			return nil, fmt.Errorf("%w: switch payload must be 2 bytes, got %d", ErrMalformed, len(rest))
		}
		return Switch{RoomID: binary.BigEndian.Uint16(rest)}, nil
	case OpLeave:
		return Leave{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown client opcode %d", ErrMalformed, op)
	}
}

// DecodeServer parses a frame sent by the server. The dispatch loop never
// calls it; it exists for tests and for client reuse.
func DecodeServer(buf []byte) (Packet, error) {
	op, rest, err := splitHeader(buf)
	if err != nil {
		return nil, err
	}

	switch op {
	case OpPong:
		if len(rest) != 0 {
			return nil, fmt.Errorf("%w: pong with payload", ErrMalformed)
		}
		return Pong{}, nil
	case OpJoined:
		if len(rest) < 2 {
			return nil, fmt.Errorf("%w: joined truncated before room id", ErrMalformed)
		}
		p := Joined{RoomID: binary.BigEndian.Uint16(rest)}
		rest = rest[2:]
		for len(rest) > 0 {
			if len(rest) < 8 {
				return nil, fmt.Errorf("%w: joined entry truncated", ErrMalformed)
			}
			id := binary.BigEndian.Uint64(rest)
			name, tail, err := takeCString(rest[8:])
			if err != nil {
				return nil, err
			}
			p.Users = append(p.Users, Member{ID: id, Name: name})
			rest = tail
		}
		return p, nil
	case OpTalked:
		if len(rest) < 9 {
			return nil, fmt.Errorf("%w: talked truncated", ErrMalformed)
		}
		return Talked{
			Flag:     rest[0],
			TalkerID: binary.BigEndian.Uint64(rest[1:9]),
			Audio:    bytes.Clone(rest[9:]),
		}, nil
	case OpAlived:
		if len(rest) != 0 {
			return nil, fmt.Errorf("%w: alived with payload", ErrMalformed)
		}
		return Alived{}, nil
	case OpRoomsList:
		if len(rest) < 1 {
			return nil, fmt.Errorf("%w: rooms list truncated", ErrMalformed)
		}
		p := RoomsList{Remaining: rest[0] != 0}
		rest = rest[1:]
		for len(rest) > 0 {
			if len(rest) < 2 {
				return nil, fmt.Errorf("%w: rooms list entry truncated", ErrMalformed)
			}
			id := binary.BigEndian.Uint16(rest)
			name, tail, err := takeCString(rest[2:])
			if err != nil {
				return nil, err
			}
			p.List = append(p.List, RoomEntry{ID: id, Name: name})
			rest = tail
		}
		return p, nil
	case OpEvent:
		if len(rest) < 18 {
			return nil, fmt.Errorf("%w: event truncated", ErrMalformed)
		}
		p := Event{
			Seq:    binary.BigEndian.Uint64(rest),
			RoomID: binary.BigEndian.Uint16(rest[8:]),
			UserID: binary.BigEndian.Uint64(rest[10:]),
		}
		name, tail, err := takeCString(rest[18:])
		if err != nil {
			return nil, err
		}
		if len(tail) != 1 {
			return nil, fmt.Errorf("%w: event missing joined flag", ErrMalformed)
		}
		p.Name = name
		p.Joined = tail[0] != 0
		return p, nil
	case OpDisconnect:
		reason, tail, err := takeCString(rest)
		if err != nil {
			return nil, err
		}
		if len(tail) != 0 {
			return nil, fmt.Errorf("%w: disconnect trailing bytes", ErrMalformed)
		}
		return Disconnect{Reason: reason}, nil
	case OpAccepted:
		if len(rest) != 16 {
			return nil, fmt.Errorf("%w: accepted payload must be 16 bytes, got %d", ErrMalformed, len(rest))
		}
		return Accepted{
			LatestSeq: binary.BigEndian.Uint64(rest),
			UserID:    binary.BigEndian.Uint64(rest[8:]),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown server opcode %d", ErrMalformed, op)
	}
}

func splitHeader(buf []byte) (op uint32, rest []byte, err error) {
	if len(buf) < HeaderLen {
		return 0, nil, fmt.Errorf("%w: %d bytes is below the header length", ErrMalformed, len(buf))
	}
	if !bytes.Equal(buf[:4], Magic[:]) {
		return 0, nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	return binary.BigEndian.Uint32(buf[4:8]), buf[HeaderLen:], nil
}

// takeCString splits one NUL-terminated UTF-8 string off the front of buf.
func takeCString(buf []byte) (s string, rest []byte, err error) {
	i := bytes.IndexByte(buf, 0)
	if i < 0 {
		return "", nil, fmt.Errorf("%w: missing NUL terminator", ErrMalformed)
	}
	if !utf8.Valid(buf[:i]) {
		return "", nil, fmt.Errorf("%w: invalid UTF-8", ErrMalformed)
	}
	return string(buf[:i]), buf[i+1:], nil
}
