package protocol

import "encoding/binary"

func header(op uint32) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, Magic[:]...)
	return binary.BigEndian.AppendUint32(buf, op)
}

func appendCString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

func (Ping) Encode() []byte { return header(OpPing) }

func (Pong) Encode() []byte { return header(OpPong) }

func (p Join) Encode() []byte {
	buf := header(OpJoin)
	buf = appendCString(buf, p.Name)
	buf = appendCString(buf, p.HWID)
	return binary.BigEndian.AppendUint16(buf, p.RoomID)
}

func (p Joined) Encode() []byte {
	buf := header(OpJoined)
	buf = binary.BigEndian.AppendUint16(buf, p.RoomID)
	for _, u := range p.Users {
		buf = binary.BigEndian.AppendUint64(buf, u.ID)
		buf = appendCString(buf, u.Name)
	}
	return buf
}

func (p Talk) Encode() []byte {
	return append(header(OpTalk), p.Audio...)
}

func (p Talked) Encode() []byte {
	buf := header(OpTalked)
	buf = append(buf, p.Flag)
	buf = binary.BigEndian.AppendUint64(buf, p.TalkerID)
	return append(buf, p.Audio...)
}

func (p Alive) Encode() []byte {
	return binary.BigEndian.AppendUint64(header(OpAlive), p.Seq)
}

func (Alived) Encode() []byte { return header(OpAlived) }

func (p Rooms) Encode() []byte {
	return binary.BigEndian.AppendUint16(header(OpRooms), p.Offset)
}

func (p RoomsList) Encode() []byte {
	buf := header(OpRoomsList)
	buf = append(buf, encodeBool(p.Remaining))
	for _, r := range p.List {
		buf = binary.BigEndian.AppendUint16(buf, r.ID)
		buf = appendCString(buf, r.Name)
	}
	return buf
}

func (p Event) Encode() []byte {
	buf := header(OpEvent)
	buf = binary.BigEndian.AppendUint64(buf, p.Seq)
	buf = binary.BigEndian.AppendUint16(buf, p.RoomID)
	buf = binary.BigEndian.AppendUint64(buf, p.UserID)
	buf = appendCString(buf, p.Name)
	return append(buf, encodeBool(p.Joined))
}

func (p Switch) Encode() []byte {
	return binary.BigEndian.AppendUint16(header(OpSwitch), p.RoomID)
}

func (Leave) Encode() []byte { return header(OpLeave) }

func (p Disconnect) Encode() []byte {
	return appendCString(header(OpDisconnect), p.Reason)
}

func (p Accepted) Encode() []byte {
	buf := binary.BigEndian.AppendUint64(header(OpAccepted), p.LatestSeq)
	return binary.BigEndian.AppendUint64(buf, p.UserID)
}

func encodeBool(b bool) byte {
	if b {
		return 1
	}
	return 0
}
