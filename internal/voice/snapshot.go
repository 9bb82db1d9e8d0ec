package voice

import "sort"

// UserInfo is a read-only view of one connected user.
type UserInfo struct {
	ID     uint64 `json:"id"`
	Name   string `json:"name"`
	RoomID uint16 `json:"room_id"`
	Addr   string `json:"addr"`
}

// RoomInfo is a read-only view of one room and its membership size.
type RoomInfo struct {
	ID      uint16 `json:"id"`
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Snapshot is a point-in-time view of the engine for the status API.
type Snapshot struct {
	Users []UserInfo `json:"users"`
	Rooms []RoomInfo `json:"rooms"`
}

// Snapshot collects the connected users and rooms in stable order.
func (s *Server) Snapshot() Snapshot {
	s.mu.RLock()
	users := make([]UserInfo, 0, len(s.users))
	for addr, u := range s.users {
		users = append(users, UserInfo{
			ID:     u.ID,
			Name:   u.Name,
			RoomID: u.RoomID(),
			Addr:   addr.String(),
		})
	}
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })

	out := Snapshot{Users: users, Rooms: make([]RoomInfo, 0, len(rooms))}
	for _, r := range rooms {
		out.Rooms = append(out.Rooms, RoomInfo{ID: r.ID, Name: r.Name, Members: r.memberCount()})
	}
	return out
}

// UserCount returns the number of connected users.
func (s *Server) UserCount() int { return s.userCount() }

// RoomCount returns the number of registered rooms.
func (s *Server) RoomCount() int { return s.roomCount() }
