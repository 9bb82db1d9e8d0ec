package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"roost/server/internal/voice"
)

// nopConn satisfies voice.DatagramConn without a socket.
type nopConn struct{}

func (nopConn) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	return 0, netip.AddrPort{}, net.ErrClosed
}

func (nopConn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	return len(b), nil
}

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	engine := voice.NewServer(nopConn{}, voice.Hooks{})
	engine.AddRoomWithID(1, "Lobby")
	engine.AddRoomWithID(2, "Gaming")
	engine.AddRoomWithID(3, "Music")

	api := New(engine, "test box")
	ts := httptest.NewServer(api.Echo())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Name != "test box" {
		t.Fatalf("health = %#v", body)
	}
	if body.Users != 0 || body.Rooms != 3 {
		t.Fatalf("health counts = %#v", body)
	}
}

func TestStateEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("get /api/state: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var snap voice.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Empty engine must still serialize as arrays, not nulls.
	if snap.Users == nil {
		t.Fatal("users serialized as null")
	}
	if len(snap.Rooms) != 3 || snap.Rooms[0].Name != "Lobby" {
		t.Fatalf("rooms = %#v", snap.Rooms)
	}
}

func TestRoomsEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/api/rooms")
	if err != nil {
		t.Fatalf("get /api/rooms: %v", err)
	}
	defer resp.Body.Close()

	var rooms []voice.RoomInfo
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rooms) != 3 || rooms[2].ID != 3 || rooms[2].Name != "Music" {
		t.Fatalf("rooms = %#v", rooms)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	t.Parallel()
	ts := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
