package lobby

import (
	"net"
	"testing"
)

// fakeCapturer records CloseRoom calls so tests can verify destroyRoom
// wires the hook rather than leaking the underlying netdump file handle.
type fakeCapturer struct {
	captures []string
	closed   []string
}

func (f *fakeCapturer) Capture(room RoomID, roomName string, addr net.Addr, data []byte) {
	f.captures = append(f.captures, roomName)
}

func (f *fakeCapturer) CloseRoom(roomName string) {
	f.closed = append(f.closed, roomName)
}

// TestDestroyRoomClosesCapturer matches spec.md §6: once a room is
// destroyed, its capture writer must be released, not held open for the
// server's lifetime.
func TestDestroyRoomClosesCapturer(t *testing.T) {
	s := newTestServer(t)
	fc := &fakeCapturer{}
	s.Capturer = fc

	p1, _ := addTestPlayer(s, FirstPlayerID, "Solo")
	joinTestLobby(s, p1, FirstLobbyID)

	r := s.createRoom(p1, "Solo Room", 4, "", 0)
	if destroyed := s.RemovePlayerFromRoom(r, p1); !destroyed {
		t.Fatalf("room of size 1 must be destroyed when its only member leaves")
	}

	if len(fc.closed) != 1 || fc.closed[0] != "Solo Room" {
		t.Fatalf("CloseRoom calls = %v, want [\"Solo Room\"]", fc.closed)
	}
}

// TestRoomSurvivingMemberLeavingDoesNotCloseCapturer confirms the hook
// fires only once the room is actually destroyed, not on every departure.
func TestRoomSurvivingMemberLeavingDoesNotCloseCapturer(t *testing.T) {
	s := newTestServer(t)
	fc := &fakeCapturer{}
	s.Capturer = fc

	p1, _ := addTestPlayer(s, FirstPlayerID, "P1")
	p2, _ := addTestPlayer(s, FirstPlayerID+1, "P2")
	joinTestLobby(s, p1, FirstLobbyID)
	joinTestLobby(s, p2, FirstLobbyID)

	r := s.createRoom(p1, "Shared", 4, "", 0)
	s.AddPlayerToRoom(r, p2)

	if destroyed := s.RemovePlayerFromRoom(r, p1); destroyed {
		t.Fatalf("room of size > 1 must not be destroyed when one member leaves")
	}
	if len(fc.closed) != 0 {
		t.Fatalf("CloseRoom called %d times, want 0 while the room is still alive", len(fc.closed))
	}
}
