package bootstrap

import (
	"net"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kageserver/kage/lobby"
	"github.com/kageserver/kage/wire"
)

type fakeGameServer struct {
	added []*lobby.Player
}

func (f *fakeGameServer) AddBootstrappedPlayer(p *lobby.Player) {
	f.added = append(f.added, p)
}

func newTestServer(t *testing.T, router Router) *Server {
	t.Helper()
	s, err := New(":0", router, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func fixedString(s string, width int) []byte {
	b := make([]byte, width)
	copy(b, s)
	return b
}

func u32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// TestOuttriggerLoginRoutesToOuttriggerAndAllocatesFirstID matches
// scenario 1: a login with no recognized game-identifier string routes to
// Outtrigger and allocates the first player id.
func TestOuttriggerLoginRoutesToOuttriggerAndAllocatesFirstID(t *testing.T) {
	ot := &fakeGameServer{}
	s := newTestServer(t, Router{Outtrigger: ot})

	// The payload starts at chunk offset 0x10, where Outtrigger puts the name.
	data := fixedString("Player1", 16)

	src := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
	// PlayerID carries the client's temp id (header offset 4).
	s.handleLogin(src, wire.Chunk{Command: byte(wire.ReqBootstrapLogin), PlayerID: 0x77, Data: data})

	if len(ot.added) != 1 {
		t.Fatalf("outtrigger router received %d players, want 1", len(ot.added))
	}
	p := ot.added[0]
	if p.ID != lobby.FirstPlayerID {
		t.Fatalf("first allocated id = %#x, want %#x", p.ID, lobby.FirstPlayerID)
	}
	if p.Name != "Player1" {
		t.Fatalf("name = %q, want Player1", p.Name)
	}
	if p.Addr != src {
		t.Fatalf("player addr not set from the login datagram's source")
	}
}

// TestBombermanLoginDetectedByIdentifierPrefixAndTrimsGuestSuffix matches
// spec.md §4.3's Bomberman detection and the \x01 guest-count suffix trim.
func TestBombermanLoginDetectedByIdentifierPrefixAndTrimsGuestSuffix(t *testing.T) {
	bm := &fakeGameServer{}
	s := newTestServer(t, Router{Bomberman: bm})

	// Payload index = chunk offset - 0x10: identifier at 0x10, name at 0x38.
	data := make([]byte, 0x28+16)
	copy(data[0x00:], fixedString("BombermanOnline", 32))
	copy(data[0x28:], fixedString("Guestname\x01", 16))

	src := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40001}
	s.handleLogin(src, wire.Chunk{Command: byte(wire.ReqBootstrapLogin), Data: data})

	if len(bm.added) != 1 {
		t.Fatalf("bomberman router received %d players, want 1", len(bm.added))
	}
	if got := bm.added[0].Name; got != "Guestname" {
		t.Fatalf("name = %q, want Guestname (trailing \\x01 guest marker stripped)", got)
	}
}

// TestSecondLoginAllocatesNextSequentialID confirms ids increase
// monotonically across logins on the same bootstrap endpoint.
func TestSecondLoginAllocatesNextSequentialID(t *testing.T) {
	ot := &fakeGameServer{}
	s := newTestServer(t, Router{Outtrigger: ot})

	data := make([]byte, 0x10+16)
	src := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40002}

	s.handleLogin(src, wire.Chunk{Command: byte(wire.ReqBootstrapLogin), Data: data})
	s.handleLogin(src, wire.Chunk{Command: byte(wire.ReqBootstrapLogin), Data: data})

	if len(ot.added) != 2 {
		t.Fatalf("got %d logins, want 2", len(ot.added))
	}
	if ot.added[1].ID != lobby.FirstPlayerID+1 {
		t.Fatalf("second id = %#x, want %#x", ot.added[1].ID, lobby.FirstPlayerID+1)
	}
}

func TestDetectGamePropellerPrefix(t *testing.T) {
	data := fixedString("PropellerArena", 32)
	g, off := detectGame(data)
	if g != gamePropeller {
		t.Fatalf("game = %v, want gamePropeller", g)
	}
	if off != 0x38 {
		t.Fatalf("nameOff = %#x, want 0x38", off)
	}
}
