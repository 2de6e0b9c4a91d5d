package bomberman

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/kageserver/kage/lobby"
	"github.com/kageserver/kage/wire"
)

func newTestServer(t *testing.T) *lobby.Server {
	t.Helper()
	s, err := lobby.New(":0", wire.PortBomberman, []string{"Lobby1"}, lobby.GameHooks{NewRoom: NewRoom}, zerolog.Nop())
	if err != nil {
		t.Fatalf("lobby.New: %v", err)
	}
	return s
}

func addTestPlayer(s *lobby.Server, id lobby.PlayerID, name string, guests uint32) *lobby.Player {
	p := &lobby.Player{ID: id, Name: name}
	if guests > 0 {
		p.ExtraData = []byte{byte(guests >> 24), byte(guests >> 16), byte(guests >> 8), byte(guests)}
	}
	s.AddBootstrappedPlayer(p)
	return p
}

// TestSlotsCountGuestsPerMember verifies spec.md §4.6's guest-slot
// accounting: each member occupies 1 + guestCount slots, recomputed on
// every membership change.
func TestSlotsCountGuestsPerMember(t *testing.T) {
	s := newTestServer(t)
	owner := addTestPlayer(s, lobby.FirstPlayerID, "Owner", 2)

	r := NewRoom(lobby.FirstRoomID, lobby.FirstLobbyID, "Arena")
	s.AddPlayerToRoom(r, owner)

	st := state(r)
	if len(st.Slots) != 1 || st.Slots[0] != 3 {
		t.Fatalf("Slots = %v, want [3] (1 owner + 2 guests)", st.Slots)
	}
	if r.PlayerCount() != 3 {
		t.Fatalf("PlayerCount = %d, want 3", r.PlayerCount())
	}

	joiner := addTestPlayer(s, lobby.FirstPlayerID+1, "Joiner", 0)
	s.AddPlayerToRoom(r, joiner)

	if len(st.Slots) != 2 || st.Slots[1] != 1 {
		t.Fatalf("Slots after join = %v, want [3 1]", st.Slots)
	}
	if r.PlayerCount() != 4 {
		t.Fatalf("PlayerCount after join = %d, want 4", r.PlayerCount())
	}
}

// TestCreateJoinRoomReplyOwnerGetsNoRoster matches spec.md §4.6 step 1:
// the very first member (who becomes the owner) gets only the
// player-list chunk, never the roster follow-up.
func TestCreateJoinRoomReplyOwnerGetsNoRoster(t *testing.T) {
	s := newTestServer(t)
	owner := addTestPlayer(s, lobby.FirstPlayerID, "Owner", 0)

	r := NewRoom(lobby.FirstRoomID, lobby.FirstLobbyID, "Arena")
	s.AddPlayerToRoom(r, owner)

	reply, relay := createJoinRoomReply(r, owner, s)
	if reply == nil {
		t.Fatalf("reply is nil for owner")
	}
	if relay != nil {
		t.Fatalf("relay must be nil for the owner's own join reply")
	}

	chunks := reply.Chunks()
	if len(chunks) != 1 {
		t.Fatalf("owner reply has %d chunks, want 1 (no roster chunk)", len(chunks))
	}
}

// TestCreateJoinRoomReplyNonOwnerGetsRosterAndRelay matches step 2/3: a
// non-owner joiner gets a second CONTINUE-chained roster chunk on its own
// reply, and a parallel relay packet is produced for the room's existing
// members.
func TestCreateJoinRoomReplyNonOwnerGetsRosterAndRelay(t *testing.T) {
	s := newTestServer(t)
	owner := addTestPlayer(s, lobby.FirstPlayerID, "Owner", 0)

	r := NewRoom(lobby.FirstRoomID, lobby.FirstLobbyID, "Arena")
	s.AddPlayerToRoom(r, owner)

	joiner := addTestPlayer(s, lobby.FirstPlayerID+1, "Joiner", 1)
	s.AddPlayerToRoom(r, joiner)

	reply, relay := createJoinRoomReply(r, joiner, s)
	if reply == nil {
		t.Fatalf("reply is nil for non-owner joiner")
	}
	if len(reply.Chunks()) != 2 {
		t.Fatalf("joiner reply has %d chunks, want 2 (player-list + roster)", len(reply.Chunks()))
	}
	if relay == nil {
		t.Fatalf("relay is nil for non-owner joiner, want a roster relay for existing members")
	}
	if len(relay.Chunks()) != 1 {
		t.Fatalf("relay has %d chunks, want 1 (roster only)", len(relay.Chunks()))
	}
	if relay.Chunks()[0].Flags()&wire.FlagRelay == 0 {
		t.Fatalf("relay roster chunk missing RELAY flag")
	}
}

func TestBmCmdRoundTrip(t *testing.T) {
	for _, sub := range []byte{0, 7, 0xa, 0xb, 0xc, 0xf, 0x1C, 0x7f} {
		cmd := bmCmd(sub, 0x123)
		if got := bmSub(cmd); got != sub&0x7f {
			t.Fatalf("bmSub(bmCmd(%#x)) = %#x, want %#x", sub, got, sub&0x7f)
		}
	}
}
