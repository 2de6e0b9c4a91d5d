package outtrigger

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kageserver/kage/lobby"
	"github.com/kageserver/kage/rudp"
	"github.com/kageserver/kage/wire"
)

// testHarness wires a real lobby.Server plus two room members whose sent
// datagrams are captured in-process, so the game-loop state machine can be
// driven and observed without a socket.
type testHarness struct {
	t    *testing.T
	srv  *Server
	room *lobby.Room
	p1   *lobby.Player
	p2   *lobby.Player
	sent map[lobby.PlayerID]*[][]byte
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	srv, err := New(":0", []string{"Lobby1"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h := &testHarness{t: t, srv: srv, sent: map[lobby.PlayerID]*[][]byte{}}
	h.p1 = h.addPlayer(lobby.FirstPlayerID, "P1")
	h.p2 = h.addPlayer(lobby.FirstPlayerID+1, "P2")

	h.room = NewRoom(lobby.FirstRoomID, lobby.FirstLobbyID, "Arena")
	srv.AddPlayerToRoom(h.room, h.p1)
	srv.AddPlayerToRoom(h.room, h.p2)
	return h
}

func (h *testHarness) addPlayer(id lobby.PlayerID, name string) *lobby.Player {
	p := &lobby.Player{ID: id, Name: name}
	var captured [][]byte
	h.sent[id] = &captured
	h.srv.Server.AddBootstrappedPlayer(p)
	p.Out = rudp.NewOutbox(h.srv.Server.Clock(), func(data []byte) error {
		*h.sent[id] = append(*h.sent[id], data)
		return nil
	}, zerolog.Nop())
	return p
}

func (h *testHarness) lastChunk(id lobby.PlayerID) wire.Chunk {
	h.t.Helper()
	sent := *h.sent[id]
	if len(sent) == 0 {
		h.t.Fatalf("player %#x received nothing", id)
	}
	chunks, err := wire.ParseDatagram(sent[len(sent)-1])
	if err != nil {
		h.t.Fatalf("ParseDatagram: %v", err)
	}
	return chunks[0]
}

func (h *testHarness) tagOf(c wire.Chunk) TagCmd {
	if len(c.Data) < 2 {
		h.t.Fatalf("chunk too short for a TagCmd")
	}
	return TagCmd(be16(c.Data[0:2]))
}

func sysDataChunk(tag TagCmd, sysdata [20]byte) wire.Chunk {
	data := make([]byte, 2+20)
	data[0] = byte(tag >> 8)
	data[1] = byte(tag)
	copy(data[2:], sysdata[:])
	return wire.Chunk{Command: byte(wire.ReqGameData), Data: data, Flags: wire.FlagRUDP, Seq: 1}
}

func tagOnlyChunk(tag TagCmd) wire.Chunk {
	return wire.Chunk{Command: byte(wire.ReqGameData), Data: []byte{byte(tag >> 8), byte(tag)}}
}

// TestSysHandshakeFansOutSys2OnlyOnceBothAck matches scenario 4: SYS2
// fanout fires only once every room member has acked its SYS_OK.
func TestSysHandshakeFansOutSys2OnlyOnceBothAck(t *testing.T) {
	h := newHarness(t)

	var sd1, sd2 [20]byte
	sd1[0] = 0xAA
	sd2[0] = 0xBB

	h.srv.onSys(h.srv.Server, h.room, h.p1, sysDataChunk(PackTag(0, 0, TagSys), sd1))
	h.srv.onSys(h.srv.Server, h.room, h.p2, sysDataChunk(PackTag(0, 0, TagSys), sd2))

	if playerState(h.p1).Phase != PhaseSysData || playerState(h.p2).Phase != PhaseSysData {
		t.Fatalf("both players should be SysData before either SYS_OK is acked")
	}

	seq1 := h.lastChunk(h.p1.ID).Seq
	h.p1.Out.AckRUdp(seq1)
	if playerState(h.p1).Phase != PhaseSysOk {
		t.Fatalf("p1 should be SysOk after its SYS_OK is acked")
	}
	for _, dg := range *h.sent[h.p1.ID] {
		c, _ := wire.ParseDatagram(dg)
		if len(c) > 0 && h.tagOf(c[0]).Command() == TagSys2 {
			t.Fatalf("SYS2 fanout fired before the second player acked")
		}
	}

	seq2 := h.lastChunk(h.p2.ID).Seq
	h.p2.Out.AckRUdp(seq2)
	if playerState(h.p2).Phase != PhaseSysOk {
		t.Fatalf("p2 should be SysOk after its SYS_OK is acked")
	}

	c1 := h.lastChunk(h.p1.ID)
	if h.tagOf(c1).Command() != TagSys2 {
		t.Fatalf("p1's last chunk is not SYS2 after both acked")
	}
	if c1.Command != byte(wire.RspTagCmd) {
		t.Fatalf("SYS2 envelope = %#x, want RSP_TAG_CMD (%#x)", c1.Command, byte(wire.RspTagCmd))
	}
	c2 := h.lastChunk(h.p2.ID)
	if h.tagOf(c2).Command() != TagSys2 {
		t.Fatalf("p2's last chunk is not SYS2 after both acked")
	}
}

// TestReadyThenGameStartArmsPeriodicBroadcast drives both members from
// SysOk through Ready to GAME_START, confirming the room enters InGame and
// the periodic timer is armed.
func TestReadyThenGameStartArmsPeriodicBroadcast(t *testing.T) {
	h := newHarness(t)
	playerState(h.p1).Phase = PhaseSysOk
	playerState(h.p2).Phase = PhaseSysOk

	h.srv.onReady(h.srv.Server, h.room, h.p1, tagOnlyChunk(PackTag(0, 0, TagReady)))
	h.srv.onReady(h.srv.Server, h.room, h.p2, tagOnlyChunk(PackTag(0, 0, TagReady)))

	if state(h.room).Phase != RoomSyncStarted {
		t.Fatalf("room phase = %v, want RoomSyncStarted once both are Ready", state(h.room).Phase)
	}

	startChunk := h.lastChunk(h.p1.ID)
	if h.tagOf(startChunk).Command() != TagGameStart {
		t.Fatalf("expected a GAME_START chunk queued for p1")
	}
	if startChunk.Command != byte(wire.RspTagCmd) {
		t.Fatalf("GAME_START envelope = %#x, want RSP_TAG_CMD (%#x)", startChunk.Command, byte(wire.RspTagCmd))
	}

	seq1 := h.lastChunk(h.p1.ID).Seq
	seq2 := h.lastChunk(h.p2.ID).Seq
	h.p1.Out.AckRUdp(seq1)
	h.p2.Out.AckRUdp(seq2)

	if state(h.room).Phase != RoomInGame {
		t.Fatalf("room phase = %v, want RoomInGame once both GAME_START acks land", state(h.room).Phase)
	}
	if !state(h.room).periodicArmed {
		t.Fatalf("periodic broadcast timer not armed after game start")
	}
}

// TestPeriodicBroadcastRearmsFromPriorExpiry matches scenario 5: each
// rearm uses the previous expiry as its base, not the firing time, so the
// cadence does not drift.
func TestPeriodicBroadcastRearmsFromPriorExpiry(t *testing.T) {
	h := newHarness(t)
	st := state(h.room)
	st.Phase = RoomInGame

	base := time.Unix(0, 0)
	h.srv.armPeriodic(h.srv.Server, h.room, base)

	*h.sent[h.p1.ID] = nil
	*h.sent[h.p2.ID] = nil

	h.srv.Server.Clock().Fire(base.Add(periodicInterval))
	if st.FrameNum != 1 {
		t.Fatalf("FrameNum = %d after first fire, want 1", st.FrameNum)
	}
	if len(*h.sent[h.p1.ID]) != 1 {
		t.Fatalf("p1 got %d frames after first fire, want 1", len(*h.sent[h.p1.ID]))
	}

	h.srv.Server.Clock().Fire(base.Add(2 * periodicInterval))
	if st.FrameNum != 2 {
		t.Fatalf("FrameNum = %d after second fire, want 2", st.FrameNum)
	}
	if len(*h.sent[h.p1.ID]) != 2 {
		t.Fatalf("p1 got %d frames after second fire, want 2", len(*h.sent[h.p1.ID]))
	}
}

// TestResetBroadcastsGameOverAndResetsPhase matches "RESET from any ──►
// broadcast GAME_OVER, reset".
func TestResetBroadcastsGameOverAndResetsPhase(t *testing.T) {
	h := newHarness(t)
	st := state(h.room)
	st.Phase = RoomInGame

	h.srv.onReset(h.srv.Server, h.room, h.p1)

	if st.Phase != RoomInit {
		t.Fatalf("room phase = %v after RESET, want RoomInit", st.Phase)
	}
	if playerState(h.p1).Phase != PhaseInit || playerState(h.p2).Phase != PhaseInit {
		t.Fatalf("player phases not reset to Init after RESET")
	}

	c1 := h.lastChunk(h.p1.ID)
	if h.tagOf(c1).Command() != TagGameOver {
		t.Fatalf("p1 did not receive GAME_OVER on RESET")
	}
	if c1.Command != byte(wire.RspTagCmd) {
		t.Fatalf("GAME_OVER envelope = %#x, want RSP_TAG_CMD (%#x)", c1.Command, byte(wire.RspTagCmd))
	}
}

// TestResultWaitsForEveryMemberThenBroadcastsResult2 matches "RESULT from
// all ──► broadcast RESULT2".
func TestResultWaitsForEveryMemberThenBroadcastsResult2(t *testing.T) {
	h := newHarness(t)
	st := state(h.room)
	st.Phase = RoomInGame

	resultData := func(score byte) []byte {
		d := make([]byte, 2+32)
		d[32] = score
		return d
	}

	h.srv.onResult(h.srv.Server, h.room, h.p1, wire.Chunk{Command: byte(wire.ReqGameData), Data: resultData(10)})
	if st.Phase == RoomResult {
		t.Fatalf("room entered RoomResult before every member reported")
	}

	h.srv.onResult(h.srv.Server, h.room, h.p2, wire.Chunk{Command: byte(wire.ReqGameData), Data: resultData(20)})
	if st.Phase != RoomResult {
		t.Fatalf("room phase = %v, want RoomResult once every member has reported", st.Phase)
	}

	c1 := h.lastChunk(h.p1.ID)
	if h.tagOf(c1).Command() != TagResult2 {
		t.Fatalf("p1 did not receive RESULT2")
	}
	if c1.Command != byte(wire.RspTagCmd) {
		t.Fatalf("RESULT2 envelope = %#x, want RSP_TAG_CMD (%#x)", c1.Command, byte(wire.RspTagCmd))
	}
}

// TestOwnershipTransferNotifiesNewOwner matches spec.md §4.5: when the
// owner leaves a non-empty room, the new owner gets RSP_TAG_CMD(OWNER).
// With only one member left, START_OK must not also fire.
func TestOwnershipTransferNotifiesNewOwner(t *testing.T) {
	h := newHarness(t)
	h.srv.RemovePlayerFromRoom(h.room, h.p1)

	if h.room.Owner != h.p2.ID {
		t.Fatalf("owner = %#x, want p2 (%#x)", h.room.Owner, h.p2.ID)
	}

	sent := *h.sent[h.p2.ID]
	if len(sent) != 1 {
		t.Fatalf("new owner got %d packets, want 1 (OWNER only, room has <2 members)", len(sent))
	}
	c := h.lastChunk(h.p2.ID)
	if c.Command != byte(wire.RspTagCmd) {
		t.Fatalf("ownership notice envelope = %#x, want RSP_TAG_CMD (%#x)", c.Command, byte(wire.RspTagCmd))
	}
	if h.tagOf(c).Command() != TagOwner {
		t.Fatalf("new owner's last chunk is not OWNER")
	}
}

// TestOwnershipTransferAlsoSendsStartOkWithTwoOrMoreMembers matches the
// "if the room has ≥2 members" clause: with a third member still present
// after the owner leaves, the new owner gets both OWNER and START_OK.
func TestOwnershipTransferAlsoSendsStartOkWithTwoOrMoreMembers(t *testing.T) {
	h := newHarness(t)
	p3 := h.addPlayer(lobby.FirstPlayerID+2, "P3")
	h.srv.AddPlayerToRoom(h.room, p3)

	*h.sent[h.p2.ID] = nil
	h.srv.RemovePlayerFromRoom(h.room, h.p1)

	sent := *h.sent[h.p2.ID]
	if len(sent) != 2 {
		t.Fatalf("new owner got %d packets, want 2 (OWNER, START_OK)", len(sent))
	}
	first, _ := wire.ParseDatagram(sent[0])
	second, _ := wire.ParseDatagram(sent[1])
	if h.tagOf(first[0]).Command() != TagOwner {
		t.Fatalf("first packet to new owner is not OWNER")
	}
	if h.tagOf(second[0]).Command() != TagStartOk {
		t.Fatalf("second packet to new owner is not START_OK")
	}
}
