// Package outtrigger implements the real-time game-loop room engine from
// spec.md §4.7: the SYS/SYS2 handshake, READY/GAME_START synchronization,
// the 66.667 ms periodic game-data broadcast, time- and point-limit
// termination, and RESULT/RESULT2 scoring.
package outtrigger

import (
	"time"

	"github.com/kageserver/kage/lobby"
	"github.com/kageserver/kage/reactor"
	"github.com/kageserver/kage/wire"
)

// PlayerPhase is a room member's per-player state machine position.
type PlayerPhase int

const (
	PhaseInit PlayerPhase = iota
	PhaseSysData
	PhaseSysOk
	PhaseReady
	PhaseStarted
	PhaseResult
	PhaseGone
)

// PlayerState is Outtrigger's per-player payload, stored in
// lobby.Player.GameState since Room only carries ids.
type PlayerState struct {
	Phase PlayerPhase

	SysData  [20]byte
	GameData [18]byte
	Result   [32]byte
}

func playerState(p *lobby.Player) *PlayerState {
	ps, ok := p.GameState.(*PlayerState)
	if !ok {
		ps = &PlayerState{}
		p.GameState = ps
	}
	return ps
}

// RoomPhase is a room's overall game-loop phase.
type RoomPhase int

const (
	RoomInit RoomPhase = iota
	RoomSyncStarted
	RoomInGame
	RoomGameOver
	RoomResult
)

// periodicInterval is the per-frame broadcast period, ≈66.667 ms.
const periodicInterval = 66667 * time.Microsecond

// timeLimitTable decodes sysdata[0x0d]&0x0f into seconds; -1 means no
// time limit.
var timeLimitTable = [16]int{120, 140, 160, 180, 200, 220, 240, 260, 280, 300, 360, 420, 480, 600, 900, 1200}

// State is an OTRoom's game-specific payload.
type State struct {
	Phase    RoomPhase
	FrameNum uint32

	PointLimit    int
	HasPointLimit bool

	TimeLimitSeconds int

	periodicTok   reactor.Token
	periodicArmed bool

	timeLimitTok   reactor.Token
	timeLimitArmed bool
}

func state(r *lobby.Room) *State { return r.Payload.(*State) }

// NewRoom builds a Room whose Hooks wire Outtrigger's membership
// bookkeeping into the generic lobby machinery. Engine behavior
// (handshake, periodic broadcast) lives in Server, which alone has
// roster and clock access.
func NewRoom(id lobby.RoomID, lobbyID lobby.LobbyID, name string) *lobby.Room {
	r := lobby.NewRoom(id, lobbyID, name)
	r.Payload = &State{}
	r.Hooks = lobby.Hooks{
		OnAddPlayer:    onAddPlayer,
		OnRemovePlayer: onRemovePlayer,
	}
	return r
}

func onAddPlayer(r *lobby.Room, p *lobby.Player, srv *lobby.Server) {
	p.GameState = &PlayerState{Phase: PhaseInit}
}

// onRemovePlayer marks the departing player Gone rather than clearing
// its state outright: §4.7 says a departure during SyncStarted or InGame
// is folded into the existing per-player state machine, not erased, so
// a still-running fanout (e.g. a SYS2 copy already queued) doesn't
// reference a stale index.
func onRemovePlayer(r *lobby.Room, p *lobby.Player, wasOwner bool, srv *lobby.Server) {
	playerState(p).Phase = PhaseGone

	st := state(r)
	if len(r.Players) == 0 {
		cancelTimers(srv, st)
		return
	}

	if wasOwner {
		notifyNewOwner(r, srv)
	}
}

// notifyNewOwner implements spec.md §4.5's ownership-transfer clause: the
// new owner is told via RSP_TAG_CMD(OWNER), and if the room still has ≥2
// members, also via RSP_TAG_CMD(START_OK).
func notifyNewOwner(r *lobby.Room, srv *lobby.Server) {
	owner := srv.Player(r.Owner)
	if owner == nil {
		return
	}

	pkt := wire.NewPacket()
	pkt.Init(byte(wire.RspTagCmd))
	pkt.WriteUint16(uint16(PackTag(0, 0, TagOwner)))
	srv.Reply(owner, pkt)

	if len(r.Players) >= 2 {
		startOk := wire.NewPacket()
		startOk.Init(byte(wire.RspTagCmd))
		startOk.WriteUint16(uint16(PackTag(0, 0, TagStartOk)))
		srv.Reply(owner, startOk)
	}
}

func cancelTimers(srv *lobby.Server, st *State) {
	if st.periodicArmed {
		srv.Clock().Cancel(st.periodicTok)
		st.periodicArmed = false
	}
	if st.timeLimitArmed {
		srv.Clock().Cancel(st.timeLimitTok)
		st.timeLimitArmed = false
	}
}

// decodeTimeLimit reads the time-limit index out of sysdata[0x0d] & 0x0f.
func decodeTimeLimit(sysdata [20]byte) int {
	idx := sysdata[0x0d] & 0x0f
	if int(idx) >= len(timeLimitTable) {
		return -1
	}
	return timeLimitTable[idx]
}

// decodePointLimit decodes the present flag (sysdata[2] bit 0x10) and the
// value ((sysdata[3]>>2)&0x3f).
func decodePointLimit(sysdata [20]byte) (present bool, value int) {
	present = sysdata[2]&0x10 != 0
	value = int((sysdata[3] >> 2) & 0x3f)
	return
}

// decodeScore computes score = gamedata[8]/2 - 9, guarding the 0xF6
// sentinel maximum the source reserves.
func decodeScore(gamedata [18]byte) int {
	if gamedata[8] == 0xF6 {
		return -1
	}
	return int(gamedata[8])/2 - 9
}
