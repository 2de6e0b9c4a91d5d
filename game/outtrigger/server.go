package outtrigger

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/kageserver/kage/lobby"
	"github.com/kageserver/kage/wire"
)

// Server wraps a generic lobby.Server with Outtrigger's GameHooks,
// running the real-time room engine described in spec.md §4.7 on top of
// the shared single-reactor clock.
type Server struct {
	*lobby.Server
	log zerolog.Logger
}

// New binds an Outtrigger lobby server on addr.
func New(addr string, lobbyNames []string, log zerolog.Logger) (*Server, error) {
	s := &Server{log: log}

	ls, err := lobby.New(addr, wire.PortOuttrigger, lobbyNames, lobby.GameHooks{
		HandleChunk: s.handleChunk,
		NewRoom:     NewRoom,
	}, log)
	if err != nil {
		return nil, err
	}
	s.Server = ls
	return s, nil
}

func (s *Server) handleChunk(ls *lobby.Server, p *lobby.Player, c wire.Chunk) bool {
	switch wire.Command(c.Command) {
	case wire.ReqGameData:
		s.handleGameData(ls, p, c)
		return true

	case wire.ReqChgRoomStatus:
		s.onChgRoomStatus(ls, p, c)
		return false // let the generic handler still apply/echo the attrs
	}
	return false
}

func (s *Server) handleGameData(ls *lobby.Server, p *lobby.Player, c wire.Chunk) {
	if len(c.Data) < 2 {
		return
	}
	tag := TagCmd(be16(c.Data[0:2]))
	r := ls.Room(p.RoomID)
	if r == nil {
		return
	}

	switch tag.Command() {
	case TagSys:
		s.onSys(ls, r, p, c)
	case TagSync:
		s.onSync(ls, r, p, c)
	case TagReady:
		s.onReady(ls, r, p, c)
	case TagResult:
		s.onResult(ls, r, p, c)
	case TagReset:
		s.onReset(ls, r, p)
	case TagEcho:
		s.onEcho(ls, r, p, c)
	default:
		s.log.Error().Int("tag", tag.Command()).Hex("data", c.Data).Msg("unknown game subcommand")
		if c.HasFlag(wire.FlagRUDP) {
			ls.SendNopAck(p, c.Seq)
		}
	}
}

// onSys implements §4.7's Init→SysData step: store the 20-byte sysdata,
// reply with a reliable SYS_OK, and advance to SysOk once that SYS_OK is
// acknowledged (scenario 4: two players, each acked independently, SYS2
// fanout fires once both are SysOk).
func (s *Server) onSys(ls *lobby.Server, r *lobby.Room, p *lobby.Player, c wire.Chunk) {
	if len(c.Data) < 2+20 {
		return
	}
	ps := playerState(p)
	copy(ps.SysData[:], c.Data[2:22])
	ps.Phase = PhaseSysData

	reply := wire.NewPacket()
	reply.Init(byte(wire.RspTagCmd))
	reply.WriteUint16(uint16(PackTag(0, 0, TagSysOk)))
	reply.SetFlags(wire.FlagRUDP)

	seq := p.Out.NextRelSeq()
	ls.Reply(p, reply)
	p.Out.WaitForSeq(seq, func() {
		ps.Phase = PhaseSysOk
		s.maybeFanoutSys2(ls, r)
	})
}

// maybeFanoutSys2 sends SYS2 once every non-Gone room member has reached
// SysOk: one copy per recipient, each carrying every member's sysdata
// concatenated, with TagCmd.player set to the room's player count and
// TagCmd.id set to the recipient's index (scenario 4).
func (s *Server) maybeFanoutSys2(ls *lobby.Server, r *lobby.Room) {
	members := livePlayers(ls, r)
	for _, p := range members {
		if playerState(p).Phase != PhaseSysOk {
			return
		}
	}

	for i, recipient := range members {
		pkt := wire.NewPacket()
		pkt.Init(byte(wire.RspTagCmd))
		pkt.WriteUint16(uint16(PackTag(i, len(members), TagSys2)))
		for _, m := range members {
			pkt.WriteBytes(playerState(m).SysData[:])
		}
		pkt.SetFlags(wire.FlagRUDP)
		ls.Reply(recipient, pkt)
	}
}

// onSync stores a player's live gamedata update; the periodic broadcast
// timer is what actually fans it out to the room.
func (s *Server) onSync(ls *lobby.Server, r *lobby.Room, p *lobby.Player, c wire.Chunk) {
	if len(c.Data) < 2+18 {
		return
	}
	copy(playerState(p).GameData[:], c.Data[2:20])
}

// onReady implements SysOk→Ready; once every member is Ready, GAME_START
// is broadcast reliably and the room enters SyncStarted.
func (s *Server) onReady(ls *lobby.Server, r *lobby.Room, p *lobby.Player, c wire.Chunk) {
	ps := playerState(p)
	if ps.Phase != PhaseSysOk {
		return
	}
	ps.Phase = PhaseReady

	members := livePlayers(ls, r)
	for _, m := range members {
		if playerState(m).Phase != PhaseReady {
			return
		}
	}

	st := state(r)
	st.Phase = RoomSyncStarted

	pending := len(members)
	for _, recipient := range members {
		start := wire.NewPacket()
		start.Init(byte(wire.RspTagCmd))
		start.WriteUint16(uint16(PackTag(0, 0, TagGameStart)))
		start.SetFlags(wire.FlagRUDP)

		seq := recipient.Out.NextRelSeq()
		ls.Reply(recipient, start)
		rp := recipient
		recipient.Out.WaitForSeq(seq, func() {
			playerState(rp).Phase = PhaseStarted
			pending--
			if pending == 0 {
				s.startGame(ls, r, members)
			}
		})
	}
}

// startGame implements the SyncStarted→InGame transition: kick-start
// with an empty CHAT to the owner, then arm the periodic broadcast.
func (s *Server) startGame(ls *lobby.Server, r *lobby.Room, members []*lobby.Player) {
	st := state(r)
	st.Phase = RoomInGame

	if owner := ls.Player(r.Owner); owner != nil {
		kick := wire.NewPacket()
		kick.Init(byte(wire.ReqChat))
		ls.Reply(owner, kick)
	}

	s.armPeriodic(ls, r, time.Now())
}

// armPeriodic schedules the next periodic broadcast at from+periodicInterval;
// broadcastFrame rearms with that expiry (not the firing time) as from so
// the cadence stays drift-free (scenario 5).
func (s *Server) armPeriodic(ls *lobby.Server, r *lobby.Room, from time.Time) {
	st := state(r)
	expiry := from.Add(periodicInterval)
	st.periodicTok = ls.Clock().At(expiry, func() {
		s.broadcastFrame(ls, r, expiry)
	})
	st.periodicArmed = true
}

func (s *Server) broadcastFrame(ls *lobby.Server, r *lobby.Room, expiry time.Time) {
	st := state(r)
	if st.Phase != RoomSyncStarted && st.Phase != RoomInGame {
		st.periodicArmed = false
		return
	}

	members := livePlayers(ls, r)
	st.FrameNum++

	pkt := wire.NewPacket()
	pkt.Init(byte(wire.ReqChat))
	pkt.WriteUint32(st.FrameNum)
	for _, m := range members {
		ps := playerState(m)
		pkt.WriteBytes(ps.GameData[:])

		if score := decodeScore(ps.GameData); st.HasPointLimit && score >= 0 && score >= st.PointLimit {
			s.gameOver(ls, r, members)
		}
	}

	for _, m := range members {
		ls.Reply(m, pkt)
	}

	if st.Phase == RoomInGame || st.Phase == RoomSyncStarted {
		s.armPeriodic(ls, r, expiry)
	}
}

// onChgRoomStatus intercepts REQ_CHG_ROOM_STATUS before the generic
// handler applies it, to catch the owner unlocking PLAYING|LOCKED to
// PLAYING and arm the time-limit timer decoded from the owner's sysdata.
func (s *Server) onChgRoomStatus(ls *lobby.Server, p *lobby.Player, c wire.Chunk) {
	r := ls.Room(p.RoomID)
	if r == nil || p.ID != r.Owner || len(c.Data) < 4 {
		return
	}
	newAttrs := be32(c.Data[0:4])
	wasLockedPlaying := r.Attributes&(lobby.AttrPlaying|lobby.AttrLocked) == lobby.AttrPlaying|lobby.AttrLocked
	nowPlayingOnly := newAttrs&(lobby.AttrPlaying|lobby.AttrLocked) == lobby.AttrPlaying

	if !(wasLockedPlaying && nowPlayingOnly) {
		return
	}

	st := state(r)
	st.Phase = RoomInit
	for _, id := range r.Players {
		if m := ls.Player(id); m != nil {
			playerState(m).Phase = PhaseInit
		}
	}

	ps := playerState(p)
	seconds := decodeTimeLimit(ps.SysData)
	st.TimeLimitSeconds = seconds
	st.HasPointLimit, st.PointLimit = decodePointLimit(ps.SysData)

	if st.timeLimitArmed {
		ls.Clock().Cancel(st.timeLimitTok)
		st.timeLimitArmed = false
	}
	if seconds > 0 {
		st.timeLimitTok = ls.Clock().After(time.Now(), time.Duration(seconds)*time.Second, func() {
			s.gameOver(ls, r, livePlayers(ls, r))
		})
		st.timeLimitArmed = true
	}
}

// onResult records a player's final score; once every live member has
// reported, the room broadcasts RESULT2 and stops its timers.
func (s *Server) onResult(ls *lobby.Server, r *lobby.Room, p *lobby.Player, c wire.Chunk) {
	if len(c.Data) < 2+32 {
		return
	}
	ps := playerState(p)
	copy(ps.Result[:], c.Data[2:34])
	ps.Phase = PhaseResult

	members := livePlayers(ls, r)
	for _, m := range members {
		if playerState(m).Phase != PhaseResult {
			return
		}
	}

	st := state(r)
	st.Phase = RoomResult
	cancelTimers(ls, st)

	pkt := wire.NewPacket()
	pkt.Init(byte(wire.RspTagCmd))
	pkt.WriteUint16(uint16(PackTag(0, len(members), TagResult2)))
	for _, m := range members {
		pkt.WriteBytes(playerState(m).Result[:])
	}
	pkt.SetFlags(wire.FlagRUDP)
	for _, m := range members {
		ls.Reply(m, pkt)
	}
}

// onReset implements "RESET from any ──► broadcast GAME_OVER, reset".
func (s *Server) onReset(ls *lobby.Server, r *lobby.Room, p *lobby.Player) {
	s.gameOver(ls, r, livePlayers(ls, r))
}

func (s *Server) gameOver(ls *lobby.Server, r *lobby.Room, members []*lobby.Player) {
	st := state(r)
	st.Phase = RoomGameOver
	cancelTimers(ls, st)

	pkt := wire.NewPacket()
	pkt.Init(byte(wire.RspTagCmd))
	pkt.WriteUint16(uint16(PackTag(0, 0, TagGameOver)))
	pkt.SetFlags(wire.FlagRUDP | wire.FlagRelay)
	for _, m := range members {
		ls.Reply(m, pkt)
	}

	st.Phase = RoomInit
	for _, m := range members {
		playerState(m).Phase = PhaseInit
	}
}

func (s *Server) onEcho(ls *lobby.Server, r *lobby.Room, p *lobby.Player, c wire.Chunk) {
	relay := wire.NewPacket()
	relay.Init(byte(wire.RspTagCmd))
	relay.WriteUint16(uint16(PackTag(0, 0, TagEcho)))
	relay.WriteBytes(c.Data[2:])
	if c.HasFlag(wire.FlagRUDP) {
		relay.SetFlags(wire.FlagRUDP | wire.FlagRelay)
	} else {
		relay.SetFlags(wire.FlagRelay)
	}
	ls.BroadcastRoom(r, p.ID, relay)
}

// livePlayers returns r's members excluding any already Gone, in room
// order (index 0 is the owner once ownership has rotated there).
func livePlayers(ls *lobby.Server, r *lobby.Room) []*lobby.Player {
	out := make([]*lobby.Player, 0, len(r.Players))
	for _, id := range r.Players {
		if m := ls.Player(id); m != nil && playerState(m).Phase != PhaseGone {
			out = append(out, m)
		}
	}
	return out
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
