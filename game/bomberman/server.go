package bomberman

import (
	"github.com/rs/zerolog"

	"github.com/kageserver/kage/lobby"
	"github.com/kageserver/kage/wire"
)

// Server wraps a generic lobby.Server with Bomberman's GameHooks, giving
// REQ_GAME_DATA and the game subcommands nested in REQ_CHAT first refusal
// on every chunk (spec.md §4.6).
type Server struct {
	*lobby.Server
	log zerolog.Logger
}

// New binds a Bomberman lobby server on addr.
func New(addr string, lobbyNames []string, log zerolog.Logger) (*Server, error) {
	s := &Server{log: log}

	ls, err := lobby.New(addr, wire.PortBomberman, lobbyNames, lobby.GameHooks{
		HandleChunk: s.handleChunk,
		NewRoom:     NewRoom,
	}, log)
	if err != nil {
		return nil, err
	}
	s.Server = ls
	return s, nil
}

// handleChunk gives Bomberman first refusal on REQ_GAME_DATA (always) and
// on the kick/ping subcommands nested in REQ_CHAT; everything else (plain
// chat, the generic command table) falls through to the lobby dispatch.
func (s *Server) handleChunk(ls *lobby.Server, p *lobby.Player, c wire.Chunk) bool {
	switch wire.Command(c.Command) {
	case wire.ReqGameData:
		s.handleGameData(ls, p, c)
		return true

	case wire.ReqChat:
		if len(c.Data) < 2 {
			return false
		}
		switch bmSub(be16(c.Data[0:2])) {
		case 7:
			s.handleKick(ls, p, c)
			return true
		case 0x1C:
			s.handlePing(ls, p, c)
			return true
		}
	}
	return false
}

// handleGameData dispatches the REQ_GAME_DATA subcommands from spec.md
// §4.6: 7 store rules, 0xa start battle, 0xb agree-new-rules, 0xc ack new
// rules, 0xf relay.
func (s *Server) handleGameData(ls *lobby.Server, p *lobby.Player, c wire.Chunk) {
	if len(c.Data) < 2 {
		return
	}
	sub := bmSub(be16(c.Data[0:2]))
	r := ls.Room(p.RoomID)
	if r == nil {
		return
	}

	switch sub {
	case 7:
		s.storeRules(ls, r, p, c)
	case 0xa:
		s.startBattle(ls, r, p, c)
	case 0xb:
		s.agreeNewRules(ls, r, p, c)
	case 0xc:
		s.ackNewRules(ls, r, p, c)
	case 0xf:
		s.relayGameData(ls, r, p, c)
	default:
		s.log.Error().Uint8("sub", sub).Hex("data", c.Data).Msg("unknown game subcommand")
		if c.HasFlag(wire.FlagRUDP) {
			ls.SendNopAck(p, c.Seq)
		}
	}
}

// storeRules implements subcommand 7: the 9-byte rules blob at offset
// 0x14 (i.e. c.Data[4:13], past the UdpCommand word at c.Data[0:2] and
// the two bytes after it) replaces the room's current rules.
func (s *Server) storeRules(ls *lobby.Server, r *lobby.Room, p *lobby.Player, c wire.Chunk) {
	st := state(r)
	if len(c.Data) < 4+RulesSize {
		return
	}
	copy(st.Rules[:], c.Data[4:4+RulesSize])

	ack := wire.NewPacket()
	ack.Init(byte(wire.RspOK))
	if c.HasFlag(wire.FlagRUDP) {
		ack.Ack(c.Seq)
	}
	ls.Reply(p, ack)
}

// startBattle implements subcommand 0xa: only the owner may start; the
// PLAYING attribute is set and a REQ_CHAT/0xa start notice is sent to the
// owner and relayed to the rest of the room.
func (s *Server) startBattle(ls *lobby.Server, r *lobby.Room, p *lobby.Player, c wire.Chunk) {
	if p.ID != r.Owner {
		return
	}
	r.Attributes |= lobby.AttrPlaying

	relay := wire.NewPacket()
	relay.Init(byte(wire.ReqChat))
	relay.WriteUint16(bmCmd(0xa, 0))
	relay.SetFlags(wire.FlagRUDP | wire.FlagRelay)
	ls.Reply(p, relay)
	ls.BroadcastRoom(r, p.ID, relay)
}

// agreeNewRules implements subcommand 0xb. Per spec.md §4.6/§9: when the
// owner sends it, the current rules broadcast to every other member;
// when a non-owner sends it, a 0xc rule-distribution packet is sent back
// to the owner only. Which path is canonical for non-owner acceptance is
// marked FIXME in the source this was ported from; this keeps both
// branches rather than collapsing to one.
func (s *Server) agreeNewRules(ls *lobby.Server, r *lobby.Room, p *lobby.Player, c wire.Chunk) {
	st := state(r)
	if p.ID == r.Owner {
		relay := wire.NewPacket()
		relay.Init(byte(wire.ReqChat))
		relay.WriteUint16(bmCmd(0xb, 0))
		relay.WriteBytes(st.Rules[:])
		relay.SetFlags(wire.FlagRUDP | wire.FlagRelay)
		ls.BroadcastRoom(r, p.ID, relay)
		return
	}

	owner := ls.Player(r.Owner)
	if owner == nil {
		return
	}
	distribute := wire.NewPacket()
	distribute.Init(byte(wire.ReqChat))
	distribute.WriteUint16(bmCmd(0xc, 0))
	distribute.WriteUint32(uint32(p.ID))
	distribute.WriteBytes(st.Rules[:])
	distribute.SetFlags(wire.FlagRUDP)
	ls.Reply(owner, distribute)
}

// ackNewRules implements subcommand 0xc: a member has finished applying
// a rules distribution; relay the ack onward so the owner (and other
// members, for a multi-hop relay topology) can track readiness.
func (s *Server) ackNewRules(ls *lobby.Server, r *lobby.Room, p *lobby.Player, c wire.Chunk) {
	relay := wire.NewPacket()
	relay.Init(byte(wire.ReqChat))
	relay.WriteUint16(bmCmd(0xc, 0))
	relay.WriteUint32(uint32(p.ID))
	relay.SetFlags(wire.FlagRUDP | wire.FlagRelay)
	ls.BroadcastRoom(r, p.ID, relay)
}

// relayGameData implements subcommand 0xf: an opaque in-game payload
// relayed verbatim to the rest of the room.
func (s *Server) relayGameData(ls *lobby.Server, r *lobby.Room, p *lobby.Player, c wire.Chunk) {
	relay := wire.NewPacket()
	relay.Init(byte(wire.ReqChat))
	relay.WriteBytes(c.Data)
	if c.HasFlag(wire.FlagRUDP) {
		relay.SetFlags(wire.FlagRUDP | wire.FlagRelay)
	} else {
		relay.SetFlags(wire.FlagRelay)
	}
	ls.BroadcastRoom(r, p.ID, relay)
}

// handleKick implements REQ_CHAT subcommand 7: the owner removes the
// member at the given room-relative position.
func (s *Server) handleKick(ls *lobby.Server, p *lobby.Player, c wire.Chunk) {
	r := ls.Room(p.RoomID)
	if r == nil || p.ID != r.Owner || len(c.Data) < 6 {
		return
	}
	pos := be32(c.Data[2:6])

	st := state(r)
	for i, id := range r.Players {
		if id == p.ID {
			continue
		}
		base := slotBase(st, i)
		if pos >= uint32(base) && pos < uint32(base+st.Slots[i]) {
			if target := ls.Player(id); target != nil {
				ls.RemovePlayerFromRoom(r, target)

				notice := wire.NewPacket()
				notice.Init(byte(wire.ReqChat))
				notice.WriteUint16(bmCmd(7, 0))
				notice.WriteUint32(pos)
				notice.SetFlags(wire.FlagRUDP | wire.FlagRelay)
				ls.BroadcastRoom(r, 0, notice)
			}
			return
		}
	}
}

// handlePing implements REQ_CHAT subcommand 0x1C: a fixed reply pattern
// the source never explains. Per spec.md §9's open question, the
// 0x10000000 constant and the per-connection bitfield at offset 0x18 are
// preserved byte-for-byte rather than reinterpreted.
func (s *Server) handlePing(ls *lobby.Server, p *lobby.Player, c wire.Chunk) {
	pkt := wire.NewPacket()
	pkt.Init(byte(wire.ReqChat))
	pkt.WriteUint16(bmCmd(0x1C, 0))
	pkt.WriteUint32(0)
	pkt.WriteUint32(0x10000000)
	pkt.WriteBytes(make([]byte, 0x18))
	if c.HasFlag(wire.FlagRUDP) {
		pkt.SetFlags(wire.FlagRUDP)
	}
	ls.Reply(p, pkt)
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
