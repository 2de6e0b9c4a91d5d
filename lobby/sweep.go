package lobby

import (
	"time"

	"github.com/kageserver/kage/wire"
)

// armSweep schedules the recurring 30 s liveness sweep from spec.md §4.4:
// timed-out players are removed, and idle in-room players are sent a
// reliable NOP to elicit an ack.
func (s *Server) armSweep() {
	s.rs.Clock.After(time.Now(), SweepInterval, s.sweep)
}

func (s *Server) sweep() {
	now := time.Now()

	var dead []PlayerID
	for id, p := range s.players {
		if p.TimedOut(now) {
			dead = append(dead, id)
			continue
		}
		if p.InRoom() {
			s.pokePlayer(p)
		}
	}

	for _, id := range dead {
		if p := s.players[id]; p != nil {
			s.log.Info().Uint32("player", uint32(id)).Msg("removing timed-out player")
			s.removePlayer(p)
		}
	}

	s.armSweep()
}

func (s *Server) pokePlayer(p *Player) {
	pkt := wire.NewPacket()
	pkt.Init(byte(wire.ReqNOP))
	pkt.SetFlags(wire.FlagRUDP)
	s.Reply(p, pkt)
}
