// Package bomberman implements the Bomberman-specific room behavior from
// spec.md §4.6: guest-slot accounting, the composite join reply, rules
// exchange, kick, and the ping subcommand whose meaning is an open
// question the source never explains.
package bomberman

import (
	"github.com/kageserver/kage/lobby"
	"github.com/kageserver/kage/wire"
)

// RulesSize is the width of the opaque rules blob a room carries.
const RulesSize = 9

// State is a BMRoom's game-specific payload: per-member slot counts and
// the current rules blob.
type State struct {
	// Slots[i] is 1+guestCount for Room.Players[i], recomputed on every
	// membership change.
	Slots []int
	Rules [RulesSize]byte
}

// NewRoom builds a Room whose Hooks wire Bomberman's slot accounting and
// composite join reply into the generic lobby machinery.
func NewRoom(id lobby.RoomID, lobbyID lobby.LobbyID, name string) *lobby.Room {
	r := lobby.NewRoom(id, lobbyID, name)
	r.Payload = &State{}
	r.Hooks = lobby.Hooks{
		OnAddPlayer:         onAddPlayer,
		OnRemovePlayer:      onRemovePlayer,
		PlayerCount:         playerCount,
		CreateJoinRoomReply: createJoinRoomReply,
	}
	return r
}

func state(r *lobby.Room) *State { return r.Payload.(*State) }

// guestCount decodes the guest-slot count from a player's extraData: the
// first dword, per spec.md §3.
func guestCount(p *lobby.Player) int {
	if len(p.ExtraData) < 4 {
		return 0
	}
	n := uint32(p.ExtraData[0])<<24 | uint32(p.ExtraData[1])<<16 | uint32(p.ExtraData[2])<<8 | uint32(p.ExtraData[3])
	return int(n)
}

// recomputeSlots rebuilds s.Slots from the room's live roster, looked up
// through srv since Room only carries ids.
func recomputeSlots(r *lobby.Room, srv *lobby.Server) {
	s := state(r)
	s.Slots = make([]int, len(r.Players))
	for i, id := range r.Players {
		n := 1
		if p := srv.Player(id); p != nil {
			n += guestCount(p)
		}
		s.Slots[i] = n
	}
}

func onAddPlayer(r *lobby.Room, p *lobby.Player, srv *lobby.Server) {
	recomputeSlots(r, srv)
}

func onRemovePlayer(r *lobby.Room, p *lobby.Player, wasOwner bool, srv *lobby.Server) {
	recomputeSlots(r, srv)
}

func playerCount(r *lobby.Room) int {
	total := 0
	for _, n := range state(r).Slots {
		total += n
	}
	return total
}

// slotBase returns the first absolute slot position of Room.Players[idx],
// i.e. the sum of every preceding member's slot count.
func slotBase(s *State, idx int) int {
	base := 0
	for i := 0; i < idx; i++ {
		base += s.Slots[i]
	}
	return base
}

func indexOf(r *lobby.Room, id lobby.PlayerID) int {
	for i, m := range r.Players {
		if m == id {
			return i
		}
	}
	return -1
}

// createJoinRoomReply implements spec.md §4.6's composite join reply:
//  1. a REQ_CHAT/8 player-list chunk for the joiner naming its own
//     {id, index, pos, slots-1, ownerId, ownerPos, [pos..pos+slots-1]};
//  2. for non-owner joiners, a follow-up REQ_CHAT/0xA chunk listing every
//     member's {id, slots, [pos..]} rows;
//  3. a parallel relay version of (2) for the room's existing members.
func createJoinRoomReply(r *lobby.Room, joiner *lobby.Player, srv *lobby.Server) (reply, relay *wire.Packet) {
	s := state(r)
	idx := indexOf(r, joiner.ID)
	if idx < 0 {
		return nil, nil
	}
	ownerIdx := indexOf(r, r.Owner)
	if ownerIdx < 0 {
		ownerIdx = 0
	}

	pos := slotBase(s, idx)
	ownerPos := slotBase(s, ownerIdx)
	slots := s.Slots[idx]

	reply = wire.NewPacket()
	reply.Init(byte(wire.ReqChat))
	reply.WriteUint16(bmCmd(8, 0))
	reply.WriteUint32(uint32(joiner.ID))
	reply.WriteUint32(uint32(idx))
	reply.WriteUint32(uint32(pos))
	reply.WriteUint32(uint32(slots - 1))
	reply.WriteUint32(uint32(r.Owner))
	reply.WriteUint32(uint32(ownerPos))
	for i := 0; i < slots; i++ {
		reply.WriteUint32(uint32(pos + i))
	}
	reply.SetFlags(wire.FlagRUDP)

	if joiner.ID == r.Owner {
		return reply, nil
	}

	// reply's Init below chains a CONTINUE-flagged second chunk onto the
	// same packet, per spec.md §4.6 step 2: the roster listing travels in
	// the same compound RUDP send as the player-list chunk.
	writeRoster(reply, r, s)
	reply.SetFlags(wire.FlagRUDP)

	relayListing := wire.NewPacket()
	writeRoster(relayListing, r, s)
	relayListing.SetFlags(wire.FlagRUDP | wire.FlagRelay)

	return reply, relayListing
}

// writeRoster starts (via Init, chaining CONTINUE if pkt already has a
// chunk) a REQ_CHAT/0xA chunk listing every member's {id, slots,
// [pos..pos+slots-1]} rows.
func writeRoster(pkt *wire.Packet, r *lobby.Room, s *State) {
	pkt.Init(byte(wire.ReqChat))
	pkt.WriteUint16(bmCmd(0xA, 0))
	pkt.WriteUint32(uint32(len(r.Players)))
	for i, id := range r.Players {
		pos := slotBase(s, i)
		slots := s.Slots[i]
		pkt.WriteUint32(uint32(id))
		pkt.WriteUint32(uint32(slots))
		for j := 0; j < slots; j++ {
			pkt.WriteUint32(uint32(pos + j))
		}
	}
}

// bmCmd packs Bomberman's UdpCommand{size:9, command:7} field: the low 7
// bits hold the subcommand, the high 9 bits the payload size (filled in
// by the caller once known; 0 here since the chat codec here only cares
// about the subcommand nibble on decode).
func bmCmd(sub byte, size uint16) uint16 {
	return (size&0x1ff)<<7 | uint16(sub&0x7f)
}

// bmSub unpacks the subcommand from a UdpCommand word.
func bmSub(cmd uint16) byte { return byte(cmd & 0x7f) }
