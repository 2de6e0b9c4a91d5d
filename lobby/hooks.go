package lobby

import "github.com/kageserver/kage/wire"

// Hooks is a room's per-kind vtable (spec.md §9: "a tagged variant of
// room kinds plus a per-kind vtable of function values"). Every field is
// optional; a nil field means the generic default applies.
type Hooks struct {
	// OnAddPlayer runs after p has been appended to r.Players (and, for
	// the first member, made owner). s gives the hook roster access
	// (Room only stores ids, not live Player pointers).
	OnAddPlayer func(r *Room, p *Player, s *Server)

	// OnRemovePlayer runs after p has been removed from r.Players but
	// before the room is destroyed if it is now empty. wasOwner reports
	// whether p was the departing owner (ownership has already rotated
	// to Players[0] by the time this runs, if the room is non-empty).
	OnRemovePlayer func(r *Room, p *Player, wasOwner bool, s *Server)

	// PlayerCount overrides Room.PlayerCount (Bomberman: sum of slots,
	// not raw member count).
	PlayerCount func(r *Room) int

	// CreateJoinRoomReply composes the extra RUDP reply(ies) a
	// game-specific room sends a joining player beyond the generic
	// RSP_OK{id} (Bomberman's player-list/slot-list chunks). relay, if
	// non-nil, is broadcast to the room's existing members.
	CreateJoinRoomReply func(r *Room, joiner *Player, s *Server) (reply, relay *wire.Packet)
}

// GameHooks is a lobby Server's per-game vtable: the game-specific
// subclass's "first refusal" on every chunk, and room construction.
type GameHooks struct {
	// HandleChunk gives the game-specific layer first refusal on a
	// chunk (spec.md §4.5 step 2). Returning true means it was fully
	// handled and the generic dispatch table must not also run.
	HandleChunk func(s *Server, p *Player, c wire.Chunk) bool

	// NewRoom constructs a game-specific Room (setting Hooks and
	// Payload) for REQ_CREATE_ROOM. If nil, NewRoom from this package is
	// used, producing a room with no special behavior (Propeller Arena,
	// whose gameplay lives in the external Blowfish-authenticated
	// service, needs nothing more than the generic room).
	NewRoom func(id RoomID, lobbyID LobbyID, name string) *Room
}
