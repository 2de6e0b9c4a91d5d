package lobby

// NewRoom constructs a bare Room with no game-specific hooks or payload,
// used directly by Propeller Arena (whose actual gameplay lives behind
// the external Blowfish-authenticated service) and as the default when a
// GameHooks.NewRoom is not supplied.
func NewRoom(id RoomID, lobbyID LobbyID, name string) *Room {
	return &Room{
		ID:      id,
		LobbyID: lobbyID,
		Name:    name,
	}
}

// createRoom allocates a room in owner's lobby via the game-specific (or
// default) factory, registers it, and adds owner as its first member.
func (s *Server) createRoom(owner *Player, name string, max int, password string, attrs uint32) *Room {
	id := s.nextRoomID
	s.nextRoomID++

	factory := s.Hooks.NewRoom
	if factory == nil {
		factory = NewRoom
	}

	r := factory(id, owner.LobbyID, name)
	r.MaxPlayers = max
	r.Password = password
	r.Attributes = attrs | AttrServerReady
	if password != "" {
		r.Attributes |= AttrPassword
	}

	s.rooms[id] = r
	if lob := s.lobbies[owner.LobbyID]; lob != nil {
		lob.Rooms[id] = r
	}

	s.AddPlayerToRoom(r, owner)

	return r
}

// AddPlayerToRoom appends p to r's membership, electing it owner if r was
// empty, and invokes the room's OnAddPlayer hook.
func (s *Server) AddPlayerToRoom(r *Room, p *Player) {
	if len(r.Players) == 0 {
		r.Owner = p.ID
	}
	r.Players = append(r.Players, p.ID)
	p.RoomID = r.ID

	if r.Hooks.OnAddPlayer != nil {
		r.Hooks.OnAddPlayer(r, p, s)
	}
}

// RemovePlayerFromRoom removes p from r, rotating ownership to the new
// Players[0] if p was the owner and the room is not now empty, per
// spec.md §4.5 "Ownership transfer". A room emptied by this call is
// destroyed. Returns whether the room was destroyed.
func (s *Server) RemovePlayerFromRoom(r *Room, p *Player) bool {
	wasOwner := r.Owner == p.ID

	for i, id := range r.Players {
		if id == p.ID {
			r.Players = append(r.Players[:i:i], r.Players[i+1:]...)
			break
		}
	}
	p.RoomID = 0

	if len(r.Players) > 0 && wasOwner {
		r.Owner = r.Players[0]
	}

	if r.Hooks.OnRemovePlayer != nil {
		r.Hooks.OnRemovePlayer(r, p, wasOwner, s)
	}

	if len(r.Players) == 0 {
		s.destroyRoom(r)
		return true
	}
	return false
}

func (s *Server) destroyRoom(r *Room) {
	delete(s.rooms, r.ID)
	if lob := s.lobbies[r.LobbyID]; lob != nil {
		delete(lob.Rooms, r.ID)
	}
	if s.Capturer != nil {
		s.Capturer.CloseRoom(r.Name)
	}
}

// removePlayer takes p out of its room (if any) and lobby (if any) and
// forgets it entirely; used by logout, timeout and shutdown.
func (s *Server) removePlayer(p *Player) {
	if p.InRoom() {
		if r := s.rooms[p.RoomID]; r != nil {
			s.RemovePlayerFromRoom(r, p)
		}
	}
	if lob := s.lobbies[p.LobbyID]; lob != nil {
		delete(lob.Players, p.ID)
	}

	delete(s.players, p.ID)
	if p.Addr != nil {
		delete(s.byAddr, p.Addr.String())
	}
}
