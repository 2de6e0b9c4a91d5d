package lobby

import "github.com/kageserver/kage/wire"

// handleLobbyLogin implements REQ_LOBBY_LOGIN: store the client's display
// name and extraData, then reply with the port/userId pair every login
// flow (bootstrap and per-game) uses.
func (s *Server) handleLobbyLogin(p *Player, c wire.Chunk) {
	if len(c.Data) < 16 {
		return
	}
	p.Name = decodeFixedString(c.Data[0:16])
	p.ExtraData = append([]byte(nil), c.Data[16:]...)

	pkt := wire.NewPacket()
	pkt.Init(byte(wire.RspLoginSuccess2))
	pkt.WriteUint32(uint32(s.Port))
	pkt.WriteUint32(0)
	pkt.WriteUint32(uint32(p.ID))
	s.Reply(p, pkt)
}

// handleLobbyLogout implements REQ_LOBBY_LOGOUT: ack, then remove the
// player entirely.
func (s *Server) handleLobbyLogout(p *Player, c wire.Chunk) {
	pkt := wire.NewPacket()
	pkt.RespOK(c.Command)
	s.Reply(p, pkt)

	s.removePlayer(p)
}

// handleQryLobbies implements REQ_QRY_LOBBIES.
func (s *Server) handleQryLobbies(p *Player, c wire.Chunk) {
	pkt := wire.NewPacket()
	pkt.Init(c.Command)
	pkt.WriteUint32(0)
	pkt.WriteUint32(0)
	pkt.WriteUint32(uint32(len(s.lobbyOrder)))

	for _, id := range s.lobbyOrder {
		lob := s.lobbies[id]
		pkt.WriteString(lob.Name, 16)
		pkt.WriteUint32(uint32(len(lob.Players)))
		pkt.WriteUint32(uint32(len(lob.Rooms)))
		pkt.WriteUint32(uint32(lob.ID))
	}

	s.Reply(p, pkt)
}

// handleQryUsers implements REQ_QRY_USERS: bit 0x10 of the request's
// first byte selects lobby scope over the caller's current room.
func (s *Server) handleQryUsers(p *Player, c wire.Chunk) {
	lobbyScope := len(c.Data) > 0 && c.Data[0]&0x10 != 0

	var ids []PlayerID
	if lobbyScope {
		if lob := s.lobbies[p.LobbyID]; lob != nil {
			for id := range lob.Players {
				ids = append(ids, id)
			}
		}
	} else if r := s.rooms[p.RoomID]; r != nil {
		ids = append(ids, r.Players...)
	}

	pkt := wire.NewPacket()
	pkt.Init(c.Command)
	pkt.WriteUint32(0)
	pkt.WriteUint32(0)
	pkt.WriteUint32(uint32(len(ids)))

	for _, id := range ids {
		m := s.players[id]
		if m == nil {
			continue
		}
		pkt.WriteString(m.Name, 16)
		pkt.WriteUint32(uint32(m.ID))
		pkt.WriteUint32(uint32(len(m.ExtraData)))
		pkt.WriteBytes(m.ExtraData)
	}

	s.Reply(p, pkt)
}

// handleQryRooms implements REQ_QRY_ROOMS.
func (s *Server) handleQryRooms(p *Player, c wire.Chunk) {
	lob := s.lobbies[p.LobbyID]

	pkt := wire.NewPacket()
	pkt.Init(c.Command)
	pkt.WriteUint32(0)
	pkt.WriteUint32(0)

	if lob == nil {
		pkt.WriteUint32(0)
		s.Reply(p, pkt)
		return
	}

	pkt.WriteUint32(uint32(len(lob.Rooms)))
	for _, r := range lob.Rooms {
		pkt.WriteString(r.Name, 16)
		pkt.WriteUint32(uint32(r.Owner))
		pkt.WriteUint32(uint32(r.PlayerCount()))
		pkt.WriteUint32(r.Attributes)
		pkt.WriteUint32(uint32(r.MaxPlayers))
		pkt.WriteUint32(uint32(r.ID))
	}

	s.Reply(p, pkt)
}

// handleJoinLobbyRoom implements REQ_JOIN_LOBBY_ROOM: the target id may
// name either a lobby (>= FirstLobbyID) or a room.
func (s *Server) handleJoinLobbyRoom(p *Player, c wire.Chunk) {
	if len(c.Data) < 4 {
		return
	}
	target := be32(c.Data[0:4])

	if target >= uint32(FirstLobbyID) {
		s.joinLobby(p, LobbyID(target))
		return
	}

	var password string
	if len(c.Data) >= 20 {
		password = decodeFixedString(c.Data[4:20])
	}
	s.joinRoom(p, RoomID(target), password)
}

func (s *Server) joinLobby(p *Player, id LobbyID) {
	lob := s.lobbies[id]
	if lob == nil {
		s.replyFailed(p, wire.ReqJoinLobbyRoom, wire.JoinFailNotFound)
		return
	}

	if old := s.lobbies[p.LobbyID]; old != nil {
		delete(old.Players, p.ID)
	}
	p.LobbyID = id
	lob.Players[p.ID] = p

	pkt := wire.NewPacket()
	pkt.Init(byte(wire.RspOK))
	pkt.WriteUint32(uint32(id))
	s.Reply(p, pkt)

	if s.Notifier != nil {
		s.Notifier.LobbyJoined(lob.Name, p.Name)
	}
}

func (s *Server) joinRoom(p *Player, id RoomID, password string) {
	r := s.rooms[id]
	if r == nil || len(r.Players) >= r.MaxPlayers {
		s.replyFailed(p, wire.ReqJoinLobbyRoom, wire.JoinFailNotFound)
		return
	}
	if r.Locked() || r.Playing() {
		s.replyFailed(p, wire.ReqJoinLobbyRoom, wire.JoinFailLockedPlay)
		return
	}
	if r.HasPassword() && r.Password != password {
		s.replyFailed(p, wire.ReqJoinLobbyRoom, wire.JoinFailBadPass)
		return
	}

	s.AddPlayerToRoom(r, p)

	pkt := wire.NewPacket()
	pkt.Init(byte(wire.RspOK))
	pkt.WriteUint32(uint32(r.ID))
	s.Reply(p, pkt)

	statusPush := composeRoomStatus(r)
	statusPush.SetFlags(wire.FlagRUDP)
	s.Reply(p, statusPush)

	relay := wire.NewPacket()
	relay.Init(byte(wire.ReqJoinLobbyRoom))
	relay.WriteString(p.Name, 16)
	relay.WriteUint32(uint32(p.ID))
	relay.WriteBytes(p.ExtraData)
	relay.SetFlags(wire.FlagRUDP | wire.FlagRelay)
	s.BroadcastRoom(r, p.ID, relay)

	if r.Hooks.CreateJoinRoomReply != nil {
		extraReply, extraRelay := r.Hooks.CreateJoinRoomReply(r, p, s)
		s.Reply(p, extraReply)
		s.BroadcastRoom(r, p.ID, extraRelay)
	}
}

func (s *Server) replyFailed(p *Player, origType wire.Command, code uint32) {
	pkt := wire.NewPacket()
	pkt.RespFailed(byte(origType), code)
	s.Reply(p, pkt)
}

// handleLeaveLobbyRoom implements REQ_LEAVE_LOBBY_ROOM.
func (s *Server) handleLeaveLobbyRoom(p *Player, c wire.Chunk) {
	pkt := wire.NewPacket()
	pkt.RespOK(c.Command)
	s.Reply(p, pkt)

	if r := s.rooms[p.RoomID]; r != nil {
		s.RemovePlayerFromRoom(r, p)
	}
}

// handleCreateRoom implements REQ_CREATE_ROOM. Request payload:
// name(16) max(4) password(16) attrs(4).
func (s *Server) handleCreateRoom(p *Player, c wire.Chunk) {
	if len(c.Data) < 40 {
		return
	}
	name := decodeFixedString(c.Data[0:16])
	max := be32(c.Data[16:20])
	password := decodeFixedString(c.Data[20:36])
	attrs := be32(c.Data[36:40])

	r := s.createRoom(p, name, int(max), password, attrs)

	pkt := wire.NewPacket()
	pkt.Init(byte(wire.RspOK))
	pkt.WriteUint32(uint32(r.ID))
	s.Reply(p, pkt)

	statusPush := composeRoomStatus(r)
	statusPush.SetFlags(wire.FlagRUDP)
	s.Reply(p, statusPush)

	relay := wire.NewPacket()
	relay.Init(byte(wire.ReqCreateRoom))
	relay.WriteString(name, 16)
	relay.WriteUint32(1)
	relay.WriteUint32(uint32(p.ID))
	relay.WriteUint32(r.Attributes)
	relay.WriteUint32(uint32(r.MaxPlayers))
	relay.WriteUint32(uint32(r.ID))
	relay.SetFlags(wire.FlagRUDP | wire.FlagRelay | wire.FlagLobby)
	s.BroadcastLobby(p.LobbyID, p.ID, relay)

	if r.Hooks.CreateJoinRoomReply != nil {
		extraReply, _ := r.Hooks.CreateJoinRoomReply(r, p, s)
		s.Reply(p, extraReply)
	}

	if s.Notifier != nil {
		s.Notifier.RoomCreated(s.lobbies[p.LobbyID].Name, r.Name, p.Name)
	}
}

// composeRoomStatus builds the REQ_CHG_ROOM_STATUS{id,"STAT",attrs} push
// used both after create/join and to echo a client-driven mutation.
func composeRoomStatus(r *Room) *wire.Packet {
	pkt := wire.NewPacket()
	pkt.Init(byte(wire.ReqChgRoomStatus))
	pkt.WriteUint32(uint32(r.ID))
	pkt.WriteBytes([]byte("STAT"))
	pkt.WriteUint32(r.Attributes)
	return pkt
}

// handleChgRoomStatus implements REQ_CHG_ROOM_STATUS: mutate the room's
// attributes, then echo the same {id,"STAT",attrs} shape back to the
// sender and to the rest of the room.
func (s *Server) handleChgRoomStatus(p *Player, c wire.Chunk) {
	r := s.rooms[p.RoomID]
	if r == nil || len(c.Data) < 4 {
		return
	}
	r.Attributes = be32(c.Data[0:4])

	echo := composeRoomStatus(r)
	s.Reply(p, echo)

	relay := composeRoomStatus(r)
	relay.SetFlags(wire.FlagRelay)
	s.BroadcastRoom(r, p.ID, relay)
}

// handleChgUserStatus implements REQ_CHG_USER_STATUS.
func (s *Server) handleChgUserStatus(p *Player, c wire.Chunk) {
	if len(c.Data) >= 4 {
		p.Status = be32(c.Data[0:4])
	}

	pkt := wire.NewPacket()
	pkt.Init(byte(wire.RspOK))
	pkt.WriteUint32(uint32(c.Command))
	pkt.WriteUint32(0)
	s.Reply(p, pkt)
}

// handleChgUserProp implements REQ_CHG_USER_PROP.
func (s *Server) handleChgUserProp(p *Player, c wire.Chunk) {
	p.ExtraData = append([]byte(nil), c.Data...)

	pkt := wire.NewPacket()
	pkt.RespOK(c.Command)
	s.Reply(p, pkt)
}

// handleChat implements REQ_CHAT. Per spec.md §9's open question, a chat
// chunk whose sequence number is 0 is never acked (the source reproduces
// this without explaining why).
func (s *Server) handleChat(p *Player, c wire.Chunk) {
	pkt := wire.NewPacket()
	pkt.Init(byte(wire.RspOK))
	if c.Seq != 0 {
		pkt.Ack(c.Seq)
	}
	if c.HasFlag(wire.FlagLobby) {
		pkt.SetFlags(wire.FlagLobby)
	}
	s.Reply(p, pkt)

	if !c.HasFlag(wire.FlagRUDP) || !c.HasFlag(wire.FlagRelay) {
		return
	}
	if len(c.Data) <= 0x10 {
		return
	}
	msg := c.Data[0x10:]

	relay := wire.NewPacket()
	relay.Init(byte(wire.ReqChat))
	relay.WriteBytes(msg)
	relay.SetFlags(wire.FlagRUDP | wire.FlagRelay)
	if c.HasFlag(wire.FlagLobby) {
		relay.SetFlags(wire.FlagLobby)
		s.BroadcastLobby(p.LobbyID, p.ID, relay)
	} else if r := s.rooms[p.RoomID]; r != nil {
		s.BroadcastRoom(r, p.ID, relay)
	}
}

// handlePing implements REQ_PING: echo the payload back unchanged.
func (s *Server) handlePing(p *Player, c wire.Chunk) {
	pkt := wire.NewPacket()
	pkt.RespOK(c.Command)
	pkt.WriteBytes(c.Data)
	s.Reply(p, pkt)
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func decodeFixedString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
