package lobby

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/kageserver/kage/reactor"
	"github.com/kageserver/kage/rudp"
	"github.com/kageserver/kage/wire"
)

// Notifier is the external Discord-presence hook named in spec.md §1;
// the core only ever calls it fire-and-forget.
type Notifier interface {
	LobbyJoined(lobbyName, playerName string)
	RoomCreated(lobbyName, roomName, ownerName string)
}

// Capturer is the optional per-room netdump hook named in spec.md §6.
// CloseRoom is called once a room is destroyed, so the capture writer can
// release its open file instead of holding it for the server's lifetime.
type Capturer interface {
	Capture(room RoomID, roomName string, addr net.Addr, data []byte)
	CloseRoom(roomName string)
}

// Server is the generic per-game lobby/room protocol handler described in
// spec.md §4.5. It owns one UDP endpoint (via reactor.Server), a fixed
// set of lobbies, the dynamic room table, and the endpoint→player map.
// Every method below runs on the reactor goroutine.
type Server struct {
	rs  *reactor.Server
	log zerolog.Logger

	Port  wire.GamePort
	Hooks GameHooks

	Notifier Notifier
	Capturer Capturer

	lobbies    map[LobbyID]*Lobby
	lobbyOrder []LobbyID

	rooms      map[RoomID]*Room
	nextRoomID RoomID

	players map[PlayerID]*Player
	byAddr  map[string]*Player
}

// New creates a Server bound to addr, hosting the given lobby names (at
// most MaxLobbies).
func New(addr string, port wire.GamePort, lobbyNames []string, hooks GameHooks, log zerolog.Logger) (*Server, error) {
	if len(lobbyNames) > MaxLobbies {
		lobbyNames = lobbyNames[:MaxLobbies]
	}

	s := &Server{
		log:        log,
		Port:       port,
		Hooks:      hooks,
		lobbies:    make(map[LobbyID]*Lobby),
		rooms:      make(map[RoomID]*Room),
		nextRoomID: FirstRoomID,
		players:    make(map[PlayerID]*Player),
		byAddr:     make(map[string]*Player),
	}

	for i, name := range lobbyNames {
		id := LobbyID(int(FirstLobbyID) + i)
		s.lobbies[id] = newLobby(id, name)
		s.lobbyOrder = append(s.lobbyOrder, id)
	}

	rs, err := reactor.Bind(addr, log, s.handleDatagram)
	if err != nil {
		return nil, err
	}
	s.rs = rs

	return s, nil
}

// Run starts the reactor loop and the idle sweep, blocking until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.armSweep()
	return s.rs.Run(ctx)
}

// Stop closes the socket and unblocks Run.
func (s *Server) Stop() { s.rs.Stop() }

// Clock exposes the reactor clock so game-specific engines (Outtrigger's
// periodic broadcast) can schedule their own callbacks on the same
// single-threaded loop.
func (s *Server) Clock() *reactor.Clock { return s.rs.Clock }

// AddBootstrappedPlayer registers a player handed off by the bootstrap
// endpoint, before any datagram has arrived from its game-port address.
// The player is not yet in any lobby; it joins one via REQ_JOIN_LOBBY_ROOM.
func (s *Server) AddBootstrappedPlayer(p *Player) {
	p.Out = rudp.NewOutbox(s.rs.Clock, s.senderFor(p), s.log)
	s.players[p.ID] = p
}

func (s *Server) senderFor(p *Player) rudp.Sender {
	return func(data []byte) error {
		return s.rs.Send(data, p.Addr)
	}
}

// Lobby looks up a lobby by id.
func (s *Server) Lobby(id LobbyID) *Lobby { return s.lobbies[id] }

// Room looks up a room by id.
func (s *Server) Room(id RoomID) *Room { return s.rooms[id] }

// Player looks up a player by id.
func (s *Server) Player(id PlayerID) *Player { return s.players[id] }

func (s *Server) handleDatagram(src net.Addr, data []byte) {
	chunks, err := wire.ParseDatagram(data)
	if err != nil {
		s.log.Error().Err(err).Str("src", src.String()).Msg("malformed datagram")
		return
	}

	p := s.byAddr[src.String()]
	if p == nil {
		// Only REQ_LOBBY_LOGIN (or a NOP keepalive from a player who
		// hasn't sent its first datagram from this address yet) is
		// legal before the player/address association exists; look the
		// player up by the id the chunk carries instead.
		for _, c := range chunks {
			if cand, ok := s.players[PlayerID(c.PlayerID)]; ok {
				cand.Addr = src
				s.byAddr[src.String()] = cand
				p = cand
				break
			}
		}
	}
	if p == nil {
		s.log.Warn().Str("src", src.String()).Msg("datagram from unknown endpoint")
		return
	}

	p.LastTime = time.Now()

	if s.Capturer != nil && p.InRoom() {
		if r := s.rooms[p.RoomID]; r != nil {
			s.Capturer.Capture(r.ID, r.Name, src, data)
		}
	}

	for _, c := range chunks {
		if c.HasFlag(wire.FlagAck) {
			p.Out.AckRUdp(c.AckSeq)
		}

		if s.Hooks.HandleChunk != nil && s.Hooks.HandleChunk(s, p, c) {
			continue
		}

		s.dispatch(p, c)
	}
}

// relayScope selects which peer set a relay packet reaches.
type relayScope int

const (
	relayNone relayScope = iota
	relayLobby
	relayRoom
)

func (s *Server) dispatch(p *Player, c wire.Chunk) {
	switch wire.Command(c.Command) {
	case wire.ReqNOP:
		// No-op.

	case wire.ReqLobbyLogin:
		s.handleLobbyLogin(p, c)

	case wire.ReqLobbyLogout:
		s.handleLobbyLogout(p, c)

	case wire.ReqQryLobbies:
		s.handleQryLobbies(p, c)

	case wire.ReqQryUsers:
		s.handleQryUsers(p, c)

	case wire.ReqQryRooms:
		s.handleQryRooms(p, c)

	case wire.ReqJoinLobbyRoom:
		s.handleJoinLobbyRoom(p, c)

	case wire.ReqLeaveLobbyRoom:
		s.handleLeaveLobbyRoom(p, c)

	case wire.ReqCreateRoom:
		s.handleCreateRoom(p, c)

	case wire.ReqChgRoomStatus:
		s.handleChgRoomStatus(p, c)

	case wire.ReqChgUserStatus:
		s.handleChgUserStatus(p, c)

	case wire.ReqChgUserProp:
		s.handleChgUserProp(p, c)

	case wire.ReqChat:
		s.handleChat(p, c)

	case wire.ReqPing:
		s.handlePing(p, c)

	default:
		if c.HasFlag(wire.FlagRUDP) {
			s.SendNopAck(p, c.Seq)
		} else {
			s.log.Debug().Uint8("cmd", c.Command).Msg("dropping unknown non-rudp chunk")
		}
	}
}

// SendNopAck replies to an unrecognized reliable chunk with a NOP+ACK so
// the client stops retransmitting it, per spec.md §4.5's command table.
func (s *Server) SendNopAck(p *Player, seq uint32) {
	pkt := wire.NewPacket()
	pkt.Init(byte(wire.ReqNOP))
	pkt.Ack(seq)
	_ = p.Out.Send(pkt, uint32(p.ID))
}

// Reply sends pkt to p over its reliable/unreliable pipeline as pkt's own
// flags dictate.
func (s *Server) Reply(p *Player, pkt *wire.Packet) {
	if pkt == nil {
		return
	}
	if err := p.Out.Send(pkt, uint32(p.ID)); err != nil {
		s.log.Warn().Err(err).Uint32("player", uint32(p.ID)).Msg("reply send failed")
	}
}

// BroadcastLobby sends pkt to every member of lobby except exclude.
func (s *Server) BroadcastLobby(lobbyID LobbyID, exclude PlayerID, pkt *wire.Packet) {
	lob := s.lobbies[lobbyID]
	if lob == nil || pkt == nil {
		return
	}
	for id, member := range lob.Players {
		if id == exclude {
			continue
		}
		s.Reply(member, pkt)
	}
}

// BroadcastRoom sends pkt to every member of room except exclude.
func (s *Server) BroadcastRoom(room *Room, exclude PlayerID, pkt *wire.Packet) {
	if room == nil || pkt == nil {
		return
	}
	for _, id := range room.Players {
		if id == exclude {
			continue
		}
		if m := s.players[id]; m != nil {
			s.Reply(m, pkt)
		}
	}
}
