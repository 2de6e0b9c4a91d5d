// Package bootstrap implements the small handoff endpoint on port 9090
// described in spec.md §4.3: it assigns a fresh user id, detects which
// game a connecting client belongs to, creates the Player directly in
// that game's lobby server, and tells the client which port to
// reconnect to.
package bootstrap

import (
	"context"
	"encoding/binary"
	"net"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kageserver/kage/lobby"
	"github.com/kageserver/kage/reactor"
	"github.com/kageserver/kage/wire"
)

var be = binary.BigEndian

// GameServer is the subset of lobby.Server the bootstrap endpoint needs:
// just enough to hand off a freshly created Player.
type GameServer interface {
	AddBootstrappedPlayer(p *lobby.Player)
}

// Router picks which game's lobby server a bootstrap login belongs to,
// and the port to report back to the client.
type Router struct {
	Bomberman  GameServer
	Outtrigger GameServer
	Propeller  GameServer
}

// Server is the bootstrap endpoint.
type Server struct {
	rs     *reactor.Server
	log    zerolog.Logger
	router Router

	nextID lobby.PlayerID
}

// New binds the bootstrap endpoint to addr.
func New(addr string, router Router, log zerolog.Logger) (*Server, error) {
	s := &Server{
		log:    log,
		router: router,
		nextID: lobby.FirstPlayerID,
	}

	rs, err := reactor.Bind(addr, log, s.handleDatagram)
	if err != nil {
		return nil, err
	}
	s.rs = rs
	return s, nil
}

// Run blocks, serving bootstrap logins until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.rs.Run(ctx)
}

// Stop closes the bootstrap socket.
func (s *Server) Stop() { s.rs.Stop() }

func (s *Server) handleDatagram(src net.Addr, data []byte) {
	chunks, err := wire.ParseDatagram(data)
	if err != nil {
		s.log.Error().Err(err).Str("src", src.String()).Msg("malformed bootstrap datagram")
		return
	}

	for _, c := range chunks {
		switch wire.Command(c.Command) {
		case wire.ReqBootstrapLogin:
			s.handleLogin(src, c)
		case wire.ReqPing:
			s.handlePing(src, c)
		default:
			// Bootstrap speaks only login and ping; anything else is
			// dropped per spec.md §7's "unknown top-level command" policy.
		}
	}
}

// handleLogin implements REQ_BOOTSTRAP_LOGIN: read the game identifier
// at offset 0x10, read the client name (offset 0x38, or 0x10 for
// Outtrigger whose identifier string is absent), allocate a fresh id,
// create the Player in the matching lobby server, and reply with
// RSP_LOGIN_SUCCESS2{port, 0, userId}, stamping the reply's player-id
// field with the client's temporary id from request offset 4.
func (s *Server) handleLogin(src net.Addr, c wire.Chunk) {
	if len(c.Data) < 16 {
		return
	}

	game, nameOff := detectGame(c.Data)
	nameOff -= wire.ChunkHdrSize // c.Data begins at chunk offset 0x10
	name := ""
	if len(c.Data) >= nameOff+16 {
		name = decodeFixedString(c.Data[nameOff : nameOff+16])
	}
	if game == gameBomberman {
		name = strings.TrimSuffix(name, "\x01")
		if i := strings.IndexByte(name, '\x01'); i >= 0 {
			name = name[:i]
		}
	}

	id := s.nextID
	s.nextID++

	p := &lobby.Player{
		ID:   id,
		Name: name,
		Addr: src,
	}

	var target GameServer
	var port wire.GamePort
	switch game {
	case gameBomberman:
		target, port = s.router.Bomberman, wire.PortBomberman
	case gamePropeller:
		target, port = s.router.Propeller, wire.PortPropeller
	default:
		target, port = s.router.Outtrigger, wire.PortOuttrigger
	}
	if target != nil {
		target.AddBootstrappedPlayer(p)
	}

	tempID := c.PlayerID

	pkt := wire.NewPacket()
	pkt.Init(byte(wire.RspLoginSuccess2))
	pkt.WriteUint32(uint32(port))
	pkt.WriteUint32(0)
	pkt.WriteUint32(uint32(id))
	data, err := pkt.Finalize()
	if err != nil {
		s.log.Error().Err(err).Msg("bootstrap: failed to finalize login reply")
		return
	}
	// Stamp the reply's player-id header field with the client's
	// temporary id, not the freshly allocated one: the client hasn't
	// learned its real id yet.
	be.PutUint32(data[4:8], tempID)

	if err := s.rs.Send(data, src); err != nil {
		s.log.Warn().Err(err).Msg("bootstrap: login reply send failed")
	}
}

func (s *Server) handlePing(src net.Addr, c wire.Chunk) {
	pkt := wire.NewPacket()
	pkt.Init(byte(wire.RspOK))
	if len(c.Data) >= 4 {
		pkt.WriteBytes(c.Data[0:4])
	}
	data, err := pkt.Finalize()
	if err != nil {
		return
	}
	_ = s.rs.Send(data, src)
}

type game int

const (
	gameOuttrigger game = iota
	gameBomberman
	gamePropeller
)

// detectGame reads the game identifier string at chunk offset 0x10 (the
// start of the payload it is given) and returns which game it names plus
// the chunk offset of the in-datagram client name: 0x38 normally, 0x10
// for Outtrigger (whose identifier string is absent and 0x10 holds the
// name directly).
func detectGame(data []byte) (game, int) {
	id := decodeFixedString(data[0:min(len(data), 32)])
	switch {
	case strings.HasPrefix(id, "BombermanOnline"):
		return gameBomberman, 0x38
	case strings.HasPrefix(id, "PropellerA"):
		return gamePropeller, 0x38
	default:
		return gameOuttrigger, 0x10
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
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
