// Package propeller binds Propeller Arena's lobby port. Per spec.md §4,
// Propeller Arena has no game-specific subcommand table of its own: its
// authentication runs over an external Blowfish TCP service (out of
// scope here), and in-room play never reaches this server beyond the
// generic lobby/room commands §4.5 already handles. NewRoom therefore
// builds a plain lobby.Room with no extra Hooks or Payload.
package propeller

import (
	"github.com/rs/zerolog"

	"github.com/kageserver/kage/lobby"
	"github.com/kageserver/kage/wire"
)

// Server wraps a generic lobby.Server bound to the Propeller Arena port.
type Server struct {
	*lobby.Server
}

// New binds a Propeller Arena lobby server on addr.
func New(addr string, lobbyNames []string, log zerolog.Logger) (*Server, error) {
	ls, err := lobby.New(addr, wire.PortPropeller, lobbyNames, lobby.GameHooks{
		NewRoom: lobby.NewRoom,
	}, log)
	if err != nil {
		return nil, err
	}
	return &Server{Server: ls}, nil
}
