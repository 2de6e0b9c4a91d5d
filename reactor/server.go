package reactor

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// RecvBufSize is the datagram receive buffer every UDP endpoint uses,
// matching the client's 1510-byte buffer (spec.md §4.2).
const RecvBufSize = 1510

type inboundPkt struct {
	data []byte
	addr net.Addr
}

// Handler processes one received datagram. It is invoked on the reactor
// goroutine; it and everything it touches may assume exclusive access to
// whatever state it closes over.
type Handler func(src net.Addr, data []byte)

// Server is a single UDP socket driven by one reactor goroutine: every
// received datagram and every timer expiry is handled on that goroutine,
// so callers never need locks around state the Handler mutates.
type Server struct {
	conn net.PacketConn
	log  zerolog.Logger

	Clock *Clock

	recvCh chan inboundPkt
	errCh  chan error
	stopCh chan struct{}
	onPkt  Handler
}

// Bind opens a UDP socket on addr (e.g. ":9090") and returns a Server
// ready to Run. onPkt is called once per received datagram.
func Bind(addr string, log zerolog.Logger, onPkt Handler) (*Server, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}

	return &Server{
		conn:   conn,
		log:    log,
		Clock:  NewClock(),
		recvCh: make(chan inboundPkt, 64),
		errCh:  make(chan error, 1),
		stopCh: make(chan struct{}),
		onPkt:  onPkt,
	}, nil
}

// LocalAddr returns the bound socket's local address.
func (s *Server) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Send finalizes nothing; it transmits an already-finalized datagram
// synchronously to addr, matching §4.2's "send(packet, endpoint)".
func (s *Server) Send(data []byte, addr net.Addr) error {
	_, err := s.conn.WriteTo(data, addr)
	return err
}

// Run starts the reader goroutine and blocks, processing datagrams and
// timer expiries on the calling goroutine, until ctx is cancelled or
// Stop is called.
func (s *Server) Run(ctx context.Context) error {
	go s.readLoop()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	armed := false

	rearm := func() {
		if deadline, ok := s.Clock.NextDeadline(); ok {
			timer.Reset(time.Until(deadline))
			armed = true
		} else if armed {
			timer.Stop()
			armed = false
		}
	}
	rearm()

	for {
		select {
		case <-ctx.Done():
			s.conn.Close()
			return nil
		case <-s.stopCh:
			s.conn.Close()
			return nil
		case err := <-s.errCh:
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error().Err(err).Msg("udp read failed")
		case pkt := <-s.recvCh:
			s.onPkt(pkt.addr, pkt.data)
			rearm()
		case <-timer.C:
			s.Clock.Fire(time.Now())
			rearm()
		}
	}
}

// Stop closes the socket and unblocks Run.
func (s *Server) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

func (s *Server) readLoop() {
	buf := make([]byte, RecvBufSize)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			s.errCh <- err
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case s.recvCh <- inboundPkt{data: data, addr: addr}:
		case <-s.stopCh:
			return
		}
	}
}
