package rudp

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/kageserver/kage/reactor"
	"github.com/kageserver/kage/wire"
)

// Sender transmits an already-finalized datagram to one player's address.
// Implemented by the lobby server's reactor.Server.
type Sender func(data []byte) error

type queuedPkt struct {
	seq  uint32
	data []byte
}

// Outbox is the RUDP state for a single Player: sequence generators, the
// one in-flight reliable packet, and the FIFO of reliable sends waiting
// for their turn.
type Outbox struct {
	clock *reactor.Clock
	send  Sender
	log   zerolog.Logger

	relSeq   uint32
	unrelSeq uint32

	// ackedRelSeq is -1 until the first reliable send is acked, matching
	// spec.md §3's "initially -1".
	ackedRelSeq int64

	inFlight    *queuedPkt
	attempts    int
	retransTok  reactor.Token
	retransArmed bool

	queue []queuedPkt

	waitingForSeq int64
	onWaitAcked   func()
}

// NewOutbox creates an Outbox that schedules retransmits on clock and
// transmits bytes via send.
func NewOutbox(clock *reactor.Clock, send Sender, log zerolog.Logger) *Outbox {
	return &Outbox{
		clock:         clock,
		send:          send,
		log:           log,
		ackedRelSeq:   -1,
		waitingForSeq: -1,
	}
}

// Send stamps pkt's player id and per-chunk sequence numbers and
// transmits it, per §4.4 step 1-2: the first RUDP-flagged chunk claims
// the next reliable sequence (later RUDP chunks in the same packet
// inherit it); any other non-NOP chunk claims the next unreliable
// sequence. If any chunk was RUDP-flagged the whole packet is delivered
// through the reliable pipeline, otherwise it is transmitted immediately.
//
// Send operates on a clone of pkt: the caller's Packet is left
// untouched, so the same reply can be handed to Send again for another
// recipient (Server.BroadcastRoom, Server.BroadcastLobby) without the
// second call re-finalizing an already-tagged buffer or reusing the
// first recipient's sequence numbers.
func (o *Outbox) Send(pkt *wire.Packet, playerID uint32) error {
	pkt = pkt.Clone()
	chunks := pkt.Chunks()

	var rudpSeq uint32
	sawRUDP := false
	for _, c := range chunks {
		if c.Flags()&wire.FlagRUDP != 0 {
			if !sawRUDP {
				rudpSeq = o.relSeq
				o.relSeq++
				sawRUDP = true
			}
			c.StampSeq(rudpSeq)
		} else if c.Command() != byte(wire.ReqNOP) {
			c.StampSeq(o.unrelSeq)
			o.unrelSeq++
		}
	}

	pkt.StampPlayerID(playerID)

	data, err := pkt.Finalize()
	if err != nil {
		return err
	}

	if !sawRUDP {
		return o.send(data)
	}

	return o.sendReliable(rudpSeq, data)
}

func (o *Outbox) sendReliable(seq uint32, data []byte) error {
	qp := queuedPkt{seq: seq, data: data}

	if o.inFlight == nil && int64(seq) == o.ackedRelSeq+1 {
		return o.installInFlight(qp)
	}

	o.queue = append(o.queue, qp)
	return nil
}

func (o *Outbox) installInFlight(qp queuedPkt) error {
	o.inFlight = &qp
	o.attempts = 0
	return o.armSend()
}

func (o *Outbox) armSend() error {
	if err := o.send(o.inFlight.data); err != nil {
		return err
	}
	o.attempts++
	o.retransTok = o.clock.After(time.Now(), RetransInterval, o.onRetransTimeout)
	o.retransArmed = true
	return nil
}

func (o *Outbox) cancelRetrans() {
	if o.retransArmed {
		o.clock.Cancel(o.retransTok)
		o.retransArmed = false
	}
}

func (o *Outbox) onRetransTimeout() {
	o.retransArmed = false

	if o.inFlight == nil {
		return
	}

	if o.attempts >= MaxAttempts {
		seq := o.inFlight.seq
		o.log.Warn().Uint32("seq", seq).Msg("rudp: giving up after max attempts, treating as acked")
		o.ackedRelSeq = int64(seq)
		o.inFlight = nil
		o.checkWaiting(seq)
		o.promoteNext()
		return
	}

	// Resend; a send error is discarded here and is not fatal to the
	// reactor.
	_ = o.armSend()
}

// AckRUdp records that the peer has acknowledged seq. Per the idempotence
// law in spec.md §8, acking a sequence at or before the current
// ackedRelSeq is a no-op.
func (o *Outbox) AckRUdp(seq uint32) {
	if int64(seq) <= o.ackedRelSeq {
		return
	}

	o.ackedRelSeq = int64(seq)
	o.cancelRetrans()
	o.inFlight = nil

	o.checkWaiting(seq)
	o.promoteNext()
}

func (o *Outbox) checkWaiting(seq uint32) {
	if o.waitingForSeq == int64(seq) {
		o.waitingForSeq = -1
		if cb := o.onWaitAcked; cb != nil {
			o.onWaitAcked = nil
			cb()
		}
	}
}

func (o *Outbox) promoteNext() {
	if o.inFlight != nil || len(o.queue) == 0 {
		return
	}

	for i, qp := range o.queue {
		if int64(qp.seq) == o.ackedRelSeq+1 {
			o.queue = append(o.queue[:i:i], o.queue[i+1:]...)
			_ = o.installInFlight(qp)
			return
		}
	}
}

// WaitForSeq arranges for cb to run once seq has been acknowledged,
// matching Player.waitingForSeq: the caller (typically a game room) is
// notified exactly once.
func (o *Outbox) WaitForSeq(seq uint32, cb func()) {
	o.waitingForSeq = int64(seq)
	o.onWaitAcked = cb
}

// AckedRelSeq returns the highest reliable sequence acknowledged so far,
// or -1 if none has been.
func (o *Outbox) AckedRelSeq() int64 { return o.ackedRelSeq }

// NextRelSeq returns the reliable sequence the next RUDP-flagged Send
// will claim. Callers that need to WaitForSeq on a reply they are about
// to send read this immediately beforehand.
func (o *Outbox) NextRelSeq() uint32 { return o.relSeq }

// QueueLen reports how many reliable packets are queued behind the
// in-flight one. Callers MAY use this to bound the queue per §5's
// backpressure note and disconnect a client whose queue overflows.
func (o *Outbox) QueueLen() int { return len(o.queue) }
