package rudp

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kageserver/kage/reactor"
	"github.com/kageserver/kage/wire"
)

func newTestOutbox() (*Outbox, *reactor.Clock, *[][]byte) {
	clock := reactor.NewClock()
	var sent [][]byte
	send := func(data []byte) error {
		sent = append(sent, append([]byte(nil), data...))
		return nil
	}
	return NewOutbox(clock, send, zerolog.Nop()), clock, &sent
}

func reliablePacket() *wire.Packet {
	p := wire.NewPacket()
	p.Init(byte(wire.ReqChat))
	p.SetFlags(wire.FlagRUDP)
	p.WriteUint32(1)
	return p
}

func TestSendClonesCallerPacket(t *testing.T) {
	o, _, sent := newTestOutbox()

	shared := reliablePacket()
	if err := o.Send(shared, 1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := o.Send(shared, 2); err != nil {
		t.Fatalf("Send to second recipient: %v", err)
	}

	if len(*sent) != 1 {
		t.Fatalf("sent = %d, want 1 (second send queued behind the first)", len(*sent))
	}
	if o.QueueLen() != 1 {
		t.Fatalf("QueueLen = %d, want 1 (second send queued, not dropped)", o.QueueLen())
	}
}

func TestRetransmitAtConstantInterval(t *testing.T) {
	o, clock, sent := newTestOutbox()

	if err := o.Send(reliablePacket(), 1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// Outbox arms its timer from the wall clock at send time, so the test's
	// base is taken just after Send.
	base := time.Now()
	if len(*sent) != 1 {
		t.Fatalf("sent = %d after first send, want 1", len(*sent))
	}

	clock.Fire(base.Add(RetransInterval))
	if len(*sent) != 2 {
		t.Fatalf("sent = %d after one retransmit interval, want 2", len(*sent))
	}

	clock.Fire(base.Add(2 * RetransInterval))
	if len(*sent) != 3 {
		t.Fatalf("sent = %d after two retransmit intervals, want 3", len(*sent))
	}
}

func TestFiveAttemptsThenImplicitAck(t *testing.T) {
	o, clock, sent := newTestOutbox()

	if err := o.Send(reliablePacket(), 1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	base := time.Now()

	for i := 1; i < MaxAttempts; i++ {
		clock.Fire(base.Add(time.Duration(i) * RetransInterval))
	}
	if len(*sent) != MaxAttempts {
		t.Fatalf("sent = %d after %d attempts, want %d", len(*sent), MaxAttempts, MaxAttempts)
	}
	if o.AckedRelSeq() != -1 {
		t.Fatalf("ackedRelSeq = %d before exhaustion, want -1", o.AckedRelSeq())
	}

	// The attempt-5 timeout fires and gives up.
	clock.Fire(base.Add(time.Duration(MaxAttempts) * RetransInterval))
	if o.AckedRelSeq() != 0 {
		t.Fatalf("ackedRelSeq = %d after exhaustion, want 0", o.AckedRelSeq())
	}
}

func TestAckIdempotence(t *testing.T) {
	o, _, _ := newTestOutbox()

	if err := o.Send(reliablePacket(), 1); err != nil {
		t.Fatalf("Send: %v", err)
	}

	o.AckRUdp(0)
	if o.AckedRelSeq() != 0 {
		t.Fatalf("ackedRelSeq = %d, want 0", o.AckedRelSeq())
	}

	// A duplicate or stale ack must not regress or disturb state.
	o.AckRUdp(0)
	if o.AckedRelSeq() != 0 {
		t.Fatalf("ackedRelSeq regressed after duplicate ack: %d", o.AckedRelSeq())
	}
}

func TestQueuedSendWaitsForPriorAck(t *testing.T) {
	o, _, sent := newTestOutbox()

	if err := o.Send(reliablePacket(), 1); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := o.Send(reliablePacket(), 1); err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("sent = %d before first ack, want 1 (second must queue)", len(*sent))
	}
	if o.QueueLen() != 1 {
		t.Fatalf("QueueLen = %d, want 1", o.QueueLen())
	}

	o.AckRUdp(0)
	if len(*sent) != 2 {
		t.Fatalf("sent = %d after first ack, want 2 (queued packet promoted)", len(*sent))
	}
	if o.QueueLen() != 0 {
		t.Fatalf("QueueLen = %d after promotion, want 0", o.QueueLen())
	}
}

func TestWaitForSeqFiresExactlyOnceOnAck(t *testing.T) {
	o, _, _ := newTestOutbox()

	if err := o.Send(reliablePacket(), 1); err != nil {
		t.Fatalf("Send: %v", err)
	}

	calls := 0
	o.WaitForSeq(o.NextRelSeq()-1, func() { calls++ })

	o.AckRUdp(0)
	o.AckRUdp(0)
	if calls != 1 {
		t.Fatalf("WaitForSeq callback ran %d times, want 1", calls)
	}
}
