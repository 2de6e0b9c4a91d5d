package reactor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// TestServerDispatchesReceivedDatagramToHandler binds a real UDP socket
// and confirms a datagram sent from another socket reaches onPkt with the
// sender's address, exercising the split read-goroutine/single-dispatch
// shape the reactor model depends on.
func TestServerDispatchesReceivedDatagramToHandler(t *testing.T) {
	got := make(chan []byte, 1)
	s, err := Bind("127.0.0.1:0", zerolog.Nop(), func(src net.Addr, data []byte) {
		got <- append([]byte(nil), data...)
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	conn, err := net.Dial("udp", s.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case data := <-got:
		if string(data) != "hello" {
			t.Fatalf("dispatched data = %q, want %q", data, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never ran")
	}

	cancel()
	<-done
}

// TestServerStopUnblocksRun confirms Stop terminates Run without a
// context cancellation, matching the graceful-shutdown path in
// cmd/kageserver.
func TestServerStopUnblocksRun(t *testing.T) {
	s, err := Bind("127.0.0.1:0", zerolog.Nop(), func(net.Addr, []byte) {})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not unblock Run")
	}
}
