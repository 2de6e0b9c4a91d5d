// Package rudp implements the reliable-UDP overlay described in spec.md
// §4.4: per-player reliable and unreliable sequence counters, a FIFO of
// reliable sends awaiting their turn, and a constant-interval
// retransmission timer.
//
// Outbox is grounded on the low-level sequencing and ack-matching idiom
// of the teacher's rudp.Peer (per-channel sequence counters, ack
// delivered by matching a stored sequence number), adapted from a
// goroutine-per-peer design to one driven by a shared reactor.Clock: no
// Outbox method is safe for concurrent use, because every call happens on
// the single reactor goroutine that owns the enclosing lobby server.
package rudp

import "time"

// RetransInterval is the constant interval the server waits before
// resending an unacknowledged reliable packet. It is deliberately a
// simple constant, not the client's backoff schedule (100, 200, 400,
// 800ms): the server's slower, fixed cadence guarantees the client always
// times out and stops retransmitting first, so a stray client resend
// never races a server resend into the ack pipeline twice.
const RetransInterval = 500 * time.Millisecond

// MaxAttempts is the number of times a reliable packet is (re)sent before
// the sequence is treated as implicitly acknowledged.
const MaxAttempts = 5
