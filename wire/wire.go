// Package wire implements the low-level compound datagram protocol spoken
// by Bomberman, Outtrigger and Propeller Arena clients over UDP.
//
// A Packet is a byte buffer carrying one or more back-to-back chunks; a
// finalized Packet is a full UDP payload, terminated by a constant 4-byte
// server tag. See Packet for the wire layout.
package wire

import "encoding/binary"

var be = binary.BigEndian

// ServerTag is appended to every outgoing datagram and must be stripped
// from every incoming one before it is parsed into chunks.
const ServerTag uint32 = 0x006647BA

// Flag is a per-chunk bit set stored in the high 6 bits of the chunk's
// first 16-bit word.
type Flag uint16

const (
	FlagRelay   Flag = 0x0400
	FlagContinue Flag = 0x0800
	FlagLobby   Flag = 0x1000
	FlagUnknown Flag = 0x2000
	FlagAck     Flag = 0x4000
	FlagRUDP    Flag = 0x8000

	sizeMask = 0x03ff
)

// ChunkHdrSize is the fixed 16-byte header preceding every chunk's payload.
const ChunkHdrSize = 16

// MaxDatagramSize mirrors the client's 1510-byte receive buffer. It is a
// reference value only: neither Finalize nor ParseDatagram checks a
// datagram's size against it.
const MaxDatagramSize = 1510

// MaxChunkSize is the largest value that fits in the chunk size field
// (low 10 bits of the header's first word).
const MaxChunkSize = sizeMask

// MinDatagramSize is the smallest datagram the parser will accept.
const MinDatagramSize = 0x14

// MinChunkSize is the smallest legal chunk, header included.
const MinChunkSize = 0x10
