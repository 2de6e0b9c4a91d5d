package wire

import (
	"errors"
	"fmt"
)

// ErrShortDatagram is returned by ParseDatagram for a payload that cannot
// possibly hold the trailing server tag and one chunk header.
var ErrShortDatagram = errors.New("wire: datagram shorter than minimum frame")

// ErrBadServerTag is returned by ParseDatagram when the trailing 4 bytes
// don't match ServerTag.
var ErrBadServerTag = errors.New("wire: missing or corrupt server tag")

// ErrShortChunk is returned when a chunk's declared size is smaller than
// a header can possibly be.
var ErrShortChunk = errors.New("wire: chunk smaller than header")

// Chunk is one decoded, read-only frame from an incoming datagram.
type Chunk struct {
	Flags    Flag
	Command  byte
	PlayerID uint32
	Seq      uint32
	AckSeq   uint32
	Data     []byte // payload following the 16-byte header
}

// HasFlag reports whether f is set on the chunk.
func (c Chunk) HasFlag(f Flag) bool { return c.Flags&f != 0 }

// ParseDatagram strips the trailing server tag and splits the remaining
// bytes into chunks, per §4.2's parsing rules: datagrams under
// MinDatagramSize are rejected outright; each chunk must declare a size
// of at least MinChunkSize, and a chunk's size is only allowed to exceed
// the number of bytes remaining in the datagram when its command is
// REQ_NOP (clients misreport bare acks as a fixed 0x14 bytes).
func ParseDatagram(data []byte) ([]Chunk, error) {
	if len(data) < MinDatagramSize {
		return nil, ErrShortDatagram
	}

	body := data[:len(data)-4]
	tag := be.Uint32(data[len(data)-4:])
	if tag != ServerTag {
		return nil, ErrBadServerTag
	}

	var chunks []Chunk
	for off := 0; off < len(body); {
		remaining := body[off:]
		if len(remaining) < 2 {
			return chunks, fmt.Errorf("wire: %w at offset %d", ErrShortChunk, off)
		}

		word := be.Uint16(remaining[0:2])
		flags := Flag(word &^ sizeMask)
		size := int(word & sizeMask)

		if size < MinChunkSize {
			return chunks, fmt.Errorf("wire: chunk size %#x below minimum at offset %d", size, off)
		}

		cmd := byte(0)
		if len(remaining) > 3 {
			cmd = remaining[3]
		}

		if size > len(remaining) && cmd != byte(ReqNOP) {
			return chunks, fmt.Errorf("wire: chunk size %#x exceeds remaining %#x at offset %d", size, len(remaining), off)
		}
		if size > len(remaining) {
			size = len(remaining)
		}
		if size < ChunkHdrSize {
			return chunks, fmt.Errorf("wire: %w at offset %d", ErrShortChunk, off)
		}

		hdr := remaining[:ChunkHdrSize]
		c := Chunk{
			Flags:    flags,
			Command:  hdr[3],
			PlayerID: be.Uint32(hdr[4:8]),
			Seq:      be.Uint32(hdr[8:12]),
			Data:     remaining[ChunkHdrSize:size],
		}
		if c.HasFlag(FlagAck) {
			c.AckSeq = be.Uint32(hdr[12:16])
		}
		chunks = append(chunks, c)

		off += size
	}

	return chunks, nil
}
