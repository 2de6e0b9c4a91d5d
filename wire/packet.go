package wire

import "fmt"

// A Packet is a byte buffer carrying one or more back-to-back chunks. It
// starts empty; Init begins (or continues) a chunk, the Write* methods append to
// the chunk currently being built, and Finalize stamps every chunk's
// header and appends the trailing server tag.
//
// The zero value is not usable; use NewPacket.
type Packet struct {
	buf []byte

	// starts holds the buffer offset of each chunk's header.
	starts []int

	// flags[i] is the flag set accumulated for chunk i (starts[i]).
	flags []Flag
}

// NewPacket returns an empty Packet with the 2 KiB capacity the wire
// format assumes a single compound datagram never exceeds.
func NewPacket() *Packet {
	return &Packet{buf: make([]byte, 0, 2048)}
}

// Empty reports whether Init has never been called on p.
func (p *Packet) Empty() bool { return len(p.starts) == 0 }

// Clone returns a deep copy of p, independent of any further mutation
// (StampSeq, StampPlayerID, Finalize) performed on the original or the
// copy. Used by the RUDP layer when the same reply must be sent to
// several recipients, each needing its own sequence/player-id stamp.
func (p *Packet) Clone() *Packet {
	c := &Packet{
		buf:    append([]byte(nil), p.buf...),
		starts: append([]int(nil), p.starts...),
		flags:  append([]Flag(nil), p.flags...),
	}
	return c
}

// Init starts a new chunk of the given command type. If the Packet is
// empty this is the first chunk; otherwise the CONTINUE flag is set on the
// previous chunk and a new chunk is appended after it. Subsequent calls to
// the Write* methods append to whichever chunk Init most recently started.
func (p *Packet) Init(cmdType byte) {
	if !p.Empty() {
		last := len(p.starts) - 1
		p.flags[last] |= FlagContinue
	}

	start := len(p.buf)
	p.buf = append(p.buf, make([]byte, ChunkHdrSize)...)
	p.buf[start+3] = cmdType

	p.starts = append(p.starts, start)
	p.flags = append(p.flags, FlagUnknown)
}

// curStart returns the buffer offset of the chunk currently being built.
// Panics if Init was never called; this is a programmer error, not a
// runtime condition a client can trigger.
func (p *Packet) curStart() int {
	if p.Empty() {
		panic("wire: WriteData before Init")
	}
	return p.starts[len(p.starts)-1]
}

// WriteUint8 appends a single byte to the current chunk.
func (p *Packet) WriteUint8(v uint8) { p.buf = append(p.buf, v) }

// WriteUint16 appends a big-endian uint16 to the current chunk.
func (p *Packet) WriteUint16(v uint16) {
	p.buf = append(p.buf, byte(v>>8), byte(v))
}

// WriteUint32 appends a big-endian uint32 to the current chunk.
func (p *Packet) WriteUint32(v uint32) {
	var b [4]byte
	be.PutUint32(b[:], v)
	p.buf = append(p.buf, b[:]...)
}

// WriteBytes appends opaque bytes to the current chunk.
func (p *Packet) WriteBytes(data []byte) {
	p.buf = append(p.buf, data...)
}

// WriteString appends s to the current chunk, zero-padded (or truncated)
// to exactly width bytes.
func (p *Packet) WriteString(s string, width int) {
	b := make([]byte, width)
	n := copy(b, s)
	_ = n
	p.buf = append(p.buf, b...)
}

// SetFlags ORs extra flags into the chunk currently being built.
func (p *Packet) SetFlags(f Flag) {
	last := len(p.flags) - 1
	p.flags[last] |= f
}

// Ack sets FLAG_ACK on the current chunk and writes seq at header offset
// 0x0c, the ack-sequence field.
func (p *Packet) Ack(seq uint32) {
	p.SetFlags(FlagAck)
	start := p.curStart()
	be.PutUint32(p.buf[start+12:start+16], seq)
}

// RespOK starts an RSP_OK chunk whose first payload word is the original
// command type that is being acknowledged.
func (p *Packet) RespOK(origType byte) {
	p.Init(byte(RspOK))
	p.WriteUint32(uint32(origType))
}

// RespFailed starts an RSP_FAILED chunk whose first payload word is the
// original command type and second word is a failure code.
func (p *Packet) RespFailed(origType byte, code uint32) {
	p.Init(byte(RspFailed))
	p.WriteUint32(uint32(origType))
	p.WriteUint32(code)
}

// ErrChunkTooBig is returned by Finalize when a chunk grew past the 10-bit
// size field. This is a programmer error (a handler wrote too much into
// one chunk), not a condition a client can trigger.
var ErrChunkTooBig = fmt.Errorf("wire: chunk exceeds %#x bytes", MaxChunkSize)

// Finalize stamps flags|chunkSize into every chunk header and appends the
// trailing 4-byte server tag, returning the complete UDP payload. p must
// not be reused after Finalize without calling Init again; the returned
// slice aliases p's internal buffer.
func (p *Packet) Finalize() ([]byte, error) {
	for i, start := range p.starts {
		var end int
		if i+1 < len(p.starts) {
			end = p.starts[i+1]
		} else {
			end = len(p.buf)
		}
		size := end - start
		if size > MaxChunkSize {
			return nil, ErrChunkTooBig
		}

		word := uint16(p.flags[i])&^sizeMask | uint16(size)&sizeMask
		be.PutUint16(p.buf[start:start+2], word)
	}

	var tag [4]byte
	be.PutUint32(tag[:], ServerTag)
	p.buf = append(p.buf, tag[:]...)

	return p.buf, nil
}

// StampPlayerID writes id into every chunk's player-id field (header
// offset 4). Called by the RUDP layer at send time, never by handlers.
func (p *Packet) StampPlayerID(id uint32) {
	for _, start := range p.starts {
		be.PutUint32(p.buf[start+4:start+8], id)
	}
}

// Chunks returns the offsets of every chunk header currently in p, for
// callers (the RUDP layer) that need to inspect or stamp individual
// chunks before Finalize.
func (p *Packet) Chunks() []ChunkView {
	views := make([]ChunkView, len(p.starts))
	for i, start := range p.starts {
		var end int
		if i+1 < len(p.starts) {
			end = p.starts[i+1]
		} else {
			end = len(p.buf)
		}
		views[i] = ChunkView{p: p, start: start, end: end}
	}
	return views
}

// ChunkView is a mutable handle onto one chunk of a not-yet-finalized
// Packet, used by the RUDP layer to stamp per-chunk sequence numbers.
type ChunkView struct {
	p          *Packet
	start, end int
}

// Command returns the chunk's command-type byte.
func (c ChunkView) Command() byte { return c.p.buf[c.start+3] }

// Flags returns the chunk's current flag set.
func (c ChunkView) Flags() Flag {
	idx := c.index()
	return c.p.flags[idx]
}

func (c ChunkView) index() int {
	for i, s := range c.p.starts {
		if s == c.start {
			return i
		}
	}
	panic("wire: chunk view out of sync with packet")
}

// SetFlags ORs extra flags into this chunk's flag set.
func (c ChunkView) SetFlags(f Flag) {
	idx := c.index()
	c.p.flags[idx] |= f
}

// StampSeq writes seq into this chunk's sequence-number field (header
// offset 8).
func (c ChunkView) StampSeq(seq uint32) {
	be.PutUint32(c.p.buf[c.start+8:c.start+12], seq)
}
