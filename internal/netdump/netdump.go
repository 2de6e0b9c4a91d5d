// Package netdump implements the optional per-room capture writer named
// in spec.md §6: one file per room, a sequence of fixed records each
// holding a captured datagram's timestamp, source address, and bytes.
// The record layout is grounded on the on-disk struct original_source/
// ot_dissect.cpp reads back (ts, addr, port, size, then size bytes),
// reshaped to the big-endian millisecond-timestamp field spec.md §6
// specifies instead of ot_dissect.cpp's native time_t/uint32_t struct.
package netdump

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kageserver/kage/lobby"
)

var be = binary.BigEndian

// Writer implements lobby.Capturer, multiplexing captures across however
// many rooms are active into one open *os.File per room.
type Writer struct {
	mu   sync.Mutex
	dir  string
	log  zerolog.Logger
	open map[string]*os.File // keyed by sanitized room name
	id   map[string]string   // room name -> correlation id, for log lines
}

// New returns a Writer that creates capture files under dir.
func New(dir string, log zerolog.Logger) *Writer {
	return &Writer{
		dir:  dir,
		log:  log,
		open: make(map[string]*os.File),
		id:   make(map[string]string),
	}
}

// Capture implements lobby.Capturer. roomName is sanitized by replacing
// "/" with "_" per spec.md §6; the first capture for a given room name
// opens DD_HH-MM-SS_<name>.dmp and keeps it open for the room's
// lifetime.
func (w *Writer) Capture(room lobby.RoomID, roomName string, addr net.Addr, data []byte) {
	safe := strings.ReplaceAll(roomName, "/", "_")

	w.mu.Lock()
	f, ok := w.open[safe]
	if !ok {
		var err error
		f, err = w.create(safe)
		if err != nil {
			w.log.Error().Err(err).Str("room", roomName).Msg("netdump: failed to open capture file")
			w.mu.Unlock()
			return
		}
		w.open[safe] = f
		w.id[safe] = uuid.NewString()
	}
	corrID := w.id[safe]
	w.mu.Unlock()

	rec, err := encodeRecord(addr, data)
	if err != nil {
		w.log.Warn().Err(err).Str("room", roomName).Msg("netdump: unsupported source address, dropping record")
		return
	}

	if _, err := f.Write(rec); err != nil {
		w.log.Error().Err(err).Str("room", roomName).Str("capture_id", corrID).Msg("netdump: write failed")
	}
}

func (w *Writer) create(safeName string) (*os.File, error) {
	name := fmt.Sprintf("%s_%s.dmp", time.Now().Format("02_15-04-05"), safeName)
	return os.Create(filepath.Join(w.dir, name))
}

// CloseRoom releases the file for a room once it is destroyed, matching
// Room deletion in the generic lobby layer.
func (w *Writer) CloseRoom(roomName string) {
	safe := strings.ReplaceAll(roomName, "/", "_")

	w.mu.Lock()
	defer w.mu.Unlock()
	if f, ok := w.open[safe]; ok {
		f.Close()
		delete(w.open, safe)
		delete(w.id, safe)
	}
}

// encodeRecord builds one {ms_since_epoch:8, ipv4:4, port:2, length:4,
// bytes} record, big-endian, per spec.md §6.
func encodeRecord(addr net.Addr, data []byte) ([]byte, error) {
	udp, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("netdump: non-UDP source address %T", addr)
	}
	ip4 := udp.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("netdump: non-IPv4 source address %s", udp.IP)
	}

	rec := make([]byte, 8+4+2+4+len(data))
	be.PutUint64(rec[0:8], uint64(time.Now().UnixMilli()))
	copy(rec[8:12], ip4)
	be.PutUint16(rec[12:14], uint16(udp.Port))
	be.PutUint32(rec[14:18], uint32(len(data)))
	copy(rec[18:], data)
	return rec, nil
}
