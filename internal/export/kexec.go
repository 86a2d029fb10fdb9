package export

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/measurement"
)

// KexecVersion is the header version of a warm-restart buffer.
const KexecVersion = 1

// KexecHeader precedes the records of a warm-restart buffer.
type KexecHeader struct {
	Version    uint16
	BufferSize uint64
	Count      uint64
}

// Kexec serialises the whole log of ns into a warm-restart buffer: a header
// followed by every binary record. The buffer is pre-sized from the
// namespace size tally.
func Kexec(ns *measurement.Namespace) ([]byte, error) {
	size := ns.BinaryRuntimeSize()
	if size > uint64(maxInt) {
		return nil, fmt.Errorf("namespace %d: log of %d bytes does not fit a buffer", ns.ID(), size)
	}

	buf := make([]byte, measurement.HeaderSize, int(size))
	var count uint64
	for e := range ns.Entries() {
		buf = AppendRecord(buf, e)
		count++
	}

	binary.LittleEndian.PutUint16(buf[0:], KexecVersion)
	binary.LittleEndian.PutUint64(buf[8:], uint64(len(buf)))
	binary.LittleEndian.PutUint64(buf[16:], count)
	return buf, nil
}

// ParseKexecHeader decodes the header of a warm-restart buffer.
func ParseKexecHeader(buf []byte) (KexecHeader, error) {
	if len(buf) < measurement.HeaderSize {
		return KexecHeader{}, fmt.Errorf("kexec buffer of %d bytes is shorter than its header", len(buf))
	}
	h := KexecHeader{
		Version:    binary.LittleEndian.Uint16(buf[0:]),
		BufferSize: binary.LittleEndian.Uint64(buf[8:]),
		Count:      binary.LittleEndian.Uint64(buf[16:]),
	}
	if h.Version != KexecVersion {
		return h, fmt.Errorf("unsupported kexec buffer version %d", h.Version)
	}
	if h.BufferSize != uint64(len(buf)) {
		return h, fmt.Errorf("kexec buffer size %d does not match header %d", len(buf), h.BufferSize)
	}
	return h, nil
}

// RestoreKexec appends every record of a warm-restart buffer to ns and
// returns how many it restored. Restored entries are neither indexed nor
// extended.
func RestoreKexec(ns *measurement.Namespace, buf []byte) (int, error) {
	hdr, err := ParseKexecHeader(buf)
	if err != nil {
		return 0, err
	}
	var n int
	for rec, err := range ParseBinary(bytes.NewReader(buf[measurement.HeaderSize:])) {
		if err != nil {
			return n, fmt.Errorf("record %d: %w", n, err)
		}
		e, err := rec.Entry()
		if err != nil {
			return n, fmt.Errorf("record %d: %w", n, err)
		}
		ns.Restore(e)
		n++
	}
	if uint64(n) != hdr.Count {
		return n, fmt.Errorf("kexec buffer holds %d records, header says %d", n, hdr.Count)
	}
	return n, nil
}

const maxInt = int(^uint(0) >> 1)
