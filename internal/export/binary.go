package export

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/measurement"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/template"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/tpm"
)

// maxNameLen bounds the template name of a parsed record.
const maxNameLen = 255

// maxPayloadLen bounds the payload of a parsed record.
const maxPayloadLen = 1 << 24

// Record is one binary measurement record.
type Record struct {
	PCR      uint32
	Digest   [tpm.ExportSize]byte
	Template string
	Payload  []byte
}

// AppendRecord appends the binary record of e to buf.
func AppendRecord(buf []byte, e *measurement.Entry) []byte {
	name := e.Name()
	buf = binary.LittleEndian.AppendUint32(buf, uint32(e.PCR))
	buf = append(buf, e.ExportDigest()...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(name)))
	buf = append(buf, name...)
	if !e.Template.Legacy() {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Payload)))
	}
	return append(buf, e.Payload...)
}

// WriteBinary writes every entry as a binary record and returns the number
// of bytes written.
func WriteBinary(w io.Writer, entries iter.Seq[*measurement.Entry]) (int64, error) {
	var (
		total int64
		buf   []byte
	)
	for e := range entries {
		buf = AppendRecord(buf[:0], e)
		n, err := w.Write(buf)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ParseBinary yields the records of a binary log. Iteration stops at the
// first malformed record, which is yielded as an error.
func ParseBinary(r io.Reader) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		br := bufio.NewReader(r)
		for {
			rec, err := readRecord(br)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

func readRecord(r io.Reader) (Record, error) {
	var rec Record
	var hdr [4 + tpm.ExportSize + 4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return rec, io.EOF
		}
		return rec, fmt.Errorf("read record header: %w", err)
	}
	rec.PCR = binary.LittleEndian.Uint32(hdr[0:4])
	copy(rec.Digest[:], hdr[4:4+tpm.ExportSize])
	nameLen := binary.LittleEndian.Uint32(hdr[4+tpm.ExportSize:])
	if nameLen == 0 || nameLen > maxNameLen {
		return rec, fmt.Errorf("invalid template name length %d", nameLen)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return rec, fmt.Errorf("read template name: %w", err)
	}
	rec.Template = string(name)

	if rec.Template == template.NameLegacy {
		payload, err := readLegacyPayload(r)
		if err != nil {
			return rec, err
		}
		rec.Payload = payload
		return rec, nil
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return rec, fmt.Errorf("read payload length: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxPayloadLen {
		return rec, fmt.Errorf("payload length %d too large", n)
	}
	rec.Payload = make([]byte, n)
	if _, err := io.ReadFull(r, rec.Payload); err != nil {
		return rec, fmt.Errorf("read payload: %w", err)
	}
	return rec, nil
}

// readLegacyPayload reads "digest | u32 name len | name".
func readLegacyPayload(r io.Reader) ([]byte, error) {
	head := make([]byte, tpm.ExportSize+4)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("read legacy payload: %w", err)
	}
	n := binary.LittleEndian.Uint32(head[tpm.ExportSize:])
	if n > template.MaxEventName {
		return nil, fmt.Errorf("legacy event name length %d too large", n)
	}
	name := make([]byte, n)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, fmt.Errorf("read legacy event name: %w", err)
	}
	return append(head, name...), nil
}

// Descriptor resolves the record's template: a built-in name, or a format
// string for an anonymous template.
func (r Record) Descriptor() (*template.Descriptor, error) {
	if d, ok := template.Lookup(r.Template); ok {
		return d, nil
	}
	return template.Parse(r.Template)
}

// Fields splits the payload into template field data.
func (r Record) Fields() ([][]byte, error) {
	d, err := r.Descriptor()
	if err != nil {
		return nil, err
	}
	return d.Unmarshal(r.Payload)
}

// Entry rebuilds a measurement entry from the record. Only the sha1 template
// digest survives export.
func (r Record) Entry() (*measurement.Entry, error) {
	d, err := r.Descriptor()
	if err != nil {
		return nil, err
	}
	digests := tpm.DigestSet{{Alg: tpm.SHA1, Sum: append([]byte(nil), r.Digest[:]...)}}
	return measurement.NewEntryFromPayload(int(r.PCR), d, r.Payload, digests)
}
