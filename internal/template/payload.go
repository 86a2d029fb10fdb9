package template

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Marshal serialises field data into the payload written to exported
// records. Every field is "u32 length | bytes" (little endian); the legacy
// template writes its digest without length and its name without the
// terminating NUL.
func (d *Descriptor) Marshal(fields [][]byte) ([]byte, error) {
	if len(fields) != len(d.Fields) {
		return nil, fmt.Errorf("template %s: got %d fields, want %d", d.DisplayName(), len(fields), len(d.Fields))
	}
	var buf bytes.Buffer
	legacy := d.Legacy()
	for i, id := range d.Fields {
		data := fields[i]
		switch {
		case legacy && id == "d":
			buf.Write(data)
			continue
		case legacy && id == "n":
			data = bytes.TrimRight(data, "\x00")
		}
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// Unmarshal splits a payload produced by Marshal back into field data.
// Legacy names come back without their NUL.
func (d *Descriptor) Unmarshal(payload []byte) ([][]byte, error) {
	legacy := d.Legacy()
	fields := make([][]byte, 0, len(d.Fields))
	rest := payload
	for _, id := range d.Fields {
		if legacy && id == "d" {
			if len(rest) < 20 {
				return nil, fmt.Errorf("template %s: short digest field", d.DisplayName())
			}
			fields = append(fields, rest[:20])
			rest = rest[20:]
			continue
		}
		if len(rest) < 4 {
			return nil, fmt.Errorf("template %s: short length for field %s", d.DisplayName(), id)
		}
		n := binary.LittleEndian.Uint32(rest)
		rest = rest[4:]
		if uint64(n) > uint64(len(rest)) {
			return nil, fmt.Errorf("template %s: field %s overruns payload", d.DisplayName(), id)
		}
		fields = append(fields, rest[:n])
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("template %s: %d trailing bytes", d.DisplayName(), len(rest))
	}
	return fields, nil
}

// HashInput returns the bytes the template digest is computed over. For the
// legacy template that is the digest followed by the name padded to
// MaxEventName+1 bytes; every other template hashes its marshaled payload.
func (d *Descriptor) HashInput(fields [][]byte) ([]byte, error) {
	if !d.Legacy() {
		return d.Marshal(fields)
	}
	if len(fields) != len(d.Fields) {
		return nil, fmt.Errorf("template %s: got %d fields, want %d", d.DisplayName(), len(fields), len(d.Fields))
	}
	var buf bytes.Buffer
	for i, id := range d.Fields {
		switch id {
		case "n":
			name := make([]byte, MaxEventName+1)
			copy(name, bytes.TrimRight(fields[i], "\x00"))
			buf.Write(name)
		default:
			buf.Write(fields[i])
		}
	}
	return buf.Bytes(), nil
}
