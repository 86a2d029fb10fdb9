package template

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/tpm"
)

// Event carries what the hook layer knows about one measured object.
type Event struct {
	FileDigest  []byte
	Algorithm   tpm.Algorithm
	Name        string
	Signature   []byte
	Buffer      []byte
	Modsig      []byte
	NamespaceID int
}

type fieldInit func(ev Event) ([]byte, error)

var fieldInits = map[string]fieldInit{
	"d":      initDigestLegacy,
	"n":      initNameLegacy,
	"d-ng":   initDigestNG,
	"n-ng":   initNameNG,
	"sig":    func(ev Event) ([]byte, error) { return ev.Signature, nil },
	"buf":    func(ev Event) ([]byte, error) { return ev.Buffer, nil },
	"modsig": func(ev Event) ([]byte, error) { return ev.Modsig, nil },
	"imaid":  initNamespaceID,
}

// Build initialises every field of d from ev, in template order.
func (d *Descriptor) Build(ev Event) ([][]byte, error) {
	fields := make([][]byte, len(d.Fields))
	for i, id := range d.Fields {
		data, err := fieldInits[id](ev)
		if err != nil {
			return nil, fmt.Errorf("template %s: field %s: %w", d.DisplayName(), id, err)
		}
		fields[i] = data
	}
	return fields, nil
}

func initDigestLegacy(ev Event) ([]byte, error) {
	out := make([]byte, tpm.ExportSize)
	if ev.Algorithm == tpm.SHA1 {
		copy(out, ev.FileDigest)
	}
	return out, nil
}

func initDigestNG(ev Event) ([]byte, error) {
	if ev.Algorithm == "" {
		return nil, fmt.Errorf("digest algorithm required")
	}
	out := make([]byte, 0, len(ev.Algorithm)+2+len(ev.FileDigest))
	out = append(out, string(ev.Algorithm)...)
	out = append(out, ':', 0)
	return append(out, ev.FileDigest...), nil
}

func initNameLegacy(ev Event) ([]byte, error) {
	name := ev.Name
	if len(name) > MaxEventName {
		name = name[:MaxEventName]
	}
	return append([]byte(name), 0), nil
}

func initNameNG(ev Event) ([]byte, error) {
	return append([]byte(ev.Name), 0), nil
}

func initNamespaceID(ev Event) ([]byte, error) {
	if ev.NamespaceID < 0 {
		return nil, fmt.Errorf("negative namespace id %d", ev.NamespaceID)
	}
	return binary.LittleEndian.AppendUint32(nil, uint32(ev.NamespaceID)), nil
}

// Show renders one field for the ASCII measurement view.
func Show(id string, data []byte) string {
	switch id {
	case "n", "n-ng":
		return strings.TrimRight(string(data), "\x00")
	case "d-ng":
		if i := strings.IndexByte(string(data), ':'); i > 0 && i+1 < len(data) && data[i+1] == 0 {
			return string(data[:i+1]) + hex.EncodeToString(data[i+2:])
		}
		return hex.EncodeToString(data)
	case "imaid":
		if len(data) == 4 {
			return strconv.FormatUint(uint64(binary.LittleEndian.Uint32(data)), 10)
		}
		return hex.EncodeToString(data)
	default:
		return hex.EncodeToString(data)
	}
}
