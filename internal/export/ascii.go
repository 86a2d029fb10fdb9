package export

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/measurement"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/template"
)

// FormatASCII renders one entry as a line of the ASCII log, without the
// trailing newline: pcr, sha1 template digest, template name and every field.
func FormatASCII(e *measurement.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%2d %s %s", e.PCR, hex.EncodeToString(e.ExportDigest()), e.Name())
	for i, id := range e.Template.Fields {
		b.WriteByte(' ')
		if len(e.Fields[i]) == 0 {
			continue
		}
		b.WriteString(template.Show(id, e.Fields[i]))
	}
	return b.String()
}

// WriteASCII writes the ASCII log of entries.
func WriteASCII(w io.Writer, entries iter.Seq[*measurement.Entry]) error {
	bw := bufio.NewWriter(w)
	for e := range entries {
		if _, err := bw.WriteString(FormatASCII(e)); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
