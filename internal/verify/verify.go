// Package verify replays an exported measurement log offline and recomputes
// the trust-register aggregate it implies, so a quoted register value can be
// checked against the log. Only the sha1 bank is replayable: the export
// format carries sha1 template digests.
//
// A per-namespace virtual aggregate is computed over "ima-dig-imaid"
// entries, folding in each entry's file digest when it was recorded for the
// namespace under check.
package verify

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/export"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/tpm"
)

// DefaultPCR is the register measurements are extended into by default.
const DefaultPCR = 10

// TemplateNamespaceID is the template whose entries feed the namespace
// aggregate.
const TemplateNamespaceID = "ima-dig-imaid"

// Options selects what a replay checks.
type Options struct {
	// PCR restricts the replay to entries of one register. 0 uses DefaultPCR.
	PCR int
	// Expected is the register value to look for; nil skips matching.
	Expected []byte
	// Namespace selects the namespace aggregate; 0 skips it.
	Namespace int
}

// Report is the outcome of a replay.
type Report struct {
	Entries   int
	Aggregate []byte
	// MatchedAt is the number of entries replayed when the running aggregate
	// first equalled Expected, or 0.
	MatchedAt          int
	Namespace          int
	NamespaceAggregate []byte
	NamespaceEntries   int
}

// Matched reports whether the expected value was reached.
func (r Report) Matched() bool { return r.MatchedAt > 0 }

// Line is one parsed line of the ASCII log.
type Line struct {
	PCR      int
	Digest   []byte
	Template string
	Fields   []string
}

// ParseASCII yields the lines of an ASCII log. A malformed line is yielded
// as an error and ends the iteration.
func ParseASCII(r io.Reader) iter.Seq2[Line, error] {
	return func(yield func(Line, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for n := 1; sc.Scan(); n++ {
			text := strings.TrimSpace(sc.Text())
			if text == "" {
				continue
			}
			l, err := parseLine(text)
			if err != nil {
				yield(l, fmt.Errorf("line %d: %w", n, err))
				return
			}
			if !yield(l, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(Line{}, err)
		}
	}
}

func parseLine(text string) (Line, error) {
	tokens := strings.Fields(text)
	if len(tokens) < 4 {
		return Line{}, fmt.Errorf("expected at least 4 tokens, got %d", len(tokens))
	}
	pcr, err := strconv.Atoi(tokens[0])
	if err != nil {
		return Line{}, fmt.Errorf("pcr: %w", err)
	}
	digest, err := hex.DecodeString(tokens[1])
	if err != nil || len(digest) != tpm.ExportSize {
		return Line{}, fmt.Errorf("template digest %q", tokens[1])
	}
	return Line{PCR: pcr, Digest: digest, Template: tokens[2], Fields: tokens[3:]}, nil
}

type replayer struct {
	opts Options
	rep  Report
}

func newReplayer(opts Options) *replayer {
	if opts.PCR == 0 {
		opts.PCR = DefaultPCR
	}
	r := &replayer{opts: opts}
	r.rep.Aggregate = make([]byte, tpm.ExportSize)
	r.rep.Namespace = opts.Namespace
	if opts.Namespace != 0 {
		r.rep.NamespaceAggregate = make([]byte, tpm.ExportSize)
	}
	return r
}

func (r *replayer) fold(pcr int, digest []byte) {
	if pcr != r.opts.PCR {
		return
	}
	d := digest
	if isZero(d) {
		d = bytes.Repeat([]byte{0xff}, tpm.ExportSize)
	}
	r.rep.Aggregate = extend(r.rep.Aggregate, d)
	r.rep.Entries++
	if r.rep.MatchedAt == 0 && r.opts.Expected != nil && bytes.Equal(r.rep.Aggregate, r.opts.Expected) {
		r.rep.MatchedAt = r.rep.Entries
	}
}

func (r *replayer) foldNamespace(ns int, fileDigest []byte) {
	if r.opts.Namespace == 0 || ns != r.opts.Namespace {
		return
	}
	r.rep.NamespaceAggregate = extend(r.rep.NamespaceAggregate, fileDigest)
	r.rep.NamespaceEntries++
}

// ReplayASCII replays an ASCII log.
func ReplayASCII(rd io.Reader, opts Options) (Report, error) {
	r := newReplayer(opts)
	for l, err := range ParseASCII(rd) {
		if err != nil {
			return r.rep, err
		}
		r.fold(l.PCR, l.Digest)
		if l.Template == TemplateNamespaceID && len(l.Fields) >= 2 {
			ns, err := strconv.Atoi(l.Fields[len(l.Fields)-1])
			if err != nil {
				return r.rep, fmt.Errorf("namespace id %q: %w", l.Fields[len(l.Fields)-1], err)
			}
			d, err := hex.DecodeString(l.Fields[len(l.Fields)-2])
			if err != nil {
				return r.rep, fmt.Errorf("file digest %q: %w", l.Fields[len(l.Fields)-2], err)
			}
			r.foldNamespace(ns, d)
		}
	}
	return r.rep, nil
}

// ReplayBinary replays a binary log.
func ReplayBinary(rd io.Reader, opts Options) (Report, error) {
	r := newReplayer(opts)
	for rec, err := range export.ParseBinary(rd) {
		if err != nil {
			return r.rep, err
		}
		r.fold(int(rec.PCR), rec.Digest[:])
		if rec.Template == TemplateNamespaceID {
			fields, err := rec.Fields()
			if err != nil {
				return r.rep, err
			}
			if len(fields[3]) != 4 {
				return r.rep, fmt.Errorf("namespace id field of %d bytes", len(fields[3]))
			}
			r.foldNamespace(int(binary.LittleEndian.Uint32(fields[3])), fields[2])
		}
	}
	return r.rep, nil
}

func extend(old, digest []byte) []byte {
	h := tpm.SHA1.New()
	h.Write(old)
	h.Write(digest)
	return h.Sum(nil)
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
