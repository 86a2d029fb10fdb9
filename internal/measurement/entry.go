package measurement

import (
	"fmt"
	"slices"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/template"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/tpm"
)

// Entry is one admitted measurement. It is never modified once built.
type Entry struct {
	PCR int
	// Digests holds the template digest for every algorithm. All zero for a
	// violation.
	Digests  tpm.DigestSet
	Template *template.Descriptor
	Fields   [][]byte
	Payload  []byte
}

// NewEntry builds the entry for ev under desc and computes its template
// digest with every algorithm in algs. sha1 is always included since the
// exported record carries the sha1 digest.
func NewEntry(pcr int, desc *template.Descriptor, ev template.Event, algs []tpm.Algorithm) (*Entry, error) {
	e, input, err := build(pcr, desc, ev)
	if err != nil {
		return nil, err
	}
	e.Digests, err = tpm.Compute(withSHA1(algs), input)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// NewViolationEntry builds the entry recorded for a measurement-time error.
// Its digests are all zero; the register is extended with the poison value.
func NewViolationEntry(pcr int, desc *template.Descriptor, ev template.Event, algs []tpm.Algorithm) (*Entry, error) {
	e, _, err := build(pcr, desc, ev)
	if err != nil {
		return nil, err
	}
	e.Digests = tpm.Zero(withSHA1(algs))
	return e, nil
}

// NewEntryFromPayload rebuilds an entry from an exported record, for the
// restore path.
func NewEntryFromPayload(pcr int, desc *template.Descriptor, payload []byte, digests tpm.DigestSet) (*Entry, error) {
	fields, err := desc.Unmarshal(payload)
	if err != nil {
		return nil, err
	}
	return &Entry{PCR: pcr, Digests: digests, Template: desc, Fields: fields, Payload: payload}, nil
}

func build(pcr int, desc *template.Descriptor, ev template.Event) (*Entry, []byte, error) {
	if desc == nil {
		return nil, nil, fmt.Errorf("template descriptor required")
	}
	if pcr < 0 || pcr >= tpm.NumPCRs {
		return nil, nil, fmt.Errorf("pcr %d out of range", pcr)
	}
	fields, err := desc.Build(ev)
	if err != nil {
		return nil, nil, err
	}
	payload, err := desc.Marshal(fields)
	if err != nil {
		return nil, nil, err
	}
	input, err := desc.HashInput(fields)
	if err != nil {
		return nil, nil, err
	}
	return &Entry{PCR: pcr, Template: desc, Fields: fields, Payload: payload}, input, nil
}

func withSHA1(algs []tpm.Algorithm) []tpm.Algorithm {
	if slices.Contains(algs, tpm.SHA1) {
		return algs
	}
	return append([]tpm.Algorithm{tpm.SHA1}, algs...)
}

// Name returns the template name written into exported records.
func (e *Entry) Name() string { return e.Template.DisplayName() }

// Digest returns the template digest for alg, or nil.
func (e *Entry) Digest(alg tpm.Algorithm) []byte { return e.Digests.Get(alg) }

// ExportDigest returns the fixed-width digest written into exported records.
func (e *Entry) ExportDigest() []byte { return e.Digests.Export() }

// Violation reports whether e records a measurement-time error.
func (e *Entry) Violation() bool { return e.Digests.IsZero() }
