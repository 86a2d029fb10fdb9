// Package template describes how a measured event is turned into the opaque
// payload stored with a log entry, and how that payload is rendered back.
//
// A Descriptor names an ordered list of field ids ("d-ng|n-ng"). Build
// initialises each field from an Event, Marshal produces the payload bytes
// that are exported, and Show renders one field for the ASCII view.
package template

import (
	"fmt"
	"strings"
)

const (
	// NameLegacy is the original template. Its exported records carry no
	// payload-length field and its "d" field is written without a length.
	NameLegacy = "ima"

	// MaxEventName bounds the legacy "n" field.
	MaxEventName = 255

	maxFieldIDLen = 16
	maxFields     = 15
)

// Descriptor is a template: a name and an ordered list of field ids.
type Descriptor struct {
	Name   string
	Fmt    string
	Fields []string
}

// DisplayName is the name written into exported records: the template name,
// or its format string for an anonymous template.
func (d *Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Fmt
}

// Legacy reports whether d is the original "ima" template.
func (d *Descriptor) Legacy() bool {
	return d.DisplayName() == NameLegacy
}

var builtins = map[string]*Descriptor{}

func init() {
	for _, b := range []struct{ name, fmt string }{
		{NameLegacy, "d|n"},
		{"ima-ng", "d-ng|n-ng"},
		{"ima-sig", "d-ng|n-ng|sig"},
		{"ima-buf", "d-ng|n-ng|buf"},
		{"ima-modsig", "d-ng|n-ng|sig|modsig"},
		{"ima-dig-imaid", "d-ng|n-ng|d|imaid"},
	} {
		d, err := Parse(b.fmt)
		if err != nil {
			panic(err)
		}
		d.Name = b.name
		builtins[b.name] = d
	}
}

// Lookup returns a built-in template by name.
func Lookup(name string) (*Descriptor, bool) {
	d, ok := builtins[name]
	return d, ok
}

// Parse builds an anonymous Descriptor from a "|" separated format string.
func Parse(format string) (*Descriptor, error) {
	if format == "" {
		return nil, fmt.Errorf("template: empty format")
	}
	ids := strings.Split(format, "|")
	if len(ids) > maxFields {
		return nil, fmt.Errorf("template: %d fields exceeds limit of %d", len(ids), maxFields)
	}
	for _, id := range ids {
		if len(id) >= maxFieldIDLen {
			return nil, fmt.Errorf("template: field id %q too long", id)
		}
		if _, ok := fieldInits[id]; !ok {
			return nil, fmt.Errorf("template: unknown field %q", id)
		}
	}
	return &Descriptor{Fmt: format, Fields: ids}, nil
}
