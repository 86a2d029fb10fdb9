// Package export renders a namespace measurement log in the binary and ASCII
// formats read by attestation tooling, parses the binary format back, and
// builds the warm-restart buffer carried across a kexec.
//
// All multi-byte integers are little endian.
package export
