package tpm

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // sha1 is a mandated register bank, not used for signatures
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrNoBank is returned for an algorithm the register device does not know.
var ErrNoBank = errors.New("tpm: unsupported bank algorithm")

// Algorithm names a register bank / digest algorithm.
type Algorithm string

const (
	SHA1    Algorithm = "sha1"
	SHA256  Algorithm = "sha256"
	SHA384  Algorithm = "sha384"
	SHA512  Algorithm = "sha512"
	SHA3256 Algorithm = "sha3-256"
)

// ExportSize is the width of the digest written into every exported record.
// The exposition format is fixed to the sha1 bank.
const ExportSize = sha1.Size

// ParseAlgorithm maps a configuration string onto an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrNoBank, s)
	}
	return a, nil
}

// Valid reports whether a is one of the supported algorithms.
func (a Algorithm) Valid() bool {
	switch a {
	case SHA1, SHA256, SHA384, SHA512, SHA3256:
		return true
	}
	return false
}

// Size returns the digest width in bytes, or 0 for an unknown algorithm.
func (a Algorithm) Size() int {
	switch a {
	case SHA1:
		return sha1.Size
	case SHA256, SHA3256:
		return sha256.Size
	case SHA384:
		return sha512.Size384
	case SHA512:
		return sha512.Size
	}
	return 0
}

// New returns a fresh hash.Hash for a, or nil for an unknown algorithm.
func (a Algorithm) New() hash.Hash {
	switch a {
	case SHA1:
		return sha1.New() //nolint:gosec
	case SHA256:
		return sha256.New()
	case SHA384:
		return sha512.New384()
	case SHA512:
		return sha512.New()
	case SHA3256:
		return sha3.New256()
	}
	return nil
}

// Hash returns H_a(data).
func Hash(a Algorithm, data []byte) ([]byte, error) {
	h := a.New()
	if h == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoBank, a)
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// Digest is one algorithm's digest of a measured object.
type Digest struct {
	Alg Algorithm
	Sum []byte
}

// DigestSet holds one digest per supported algorithm.
type DigestSet []Digest

// Compute hashes data with every algorithm in algs.
func Compute(algs []Algorithm, data []byte) (DigestSet, error) {
	set := make(DigestSet, 0, len(algs))
	for _, a := range algs {
		sum, err := Hash(a, data)
		if err != nil {
			return nil, err
		}
		set = append(set, Digest{Alg: a, Sum: sum})
	}
	return set, nil
}

// Zero returns a set of all-zero digests, the digest content of a violation.
func Zero(algs []Algorithm) DigestSet {
	set := make(DigestSet, 0, len(algs))
	for _, a := range algs {
		set = append(set, Digest{Alg: a, Sum: make([]byte, a.Size())})
	}
	return set
}

// Get returns the digest for a, or nil when the set has none.
func (s DigestSet) Get(a Algorithm) []byte {
	for _, d := range s {
		if d.Alg == a {
			return d.Sum
		}
	}
	return nil
}

// IsZero reports whether every digest in the set is all zero bytes.
func (s DigestSet) IsZero() bool {
	for _, d := range s {
		if !isZero(d.Sum) {
			return false
		}
	}
	return true
}

// Export returns the fixed-width digest written to exported records: the
// sha1 digest, zero padded or truncated to ExportSize.
func (s DigestSet) Export() []byte {
	return fit(s.Get(SHA1), ExportSize)
}

// fill returns a slice of n copies of b.
func fill(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

// fit copies src into a zeroed slice of width n.
func fit(src []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, src)
	return out
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
