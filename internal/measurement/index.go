package measurement

import (
	"bytes"
	"sync/atomic"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/tpm"
)

// DefaultHashBuckets is the bucket count of a namespace digest index.
const DefaultHashBuckets = 1024

// DigestIndex finds log entries by (digest, pcr). Writers are serialised by
// the owning namespace; Lookup is lock-free.
type DigestIndex struct {
	alg     tpm.Algorithm
	buckets []atomic.Pointer[node]
	len     atomic.Uint64
}

// NewDigestIndex creates an index keyed by alg digests.
func NewDigestIndex(buckets int, alg tpm.Algorithm) *DigestIndex {
	if buckets <= 0 {
		buckets = DefaultHashBuckets
	}
	return &DigestIndex{alg: alg, buckets: make([]atomic.Pointer[node], buckets)}
}

// Algorithm returns the digest algorithm the index is keyed on.
func (x *DigestIndex) Algorithm() tpm.Algorithm { return x.alg }

// Len returns the number of indexed entries.
func (x *DigestIndex) Len() uint64 { return x.len.Load() }

// key picks a bucket from the two leading digest bytes.
func (x *DigestIndex) key(digest []byte) int {
	var k int
	switch {
	case len(digest) >= 2:
		k = int(digest[0]) | int(digest[1])<<8
	case len(digest) == 1:
		k = int(digest[0])
	}
	return k % len(x.buckets)
}

// Lookup returns the entry stored for (digest, pcr), or nil.
func (x *DigestIndex) Lookup(digest []byte, pcr int) *Entry {
	if n := x.lookup(digest, pcr); n != nil {
		return n.entry
	}
	return nil
}

func (x *DigestIndex) lookup(digest []byte, pcr int) *node {
	for n := x.buckets[x.key(digest)].Load(); n != nil; n = n.hnext {
		if n.entry.PCR == pcr && bytes.Equal(x.digestOf(n.entry), digest) {
			return n
		}
	}
	return nil
}

// insert links n at the head of its bucket. Caller holds the namespace lock.
func (x *DigestIndex) insert(n *node) {
	b := &x.buckets[x.key(x.digestOf(n.entry))]
	n.hnext = b.Load()
	b.Store(n)
	x.len.Add(1)
}

// digestOf returns the digest e is indexed under. Entries built without the
// index algorithm fall back to their exported digest.
func (x *DigestIndex) digestOf(e *Entry) []byte {
	if d := e.Digest(x.alg); d != nil {
		return d
	}
	return e.ExportDigest()
}
