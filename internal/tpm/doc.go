// Package tpm models the trust-anchor register device that a measurement log
// is chained into.
//
// A register ("PCR") can only be extended: new = H(old || digest), once per
// bank. Three pieces live here:
//   - Algorithm / DigestSet: the per-bank digests an entry carries.
//   - Simulator: an in-memory Device with fault injection, for tests and for
//     hosts without a physical chip.
//   - Extender: the single extension step used by the measurement engine,
//     including the poison value written for violations.
package tpm
