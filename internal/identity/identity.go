// Package identity authenticates operators of the measurement daemon.
//
// It provides:
//   - LoadOrCreateKey: loads or generates the RSA signing key
//   - TokenIssuer: issues and verifies RS256 admin tokens, optionally limited
//     to a set of namespaces
//   - RequireToken: Gin middleware enforcing a Bearer admin token
//   - RequireScope: Gin middleware enforcing one scope and the namespace limit
package identity
