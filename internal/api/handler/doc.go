// Package handler exposes the measurement engine over HTTP with Gin.
//
// The read routes mirror the per-namespace files a kernel exposes in
// securityfs: binary and ASCII measurement lists, the entry and violation
// counters and the warm-restart buffer size. Mutating routes create and
// retire namespaces and submit measurements; they are mounted behind the
// admin middleware passed to Register.
package handler
