// Package measurement is the namespaced measurement-log engine.
//
// Every namespace owns an append-only Log of immutable entries, a
// DigestIndex for duplicate suppression and a running exported-size tally.
// The Engine admits entries one namespace at a time: under the namespace's
// lock it checks the index, links the entry into the log, indexes it,
// extends the shared trust-anchor register and updates the tally. Every
// admission attempt emits exactly one audit record.
//
// Readers walk a log without locking. A node is published only after it is
// fully built, so iteration never sees a half-linked entry.
//
// Measure records one event in a namespace and all of its ancestors. Those
// admissions are ordered across namespaces by the admission gate, so the
// shared register is extended in one reproducible order.
package measurement
