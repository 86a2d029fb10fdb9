package audit

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TypeIntegrityPCR is the record type of a measurement-log admission.
const TypeIntegrityPCR = "INTEGRITY_PCR"

// MaxCauseLen bounds the cause string.
const MaxCauseLen = 32

// Record is one admission attempt.
type Record struct {
	ID        uuid.UUID `json:"id"`
	Time      time.Time `json:"time"`
	Type      string    `json:"type"`
	Namespace int       `json:"namespace"`
	Subject   string    `json:"subject"`
	Op        string    `json:"op"`
	PCR       int       `json:"pcr"`
	Cause     string    `json:"cause"`
	Result    int       `json:"result"`
	Info      bool      `json:"audit_info"` // false flags the record for integrity evaluation
}

// NewRecord fills in the id, timestamp and type of a record and clamps the
// cause to MaxCauseLen.
func NewRecord(ns int, subject, op, cause string, pcr, result int, info bool) Record {
	if len(cause) > MaxCauseLen {
		cause = cause[:MaxCauseLen]
	}
	return Record{
		ID:        uuid.New(),
		Time:      time.Now().UTC(),
		Type:      TypeIntegrityPCR,
		Namespace: ns,
		Subject:   subject,
		Op:        op,
		PCR:       pcr,
		Cause:     cause,
		Result:    result,
		Info:      info,
	}
}

// Sink receives audit records.
type Sink interface {
	Emit(ctx context.Context, rec Record) error
}

// Multi delivers a record to every sink and joins their errors.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps records in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
	limit   int
}

// NewMemorySink creates an empty, unbounded MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// NewBoundedMemorySink creates a MemorySink that keeps only the newest limit
// records.
func NewBoundedMemorySink(limit int) *MemorySink { return &MemorySink{limit: limit} }

// Emit implements Sink.
func (m *MemorySink) Emit(_ context.Context, rec Record) error {
	m.mu.Lock()
	m.records = append(m.records, rec)
	if m.limit > 0 && len(m.records) > m.limit {
		m.records = slices.Clone(m.records[len(m.records)-m.limit:])
	}
	m.mu.Unlock()
	return nil
}

// Recent returns up to n of the newest records of namespace ns, oldest first.
func (m *MemorySink) Recent(_ context.Context, ns int, n int64) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for i := len(m.records) - 1; i >= 0 && int64(len(out)) < n; i-- {
		if m.records[i].Namespace == ns {
			out = append(out, m.records[i])
		}
	}
	slices.Reverse(out)
	return out, nil
}

// Records returns a copy of everything emitted so far.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Causes returns the cause of every record, in emission order.
func (m *MemorySink) Causes() []string {
	recs := m.Records()
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Cause
	}
	return out
}
