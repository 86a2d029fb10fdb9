package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresSink archives records in the audit_records table (see
// migrations/001_audit_records.up.sql).
type PostgresSink struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresSink creates a PostgresSink backed by the given connection pool.
func NewPostgresSink(pool *pgxpool.Pool, logger *zap.Logger) *PostgresSink {
	return &PostgresSink{pool: pool, logger: logger}
}

// Emit implements Sink.
func (s *PostgresSink) Emit(ctx context.Context, rec Record) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_records (id, ts, type, namespace_id, subject, op, pcr, cause, result, audit_info)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Time, rec.Type, rec.Namespace, rec.Subject,
		rec.Op, rec.PCR, rec.Cause, rec.Result, rec.Info,
	); err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	s.logger.Debug("audit record archived",
		zap.String("id", rec.ID.String()),
		zap.Int("ns", rec.Namespace),
		zap.String("cause", rec.Cause),
	)
	return nil
}

// List returns up to limit records of a namespace, newest first.
func (s *PostgresSink) List(ctx context.Context, ns, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, type, namespace_id, subject, op, pcr, cause, result, audit_info
		 FROM audit_records WHERE namespace_id = $1 ORDER BY ts DESC LIMIT $2`, ns, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.ID, &r.Time, &r.Type, &r.Namespace, &r.Subject,
			&r.Op, &r.PCR, &r.Cause, &r.Result, &r.Info,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of archived records for a namespace.
func (s *PostgresSink) Count(ctx context.Context, ns int) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM audit_records WHERE namespace_id = $1", ns,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}
