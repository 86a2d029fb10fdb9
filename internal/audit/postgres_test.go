//go:build integration

package audit_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/audit"
	"github.com/LorenzoFerro15/linux-ima-namespaces/migrations"
)

// Run with: go test -tags integration ./internal/audit/...
func TestPostgresSink_Integration(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	defer pool.Close()

	ms, err := migrations.Up()
	require.NoError(t, err)
	for _, m := range ms {
		_, err := pool.Exec(ctx, m.SQL)
		require.NoError(t, err, m.Name)
	}

	const ns = 987654
	_, err = pool.Exec(ctx, "DELETE FROM audit_records WHERE namespace_id = $1", ns)
	require.NoError(t, err)

	s := audit.NewPostgresSink(pool, zap.NewNop())
	require.NoError(t, s.Emit(ctx, audit.NewRecord(ns, "", "add_measure", "hash_added", 10, 0, true)))
	require.NoError(t, s.Emit(ctx, audit.NewRecord(ns, "", "add_measure", "TPM_error(257)", 10, 0, false)))

	n, err := s.Count(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, err := s.List(ctx, ns, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "TPM_error(257)", recs[0].Cause)
}
