package audit_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/audit"
)

func setupRedisSink(t *testing.T, maxLen int64) (*audit.RedisSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := audit.NewRedisSink(&redis.Options{Addr: mr.Addr()}, maxLen)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisSink_EmitAndRecent(t *testing.T) {
	s, mr := setupRedisSink(t, 0)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	require.NoError(t, s.Emit(ctx, audit.NewRecord(4, "", "add_measure", "hash_added", 10, 0, true)))
	require.NoError(t, s.Emit(ctx, audit.NewRecord(4, "", "add_measure", "hash_exists", 10, -17, true)))
	require.NoError(t, s.Emit(ctx, audit.NewRecord(5, "", "add_measure", "hash_added", 10, 0, true)))

	assert.True(t, mr.Exists(audit.RecordsKey(4)))
	recs, err := s.Recent(ctx, 4, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "hash_added", recs[0].Cause)
	assert.Equal(t, "hash_exists", recs[1].Cause)
	assert.Equal(t, -17, recs[1].Result)
}

func TestRedisSink_TrimsToMaxLen(t *testing.T) {
	s, _ := setupRedisSink(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Emit(ctx, audit.NewRecord(1, "", "add", "hash_added", i, 0, true)))
	}
	recs, err := s.Recent(ctx, 1, 100)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 2, recs[0].PCR)
	assert.Equal(t, 4, recs[2].PCR)
}

func TestRedisSink_Publishes(t *testing.T) {
	s, mr := setupRedisSink(t, 0)
	ctx := context.Background()

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = sub.Close() })
	ps := sub.Subscribe(ctx, audit.EventsChannel)
	t.Cleanup(func() { _ = ps.Close() })
	_, err := ps.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Emit(ctx, audit.NewRecord(7, "", "add_measure", "ENOMEM", 10, -12, false)))

	msg, err := ps.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"cause":"ENOMEM"`)
	assert.Contains(t, msg.Payload, `"namespace":7`)
}
