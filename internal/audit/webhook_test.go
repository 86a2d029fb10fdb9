package audit_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/audit"
)

type webhookReceiver struct {
	mu      sync.Mutex
	records []audit.Record
	sigs    []string
	fail    atomic.Int32
}

func (r *webhookReceiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.fail.Load() > 0 {
		r.fail.Add(-1)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	body, _ := io.ReadAll(req.Body)
	var rec audit.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.sigs = append(r.sigs, req.Header.Get(audit.SignatureHeader))
	r.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (r *webhookReceiver) received() ([]audit.Record, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Record(nil), r.records...), append([]string(nil), r.sigs...)
}

func TestWebhookSink_DeliversFlaggedOnly(t *testing.T) {
	recv := &webhookReceiver{}
	srv := httptest.NewServer(recv)
	defer srv.Close()

	s := audit.NewWebhookSink(audit.WebhookConfig{URL: srv.URL, Secret: "s3cret"}, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, s.Emit(ctx, audit.NewRecord(1, "", "op", "hash_added", 10, 0, true)))
	flagged := audit.NewRecord(1, "", "op", "ENOMEM", 10, -12, false)
	require.NoError(t, s.Emit(ctx, flagged))
	s.Wait()

	records, sigs := recv.received()
	require.Len(t, records, 1)
	assert.Equal(t, flagged.ID, records[0].ID)

	body, err := json.Marshal(flagged)
	require.NoError(t, err)
	assert.Equal(t, audit.SignPayload(body, "s3cret"), sigs[0])
}

func TestWebhookSink_RetriesThenSucceeds(t *testing.T) {
	recv := &webhookReceiver{}
	recv.fail.Store(2)
	srv := httptest.NewServer(recv)
	defer srv.Close()

	s := audit.NewWebhookSink(audit.WebhookConfig{
		URL:     srv.URL,
		All:     true,
		Backoff: []time.Duration{time.Millisecond, time.Millisecond},
	}, zap.NewNop())
	require.NoError(t, s.Emit(context.Background(), audit.NewRecord(2, "", "op", "hash_added", 10, 0, true)))
	s.Wait()

	records, _ := recv.received()
	assert.Len(t, records, 1)
}

func TestWebhookSink_GivesUp(t *testing.T) {
	recv := &webhookReceiver{}
	recv.fail.Store(10)
	srv := httptest.NewServer(recv)
	defer srv.Close()

	s := audit.NewWebhookSink(audit.WebhookConfig{
		URL:     srv.URL,
		All:     true,
		Backoff: []time.Duration{time.Millisecond},
	}, zap.NewNop())
	require.NoError(t, s.Emit(context.Background(), audit.NewRecord(2, "", "op", "hash_added", 10, 0, true)))
	s.Wait()

	records, _ := recv.received()
	assert.Empty(t, records)
	assert.EqualValues(t, 8, recv.fail.Load())
}
