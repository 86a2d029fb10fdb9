package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// SignatureHeader carries the HMAC-SHA256 of a webhook body.
const SignatureHeader = "X-IMA-Signature"

var imaWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ima_webhook_deliveries_total",
	Help: "Audit webhook delivery attempts by outcome.",
}, []string{"result"})

// DefaultWebhookBackoff is the wait before each retry of a failed delivery.
var DefaultWebhookBackoff = []time.Duration{1 * time.Second, 5 * time.Second, 25 * time.Second}

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	URL    string
	Secret string
	// All delivers every record instead of only those flagged for integrity
	// evaluation.
	All     bool
	Backoff []time.Duration
	Timeout time.Duration
}

// WebhookSink POSTs records to an external integrity evaluator. Delivery is
// asynchronous and retried; Emit never blocks on the network.
type WebhookSink struct {
	cfg        WebhookConfig
	httpClient *http.Client
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewWebhookSink creates a WebhookSink.
func NewWebhookSink(cfg WebhookConfig, logger *zap.Logger) *WebhookSink {
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultWebhookBackoff
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WebhookSink{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Emit implements Sink.
func (s *WebhookSink) Emit(ctx context.Context, rec Record) error {
	if rec.Info && !s.cfg.All {
		return nil
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal webhook record: %w", err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(context.WithoutCancel(ctx), rec, body)
	}()
	return nil
}

// Wait blocks until every pending delivery has finished.
func (s *WebhookSink) Wait() {
	s.wg.Wait()
}

func (s *WebhookSink) deliver(ctx context.Context, rec Record, body []byte) {
	signature := SignPayload(body, s.cfg.Secret)
	attempts := len(s.cfg.Backoff) + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(s.cfg.Backoff[attempt-2])
		}

		statusCode, err := s.post(ctx, body, signature)
		if err == nil {
			imaWebhookDeliveriesTotal.WithLabelValues("success").Inc()
			return
		}
		imaWebhookDeliveriesTotal.WithLabelValues("failure").Inc()
		s.logger.Warn("audit webhook: delivery failed",
			zap.String("url", s.cfg.URL),
			zap.String("record", rec.ID.String()),
			zap.Int("attempt", attempt),
			zap.Int("status", statusCode),
			zap.Error(err),
		)
	}
	s.logger.Error("audit webhook: giving up", zap.String("record", rec.ID.String()), zap.Int("ns", rec.Namespace))
}

func (s *WebhookSink) post(ctx context.Context, body []byte, signature string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// SignPayload computes the HMAC-SHA256 signature of a webhook body.
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
