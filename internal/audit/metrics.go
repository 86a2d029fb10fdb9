package audit

import (
	"context"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	imaAdmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ima_admissions_total",
		Help: "Measurement-log admission attempts by cause and result.",
	}, []string{"cause", "result"})

	imaIntegrityFlagsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ima_integrity_flags_total",
		Help: "Admissions flagged for integrity evaluation, by namespace.",
	}, []string{"namespace"})
)

// MetricsSink counts records in Prometheus.
type MetricsSink struct{}

// NewMetricsSink creates a MetricsSink.
func NewMetricsSink() *MetricsSink { return &MetricsSink{} }

// Emit implements Sink.
func (MetricsSink) Emit(_ context.Context, rec Record) error {
	imaAdmissionsTotal.WithLabelValues(causeLabel(rec.Cause), strconv.Itoa(rec.Result)).Inc()
	if !rec.Info {
		imaIntegrityFlagsTotal.WithLabelValues(strconv.Itoa(rec.Namespace)).Inc()
	}
	return nil
}

// causeLabel folds parameterised causes ("TPM_error(256)") into one label.
func causeLabel(cause string) string {
	if i := strings.IndexByte(cause, '('); i > 0 {
		return cause[:i]
	}
	return cause
}
