// Package health publishes daemon and per-namespace status on the standard
// gRPC health service.
//
// Every namespace is reported as service "ima.ns.<id>": SERVING while
// active, NOT_SERVING while created but not yet active, SERVICE_UNKNOWN once
// torn down. The overall service ("") follows the periodic dependency
// probes run by Checker.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/measurement"
)

// ServiceName returns the health service name of namespace id.
func ServiceName(id int) string {
	return fmt.Sprintf("ima.ns.%d", id)
}

// Reporter mirrors namespace lifecycle events into a health server.
type Reporter struct {
	srv    *health.Server
	logger *zap.Logger
}

// NewReporter creates a Reporter.
func NewReporter(srv *health.Server, logger *zap.Logger) *Reporter {
	return &Reporter{srv: srv, logger: logger}
}

// Observe is a measurement lifecycle observer.
func (r *Reporter) Observe(ev measurement.LifecycleEvent) {
	status := healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	switch ev.State {
	case measurement.StateActive:
		status = healthpb.HealthCheckResponse_SERVING
	case measurement.StateCreated:
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.srv.SetServingStatus(ServiceName(ev.Namespace), status)
	r.logger.Debug("health: namespace status",
		zap.Int("ns", ev.Namespace),
		zap.String("state", ev.State.String()),
		zap.String("status", status.String()),
	)
}

// Config holds dependency probe configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe checks one dependency, such as an audit sink backend.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Checker runs periodic dependency probes and drives the overall status.
type Checker struct {
	srv        *health.Server
	probes     []Probe
	failCounts map[string]int
	mu         sync.Mutex
	cfg        Config
	logger     *zap.Logger
}

// NewChecker creates a Checker. The overall status starts SERVING.
func NewChecker(srv *health.Server, probes []Probe, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &Checker{
		srv:        srv,
		probes:     probes,
		failCounts: make(map[string]int),
		cfg:        cfg,
		logger:     logger,
	}
}

// Start runs the probe loop until quit is signalled.
func (c *Checker) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CheckAll(context.Background())
		case <-quit:
			return
		}
	}
}

// CheckAll runs every probe once. The overall status is NOT_SERVING while
// any probe has failed FailThreshold times in a row.
func (c *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range c.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
			err := p.Check(pctx)
			cancel()

			c.mu.Lock()
			prev := c.failCounts[p.Name]
			if err == nil {
				c.failCounts[p.Name] = 0
			} else {
				c.failCounts[p.Name]++
			}
			count := c.failCounts[p.Name]
			c.mu.Unlock()

			switch {
			case err == nil && prev >= c.cfg.FailThreshold:
				c.logger.Info("health: recovered", zap.String("probe", p.Name))
			case count == c.cfg.FailThreshold:
				c.logger.Warn("health: degraded", zap.String("probe", p.Name), zap.Int("fail_count", count), zap.Error(err))
			}
		}(p)
	}
	wg.Wait()

	c.mu.Lock()
	degraded := false
	for _, n := range c.failCounts {
		if n >= c.cfg.FailThreshold {
			degraded = true
		}
	}
	c.mu.Unlock()

	if degraded {
		c.srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	} else {
		c.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}
}
