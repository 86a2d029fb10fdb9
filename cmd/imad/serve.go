package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/api/handler"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/audit"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/health"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/measurement"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/tpm"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the measurement daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		found, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(viper.GetBool("imad.debug"))
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer logger.Sync() //nolint:errcheck

		if !found {
			logger.Warn("no config file found, using defaults and env vars")
		}
		if err := serve(logger); err != nil {
			logger.Error("imad exited with error", zap.Error(err))
			return err
		}
		return nil
	},
}

func serve(logger *zap.Logger) error {
	v := viper.GetViper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Engine ───────────────────────────────────────────────────────────────
	cfg, err := engineConfig(v)
	if err != nil {
		return err
	}
	dev, err := newDevice(v)
	if err != nil {
		return fmt.Errorf("trust anchor: %w", err)
	}
	if dev == nil {
		logger.Warn("no trust-anchor device, measurements are logged but not extended")
	} else {
		logger.Info("trust-anchor simulator ready", zap.Any("banks", dev.Banks()))
	}

	// ── Audit sinks ──────────────────────────────────────────────────────────
	mem := audit.NewBoundedMemorySink(v.GetInt("audit.redis_max_len"))
	sinks := audit.Multi{audit.NewZapSink(logger), audit.NewMetricsSink(), mem}
	var reader handler.AuditReader = mem
	var probes []health.Probe

	if url := v.GetString("audit.redis_url"); url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return fmt.Errorf("parse audit.redis_url: %w", err)
		}
		rs := audit.NewRedisSink(opts, v.GetInt64("audit.redis_max_len"))
		defer rs.Close() //nolint:errcheck
		if err := rs.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, audit records will be retried per admission", zap.Error(err))
		} else {
			logger.Info("connected to redis")
		}
		sinks = append(sinks, rs)
		reader = rs
		probes = append(probes, health.Probe{Name: "redis", Check: rs.Ping})
	}

	if url := v.GetString("audit.database_url"); url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		sinks = append(sinks, audit.NewPostgresSink(pool, logger))
		probes = append(probes, health.Probe{Name: "postgres", Check: pool.Ping})
	}

	var webhook *audit.WebhookSink
	if url := v.GetString("audit.webhook_url"); url != "" {
		webhook = audit.NewWebhookSink(audit.WebhookConfig{
			URL:    url,
			Secret: v.GetString("audit.webhook_secret"),
			All:    v.GetBool("audit.webhook_all"),
		}, logger)
		sinks = append(sinks, webhook)
		logger.Info("audit webhook enabled", zap.String("url", url))
	}

	eng := measurement.NewEngine(cfg, tpm.NewExtender(dev, logger), sinks, logger)

	carryOver := v.GetString("log.carry_over_file")
	if carryOver != "" {
		if err := restoreCarryOver(eng, carryOver, logger); err != nil {
			return err
		}
	}

	tokens, err := newTokenIssuer()
	if err != nil {
		return err
	}

	// ── gRPC health ──────────────────────────────────────────────────────────
	grpcPort := v.GetInt("imad.grpc_port")
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		return fmt.Errorf("gRPC listen on :%d: %w", grpcPort, err)
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	healthSrv := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	reflection.Register(grpcServer)

	eng.OnLifecycle(health.NewReporter(healthSrv, logger).Observe)
	eng.OnLifecycle(handler.NamespaceGauge(eng))
	checker := health.NewChecker(healthSrv, probes, health.Config{
		CheckInterval: v.GetDuration("health.check_interval"),
	}, logger)

	// ── HTTP ─────────────────────────────────────────────────────────────────
	httpPort := v.GetInt("imad.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           newRouter(ctx, v, eng, dev, reader, tokens, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	stopChecks := make(chan os.Signal)
	go checker.Start(stopChecks)

	go func() {
		logger.Info("imad gRPC health listening", zap.Int("port", grpcPort))
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Fatal("gRPC serve error", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("imad HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down imad...")
	close(stopChecks)
	healthSrv.Shutdown()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()
	if webhook != nil {
		webhook.Wait()
	}

	if carryOver != "" {
		if err := saveCarryOver(eng, carryOver, logger); err != nil {
			logger.Error("carry-over snapshot failed", zap.Error(err))
		}
	}

	logger.Info("imad stopped")
	return nil
}

func engineConfig(v *viper.Viper) (measurement.Config, error) {
	alg, err := tpm.ParseAlgorithm(v.GetString("log.index_algorithm"))
	if err != nil {
		return measurement.Config{}, fmt.Errorf("log.index_algorithm: %w", err)
	}
	return measurement.Config{
		HashBuckets:    v.GetInt("log.hash_buckets"),
		DisableIndex:   v.GetBool("log.disable_htable"),
		MaxEntries:     v.GetUint64("log.max_entries"),
		IndexAlgorithm: alg,
		GateCapacity:   v.GetInt("gate.capacity"),
		GateTimeout:    v.GetDuration("gate.timeout"),
	}, nil
}

// newDevice returns the trust-anchor simulator, or nil when tpm.enabled is
// off.
func newDevice(v *viper.Viper) (tpm.Device, error) {
	if !v.GetBool("tpm.enabled") {
		return nil, nil
	}
	var banks []tpm.Algorithm
	for _, s := range v.GetStringSlice("tpm.banks") {
		a, err := tpm.ParseAlgorithm(s)
		if err != nil {
			return nil, fmt.Errorf("tpm.banks: %w", err)
		}
		banks = append(banks, a)
	}
	sim, err := tpm.NewSimulator(banks...)
	if err != nil {
		return nil, err
	}
	return sim, nil
}

// loggingInterceptor returns a gRPC unary server interceptor that logs each call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := "OK"
		if err != nil {
			code = status.Code(err).String()
		}
		logger.Debug("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", code),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
