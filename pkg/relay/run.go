package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trailcap/trailcap/pkg/audit"
	"github.com/trailcap/trailcap/pkg/config"
	"github.com/trailcap/trailcap/pkg/metrics"
)

const shutdownTimeout = 30 * time.Second

// NewRunCommand builds the relay's main mode: consume change events
// from stdin until EOF or a termination signal, then drain.
func NewRunCommand() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the relay, reading change events from stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, debug)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default ./config.yaml)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug level logging")

	return cmd
}

func run(ctx context.Context, cfg config.Config, debug bool) error {
	logger, err := setupLogger(cfg.Logging, debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, err := buildSink(ctx, cfg.Sink, logger)
	if err != nil {
		return err
	}

	delivery, err := cfg.Delivery.DeliveryConfig()
	if err != nil {
		return err
	}

	svc, err := audit.NewService(sink, audit.ServiceConfig{
		Capture:  cfg.Capture.CaptureConfig(),
		Delivery: delivery,
	}, logger)
	if err != nil {
		_ = sink.Close()
		return err
	}

	logger.Info("trailcap relay started",
		zap.String("sink", sink.Name()),
		zap.Int("batch_size", delivery.BatchSize),
		zap.Duration("flush_interval", delivery.FlushInterval))

	var metricsServer *http.Server
	if cfg.Server.ListenAddress != "" {
		metricsServer = serveMetrics(cfg.Server.ListenAddress, logger)
	}

	ingestErr := NewIngester(os.Stdin, svc, logger).Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown did not drain cleanly", zap.Error(err))
		if ingestErr == nil {
			ingestErr = err
		}
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	if ingestErr != nil && !errors.Is(ingestErr, context.Canceled) {
		return ingestErr
	}
	return nil
}

func setupLogger(cfg config.Logging, debug bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	if debug {
		level = zapcore.DebugLevel
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Encoding == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

// buildSink constructs the configured destination. An unset type
// defaults to the log sink.
func buildSink(ctx context.Context, cfg config.Sink, logger *zap.Logger) (audit.Sink, error) {
	switch cfg.Type {
	case "", "log":
		return audit.NewLogSink(logger), nil

	case "webhook":
		if cfg.Webhook == nil {
			return nil, fmt.Errorf("%w: sink type webhook requires a webhook section", audit.ErrInvalidConfig)
		}
		timeout, err := cfg.Webhook.TimeoutDuration()
		if err != nil {
			return nil, err
		}
		return audit.NewWebhookSink(audit.WebhookSinkConfig{
			URL:     cfg.Webhook.URL,
			Headers: cfg.Webhook.Headers,
			Timeout: timeout,
		}, logger)

	case "kafka":
		if cfg.Kafka == nil {
			return nil, fmt.Errorf("%w: sink type kafka requires a kafka section", audit.ErrInvalidConfig)
		}
		return buildKafkaSink(*cfg.Kafka, logger)

	case "postgres":
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("%w: sink type postgres requires a postgres section", audit.ErrInvalidConfig)
		}
		return audit.NewPostgresSink(ctx, audit.PostgresSinkConfig{
			DSN:          cfg.Postgres.ResolveDSN(),
			Table:        cfg.Postgres.Table,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unknown sink type %q", audit.ErrInvalidConfig, cfg.Type)
	}
}

func buildKafkaSink(cfg config.Kafka, logger *zap.Logger) (audit.Sink, error) {
	writeTimeout, err := cfg.WriteTimeoutDuration()
	if err != nil {
		return nil, err
	}

	sinkCfg := audit.KafkaSinkConfig{
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		WriteTimeout:     writeTimeout,
		RequiredAcks:     cfg.RequiredAcks,
		CompressionCodec: cfg.CompressionCodec,
	}

	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsCfg := &audit.KafkaTLSConfig{
			Enabled:            true,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		}
		if cfg.TLS.CACertFile != "" {
			pem, err := os.ReadFile(cfg.TLS.CACertFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read kafka CA cert: %w", err)
			}
			tlsCfg.CACert = pem
		}
		if cfg.TLS.ClientCertFile != "" && cfg.TLS.ClientKeyFile != "" {
			cert, err := os.ReadFile(cfg.TLS.ClientCertFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read kafka client cert: %w", err)
			}
			key, err := os.ReadFile(cfg.TLS.ClientKeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read kafka client key: %w", err)
			}
			tlsCfg.ClientCert = cert
			tlsCfg.ClientKey = key
		}
		sinkCfg.TLS = tlsCfg
	}

	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		sinkCfg.SASL = &audit.KafkaSASLConfig{
			Mechanism: cfg.SASL.Mechanism,
			Username:  cfg.SASL.Username,
			Password:  cfg.SASL.Password,
		}
	}

	return audit.NewKafkaSink(sinkCfg, logger)
}

func serveMetrics(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("metrics server listening", zap.String("address", addr))
	return server
}
