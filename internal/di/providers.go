package di

import (
	"context"
	"fmt"
	"time"

	"PriceSim/internal/domain/repository"
	"PriceSim/internal/handler/api"
	internalrepo "PriceSim/internal/repository"
	smetrics "PriceSim/internal/service/metrics"
	"PriceSim/internal/service/ratelimit"
	"PriceSim/internal/usecase"
	"PriceSim/pkg/cache"
	pkgch "PriceSim/pkg/clickhouse"
	"PriceSim/pkg/config"
	xhttp "PriceSim/pkg/http"
	pkgkafka "PriceSim/pkg/kafka"
	applogger "PriceSim/pkg/logger"
	"PriceSim/pkg/metrics"
	"PriceSim/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ProvideLogger builds the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&cfg.Logging.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), func() { _ = l.Close() }, nil
}

// ProvideRegistry returns the registry every collector is registered on and
// /metrics serves.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is off.
// Error-level log entries are forwarded to logging.collect_topic if set.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers...),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.BatchSize, cfg.Kafka.BatchBytes, cfg.Kafka.BatchTimeout),
		pkgkafka.WithWriteTimeout(cfg.Kafka.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithRegisterer(reg),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	if cfg.Logging.CollectTopic != "" {
		l.AttachCollector(&applogger.CollectionConfig{
			FlushInterval:  cfg.Logging.FlushInterval,
			CountThreshold: cfg.Logging.FlushCount,
			Topic:          cfg.Logging.CollectTopic,
			Publisher:      producer,
		})
	}
	cleanup := func() {
		l.DetachCollector()
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close", applogger.Error(err))
		}
	}
	return producer, cleanup, nil
}

// ProvideClickHouseClient creates a ClickHouse client with the observations
// table in place, or nil when ClickHouse is off.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddrs(cfg.ClickHouse.Addr()),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store := internalrepo.NewCHObservationStore(client, cfg.ClickHouse.Table)
	if err := client.InitSchema(ctx, store.Schema()); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideCache returns Redis when enabled and an in-process cache otherwise.
func ProvideCache(cfg *config.Config) (cache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		mc := cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cfg.Simulation.MaxRetainedRuns*10),
			cache.WithMemoryDefaultTTL(cfg.Redis.StatusTTL),
		)
		return mc, func() { _ = mc.Close() }, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideStatusCache keeps the latest status per run.
func ProvideStatusCache(c cache.Service, cfg *config.Config) repository.StatusCache {
	return internalrepo.NewRunStatusCache(c, cfg.Redis.StatusTTL)
}

// ProvideExporters lists the sinks finished runs are written to. The JSON
// file is always written; ClickHouse and Kafka only when configured.
func ProvideExporters(cfg *config.Config, l *applogger.Logger, ch *pkgch.Client, producer *pkgkafka.Producer) []repository.Exporter {
	jsonOpts := []internalrepo.JSONExporterOption{internalrepo.WithJSONLogger(l)}
	if cfg.Mode == "once" {
		jsonOpts = append(jsonOpts,
			internalrepo.WithResultsFile(cfg.Output.File),
			internalrepo.WithDataFile(cfg.Simulation.DataFile),
		)
	} else {
		jsonOpts = append(jsonOpts, internalrepo.WithDataFile("api"))
	}
	exporters := []repository.Exporter{internalrepo.NewJSONFileExporter(cfg.Output.Dir, jsonOpts...)}

	if ch != nil {
		store := internalrepo.NewCHObservationStore(ch, cfg.ClickHouse.Table)
		store.SetLogger(l)
		exporters = append(exporters, store)
	}
	if producer != nil {
		exporters = append(exporters, internalrepo.NewKafkaObservationPublisher(producer, cfg.Kafka.Topic))
	}
	return exporters
}

// ProvideRunManager creates the run registry.
func ProvideRunManager(cfg *config.Config, l *applogger.Logger, m repository.Metrics, status repository.StatusCache, exporters []repository.Exporter) *usecase.RunManager {
	return usecase.NewRunManager(usecase.ManagerConfig{
		MaxRetained:          cfg.Simulation.MaxRetainedRuns,
		SkipUnknownIntervals: cfg.Simulation.SkipUnknownIntervals,
		TerminalInterval:     cfg.Simulation.TerminalInterval,
	}, l, m, status, exporters)
}

// ProvideMarketLoader reads market documents under the configured size limit.
func ProvideMarketLoader(cfg *config.Config) *internalrepo.MarketFileLoader {
	return internalrepo.NewMarketFileLoader(cfg.MaxFileBytes())
}

func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSec)
}

// ProvideHTTPHandler creates the run control routes.
func ProvideHTTPHandler(cfg *config.Config, l *applogger.Logger, runs *usecase.RunManager, limiter *ratelimit.Limiter, reg *prometheus.Registry) xhttp.Handler {
	return api.NewSimulationEchoHandler(l, runs, limiter, api.SimulationDefaults{
		Volatility:   cfg.Simulation.Volatility,
		Horizon:      cfg.Simulation.DurationSeconds,
		StepDuration: cfg.Simulation.StepDuration,
		Intervals:    cfg.Simulation.Intervals,
	}, smetrics.ForRegisterer(reg))
}

// ProvideHTTPServer creates the Echo server.
func ProvideHTTPServer(cfg *config.Config, h xhttp.Handler, l *applogger.Logger, reg *prometheus.Registry) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(h, l,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithBodyLimit(cfg.Server.BodyLimit),
		xhttp.WithCORS(cfg.Server.CORSOrigins...),
		xhttp.WithMetrics(metricsPath, reg, reg),
	)
}

// ProvideApp assembles the application.
func ProvideApp(cfg *config.Config, l *applogger.Logger, runs *usecase.RunManager, loader *internalrepo.MarketFileLoader, srv *xhttp.Server) *server.App {
	return server.New(cfg, l, runs, loader, srv)
}
