package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"TaPull/internal/domain/repository"
	"TaPull/internal/handler/api"
	"TaPull/internal/orchestrator"
	internalrepo "TaPull/internal/repository"
	"TaPull/internal/service/taapi"
	"TaPull/internal/usecase"
	"TaPull/pkg/cache"
	pkgch "TaPull/pkg/clickhouse"
	"TaPull/pkg/config"
	xhttp "TaPull/pkg/http"
	pkgkafka "TaPull/pkg/kafka"
	applogger "TaPull/pkg/logger"
	"TaPull/pkg/metrics"
	"TaPull/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: "stdout",
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideIndicatorSource creates the indicator provider client.
func ProvideIndicatorSource(cfg *config.Config, log *applogger.Logger) (repository.IndicatorSource, error) {
	client, err := taapi.NewClient(cfg.Taapi.Secret,
		taapi.WithBaseURL(cfg.Taapi.BaseURL),
		taapi.WithRequestTimeout(cfg.Taapi.RequestTimeout),
		taapi.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("taapi client: %w", err)
	}
	return client, nil
}

// Backends bundles the downstream sinks. Only the infrastructure for the
// selected backend is dialed; the other side is a no-op.
type Backends struct {
	Publisher repository.Publisher
	Storage   repository.Storage
	CH        *pkgch.Client
}

// ProvideBackends creates the configured downstream backend.
func ProvideBackends(cfg *config.Config) (*Backends, error) {
	switch cfg.Backend.Type {
	case "kafka":
		producer, err := pkgkafka.NewProducer(
			pkgkafka.WithBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithCompression(cfg.Kafka.Compression),
			pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
			pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
			pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
			pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
			pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
			pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
			pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
			pkgkafka.WithHashByKey(true),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		return &Backends{
			Publisher: internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic),
			Storage:   internalrepo.NoopBackend{},
		}, nil

	case "clickhouse":
		client, err := pkgch.NewClient(
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}

		store := internalrepo.NewClickHouseStorage(client.DB(), cfg.ClickHouse.Database+".indicator_snapshots")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.InitSchema(ctx, []string{"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database}); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("clickhouse database: %w", err)
		}
		if err := store.Init(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}

		return &Backends{
			Publisher: internalrepo.NoopBackend{},
			Storage:   store,
			CH:        client,
		}, nil

	default:
		return &Backends{
			Publisher: internalrepo.NoopBackend{},
			Storage:   internalrepo.NoopBackend{},
		}, nil
	}
}

// ProvideL2Cache creates the optional Redis snapshot cache. An unreachable
// Redis degrades to L1-only with a warning rather than failing startup.
func ProvideL2Cache(cfg *config.Config, log *applogger.Logger) cache.Service {
	if !cfg.Cache.Redis.Enabled {
		return nil
	}
	host, portStr, err := net.SplitHostPort(cfg.Cache.Redis.Addr)
	if err != nil {
		log.Warn("invalid redis addr, snapshot L2 disabled", applogger.Error(err))
		return nil
	}
	port, _ := strconv.Atoi(portStr)

	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(host),
		cache.WithRedisPort(port),
		cache.WithRedisPassword(cfg.Cache.Redis.Password),
		cache.WithRedisDB(cfg.Cache.Redis.DB),
	)
	if err != nil {
		log.Warn("redis unavailable, snapshot L2 disabled", applogger.Error(err))
		return nil
	}
	return rc
}

// ProvideCapabilityManager creates the symbol capability manager.
func ProvideCapabilityManager(cfg *config.Config, source repository.IndicatorSource, log *applogger.Logger) *orchestrator.CapabilityManager {
	return orchestrator.NewCapabilityManager(source, cfg.Taapi.CapabilityTTL, log, nil)
}

// ProvideScheduler builds the orchestrator instance.
func ProvideScheduler(
	cfg *config.Config,
	source repository.IndicatorSource,
	caps *orchestrator.CapabilityManager,
	l2 cache.Service,
	m repository.Metrics,
	log *applogger.Logger,
) *orchestrator.Scheduler {
	snapCache := orchestrator.NewSnapshotCache(cfg.Taapi.CacheTTL, l2, nil)
	breaker := orchestrator.NewCircuitBreaker(cfg.Taapi.BreakerMaxErrors, cfg.Taapi.BreakerResetAfter, nil)
	limiter := orchestrator.NewRateLimiter(cfg.Taapi.MinDelay, cfg.Taapi.RateLimitCooldown, nil)
	fallback := orchestrator.NewFallbackProvider(nil)
	batcher := orchestrator.NewBatchAggregator(cfg.Taapi.BatchSize, cfg.Taapi.BatchDelay)

	return orchestrator.NewScheduler(source, snapCache, breaker, limiter, caps, fallback, batcher, m, log,
		orchestrator.SchedulerConfig{
			RequestTimeout: cfg.Taapi.RequestTimeout,
			Exchange:       cfg.Taapi.Exchange,
		})
}

// ProvideSnapshotProcessor creates the backend routing use case.
func ProvideSnapshotProcessor(b *Backends, m repository.Metrics, cfg *config.Config) *usecase.SnapshotProcessor {
	return usecase.NewSnapshotProcessor(b.Publisher, b.Storage, m, cfg.Backend.Type)
}

// ProvideStreamHandler creates the WebSocket snapshot hub.
func ProvideStreamHandler(log *applogger.Logger) *api.StreamHandler {
	return api.NewStreamHandler(log)
}

// ProvideSnapshotFeed creates the feed between orchestrator and consumers.
func ProvideSnapshotFeed(
	proc *usecase.SnapshotProcessor,
	m repository.Metrics,
	log *applogger.Logger,
	stream *api.StreamHandler,
	cfg *config.Config,
) *usecase.SnapshotFeed {
	return usecase.NewSnapshotFeed(proc, m, log,
		usecase.WithFeedBatch(cfg.Backend.BatchSize, cfg.Backend.BatchTimeout),
		usecase.WithBroadcast(stream.Broadcast),
	)
}

// ProvidePrefetcher creates the cache warm loop.
func ProvidePrefetcher(sched *orchestrator.Scheduler, cfg *config.Config, log *applogger.Logger) *usecase.Prefetcher {
	return usecase.NewPrefetcher(sched, cfg.Taapi.Symbols, cfg.Taapi.Intervals, cfg.Taapi.Exchange, cfg.Taapi.PrefetchInterval, log)
}

// ProvideHTTPHandler composes the HTTP surface.
func ProvideHTTPHandler(log *applogger.Logger, sched *orchestrator.Scheduler, stream *api.StreamHandler) xhttp.Handler {
	return xhttp.Handlers(
		api.NewIndicatorsEchoHandler(log, sched),
		stream,
	)
}

// ProvideApp assembles the application and connects the resolution feed.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	sched *orchestrator.Scheduler,
	caps *orchestrator.CapabilityManager,
	feed *usecase.SnapshotFeed,
	prefetcher *usecase.Prefetcher,
	proc *usecase.SnapshotProcessor,
	handler xhttp.Handler,
	b *Backends,
) *server.App {
	sched.SetOnResolve(feed.Offer)
	return server.New(cfg, log, sched, caps, feed, prefetcher, proc, handler, b.CH)
}
