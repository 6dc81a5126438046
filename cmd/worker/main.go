package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/schedule-armada/internal/app/cluster"
	appgen "github.com/ahrav/schedule-armada/internal/app/generation"
	"github.com/ahrav/schedule-armada/internal/app/generation/metrics"
	"github.com/ahrav/schedule-armada/internal/config"
	"github.com/ahrav/schedule-armada/internal/domain/events"
	"github.com/ahrav/schedule-armada/internal/infra/cluster/kubernetes"
	"github.com/ahrav/schedule-armada/internal/infra/cluster/standalone"
	"github.com/ahrav/schedule-armada/internal/infra/eventbus/kafka"
	"github.com/ahrav/schedule-armada/internal/infra/storage"
	generationStore "github.com/ahrav/schedule-armada/internal/infra/storage/generation/postgres"
	"github.com/ahrav/schedule-armada/pkg/common"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
	"github.com/ahrav/schedule-armada/pkg/common/otel"
)

const (
	serviceType = "worker"
)

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	cfg, err := config.NewViperLoader(os.Getenv("SCHEDULE_CONFIG_FILE"), serviceType).Load(context.Background())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("WORKER-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	log := logger.NewWithMetadata(os.Stdout, logger.ParseLevel(cfg.Service.LogLevel), svcName, traceIDFn, logEvents, metadata).
		Tee(otelslog.NewHandler(cfg.Service.Name))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, hostname, cfg); err != nil {
		log.Error(ctx, "worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, hostname string, cfg *config.Config) error {
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0))

	tp, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Service.Name,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/liveness":  {},
			"/v1/readiness": {},
		},
		Probability: cfg.Telemetry.SamplingRatio,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer teardown(context.Background())

	tracer := tp.Tracer(cfg.Service.Name)

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(cfg.Service.ProbeAddr, ready)

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("parsing db config: %w", err)
	}
	poolCfg.MinConns = cfg.Database.MinConns
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("opening db: %w", err)
	}
	defer pool.Close()

	if err := storage.RunMigrations(ctx, pool, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info(ctx, "Migrations applied successfully. Starting worker...")

	mp := otel.GetMeterProvider()
	genMetrics, err := metrics.New(mp)
	if err != nil {
		return fmt.Errorf("creating metrics collector: %w", err)
	}

	kafkaClient, err := kafka.NewClient(&kafka.ClientConfig{
		Brokers:     cfg.Kafka.Brokers,
		ClientID:    clientID(hostname),
		ServiceType: serviceType,
	})
	if err != nil {
		return fmt.Errorf("creating kafka client: %w", err)
	}
	defer kafkaClient.Close()

	if err := kafka.EnsureTopics(kafkaClient, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor,
		cfg.Kafka.WorkItemTopic, cfg.Kafka.LifecycleTopic); err != nil {
		return fmt.Errorf("ensuring topics: %w", err)
	}

	eventBus, err := kafka.ConnectEventBus(&kafka.EventBusConfig{
		Brokers:        cfg.Kafka.Brokers,
		WorkItemTopic:  cfg.Kafka.WorkItemTopic,
		LifecycleTopic: cfg.Kafka.LifecycleTopic,
		GroupID:        cfg.Kafka.GroupID,
		ClientID:       clientID(hostname),
		ServiceType:    serviceType,
	}, kafkaClient, false, log, genMetrics, tracer)
	if err != nil {
		return fmt.Errorf("connecting event bus: %w", err)
	}
	defer eventBus.Close()

	publisher := events.NewDomainEventPublisher(eventBus)
	repo := generationStore.NewGenerationStore(pool, tracer)

	processor := appgen.NewProcessor(
		repo,
		publisher,
		common.NewRateLimiter(cfg.Processor.PublishRate, cfg.Processor.PublishBurst),
		cfg.WorkItemProcessor(),
		log,
		genMetrics,
		tracer,
	)
	sweeper := appgen.NewSweeper(repo, publisher, cfg.StallSweeper(), log, genMetrics, tracer)

	coord, err := newCoordinator(cfg, hostname, log, tracer)
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}
	coord.OnLeadershipChange(sweeper.SetLeader)

	if err := events.SubscribeHandler(ctx, eventBus, processor); err != nil {
		return fmt.Errorf("subscribing to work items: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info(ctx, "startup", "status", "probe server started", "host", cfg.Service.ProbeAddr)
		if err := healthServer.Server().ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("probe server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return coord.Start(ctx) })
	g.Go(func() error {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("sweeper: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info(ctx, "shutdown", "status", "shutdown started")

		ready.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := coord.Stop(); err != nil {
			log.Error(shutdownCtx, "Failed to stop coordinator", "error", err)
		}
		return healthServer.Server().Shutdown(shutdownCtx)
	})

	ready.Store(true)
	log.Info(ctx, "Worker initialized")

	return g.Wait()
}

func clientID(hostname string) string { return fmt.Sprintf("WORKER-%s", hostname) }

// newCoordinator picks the leader election backend for the stall sweeper.
func newCoordinator(cfg *config.Config, hostname string, log *logger.Logger, tracer trace.Tracer) (cluster.Coordinator, error) {
	if cfg.Cluster.Mode != "kubernetes" {
		return standalone.NewCoordinator(log), nil
	}

	identity := cfg.Cluster.Identity
	if identity == "" {
		identity = hostname
	}
	return kubernetes.NewCoordinator(&kubernetes.K8sConfig{
		Namespace:    cfg.Cluster.Namespace,
		LeaderLockID: cfg.Cluster.LeaderLockID,
		Identity:     identity,
	}, log, tracer)
}
