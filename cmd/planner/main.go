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
	"sort"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/schedule-armada/internal/api"
	"github.com/ahrav/schedule-armada/internal/api/mux"
	"github.com/ahrav/schedule-armada/internal/api/routes"
	appgen "github.com/ahrav/schedule-armada/internal/app/generation"
	"github.com/ahrav/schedule-armada/internal/app/generation/metrics"
	"github.com/ahrav/schedule-armada/internal/app/guard"
	"github.com/ahrav/schedule-armada/internal/config"
	"github.com/ahrav/schedule-armada/internal/domain/events"
	"github.com/ahrav/schedule-armada/internal/domain/schedule"
	"github.com/ahrav/schedule-armada/internal/infra/eventbus/kafka"
	"github.com/ahrav/schedule-armada/internal/infra/storage"
	"github.com/ahrav/schedule-armada/internal/infra/storage/catalog/memory"
	catalogStore "github.com/ahrav/schedule-armada/internal/infra/storage/catalog/postgres"
	generationStore "github.com/ahrav/schedule-armada/internal/infra/storage/generation/postgres"
	kvStore "github.com/ahrav/schedule-armada/internal/infra/storage/kv/postgres"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
	"github.com/ahrav/schedule-armada/pkg/common/otel"
)

var build = "develop"

const (
	serviceType = "planner"
)

func main() {
	// Set the correct number of threads for the service
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

			// Add any error-specific attributes.
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

	svcName := fmt.Sprintf("PLANNER-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	log := logger.NewWithMetadata(os.Stdout, logger.ParseLevel(cfg.Service.LogLevel), svcName, traceIDFn, logEvents, metadata).
		Tee(otelslog.NewHandler(cfg.Service.Name))

	ctx := context.Background()

	if err := run(ctx, log, hostname, cfg); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, hostname string, cfg *config.Config) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing tracing support")

	traceProvider, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Service.Name,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/readiness": {},
			"/v1/liveness":  {},
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
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(ctx)

	tracer := traceProvider.Tracer(cfg.Service.Name)

	// -------------------------------------------------------------------------
	// Database Support
	log.Info(ctx, "startup", "status", "initializing database support")

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("parsing db config: %w", err)
	}
	poolCfg.MinConns = cfg.Database.MinConns
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("creating db pool: %w", err)
	}
	defer pool.Close()

	if err := storage.RunMigrations(ctx, pool, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	catalog := catalogStore.NewCatalogStore(pool, tracer)
	if cfg.Catalog.FixturePath != "" {
		if err := seedCatalog(ctx, log, catalog, cfg.Catalog.FixturePath); err != nil {
			return fmt.Errorf("seeding catalog: %w", err)
		}
	}

	// -------------------------------------------------------------------------
	// Initialize Event Bus
	log.Info(ctx, "startup", "status", "initializing event bus")

	kafkaClient, err := kafka.NewClient(&kafka.ClientConfig{
		Brokers:     cfg.Kafka.Brokers,
		ClientID:    fmt.Sprintf("%s-%s", serviceType, hostname),
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

	mp := otel.GetMeterProvider()
	genMetrics, err := metrics.New(mp)
	if err != nil {
		return fmt.Errorf("creating generation metrics: %w", err)
	}
	apiMetrics, err := api.NewAPIMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating api metrics: %w", err)
	}

	// The planner only publishes seeds and lifecycle events.
	bus, err := kafka.ConnectEventBus(&kafka.EventBusConfig{
		Brokers:        cfg.Kafka.Brokers,
		WorkItemTopic:  cfg.Kafka.WorkItemTopic,
		LifecycleTopic: cfg.Kafka.LifecycleTopic,
		ClientID:       fmt.Sprintf("%s-%s", serviceType, hostname),
		ServiceType:    serviceType,
	}, kafkaClient, true, log, genMetrics, tracer)
	if err != nil {
		return fmt.Errorf("connecting event bus: %w", err)
	}
	defer bus.Close()

	publisher := events.NewDomainEventPublisher(bus)

	// -------------------------------------------------------------------------
	// Start API Service
	log.Info(ctx, "startup", "status", "initializing API support")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	usageGuard := guard.New(kvStore.NewKVStore(pool, tracer), cfg.UsageGuard(), log, tracer)
	svc := appgen.NewService(
		catalog,
		generationStore.NewGenerationStore(pool, tracer),
		publisher,
		usageGuard,
		cfg.GenerationService(),
		log,
		genMetrics,
		tracer,
	)

	webAPI := mux.WebAPI(mux.Config{
		Build:       build,
		Log:         log,
		Tracer:      tracer,
		Metrics:     apiMetrics,
		Generations: svc,
		Guard:       usageGuard,
		Ready:       pool.Ping,
	}, routes.Routes())

	apiServer := http.Server{
		Addr:         cfg.API.Addr,
		Handler:      otelhttp.NewHandler(webAPI, serviceType),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(log, logger.LevelError),
	}

	serverErrors := make(chan error, 1)

	go func() {
		log.Info(ctx, "startup", "status", "api router started", "host", apiServer.Addr)
		serverErrors <- apiServer.ListenAndServe()
	}()

	// -------------------------------------------------------------------------
	// Shutdown

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info(ctx, "shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info(ctx, "shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, cfg.API.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}

// catalogImporter is the part of the catalog store used for seeding.
type catalogImporter interface {
	Import(ctx context.Context, term string, sections []schedule.Section) error
}

// seedCatalog upserts every section of the YAML fixture at path.
func seedCatalog(ctx context.Context, log *logger.Logger, store catalogImporter, path string) error {
	fixture, err := memory.LoadFile(path)
	if err != nil {
		return err
	}

	terms := fixture.Terms()
	names := make([]string, 0, len(terms))
	for term := range terms {
		names = append(names, term)
	}
	sort.Strings(names)

	for _, term := range names {
		if err := store.Import(ctx, term, terms[term]); err != nil {
			return fmt.Errorf("importing term %q: %w", term, err)
		}
		log.Info(ctx, "startup", "status", "catalog term imported", "term", term, "sections", len(terms[term]))
	}
	return nil
}
