package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"
)

// stores agrupa as implementações escolhidas por STORAGE_DRIVER
type stores struct {
	txManager TxManager
	customers CustomerStore
	products  ProductStore
	orders    OrderStore
	outbox    OutboxStore
	close     func()
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	logger = logger.With(zap.String("service.name", cfg.ServiceName))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
	if cfg.OtelEnabled {
		tp, err := initTracer(cfg)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()

		mp, err := initMetrics(cfg)
		if err != nil {
			logger.Fatal("Failed to initialize metrics", zap.Error(err))
		}
		defer func() {
			if err := mp.Shutdown(context.Background()); err != nil {
				logger.Error("Error shutting down meter", zap.Error(err))
			}
		}()
	}

	// Initialize storage
	st, err := initStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer st.close()

	tracer := otel.Tracer(cfg.ServiceName)
	opts := []OrderUseCaseOption{
		WithLogger(logger),
		WithTelemetry(tracer, otel.Meter(cfg.ServiceName)),
		WithCumulativeStockCheck(cfg.CumulativeStockCheck),
	}

	// Order events
	if cfg.KafkaEnabled() {
		publisher := NewKafkaPublisher(cfg.KafkaBrokers)
		defer publisher.Close()

		relay := NewOutboxRelay(st.outbox, publisher, cfg.OutboxPollInterval, cfg.OutboxBatchSize, logger)
		go relay.Run(ctx)

		opts = append(opts, WithOutbox(st.outbox, cfg.KafkaOrdersTopic))
	}

	useCase := NewOrderUseCase(st.txManager, st.customers, st.products, st.orders, opts...)
	handler := NewOrderHandler(useCase, tracer, logger, cfg.RequestTimeout)
	router := NewRouter(handler, NewServerMetrics(cfg.ServiceName), cfg.ServiceName)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		logger.Info("🚀 Orders Service listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down server", zap.Error(err))
	}
	logger.Info("👋 Orders Service stopped")
}

func initStores(ctx context.Context, cfg *Config, logger *zap.Logger) (*stores, error) {
	if cfg.StorageDriver == StorageDriverMemory {
		repo := NewMemoryRepository()
		if cfg.MemorySeedFile != "" {
			if err := seedMemoryRepository(repo, cfg.MemorySeedFile); err != nil {
				return nil, err
			}
		}
		logger.Info("✅ Using in-memory storage")
		return &stores{
			txManager: repo,
			customers: repo.Customers(),
			products:  repo.Products(),
			orders:    repo.Orders(),
			outbox:    repo.Outbox(),
			close:     func() {},
		}, nil
	}

	pool, err := initDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	repo := NewPostgresRepository(pool)
	if cfg.DatabaseAutoMigrate {
		if err := repo.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("✅ Database schema applied")
	}

	return &stores{
		txManager: repo,
		customers: repo.Customers(),
		products:  repo.Products(),
		orders:    repo.Orders(),
		outbox:    repo.Outbox(),
		close:     pool.Close,
	}, nil
}

// memorySeed é o formato do arquivo MEMORY_SEED_FILE
type memorySeed struct {
	Customers []Customer `json:"customers"`
	Products  []Product  `json:"products"`
}

func seedMemoryRepository(repo *MemoryRepository, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed memorySeed
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}
	repo.SeedCustomers(seed.Customers...)
	repo.SeedProducts(seed.Products...)
	return nil
}

func initDB(ctx context.Context, cfg *Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	config.MaxConns = 25
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			logger.Info("✅ Connected to orders database with connection pool")
			return pool, nil
		}
		logger.Info("⏳ Waiting for database...", zap.Int("attempt", i+1), zap.Int("max_attempts", 30))
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}

func newResource(cfg *Config) (*resource.Resource, error) {
	return resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
}

func initTracer(cfg *Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(cfg.OtelEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	otel.SetTracerProvider(tp)

	return tp, nil
}

func initMetrics(cfg *Config) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetrichttp.New(context.Background(),
		otlpmetrichttp.WithEndpoint(cfg.OtelEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	return mp, nil
}
