package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

func main() {
	tp, err := initTracer()
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	mp, err := initMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down meter: %v", err)
		}
	}()

	dbPool, err := initDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbPool.Close()

	lockTimeout := time.Duration(getEnvInt("CHECKOUT_LOCK_TIMEOUT_MS", 3000)) * time.Millisecond
	notifyTimeout := time.Duration(getEnvInt("INSIGHT_NOTIFY_TIMEOUT_MS", 5000)) * time.Millisecond

	catalog := NewCatalogRepository(dbPool, lockTimeout)
	sales := NewSaleRepository(dbPool)

	var notifier InsightNotifier = NopNotifier{}
	if kafkaNotifier := NewKafkaNotifier(getEnv("KAFKA_BROKERS", ""), getEnv("SALE_EVENTS_TOPIC", "sale-events")); kafkaNotifier != nil {
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
		log.Printf("📣 Insight events via Kafka topic %q", getEnv("SALE_EVENTS_TOPIC", "sale-events"))
	} else if insightsURL := getEnv("INSIGHTS_URL", ""); insightsURL != "" {
		notifier = NewHTTPNotifier(insightsURL)
		log.Printf("📣 Insight events via HTTP to %s", insightsURL)
	} else {
		log.Println("📣 No insight collaborator configured, events are dropped")
	}

	payments := NewPaymentClient(
		getEnv("PAYMENTS_BASE_URL", "https://api.payments.example.com"),
		getEnv("PAYMENTS_ACCESS_TOKEN", ""),
		getEnv("PAYMENTS_WEBHOOK_URL", ""),
	)
	if payments == nil {
		log.Println("💳 Payment provider not configured, payment links disabled")
	}

	useCase := NewCheckoutUseCase(catalog, sales, notifier, notifyTimeout)
	tracer := tp.Tracer("pos-service")
	handler := NewPOSHandler(useCase, catalog, sales, paymentProviderOrNil(payments), tracer)

	r := gin.Default()
	r.Use(otelgin.Middleware(getEnv("SERVICE_NAME", "pos-service")))

	r.GET("/health", handler.HealthCheck)

	// The provider authenticates the webhook itself; no tenant scope here.
	r.POST("/api/payments/webhook", handler.PaymentWebhook)

	api := r.Group("/api", TenantMiddleware(catalog))
	{
		api.POST("/checkout", handler.Checkout)
		api.GET("/scan/:code", handler.ScanProduct)

		api.GET("/sales", handler.ListSales)
		api.GET("/sales/:id", handler.GetSale)
		api.POST("/payments/generate/:id", handler.GeneratePayment)

		api.POST("/products", handler.CreateProduct)
		api.GET("/products", handler.ListProducts)
		api.GET("/products/:id", handler.GetProduct)
		api.PUT("/products/:id", handler.UpdateProduct)
		api.DELETE("/products/:id", handler.DeactivateProduct)
	}

	port := getEnv("PORT", "8080")
	log.Printf("🚀 POS Service listening on port %s", port)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// paymentProviderOrNil keeps the nil check honest: a nil *RestyPaymentClient
// inside a non-nil interface would dodge the handler's guard.
func paymentProviderOrNil(c *RestyPaymentClient) PaymentProvider {
	if c == nil {
		return nil
	}
	return c
}

func initDB() (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		getEnv("DATABASE_USER", "root"),
		getEnv("DATABASE_PASSWORD", "pass"),
		getEnv("DATABASE_HOST", "localhost"),
		getEnv("DATABASE_PORT", "5432"),
		getEnv("DATABASE_NAME", "pos_db"),
	)

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	// Numeric columns scan straight into decimal.Decimal.
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			log.Println("✅ Connected to pos database with connection pool")
			return pool, nil
		}
		log.Printf("⏳ Waiting for database... (%d/30)", i+1)
		time.Sleep(1 * time.Second)
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}

func initTracer() (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	otlpEndpoint := getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(otlpEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(getEnv("SERVICE_NAME", "pos-service")),
			semconv.ServiceVersion("1.0.0"),
		),
	)
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

func initMetrics() (*sdkmetric.MeterProvider, error) {
	ctx := context.Background()

	otlpEndpoint := getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(otlpEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(getEnv("SERVICE_NAME", "pos-service")),
			semconv.ServiceVersion("1.0.0"),
		),
	)
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

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
