package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/checkout"
	"github.com/joao-fontenele/storefront/internal/coupon"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/flow"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/storefront"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

const sessionIdleTimeout = 30 * time.Minute

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	tracingCfg, err := telemetry.TracingConfigFromEnv()
	if err != nil {
		logger.Error("invalid tracing configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "storefront", "0.1.0", tracingCfg)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("storefront", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	catalog := coupon.DefaultCatalog()
	if path := os.Getenv("COUPON_CATALOG"); path != "" {
		catalog, err = coupon.LoadCatalogFile(path)
		if err != nil {
			logger.Error("failed to load coupon catalog", "error", err, "path", path)
			os.Exit(1)
		}
	}

	orderTimeout := checkout.DefaultOrderTimeout
	if v := os.Getenv("ORDER_TIMEOUT"); v != "" {
		orderTimeout, err = time.ParseDuration(v)
		if err != nil {
			logger.Error("invalid ORDER_TIMEOUT", "error", err, "value", v)
			os.Exit(1)
		}
	}

	var placer checkout.Placer = checkout.NewSimulatedPlacer(checkout.DefaultSimulatedDelay)
	if ordersServiceURL := os.Getenv("ORDERS_SERVICE_URL"); ordersServiceURL != "" {
		httpClient := &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
		placer = orders.NewClient(ordersServiceURL, httpClient)
	} else {
		logger.Warn("ORDERS_SERVICE_URL not set, using simulated order backend")
	}

	var db *sql.DB
	if postgresURL := os.Getenv("POSTGRES_URL"); postgresURL != "" {
		db, err = telemetry.OpenPostgres(ctx, postgresURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
	}
	cartDir := os.Getenv("CART_DIR")

	newRepository := func(sessionID string) cart.Repository {
		switch {
		case db != nil:
			return cart.NewPostgresRepository(db, sessionID)
		case cartDir != "":
			return cart.NewFileRepository(filepath.Join(cartDir, sessionID+".json"))
		default:
			return cart.NewMemoryRepository(domain.CartState{})
		}
	}

	sessions := storefront.NewSessions(func(ctx context.Context, sessionID string) (*flow.Controller, error) {
		sessionLogger := logger.With("session_id", sessionID)
		cartStore, err := cart.NewStore(ctx, newRepository(sessionID), sessionLogger)
		if err != nil {
			return nil, err
		}
		checkoutStore, err := checkout.NewStore(placer, sessionLogger, checkout.WithTimeout(orderTimeout))
		if err != nil {
			return nil, err
		}
		return flow.New(cartStore, checkoutStore, catalog, sessionLogger), nil
	})

	handler := storefront.NewHandler(sessions, logger)

	mux := http.NewServeMux()
	handler.Register(mux, telemetry.WithHTTPRoute)
	mux.Handle("GET /metrics", metricsHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "storefront",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout: 10 * time.Second,
		// order placement may take up to orderTimeout
		WriteTimeout: orderTimeout + 10*time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n := sessions.Sweep(sessionIdleTimeout); n > 0 {
					logger.Info("idle sessions dropped", "count", n, "active", sessions.Len())
				}
			}
		}
	}()

	go func() {
		logger.Info("starting storefront service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
