package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dosimetry-platform/internal/config"
	"dosimetry-platform/internal/handlers"
	"dosimetry-platform/internal/repository"
	"dosimetry-platform/internal/services"
	"dosimetry-platform/pkg/database"
	"dosimetry-platform/pkg/logging"
	"dosimetry-platform/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("dosimetry-api", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting dosimetry platform API server", logging.Fields{
		"version":     "1.0.0",
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"db_host":     cfg.Database.Host,
		"db_name":     cfg.Database.Database,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("dosimetry_platform")

	// Initialize database
	dbConfig := &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	// Initialize repositories
	refRepo := repository.NewReferenceRepository(db, logger, metricsCollector)
	runRepo := repository.NewRunRepository(db, logger, metricsCollector)
	settingsRepo := repository.NewSettingsRepository(db, logger)

	// Initialize environmental data providers
	geoClient := services.NewOpenMeteoGeolocationClient(
		cfg.Environment.GeocodingBaseURL,
		cfg.Environment.GeoIPBaseURL,
		cfg.Environment.ProviderTimeout,
		logger,
		metricsCollector,
	)
	weatherClient := services.NewOpenMeteoWeatherClient(
		cfg.Environment.ForecastBaseURL,
		cfg.Environment.ProviderTimeout,
		logger,
		metricsCollector,
	)

	// Initialize services
	envService := services.NewEnvironmentService(refRepo, geoClient, weatherClient, logger, metricsCollector)
	datasetService := services.NewDatasetService(refRepo, logger, metricsCollector)
	formulaService := services.NewFormulaService(refRepo, logger, metricsCollector)
	calcService := services.NewCalculationService(refRepo, settingsRepo, envService, logger, metricsCollector)

	// Initialize handlers
	adminHandler := handlers.NewAdminHandler(datasetService, formulaService, settingsRepo, logger, metricsCollector)
	calcHandler := handlers.NewCalculatorHandler(calcService, envService, runRepo, settingsRepo, logger, metricsCollector)

	// Setup router
	router := mux.NewRouter()
	router.Use(requestIdentity)

	// Register routes
	adminHandler.RegisterRoutes(router)
	calcHandler.RegisterRoutes(router)

	// API documentation
	router.HandleFunc("/api/docs", handlers.SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", handlers.OpenAPISpec).Methods("GET")

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}

// requestIdentity tags each request context with an ID (honoring an
// upstream X-Request-Id header) and the actor supplied by the auth proxy.
func requestIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), logging.RequestIDKey, requestID)
		if actor := strings.TrimSpace(r.Header.Get("X-Actor")); actor != "" {
			ctx = context.WithValue(ctx, logging.ActorKey, actor)
		}

		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
