package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookstore/services/lending/internal/auth"
	"github.com/bookstore/services/lending/internal/clock"
	"github.com/bookstore/services/lending/internal/config"
	"github.com/bookstore/services/lending/internal/db"
	"github.com/bookstore/services/lending/internal/events"
	"github.com/bookstore/services/lending/internal/fines"
	grpcserver "github.com/bookstore/services/lending/internal/grpc"
	"github.com/bookstore/services/lending/internal/httpapi"
	"github.com/bookstore/services/lending/internal/lending"
	"github.com/bookstore/services/lending/internal/metrics"
	"github.com/bookstore/services/lending/internal/repo"
	"github.com/bookstore/services/lending/pkg/logger"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// eventPublisher is satisfied by the RabbitMQ publisher and its no-op fallback
type eventPublisher interface {
	lending.Publisher
	IsHealthy() bool
	Close() error
}

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)
	defer log.Sync()

	log.Info("Lending service starting")

	for _, warning := range cfg.Warnings {
		log.Warn("Invalid configuration value", zap.String("detail", warning))
	}
	if cfg.UsesDefaultJWTSecret() {
		if cfg.AuthRequired {
			log.Fatal("JWT_SECRET must be set when AUTH_REQUIRED is enabled")
		}
		log.Warn("JWT_SECRET is not set, tokens are signed with the default secret")
	}

	// Connect to database
	log.Info("Connecting to database...")
	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Run migrations
	log.Info("Running database migrations...")
	if err := db.RunMigrations(database); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Connect to RabbitMQ
	var publisher eventPublisher = events.Nop{}
	if cfg.RabbitMQURL != "" {
		log.Info("Connecting to RabbitMQ")
		p, err := events.NewPublisher(cfg.RabbitMQURL, log)
		if err != nil {
			log.Warn("RabbitMQ unavailable, domain events disabled", zap.Error(err))
		} else {
			publisher = p
		}
	}
	defer publisher.Close()

	m := metrics.New()
	policy := lending.Policy{
		MaxActiveLoans: cfg.MaxActiveLoans,
		Fines: fines.Policy{
			FreeDays:   cfg.FreeDays,
			RatePerDay: cfg.FineRatePerDay,
		},
	}

	lendingService := lending.NewService(database, policy, clock.System{}, publisher, m, log)
	if err := lendingService.SyncGauges(context.Background()); err != nil {
		log.Warn("Failed to initialise gauges", zap.Error(err))
	}
	authService := auth.NewService(repo.NewUserRepository(database, log), cfg.JWTSecret, cfg.JWTExpiry, clock.System{}, log)

	// Create gRPC server
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcserver.RequestIDInterceptor(),
			grpcserver.AuthInterceptor(authService, cfg.AuthRequired),
			grpcserver.LoggingInterceptor(log),
		),
	)

	// Register lending service
	grpcserver.RegisterLendingService(grpcServer, grpcserver.NewLendingServer(lendingService, log))

	// Register health service
	healthServer := grpcserver.NewHealthServer(database, publisher, log)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	// Enable reflection for grpcurl/grpcui
	reflection.Register(grpcServer)

	// Start gRPC server
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}

	go func() {
		log.Info("Starting gRPC server", zap.String("address", grpcListener.Addr().String()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Fatal("Failed to serve gRPC", zap.Error(err))
		}
	}()

	// Start HTTP API server
	api := httpapi.NewServer(lendingService, authService, database, publisher, m, httpapi.Options{
		AuthRequired: cfg.AuthRequired,
		CORSOrigins:  cfg.CORSOrigins,
	}, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      api.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop gRPC server
	grpcServer.GracefulStop()

	// Flush events queued by the last requests
	lendingService.Wait()

	log.Info("Server stopped")
}
