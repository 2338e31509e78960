package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"circulation/internal/config"
	"circulation/internal/database"
	"circulation/internal/handlers"
	"circulation/internal/logging"
	"circulation/internal/repositories"
	"circulation/internal/services"
	"circulation/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	log := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Error("failed to set up tracing", "err", err)
		os.Exit(1)
	}

	db, err := database.Open(database.Options{
		Driver:          cfg.DBDriver,
		DSN:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		Logger:          log,
	})
	if err != nil {
		log.Error("failed to connect database", "err", err)
		os.Exit(1)
	}
	if cfg.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			log.Error("failed to migrate database", "err", err)
			os.Exit(1)
		}
		log.Info("database schema migrated")
	}

	userRepo := repositories.NewUserRepository(db)
	bookRepo := repositories.NewBookRepository(db)
	borrowRepo := repositories.NewBorrowRepository(db)

	libraryService := services.NewLibraryService(db, userRepo, bookRepo, borrowRepo,
		services.WithLogger(log))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		handlers.Recovery(log),
		handlers.RequestLogger(log),
		handlers.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	handlers.RegisterRoutes(router, libraryService, db, []byte(cfg.JWTSecret), log)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handlers.NewHTTPHandler(router, cfg.CORSAllowedOrigins),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		log.Info("starting server", "addr", cfg.ServerAddr, "driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracer shutdown failed", "err", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
