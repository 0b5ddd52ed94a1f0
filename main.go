package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"premiosplatzi/config"
	"premiosplatzi/handlers"
	"premiosplatzi/logger"
	"premiosplatzi/middleware"
	"premiosplatzi/models"
	"premiosplatzi/routes"
	"premiosplatzi/services"
	"premiosplatzi/templates"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Configure(cfg.Env, cfg.Log.Level, cfg.Log.File)
	if cfg.Env == config.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(models.All()...); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	// Initialize Redis
	redisClient := config.InitRedis(cfg)
	resultsCache := services.NewResultsCache(redisClient, cfg.Redis.ResultsCacheTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize live results hub
	hub := services.NewHub()
	go hub.Run(ctx)

	// Initialize services
	pollService := services.NewPollService(db, resultsCache, hub)
	adminService := services.NewAdminService(db, resultsCache)
	authService := services.NewAuthService(db, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	if cfg.Auth.AdminUsername != "" {
		created, err := authService.EnsureAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to seed admin user")
		}
		if created {
			log.Info().Str("username", cfg.Auth.AdminUsername).Msg("admin user created")
		}
	}

	router := gin.New()
	router.Use(middleware.RequestLogger(), gin.Recovery())

	routes.SetupRoutes(router, routes.Dependencies{
		Templates:    templates.MustLoad(),
		PollHandler:  handlers.NewPollHandler(pollService, hub),
		AdminHandler: handlers.NewAdminHandler(adminService),
		AuthHandler:  handlers.NewAuthHandler(authService),
		Tokens:       authService,
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		Ping: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Str("env", cfg.Env).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
