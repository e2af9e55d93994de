package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"cocina-api/internal/config"
	"cocina-api/internal/db"
	"cocina-api/internal/email"
	apihttp "cocina-api/internal/http"
	"cocina-api/internal/identity"
	"cocina-api/internal/metrics"
	"cocina-api/internal/repository"
	"cocina-api/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if cfg.MigrateOnStart {
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal("migrations", zap.Error(err))
		}
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	ctxPing, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := db.Ping(ctxPing, pool); err != nil {
		cancelPing()
		logger.Fatal("db ping", zap.Error(err))
	}
	cancelPing()

	profileRepo := repository.NewPgProfileRepository(pool)
	serviceRepo := repository.NewPgServiceRepository(pool)

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}

	var (
		resetLimiter service.ResetRateLimiter
		tokenStore   identity.RefreshTokenStore
		redisClient  *redis.Client
	)
	resetLimiter = service.NewResetRateLimiter(10*time.Minute, 3)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			resetLimiter = service.NewRedisResetRateLimiter(redisClient, 10*time.Minute, 3)
			tokenStore = identity.NewRedisRefreshTokenStore(redisClient)
		}
		cancel()
	}

	tokenSvc := identity.NewTokenService(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
		tokenStore,
	)
	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}

	var provider identity.Provider
	if cfg.AuthBaseURL != "" {
		provider = identity.NewHTTPProvider(cfg.AuthBaseURL, cfg.AuthAPIKey, logger)
	} else {
		provider = identity.NewLocalProvider(logger, tokenSvc, true)
	}

	var google *identity.GoogleOAuth
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		google, err = identity.NewGoogleOAuth(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		if err != nil {
			logger.Warn("google oauth init failed", zap.Error(err))
		}
	}

	m := metrics.New()

	reconciler := service.NewProfileReconciler(logger, profileRepo, m)
	reconciler.SetWaitBudget(cfg.ReconcileWaitAttempts, time.Duration(cfg.ReconcileWaitIntervalMS)*time.Millisecond)

	orchestrator := service.NewSessionOrchestrator(logger, provider, reconciler, profileRepo, resetLimiter, emailSender, m)
	orchestrator.SetRecoveryWaitBudget(cfg.RecoveryWaitAttempts, time.Duration(cfg.RecoveryWaitIntervalMS)*time.Millisecond)
	if err := orchestrator.Start(ctx); err != nil {
		logger.Warn("initial session processing failed", zap.Error(err))
	}
	defer orchestrator.Stop()

	bookingSvc := service.NewBookingService(logger, serviceRepo)

	authHandler := apihttp.NewAuthHandler(logger, orchestrator, tokenSvc, google)
	profileHandler := apihttp.NewProfileHandler(logger, orchestrator)
	serviceHandler := apihttp.NewServiceHandler(logger, bookingSvc)
	router := apihttp.NewRouter(logger, tokenSvc, m, authHandler, profileHandler, serviceHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
