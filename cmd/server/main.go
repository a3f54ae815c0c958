package main // Entry point package

import (
	"log" // Logging library

	"github.com/joho/godotenv"    // .env loading for local development
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/iliyamo/online-market/internal/auth"       // Auth core services
	"github.com/iliyamo/online-market/internal/config"     // Internal config loader
	"github.com/iliyamo/online-market/internal/database"   // MySQL pool for the user collaborator
	"github.com/iliyamo/online-market/internal/handler"    // HTTP handlers
	"github.com/iliyamo/online-market/internal/middleware" // Edge middleware
	"github.com/iliyamo/online-market/internal/queue"      // Notification worker stand-in
	"github.com/iliyamo/online-market/internal/repository" // User repository
	"github.com/iliyamo/online-market/internal/router"     // Route registration
	queuepublisher "github.com/iliyamo/online-market/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("mysql: %v", err)
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		// Every piece of token-lifecycle state lives in Redis; there is
		// no degraded mode without it.
		log.Fatal("redis: connection failed")
	}

	users := repository.NewUserRepo(db)
	principals := repository.NewPrincipalSource(users)

	limiter := auth.NewLimiter(rdb)
	tokens := auth.NewTokenService(rdb,
		cfg.AccessSecret, cfg.RefreshSecret, cfg.TicketSecret,
		cfg.AccessTTL, cfg.RefreshTTL, cfg.TicketTTL)
	allowList := auth.NewAllowListStore(rdb)
	sessions := auth.NewSessionStore(rdb, cfg.RefreshTTL)
	refresher := auth.NewRefreshService(tokens, allowList, sessions, principals, limiter,
		cfg.RefreshTTL, cfg.RefreshMax, cfg.RefreshWindow)
	gate := auth.NewLoginGate(principals)
	otp := auth.NewOTPService(rdb, limiter, tokens, queuepublisher.NewDispatcher(), auth.OTPConfig{
		CodeTTL:        cfg.OTPTTL,
		ResendCooldown: cfg.OTPCooldown,
		MaxAttempts:    cfg.OTPMaxAttempts,
		MaxSends:       cfg.OTPMaxSends,
		BlockTTL:       cfg.OTPBlockTTL,
		RequestMax:     cfg.OTPRequestMax,
		RequestWindow:  cfg.OTPRequestWindow,
		RequestIPMax:   cfg.OTPRequestIPMax,
		VerifyMax:      cfg.OTPVerifyMax,
		VerifyWindow:   cfg.OTPVerifyWindow,
		VerifyIPMax:    cfg.OTPVerifyIPMax,
	})

	// The delivery worker runs in-process; it reconnects on broker
	// failures and never returns under normal operation.
	go func() {
		if err := queue.StartDispatchConsumer(); err != nil {
			log.Printf("dispatch consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterAuth(e,
		handler.NewAuthHandler(cfg, otp, gate, refresher, sessions, users),
		tokens,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
		middleware.CheckOrigin(cfg.AllowedOrigins),
	)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
