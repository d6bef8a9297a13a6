package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hyrebuy-backend/config"
	"hyrebuy-backend/handlers"
	"hyrebuy-backend/middleware"
	"hyrebuy-backend/services"
	"hyrebuy-backend/utils"
	"hyrebuy-backend/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := utils.NewLogger(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.OpenDatabase(cfg)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	// Optional collaborators: the service runs without a stats cache or snapshot export.
	var statsCache services.StatsCache
	if cfg.RedisAddr != "" {
		rc, err := utils.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Warn("redis unavailable, stats cache disabled", zap.Error(err))
		} else {
			defer rc.Close()
			statsCache = rc
		}
	}
	var snapshots workers.SnapshotStore
	if cfg.R2Enabled() {
		store, err := utils.NewR2ObjectStore(ctx, cfg.R2AccountID, cfg.R2AccessKey, cfg.R2AccessSecret, cfg.R2Bucket)
		if err != nil {
			logger.Warn("R2 unavailable, leaderboard export disabled", zap.Error(err))
		} else {
			snapshots = store
		}
	}

	codes := services.NewCodeGenerator(cfg.CodeRetryLimit)
	badgeService := services.NewBadgeService(db, logger)
	if err := badgeService.SeedCatalogue(ctx); err != nil {
		logger.Fatal("failed to seed badges", zap.Error(err))
	}
	ledger := services.NewRewardsLedger(db, logger, badgeService, statsCache, cfg.StatsCacheTTL)
	accountService := services.NewAccountService(db, logger, cfg.JWTSecret, cfg.JWTTTL)
	referralService := services.NewReferralService(db, logger, ledger, codes, cfg.PublicBaseURL)
	groupService := services.NewGroupService(db, logger, ledger, codes, cfg.InviteTTL, cfg.PublicBaseURL)

	scheduler := workers.NewScheduler(groupService, ledger, snapshots, logger, cfg.LeaderboardSnapshotSize, cfg.LeaderboardRefresh)
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})
	app.Use(recover.New())

	allowedOrigins := strings.Split(cfg.AllowedOrigins, ",")
	for i, origin := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(origin)
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(allowedOrigins, ","),
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-Service-Token",
		MaxAge:       86400,
	}))

	auth := middleware.UserContextMiddleware(cfg.JWTSecret, logger)
	sseAuth := middleware.SSEAuthMiddleware(cfg.JWTSecret, logger)
	internal := middleware.ServiceTokenMiddleware(cfg.ServiceToken, logger)
	// One budget per route family, so sign-in attempts do not eat into invite redemption.
	authLimit := middleware.NewRateLimiter(cfg.RateLimitPerMinute).Handler()
	referralLimit := middleware.NewRateLimiter(cfg.RateLimitPerMinute).Handler()
	joinLimit := middleware.NewRateLimiter(cfg.RateLimitPerMinute).Handler()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	handlers.SetupAccountRoutes(app, accountService, referralService, auth, authLimit, logger)
	handlers.SetupRewardRoutes(app, ledger, badgeService, auth, sseAuth, internal, logger)
	handlers.SetupReferralRoutes(app, referralService, auth, referralLimit, internal)
	handlers.SetupGroupRoutes(app, groupService, auth, joinLimit)

	go func() {
		if err := app.Listen(":" + cfg.AppPort); err != nil {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()
	logger.Info("server running", zap.String("port", cfg.AppPort), zap.Strings("allowed_origins", allowedOrigins))

	<-ctx.Done()
	logger.Info("shutting down")
	if err := scheduler.Shutdown(); err != nil {
		logger.Warn("scheduler shutdown", zap.Error(err))
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}
