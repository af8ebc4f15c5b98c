package main

import (
	"context"
	"fmt"
	"log"

	"elimu-hub-api/core"
)

func main() {
	cfg, err := core.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx := context.Background()

	logger, logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer db.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer redisClient.Close()

	hasher := core.NewBcryptHasher(cfg.BcryptCost)
	tokens, err := core.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build token service")
	}

	userRepo := core.NewPgUserRepository(db)
	levelRepo := core.NewPgLevelRepository(db)
	cache := core.NewIdentityCache(redisClient, cfg.IdentityCacheTTL)
	authService := core.NewAuthService(userRepo, hasher, tokens, cache, logger)

	if err := core.BootstrapSuperAdmin(ctx, userRepo, hasher, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("bootstrap super admin failed")
	}

	router := core.NewRouter(cfg, core.RouterDeps{
		Auth:   authService,
		Users:  userRepo,
		Levels: levelRepo,
		Cache:  cache,
		DB:     db,
		Redis:  redisClient,
		Log:    logger,
	})

	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info().Str("addr", addr).Msg("starting api server")
	if err := router.Run(addr); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
