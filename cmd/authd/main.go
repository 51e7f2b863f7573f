package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boxchat/authd/internal/auth/bootstrap"
	authhttp "github.com/boxchat/authd/internal/auth/http"
	authrepo "github.com/boxchat/authd/internal/auth/repository"
	"github.com/boxchat/authd/internal/auth/service"
	"github.com/boxchat/authd/internal/common/authgate"
	"github.com/boxchat/authd/internal/common/clock"
	"github.com/boxchat/authd/internal/common/config"
	commoncrypto "github.com/boxchat/authd/internal/common/crypto"
	"github.com/boxchat/authd/internal/common/db"
	commonhttp "github.com/boxchat/authd/internal/common/http"
	"github.com/boxchat/authd/internal/common/logger"
	srv "github.com/boxchat/authd/internal/common/server"
	"github.com/boxchat/authd/internal/common/token"
)

func main() {
	log, err := logger.New(os.Getenv("LOG_DIR"), "authd", os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	pool := db.NewPool(log, cfg.DatabaseURL)
	defer pool.Close()

	ctx := context.Background()
	if err := authrepo.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	clk := clock.NewRealClock()
	hasher := commoncrypto.NewBcryptHasher()
	idGenerator := commoncrypto.NewUUIDGenerator()

	codec, err := token.NewCodec(cfg.JWTSecret, cfg.JWTAlgorithm, idGenerator, cfg.AccessTokenTTL, clk)
	if err != nil {
		log.Fatalf("failed to build token codec: %v", err)
	}

	userRepo := authrepo.NewPgUserRepository(pool)
	refreshTokenRepo := authrepo.NewPgRefreshTokenRepository(pool)
	refreshTokenStore := service.NewRefreshTokenStore(refreshTokenRepo, idGenerator, cfg.RefreshTokenTTL, clk, log)
	authService := service.NewAuthService(userRepo, refreshTokenStore, hasher, idGenerator, codec, clk, log)

	if err := bootstrap.EnsureAdmin(ctx, userRepo, hasher, idGenerator, clk, bootstrap.AdminConfig{
		Username: cfg.AdminUsername,
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
	}, log); err != nil {
		log.Fatalf("failed to seed admin user: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", authhttp.NewHandler(authService, cfg.RequestTimeout, log))
	mux.Handle("/metrics", promhttp.Handler())

	gate := authgate.Middleware(codec, cfg.PublicRoutePrefixes, log)
	handler := commonhttp.BuildBaseHandler(log, cfg.CORSAllowedOrigins, gate(mux))

	server := srv.New(cfg.HTTPPort, handler)
	srv.StartWithGracefulShutdown(server, log)
}
