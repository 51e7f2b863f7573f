// Command seedadmin creates the bootstrap admin user and exits. The
// same seeding also runs at service startup; this exists for
// provisioning databases without starting the server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/boxchat/authd/internal/auth/bootstrap"
	authrepo "github.com/boxchat/authd/internal/auth/repository"
	"github.com/boxchat/authd/internal/common/clock"
	"github.com/boxchat/authd/internal/common/config"
	commoncrypto "github.com/boxchat/authd/internal/common/crypto"
	"github.com/boxchat/authd/internal/common/db"
	"github.com/boxchat/authd/internal/common/logger"
)

func main() {
	log, err := logger.New("", "seedadmin", os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if cfg.AdminPassword == "" {
		log.Fatalf("ADMIN_PASSWORD must be set")
	}

	pool := db.NewPool(log, cfg.DatabaseURL)
	defer pool.Close()

	ctx := context.Background()
	if err := authrepo.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	err = bootstrap.EnsureAdmin(
		ctx,
		authrepo.NewPgUserRepository(pool),
		commoncrypto.NewBcryptHasher(),
		commoncrypto.NewUUIDGenerator(),
		clock.NewRealClock(),
		bootstrap.AdminConfig{
			Username: cfg.AdminUsername,
			Email:    cfg.AdminEmail,
			Password: cfg.AdminPassword,
		},
		log,
	)
	if err != nil {
		log.Fatalf("failed to seed admin user: %v", err)
	}

	log.Info("admin user ready")
}
