package bootstrap

import (
	"context"
	"errors"

	"github.com/boxchat/authd/internal/auth/domain"
	authrepo "github.com/boxchat/authd/internal/auth/repository"
	"github.com/boxchat/authd/internal/common/clock"
	commoncrypto "github.com/boxchat/authd/internal/common/crypto"
	"github.com/boxchat/authd/internal/common/logger"
)

type AdminConfig struct {
	Username string
	Email    string
	Password string
}

// EnsureAdmin creates the bootstrap admin user when it does not exist
// yet. Safe to run on every startup; an empty password disables
// seeding.
func EnsureAdmin(
	ctx context.Context,
	users authrepo.UserRepository,
	hasher commoncrypto.PasswordHasher,
	idGenerator commoncrypto.IDGenerator,
	clk clock.Clock,
	cfg AdminConfig,
	log *logger.Logger,
) error {
	if cfg.Password == "" {
		log.Info("admin seeding skipped: no ADMIN_PASSWORD configured")
		return nil
	}

	_, err := users.FindByEmail(ctx, cfg.Email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, authrepo.ErrUserNotFound) {
		return err
	}

	hash, err := hasher.Hash(cfg.Password)
	if err != nil {
		return err
	}

	id, err := idGenerator.NewID()
	if err != nil {
		return err
	}

	admin := domain.User{
		ID:           domain.UserID(id),
		Username:     cfg.Username,
		Email:        cfg.Email,
		PasswordHash: hash,
		CreatedAt:    clk.Now(),
	}

	if err := users.Create(ctx, admin); err != nil {
		// A concurrent replica may have seeded the same admin.
		if errors.Is(err, authrepo.ErrUserAlreadyExists) {
			return nil
		}
		return err
	}

	log.WithFields(ctx, logger.Fields{
		"email": cfg.Email,
	}).Info("default admin user created")
	return nil
}
