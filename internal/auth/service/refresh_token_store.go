package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/boxchat/authd/internal/auth/domain"
	authrepo "github.com/boxchat/authd/internal/auth/repository"
	"github.com/boxchat/authd/internal/common/clock"
	"github.com/boxchat/authd/internal/common/constants"
	commoncrypto "github.com/boxchat/authd/internal/common/crypto"
	"github.com/boxchat/authd/internal/common/logger"
	"github.com/boxchat/authd/internal/observability/metrics"
)

// RefreshTokenStore issues, consumes and rotates opaque refresh
// tokens. Raw tokens are 256-bit random values; storage only ever sees
// their SHA-256 digest.
type RefreshTokenStore struct {
	repo        authrepo.RefreshTokenRepository
	idGenerator commoncrypto.IDGenerator
	clock       clock.Clock
	ttl         time.Duration
	log         *logger.Logger
}

func NewRefreshTokenStore(
	repo authrepo.RefreshTokenRepository,
	idGenerator commoncrypto.IDGenerator,
	ttl time.Duration,
	clk clock.Clock,
	log *logger.Logger,
) *RefreshTokenStore {
	return &RefreshTokenStore{
		repo:        repo,
		idGenerator: idGenerator,
		clock:       clk,
		ttl:         ttl,
		log:         log,
	}
}

// Issue persists a new token record and returns it with RawToken set.
// The raw value is not recoverable after this call.
func (s *RefreshTokenStore) Issue(ctx context.Context, userID string, meta domain.ClientMetadata) (domain.RefreshToken, error) {
	token, err := s.newToken(userID, meta)
	if err != nil {
		return domain.RefreshToken{}, err
	}

	stored := token
	stored.RawToken = ""
	if err := s.repo.Create(ctx, stored); err != nil {
		return domain.RefreshToken{}, err
	}

	metrics.RefreshTokensIssued.Inc()
	return token, nil
}

// Consume revokes the presented token and returns the owning user id.
// A missing, already-revoked or expired token fails identically. The
// revocation is a conditional update, so of N concurrent presentations
// of the same raw token exactly one can succeed.
func (s *RefreshTokenStore) Consume(ctx context.Context, rawToken string) (string, error) {
	if rawToken == "" {
		return "", ErrInvalidRefreshToken
	}

	stored, err := s.repo.RevokeByTokenHash(ctx, HashRefreshToken(rawToken))
	if err != nil {
		if errors.Is(err, authrepo.ErrRefreshTokenNotFound) {
			metrics.RefreshTokensRejected.Inc()
			return "", ErrInvalidRefreshToken
		}
		return "", err
	}

	if !s.clock.Now().Before(stored.ExpiresAt) {
		metrics.RefreshTokensRejected.Inc()
		return "", ErrInvalidRefreshToken
	}

	metrics.RefreshTokensRevoked.Inc()
	return stored.UserID, nil
}

// Rotate atomically consumes the presented token and persists its
// replacement in one transaction: either the old record is revoked and
// the new one committed, or neither happens.
func (s *RefreshTokenStore) Rotate(ctx context.Context, rawToken string, meta domain.ClientMetadata) (string, domain.RefreshToken, error) {
	if rawToken == "" {
		return "", domain.RefreshToken{}, ErrInvalidRefreshToken
	}

	hash := HashRefreshToken(rawToken)

	var (
		userID   string
		newToken domain.RefreshToken
	)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx authrepo.RefreshTokenTx) error {
		stored, err := tx.FindByTokenHashForUpdate(ctx, hash)
		if err != nil {
			if errors.Is(err, authrepo.ErrRefreshTokenNotFound) {
				metrics.RefreshTokensRejected.Inc()
				return ErrInvalidRefreshToken
			}
			return err
		}

		if stored.Revoked || !s.clock.Now().Before(stored.ExpiresAt) {
			metrics.RefreshTokensRejected.Inc()
			return ErrInvalidRefreshToken
		}

		won, err := tx.Revoke(ctx, stored.ID)
		if err != nil {
			return err
		}
		if !won {
			metrics.RefreshTokensRejected.Inc()
			return ErrInvalidRefreshToken
		}

		token, err := s.newToken(stored.UserID, meta)
		if err != nil {
			return err
		}

		record := token
		record.RawToken = ""
		if err := tx.Create(ctx, record); err != nil {
			return err
		}

		userID = stored.UserID
		newToken = token
		return nil
	})
	if err != nil {
		return "", domain.RefreshToken{}, err
	}

	metrics.RefreshTokensRotated.Inc()
	metrics.RefreshTokensIssued.Inc()
	return userID, newToken, nil
}

func (s *RefreshTokenStore) newToken(userID string, meta domain.ClientMetadata) (domain.RefreshToken, error) {
	rawToken, err := GenerateRefreshToken()
	if err != nil {
		return domain.RefreshToken{}, err
	}

	id, err := s.idGenerator.NewID()
	if err != nil {
		return domain.RefreshToken{}, err
	}

	now := s.clock.Now()
	return domain.RefreshToken{
		ID:        id,
		UserID:    userID,
		TokenHash: HashRefreshToken(rawToken),
		ExpiresAt: now.Add(s.ttl),
		Revoked:   false,
		UserAgent: meta.UserAgent,
		IP:        meta.IP,
		CreatedAt: now,
		RawToken:  rawToken,
	}, nil
}

func GenerateRefreshToken() (string, error) {
	b := make([]byte, constants.RefreshTokenSize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
