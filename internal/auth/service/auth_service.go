package service

import (
	"context"
	"errors"
	"time"

	"github.com/boxchat/authd/internal/auth/domain"
	userrepo "github.com/boxchat/authd/internal/auth/repository"
	"github.com/boxchat/authd/internal/common/clock"
	commoncrypto "github.com/boxchat/authd/internal/common/crypto"
	commonerrors "github.com/boxchat/authd/internal/common/errors"
	"github.com/boxchat/authd/internal/common/logger"
	"github.com/boxchat/authd/internal/observability/metrics"
)

// AccessTokenIssuer is the slice of the token codec the workflow needs.
type AccessTokenIssuer interface {
	Issue(userID, email, username string) (string, error)
}

// AuthService orchestrates registration, login and refresh rotation on
// top of the user repository, the password hasher, the token codec and
// the refresh token store.
type AuthService struct {
	users         userrepo.UserRepository
	refreshTokens *RefreshTokenStore
	hasher        commoncrypto.PasswordHasher
	idGenerator   commoncrypto.IDGenerator
	codec         AccessTokenIssuer
	clock         clock.Clock
	log           *logger.Logger
}

func NewAuthService(
	users userrepo.UserRepository,
	refreshTokens *RefreshTokenStore,
	hasher commoncrypto.PasswordHasher,
	idGenerator commoncrypto.IDGenerator,
	codec AccessTokenIssuer,
	clk clock.Clock,
	log *logger.Logger,
) *AuthService {
	return &AuthService{
		users:         users,
		refreshTokens: refreshTokens,
		hasher:        hasher,
		idGenerator:   idGenerator,
		codec:         codec,
		clock:         clk,
		log:           log,
	}
}

type RegisterInput struct {
	Username string `validate:"required,min=3,max=32"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8,max=72"`
}

type LoginInput struct {
	Email    string `validate:"required_without=Username,omitempty,email"`
	Username string `validate:"required_without=Email"`
	Password string `validate:"required"`
}

type RegisterResult struct {
	ID        string
	Username  string
	Email     string
	CreatedAt time.Time
}

type AuthResult struct {
	AccessToken  string
	RefreshToken string
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (RegisterResult, error) {
	s.log.WithFields(ctx, logger.Fields{
		"email":  input.Email,
		"action": "register_attempt",
	}).Info("register attempt")

	if err := checkInput(input); err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"email":  input.Email,
			"action": "register_validation_failed",
		}).Warnf("register validation failed: %v", err)
		return RegisterResult{}, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"email":  input.Email,
			"action": "register_hash_failed",
		}).Errorf("register failed: password hash error: %v", err)
		return RegisterResult{}, commonerrors.ErrInternalError.WithCause(err)
	}

	id, err := s.idGenerator.NewID()
	if err != nil {
		return RegisterResult{}, commonerrors.ErrInternalError.WithCause(err)
	}

	user := domain.User{
		ID:           domain.UserID(id),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
		CreatedAt:    s.clock.Now(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, userrepo.ErrUserAlreadyExists) {
			s.log.WithFields(ctx, logger.Fields{
				"email":  input.Email,
				"action": "register_user_exists",
			}).Warn("register failed: already exists")
			return RegisterResult{}, ErrUserExists
		}
		s.log.WithFields(ctx, logger.Fields{
			"email":  input.Email,
			"action": "register_create_failed",
		}).Errorf("register failed: %v", err)
		return RegisterResult{}, commonerrors.ErrDatabaseError.WithCause(err)
	}

	metrics.UsersRegistered.Inc()
	s.log.WithFields(ctx, logger.Fields{
		"user_id": string(user.ID),
		"action":  "register_success",
	}).Info("register success")

	return RegisterResult{
		ID:        string(user.ID),
		Username:  user.Username,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	}, nil
}

func (s *AuthService) Login(ctx context.Context, input LoginInput, meta domain.ClientMetadata) (AuthResult, error) {
	s.log.WithFields(ctx, logger.Fields{
		"action": "login_attempt",
	}).Info("login attempt")

	if err := checkInput(input); err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"action": "login_validation_failed",
		}).Warnf("login validation failed: %v", err)
		return AuthResult{}, err
	}

	user, err := s.resolveUser(ctx, input.Email, input.Username)
	if err != nil {
		if errors.Is(err, userrepo.ErrUserNotFound) {
			s.log.WithFields(ctx, logger.Fields{
				"action": "login_user_not_found",
			}).Warn("login failed: not found")
			return AuthResult{}, ErrInvalidCredentials
		}
		s.log.WithFields(ctx, logger.Fields{
			"action": "login_fetch_failed",
		}).Errorf("login failed: %v", err)
		return AuthResult{}, commonerrors.ErrDatabaseError.WithCause(err)
	}

	if err := s.hasher.Compare(user.PasswordHash, input.Password); err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": string(user.ID),
			"action":  "login_invalid_password",
		}).Warn("login failed: invalid password")
		return AuthResult{}, ErrInvalidCredentials
	}

	result, err := s.issueTokens(ctx, user, meta)
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": string(user.ID),
			"action":  "login_token_issue_failed",
		}).Errorf("login failed: token issue error: %v", err)
		return AuthResult{}, err
	}

	s.log.WithFields(ctx, logger.Fields{
		"user_id": string(user.ID),
		"action":  "login_success",
	}).Info("login success")

	return result, nil
}

// Refresh rotates the presented refresh token and issues a fresh
// access/refresh pair for its owner. The old token is unusable once
// this returns, success or not having won the rotation race.
func (s *AuthService) Refresh(ctx context.Context, rawToken string, meta domain.ClientMetadata) (AuthResult, error) {
	s.log.WithFields(ctx, logger.Fields{
		"action": "refresh_attempt",
	}).Info("refresh attempt")

	userID, newToken, err := s.refreshTokens.Rotate(ctx, rawToken, meta)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			fields := logger.Fields{"action": "refresh_token_rejected"}
			if meta.IP != "" {
				fields["client_ip"] = meta.IP
			}
			s.log.WithFields(ctx, fields).Warn("refresh failed: invalid token")
			return AuthResult{}, ErrInvalidRefreshToken
		}
		s.log.WithFields(ctx, logger.Fields{
			"action": "refresh_rotation_failed",
		}).Errorf("refresh failed: %v", err)
		return AuthResult{}, commonerrors.ErrDatabaseError.WithCause(err)
	}

	user, err := s.users.FindByID(ctx, domain.UserID(userID))
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": userID,
			"action":  "refresh_user_lookup_failed",
		}).Errorf("refresh failed: user lookup error: %v", err)
		if errors.Is(err, userrepo.ErrUserNotFound) {
			return AuthResult{}, ErrInvalidRefreshToken
		}
		return AuthResult{}, commonerrors.ErrDatabaseError.WithCause(err)
	}

	accessToken, err := s.codec.Issue(string(user.ID), user.Email, user.Username)
	if err != nil {
		return AuthResult{}, commonerrors.ErrInternalError.WithCause(err)
	}
	metrics.AccessTokensIssued.Inc()

	s.log.WithFields(ctx, logger.Fields{
		"user_id": userID,
		"action":  "refresh_success",
	}).Info("refresh success")

	return AuthResult{
		AccessToken:  accessToken,
		RefreshToken: newToken.RawToken,
	}, nil
}

// Logout revokes the presented refresh token. An unknown or already
// dead token is not an error; logout always succeeds.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}

	userID, err := s.refreshTokens.Consume(ctx, rawToken)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			return nil
		}
		s.log.WithFields(ctx, logger.Fields{
			"action": "logout_revoke_failed",
		}).Errorf("logout revoke failed: %v", err)
		return commonerrors.ErrDatabaseError.WithCause(err)
	}

	s.log.WithFields(ctx, logger.Fields{
		"user_id": userID,
		"action":  "logout_success",
	}).Info("refresh token revoked")
	return nil
}

// resolveUser prefers the email lookup and falls back to username only
// when email is absent or matches nothing.
func (s *AuthService) resolveUser(ctx context.Context, email, username string) (domain.User, error) {
	if email != "" {
		user, err := s.users.FindByEmail(ctx, email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, userrepo.ErrUserNotFound) {
			return domain.User{}, err
		}
	}

	if username != "" {
		return s.users.FindByUsername(ctx, username)
	}

	return domain.User{}, userrepo.ErrUserNotFound
}

func (s *AuthService) issueTokens(ctx context.Context, user domain.User, meta domain.ClientMetadata) (AuthResult, error) {
	accessToken, err := s.codec.Issue(string(user.ID), user.Email, user.Username)
	if err != nil {
		return AuthResult{}, commonerrors.ErrInternalError.WithCause(err)
	}
	metrics.AccessTokensIssued.Inc()

	refresh, err := s.refreshTokens.Issue(ctx, string(user.ID), meta)
	if err != nil {
		return AuthResult{}, commonerrors.ErrDatabaseError.WithCause(err)
	}

	return AuthResult{
		AccessToken:  accessToken,
		RefreshToken: refresh.RawToken,
	}, nil
}
