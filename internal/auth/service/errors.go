package service

import (
	"net/http"

	commonerrors "github.com/boxchat/authd/internal/common/errors"
)

var (
	// ErrInvalidCredentials covers unknown identifier and wrong password
	// alike; the caller cannot tell which one failed.
	ErrInvalidCredentials = commonerrors.NewDomainError(
		"INVALID_CREDENTIALS",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"invalid credentials",
	)

	// ErrInvalidRefreshToken covers missing, revoked and expired tokens
	// identically.
	ErrInvalidRefreshToken = commonerrors.NewDomainError(
		"INVALID_REFRESH_TOKEN",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"invalid refresh token",
	)

	ErrUserExists = commonerrors.NewDomainError(
		"USER_ALREADY_EXISTS",
		commonerrors.CategoryConflict,
		http.StatusBadRequest,
		"user with this email already exists",
	)

	ErrValidation = commonerrors.NewDomainError(
		"VALIDATION_FAILED",
		commonerrors.CategoryValidation,
		http.StatusBadRequest,
		"validation failed",
	)
)
