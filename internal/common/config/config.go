package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/boxchat/authd/internal/common/constants"
	commonerrors "github.com/boxchat/authd/internal/common/errors"
)

type Config struct {
	HTTPPort        string
	DatabaseURL     string
	JWTSecret       string
	JWTAlgorithm    string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	RequestTimeout  time.Duration

	// Paths matching any of these prefixes bypass bearer authentication.
	PublicRoutePrefixes []string
	CORSAllowedOrigins  []string

	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

func Load() (Config, error) {
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return Config{}, err
	}

	if len(jwtSecret) < constants.JWTSecretMinLength {
		return Config{}, commonerrors.ErrInvalidJWTSecret.WithCause(
			fmt.Errorf("got %d bytes", len(jwtSecret)))
	}

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}

	return Config{
		HTTPPort:        getEnv("HTTP_PORT", constants.DefaultHTTPPort),
		DatabaseURL:     databaseURL,
		JWTSecret:       jwtSecret,
		JWTAlgorithm:    getEnv("JWT_ALGORITHM", "HS256"),
		AccessTokenTTL:  getDurationEnv("ACCESS_TOKEN_TTL", constants.DefaultAccessTokenTTL),
		RefreshTokenTTL: getDurationEnv("REFRESH_TOKEN_TTL", constants.DefaultRefreshTokenTTL),
		RequestTimeout:  getDurationEnv("REQUEST_TIMEOUT", constants.DefaultRequestTimeout),

		PublicRoutePrefixes: getListEnv("PUBLIC_ROUTE_PREFIXES", []string{"/auth", "/health", "/metrics", "/docs"}),
		CORSAllowedOrigins:  getListEnv("CORS_ALLOWED_ORIGINS", nil),

		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@boxchat.local"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
	}, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func mustEnv(key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", commonerrors.ErrMissingRequiredEnv.WithCause(fmt.Errorf("%s", key))
	}
	return v, nil
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getListEnv(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}

	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
