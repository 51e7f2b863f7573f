package repository

import (
	"context"
	"time"

	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/boxchat/authd/internal/auth/domain"
	"github.com/boxchat/authd/internal/common/db"
)

var ErrRefreshTokenNotFound = pgx.ErrNoRows

type RefreshTokenRepository interface {
	Create(ctx context.Context, token domain.RefreshToken) error
	FindByTokenHash(ctx context.Context, hash string) (domain.RefreshToken, error)
	// RevokeByTokenHash flips revoked on a live record and reports the
	// record it revoked. At most one concurrent caller can win: the
	// update only matches rows with revoked = FALSE.
	RevokeByTokenHash(ctx context.Context, hash string) (domain.RefreshToken, error)
	WithTx(ctx context.Context, fn func(ctx context.Context, tx RefreshTokenTx) error) error
}

// RefreshTokenTx is the transactional surface used by rotation: the
// lookup locks the row, so revoke-and-replace commits atomically.
type RefreshTokenTx interface {
	FindByTokenHashForUpdate(ctx context.Context, hash string) (domain.RefreshToken, error)
	Revoke(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, token domain.RefreshToken) error
}

type PgRefreshTokenRepository struct {
	pool *pgxpool.Pool
}

func NewPgRefreshTokenRepository(pool *pgxpool.Pool) *PgRefreshTokenRepository {
	return &PgRefreshTokenRepository{pool: pool}
}

const refreshTokenColumns = `id, user_id, token_hash, expires_at, revoked, user_agent, ip, created_at`

func (r *PgRefreshTokenRepository) Create(ctx context.Context, token domain.RefreshToken) error {
	start := time.Now()
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked, user_agent, ip, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
		token.Revoked,
		nullable(token.UserAgent),
		nullable(token.IP),
		token.CreatedAt,
	)
	return db.HandleExecError(err, "create refresh token", start)
}

func (r *PgRefreshTokenRepository) FindByTokenHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	start := time.Now()
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = $1`,
		hash,
	)
	return scanRefreshToken(row, "find refresh token", start)
}

func (r *PgRefreshTokenRepository) RevokeByTokenHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	start := time.Now()
	row := r.pool.QueryRow(
		ctx,
		`UPDATE refresh_tokens
		 SET revoked = TRUE
		 WHERE token_hash = $1 AND revoked = FALSE
		 RETURNING `+refreshTokenColumns,
		hash,
	)
	return scanRefreshToken(row, "revoke refresh token", start)
}

func (r *PgRefreshTokenRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx RefreshTokenTx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(ctx, &pgRefreshTokenTx{tx: tx})
	return err
}

type pgRefreshTokenTx struct {
	tx pgx.Tx
}

func (t *pgRefreshTokenTx) FindByTokenHashForUpdate(ctx context.Context, hash string) (domain.RefreshToken, error) {
	start := time.Now()
	row := t.tx.QueryRow(
		ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE`,
		hash,
	)
	return scanRefreshToken(row, "find refresh token in tx", start)
}

func (t *pgRefreshTokenTx) Revoke(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	res, err := t.tx.Exec(
		ctx,
		`UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1 AND revoked = FALSE`,
		id,
	)
	if err := db.HandleExecError(err, "revoke refresh token in tx", start); err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

func (t *pgRefreshTokenTx) Create(ctx context.Context, token domain.RefreshToken) error {
	start := time.Now()
	_, err := t.tx.Exec(
		ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked, user_agent, ip, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
		token.Revoked,
		nullable(token.UserAgent),
		nullable(token.IP),
		token.CreatedAt,
	)
	return db.HandleExecError(err, "create refresh token in tx", start)
}

func scanRefreshToken(row pgx.Row, operation string, start time.Time) (domain.RefreshToken, error) {
	var (
		token     domain.RefreshToken
		userAgent *string
		ip        *string
	)
	err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.Revoked,
		&userAgent,
		&ip,
		&token.CreatedAt,
	)
	if err := db.HandleQueryError(err, ErrRefreshTokenNotFound, operation, start); err != nil {
		return domain.RefreshToken{}, err
	}
	if userAgent != nil {
		token.UserAgent = *userAgent
	}
	if ip != nil {
		token.IP = *ip
	}
	return token, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
