package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/boxchat/authd/internal/auth/domain"
	"github.com/boxchat/authd/internal/common/db"
)

var (
	ErrUserNotFound      = pgx.ErrNoRows
	ErrUserAlreadyExists = errors.New("user already exists")
)

type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	FindByUsername(ctx context.Context, username string) (domain.User, error)
	FindByID(ctx context.Context, id domain.UserID) (domain.User, error)
}

type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	start := time.Now()
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO users (id, username, email, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		string(user.ID),
		user.Username,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUserAlreadyExists
	}
	return db.HandleExecError(err, "create user", start)
}

func (r *PgUserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.findOne(ctx, "find user by email",
		`SELECT id, username, email, password_hash, created_at FROM users WHERE email = $1`, email)
}

func (r *PgUserRepository) FindByUsername(ctx context.Context, username string) (domain.User, error) {
	return r.findOne(ctx, "find user by username",
		`SELECT id, username, email, password_hash, created_at FROM users WHERE username = $1`, username)
}

func (r *PgUserRepository) FindByID(ctx context.Context, id domain.UserID) (domain.User, error) {
	return r.findOne(ctx, "find user by id",
		`SELECT id, username, email, password_hash, created_at FROM users WHERE id = $1`, string(id))
}

func (r *PgUserRepository) findOne(ctx context.Context, operation, query string, arg any) (domain.User, error) {
	start := time.Now()
	row := r.pool.QueryRow(ctx, query, arg)

	var user domain.User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err := db.HandleQueryError(err, ErrUserNotFound, operation, start); err != nil {
		return domain.User{}, err
	}
	return user, nil
}
