package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/boxchat/authd/internal/auth/domain"
	authrepo "github.com/boxchat/authd/internal/auth/repository"
	"github.com/boxchat/authd/internal/common/clock"
	"github.com/boxchat/authd/internal/common/logger"
)

type mockUserRepo struct {
	createFunc         func(ctx context.Context, user domain.User) error
	findByEmailFunc    func(ctx context.Context, email string) (domain.User, error)
	findByUsernameFunc func(ctx context.Context, username string) (domain.User, error)
	findByIDFunc       func(ctx context.Context, id domain.UserID) (domain.User, error)
}

func (m *mockUserRepo) Create(ctx context.Context, user domain.User) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if m.findByEmailFunc != nil {
		return m.findByEmailFunc(ctx, email)
	}
	return domain.User{}, authrepo.ErrUserNotFound
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (domain.User, error) {
	if m.findByUsernameFunc != nil {
		return m.findByUsernameFunc(ctx, username)
	}
	return domain.User{}, authrepo.ErrUserNotFound
}

func (m *mockUserRepo) FindByID(ctx context.Context, id domain.UserID) (domain.User, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return domain.User{}, authrepo.ErrUserNotFound
}

// fakeRefreshTokenRepo is an in-memory stand-in keyed by token hash;
// its conditional revoke mirrors the SQL `AND revoked = FALSE` guard.
type fakeRefreshTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*domain.RefreshToken

	createErr error
}

func newFakeRefreshTokenRepo() *fakeRefreshTokenRepo {
	return &fakeRefreshTokenRepo{tokens: map[string]*domain.RefreshToken{}}
}

func (f *fakeRefreshTokenRepo) Create(ctx context.Context, token domain.RefreshToken) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.tokens[token.TokenHash]; exists {
		return errors.New("duplicate token hash")
	}
	copied := token
	f.tokens[token.TokenHash] = &copied
	return nil
}

func (f *fakeRefreshTokenRepo) FindByTokenHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tokens[hash]; ok {
		return *t, nil
	}
	return domain.RefreshToken{}, authrepo.ErrRefreshTokenNotFound
}

func (f *fakeRefreshTokenRepo) RevokeByTokenHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[hash]
	if !ok || t.Revoked {
		return domain.RefreshToken{}, authrepo.ErrRefreshTokenNotFound
	}
	t.Revoked = true
	return *t, nil
}

func (f *fakeRefreshTokenRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx authrepo.RefreshTokenTx) error) error {
	return fn(ctx, &fakeRefreshTokenTx{repo: f})
}

type fakeRefreshTokenTx struct {
	repo *fakeRefreshTokenRepo
}

func (t *fakeRefreshTokenTx) FindByTokenHashForUpdate(ctx context.Context, hash string) (domain.RefreshToken, error) {
	return t.repo.FindByTokenHash(ctx, hash)
}

func (t *fakeRefreshTokenTx) Revoke(ctx context.Context, id string) (bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, token := range t.repo.tokens {
		if token.ID == id {
			if token.Revoked {
				return false, nil
			}
			token.Revoked = true
			return true, nil
		}
	}
	return false, nil
}

func (t *fakeRefreshTokenTx) Create(ctx context.Context, token domain.RefreshToken) error {
	return t.repo.Create(ctx, token)
}

type mockHasher struct {
	hashFunc    func(password string) (string, error)
	compareFunc func(hash string, password string) error
}

func (m *mockHasher) Hash(password string) (string, error) {
	if m.hashFunc != nil {
		return m.hashFunc(password)
	}
	return "hashed:" + password, nil
}

func (m *mockHasher) Compare(hash string, password string) error {
	if m.compareFunc != nil {
		return m.compareFunc(hash, password)
	}
	if hash != "hashed:"+password {
		return errors.New("password mismatch")
	}
	return nil
}

type mockIDGenerator struct {
	mu   sync.Mutex
	next int
}

func (m *mockIDGenerator) NewID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	return fmt.Sprintf("id-%d", m.next), nil
}

type mockCodec struct {
	issueFunc func(userID, email, username string) (string, error)
}

func (m *mockCodec) Issue(userID, email, username string) (string, error) {
	if m.issueFunc != nil {
		return m.issueFunc(userID, email, username)
	}
	return "access-token-for-" + userID, nil
}

type testDeps struct {
	userRepo    *mockUserRepo
	refreshRepo *fakeRefreshTokenRepo
	store       *RefreshTokenStore
	hasher      *mockHasher
	codec       *mockCodec
	clock       *clock.MockClock
}

func setupAuthService(t *testing.T) (*AuthService, *testDeps) {
	t.Helper()

	log, err := logger.New("", "test", "CRITICAL")
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}

	deps := &testDeps{
		userRepo:    &mockUserRepo{},
		refreshRepo: newFakeRefreshTokenRepo(),
		hasher:      &mockHasher{},
		codec:       &mockCodec{},
		clock:       clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}

	idGen := &mockIDGenerator{}
	deps.store = NewRefreshTokenStore(deps.refreshRepo, idGen, 30*24*time.Hour, deps.clock, log)

	svc := NewAuthService(deps.userRepo, deps.store, deps.hasher, idGen, deps.codec, deps.clock, log)
	return svc, deps
}
