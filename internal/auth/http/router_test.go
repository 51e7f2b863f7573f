package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boxchat/authd/internal/auth/domain"
	"github.com/boxchat/authd/internal/auth/service"
	"github.com/boxchat/authd/internal/common/logger"
)

type mockAuthWorkflow struct {
	registerFunc func(ctx context.Context, input service.RegisterInput) (service.RegisterResult, error)
	loginFunc    func(ctx context.Context, input service.LoginInput, meta domain.ClientMetadata) (service.AuthResult, error)
	refreshFunc  func(ctx context.Context, rawToken string, meta domain.ClientMetadata) (service.AuthResult, error)
	logoutFunc   func(ctx context.Context, rawToken string) error
}

func (m *mockAuthWorkflow) Register(ctx context.Context, input service.RegisterInput) (service.RegisterResult, error) {
	if m.registerFunc != nil {
		return m.registerFunc(ctx, input)
	}
	return service.RegisterResult{}, nil
}

func (m *mockAuthWorkflow) Login(ctx context.Context, input service.LoginInput, meta domain.ClientMetadata) (service.AuthResult, error) {
	if m.loginFunc != nil {
		return m.loginFunc(ctx, input, meta)
	}
	return service.AuthResult{}, nil
}

func (m *mockAuthWorkflow) Refresh(ctx context.Context, rawToken string, meta domain.ClientMetadata) (service.AuthResult, error) {
	if m.refreshFunc != nil {
		return m.refreshFunc(ctx, rawToken, meta)
	}
	return service.AuthResult{}, nil
}

func (m *mockAuthWorkflow) Logout(ctx context.Context, rawToken string) error {
	if m.logoutFunc != nil {
		return m.logoutFunc(ctx, rawToken)
	}
	return nil
}

func setupHandler(t *testing.T, auth *mockAuthWorkflow) http.Handler {
	t.Helper()

	log, err := logger.New("", "test", "CRITICAL")
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return NewHandler(auth, 5*time.Second, log)
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandler_RegisterSuccess(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	auth := &mockAuthWorkflow{
		registerFunc: func(_ context.Context, input service.RegisterInput) (service.RegisterResult, error) {
			if input.Username != "alice" || input.Email != "alice@example.com" {
				t.Errorf("unexpected input %+v", input)
			}
			return service.RegisterResult{
				ID:        "user-1",
				Username:  input.Username,
				Email:     input.Email,
				CreatedAt: created,
			}, nil
		},
	}
	handler := setupHandler(t, auth)

	rec := postJSON(t, handler, "/auth/register", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "longenough1",
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp registerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != "user-1" || resp.Email != "alice@example.com" {
		t.Errorf("unexpected response %+v", resp)
	}
	if !resp.CreatedAt.Equal(created) {
		t.Errorf("unexpected created_at %v", resp.CreatedAt)
	}
}

func TestHandler_RegisterDuplicate(t *testing.T) {
	auth := &mockAuthWorkflow{
		registerFunc: func(context.Context, service.RegisterInput) (service.RegisterResult, error) {
			return service.RegisterResult{}, service.ErrUserExists
		},
	}
	handler := setupHandler(t, auth)

	rec := postJSON(t, handler, "/auth/register", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "longenough1",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_RegisterInvalidJSON(t *testing.T) {
	handler := setupHandler(t, &mockAuthWorkflow{})

	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_LoginSuccess(t *testing.T) {
	auth := &mockAuthWorkflow{
		loginFunc: func(_ context.Context, input service.LoginInput, meta domain.ClientMetadata) (service.AuthResult, error) {
			if input.Email != "alice@example.com" {
				t.Errorf("unexpected input %+v", input)
			}
			if meta.UserAgent != "test-agent" {
				t.Errorf("expected user agent to reach the workflow, got %q", meta.UserAgent)
			}
			return service.AuthResult{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil
		},
	}
	handler := setupHandler(t, auth)

	payload, _ := json.Marshal(map[string]string{
		"email":    "alice@example.com",
		"password": "longenough1",
	})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(payload))
	req.Header.Set("User-Agent", "test-agent")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp tokenPairResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.AccessToken != "access-1" || resp.RefreshToken != "refresh-1" {
		t.Errorf("unexpected tokens %+v", resp)
	}
	if resp.TokenType != "bearer" {
		t.Errorf("expected token_type bearer, got %q", resp.TokenType)
	}
}

func TestHandler_LoginInvalidCredentials(t *testing.T) {
	auth := &mockAuthWorkflow{
		loginFunc: func(context.Context, service.LoginInput, domain.ClientMetadata) (service.AuthResult, error) {
			return service.AuthResult{}, service.ErrInvalidCredentials
		},
	}
	handler := setupHandler(t, auth)

	rec := postJSON(t, handler, "/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong",
	})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_RefreshSuccess(t *testing.T) {
	auth := &mockAuthWorkflow{
		refreshFunc: func(_ context.Context, rawToken string, _ domain.ClientMetadata) (service.AuthResult, error) {
			if rawToken != "old-refresh" {
				t.Errorf("unexpected raw token %q", rawToken)
			}
			return service.AuthResult{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
		},
	}
	handler := setupHandler(t, auth)

	rec := postJSON(t, handler, "/auth/refresh", map[string]string{"refresh_token": "old-refresh"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp tokenPairResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.AccessToken != "access-2" || resp.RefreshToken != "refresh-2" {
		t.Errorf("unexpected tokens %+v", resp)
	}
}

func TestHandler_RefreshInvalidToken(t *testing.T) {
	auth := &mockAuthWorkflow{
		refreshFunc: func(context.Context, string, domain.ClientMetadata) (service.AuthResult, error) {
			return service.AuthResult{}, service.ErrInvalidRefreshToken
		},
	}
	handler := setupHandler(t, auth)

	rec := postJSON(t, handler, "/auth/refresh", map[string]string{"refresh_token": "stale"})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_Logout(t *testing.T) {
	called := false
	auth := &mockAuthWorkflow{
		logoutFunc: func(_ context.Context, rawToken string) error {
			called = true
			if rawToken != "some-refresh" {
				t.Errorf("unexpected raw token %q", rawToken)
			}
			return nil
		},
	}
	handler := setupHandler(t, auth)

	rec := postJSON(t, handler, "/auth/logout", map[string]string{"refresh_token": "some-refresh"})

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !called {
		t.Error("expected workflow logout to be called")
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	handler := setupHandler(t, &mockAuthWorkflow{})

	for _, path := range []string{"/auth/register", "/auth/login", "/auth/refresh", "/auth/logout"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", path, rec.Code)
		}
	}
}

func TestHandler_Health(t *testing.T) {
	handler := setupHandler(t, &mockAuthWorkflow{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
