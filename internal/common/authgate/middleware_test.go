package authgate

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/boxchat/authd/internal/common/logger"
	"github.com/boxchat/authd/internal/common/token"
)

type mockVerifier struct {
	verifyFunc func(tokenString string) (token.Claims, error)
}

func (m *mockVerifier) Verify(tokenString string) (token.Claims, error) {
	if m.verifyFunc != nil {
		return m.verifyFunc(tokenString)
	}
	return token.Claims{}, token.ErrInvalidToken
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("", "test", "CRITICAL")
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return log
}

func gateHandler(t *testing.T, verifier Verifier) http.Handler {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(verifier, []string{"/auth", "/health"}, testLogger(t))(next)
}

func TestMiddleware_PublicPathsBypass(t *testing.T) {
	handler := gateHandler(t, &mockVerifier{})

	for _, path := range []string{"/auth/login", "/auth/refresh", "/health"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("path %s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestMiddleware_MissingHeader(t *testing.T) {
	handler := gateHandler(t, &mockVerifier{})

	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_InvalidToken(t *testing.T) {
	verifier := &mockVerifier{
		verifyFunc: func(string) (token.Claims, error) {
			return token.Claims{}, errors.New("bad signature")
		},
	}
	handler := gateHandler(t, verifier)

	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_ValidTokenForwardsClaims(t *testing.T) {
	want := token.Claims{UserID: "user-123", Email: "alice@x.com", Username: "alice"}
	verifier := &mockVerifier{
		verifyFunc: func(tokenString string) (token.Claims, error) {
			if tokenString != "goodtoken" {
				t.Errorf("expected bearer prefix stripped, got %q", tokenString)
			}
			return want, nil
		},
	}

	var got token.Claims
	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(verifier, []string{"/auth"}, testLogger(t))(next)

	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.Header.Set("Authorization", "Bearer goodtoken")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !ok {
		t.Fatal("expected claims in context")
	}
	if got != want {
		t.Errorf("expected claims %+v, got %+v", want, got)
	}
}

func TestMiddleware_TokenWithoutBearerPrefix(t *testing.T) {
	verifier := &mockVerifier{
		verifyFunc: func(tokenString string) (token.Claims, error) {
			if tokenString != "rawtoken" {
				t.Errorf("expected raw token passed through, got %q", tokenString)
			}
			return token.Claims{UserID: "u", Email: "e@x.com"}, nil
		},
	}
	handler := gateHandler(t, verifier)

	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.Header.Set("Authorization", "rawtoken")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
