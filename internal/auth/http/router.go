package http

import (
	"context"
	"net/http"
	"time"

	"github.com/boxchat/authd/internal/auth/domain"
	"github.com/boxchat/authd/internal/auth/service"
	commonhttp "github.com/boxchat/authd/internal/common/http"
	"github.com/boxchat/authd/internal/common/logger"
)

// AuthWorkflow is implemented by service.AuthService.
type AuthWorkflow interface {
	Register(ctx context.Context, input service.RegisterInput) (service.RegisterResult, error)
	Login(ctx context.Context, input service.LoginInput, meta domain.ClientMetadata) (service.AuthResult, error)
	Refresh(ctx context.Context, rawToken string, meta domain.ClientMetadata) (service.AuthResult, error)
	Logout(ctx context.Context, rawToken string) error
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

const tokenTypeBearer = "bearer"

type Handler struct {
	auth           AuthWorkflow
	requestTimeout time.Duration
	log            *logger.Logger
}

func NewHandler(auth AuthWorkflow, requestTimeout time.Duration, log *logger.Logger) http.Handler {
	h := &Handler{auth: auth, requestTimeout: requestTimeout, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", commonhttp.HealthHandler())
	mux.HandleFunc("/auth/register", h.register)
	mux.HandleFunc("/auth/login", h.login)
	mux.HandleFunc("/auth/refresh", h.refresh)
	mux.HandleFunc("/auth/logout", h.logout)
	return mux
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		commonhttp.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req registerRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		h.log.Warnf("register failed: invalid json: %v", err)
		commonhttp.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	result, err := h.auth.Register(ctx, service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	commonhttp.WriteJSON(w, http.StatusCreated, registerResponse{
		ID:        result.ID,
		Username:  result.Username,
		Email:     result.Email,
		CreatedAt: result.CreatedAt,
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		commonhttp.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req loginRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		h.log.Warnf("login failed: invalid json: %v", err)
		commonhttp.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	result, err := h.auth.Login(ctx, service.LoginInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	}, clientMetadata(r))
	if err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	commonhttp.WriteJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    tokenTypeBearer,
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		commonhttp.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req refreshRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		h.log.Warnf("refresh failed: invalid json: %v", err)
		commonhttp.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	result, err := h.auth.Refresh(ctx, req.RefreshToken, clientMetadata(r))
	if err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	commonhttp.WriteJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    tokenTypeBearer,
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		commonhttp.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req refreshRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		commonhttp.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	if err := h.auth.Logout(ctx, req.RefreshToken); err != nil {
		h.log.Errorf("logout revoke failed: %v", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func clientMetadata(r *http.Request) domain.ClientMetadata {
	return domain.ClientMetadata{
		UserAgent: r.UserAgent(),
		IP:        commonhttp.GetClientIP(r),
	}
}
