package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	authcore "github.com/govportal/authcore"
	"github.com/govportal/authcore/cookie"
	"github.com/govportal/authcore/middleware"
)

// Handler serves the /auth/* endpoints.
type Handler struct {
	engine   *authcore.Engine
	codec    *cookie.Codec
	logger   *slog.Logger
	setupURL string
}

// New builds the auth HTTP handler. setupURL is surfaced to clients when
// risk forces two-factor enrollment.
func New(engine *authcore.Engine, codec *cookie.Codec, logger *slog.Logger, setupURL string) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		engine:   engine,
		codec:    codec,
		logger:   logger,
		setupURL: setupURL,
	}
}

// Routes mounts the auth endpoints on a fresh mux. The logout, logout-all
// and sessions endpoints run behind the authentication guard.
func (h *Handler) Routes() http.Handler {
	authed := middleware.Authenticate(h.engine, h.codec)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.Handle("POST /auth/logout", authed(http.HandlerFunc(h.handleLogout)))
	mux.Handle("POST /auth/logout-all", authed(http.HandlerFunc(h.handleLogoutAll)))
	mux.Handle("GET /auth/sessions", authed(http.HandlerFunc(h.handleSessions)))
	return mux
}

type loginBody struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	TwoFactorToken string `json:"twoFactorToken,omitempty"`
	UseBackupCode  bool   `json:"useBackupCode,omitempty"`
}

type userBody struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	IsFirstLogin bool   `json:"isFirstLogin"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Malformed request body",
		})
		return
	}

	ctx := requestContext(r)
	result, err := h.engine.Login(ctx, authcore.LoginRequest{
		Username:       body.Username,
		Password:       body.Password,
		TwoFactorToken: body.TwoFactorToken,
		UseBackupCode:  body.UseBackupCode,
	})
	if err != nil {
		h.writeLoginError(w, r, err)
		return
	}

	switch {
	case result.RequiresSetup:
		writeJSON(w, http.StatusOK, map[string]any{
			"success":                false,
			"requiresAdditionalAuth": true,
			"message":                "Additional verification required, please set up two-factor authentication",
			"riskLevel":              result.RiskLevel,
			"setupUrl":               h.setupURL,
		})
		return
	case result.RequiresTwoFactor:
		writeJSON(w, http.StatusOK, map[string]any{
			"success":           false,
			"requiresTwoFactor": true,
			"message":           "Two-factor code required",
			"riskLevel":         result.RiskLevel,
		})
		return
	}

	if err := h.codec.SetAccessToken(w, result.Tokens.AccessToken); err != nil {
		h.internalError(w, r, err)
		return
	}
	if err := h.codec.SetRefreshToken(w, result.Tokens.RefreshToken); err != nil {
		h.internalError(w, r, err)
		return
	}
	csrfToken, err := h.codec.IssueCSRFToken(w)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	w.Header().Set(middleware.SessionHeader, result.SessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user": userBody{
			ID:           result.User.UserID,
			Username:     result.User.Username,
			Email:        result.User.Email,
			Role:         result.User.Role,
			IsFirstLogin: result.User.IsFirstLogin,
		},
		"csrfToken": csrfToken,
		"sessionId": result.SessionID,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken, err := h.codec.RefreshToken(r)
	if err != nil {
		h.writeSessionExpired(w)
		return
	}

	pair, err := h.engine.Refresh(requestContext(r), refreshToken)
	if err != nil {
		if errors.Is(err, authcore.ErrSessionExpired) {
			h.codec.Clear(w)
			h.writeSessionExpired(w)
			return
		}
		h.internalError(w, r, err)
		return
	}

	if err := h.codec.SetAccessToken(w, pair.AccessToken); err != nil {
		h.internalError(w, r, err)
		return
	}
	if err := h.codec.SetRefreshToken(w, pair.RefreshToken); err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(middleware.SessionHeader)
	if sessionID != "" {
		if err := h.engine.Logout(requestContext(r), sessionID); err != nil && !errors.Is(err, authcore.ErrValidation) {
			h.internalError(w, r, err)
			return
		}
	}
	h.codec.Clear(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.writeSessionExpired(w)
		return
	}
	if err := h.engine.LogoutAll(requestContext(r), claims.UserID); err != nil {
		h.internalError(w, r, err)
		return
	}
	h.codec.Clear(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type sessionBody struct {
	SessionID    string    `json:"sessionId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	IPAddress    string    `json:"ipAddress"`
	UserAgent    string    `json:"userAgent"`
	Current      bool      `json:"current"`
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.writeSessionExpired(w)
		return
	}
	sessions, err := h.engine.Sessions(requestContext(r), claims.UserID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	current := r.Header.Get(middleware.SessionHeader)
	out := make([]sessionBody, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionBody{
			SessionID:    s.SessionID,
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity,
			IPAddress:    s.IPAddress,
			UserAgent:    s.UserAgent,
			Current:      s.SessionID == current,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sessions": out,
	})
}

// writeLoginError maps engine errors onto the login endpoint's contract.
// Credential problems collapse into one generic 401; a rejected second
// factor keeps the requiresTwoFactor marker so the client re-prompts for
// the code instead of the password.
func (h *Handler) writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	var rle *authcore.RateLimitError
	switch {
	case errors.As(err, &rle):
		w.Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())+1))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"success": false,
			"message": "Too many login attempts, please try again later",
		})
	case errors.Is(err, authcore.ErrRateLimited), errors.Is(err, authcore.ErrSecurityBlock):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"success": false,
			"message": "Too many login attempts, please try again later",
		})
	case errors.Is(err, authcore.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Username and password are required",
		})
	case errors.Is(err, authcore.ErrTwoFactorInvalid), errors.Is(err, authcore.ErrBackupCodeInvalid):
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success":           false,
			"requiresTwoFactor": true,
			"message":           "Invalid two-factor code",
		})
	case errors.Is(err, authcore.ErrInvalidCredentials),
		errors.Is(err, authcore.ErrTOTPNotEnrolled):
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false,
			"message": "Invalid credentials",
		})
	default:
		h.internalError(w, r, err)
	}
}

func (h *Handler) writeSessionExpired(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"success": false,
		"message": "Session expired, please log in again",
	})
}

// internalError logs the real cause and returns a generic 500.
func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("auth endpoint failure",
		"path", r.URL.Path,
		"error", err,
	)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"success": false,
		"message": "Internal server error",
	})
}

// requestContext threads the client network identity onto the context.
func requestContext(r *http.Request) context.Context {
	ctx := authcore.WithClientIP(r.Context(), clientIP(r))
	return authcore.WithUserAgent(ctx, r.UserAgent())
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
