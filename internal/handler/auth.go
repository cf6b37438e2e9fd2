package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/apperr"
	"github.com/pathmark/pathmark/internal/auth"
)

// AuthHandlers implements the POST /api/v1/auth/{register,login,oauth,refresh,logout}
// routes of orig spec §6.
type AuthHandlers struct {
	authn  *auth.Authenticator
	logger *zap.SugaredLogger
}

func NewAuthHandlers(authn *auth.Authenticator, logger *zap.SugaredLogger) *AuthHandlers {
	return &AuthHandlers{authn: authn, logger: logger}
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	u, err := h.authn.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]any{
		"id":          u.ID,
		"email":       u.Email,
		"displayName": u.DisplayName,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	result, err := h.authn.Login(r.Context(), req.Email, req.Password, req.DeviceID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, loginResponse(result))
}

type oauthRequest struct {
	ProviderEmail       string `json:"providerEmail"`
	ProviderDisplayName string `json:"providerDisplayName"`
}

func (h *AuthHandlers) OAuth(w http.ResponseWriter, r *http.Request) {
	var req oauthRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	result, err := h.authn.OAuthLogin(r.Context(), req.ProviderEmail, req.ProviderDisplayName)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, loginResponse(result))
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	tokens, err := h.authn.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"accessToken":  tokens.AccessToken,
		"refreshToken": tokens.RefreshToken,
		"expiresIn":    tokens.ExpiresIn,
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
	AllDevices   bool   `json:"allDevices"`
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	if err := h.authn.Logout(r.Context(), req.RefreshToken, req.AllDevices); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true})
}

func loginResponse(result *auth.LoginResult) map[string]any {
	return map[string]any{
		"user": map[string]any{
			"id":          result.User.ID,
			"email":       result.User.Email,
			"displayName": result.User.DisplayName,
		},
		"accessToken":  result.Tokens.AccessToken,
		"refreshToken": result.Tokens.RefreshToken,
		"expiresIn":    result.Tokens.ExpiresIn,
		"deviceLinked": result.DeviceLinked,
	}
}
