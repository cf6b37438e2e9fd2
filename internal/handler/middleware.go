package handler

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/apperr"
	"github.com/pathmark/pathmark/internal/auth"
	"github.com/pathmark/pathmark/internal/model"
)

// Context keys
// Uses unexported struct types as context keys to guarantee uniqueness
// across packages — no risk of collision with int-based keys.

type identityKeyType struct{}

var identityKey = identityKeyType{}

// CredentialSource distinguishes which of PathMark's three credential
// shapes authenticated the request (orig spec §4.1/§6).
type CredentialSource string

const (
	SourceUser   CredentialSource = "user"
	SourceAPIKey CredentialSource = "api_key"
	SourceDevice CredentialSource = "device"
)

// Identity is the unified representation of "who is calling", populated
// by Authenticate regardless of which credential shape was presented.
type Identity struct {
	Source CredentialSource

	// UserID is set for SourceUser: the subject of a verified access JWT.
	UserID string

	// APIKey is set for SourceAPIKey: the resolved, active key record.
	APIKey *model.ApiKey

	// DeviceToken is set for SourceDevice: the resolved, unexpired token.
	DeviceToken *model.DeviceToken
}

// IdentityFromContext returns the authenticated Identity from the request
// context, or nil if Authenticate was never applied or found no
// credential.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// Authenticate resolves one of three credential shapes (orig spec §4.1,
// §6):
//   - "Authorization: Bearer <jwt>"  → user access token
//   - "X-Api-Key: pm_..."           → machine API key
//   - "X-Device-Token: dt_..."      → enrolled device token
//
// Grounded on the teacher's Authenticate dispatch-by-header shape in
// internal/handler/middleware.go, generalized from OIDC/HMAC to
// PathMark's JWT/API-key/device-token trio.
func Authenticate(authn *auth.Authenticator, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolveIdentity(r, authn)
			if err != nil {
				ErrJSON(w, err)
				return
			}
			if identity == nil {
				ErrJSON(w, apperr.NewInvalidCredential("missing credentials"))
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveIdentity(r *http.Request, authn *auth.Authenticator) (*Identity, error) {
	if apiKey := r.Header.Get("X-Api-Key"); apiKey != "" {
		k, err := authn.ValidateAPIKey(r.Context(), apiKey)
		if err != nil {
			return nil, err
		}
		if err := checkRateLimit(authn, k.ID, k.RateLimitPerMinute, k.IsAdmin); err != nil {
			return nil, err
		}
		return &Identity{Source: SourceAPIKey, APIKey: k}, nil
	}

	if deviceToken := r.Header.Get("X-Device-Token"); deviceToken != "" {
		t, err := authn.ValidateDeviceToken(r.Context(), deviceToken)
		if err != nil {
			return nil, err
		}
		if err := checkRateLimit(authn, t.DeviceID, nil, false); err != nil {
			return nil, err
		}
		return &Identity{Source: SourceDevice, DeviceToken: t}, nil
	}

	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := authn.ValidateAccess(token)
		if err != nil {
			return nil, err
		}
		if err := checkRateLimit(authn, userID, nil, false); err != nil {
			return nil, err
		}
		return &Identity{Source: SourceUser, UserID: userID}, nil
	}

	return nil, nil
}

// adminDefaultRateLimitPerMinute is the admin-key rate limit applied when
// an admin api key carries no explicit override (orig spec §4.1: "default
// 100 req/min, admin keys 1000 req/min, configurable").
const adminDefaultRateLimitPerMinute = 1000

func checkRateLimit(authn *auth.Authenticator, credentialID string, perMinute *int, isAdmin bool) error {
	limit := 0
	switch {
	case perMinute != nil:
		limit = *perMinute
	case isAdmin:
		limit = adminDefaultRateLimitPerMinute
	}
	return authn.CheckRateLimit(credentialID, limit)
}

// RequireUser rejects any identity that did not authenticate as a user
// (API keys and device tokens cannot call user-scoped routes).
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromContext(r.Context())
		if id == nil || id.Source != SourceUser {
			ErrJSON(w, apperr.NewForbidden("this endpoint requires a user session"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireDevice rejects any identity that did not authenticate as an
// enrolled device.
func RequireDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromContext(r.Context())
		if id == nil || id.Source != SourceDevice {
			ErrJSON(w, apperr.NewForbidden("this endpoint requires a device token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdminAPIKey rejects any identity that is not an admin-scoped API
// key (orig spec §6 admin/fleet-management routes).
func RequireAdminAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromContext(r.Context())
		if id == nil || id.Source != SourceAPIKey || !id.APIKey.IsAdmin {
			ErrJSON(w, apperr.NewForbidden("this endpoint requires an admin api key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORS wraps a handler with permissive CORS headers.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Api-Key, X-Device-Token")
		w.Header().Set("Access-Control-Max-Age", "43200")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Recovery catches panics and returns a 500 response.
func Recovery(logger *zap.SugaredLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorf("panic recovered: %v\n%s", err, debug.Stack())
				ErrJSON(w, apperr.NewInternal("internal server error", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Wrap applies a chain of middleware wrappers to a handler.
func Wrap(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// WrapFunc is like Wrap but accepts an http.HandlerFunc.
func WrapFunc(fn http.HandlerFunc, mws ...func(http.Handler) http.Handler) http.Handler {
	return Wrap(fn, mws...)
}
