package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/auth"
)

// Handlers bundles every route group's handler struct, built by
// cmd/pathmark and passed to NewMux.
type Handlers struct {
	Auth     *AuthHandlers
	Location *LocationHandlers
	Trip     *TripHandlers
	Group    *GroupHandlers
	Settings *SettingsHandlers
	Device   *DeviceHandlers
	Admin    *AdminHandlers
}

// NewMux registers every route of orig spec §6 on a Go 1.22 method-pattern
// ServeMux, grounded on the teacher's cmd/server/main.go registration
// style (mux.Handle("METHOD /path/{param}", handler.Wrap(fn, mw...))).
func NewMux(h *Handlers, authn *auth.Authenticator, logger *zap.SugaredLogger) http.Handler {
	mux := http.NewServeMux()

	authMW := Authenticate(authn, logger)

	// -- Auth (public) --
	mux.HandleFunc("POST /api/v1/auth/register", h.Auth.Register)
	mux.HandleFunc("POST /api/v1/auth/login", h.Auth.Login)
	mux.HandleFunc("POST /api/v1/auth/oauth", h.Auth.OAuth)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.Auth.Refresh)
	mux.HandleFunc("POST /api/v1/auth/logout", h.Auth.Logout)

	// -- Device registration (public: a device has no credential yet) --
	mux.HandleFunc("POST /api/v1/devices/register", h.Device.Register)

	// -- Device enrollment (requires a user session) --
	mux.Handle("POST /api/v1/devices/enroll", Wrap(http.HandlerFunc(h.Device.Enroll), authMW, RequireUser))

	// -- Telemetry ingestion (user, API key, or device token) --
	mux.Handle("POST /api/v1/locations", Wrap(http.HandlerFunc(h.Location.UploadLocation), authMW))
	mux.Handle("POST /api/v1/locations/batch", Wrap(http.HandlerFunc(h.Location.UploadLocationBatch), authMW))
	mux.Handle("POST /api/v1/movement-events", Wrap(http.HandlerFunc(h.Location.UploadMovementEvent), authMW))
	mux.Handle("POST /api/v1/movement-events/batch", Wrap(http.HandlerFunc(h.Location.UploadMovementEventBatch), authMW))

	mux.Handle("GET /api/v1/devices/{deviceId}/locations", Wrap(withPathValue1(h.Location.History, "deviceId"), authMW))
	mux.Handle("GET /api/v1/devices/{deviceId}", Wrap(withPathValue1(h.Device.Get, "deviceId"), authMW))
	mux.Handle("GET /api/v1/devices/{deviceId}/groups", Wrap(withPathValue1(h.Device.Groups, "deviceId"), authMW))

	// -- Device settings --
	mux.Handle("GET /api/v1/devices/{deviceId}/settings", Wrap(withPathValue1(h.Settings.Get, "deviceId"), authMW))
	mux.Handle("PUT /api/v1/devices/{deviceId}/settings", Wrap(withPathValue1(h.Settings.UpdateBulk, "deviceId"), authMW))
	mux.Handle("PUT /api/v1/devices/{deviceId}/settings/locks", Wrap(withPathValue1(h.Settings.Lock, "deviceId"), authMW, RequireUser))
	mux.Handle("DELETE /api/v1/devices/{deviceId}/settings/locks/{key}", Wrap(withPathValue2(h.Settings.Unlock, "deviceId", "key"), authMW, RequireUser))
	mux.Handle("PUT /api/v1/devices/{deviceId}/settings/{key}", Wrap(withPathValue2(h.Settings.UpdateOne, "deviceId", "key"), authMW))

	// -- Trips --
	mux.Handle("POST /api/v1/trips", Wrap(http.HandlerFunc(h.Trip.Create), authMW))
	mux.Handle("GET /api/v1/trips/{tripId}", Wrap(withPathValue1(h.Trip.Get, "tripId"), authMW))
	mux.Handle("PATCH /api/v1/trips/{tripId}/state", Wrap(withPathValue1(h.Trip.UpdateState, "tripId"), authMW))
	mux.Handle("GET /api/v1/trips/{tripId}/path", Wrap(withPathValue1(h.Trip.Path, "tripId"), authMW))
	mux.Handle("POST /api/v1/trips/{tripId}/path/correct", Wrap(withPathValue1(h.Trip.CorrectPath, "tripId"), authMW))

	// -- Groups --
	mux.Handle("POST /api/v1/groups", Wrap(http.HandlerFunc(h.Group.Create), authMW, RequireUser))
	mux.Handle("POST /api/v1/groups/join", Wrap(http.HandlerFunc(h.Group.Join), authMW, RequireUser))
	mux.Handle("POST /api/v1/groups/migrate", Wrap(http.HandlerFunc(h.Group.Migrate), authMW, RequireUser))
	mux.Handle("GET /api/v1/groups/{groupId}", Wrap(withPathValue1(h.Group.Get, "groupId"), authMW, RequireUser))
	mux.Handle("PATCH /api/v1/groups/{groupId}", Wrap(withPathValue1(h.Group.Update, "groupId"), authMW, RequireUser))
	mux.Handle("DELETE /api/v1/groups/{groupId}", Wrap(withPathValue1(h.Group.Delete, "groupId"), authMW, RequireUser))
	mux.Handle("POST /api/v1/groups/{groupId}/transfer", Wrap(withPathValue1(h.Group.Transfer, "groupId"), authMW, RequireUser))
	mux.Handle("GET /api/v1/groups/{groupId}/members", Wrap(withPathValue1(h.Group.ListMembers, "groupId"), authMW, RequireUser))
	mux.Handle("PATCH /api/v1/groups/{groupId}/members/{userId}", Wrap(withPathValue2(h.Group.UpdateMemberRole, "groupId", "userId"), authMW, RequireUser))
	mux.Handle("DELETE /api/v1/groups/{groupId}/members/{userId}", Wrap(withPathValue2(h.Group.RemoveMember, "groupId", "userId"), authMW, RequireUser))
	mux.Handle("POST /api/v1/groups/{groupId}/invites", Wrap(withPathValue1(h.Group.CreateInvite, "groupId"), authMW, RequireUser))
	mux.Handle("POST /api/v1/groups/{groupId}/devices", Wrap(withPathValue1(h.Group.AddDevice, "groupId"), authMW, RequireUser))
	mux.Handle("DELETE /api/v1/groups/{groupId}/devices/{deviceId}", Wrap(withPathValue2(h.Group.RemoveDevice, "groupId", "deviceId"), authMW, RequireUser))

	// -- Admin tree (admin API key only) --
	mux.Handle("GET /api/admin/v1/organizations/{orgId}/users", Wrap(withPathValue1(h.Admin.ListUsers, "orgId"), authMW, RequireAdminAPIKey))
	mux.Handle("POST /api/admin/v1/organizations/{orgId}/users", Wrap(withPathValue1(h.Admin.AddUser, "orgId"), authMW, RequireAdminAPIKey))
	mux.Handle("PATCH /api/admin/v1/organizations/{orgId}/users/{userId}", Wrap(withPathValue2(h.Admin.UpdateUserRole, "orgId", "userId"), authMW, RequireAdminAPIKey))
	mux.Handle("POST /api/admin/v1/organizations/{orgId}/policies", Wrap(withPathValue1(h.Admin.CreatePolicy, "orgId"), authMW, RequireAdminAPIKey))
	mux.Handle("GET /api/admin/v1/organizations/{orgId}/policies/{policyId}", Wrap(withPathValue2(h.Admin.GetPolicy, "orgId", "policyId"), authMW, RequireAdminAPIKey))
	mux.Handle("GET /api/admin/v1/organizations/{orgId}/fleet", Wrap(withPathValue1(h.Admin.Fleet, "orgId"), authMW, RequireAdminAPIKey))
	mux.Handle("GET /api/admin/v1/organizations/{orgId}/audit-logs", Wrap(withPathValue1(h.Admin.AuditLogs, "orgId"), authMW, RequireAdminAPIKey))
	mux.Handle("GET /api/admin/v1/organizations/{orgId}/audit-logs/jobs/{jobId}", Wrap(withPathValue2(h.Admin.AuditExportJobStatus, "orgId", "jobId"), authMW, RequireAdminAPIKey))
	mux.Handle("GET /api/admin/v1/organizations/{orgId}/dashboard", Wrap(withPathValue1(h.Admin.Dashboard, "orgId"), authMW, RequireAdminAPIKey))
	mux.Handle("GET /api/admin/v1/organizations/{orgId}/usage", Wrap(withPathValue1(h.Admin.Usage, "orgId"), authMW, RequireAdminAPIKey))

	return Wrap(mux, CORS, func(next http.Handler) http.Handler { return Recovery(logger, next) })
}

// withPathValue1/2 adapt handler methods taking one or two trailing path
// parameters to plain http.HandlerFunc, reading them via r.PathValue —
// the Go 1.22 ServeMux convention the teacher's routes also rely on for
// {name}-style segments.
func withPathValue1(fn func(http.ResponseWriter, *http.Request, string), name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, r.PathValue(name))
	}
}

func withPathValue2(fn func(http.ResponseWriter, *http.Request, string, string), name1, name2 string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, r.PathValue(name1), r.PathValue(name2))
	}
}
