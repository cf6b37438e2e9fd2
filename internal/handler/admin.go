package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pathmark/pathmark/internal/apperr"
	"github.com/pathmark/pathmark/internal/audit"
	"github.com/pathmark/pathmark/internal/model"
	"github.com/pathmark/pathmark/internal/store"
)

// AdminHandlers implements the /api/admin/v1/organizations/:orgId/...
// tree of orig spec §6: org user management, device policies, fleet
// listing, audit log queries/export, and summary dashboard/usage views.
// Every route requires RequireAdminAPIKey.
type AdminHandlers struct {
	groups   store.GroupStore
	devices  store.DeviceStore
	audit    store.AuditStore
	exporter *audit.Exporter
	logger   *zap.SugaredLogger
}

func NewAdminHandlers(groups store.GroupStore, devices store.DeviceStore, auditStore store.AuditStore, exporter *audit.Exporter, logger *zap.SugaredLogger) *AdminHandlers {
	return &AdminHandlers{groups: groups, devices: devices, audit: auditStore, exporter: exporter, logger: logger}
}

func (h *AdminHandlers) ListUsers(w http.ResponseWriter, r *http.Request, orgID string) {
	users, err := h.groups.ListOrgUsers(r.Context(), orgID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"users": users})
}

type addOrgUserRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func (h *AdminHandlers) AddUser(w http.ResponseWriter, r *http.Request, orgID string) {
	var req addOrgUserRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	role := model.Role(req.Role)
	if !role.Valid() {
		ErrJSON(w, apperr.NewValidation("invalid role", map[string]any{"role": req.Role}))
		return
	}
	ou := &model.OrgUser{
		OrganizationID: orgID,
		UserID:         req.UserID,
		Role:           role,
		GrantedAt:      time.Now().UTC(),
		GrantedBy:      "admin-api-key",
	}
	if err := h.groups.CreateOrgUser(r.Context(), ou); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusCreated, ou)
}

type updateOrgUserRoleRequest struct {
	Role string `json:"role"`
}

func (h *AdminHandlers) UpdateUserRole(w http.ResponseWriter, r *http.Request, orgID, userID string) {
	var req updateOrgUserRoleRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	role := model.Role(req.Role)
	if !role.Valid() {
		ErrJSON(w, apperr.NewValidation("invalid role", map[string]any{"role": req.Role}))
		return
	}
	if role != model.RoleOwner {
		cur, err := h.groups.GetOrgUser(r.Context(), orgID, userID)
		if err == nil && cur.Role == model.RoleOwner {
			owners, cerr := h.groups.CountNonSuspendedOwners(r.Context(), orgID)
			if cerr == nil && owners <= 1 {
				ErrJSON(w, apperr.NewConflict("cannot demote the organization's last owner"))
				return
			}
		}
	}
	if err := h.groups.UpdateOrgUserRole(r.Context(), orgID, userID, role); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true})
}

type createDevicePolicyRequest struct {
	Name           string         `json:"name"`
	Settings       map[string]any `json:"settings,omitempty"`
	LockedSettings []string       `json:"lockedSettings,omitempty"`
}

func (h *AdminHandlers) CreatePolicy(w http.ResponseWriter, r *http.Request, orgID string) {
	var req createDevicePolicyRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	if req.Name == "" {
		ErrJSON(w, apperr.NewValidation("name is required", nil))
		return
	}
	p := &model.DevicePolicy{
		OrganizationID: orgID,
		Name:           req.Name,
		Settings:       req.Settings,
		LockedSettings: req.LockedSettings,
	}
	if err := h.devices.CreateDevicePolicy(r.Context(), p); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusCreated, p)
}

func (h *AdminHandlers) GetPolicy(w http.ResponseWriter, r *http.Request, orgID, policyID string) {
	p, err := h.devices.GetDevicePolicy(r.Context(), policyID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	if p.OrganizationID != orgID {
		ErrJSON(w, apperr.NewNotFound("policy not found"))
		return
	}
	JSON(w, http.StatusOK, p)
}

// Fleet lists every device belonging to the organization (orig spec §6
// admin "fleet" route).
func (h *AdminHandlers) Fleet(w http.ResponseWriter, r *http.Request, orgID string) {
	devices, err := h.devices.ListDevicesByOrganization(r.Context(), orgID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// AuditLogs implements both the synchronous and asynchronous export paths
// of orig spec §4.7 under the admin "audit-logs" route: format=json (the
// default in-band listing) or format=csv/export for a (possibly async)
// download.
func (h *AdminHandlers) AuditLogs(w http.ResponseWriter, r *http.Request, orgID string) {
	q := r.URL.Query()
	query := store.AuditQuery{OrganizationID: &orgID, Limit: 100}
	if limit := q.Get("limit"); limit != "" {
		if n, err := parseInt(limit); err == nil {
			query.Limit = n
		}
	}
	if offset := q.Get("offset"); offset != "" {
		if n, err := parseInt(offset); err == nil {
			query.Offset = n
		}
	}
	if actorID := q.Get("actorId"); actorID != "" {
		query.ActorID = &actorID
	}
	if resourceType := q.Get("resourceType"); resourceType != "" {
		query.ResourceType = &resourceType
	}

	format := q.Get("format")
	if format == "" {
		format = "json"
	}

	sync, async, err := h.exporter.Export(r.Context(), query, format)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	if async != nil {
		JSON(w, http.StatusAccepted, map[string]any{"jobId": async.JobID, "status": "PENDING"})
		return
	}
	w.Header().Set("Content-Type", sync.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(sync.Body)
}

func (h *AdminHandlers) AuditExportJobStatus(w http.ResponseWriter, r *http.Request, orgID, jobID string) {
	job, err := h.exporter.JobStatus(r.Context(), jobID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, job)
}

// Dashboard returns an at-a-glance fleet summary for an organization (orig
// spec §6 admin "dashboard" route). The three independent lookups run
// concurrently since none depends on another's result.
func (h *AdminHandlers) Dashboard(w http.ResponseWriter, r *http.Request, orgID string) {
	org, devices, users, err := h.fetchOrgSummary(r.Context(), orgID)
	if err != nil {
		ErrJSON(w, err)
		return
	}

	activeDevices, managedDevices := 0, 0
	for _, d := range devices {
		if d.Active {
			activeDevices++
		}
		if d.IsManaged {
			managedDevices++
		}
	}

	JSON(w, http.StatusOK, map[string]any{
		"organization":   org,
		"deviceCount":    len(devices),
		"activeDevices":  activeDevices,
		"managedDevices": managedDevices,
		"userCount":      len(users),
	})
}

// Usage reports plan-limit consumption, the billing-facing counterpart to
// Dashboard's operational summary.
func (h *AdminHandlers) Usage(w http.ResponseWriter, r *http.Request, orgID string) {
	org, devices, users, err := h.fetchOrgSummary(r.Context(), orgID)
	if err != nil {
		ErrJSON(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"plan":    org.Plan,
		"devices": map[string]any{"used": len(devices), "limit": org.MaxDevices},
		"users":   map[string]any{"used": len(users), "limit": org.MaxUsers},
	})
}

// fetchOrgSummary runs the three independent lookups Dashboard and Usage
// both need in parallel via errgroup, since none depends on another's
// result.
func (h *AdminHandlers) fetchOrgSummary(ctx context.Context, orgID string) (*model.Organization, []*model.Device, []*model.OrgUser, error) {
	var org *model.Organization
	var devices []*model.Device
	var users []*model.OrgUser

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		org, err = h.groups.GetOrganization(gctx, orgID)
		return err
	})
	g.Go(func() error {
		var err error
		devices, err = h.devices.ListDevicesByOrganization(gctx, orgID)
		return err
	})
	g.Go(func() error {
		var err error
		users, err = h.groups.ListOrgUsers(gctx, orgID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return org, devices, users, nil
}
