package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/apperr"
	"github.com/pathmark/pathmark/internal/authz"
	"github.com/pathmark/pathmark/internal/model"
	"github.com/pathmark/pathmark/internal/store"
)

// GroupHandlers implements the /api/v1/groups... routes of orig spec §6:
// group CRUD, invite join, ownership transfer, registration-group
// migration, and device membership.
type GroupHandlers struct {
	groups store.GroupStore
	authz  *authz.Engine
	logger *zap.SugaredLogger
}

func NewGroupHandlers(groups store.GroupStore, az *authz.Engine, logger *zap.SugaredLogger) *GroupHandlers {
	return &GroupHandlers{groups: groups, authz: az, logger: logger}
}

type createGroupRequest struct {
	Name       string  `json:"name"`
	Slug       string  `json:"slug"`
	IconEmoji  *string `json:"iconEmoji,omitempty"`
	MaxDevices int     `json:"maxDevices,omitempty"`
}

func (h *GroupHandlers) Create(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	var req createGroupRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	if req.Name == "" || req.Slug == "" {
		ErrJSON(w, apperr.NewValidation("name and slug are required", nil))
		return
	}
	maxDevices := req.MaxDevices
	if maxDevices <= 0 {
		maxDevices = 25
	}
	g := &model.Group{
		Name:        req.Name,
		Slug:        req.Slug,
		IconEmoji:   req.IconEmoji,
		OwnerUserID: id.UserID,
		MaxDevices:  maxDevices,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.groups.CreateGroup(r.Context(), g); err != nil {
		ErrJSON(w, err)
		return
	}
	membership := &model.GroupMembership{
		GroupID:  g.ID,
		UserID:   id.UserID,
		Role:     model.GroupRoleOwner,
		JoinedAt: g.CreatedAt,
	}
	if err := h.groups.CreateGroupMembership(r.Context(), membership); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusCreated, g)
}

func (h *GroupHandlers) Get(w http.ResponseWriter, r *http.Request, groupID string) {
	id := IdentityFromContext(r.Context())
	g, err := h.groups.GetGroup(r.Context(), groupID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	if _, err := h.groups.GetGroupMembership(r.Context(), groupID, id.UserID); err != nil {
		ErrJSON(w, apperr.NewForbidden("not a member of this group"))
		return
	}
	JSON(w, http.StatusOK, g)
}

type updateGroupRequest struct {
	Name       *string        `json:"name,omitempty"`
	IconEmoji  *string        `json:"iconEmoji,omitempty"`
	Settings   map[string]any `json:"settings,omitempty"`
	MaxDevices *int           `json:"maxDevices,omitempty"`
}

func (h *GroupHandlers) Update(w http.ResponseWriter, r *http.Request, groupID string) {
	id := IdentityFromContext(r.Context())
	m, err := h.groups.GetGroupMembership(r.Context(), groupID, id.UserID)
	if err != nil {
		ErrJSON(w, apperr.NewForbidden("not a member of this group"))
		return
	}
	if m.Role != model.GroupRoleOwner && m.Role != model.GroupRoleAdmin {
		ErrJSON(w, apperr.NewForbidden("requires admin or owner role"))
		return
	}
	g, err := h.groups.GetGroup(r.Context(), groupID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	var req updateGroupRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	if req.Name != nil {
		g.Name = *req.Name
	}
	if req.IconEmoji != nil {
		g.IconEmoji = req.IconEmoji
	}
	if req.Settings != nil {
		g.Settings = req.Settings
	}
	if req.MaxDevices != nil {
		g.MaxDevices = *req.MaxDevices
	}
	if err := h.groups.UpdateGroup(r.Context(), g); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, g)
}

func (h *GroupHandlers) Delete(w http.ResponseWriter, r *http.Request, groupID string) {
	id := IdentityFromContext(r.Context())
	m, err := h.groups.GetGroupMembership(r.Context(), groupID, id.UserID)
	if err != nil {
		ErrJSON(w, apperr.NewForbidden("not a member of this group"))
		return
	}
	if m.Role != model.GroupRoleOwner {
		ErrJSON(w, apperr.NewForbidden("requires owner role"))
		return
	}
	if err := h.groups.DeleteGroup(r.Context(), groupID); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true})
}

type joinGroupRequest struct {
	Code string `json:"code"`
}

func (h *GroupHandlers) Join(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	var req joinGroupRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	inv, err := h.authz.JoinByInviteCode(r.Context(), req.Code, id.UserID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	g, err := h.groups.GetGroup(r.Context(), inv.GroupID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, g)
}

type transferGroupRequest struct {
	TargetUserID string `json:"targetUserId"`
}

func (h *GroupHandlers) Transfer(w http.ResponseWriter, r *http.Request, groupID string) {
	id := IdentityFromContext(r.Context())
	var req transferGroupRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	if req.TargetUserID == "" {
		ErrJSON(w, apperr.NewValidation("targetUserId is required", nil))
		return
	}
	m, err := h.groups.GetGroupMembership(r.Context(), groupID, id.UserID)
	if err != nil || m.Role != model.GroupRoleOwner {
		ErrJSON(w, apperr.NewForbidden("requires owner role"))
		return
	}
	if _, err := h.groups.GetGroupMembership(r.Context(), groupID, req.TargetUserID); err != nil {
		ErrJSON(w, apperr.NewValidation("target user must already be a group member", nil))
		return
	}
	if err := h.authz.TransferGroupOwnership(r.Context(), groupID, id.UserID, req.TargetUserID); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true})
}

type migrateGroupRequest struct {
	RegistrationGroupID string `json:"registrationGroupId"`
	GroupName           string `json:"groupName"`
}

// Migrate implements the registration-group → authenticated-group
// migration of orig spec §4.2, idempotent on (caller, registrationGroupId).
func (h *GroupHandlers) Migrate(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	var req migrateGroupRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	if req.RegistrationGroupID == "" || req.GroupName == "" {
		ErrJSON(w, apperr.NewValidation("registrationGroupId and groupName are required", nil))
		return
	}
	log, err := h.authz.MigrateRegistrationGroup(r.Context(), id.UserID, req.RegistrationGroupID, req.GroupName)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, log)
}

type addDeviceToGroupRequest struct {
	DeviceID string `json:"deviceId"`
}

func (h *GroupHandlers) AddDevice(w http.ResponseWriter, r *http.Request, groupID string) {
	id := IdentityFromContext(r.Context())
	m, err := h.groups.GetGroupMembership(r.Context(), groupID, id.UserID)
	if err != nil || (m.Role != model.GroupRoleOwner && m.Role != model.GroupRoleAdmin) {
		ErrJSON(w, apperr.NewForbidden("requires admin or owner role"))
		return
	}
	var req addDeviceToGroupRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	membership := &model.DeviceGroupMembership{
		DeviceID: req.DeviceID,
		GroupID:  groupID,
		AddedBy:  id.UserID,
		AddedAt:  time.Now().UTC(),
	}
	if err := h.groups.CreateDeviceGroupMembership(r.Context(), membership); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusCreated, membership)
}

func (h *GroupHandlers) RemoveDevice(w http.ResponseWriter, r *http.Request, groupID, deviceID string) {
	id := IdentityFromContext(r.Context())
	m, err := h.groups.GetGroupMembership(r.Context(), groupID, id.UserID)
	if err != nil || (m.Role != model.GroupRoleOwner && m.Role != model.GroupRoleAdmin) {
		ErrJSON(w, apperr.NewForbidden("requires admin or owner role"))
		return
	}
	if err := h.groups.DeleteDeviceGroupMembership(r.Context(), deviceID, groupID); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true})
}

// ListMembers lists a group's user memberships (orig spec §6).
func (h *GroupHandlers) ListMembers(w http.ResponseWriter, r *http.Request, groupID string) {
	id := IdentityFromContext(r.Context())
	if _, err := h.groups.GetGroupMembership(r.Context(), groupID, id.UserID); err != nil {
		ErrJSON(w, apperr.NewForbidden("not a member of this group"))
		return
	}
	members, err := h.groups.ListGroupMemberships(r.Context(), groupID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"members": members})
}

type updateMemberRoleRequest struct {
	Role string `json:"role"`
}

func (h *GroupHandlers) UpdateMemberRole(w http.ResponseWriter, r *http.Request, groupID, targetUserID string) {
	id := IdentityFromContext(r.Context())
	actor, err := h.groups.GetGroupMembership(r.Context(), groupID, id.UserID)
	if err != nil {
		ErrJSON(w, apperr.NewForbidden("not a member of this group"))
		return
	}
	target, err := h.groups.GetGroupMembership(r.Context(), groupID, targetUserID)
	if err != nil {
		ErrJSON(w, apperr.NewNotFound("member not found"))
		return
	}
	var req updateMemberRoleRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	newRole := model.GroupRole(req.Role)
	if !newRole.Valid() {
		ErrJSON(w, apperr.NewValidation("invalid role", map[string]any{"role": req.Role}))
		return
	}
	if !authz.CanPromote(actor.Role, target.Role, newRole) {
		ErrJSON(w, apperr.NewForbidden("insufficient role to make this change"))
		return
	}
	if err := h.groups.UpdateGroupMembershipRole(r.Context(), groupID, targetUserID, newRole); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *GroupHandlers) RemoveMember(w http.ResponseWriter, r *http.Request, groupID, targetUserID string) {
	id := IdentityFromContext(r.Context())
	if err := h.authz.RemoveMember(r.Context(), groupID, id.UserID, targetUserID); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true})
}

type createInviteRequest struct {
	PresetRole string `json:"presetRole"`
	MaxUses    int    `json:"maxUses,omitempty"`
	TTLHours   int    `json:"ttlHours,omitempty"`
}

func (h *GroupHandlers) CreateInvite(w http.ResponseWriter, r *http.Request, groupID string) {
	id := IdentityFromContext(r.Context())
	m, err := h.groups.GetGroupMembership(r.Context(), groupID, id.UserID)
	if err != nil || (m.Role != model.GroupRoleOwner && m.Role != model.GroupRoleAdmin) {
		ErrJSON(w, apperr.NewForbidden("requires admin or owner role"))
		return
	}
	var req createInviteRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	role := model.GroupRole(req.PresetRole)
	if !role.Valid() || role == model.GroupRoleOwner {
		ErrJSON(w, apperr.NewValidation("presetRole must be admin, member, or viewer", nil))
		return
	}
	maxUses := req.MaxUses
	if maxUses <= 0 {
		maxUses = 1
	}
	ttl := time.Duration(req.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	code, err := authz.GenerateInviteCode()
	if err != nil {
		ErrJSON(w, apperr.NewInternal("failed to generate invite code", err))
		return
	}
	inv := &model.GroupInvite{
		GroupID:     groupID,
		Code:        code,
		PresetRole:  role,
		MaxUses:     maxUses,
		CurrentUses: 0,
		ExpiresAt:   time.Now().UTC().Add(ttl),
		CreatedBy:   id.UserID,
	}
	if err := h.groups.CreateGroupInvite(r.Context(), inv); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusCreated, inv)
}
