// internal/handlers/workspace/workspace_handler.go
package workspace

import (
	"net/http"
	"strconv"

	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/domain/workspace"
	"audiotricks-service/internal/middleware"
	"audiotricks-service/internal/pkg/response"
	workspaceUsecase "audiotricks-service/internal/service/workspace"

	"github.com/gin-gonic/gin"
)

type WorkspaceHandler struct {
	service *workspaceUsecase.WorkspaceService
}

func NewWorkspaceHandler(service *workspaceUsecase.WorkspaceService) *WorkspaceHandler {
	return &WorkspaceHandler{service: service}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid "+name, err)
		return 0, false
	}
	return id, true
}

// ========== Workspaces ==========

func (h *WorkspaceHandler) CreateWorkspace(c *gin.Context) {
	var req workspace.CreateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}

	ws, err := h.service.CreateWorkspace(c.Request.Context(), middleware.MustGetUserID(c), &req)
	if err != nil {
		response.FromError(c, "failed to create workspace", err)
		return
	}
	response.Success(c, http.StatusCreated, "workspace created", ws)
}

func (h *WorkspaceHandler) ListWorkspaces(c *gin.Context) {
	list, err := h.service.ListWorkspaces(c.Request.Context(), middleware.MustGetUserID(c))
	if err != nil {
		response.FromError(c, "failed to list workspaces", err)
		return
	}
	response.Success(c, http.StatusOK, "workspaces retrieved", list)
}

func (h *WorkspaceHandler) GetWorkspace(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	ws, err := h.service.GetWorkspace(c.Request.Context(), middleware.MustGetUserID(c), id)
	if err != nil {
		response.FromError(c, "failed to get workspace", err)
		return
	}
	response.Success(c, http.StatusOK, "workspace retrieved", ws)
}

func (h *WorkspaceHandler) UpdateWorkspace(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req workspace.UpdateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}

	ws, err := h.service.UpdateWorkspace(c.Request.Context(), middleware.MustGetUserID(c), id, &req)
	if err != nil {
		response.FromError(c, "failed to update workspace", err)
		return
	}
	response.Success(c, http.StatusOK, "workspace updated", ws)
}

// ========== Members ==========

func (h *WorkspaceHandler) ListMembers(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	members, err := h.service.ListMembers(c.Request.Context(), middleware.MustGetUserID(c), id)
	if err != nil {
		response.FromError(c, "failed to list members", err)
		return
	}
	response.Success(c, http.StatusOK, "members retrieved", members)
}

func (h *WorkspaceHandler) ChangeRole(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	target, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	var req workspace.ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}

	if err := h.service.ChangeRole(c.Request.Context(), middleware.MustGetUserID(c), id, target, req.Role); err != nil {
		response.FromError(c, "failed to change role", err)
		return
	}
	response.Success(c, http.StatusOK, "role updated", nil)
}

func (h *WorkspaceHandler) RemoveMember(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	target, ok := pathID(c, "user_id")
	if !ok {
		return
	}

	if err := h.service.RemoveMember(c.Request.Context(), middleware.MustGetUserID(c), id, target); err != nil {
		response.FromError(c, "failed to remove member", err)
		return
	}
	response.Success(c, http.StatusOK, "member removed", nil)
}

func (h *WorkspaceHandler) AssignMemberPlan(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	target, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	var req plan.AssignMemberPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}

	sub, err := h.service.AssignMemberPlan(c.Request.Context(), middleware.MustGetUserID(c), id, target, req.PlanID, req.Reason)
	if err != nil {
		response.FromError(c, "failed to assign plan", err)
		return
	}
	response.Success(c, http.StatusOK, "plan assigned", sub)
}

func (h *WorkspaceHandler) ClearMemberPlan(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	target, ok := pathID(c, "user_id")
	if !ok {
		return
	}

	if err := h.service.ClearMemberPlan(c.Request.Context(), middleware.MustGetUserID(c), id, target); err != nil {
		response.FromError(c, "failed to clear plan override", err)
		return
	}
	response.Success(c, http.StatusOK, "plan override cleared", nil)
}

// ========== Invitations ==========

func (h *WorkspaceHandler) Invite(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req workspace.InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}

	inv, err := h.service.Invite(c.Request.Context(), middleware.MustGetUserID(c), id, &req)
	if err != nil {
		response.FromError(c, "failed to invite member", err)
		return
	}
	response.Success(c, http.StatusCreated, "invitation sent", inv)
}

func (h *WorkspaceHandler) ListInvitations(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	list, err := h.service.ListInvitations(c.Request.Context(), middleware.MustGetUserID(c), id)
	if err != nil {
		response.FromError(c, "failed to list invitations", err)
		return
	}
	response.Success(c, http.StatusOK, "invitations retrieved", list)
}

func (h *WorkspaceHandler) RevokeInvitation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	invID, ok := pathID(c, "invitation_id")
	if !ok {
		return
	}

	if err := h.service.RevokeInvitation(c.Request.Context(), middleware.MustGetUserID(c), id, invID); err != nil {
		response.FromError(c, "failed to revoke invitation", err)
		return
	}
	response.Success(c, http.StatusOK, "invitation revoked", nil)
}

// AcceptInvitation joins the workspace behind :token as the logged-in user.
func (h *WorkspaceHandler) AcceptInvitation(c *gin.Context) {
	ws, err := h.service.AcceptInvitation(c.Request.Context(), middleware.MustGetUserID(c), middleware.GetEmail(c), c.Param("token"))
	if err != nil {
		response.FromError(c, "failed to accept invitation", err)
		return
	}
	response.Success(c, http.StatusOK, "invitation accepted", ws)
}

// ========== Plan & usage ==========

func (h *WorkspaceHandler) EffectivePlan(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	ep, err := h.service.EffectivePlan(c.Request.Context(), middleware.MustGetUserID(c), id)
	if err != nil {
		response.FromError(c, "failed to resolve plan", err)
		return
	}
	response.Success(c, http.StatusOK, "effective plan", ep)
}

func (h *WorkspaceHandler) Usage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	summary, err := h.service.Usage(c.Request.Context(), middleware.MustGetUserID(c), id)
	if err != nil {
		response.FromError(c, "failed to load usage", err)
		return
	}
	response.Success(c, http.StatusOK, "usage retrieved", summary)
}
