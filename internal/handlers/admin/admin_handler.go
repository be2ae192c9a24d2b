// internal/handlers/admin/admin_handler.go
package admin

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"audiotricks-service/internal/domain/audit"
	"audiotricks-service/internal/domain/auth"
	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/middleware"
	"audiotricks-service/internal/pkg/response"
	adminUsecase "audiotricks-service/internal/service/admin"

	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type AdminHandler struct {
	service *adminUsecase.AdminService
}

func NewAdminHandler(service *adminUsecase.AdminService) *AdminHandler {
	return &AdminHandler{service: service}
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	var filters auth.UserListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.ValidationError(c, err)
		return
	}

	users, total, err := h.service.ListUsers(c.Request.Context(), &filters)
	if err != nil {
		response.FromError(c, "failed to list users", err)
		return
	}
	response.Success(c, http.StatusOK, "users retrieved", gin.H{
		"users": users,
		"total": total,
		"page":  filters.Page,
		"limit": filters.Limit,
	})
}

func (h *AdminHandler) AssignUserPlan(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid user id", err)
		return
	}
	var req plan.AssignPersonalPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}

	sub, err := h.service.AssignUserPlan(c.Request.Context(), middleware.MustGetUserID(c), userID, req.PlanID)
	if err != nil {
		response.FromError(c, "failed to assign plan", err)
		return
	}
	response.Success(c, http.StatusOK, "plan assigned", sub)
}

func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	var filters audit.Filters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.ValidationError(c, err)
		return
	}

	logs, total, err := h.service.ListAuditLogs(c.Request.Context(), &filters)
	if err != nil {
		response.FromError(c, "failed to list audit logs", err)
		return
	}
	response.Success(c, http.StatusOK, "audit logs retrieved", gin.H{
		"logs":  logs,
		"total": total,
	})
}

// ExportUsage downloads ?period=YYYY-MM (default: current month) as XLSX.
func (h *AdminHandler) ExportUsage(c *gin.Context) {
	period := c.DefaultQuery("period", time.Now().UTC().Format("2006-01"))

	data, err := h.service.ExportUsage(c.Request.Context(), middleware.MustGetUserID(c), period)
	if err != nil {
		response.FromError(c, "failed to export usage", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="usage-%s.xlsx"`, period))
	c.Data(http.StatusOK, xlsxContentType, data)
}
