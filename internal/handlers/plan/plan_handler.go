// internal/handlers/plan/plan_handler.go
package plan

import (
	"net/http"
	"strconv"

	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/pkg/response"
	planUsecase "audiotricks-service/internal/service/plan"

	"github.com/gin-gonic/gin"
)

// PlanHandler serves plan catalogue and hierarchy rule administration.
type PlanHandler struct {
	service *planUsecase.AdminService
}

func NewPlanHandler(service *planUsecase.AdminService) *PlanHandler {
	return &PlanHandler{service: service}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid id", err)
		return 0, false
	}
	return id, true
}

// ========== Plans ==========

func (h *PlanHandler) ListPlans(c *gin.Context) {
	var filters plan.ListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.ValidationError(c, err)
		return
	}

	plans, err := h.service.ListPlans(c.Request.Context(), &filters)
	if err != nil {
		response.FromError(c, "failed to list plans", err)
		return
	}
	response.Success(c, http.StatusOK, "plans retrieved", plans)
}

func (h *PlanHandler) GetPlan(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	p, err := h.service.GetPlan(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, "failed to get plan", err)
		return
	}
	response.Success(c, http.StatusOK, "plan retrieved", p)
}

func (h *PlanHandler) CreatePlan(c *gin.Context) {
	var req plan.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}

	p, err := h.service.CreatePlan(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, "failed to create plan", err)
		return
	}
	response.Success(c, http.StatusCreated, "plan created", p)
}

// NewVersion publishes edited terms as version+1 and retires the old row.
func (h *PlanHandler) NewVersion(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req plan.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}

	p, err := h.service.NewVersion(c.Request.Context(), id, &req)
	if err != nil {
		response.FromError(c, "failed to version plan", err)
		return
	}
	response.Success(c, http.StatusCreated, "plan version created", p)
}

func (h *PlanHandler) Deactivate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.service.Deactivate(c.Request.Context(), id); err != nil {
		response.FromError(c, "failed to deactivate plan", err)
		return
	}
	response.Success(c, http.StatusOK, "plan deactivated", nil)
}

// ========== Hierarchy rules ==========

func (h *PlanHandler) ListRules(c *gin.Context) {
	rules, err := h.service.ListRules(c.Request.Context())
	if err != nil {
		response.FromError(c, "failed to list rules", err)
		return
	}
	response.Success(c, http.StatusOK, "rules retrieved", rules)
}

func (h *PlanHandler) CreateRule(c *gin.Context) {
	var req plan.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}

	rule, err := h.service.CreateRule(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, "failed to create rule", err)
		return
	}
	response.Success(c, http.StatusCreated, "rule created", rule)
}

func (h *PlanHandler) UpdateRule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req plan.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}

	rule, err := h.service.UpdateRule(c.Request.Context(), id, &req)
	if err != nil {
		response.FromError(c, "failed to update rule", err)
		return
	}
	response.Success(c, http.StatusOK, "rule updated", rule)
}
