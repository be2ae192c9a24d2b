// internal/domain/plan/dto.go
package plan

type AssignPersonalPlanRequest struct {
	PlanID int64 `json:"plan_id" binding:"required,gt=0"`
}

type AssignMemberPlanRequest struct {
	PlanID int64  `json:"plan_id" binding:"required,gt=0"`
	Reason string `json:"reason" binding:"max=500"`
}

type CreatePlanRequest struct {
	Code          string     `json:"code" binding:"required,max=50"`
	Name          string     `json:"name" binding:"required,max=255"`
	Description   string     `json:"description"`
	Category      Category   `json:"category" binding:"required,oneof=free personal team enterprise"`
	IsPublic      bool       `json:"is_public"`
	PriceCents    int64      `json:"price_cents" binding:"min=0"`
	Currency      string     `json:"currency" binding:"required,len=3"`
	BillingCycle  string     `json:"billing_cycle" binding:"required,oneof=monthly yearly"`
	StripePriceID string     `json:"stripe_price_id"`
	Limits        PlanLimits `json:"limits"`
}

type RuleRequest struct {
	Name            string     `json:"name" binding:"required,max=100"`
	Strategy        Strategy   `json:"strategy" binding:"required,oneof=user_overrides workspace_overrides highest_plan most_permissive"`
	Priority        int        `json:"priority" binding:"min=0"`
	Roles           []string   `json:"roles"`
	WorkspaceTypes  []string   `json:"workspace_types"`
	PlanCategories  []Category `json:"plan_categories"`
	ComparisonField string     `json:"comparison_field"`
	IsActive        *bool      `json:"is_active"`
	Description     string     `json:"description"`
}

type ListFilters struct {
	Status   *Status   `form:"status"`
	Category *Category `form:"category"`
	IsPublic *bool     `form:"is_public"`
}
