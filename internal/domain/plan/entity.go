// internal/domain/plan/entity.go
package plan

import "time"

type Category string

const (
	CategoryFree       Category = "free"
	CategoryPersonal   Category = "personal"
	CategoryTeam       Category = "team"
	CategoryEnterprise Category = "enterprise"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type Plan struct {
	ID            int64      `json:"id" db:"id"`
	Code          string     `json:"code" db:"code"`
	Version       int        `json:"version" db:"version"`
	Name          string     `json:"name" db:"name"`
	Description   string     `json:"description" db:"description"`
	Category      Category   `json:"category" db:"category"`
	Status        Status     `json:"status" db:"status"`
	IsDefault     bool       `json:"is_default" db:"is_default"`
	IsPublic      bool       `json:"is_public" db:"is_public"`
	PriceCents    int64      `json:"price_cents" db:"price_cents"`
	Currency      string     `json:"currency" db:"currency"`
	BillingCycle  string     `json:"billing_cycle" db:"billing_cycle"`
	StripePriceID *string    `json:"stripe_price_id,omitempty" db:"stripe_price_id"`
	Limits        PlanLimits `json:"limits" db:"limits"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

func (p *Plan) IsActive() bool {
	return p.Status == StatusActive
}

// ========== Subscriptions ==========

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionPaused    SubscriptionStatus = "paused"
)

type SubscriptionType string

const (
	SubscriptionPersonal  SubscriptionType = "personal"
	SubscriptionAssigned  SubscriptionType = "assigned"
	SubscriptionInherited SubscriptionType = "inherited"
)

type UserSubscription struct {
	ID                 int64              `json:"id"`
	UserID             int64              `json:"user_id"`
	PlanID             int64              `json:"plan_id"`
	WorkspaceID        *int64             `json:"workspace_id,omitempty"`
	Status             SubscriptionStatus `json:"status"`
	Type               SubscriptionType   `json:"subscription_type"`
	AssignedBy         *int64             `json:"assigned_by,omitempty"`
	Reason             *string            `json:"reason,omitempty"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

type WorkspaceSubscription struct {
	ID                      int64              `json:"id"`
	WorkspaceID             int64              `json:"workspace_id"`
	PlanID                  int64              `json:"plan_id"`
	Status                  SubscriptionStatus `json:"status"`
	StripeSubscriptionID    *string            `json:"stripe_subscription_id,omitempty"`
	StripeCheckoutSessionID *string            `json:"stripe_checkout_session_id,omitempty"`
	CurrentPeriodEnd        *time.Time         `json:"current_period_end,omitempty"`
	CancelledAt             *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt               time.Time          `json:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at"`
}

// ========== Hierarchy rules ==========

type Strategy string

const (
	StrategyUserOverrides      Strategy = "user_overrides"
	StrategyWorkspaceOverrides Strategy = "workspace_overrides"
	StrategyHighestPlan        Strategy = "highest_plan"
	StrategyMostPermissive     Strategy = "most_permissive"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyUserOverrides, StrategyWorkspaceOverrides, StrategyHighestPlan, StrategyMostPermissive:
		return true
	}
	return false
}

type HierarchyRule struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Strategy        Strategy   `json:"strategy"`
	Priority        int        `json:"priority"`
	Roles           []string   `json:"roles"`
	WorkspaceTypes  []string   `json:"workspace_types"`
	PlanCategories  []Category `json:"plan_categories"`
	ComparisonField string     `json:"comparison_field"`
	IsActive        bool       `json:"is_active"`
	Description     string     `json:"description"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ========== Resolution result ==========

type Source string

const (
	SourceUserSubscription      Source = "user_subscription"
	SourceWorkspaceSubscription Source = "workspace_subscription"
	SourceOwnerOverride         Source = "owner_override"
	SourceFreeDefault           Source = "free_default"
)

type EffectivePlan struct {
	PlanID   int64      `json:"plan_id"`
	PlanCode string     `json:"plan_code"`
	PlanName string     `json:"plan_name"`
	Category Category   `json:"category"`
	Source   Source     `json:"source"`
	Rule     string     `json:"rule"`
	Limits   PlanLimits `json:"limits"`
	Reason   string     `json:"reason"`
}
