// internal/domain/payment/entity.go
package payment

import (
	"time"

	"audiotricks-service/internal/domain/plan"
)

type Currency struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Symbol    string    `json:"symbol"`
	RateToUSD float64   `json:"rate_to_usd"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PriceView is a public plan priced in the caller's currency.
type PriceView struct {
	Plan           *plan.Plan `json:"plan"`
	Currency       string     `json:"currency"`
	Symbol         string     `json:"symbol"`
	AmountMinor    int64      `json:"amount_minor"`
	FormattedPrice string     `json:"formatted_price"`
}

type CheckoutRequest struct {
	PlanID int64 `json:"plan_id" binding:"required,gt=0"`
}

type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type SetupIntentResponse struct {
	ClientSecret string `json:"client_secret"`
	CustomerID   string `json:"customer_id"`
}

type UpdateRateRequest struct {
	RateToUSD float64 `json:"rate_to_usd" binding:"required,gt=0"`
	IsActive  *bool   `json:"is_active"`
}

type SetupIntentRequest struct {
	WorkspaceID int64 `json:"workspace_id" binding:"required,gt=0"`
}

// SubscriptionView is a workspace subscription with its plan.
type SubscriptionView struct {
	Subscription *plan.WorkspaceSubscription `json:"subscription"`
	Plan         *plan.Plan                  `json:"plan"`
}
