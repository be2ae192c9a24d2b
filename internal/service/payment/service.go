// internal/service/payment/service.go
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"audiotricks-service/internal/domain/auth"
	"audiotricks-service/internal/domain/payment"
	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/domain/workspace"
	xerrors "audiotricks-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// ========== Dependencies ==========

type Subscriptions interface {
	FindActiveByWorkspace(ctx context.Context, workspaceID int64) (*plan.WorkspaceSubscription, error)
	FindByCheckoutSession(ctx context.Context, sessionID string) (*plan.WorkspaceSubscription, error)
	FindByStripeSubscription(ctx context.Context, stripeSubID string) (*plan.WorkspaceSubscription, error)
	CreatePending(ctx context.Context, workspaceID, planID int64, checkoutSessionID string) (*plan.WorkspaceSubscription, error)
	Activate(ctx context.Context, id int64, stripeSubID string, periodEnd *time.Time) (bool, error)
	CancelActiveWorkspaceSubscription(ctx context.Context, workspaceID, keepID int64) error
	UpdateStatus(ctx context.Context, id int64, status plan.SubscriptionStatus, periodEnd *time.Time) error
}

type Currencies interface {
	Find(ctx context.Context, code string) (*payment.Currency, error)
	ListActive(ctx context.Context) ([]*payment.Currency, error)
	UpdateRate(ctx context.Context, code string, rate float64, active *bool) (*payment.Currency, error)
}

type Plans interface {
	FindByID(ctx context.Context, id int64) (*plan.Plan, error)
	List(ctx context.Context, filters *plan.ListFilters) ([]*plan.Plan, error)
}

type Workspaces interface {
	FindByID(ctx context.Context, id int64) (*workspace.Workspace, error)
	FindMembership(ctx context.Context, workspaceID, userID int64) (*workspace.Membership, error)
	ListMembers(ctx context.Context, workspaceID int64) ([]*workspace.Membership, error)
	SetStripeCustomer(ctx context.Context, id int64, customerID string) error
}

type Users interface {
	FindByID(ctx context.Context, id int64) (*auth.User, error)
}

// PlanInvalidator drops cached effective plans of workspace members.
type PlanInvalidator interface {
	InvalidateWorkspaceMembers(ctx context.Context, members []*workspace.Membership)
}

// ========== Service ==========

type PaymentService struct {
	gateway    Gateway
	subs       Subscriptions
	currencies Currencies
	plans      Plans
	workspaces Workspaces
	users      Users
	plansCache PlanInvalidator
	logger     *zap.Logger
}

func NewPaymentService(
	gateway Gateway,
	subs Subscriptions,
	currencies Currencies,
	plans Plans,
	workspaces Workspaces,
	users Users,
	plansCache PlanInvalidator,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		gateway:    gateway,
		subs:       subs,
		currencies: currencies,
		plans:      plans,
		workspaces: workspaces,
		users:      users,
		plansCache: plansCache,
		logger:     logger,
	}
}

// ListPlans returns the public active plans priced in the requested currency.
// An empty code keeps each plan's own currency.
func (s *PaymentService) ListPlans(ctx context.Context, currencyCode string) ([]*payment.PriceView, error) {
	active := plan.StatusActive
	public := true
	plans, err := s.plans.List(ctx, &plan.ListFilters{Status: &active, IsPublic: &public})
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	var target *payment.Currency
	if currencyCode != "" {
		target, err = s.currencies.Find(ctx, strings.ToUpper(currencyCode))
		if err != nil {
			return nil, fmt.Errorf("unsupported currency %s: %w", currencyCode, err)
		}
		if !target.IsActive {
			return nil, fmt.Errorf("currency %s is not active: %w", target.Code, xerrors.ErrInvalidInput)
		}
	}

	rates := map[string]*payment.Currency{}
	views := make([]*payment.PriceView, 0, len(plans))
	for _, p := range plans {
		source, ok := rates[p.Currency]
		if !ok {
			source, err = s.currencies.Find(ctx, p.Currency)
			if err != nil {
				return nil, fmt.Errorf("failed to load currency %s for plan %s: %w", p.Currency, p.Code, err)
			}
			rates[p.Currency] = source
		}

		to := source
		if target != nil {
			to = target
		}
		amount, err := Convert(p.PriceCents, source, to)
		if err != nil {
			return nil, err
		}
		views = append(views, &payment.PriceView{
			Plan:           p,
			Currency:       to.Code,
			Symbol:         to.Symbol,
			AmountMinor:    amount,
			FormattedPrice: FormatPrice(amount, to),
		})
	}
	return views, nil
}

func (s *PaymentService) ListCurrencies(ctx context.Context) ([]*payment.Currency, error) {
	list, err := s.currencies.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list currencies: %w", err)
	}
	return list, nil
}

// UpdateCurrencyRate is the admin refresh of a single rate.
func (s *PaymentService) UpdateCurrencyRate(ctx context.Context, code string, req *payment.UpdateRateRequest) (*payment.Currency, error) {
	c, err := s.currencies.UpdateRate(ctx, strings.ToUpper(code), req.RateToUSD, req.IsActive)
	if err != nil {
		return nil, fmt.Errorf("failed to update currency rate: %w", err)
	}
	s.logger.Info("currency rate updated", zap.String("code", c.Code), zap.Float64("rate_to_usd", c.RateToUSD))
	return c, nil
}

// GetWorkspaceSubscription returns the active subscription, or nil when the
// workspace runs on member plans.
func (s *PaymentService) GetWorkspaceSubscription(ctx context.Context, userID, workspaceID int64) (*payment.SubscriptionView, error) {
	if _, err := s.membership(ctx, workspaceID, userID); err != nil {
		return nil, err
	}

	sub, err := s.subs.FindActiveByWorkspace(ctx, workspaceID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	p, err := s.plans.FindByID(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription plan: %w", err)
	}
	return &payment.SubscriptionView{Subscription: sub, Plan: p}, nil
}

// StartCheckout opens a Stripe Checkout session for a workspace plan. The local
// row stays pending until the webhook confirms payment.
func (s *PaymentService) StartCheckout(ctx context.Context, userID, workspaceID int64, req *payment.CheckoutRequest) (*payment.CheckoutResponse, error) {
	if err := s.requireManager(ctx, workspaceID, userID); err != nil {
		return nil, err
	}

	p, err := s.plans.FindByID(ctx, req.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	if !p.IsActive() || !p.IsPublic {
		return nil, fmt.Errorf("plan %s is not available: %w", p.Code, xerrors.ErrInvalidInput)
	}
	if p.StripePriceID == nil || *p.StripePriceID == "" {
		return nil, fmt.Errorf("plan %s has no Stripe price: %w", p.Code, xerrors.ErrInvalidInput)
	}

	customerID, err := s.ensureCustomer(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, customerID, *p.StripePriceID, workspaceID, p.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.subs.CreatePending(ctx, workspaceID, p.ID, session.ID); err != nil {
		return nil, err
	}

	s.logger.Info("checkout started",
		zap.Int64("workspace_id", workspaceID),
		zap.Int64("plan_id", p.ID),
		zap.String("session_id", session.ID))

	return &payment.CheckoutResponse{SessionID: session.ID, URL: session.URL}, nil
}

// CreateSetupIntent lets a manager save a card against the workspace customer.
func (s *PaymentService) CreateSetupIntent(ctx context.Context, userID int64, req *payment.SetupIntentRequest) (*payment.SetupIntentResponse, error) {
	if err := s.requireManager(ctx, req.WorkspaceID, userID); err != nil {
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, req.WorkspaceID, userID)
	if err != nil {
		return nil, err
	}
	si, err := s.gateway.CreateSetupIntent(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return &payment.SetupIntentResponse{ClientSecret: si.ClientSecret, CustomerID: customerID}, nil
}

// CancelWorkspaceSubscription cancels at Stripe first, then locally. Members
// fall back to their own plans straight away.
func (s *PaymentService) CancelWorkspaceSubscription(ctx context.Context, userID, workspaceID int64) error {
	if err := s.requireManager(ctx, workspaceID, userID); err != nil {
		return err
	}

	sub, err := s.subs.FindActiveByWorkspace(ctx, workspaceID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return fmt.Errorf("workspace has no active subscription: %w", xerrors.ErrNotFound)
		}
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	if sub.StripeSubscriptionID != nil && *sub.StripeSubscriptionID != "" {
		if err := s.gateway.CancelSubscription(ctx, *sub.StripeSubscriptionID); err != nil {
			return err
		}
	}
	if err := s.subs.UpdateStatus(ctx, sub.ID, plan.SubscriptionCancelled, nil); err != nil {
		return err
	}

	s.logger.Info("workspace subscription cancelled",
		zap.Int64("workspace_id", workspaceID),
		zap.Int64("by", userID))

	s.invalidate(ctx, workspaceID)
	return nil
}

// ========== Helpers ==========

func (s *PaymentService) membership(ctx context.Context, workspaceID, userID int64) (*workspace.Membership, error) {
	m, err := s.workspaces.FindMembership(ctx, workspaceID, userID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, fmt.Errorf("workspace %d: %w", workspaceID, xerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	return m, nil
}

func (s *PaymentService) requireManager(ctx context.Context, workspaceID, userID int64) error {
	m, err := s.membership(ctx, workspaceID, userID)
	if err != nil {
		return err
	}
	if !m.Role.CanManage() {
		return fmt.Errorf("role %s cannot manage billing: %w", m.Role, xerrors.ErrForbidden)
	}
	return nil
}

func (s *PaymentService) ensureCustomer(ctx context.Context, workspaceID, userID int64) (string, error) {
	ws, err := s.workspaces.FindByID(ctx, workspaceID)
	if err != nil {
		return "", fmt.Errorf("failed to load workspace: %w", err)
	}
	if ws.StripeCustomerID != nil && *ws.StripeCustomerID != "" {
		return *ws.StripeCustomerID, nil
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load user: %w", err)
	}
	customerID, err := s.gateway.CreateCustomer(ctx, workspaceID, user.Email, ws.Name)
	if err != nil {
		return "", err
	}
	if err := s.workspaces.SetStripeCustomer(ctx, workspaceID, customerID); err != nil {
		return "", fmt.Errorf("failed to store customer: %w", err)
	}
	return customerID, nil
}

func (s *PaymentService) invalidate(ctx context.Context, workspaceID int64) {
	if s.plansCache == nil {
		return
	}
	members, err := s.workspaces.ListMembers(ctx, workspaceID)
	if err != nil {
		s.logger.Warn("failed to list members for plan invalidation",
			zap.Int64("workspace_id", workspaceID), zap.Error(err))
		return
	}
	s.plansCache.InvalidateWorkspaceMembers(ctx, members)
}
