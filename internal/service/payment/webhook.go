// internal/service/payment/webhook.go
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"audiotricks-service/internal/domain/plan"
	xerrors "audiotricks-service/internal/pkg/errors"

	"github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"
)

const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
	EventInvoicePaymentFailed     = "invoice.payment_failed"
)

// HandleWebhook verifies a Stripe delivery and applies it. Every branch is safe to
// replay since Stripe redelivers until it sees a 2xx.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.ConstructEvent(payload, signature)
	if err != nil {
		return fmt.Errorf("%v: %w", err, xerrors.ErrBadRequest)
	}
	return s.ApplyEvent(ctx, event)
}

// ApplyEvent dispatches a verified event. Unknown types are ignored.
func (s *PaymentService) ApplyEvent(ctx context.Context, event stripe.Event) error {
	if event.Data == nil {
		return fmt.Errorf("event %s has no data: %w", event.ID, xerrors.ErrBadRequest)
	}

	s.logger.Info("stripe event received",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)))

	switch string(event.Type) {
	case EventCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("failed to decode checkout session: %w", xerrors.ErrBadRequest)
		}
		return s.checkoutCompleted(ctx, &session)

	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("failed to decode subscription: %w", xerrors.ErrBadRequest)
		}
		status := mapSubscriptionStatus(sub.Status)
		if string(event.Type) == EventSubscriptionDeleted {
			status = plan.SubscriptionCancelled
		}
		return s.syncSubscription(ctx, sub.ID, status, periodEnd(sub.CurrentPeriodEnd))

	case EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("failed to decode invoice: %w", xerrors.ErrBadRequest)
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return nil
		}
		return s.syncSubscription(ctx, inv.Subscription.ID, plan.SubscriptionPastDue, nil)
	}
	return nil
}

// checkoutCompleted cancels whatever was active on the workspace and activates
// the pending row created when the session started.
func (s *PaymentService) checkoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	pending, err := s.subs.FindByCheckoutSession(ctx, session.ID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			s.logger.Warn("checkout session has no local subscription", zap.String("session_id", session.ID))
			return nil
		}
		return fmt.Errorf("failed to find pending subscription: %w", err)
	}
	if pending.Status == plan.SubscriptionActive {
		return nil
	}

	var stripeSubID string
	if session.Subscription != nil {
		stripeSubID = session.Subscription.ID
	}
	var end *time.Time
	if session.Subscription != nil {
		end = periodEnd(session.Subscription.CurrentPeriodEnd)
	}

	if err := s.subs.CancelActiveWorkspaceSubscription(ctx, pending.WorkspaceID, pending.ID); err != nil {
		return fmt.Errorf("failed to cancel previous subscription: %w", err)
	}
	activated, err := s.subs.Activate(ctx, pending.ID, stripeSubID, end)
	if err != nil {
		return fmt.Errorf("failed to activate subscription: %w", err)
	}
	if !activated {
		return nil
	}

	s.logger.Info("workspace subscription activated",
		zap.Int64("workspace_id", pending.WorkspaceID),
		zap.Int64("plan_id", pending.PlanID),
		zap.String("stripe_subscription_id", stripeSubID))

	s.invalidate(ctx, pending.WorkspaceID)
	return nil
}

func (s *PaymentService) syncSubscription(ctx context.Context, stripeSubID string, status plan.SubscriptionStatus, end *time.Time) error {
	local, err := s.subs.FindByStripeSubscription(ctx, stripeSubID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			s.logger.Warn("stripe subscription not tracked", zap.String("stripe_subscription_id", stripeSubID))
			return nil
		}
		return fmt.Errorf("failed to find subscription: %w", err)
	}
	if local.Status == status && end == nil {
		return nil
	}
	// A cancelled row is never revived; a new checkout creates a new row.
	if local.Status == plan.SubscriptionCancelled {
		return nil
	}
	if err := s.subs.UpdateStatus(ctx, local.ID, status, end); err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}

	s.logger.Info("workspace subscription updated",
		zap.Int64("workspace_id", local.WorkspaceID),
		zap.String("status", string(status)))

	if local.Status != status {
		s.invalidate(ctx, local.WorkspaceID)
	}
	return nil
}

func periodEnd(unix int64) *time.Time {
	if unix == 0 {
		return nil
	}
	t := time.Unix(unix, 0).UTC()
	return &t
}

func mapSubscriptionStatus(status stripe.SubscriptionStatus) plan.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return plan.SubscriptionActive
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return plan.SubscriptionCancelled
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return plan.SubscriptionPastDue
	case stripe.SubscriptionStatusPaused:
		return plan.SubscriptionPaused
	default:
		return plan.SubscriptionPending
	}
}
