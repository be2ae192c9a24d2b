package payment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"audiotricks-service/internal/domain/auth"
	"audiotricks-service/internal/domain/payment"
	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/domain/workspace"
	xerrors "audiotricks-service/internal/pkg/errors"

	"github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"
)

// ========== Fakes ==========

type fakeGateway struct {
	customers int
	sessions  int
	cancelled []string
	badSig    bool
}

func (g *fakeGateway) CreateCustomer(ctx context.Context, workspaceID int64, email, name string) (string, error) {
	g.customers++
	return "cus_1", nil
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, customerID, priceID string, workspaceID, planID int64) (*stripe.CheckoutSession, error) {
	g.sessions++
	return &stripe.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.com/c/cs_test"}, nil
}

func (g *fakeGateway) CreateSetupIntent(ctx context.Context, customerID string) (*stripe.SetupIntent, error) {
	return &stripe.SetupIntent{ClientSecret: "seti_secret"}, nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	g.cancelled = append(g.cancelled, subscriptionID)
	return nil
}

func (g *fakeGateway) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	if g.badSig {
		return stripe.Event{}, errors.New("webhook signature verification failed")
	}
	var e stripe.Event
	err := json.Unmarshal(payload, &e)
	return e, err
}

type memSubs struct {
	rows   map[int64]*plan.WorkspaceSubscription
	nextID int64
}

func newMemSubs() *memSubs {
	return &memSubs{rows: map[int64]*plan.WorkspaceSubscription{}, nextID: 1}
}

func (m *memSubs) add(ws, planID int64, status plan.SubscriptionStatus, stripeID, sessionID string) *plan.WorkspaceSubscription {
	s := &plan.WorkspaceSubscription{ID: m.nextID, WorkspaceID: ws, PlanID: planID, Status: status}
	if stripeID != "" {
		s.StripeSubscriptionID = &stripeID
	}
	if sessionID != "" {
		s.StripeCheckoutSessionID = &sessionID
	}
	m.rows[s.ID] = s
	m.nextID++
	return s
}

func (m *memSubs) FindActiveByWorkspace(ctx context.Context, workspaceID int64) (*plan.WorkspaceSubscription, error) {
	for _, s := range m.rows {
		if s.WorkspaceID == workspaceID && s.Status == plan.SubscriptionActive {
			return s, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (m *memSubs) FindByCheckoutSession(ctx context.Context, sessionID string) (*plan.WorkspaceSubscription, error) {
	for _, s := range m.rows {
		if s.StripeCheckoutSessionID != nil && *s.StripeCheckoutSessionID == sessionID {
			return s, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (m *memSubs) FindByStripeSubscription(ctx context.Context, stripeSubID string) (*plan.WorkspaceSubscription, error) {
	for _, s := range m.rows {
		if s.StripeSubscriptionID != nil && *s.StripeSubscriptionID == stripeSubID {
			return s, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (m *memSubs) CreatePending(ctx context.Context, workspaceID, planID int64, checkoutSessionID string) (*plan.WorkspaceSubscription, error) {
	return m.add(workspaceID, planID, plan.SubscriptionPending, "", checkoutSessionID), nil
}

func (m *memSubs) Activate(ctx context.Context, id int64, stripeSubID string, periodEnd *time.Time) (bool, error) {
	s := m.rows[id]
	if s == nil || s.Status != plan.SubscriptionPending {
		return false, nil
	}
	s.Status = plan.SubscriptionActive
	s.StripeSubscriptionID = &stripeSubID
	s.CurrentPeriodEnd = periodEnd
	return true, nil
}

func (m *memSubs) CancelActiveWorkspaceSubscription(ctx context.Context, workspaceID, keepID int64) error {
	for _, s := range m.rows {
		if s.WorkspaceID == workspaceID && s.Status == plan.SubscriptionActive && s.ID != keepID {
			s.Status = plan.SubscriptionCancelled
		}
	}
	return nil
}

func (m *memSubs) UpdateStatus(ctx context.Context, id int64, status plan.SubscriptionStatus, periodEnd *time.Time) error {
	s := m.rows[id]
	if s == nil {
		return xerrors.ErrNotFound
	}
	s.Status = status
	if periodEnd != nil {
		s.CurrentPeriodEnd = periodEnd
	}
	return nil
}

type memCurrencies map[string]*payment.Currency

func (m memCurrencies) Find(ctx context.Context, code string) (*payment.Currency, error) {
	if c, ok := m[code]; ok {
		return c, nil
	}
	return nil, xerrors.ErrNotFound
}

func (m memCurrencies) ListActive(ctx context.Context) ([]*payment.Currency, error) {
	var out []*payment.Currency
	for _, c := range m {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m memCurrencies) UpdateRate(ctx context.Context, code string, rate float64, active *bool) (*payment.Currency, error) {
	c, ok := m[code]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	c.RateToUSD = rate
	if active != nil {
		c.IsActive = *active
	}
	return c, nil
}

type memPlans map[int64]*plan.Plan

func (m memPlans) FindByID(ctx context.Context, id int64) (*plan.Plan, error) {
	if p, ok := m[id]; ok {
		return p, nil
	}
	return nil, xerrors.ErrNotFound
}

func (m memPlans) List(ctx context.Context, filters *plan.ListFilters) ([]*plan.Plan, error) {
	var out []*plan.Plan
	for id := int64(1); id <= int64(len(m)); id++ {
		p := m[id]
		if p.IsActive() && p.IsPublic {
			out = append(out, p)
		}
	}
	return out, nil
}

type memWorkspaces struct {
	ws      *workspace.Workspace
	members []*workspace.Membership
}

func (m *memWorkspaces) FindByID(ctx context.Context, id int64) (*workspace.Workspace, error) {
	if id != m.ws.ID {
		return nil, xerrors.ErrNotFound
	}
	return m.ws, nil
}

func (m *memWorkspaces) FindMembership(ctx context.Context, workspaceID, userID int64) (*workspace.Membership, error) {
	for _, mem := range m.members {
		if mem.WorkspaceID == workspaceID && mem.UserID == userID {
			return mem, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (m *memWorkspaces) ListMembers(ctx context.Context, workspaceID int64) ([]*workspace.Membership, error) {
	return m.members, nil
}

func (m *memWorkspaces) SetStripeCustomer(ctx context.Context, id int64, customerID string) error {
	m.ws.StripeCustomerID = &customerID
	return nil
}

type userStub struct{}

func (userStub) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	return &auth.User{ID: id, Email: "owner@example.com"}, nil
}

type invalidations struct {
	calls int
}

func (i *invalidations) InvalidateWorkspaceMembers(ctx context.Context, members []*workspace.Membership) {
	i.calls++
}

type fixture struct {
	svc     *PaymentService
	gateway *fakeGateway
	subs    *memSubs
	ws      *memWorkspaces
	cache   *invalidations
}

func newFixture() *fixture {
	price := "price_team"
	plans := memPlans{
		1: {ID: 1, Code: "free", Status: plan.StatusActive, IsPublic: true, PriceCents: 0, Currency: "USD"},
		2: {ID: 2, Code: "team", Status: plan.StatusActive, IsPublic: true, PriceCents: 1000, Currency: "USD", StripePriceID: &price},
		3: {ID: 3, Code: "legacy", Status: plan.StatusInactive, IsPublic: true, PriceCents: 500, Currency: "USD"},
	}
	currencies := memCurrencies{
		"USD": {Code: "USD", Symbol: "$", RateToUSD: 1, IsActive: true},
		"EUR": {Code: "EUR", Symbol: "€", RateToUSD: 0.92, IsActive: true},
		"JPY": {Code: "JPY", Symbol: "¥", RateToUSD: 150, IsActive: true},
		"GBP": {Code: "GBP", Symbol: "£", RateToUSD: 0.79, IsActive: false},
	}
	ws := &memWorkspaces{
		ws: &workspace.Workspace{ID: 10, Name: "Studio", Type: workspace.TypeTeam, OwnerID: 1},
		members: []*workspace.Membership{
			{WorkspaceID: 10, UserID: 1, Role: workspace.RoleOwner},
			{WorkspaceID: 10, UserID: 2, Role: workspace.RoleMember},
		},
	}
	f := &fixture{gateway: &fakeGateway{}, subs: newMemSubs(), ws: ws, cache: &invalidations{}}
	f.svc = NewPaymentService(f.gateway, f.subs, currencies, plans, ws, userStub{}, f.cache, zap.NewNop())
	return f
}

// ========== Tests ==========

func TestConvert(t *testing.T) {
	usd := &payment.Currency{Code: "USD", Symbol: "$", RateToUSD: 1}
	eur := &payment.Currency{Code: "EUR", Symbol: "€", RateToUSD: 0.92}
	jpy := &payment.Currency{Code: "JPY", Symbol: "¥", RateToUSD: 150}

	tests := []struct {
		name     string
		amount   int64
		from, to *payment.Currency
		want     int64
		format   string
	}{
		{"same currency", 1000, usd, usd, 1000, "$10.00"},
		{"usd to eur", 1000, usd, eur, 920, "€9.20"},
		{"usd to zero decimal", 1000, usd, jpy, 1500, "¥1500"},
		{"eur to usd", 920, eur, usd, 1000, "$10.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.amount, tt.from, tt.to)
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Convert() = %d, want %d", got, tt.want)
			}
			if f := FormatPrice(got, tt.to); f != tt.format {
				t.Errorf("FormatPrice() = %q, want %q", f, tt.format)
			}
		})
	}

	if _, err := Convert(100, usd, &payment.Currency{Code: "XXX"}); err == nil {
		t.Error("expected an error for a zero rate")
	}
}

func TestListPlans_ConvertsPublicActivePlans(t *testing.T) {
	f := newFixture()

	views, err := f.svc.ListPlans(context.Background(), "eur")
	if err != nil {
		t.Fatalf("ListPlans() error = %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d plans, want 2 (inactive plan hidden)", len(views))
	}
	team := views[1]
	if team.Currency != "EUR" || team.AmountMinor != 920 || team.FormattedPrice != "€9.20" {
		t.Errorf("team price = %+v", team)
	}

	if _, err := f.svc.ListPlans(context.Background(), "GBP"); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Errorf("inactive currency error = %v, want ErrInvalidInput", err)
	}
	if _, err := f.svc.ListPlans(context.Background(), "CHF"); !errors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("unknown currency error = %v, want ErrNotFound", err)
	}
}

func TestStartCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("owner gets a session and a pending row", func(t *testing.T) {
		f := newFixture()
		resp, err := f.svc.StartCheckout(ctx, 1, 10, &payment.CheckoutRequest{PlanID: 2})
		if err != nil {
			t.Fatalf("StartCheckout() error = %v", err)
		}
		if resp.SessionID != "cs_test" || resp.URL == "" {
			t.Errorf("response = %+v", resp)
		}
		pending, err := f.subs.FindByCheckoutSession(ctx, "cs_test")
		if err != nil || pending.Status != plan.SubscriptionPending {
			t.Fatalf("pending row = %+v, err = %v", pending, err)
		}

		// The customer is created once and reused.
		if _, err := f.svc.StartCheckout(ctx, 1, 10, &payment.CheckoutRequest{PlanID: 2}); err != nil {
			t.Fatalf("second StartCheckout() error = %v", err)
		}
		if f.gateway.customers != 1 {
			t.Errorf("customers created = %d, want 1", f.gateway.customers)
		}
	})

	t.Run("member is forbidden", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.StartCheckout(ctx, 2, 10, &payment.CheckoutRequest{PlanID: 2})
		if !errors.Is(err, xerrors.ErrForbidden) {
			t.Errorf("error = %v, want ErrForbidden", err)
		}
	})

	t.Run("outsider sees not found", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.StartCheckout(ctx, 99, 10, &payment.CheckoutRequest{PlanID: 2})
		if !errors.Is(err, xerrors.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("plan without price", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.StartCheckout(ctx, 1, 10, &payment.CheckoutRequest{PlanID: 1})
		if !errors.Is(err, xerrors.ErrInvalidInput) {
			t.Errorf("error = %v, want ErrInvalidInput", err)
		}
		if f.gateway.sessions != 0 {
			t.Error("no session should be created")
		}
	})
}

func event(t *testing.T, typ string, obj string) stripe.Event {
	t.Helper()
	var e stripe.Event
	raw := `{"id":"evt_test","object":"event","type":"` + typ + `","data":{"object":` + obj + `}}`
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("failed to build event: %v", err)
	}
	return e
}

func TestApplyEvent_CheckoutCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	old := f.subs.add(10, 1, plan.SubscriptionActive, "sub_old", "")
	pending := f.subs.add(10, 2, plan.SubscriptionPending, "", "cs_test")

	ev := event(t, EventCheckoutSessionCompleted,
		`{"id":"cs_test","object":"checkout.session","subscription":"sub_new"}`)

	if err := f.svc.ApplyEvent(ctx, ev); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	if old.Status != plan.SubscriptionCancelled {
		t.Errorf("previous subscription status = %s, want cancelled", old.Status)
	}
	if pending.Status != plan.SubscriptionActive {
		t.Errorf("pending subscription status = %s, want active", pending.Status)
	}
	if pending.StripeSubscriptionID == nil || *pending.StripeSubscriptionID != "sub_new" {
		t.Errorf("stripe subscription id = %v", pending.StripeSubscriptionID)
	}
	if f.cache.calls != 1 {
		t.Errorf("invalidations = %d, want 1", f.cache.calls)
	}

	// Redelivery changes nothing.
	if err := f.svc.ApplyEvent(ctx, ev); err != nil {
		t.Fatalf("replayed ApplyEvent() error = %v", err)
	}
	if f.cache.calls != 1 {
		t.Errorf("invalidations after replay = %d, want 1", f.cache.calls)
	}
}

func TestApplyEvent_SubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sub := f.subs.add(10, 2, plan.SubscriptionActive, "sub_1", "")

	failed := event(t, EventInvoicePaymentFailed, `{"id":"in_1","object":"invoice","subscription":"sub_1"}`)
	if err := f.svc.ApplyEvent(ctx, failed); err != nil {
		t.Fatalf("ApplyEvent(payment_failed) error = %v", err)
	}
	if sub.Status != plan.SubscriptionPastDue {
		t.Errorf("status = %s, want past_due", sub.Status)
	}

	updated := event(t, EventSubscriptionUpdated,
		`{"id":"sub_1","object":"subscription","status":"active","current_period_end":1767225600}`)
	if err := f.svc.ApplyEvent(ctx, updated); err != nil {
		t.Fatalf("ApplyEvent(updated) error = %v", err)
	}
	if sub.Status != plan.SubscriptionActive {
		t.Errorf("status = %s, want active", sub.Status)
	}
	if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.Unix() != 1767225600 {
		t.Errorf("period end = %v", sub.CurrentPeriodEnd)
	}

	deleted := event(t, EventSubscriptionDeleted, `{"id":"sub_1","object":"subscription","status":"canceled"}`)
	if err := f.svc.ApplyEvent(ctx, deleted); err != nil {
		t.Fatalf("ApplyEvent(deleted) error = %v", err)
	}
	if sub.Status != plan.SubscriptionCancelled {
		t.Errorf("status = %s, want cancelled", sub.Status)
	}

	// Untracked subscriptions and unknown event types are acknowledged.
	other := event(t, EventSubscriptionDeleted, `{"id":"sub_unknown","object":"subscription"}`)
	if err := f.svc.ApplyEvent(ctx, other); err != nil {
		t.Errorf("untracked subscription error = %v", err)
	}
	if err := f.svc.ApplyEvent(ctx, event(t, "customer.created", `{"id":"cus_1"}`)); err != nil {
		t.Errorf("unknown event error = %v", err)
	}
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	f := newFixture()
	f.gateway.badSig = true

	err := f.svc.HandleWebhook(context.Background(), []byte(`{}`), "t=1,v1=bad")
	if !errors.Is(err, xerrors.ErrBadRequest) {
		t.Errorf("error = %v, want ErrBadRequest", err)
	}
}

func TestCancelWorkspaceSubscription(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sub := f.subs.add(10, 2, plan.SubscriptionActive, "sub_1", "")

	if err := f.svc.CancelWorkspaceSubscription(ctx, 2, 10); !errors.Is(err, xerrors.ErrForbidden) {
		t.Errorf("member cancel error = %v, want ErrForbidden", err)
	}

	if err := f.svc.CancelWorkspaceSubscription(ctx, 1, 10); err != nil {
		t.Fatalf("CancelWorkspaceSubscription() error = %v", err)
	}
	if sub.Status != plan.SubscriptionCancelled {
		t.Errorf("status = %s, want cancelled", sub.Status)
	}
	if len(f.gateway.cancelled) != 1 || f.gateway.cancelled[0] != "sub_1" {
		t.Errorf("stripe cancellations = %v", f.gateway.cancelled)
	}

	if err := f.svc.CancelWorkspaceSubscription(ctx, 1, 10); !errors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("second cancel error = %v, want ErrNotFound", err)
	}
}
