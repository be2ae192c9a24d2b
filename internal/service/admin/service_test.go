package admin

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"audiotricks-service/internal/domain/audit"
	"audiotricks-service/internal/domain/auth"
	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/domain/usage"
	xerrors "audiotricks-service/internal/pkg/errors"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type usageStub struct {
	month string
	rows  []*usage.ExportRow
}

func (u *usageStub) ExportPeriod(ctx context.Context, month string) ([]*usage.ExportRow, error) {
	u.month = month
	return u.rows, nil
}

type auditStub struct {
	entries []*audit.Log
}

func (a *auditStub) Create(ctx context.Context, l *audit.Log) error {
	a.entries = append(a.entries, l)
	return nil
}

func (a *auditStub) List(ctx context.Context, filters *audit.Filters) ([]*audit.Log, int64, error) {
	return a.entries, int64(len(a.entries)), nil
}

type usersStub struct{}

func (usersStub) List(ctx context.Context, filters *auth.UserListFilters) ([]*auth.User, int64, error) {
	return []*auth.User{{ID: 1, Email: "a@example.com"}}, 1, nil
}

type plansStub struct {
	actor *int64
}

func (p *plansStub) AssignPersonalPlan(ctx context.Context, actorID *int64, userID, planID int64) (*plan.UserSubscription, error) {
	p.actor = actorID
	return &plan.UserSubscription{UserID: userID, PlanID: planID, Type: plan.SubscriptionAssigned}, nil
}

func TestExportUsage_WritesWorkbook(t *testing.T) {
	us := &usageStub{rows: []*usage.ExportRow{
		{WorkspaceID: 10, WorkspaceName: "Studio", OwnerEmail: "owner@example.com", PlanCode: "team", Resource: plan.ResourceAPICalls, Used: 42},
		{WorkspaceID: 11, WorkspaceName: "Solo", OwnerEmail: "solo@example.com", Resource: plan.ResourceStorageBytes, Used: 1024},
	}}
	au := &auditStub{}
	svc := NewAdminService(usersStub{}, &plansStub{}, us, au, zap.NewNop())

	data, err := svc.ExportUsage(context.Background(), 1, "2026-05")
	if err != nil {
		t.Fatalf("ExportUsage() error = %v", err)
	}
	if us.month != "2026-05" {
		t.Errorf("exported month = %q", us.month)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Usage 2026-05")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if rows[0][0] != "workspace_id" || rows[1][1] != "Studio" || rows[1][5] != "42" {
		t.Errorf("unexpected rows: %v", rows)
	}
	if rows[2][4] != string(plan.ResourceStorageBytes) {
		t.Errorf("resource cell = %q", rows[2][4])
	}

	if len(au.entries) != 1 || au.entries[0].Action != "usage.export" {
		t.Errorf("audit entries = %+v", au.entries)
	}
}

func TestExportUsage_RejectsBadPeriod(t *testing.T) {
	svc := NewAdminService(usersStub{}, &plansStub{}, &usageStub{}, &auditStub{}, zap.NewNop())

	for _, period := range []string{"", "2026-13", "2026-5", "May 2026"} {
		if _, err := svc.ExportUsage(context.Background(), 1, period); !errors.Is(err, xerrors.ErrInvalidInput) {
			t.Errorf("ExportUsage(%q) error = %v, want ErrInvalidInput", period, err)
		}
	}
}

func TestAssignUserPlan_PassesActor(t *testing.T) {
	ps := &plansStub{}
	svc := NewAdminService(usersStub{}, ps, &usageStub{}, &auditStub{}, zap.NewNop())

	sub, err := svc.AssignUserPlan(context.Background(), 9, 3, 2)
	if err != nil {
		t.Fatalf("AssignUserPlan() error = %v", err)
	}
	if ps.actor == nil || *ps.actor != 9 || sub.PlanID != 2 {
		t.Errorf("actor = %v, sub = %+v", ps.actor, sub)
	}
}
