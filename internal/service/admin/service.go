// internal/service/admin/service.go
package admin

import (
	"context"
	"fmt"
	"regexp"

	"audiotricks-service/internal/domain/audit"
	"audiotricks-service/internal/domain/auth"
	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/domain/usage"
	xerrors "audiotricks-service/internal/pkg/errors"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type Users interface {
	List(ctx context.Context, filters *auth.UserListFilters) ([]*auth.User, int64, error)
}

type Plans interface {
	AssignPersonalPlan(ctx context.Context, actorID *int64, userID, planID int64) (*plan.UserSubscription, error)
}

type UsageExporter interface {
	ExportPeriod(ctx context.Context, month string) ([]*usage.ExportRow, error)
}

type AuditLog interface {
	Create(ctx context.Context, l *audit.Log) error
	List(ctx context.Context, filters *audit.Filters) ([]*audit.Log, int64, error)
}

type AdminService struct {
	users  Users
	plans  Plans
	usage  UsageExporter
	audit  AuditLog
	logger *zap.Logger
}

func NewAdminService(users Users, plans Plans, usage UsageExporter, auditLog AuditLog, logger *zap.Logger) *AdminService {
	return &AdminService{
		users:  users,
		plans:  plans,
		usage:  usage,
		audit:  auditLog,
		logger: logger,
	}
}

// ========== Users ==========

func (s *AdminService) ListUsers(ctx context.Context, filters *auth.UserListFilters) ([]*auth.User, int64, error) {
	users, total, err := s.users.List(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	return users, total, nil
}

// AssignUserPlan gives a user a personal plan on behalf of an administrator.
func (s *AdminService) AssignUserPlan(ctx context.Context, actorID, userID, planID int64) (*plan.UserSubscription, error) {
	return s.plans.AssignPersonalPlan(ctx, &actorID, userID, planID)
}

// ========== Audit ==========

func (s *AdminService) ListAuditLogs(ctx context.Context, filters *audit.Filters) ([]*audit.Log, int64, error) {
	logs, total, err := s.audit.List(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, total, nil
}

// ========== Usage export ==========

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

var exportHeader = []interface{}{
	"workspace_id",
	"workspace_name",
	"owner_email",
	"plan",
	"resource",
	"used",
}

// ExportUsage renders one month of workspace usage as an XLSX workbook.
func (s *AdminService) ExportUsage(ctx context.Context, actorID int64, month string) ([]byte, error) {
	if !monthPattern.MatchString(month) {
		return nil, fmt.Errorf("period must look like YYYY-MM: %w", xerrors.ErrInvalidInput)
	}

	rows, err := s.usage.ExportPeriod(ctx, month)
	if err != nil {
		return nil, err
	}

	data, err := buildWorkbook(month, rows)
	if err != nil {
		return nil, err
	}

	if err := s.audit.Create(ctx, &audit.Log{
		ActorID:    &actorID,
		Action:     "usage.export",
		EntityType: "usage",
		EntityID:   month,
		Details:    map[string]interface{}{"rows": len(rows)},
	}); err != nil {
		s.logger.Warn("failed to audit usage export", zap.Error(err))
	}

	s.logger.Info("usage exported", zap.String("period", month), zap.Int("rows", len(rows)))
	return data, nil
}

func buildWorkbook(month string, rows []*usage.ExportRow) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "Usage " + month
	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), sheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := f.SetSheetRow(sheet, "A1", &exportHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to address row %d: %w", i+2, err)
		}
		row := []interface{}{
			r.WorkspaceID,
			r.WorkspaceName,
			r.OwnerEmail,
			r.PlanCode,
			string(r.Resource),
			r.Used,
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf.Bytes(), nil
}
