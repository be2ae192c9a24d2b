// internal/domain/usage/entity.go
package usage

import (
	"time"

	"audiotricks-service/internal/domain/plan"
)

type ScopeType string

const (
	ScopeUser      ScopeType = "user"
	ScopeWorkspace ScopeType = "workspace"
)

// PeriodTotal is the period key of counters that never reset.
const PeriodTotal = "total"

type Counter struct {
	ScopeType ScopeType         `json:"scope_type"`
	ScopeID   int64             `json:"scope_id"`
	Period    string            `json:"period"`
	Resource  plan.ResourceType `json:"resource"`
	Used      int64             `json:"used"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// PeriodFor returns the counter bucket a resource is metered in at t.
func PeriodFor(r plan.ResourceType, t time.Time) string {
	t = t.UTC()
	switch r {
	case plan.ResourceStorageBytes:
		return PeriodTotal
	case plan.ResourceFilesPerDay:
		return t.Format("2006-01-02")
	default:
		return t.Format("2006-01")
	}
}

// ExportRow is one line of the monthly usage report.
type ExportRow struct {
	WorkspaceID   int64
	WorkspaceName string
	OwnerEmail    string
	PlanCode      string
	Resource      plan.ResourceType
	Used          int64
}
