// internal/service/quota/quota.go
package quota

import (
	"context"
	"fmt"
	"time"

	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/domain/usage"
	xerrors "audiotricks-service/internal/pkg/errors"
	"audiotricks-service/internal/pkg/metrics"

	"go.uber.org/zap"
)

// WarningThreshold is the utilisation at which allowed requests are logged.
const WarningThreshold = 90.0

// LimitResolver yields the plan limits a workspace is checked against.
type LimitResolver interface {
	WorkspaceLimits(ctx context.Context, workspaceID int64) (*plan.EffectivePlan, error)
}

// UsageStore is the counter table.
type UsageStore interface {
	Get(ctx context.Context, scope usage.ScopeType, scopeID int64, period string, resource plan.ResourceType) (int64, error)
	TryConsume(ctx context.Context, scope usage.ScopeType, scopeID int64, period string, resource plan.ResourceType, delta, limit int64) (int64, error)
	Release(ctx context.Context, scope usage.ScopeType, scopeID int64, period string, resource plan.ResourceType, delta int64) error
	ListForScope(ctx context.Context, scope usage.ScopeType, scopeID int64, periods []string) ([]*usage.Counter, error)
}

type Check struct {
	Resource    plan.ResourceType `json:"resource"`
	Exceeded    bool              `json:"exceeded"`
	Current     int64             `json:"current"`
	Requested   int64             `json:"requested"`
	Limit       int64             `json:"limit"`
	PercentUsed float64           `json:"percent_used"`
}

type Decision struct {
	Allowed    bool   `json:"allowed"`
	FailOpen   bool   `json:"fail_open,omitempty"`
	Warning    bool   `json:"warning,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	Check      *Check `json:"check,omitempty"`
}

// Evaluate is the quota arithmetic. A limit of -1 is never exceeded.
func Evaluate(resource plan.ResourceType, limit, current, delta int64) Check {
	c := Check{Resource: resource, Current: current, Requested: delta, Limit: limit}
	if limit == plan.Unlimited {
		return c
	}

	total := current + delta
	c.Exceeded = total > limit
	switch {
	case limit > 0:
		c.PercentUsed = float64(total) / float64(limit) * 100
	case total > 0:
		c.PercentUsed = 100
	}
	return c
}

// Suggestion is the hint returned with a denial.
func Suggestion(resource plan.ResourceType) string {
	switch resource {
	case plan.ResourceStorageBytes:
		return "Upgrade your plan for more storage or delete old files"
	case plan.ResourceProcessingMinutes:
		return "Upgrade your plan for more processing time"
	case plan.ResourceAPICalls:
		return "Upgrade your plan for a higher API call allowance"
	case plan.ResourceTranscriptionMinutes:
		return "Upgrade your plan for more transcription minutes"
	case plan.ResourceAITokens:
		return "Upgrade your plan for more AI processing"
	case plan.ResourceTranscriptions:
		return "Monthly transcription limit reached. Upgrade your plan or wait for the next billing period"
	case plan.ResourceFilesPerDay:
		return "Daily upload limit reached. Try again tomorrow or upgrade your plan"
	default:
		return "Upgrade your plan to increase this limit"
	}
}

type QuotaService struct {
	resolver LimitResolver
	usage    UsageStore
	metrics  *metrics.Registry
	logger   *zap.Logger
	now      func() time.Time
}

// NewQuotaService builds the service; m may be nil.
func NewQuotaService(resolver LimitResolver, usage UsageStore, m *metrics.Registry, logger *zap.Logger) *QuotaService {
	return &QuotaService{
		resolver: resolver,
		usage:    usage,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Limit returns the limit of resource for the workspace's effective plan.
func (s *QuotaService) Limit(ctx context.Context, workspaceID int64, resource plan.ResourceType) (int64, error) {
	if _, ok := (plan.PlanLimits{}).LimitFor(resource); !ok {
		return 0, fmt.Errorf("unknown resource %q: %w", resource, xerrors.ErrInvalidInput)
	}
	ep, err := s.resolver.WorkspaceLimits(ctx, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve workspace plan: %w", err)
	}
	limit, _ := ep.Limits.LimitFor(resource)
	return limit, nil
}

// Limits returns the whole limits snapshot of the workspace.
func (s *QuotaService) Limits(ctx context.Context, workspaceID int64) (*plan.EffectivePlan, error) {
	return s.resolver.WorkspaceLimits(ctx, workspaceID)
}

// CurrentUsage reads the counter for the current period.
func (s *QuotaService) CurrentUsage(ctx context.Context, workspaceID int64, resource plan.ResourceType) (int64, error) {
	return s.usage.Get(ctx, usage.ScopeWorkspace, workspaceID, usage.PeriodFor(resource, s.now()), resource)
}

// CheckQuota reports whether adding delta to currentUsage would exceed the
// workspace's limit.
func (s *QuotaService) CheckQuota(ctx context.Context, workspaceID int64, resource plan.ResourceType, currentUsage, delta int64) (*Check, error) {
	limit, err := s.Limit(ctx, workspaceID, resource)
	if err != nil {
		return nil, err
	}
	c := Evaluate(resource, limit, currentUsage, delta)
	return &c, nil
}

// EnforceQuota applies the policy around CheckQuota: deny with a suggestion
// when exceeded, warn past 90%, and allow on any internal error.
func (s *QuotaService) EnforceQuota(ctx context.Context, workspaceID int64, resource plan.ResourceType, currentUsage, delta int64) *Decision {
	check, err := s.CheckQuota(ctx, workspaceID, resource, currentUsage, delta)
	if err != nil {
		s.logger.Error("quota check failed, allowing request",
			zap.Int64("workspace_id", workspaceID),
			zap.String("resource", string(resource)),
			zap.Error(err),
		)
		s.observe(resource, "fail_open")
		return &Decision{Allowed: true, FailOpen: true}
	}

	if check.Exceeded {
		s.logger.Info("quota exceeded",
			zap.Int64("workspace_id", workspaceID),
			zap.String("resource", string(resource)),
			zap.Int64("current", check.Current),
			zap.Int64("requested", check.Requested),
			zap.Int64("limit", check.Limit),
		)
		s.observe(resource, "denied")
		return &Decision{Allowed: false, Suggestion: Suggestion(resource), Check: check}
	}

	d := &Decision{Allowed: true, Check: check}
	if check.PercentUsed >= WarningThreshold {
		d.Warning = true
		s.logger.Warn("quota nearly exhausted",
			zap.Int64("workspace_id", workspaceID),
			zap.String("resource", string(resource)),
			zap.Float64("percent_used", check.PercentUsed),
		)
		s.observe(resource, "warning")
	} else {
		s.observe(resource, "allowed")
	}
	return d
}

// Consume increments the counter if and only if the result stays within the
// limit, in a single statement. Returns ErrQuotaExceeded otherwise. When the
// plan cannot be resolved the usage is still recorded and the call succeeds.
func (s *QuotaService) Consume(ctx context.Context, workspaceID int64, resource plan.ResourceType, delta int64) (int64, error) {
	limit, err := s.Limit(ctx, workspaceID, resource)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrInvalidInput) {
			return 0, err
		}
		s.logger.Warn("plan resolution failed, consuming without a limit",
			zap.Int64("workspace_id", workspaceID),
			zap.String("resource", string(resource)),
			zap.Error(err),
		)
		s.observe(resource, "fail_open")
		limit = plan.Unlimited
	}
	used, err := s.usage.TryConsume(ctx, usage.ScopeWorkspace, workspaceID, usage.PeriodFor(resource, s.now()), resource, delta, limit)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrQuotaExceeded) {
			s.observe(resource, "denied")
			return 0, fmt.Errorf("%s: %w", Suggestion(resource), xerrors.ErrQuotaExceeded)
		}
		return 0, err
	}
	s.observe(resource, "consumed")
	return used, nil
}

// Meter records usage that already happened. Going over the limit is logged,
// not refused, and errors never reach the caller.
func (s *QuotaService) Meter(ctx context.Context, workspaceID int64, resource plan.ResourceType, delta int64) {
	if delta <= 0 {
		return
	}
	_, err := s.Consume(ctx, workspaceID, resource, delta)
	if err == nil {
		return
	}
	if xerrors.Is(err, xerrors.ErrQuotaExceeded) {
		s.logger.Warn("usage recorded over quota",
			zap.Int64("workspace_id", workspaceID),
			zap.String("resource", string(resource)),
			zap.Int64("delta", delta),
		)
	} else {
		s.logger.Warn("quota lookup failed while metering", zap.Int64("workspace_id", workspaceID), zap.String("resource", string(resource)), zap.Error(err))
	}

	if _, err := s.usage.TryConsume(ctx, usage.ScopeWorkspace, workspaceID, usage.PeriodFor(resource, s.now()), resource, delta, plan.Unlimited); err != nil {
		s.logger.Error("failed to record usage", zap.Int64("workspace_id", workspaceID), zap.Error(err))
	}
}

// Release gives usage back, e.g. when an upload is aborted.
func (s *QuotaService) Release(ctx context.Context, workspaceID int64, resource plan.ResourceType, delta int64) error {
	return s.usage.Release(ctx, usage.ScopeWorkspace, workspaceID, usage.PeriodFor(resource, s.now()), resource, delta)
}

type ResourceUsage struct {
	Resource    plan.ResourceType `json:"resource"`
	Period      string            `json:"period"`
	Used        int64             `json:"used"`
	Limit       int64             `json:"limit"`
	PercentUsed float64           `json:"percent_used"`
}

type Summary struct {
	WorkspaceID int64               `json:"workspace_id"`
	Plan        *plan.EffectivePlan `json:"plan"`
	Resources   []ResourceUsage     `json:"resources"`
}

// Usage summarises every metered resource of a workspace.
func (s *QuotaService) Usage(ctx context.Context, workspaceID int64) (*Summary, error) {
	ep, err := s.resolver.WorkspaceLimits(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace plan: %w", err)
	}

	now := s.now()
	periods := map[string]bool{}
	for _, r := range plan.AllResources {
		periods[usage.PeriodFor(r, now)] = true
	}
	keys := make([]string, 0, len(periods))
	for p := range periods {
		keys = append(keys, p)
	}

	counters, err := s.usage.ListForScope(ctx, usage.ScopeWorkspace, workspaceID, keys)
	if err != nil {
		return nil, err
	}
	used := map[string]int64{}
	for _, c := range counters {
		used[string(c.Resource)+"|"+c.Period] = c.Used
	}

	summary := &Summary{WorkspaceID: workspaceID, Plan: ep}
	for _, r := range plan.AllResources {
		period := usage.PeriodFor(r, now)
		limit, _ := ep.Limits.LimitFor(r)
		current := used[string(r)+"|"+period]
		c := Evaluate(r, limit, current, 0)
		summary.Resources = append(summary.Resources, ResourceUsage{
			Resource:    r,
			Period:      period,
			Used:        current,
			Limit:       limit,
			PercentUsed: c.PercentUsed,
		})
	}
	return summary, nil
}

func (s *QuotaService) observe(resource plan.ResourceType, decision string) {
	if s.metrics == nil {
		return
	}
	s.metrics.QuotaDecisions.WithLabelValues(string(resource), decision).Inc()
}
