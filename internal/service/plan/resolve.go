// internal/service/plan/resolve.go
package plan

import (
	"fmt"
	"sort"

	"audiotricks-service/internal/domain/plan"
)

const (
	// DefaultRuleName names the rule applied when no stored rule matches.
	DefaultRuleName = "default"

	// DefaultComparisonField is used by highest_plan/most_permissive rules
	// that leave comparison_field empty.
	DefaultComparisonField = "max_transcriptions_per_month"

	noneFilter = "none"
)

var defaultRule = &plan.HierarchyRule{
	Name:            DefaultRuleName,
	Strategy:        plan.StrategyUserOverrides,
	ComparisonField: DefaultComparisonField,
	IsActive:        true,
}

// ResolutionInput is everything resolution looks at. The Resolver fills it
// from the store; tests build it by hand.
type ResolutionInput struct {
	UserID        int64
	WorkspaceID   *int64
	WorkspaceType string // empty without a workspace
	MemberRole    string // empty without a workspace

	UserPlan      *plan.Plan // plan of the active user subscription
	UserSubType   plan.SubscriptionType
	WorkspacePlan *plan.Plan // plan of the active workspace subscription
	OverridePlan  *plan.Plan // plan stamped on the membership by the owner
}

type candidate struct {
	plan   *plan.Plan
	source plan.Source
}

func (in ResolutionInput) candidates() []candidate {
	var cs []candidate
	// Order is the tie-break preference.
	if in.UserPlan != nil {
		cs = append(cs, candidate{in.UserPlan, plan.SourceUserSubscription})
	}
	if in.OverridePlan != nil {
		cs = append(cs, candidate{in.OverridePlan, plan.SourceOwnerOverride})
	}
	if in.WorkspacePlan != nil {
		cs = append(cs, candidate{in.WorkspacePlan, plan.SourceWorkspaceSubscription})
	}
	return cs
}

// Resolve picks the effective plan. It is a pure function: the first active
// rule (by priority, then id) whose filters match decides, and anything the
// rule leaves undecided falls back to workspace subscription, then user
// subscription, then the free default plan.
func Resolve(in ResolutionInput, rules []*plan.HierarchyRule, free *plan.Plan) (*plan.EffectivePlan, error) {
	if free == nil {
		return nil, fmt.Errorf("no free default plan configured")
	}

	cands := in.candidates()
	rule := selectRule(rules, in, cands, free)

	switch rule.Strategy {
	case plan.StrategyUserOverrides:
		if in.UserPlan != nil {
			return effective(in.UserPlan, plan.SourceUserSubscription, rule,
				fmt.Sprintf("rule %q: active %s subscription takes precedence", rule.Name, subTypeOrPersonal(in.UserSubType))), nil
		}

	case plan.StrategyWorkspaceOverrides:
		if in.OverridePlan != nil {
			return effective(in.OverridePlan, plan.SourceOwnerOverride, rule,
				fmt.Sprintf("rule %q: workspace owner assigned plan %s", rule.Name, in.OverridePlan.Code)), nil
		}

	case plan.StrategyHighestPlan:
		if best, ok := highest(cands, comparisonField(rule)); ok {
			return effective(best.plan, best.source, rule,
				fmt.Sprintf("rule %q: %s has the highest %s", rule.Name, best.plan.Code, comparisonField(rule))), nil
		}

	case plan.StrategyMostPermissive:
		if best, ok := highest(cands, comparisonField(rule)); ok {
			ep := effective(best.plan, best.source, rule,
				fmt.Sprintf("rule %q: most permissive limits across %d plans", rule.Name, len(cands)))
			for _, c := range cands {
				ep.Limits = ep.Limits.Merge(c.plan.Limits)
			}
			return ep, nil
		}
	}

	return fallback(in, rule, free), nil
}

func fallback(in ResolutionInput, rule *plan.HierarchyRule, free *plan.Plan) *plan.EffectivePlan {
	if in.WorkspacePlan != nil {
		return effective(in.WorkspacePlan, plan.SourceWorkspaceSubscription, rule,
			fmt.Sprintf("rule %q undecided: falling back to workspace subscription", rule.Name))
	}
	if in.UserPlan != nil {
		return effective(in.UserPlan, plan.SourceUserSubscription, rule,
			fmt.Sprintf("rule %q undecided: falling back to user subscription", rule.Name))
	}
	return effective(free, plan.SourceFreeDefault, rule, "no active subscription: free default plan")
}

func effective(p *plan.Plan, src plan.Source, rule *plan.HierarchyRule, reason string) *plan.EffectivePlan {
	return &plan.EffectivePlan{
		PlanID:   p.ID,
		PlanCode: p.Code,
		PlanName: p.Name,
		Category: p.Category,
		Source:   src,
		Rule:     rule.Name,
		Limits:   p.Limits,
		Reason:   reason,
	}
}

// highest returns the candidate with the greatest value of field. Earlier
// candidates win ties, so the user subscription is preferred.
func highest(cands []candidate, field string) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}
	best := cands[0]
	bestVal, _ := best.plan.Limits.Field(field)
	for _, c := range cands[1:] {
		v, _ := c.plan.Limits.Field(field)
		if plan.CompareLimits(v, bestVal) > 0 {
			best, bestVal = c, v
		}
	}
	return best, true
}

func comparisonField(rule *plan.HierarchyRule) string {
	if _, ok := (plan.PlanLimits{}).Field(rule.ComparisonField); ok {
		return rule.ComparisonField
	}
	return DefaultComparisonField
}

func subTypeOrPersonal(t plan.SubscriptionType) plan.SubscriptionType {
	if t == "" {
		return plan.SubscriptionPersonal
	}
	return t
}

// selectRule returns the single rule that applies. Rules are evaluated in
// ascending priority (id breaks ties); inactive rules are skipped.
func selectRule(rules []*plan.HierarchyRule, in ResolutionInput, cands []candidate, free *plan.Plan) *plan.HierarchyRule {
	ordered := make([]*plan.HierarchyRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive && r.Strategy.Valid() {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	role := in.MemberRole
	if role == "" {
		role = noneFilter
	}
	wsType := in.WorkspaceType
	if wsType == "" {
		wsType = noneFilter
	}

	categories := map[plan.Category]bool{}
	for _, c := range cands {
		categories[c.plan.Category] = true
	}
	if len(categories) == 0 && free != nil {
		categories[free.Category] = true
	}

	for _, r := range ordered {
		if !matches(r.Roles, role) || !matches(r.WorkspaceTypes, wsType) {
			continue
		}
		if len(r.PlanCategories) > 0 {
			hit := false
			for _, c := range r.PlanCategories {
				if categories[c] {
					hit = true
					break
				}
			}
			if !hit {
				continue
			}
		}
		return r
	}
	return defaultRule
}

// matches treats an empty filter as a wildcard.
func matches(filter []string, value string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == value {
			return true
		}
	}
	return false
}
