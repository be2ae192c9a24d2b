// internal/catalog/catalog.go
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"audiotricks-service/internal/domain/payment"
	"audiotricks-service/internal/domain/plan"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// Catalog is the seed document: plans, hierarchy rules and currency rates.
type Catalog struct {
	Plans      []PlanSeed     `yaml:"plans"`
	Rules      []RuleSeed     `yaml:"hierarchy_rules"`
	Currencies []CurrencySeed `yaml:"currencies"`
}

type PlanSeed struct {
	Code          string          `yaml:"code"`
	Version       int             `yaml:"version"`
	Name          string          `yaml:"name"`
	Description   string          `yaml:"description"`
	Category      plan.Category   `yaml:"category"`
	Inactive      bool            `yaml:"inactive"`
	IsDefault     bool            `yaml:"is_default"`
	IsPublic      bool            `yaml:"is_public"`
	PriceCents    int64           `yaml:"price_cents"`
	Currency      string          `yaml:"currency"`
	BillingCycle  string          `yaml:"billing_cycle"`
	StripePriceID string          `yaml:"stripe_price_id"`
	Limits        plan.PlanLimits `yaml:"limits"`
}

type RuleSeed struct {
	Name            string          `yaml:"name"`
	Strategy        plan.Strategy   `yaml:"strategy"`
	Priority        int             `yaml:"priority"`
	Roles           []string        `yaml:"roles"`
	WorkspaceTypes  []string        `yaml:"workspace_types"`
	PlanCategories  []plan.Category `yaml:"plan_categories"`
	ComparisonField string          `yaml:"comparison_field"`
	Disabled        bool            `yaml:"disabled"`
	Description     string          `yaml:"description"`
}

type CurrencySeed struct {
	Code      string  `yaml:"code"`
	Name      string  `yaml:"name"`
	Symbol    string  `yaml:"symbol"`
	RateToUSD float64 `yaml:"rate_to_usd"`
	Inactive  bool    `yaml:"inactive"`
}

// Load reads the catalog at path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
		}
		data = b
	}
	return Parse(data)
}

// Parse decodes and validates a catalog document. Unknown keys are rejected.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) Validate() error {
	defaults := 0
	seen := make(map[string]bool)
	for _, p := range c.Plans {
		if p.Code == "" || p.Name == "" {
			return fmt.Errorf("catalog plan needs code and name")
		}
		if p.Version < 1 {
			return fmt.Errorf("catalog plan %s: version must be at least 1", p.Code)
		}
		key := fmt.Sprintf("%s@%d", p.Code, p.Version)
		if seen[key] {
			return fmt.Errorf("catalog plan %s listed twice", key)
		}
		seen[key] = true
		if p.IsDefault && !p.Inactive {
			defaults++
		}
	}
	if len(c.Plans) > 0 && defaults != 1 {
		return fmt.Errorf("catalog must mark exactly one active plan as default, found %d", defaults)
	}

	for _, r := range c.Rules {
		if r.Name == "" {
			return fmt.Errorf("catalog rule needs a name")
		}
		if !r.Strategy.Valid() {
			return fmt.Errorf("catalog rule %s: unknown strategy %q", r.Name, r.Strategy)
		}
		if r.ComparisonField != "" {
			if _, ok := (plan.PlanLimits{}).Field(r.ComparisonField); !ok {
				return fmt.Errorf("catalog rule %s: unknown comparison field %q", r.Name, r.ComparisonField)
			}
		}
	}

	for _, cur := range c.Currencies {
		if len(cur.Code) != 3 {
			return fmt.Errorf("catalog currency %q: code must be three letters", cur.Code)
		}
		if cur.RateToUSD <= 0 {
			return fmt.Errorf("catalog currency %s: rate_to_usd must be positive", cur.Code)
		}
	}
	return nil
}

// ========== Seeding ==========

type PlanWriter interface {
	Upsert(ctx context.Context, p *plan.Plan) error
}

type RuleWriter interface {
	Upsert(ctx context.Context, r *plan.HierarchyRule) error
}

type CurrencyWriter interface {
	Upsert(ctx context.Context, c *payment.Currency) error
}

type Seeder struct {
	plans      PlanWriter
	rules      RuleWriter
	currencies CurrencyWriter
	logger     *zap.Logger
}

func NewSeeder(plans PlanWriter, rules RuleWriter, currencies CurrencyWriter, logger *zap.Logger) *Seeder {
	return &Seeder{plans: plans, rules: rules, currencies: currencies, logger: logger}
}

// Seed upserts every catalog entry by its natural key; running it twice is a no-op.
func (s *Seeder) Seed(ctx context.Context, c *Catalog) error {
	for _, ps := range c.Plans {
		if err := s.plans.Upsert(ctx, ps.toPlan()); err != nil {
			return err
		}
	}
	for _, rs := range c.Rules {
		if err := s.rules.Upsert(ctx, rs.toRule()); err != nil {
			return err
		}
	}
	for _, cs := range c.Currencies {
		if err := s.currencies.Upsert(ctx, cs.toCurrency()); err != nil {
			return err
		}
	}

	s.logger.Info("catalog seeded",
		zap.Int("plans", len(c.Plans)),
		zap.Int("rules", len(c.Rules)),
		zap.Int("currencies", len(c.Currencies)),
	)
	return nil
}

func (ps PlanSeed) toPlan() *plan.Plan {
	p := &plan.Plan{
		Code:         ps.Code,
		Version:      ps.Version,
		Name:         ps.Name,
		Description:  ps.Description,
		Category:     ps.Category,
		Status:       plan.StatusActive,
		IsDefault:    ps.IsDefault,
		IsPublic:     ps.IsPublic,
		PriceCents:   ps.PriceCents,
		Currency:     strings.ToUpper(ps.Currency),
		BillingCycle: ps.BillingCycle,
		Limits:       ps.Limits,
	}
	if ps.Inactive {
		p.Status = plan.StatusInactive
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	if p.BillingCycle == "" {
		p.BillingCycle = "monthly"
	}
	if ps.StripePriceID != "" {
		id := ps.StripePriceID
		p.StripePriceID = &id
	}
	return p
}

func (rs RuleSeed) toRule() *plan.HierarchyRule {
	return &plan.HierarchyRule{
		Name:            rs.Name,
		Strategy:        rs.Strategy,
		Priority:        rs.Priority,
		Roles:           rs.Roles,
		WorkspaceTypes:  rs.WorkspaceTypes,
		PlanCategories:  rs.PlanCategories,
		ComparisonField: rs.ComparisonField,
		IsActive:        !rs.Disabled,
		Description:     rs.Description,
	}
}

func (cs CurrencySeed) toCurrency() *payment.Currency {
	return &payment.Currency{
		Code:      strings.ToUpper(cs.Code),
		Name:      cs.Name,
		Symbol:    cs.Symbol,
		RateToUSD: cs.RateToUSD,
		IsActive:  !cs.Inactive,
	}
}
