package factory

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/benefit-engine/benefit"
)

// =============================================================================
// CATALOG - YAML seed of programs, rules, beneficiaries and areas
// =============================================================================
//
// programs:
//   - id: limestone
//     name: Limestone subsidy
//     category: soil
//     active: true
//     rules:
//       - id: limestone-small
//         kind: AreaBased
//         unit_value: 100
//         condition: {comparator: between, min: 0, max: 6, unit: alqueire}
//         limit: {kind: quantity, ceiling: 10, unit: ton, period: {months: 6}}
// beneficiaries:
//   - id: ben-1
//     name: Jose da Silva
//     category: family_farmer
//     areas:
//       - {year: 2024, owned: 5, lease_received: 1, lease_ceded: 1.5}

type Catalog struct {
	Programs      []ProgramYAML     `yaml:"programs"`
	Beneficiaries []BeneficiaryYAML `yaml:"beneficiaries"`
}

type ProgramYAML struct {
	ID       string     `yaml:"id"`
	Name     string     `yaml:"name"`
	Category string     `yaml:"category"`
	Active   *bool      `yaml:"active"`
	Rules    []RuleJSON `yaml:"rules"`
}

type BeneficiaryYAML struct {
	ID              string          `yaml:"id"`
	Name            string          `yaml:"name"`
	Document        string          `yaml:"document"`
	Category        string          `yaml:"category"`
	DeclaredRevenue decimal.Decimal `yaml:"declared_revenue"`
	Areas           []AreaYAML      `yaml:"areas"`
}

type AreaYAML struct {
	Year          int             `yaml:"year"`
	Owned         decimal.Decimal `yaml:"owned"`
	LeaseReceived decimal.Decimal `yaml:"lease_received"`
	LeaseCeded    decimal.Decimal `yaml:"lease_ceded"`
	Unit          string          `yaml:"unit"`
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	return &c, nil
}

// LoadCatalogFile reads and decodes a catalog file.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// SeedResult counts what Seed wrote.
type SeedResult struct {
	Programs      int
	Rules         int
	Beneficiaries int
	Areas         int
}

// Seed writes the catalog into store. Rules are saved in document order,
// which becomes their evaluation order. The whole catalog is validated
// before the first write, so a bad seed fails loudly at startup and leaves
// the store untouched.
func (c *Catalog) Seed(ctx context.Context, store benefit.CatalogStore, now time.Time) (SeedResult, error) {
	var res SeedResult
	rules, err := c.validate()
	if err != nil {
		return res, err
	}

	for i, py := range c.Programs {
		active := true
		if py.Active != nil {
			active = *py.Active
		}
		if err := store.SaveProgram(ctx, benefit.Program{
			ID:        benefit.ProgramID(py.ID),
			Name:      py.Name,
			Category:  py.Category,
			Active:    active,
			CreatedAt: now,
		}); err != nil {
			return res, fmt.Errorf("failed to save program %s: %w", py.ID, err)
		}
		res.Programs++

		for _, rule := range rules[i] {
			if err := store.SaveRule(ctx, rule); err != nil {
				return res, fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
			}
			res.Rules++
		}
	}

	for _, by := range c.Beneficiaries {
		id := benefit.BeneficiaryID(by.ID)
		if err := store.SaveBeneficiary(ctx, benefit.Beneficiary{
			ID:              id,
			Name:            by.Name,
			Document:        by.Document,
			Category:        by.Category,
			DeclaredRevenue: by.DeclaredRevenue,
			CreatedAt:       now,
		}); err != nil {
			return res, fmt.Errorf("failed to save beneficiary %s: %w", by.ID, err)
		}
		res.Beneficiaries++

		for _, ay := range by.Areas {
			unit := benefit.Unit(ay.Unit)
			if unit == "" {
				unit = benefit.UnitAlqueire
			}
			if err := store.SaveEffectiveArea(ctx, benefit.EffectiveArea{
				BeneficiaryID: id,
				Year:          ay.Year,
				Owned:         ay.Owned,
				LeaseReceived: ay.LeaseReceived,
				LeaseCeded:    ay.LeaseCeded,
				Unit:          unit,
			}); err != nil {
				return res, fmt.Errorf("failed to save area %s/%d: %w", by.ID, ay.Year, err)
			}
			res.Areas++
		}
	}
	return res, nil
}

// validate checks every id and decodes every rule, returning the rules per
// program in document order.
func (c *Catalog) validate() ([][]benefit.Rule, error) {
	f := NewRuleFactory()
	rules := make([][]benefit.Rule, len(c.Programs))
	for i, py := range c.Programs {
		if py.ID == "" {
			return nil, fmt.Errorf("%w: program id is required", benefit.ErrInvalidInput)
		}
		for _, rj := range py.Rules {
			rj.ProgramID = py.ID
			rule, err := f.FromJSON(rj)
			if err != nil {
				return nil, fmt.Errorf("program %s: %w", py.ID, err)
			}
			if err := rule.Validate(); err != nil {
				return nil, fmt.Errorf("program %s: %w", py.ID, err)
			}
			rules[i] = append(rules[i], rule)
		}
	}
	for _, by := range c.Beneficiaries {
		if by.ID == "" {
			return nil, fmt.Errorf("%w: beneficiary id is required", benefit.ErrInvalidInput)
		}
	}
	return rules, nil
}
